package cfddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/samber/lo"
)

// apiTimeout bounds a single call to the Cloudflare API.
const apiTimeout = 30 * time.Second

func newCloudflareProvider(auth Credentials, opts ...cloudflare.Option) (cf *cloudflareProvider, err error) {
	// the reconciliation loop owns retries: a failed call is retried by the next pass
	opts = append([]cloudflare.Option{
		cloudflare.UsingRetryPolicy(0, 0, 0),
		cloudflare.HTTPClient(&http.Client{Timeout: apiTimeout}),
	}, opts...)

	cf = new(cloudflareProvider)
	token, err := auth.Token()
	if err != nil {
		return nil, err
	}
	switch {
	case token != "":
		cf.usesToken = true
		cf.api, err = cloudflare.NewWithAPIToken(token, opts...)
	case auth.APIKey != nil:
		cf.api, err = cloudflare.New(auth.APIKey.Key, auth.APIKey.Email, opts...)
	default:
		return nil, configErr("auth", "either api_token, api_token_file or api_key is required")
	}
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return cf, nil
}

// cloudflareProvider implements cfddns.Provider and cfddns.ZoneVerifier.
//
// It should be constructed using UsingCloudflare.
type cloudflareProvider struct {
	api       *cloudflare.API
	usesToken bool
}

func (cf *cloudflareProvider) SetHTTPClient(c *http.Client) {
	cloudflare.HTTPClient(c)(cf.api)
}

// Verify checks that an API token is active and returns the name of the zone.
// API key credentials have no verify endpoint; the zone lookup is what proves them.
func (cf *cloudflareProvider) Verify(ctx context.Context, zone string) (string, error) {
	if cf.usesToken {
		result, err := cf.api.VerifyAPIToken(ctx)
		if err != nil {
			return "", classify("verify API token", err)
		}
		if result.Status != "active" {
			return "", &APIError{Op: "verify API token", Err: fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)}
		}
	}
	z, err := cf.api.ZoneDetails(ctx, zone)
	if err != nil {
		return "", classify("get zone details", err)
	}
	if z.Name == "" {
		return "", &APIError{Op: "get zone details", Err: errors.New("response did not include a zone name")}
	}
	return z.Name, nil
}

func (cf *cloudflareProvider) ListRecords(ctx context.Context, zone, recordType string, names []string) (map[string]Record, error) {
	params := cloudflare.ListDNSRecordsParams{Type: recordType}
	if len(names) == 1 {
		params.Name = names[0]
	}
	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zone), params)
	if err != nil {
		return nil, classify("list DNS records", err)
	}

	wanted := lo.SliceToMap(names, func(n string) (string, bool) { return normalizeName(n), true })
	found := make(map[string]Record, len(names))
	for _, r := range records {
		name := normalizeName(r.Name)
		if !wanted[name] || !strings.EqualFold(r.Type, recordType) {
			continue
		}
		// the first match wins if a name has several records of the same type
		if _, dup := found[name]; dup {
			continue
		}
		found[name] = Record{
			ID:      r.ID,
			Name:    r.Name,
			Type:    r.Type,
			Content: r.Content,
			Proxied: r.Proxied != nil && *r.Proxied,
			TTL:     r.TTL,
		}
	}
	return found, nil
}

func (cf *cloudflareProvider) UpdateRecord(ctx context.Context, zone, recordID string, u RecordUpdate) error {
	proxied := u.Proxied
	_, err := cf.api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zone), cloudflare.UpdateDNSRecordParams{
		ID:      recordID,
		Type:    u.Type,
		Name:    u.Name,
		Content: u.Content,
		Proxied: &proxied,
		TTL:     u.TTL,
	})
	if err != nil {
		return classify("update DNS record "+recordID, err)
	}
	return nil
}

// classify separates transport failures from error responses returned by the API.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &NetworkError{Op: op, Err: err}
	}
	return &APIError{Op: op, Err: err}
}
