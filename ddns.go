package cfddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/cloudflare/cloudflare-go"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type Resolver interface {
	Resolve(context.Context) (netip.Addr, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(context.Context) (netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) (netip.Addr, error) { return f(ctx) }

// Record is a DNS record as the provider reports it.
type Record struct {
	ID      string
	Name    string
	Type    string
	Content string
	Proxied bool
	TTL     int
}

// RecordUpdate carries the full desired state of a record being updated.
type RecordUpdate struct {
	Name    string
	Type    string
	Content string
	Proxied bool
	TTL     int
}

// Provider lists and updates existing records of a zone.
//
// ListRecords returns the records of recordType whose names are in names, keyed by lower-case name.
// Names without a record are simply absent from the map.
type Provider interface {
	ListRecords(ctx context.Context, zone, recordType string, names []string) (map[string]Record, error)
	UpdateRecord(ctx context.Context, zone, recordID string, update RecordUpdate) error
}

// ZoneVerifier is implemented by providers that can check credentials and look up the zone name.
type ZoneVerifier interface {
	Verify(ctx context.Context, zone string) (zoneName string, err error)
}

type DDNSClient interface {
	RunDDNS(ctx context.Context) (Summary, error)
}

// New constructs a Client for the zone and records in cfg.
// It does not make any network calls; see [Client.Verify].
func New(cfg *Config, options ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("cfddns.New: config cannot be nil")
	}
	if len(cfg.Records) == 0 {
		return nil, errors.New("cfddns.New: no records configured")
	}
	c := &Client{
		zone:    cfg.ZoneID,
		records: cfg.Records,
		logger:  zerolog.Nop(),
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("cfddns.New: option %d returned an error: %w", i, err)
		}
	}
	if c.Provider == nil {
		return nil, errors.New("cfddns.New: no DNS provider was registered - use cfddns.UsingCloudflare or cfddns.UsingProvider")
	}
	if c.Resolver == nil {
		r, err := ResolverFromConfig(cfg.IP)
		if err != nil {
			return nil, fmt.Errorf("cfddns.New: %w", err)
		}
		c.Resolver = r
	}
	// applied last so the order of UsingHTTPClient and the provider/resolver options does not matter
	if c.httpClient != nil {
		type setHTTPClient interface {
			SetHTTPClient(*http.Client)
		}
		if hc, ok := c.Resolver.(setHTTPClient); ok {
			hc.SetHTTPClient(c.httpClient)
		}
		if hc, ok := c.Provider.(setHTTPClient); ok {
			hc.SetHTTPClient(c.httpClient)
		}
	}
	c.names = lo.Map(c.records, func(r RecordConfig, _ int) string { return normalizeName(r.Name) })
	return c, nil
}

// Option configures a Client constructed by New.
type Option func(*Client) error

// UsingCloudflare registers the Cloudflare API as the DNS provider.
// Extra cloudflare-go options, such as cloudflare.BaseURL, are passed through to the API client.
func UsingCloudflare(auth Credentials, opts ...cloudflare.Option) Option {
	return func(c *Client) (err error) {
		p, err := newCloudflareProvider(auth, opts...)
		if err != nil {
			return fmt.Errorf("cfddns.UsingCloudflare: error creating cloudflare DNS provider: %w", err)
		}
		c.Provider = p
		return nil
	}
}

func UsingProvider(p Provider) Option {
	return func(c *Client) error {
		if p == nil {
			return errors.New("provider cannot be nil")
		}
		c.Provider = p
		return nil
	}
}

func UsingResolver(resolver Resolver) Option {
	return func(c *Client) error {
		c.Resolver = resolver
		return nil
	}
}

func UsingWebResolver(serviceURL ...string) Option {
	return func(c *Client) (err error) {
		c.Resolver, err = WebResolver(serviceURL...)
		return err
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

func UsingHTTPClient(httpclient *http.Client) Option {
	return func(c *Client) error {
		if httpclient == nil {
			httpclient = http.DefaultClient
		}
		c.httpClient = httpclient
		return nil
	}
}

// Client reconciles the configured records of one zone against the resolved public IP.
type Client struct {
	Resolver
	Provider
	logger     zerolog.Logger
	httpClient *http.Client
	zone       string
	zoneName   string
	records    []RecordConfig
	names      []string // fully qualified, lower case, parallel to records
}

// Verify checks the provider credentials and expands short record names against the zone name.
// Providers that do not implement ZoneVerifier are skipped and names are used as configured.
func (c *Client) Verify(ctx context.Context) error {
	v, ok := c.Provider.(ZoneVerifier)
	if !ok {
		return nil
	}
	name, err := v.Verify(ctx, c.zone)
	if err != nil {
		return fmt.Errorf("error verifying zone %s: %w", c.zone, err)
	}
	c.zoneName = normalizeName(name)
	c.names = lo.Map(c.records, func(r RecordConfig, _ int) string { return FQDN(r.Name, c.zoneName) })
	c.logger.Info().Str("zone", c.zoneName).Strs("records", c.names).Msg("verified zone")
	return nil
}

// Names returns the record names the client manages, fully qualified once Verify has run.
func (c *Client) Names() []string {
	return append([]string(nil), c.names...)
}

// RunDDNS runs one reconciliation pass.
//
// An error is returned only when the whole pass could not run:
// the public IP could not be resolved or the zone's records could not be listed.
// Per-record failures are counted in the Summary instead.
func (c *Client) RunDDNS(ctx context.Context) (sum Summary, err error) {
	addr, err := c.Resolve(ctx)
	if err != nil {
		return sum, fmt.Errorf("error resolving public IP: %w", err)
	}
	addr = addr.Unmap()
	rtype := recordType(addr)
	c.logger.Info().Stringer("ip", addr).Int("records", len(c.records)).Msg("resolved public IP")

	var pending []int
	for i, rc := range c.records {
		if rc.Type != "" && rc.Type != rtype {
			err := configErr("records["+rc.Name+"].type", "record type %s does not match resolved address %s", rc.Type, addr)
			c.logger.Error().Err(err).Str("record", c.names[i]).Msg("record skipped")
			sum.fail(err)
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		c.logSummary(sum)
		return sum, nil
	}

	names := lo.Map(pending, func(i int, _ int) string { return c.names[i] })
	existing, err := c.ListRecords(ctx, c.zone, rtype, names)
	if err != nil {
		return sum, fmt.Errorf("error listing %s records for zone %s: %w", rtype, c.zone, err)
	}

	for _, i := range pending {
		c.reconcile(ctx, c.records[i], c.names[i], rtype, addr, existing, &sum)
	}
	c.logSummary(sum)
	return sum, nil
}

func (c *Client) reconcile(ctx context.Context, rc RecordConfig, name, rtype string, addr netip.Addr, existing map[string]Record, sum *Summary) {
	log := c.logger.With().Str("record", name).Str("type", rtype).Logger()
	current, found := existing[name]
	if !found {
		err := &RecordNotFoundError{Name: name, Type: rtype}
		log.Error().Err(err).Msg("record skipped")
		sum.fail(err)
		return
	}
	if sameAddr(current.Content, addr) {
		log.Info().Str("ip", current.Content).Msg("already up to date")
		sum.Unchanged++
		return
	}

	update := RecordUpdate{
		Name:    current.Name,
		Type:    rtype,
		Content: addr.String(),
		Proxied: current.Proxied,
		TTL:     current.TTL,
	}
	if rc.Proxied != nil {
		update.Proxied = *rc.Proxied
	}
	if rc.TTL != 0 {
		update.TTL = int(rc.TTL)
	}
	// proxied records always use automatic TTL
	if update.Proxied {
		update.TTL = int(TTLAuto)
	}
	log.Debug().Str("id", current.ID).Bool("proxied", update.Proxied).Int("ttl", update.TTL).Msg("updating record")
	if err := c.UpdateRecord(ctx, c.zone, current.ID, update); err != nil {
		err = fmt.Errorf("error updating %s: %w", name, err)
		log.Error().Err(err).Msg("update failed")
		sum.fail(err)
		return
	}
	log.Info().Str("old", current.Content).Str("new", update.Content).Msg("record updated")
	sum.Updated++
}

func (c *Client) logSummary(sum Summary) {
	ev := c.logger.Info()
	if sum.Failed > 0 {
		ev = c.logger.Warn()
	}
	ev.Int("updated", sum.Updated).Int("unchanged", sum.Unchanged).Int("failed", sum.Failed).Msg("reconciliation pass finished")
}

// Summary counts the outcome of each configured record in one pass.
type Summary struct {
	Updated   int
	Unchanged int
	Failed    int
	Errors    []error
}

func (s *Summary) fail(err error) {
	s.Failed++
	s.Errors = append(s.Errors, err)
}

func (s Summary) Total() int { return s.Updated + s.Unchanged + s.Failed }

// Err joins the per-record errors, or returns nil if every record succeeded.
func (s Summary) Err() error { return errors.Join(s.Errors...) }

func (s Summary) String() string {
	return fmt.Sprintf("updated=%d unchanged=%d failed=%d", s.Updated, s.Unchanged, s.Failed)
}

func recordType(a netip.Addr) string {
	if a.Is4() {
		return "A"
	}
	return "AAAA"
}

func sameAddr(content string, addr netip.Addr) bool {
	current, err := netip.ParseAddr(strings.TrimSpace(content))
	if err != nil {
		return content == addr.String()
	}
	return current.Unmap() == addr
}

// FQDN expands a configured record name against the zone name.
// "@" and the zone name itself refer to the zone apex; names already ending in the zone are kept.
func FQDN(name, zone string) string {
	name = normalizeName(name)
	zone = normalizeName(zone)
	switch {
	case zone == "":
		return name
	case name == "@" || name == "" || name == zone:
		return zone
	case strings.HasSuffix(name, "."+zone):
		return name
	default:
		return name + "." + zone
	}
}

func normalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}
