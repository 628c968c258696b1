package cfddns

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// DefaultIPServiceURL returns the caller's address in Cloudflare's trace format.
const DefaultIPServiceURL = "https://1.1.1.1/cdn-cgi/trace"

const defaultLookupTimeout = 10 * time.Second

// WebResolver constructs a resolver which uses external web services to look up a "public" IP address.
//
// Each serviceURL must speak http and return status "200 OK".
// The body is either in Cloudflare trace format, where the address is on an "ip=" line,
// or has the address alone on its first line.
// All other responses are considered an error.
//
// If only one serviceURL is given,
// then the resolver will simply return the response.
// If multiple are given,
// then the resolver will request from up to three of them and only return successfully if two non-error responses agreed on the IP.
// This approach is taken due to the sensitive nature of having control over DNS records.
//
// The resolver never retries; a failed lookup fails the pass and the next pass tries again.
func WebResolver(serviceURL ...string) (Resolver, error) {
	wr, err := newWebResolver(defaultLookupTimeout, serviceURL...)
	if err != nil {
		return nil, err
	}
	return wr, nil
}

func newWebResolver(timeout time.Duration, serviceURL ...string) (*webResolver, error) {
	if len(serviceURL) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	var URLs []*url.URL
	for _, u := range serviceURL {
		pu, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
		if pu.Scheme != "http" && pu.Scheme != "https" {
			return nil, fmt.Errorf("IP lookup service %q must use http or https", u)
		}
		URLs = append(URLs, pu)
	}
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &webResolver{serviceURLs: URLs, timeout: timeout}, nil
}

type webResolver struct {
	httpClient  *http.Client
	serviceURLs []*url.URL
	timeout     time.Duration
}

func (wr *webResolver) SetHTTPClient(c *http.Client) { wr.httpClient = c }

// Resolve implements cfddns.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	if len(wr.serviceURLs) == 1 {
		return wr.lookup(ctx, wr.serviceURLs[0])
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		addr netip.Addr
		err  error
	}
	useCount := min(len(wr.serviceURLs), 3)
	// buffered so that lookups still in flight after an early return never block
	results := make(chan result, useCount)
	for _, u := range wr.serviceURLs[:useCount] {
		go func(u *url.URL) {
			r := result{}
			r.addr, r.err = wr.lookup(ctx, u)
			results <- r
		}(u)
	}

	resultCount := 0
	var errs []error
	seen := make(map[netip.Addr]int, useCount)
	for i := 0; i < useCount; i++ {
		r := <-results
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		resultCount++
		seen[r.addr]++
		if seen[r.addr] == 2 {
			return r.addr, nil
		}
	}
	if resultCount < 2 {
		return netip.Addr{}, &NetworkError{Op: "resolve public IP", Err: fmt.Errorf("not enough resolvers responded without errors: %w", errors.Join(errs...))}
	}
	return netip.Addr{}, &NetworkError{Op: "resolve public IP", Err: errors.New("IP resolvers did not agree on our IP")}
}

func (wr *webResolver) lookup(ctx context.Context, u *url.URL) (netip.Addr, error) {
	op := "lookup " + u.Redacted()
	ctx, cancel := context.WithTimeout(ctx, wr.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return netip.Addr{}, &NetworkError{Op: op, Err: fmt.Errorf("error creating request: %w", err)}
	}
	req.Header.Set("Cache-Control", "no-cache")

	httpclient := wr.httpClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return netip.Addr{}, &NetworkError{Op: op, Err: fmt.Errorf("http request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, &NetworkError{Op: op, Err: fmt.Errorf("http request returned %s", resp.Status)}
	}

	ip, err := parseIPResponse(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return netip.Addr{}, &NetworkError{Op: op, Err: err}
	}
	return ip, nil
}

// parseIPResponse reads either a trace body ("ip=203.0.113.7" among other key=value lines)
// or a body whose first line is the address.
func parseIPResponse(r io.Reader) (netip.Addr, error) {
	scanner := bufio.NewScanner(r)
	first := ""
	seen := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, ok := strings.CutPrefix(line, "ip="); ok {
			return parseAddr(v)
		}
		if !seen {
			first, seen = line, true
		}
	}
	if err := scanner.Err(); err != nil {
		return netip.Addr{}, fmt.Errorf("error reading response body: %w", err)
	}
	return parseAddr(first)
}

func parseAddr(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	return ip.Unmap(), nil
}
