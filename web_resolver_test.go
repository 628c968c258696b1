package cfddns_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/Travis-Britz/cfddns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func servers(t *testing.T, bodies ...string) []string {
	t.Helper()
	var srvs []string
	for _, body := range bodies {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, body)
		}))
		t.Cleanup(srv.Close)
		srvs = append(srvs, srv.URL)
	}
	return srvs
}

func TestLookup(t *testing.T) {
	wr, err := cfddns.WebResolver(servers(t, "192.168.2.1\n")...)
	require.NoError(t, err)
	res, err := wr.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Request failed: %s", err)
	}

	if expected, got := netip.MustParseAddr("192.168.2.1"), res; expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}
}

func TestLookupTrace(t *testing.T) {
	trace := "fl=29f1\nh=1.1.1.1\nip=2001:db8::42\nts=1700000000.1\nvisit_scheme=https\ncolo=AMS\n"
	wr, err := cfddns.WebResolver(servers(t, trace)...)
	require.NoError(t, err)
	res, err := wr.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8::42"), res)
}

func TestLookupNoCache(t *testing.T) {
	header := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header <- r.Header.Get("Cache-Control")
		io.WriteString(w, "ip=203.0.113.10")
	}))
	defer srv.Close()
	wr, err := cfddns.WebResolver(srv.URL)
	require.NoError(t, err)
	_, err = wr.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no-cache", <-header)
}

func TestLookupBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "203.0.113.10", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	wr, err := cfddns.WebResolver(srv.URL)
	require.NoError(t, err)
	_, err = wr.Resolve(context.Background())
	var netErr *cfddns.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestWebResolverRejectsURLs(t *testing.T) {
	_, err := cfddns.WebResolver()
	assert.Error(t, err)
	_, err = cfddns.WebResolver("ftp://example.com/ip")
	assert.Error(t, err)
}

func TestMismatch(t *testing.T) {
	wr, err := cfddns.WebResolver(servers(t, "192.168.2.1", "10.0.0.10", "127.0.0.1")...)
	require.NoError(t, err)
	res, err := wr.Resolve(context.Background())
	if err == nil {
		t.Fatalf("Expected error response; got err == nil")
	}
	if res.IsValid() {
		t.Fatalf("Expected zero address; got %s", res)
	}
}

func TestMajorityAfterOutlier(t *testing.T) {
	answer := func(body string, delay time.Duration) string {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(delay)
			io.WriteString(w, body)
		}))
		t.Cleanup(srv.Close)
		return srv.URL
	}
	// the outlier answers first
	wr, err := cfddns.WebResolver(
		answer("10.0.0.1", 0),
		answer("192.168.2.1", 50*time.Millisecond),
		answer("192.168.2.1", 100*time.Millisecond),
	)
	require.NoError(t, err)
	res, err := wr.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.2.1"), res)
}

func TestOneFailure(t *testing.T) {
	wr, err := cfddns.WebResolver(servers(t, "192.168.2.1", "invalid ip", "192.168.2.1")...)
	require.NoError(t, err)
	res, err := wr.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	if expected, got := netip.MustParseAddr("192.168.2.1"), res; expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}
}

func TestTwoFailures(t *testing.T) {
	wr, err := cfddns.WebResolver(servers(t, "192.168.2.1", "a", "a")...)
	require.NoError(t, err)
	res, err := wr.Resolve(context.Background())
	if err == nil {
		t.Fatalf("Expected error response; got err == nil")
	}
	if res.IsValid() {
		t.Fatalf("Expected zero address; got %s", res)
	}
	var netErr *cfddns.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestConcurrency(t *testing.T) {
	var srvs []string
	for i := 0; i < 3; i++ {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			io.WriteString(w, "192.168.2.1")
		}))
		defer srv.Close()
		srvs = append(srvs, srv.URL)
	}
	wr, err := cfddns.WebResolver(srvs...)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 125*time.Millisecond)
	defer cancel()
	res, err := wr.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	if expected, got := netip.MustParseAddr("192.168.2.1"), res; expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}
}

func TestHitCount(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		// forcing every request to fail should prevent early returns with in-flight requests
		io.WriteString(w, "invalid ip")
		mu.Unlock()
	}))
	defer srv.Close()

	for n := 1; n <= 5; n++ {
		urls := make([]string, n)
		for i := range urls {
			urls[i] = srv.URL
		}
		wr, err := cfddns.WebResolver(urls...)
		require.NoError(t, err)

		mu.Lock()
		hits = 0
		mu.Unlock()
		_, err = wr.Resolve(context.Background())
		if err == nil {
			t.Fatalf("Expected an error; got err == nil")
		}
		mu.Lock()
		h := hits
		mu.Unlock()
		if want := min(n, 3); h != want {
			t.Fatalf("Expected %d hits; got %d", want, h)
		}
	}
}
