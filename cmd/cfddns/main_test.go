package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const testZone = "023e105f4ecef8ad9ca31a8372d0c353"

// fakeAPI answers the Cloudflare endpoints the command calls for a zone holding home.example.com.
type fakeAPI struct {
	mu          sync.Mutex
	tokenStatus string
	content     string
	patched     []string
	listed      chan struct{}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	record := map[string]any{"id": "rec1", "type": "A", "name": "home.example.com", "content": f.content, "proxied": false, "ttl": 1}

	switch {
	case r.URL.Path == "/user/tokens/verify":
		writeResult(w, map[string]any{"id": "tok", "status": f.tokenStatus}, nil)
	case r.URL.Path == "/zones/"+testZone:
		writeResult(w, map[string]any{"id": testZone, "name": "example.com"}, nil)
	case r.URL.Path == "/zones/"+testZone+"/dns_records" && r.Method == http.MethodGet:
		var out []map[string]any
		if name := r.URL.Query().Get("name"); name == "" || name == "home.example.com" {
			out = append(out, record)
		}
		writeResult(w, out, map[string]any{"page": 1, "per_page": 100, "count": len(out), "total_count": len(out), "total_pages": 1})
		select {
		case f.listed <- struct{}{}:
		default:
		}
	case r.URL.Path == "/zones/"+testZone+"/dns_records/rec1":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if c, ok := body["content"].(string); ok {
			f.content = c
			f.patched = append(f.patched, c)
		}
		record["content"] = f.content
		writeResult(w, record, nil)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"success":false,"errors":[{"code":7003,"message":"no route for %s %s"}],"messages":[],"result":null}`, r.Method, r.URL.Path)
	}
}

func writeResult(w http.ResponseWriter, result any, info map[string]any) {
	resp := map[string]any{"success": true, "errors": []any{}, "messages": []any{}, "result": result}
	if info != nil {
		resp["result_info"] = info
	}
	json.NewEncoder(w).Encode(resp)
}

// useFakeAPI points every Cloudflare client the command builds at a test server.
func useFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{tokenStatus: "active", content: "192.0.2.1", listed: make(chan struct{}, 1)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	prev := cloudflareOptions
	cloudflareOptions = []cloudflare.Option{cloudflare.BaseURL(srv.URL)}
	t.Cleanup(func() { cloudflareOptions = prev })
	return f
}

func writeConfig(t *testing.T, names ...string) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "auth:\n  api_token: test-token\nzone_id: %s\nrecords:\n", testZone)
	for _, n := range names {
		fmt.Fprintf(&b, "  - name: %s\n", n)
	}
	path := filepath.Join(t.TempDir(), "cfddns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0600))
	return path
}

func testApp() *cli.App {
	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	return app
}

func runApp(ctx context.Context, args ...string) int {
	args = append([]string{"cfddns", "--log-level", "disabled"}, args...)
	return exitCode(testApp().RunContext(ctx, args))
}

func TestExitCodes(t *testing.T) {
	useFakeAPI(t)
	valid := writeConfig(t, "home")
	missing := writeConfig(t, "vpn")

	tests := []struct {
		name     string
		interval string // CFDDNS_INTERVAL
		args     []string
		want     int
	}{
		{"no config", "", nil, exitConfig},
		{"missing config file", "", []string{filepath.Join(t.TempDir(), "nope.yaml")}, exitConfig},
		{"invalid config", "", []string{writeConfig(t)}, exitConfig},
		{"single pass", "", []string{"--ip", "192.0.2.1", valid}, 0},
		{"record not in zone", "", []string{"--ip", "192.0.2.1", missing}, exitFailure},
		{"bad --ip", "", []string{"--ip", "300.1.1.1", valid}, exitConfig},
		{"interval below range", "", []string{"--interval", "10", valid}, exitConfig},
		{"interval not a number", "", []string{"--interval", "abc", valid}, exitConfig},
		{"env interval above range", "5000", []string{"--ip", "192.0.2.1", valid}, exitConfig},
		{"env interval not a number", "abc", []string{"--ip", "192.0.2.1", valid}, exitConfig},
		{"watch without interval", "", []string{"--watch", valid}, exitConfig},
		{"bad log level", "", []string{"--log-level", "loud", valid}, exitConfig},
		{"unknown flag", "", []string{"--frobnicate", valid}, exitConfig},
		{"version", "", []string{"--version"}, 0},
		{"verify", "", []string{"verify", valid}, 0},
		{"print config", "", []string{"config", valid}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CFDDNS_INTERVAL", tt.interval)
			assert.Equal(t, tt.want, runApp(context.Background(), tt.args...))
		})
	}
}

func TestSinglePassUpdatesRecord(t *testing.T) {
	t.Setenv("CFDDNS_INTERVAL", "")
	f := useFakeAPI(t)
	require.Equal(t, 0, runApp(context.Background(), "--ip", "198.51.100.7", writeConfig(t, "home")))
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"198.51.100.7"}, f.patched)
}

func TestInactiveTokenFailsStartup(t *testing.T) {
	t.Setenv("CFDDNS_INTERVAL", "")
	f := useFakeAPI(t)
	f.tokenStatus = "disabled"
	valid := writeConfig(t, "home")
	assert.Equal(t, exitConfig, runApp(context.Background(), "--ip", "192.0.2.1", valid))
	assert.Equal(t, exitConfig, runApp(context.Background(), "verify", valid))
}

func TestIntervalSelectsRepeatingMode(t *testing.T) {
	for _, viaEnv := range []bool{false, true} {
		t.Run(fmt.Sprintf("env=%t", viaEnv), func(t *testing.T) {
			f := useFakeAPI(t)
			args := []string{"--ip", "192.0.2.1", "--lock-file", filepath.Join(t.TempDir(), "cfddns.lock")}
			if viaEnv {
				t.Setenv("CFDDNS_INTERVAL", "30")
			} else {
				t.Setenv("CFDDNS_INTERVAL", "")
				args = append(args, "--interval", "30")
			}
			args = append(args, writeConfig(t, "home"))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan int, 1)
			go func() { done <- runApp(ctx, args...) }()

			select {
			case <-f.listed:
			case <-time.After(5 * time.Second):
				t.Fatal("no pass ran")
			}
			select {
			case code := <-done:
				t.Fatalf("exited with %d after the first pass", code)
			case <-time.After(100 * time.Millisecond):
			}
			cancel()
			select {
			case code := <-done:
				assert.Equal(t, 0, code)
			case <-time.After(5 * time.Second):
				t.Fatal("did not stop")
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(cli.Exit("pass failed", exitFailure)))
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("invalid value %q for flag -interval", "abc")))
}
