package bridge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/extension-host/manifest"
)

var testMeta = manifest.Metadata{ID: 4, Name: "demo", Version: "0.1.0", LibVersion: "0.1.0"}

func fetch(t *testing.T, h *Host, req FetchRequest) FetchResponse {
	t.Helper()
	raw, err := Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := h.For(testMeta).Fetch(context.Background(), raw)
	var resp FetchResponse
	if err := Unmarshal(out, &resp); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	return resp
}

func TestHostFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-UA", r.UserAgent())
		w.Header().Set("X-Token", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(append([]byte("got:"), body...))
	}))
	defer srv.Close()

	h := NewHost(HostConfig{UserAgent: "test-agent"})
	resp := fetch(t, h, FetchRequest{
		Method:  http.MethodPost,
		URL:     srv.URL + "/search/request.php",
		Headers: map[string][]string{"X-Token": {"abc"}},
		Body:    []byte("keyword=x"),
	})

	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Status != http.StatusCreated {
		t.Errorf("status = %d", resp.Status)
	}
	if string(resp.Body) != "got:keyword=x" {
		t.Errorf("body = %q", resp.Body)
	}
	if got := http.Header(resp.Headers).Get("X-Method"); got != "POST" {
		t.Errorf("method = %q", got)
	}
	if got := http.Header(resp.Headers).Get("X-UA"); got != "test-agent" {
		t.Errorf("user agent = %q", got)
	}
	if got := http.Header(resp.Headers).Get("X-Token"); got != "abc" {
		t.Errorf("forwarded header = %q", got)
	}
}

func TestHostFetchFailuresAreReported(t *testing.T) {
	big := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer big.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	h := NewHost(HostConfig{MaxBodyBytes: 16})

	tests := []struct {
		name string
		req  FetchRequest
		want string
	}{
		{"scheme", FetchRequest{URL: "file:///etc/passwd"}, "not allowed"},
		{"unreachable", FetchRequest{URL: closedURL}, "transport"},
		{"too large", FetchRequest{URL: big.URL}, "exceeds 16 bytes"},
		{"bad url", FetchRequest{URL: "http://[::1"}, "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := fetch(t, h, tt.req)
			if !strings.Contains(resp.Error, tt.want) {
				t.Fatalf("error = %q, want containing %q", resp.Error, tt.want)
			}
			if resp.Status != 0 || len(resp.Body) != 0 {
				t.Errorf("failed fetch carries data: %+v", resp)
			}
		})
	}
}

func TestHostFetchMalformedRequest(t *testing.T) {
	h := NewHost(HostConfig{})
	out := h.For(testMeta).Fetch(context.Background(), []byte{0xff})

	var resp FetchResponse
	if err := Unmarshal(out, &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !strings.Contains(resp.Error, "malformed") {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestHostFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	h := NewHost(HostConfig{Timeout: 50 * time.Millisecond})
	start := time.Now()
	resp := fetch(t, h, FetchRequest{URL: srv.URL})
	if resp.Error == "" {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("fetch timeout not enforced: %v", time.Since(start))
	}
}

func TestHostRateLimiterPerProvider(t *testing.T) {
	h := NewHost(HostConfig{RatePerSecond: 5, Burst: 2})

	a := h.For(testMeta).(*providerCalls)
	b := h.For(testMeta).(*providerCalls)
	c := h.For(manifest.Metadata{ID: 5, Name: "other"}).(*providerCalls)

	if a.limiter == nil || a.limiter != b.limiter {
		t.Error("instances of one provider should share a limiter")
	}
	if a.limiter == c.limiter {
		t.Error("providers should not share a limiter")
	}
	if NewHost(HostConfig{}).For(testMeta).(*providerCalls).limiter != nil {
		t.Error("limiting should be off by default")
	}
}

func TestHostRateLimitHonoursContext(t *testing.T) {
	h := NewHost(HostConfig{RatePerSecond: 0.001, Burst: 1, Fetcher: fetcherFunc(func(context.Context, FetchRequest, int64) (FetchResponse, error) {
		return FetchResponse{Status: 200}, nil
	})})
	calls := h.For(testMeta)
	raw, _ := Marshal(FetchRequest{URL: "https://example.com"})

	first := calls.Fetch(context.Background(), raw)
	var resp FetchResponse
	if err := Unmarshal(first, &resp); err != nil || resp.Status != 200 {
		t.Fatalf("first fetch = %+v, %v", resp, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	second := calls.Fetch(ctx, raw)
	resp = FetchResponse{}
	if err := Unmarshal(second, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" {
		t.Error("rate limited fetch should fail once the context expires")
	}
}

type fetcherFunc func(context.Context, FetchRequest, int64) (FetchResponse, error)

func (f fetcherFunc) Fetch(ctx context.Context, req FetchRequest, maxBody int64) (FetchResponse, error) {
	return f(ctx, req, maxBody)
}

func TestHostLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := NewHost(HostConfig{Logger: zap.New(core)})
	calls := h.For(testMeta)

	calls.Log(context.Background(), LevelError, "e")
	calls.Log(context.Background(), LevelWarn, "w")
	calls.Log(context.Background(), LevelInfo, "i")
	calls.Log(context.Background(), 9, "d")

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("got %d entries", len(entries))
	}
	want := []zapcore.Level{zapcore.ErrorLevel, zapcore.WarnLevel, zapcore.InfoLevel, zapcore.DebugLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Errorf("entry %d level = %s, want %s", i, e.Level, want[i])
		}
		if e.ContextMap()["provider_id"] != int64(4) || e.ContextMap()["provider"] != "demo" {
			t.Errorf("entry %d fields = %v", i, e.ContextMap())
		}
	}
}
