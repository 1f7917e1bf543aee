package pprof

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"framesched/internal/task/engine"
	"framesched/internal/task/profile"
	logx "framesched/pkg/logx"
)

type fakeSource struct {
	snap engine.Snapshot
	top  []profile.Stat
}

func (f fakeSource) Snapshot() engine.Snapshot { return f.snap }
func (f fakeSource) Top(n int) []profile.Stat {
	if n < len(f.top) {
		return f.top[:n]
	}
	return f.top
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":              "/debug/pprof/",
		"  ":            "/debug/pprof/",
		"dbg":           "/dbg/",
		"/dbg":          "/dbg/",
		"/a/b/":         "/a/b/",
		"/debug/pprof/": "/debug/pprof/",
	}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q)=%q want %q", in, got, want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{":6060", false},
		{"0.0.0.0:6060", false},
		{"10.0.0.1:6060", false},
		{"bogus", false},
	}
	for _, tc := range cases {
		if got := isLoopbackAddr(tc.addr); got != tc.want {
			t.Fatalf("isLoopbackAddr(%q)=%v want %v", tc.addr, got, tc.want)
		}
	}
}

func TestRoutes_AuthAndScheduler(t *testing.T) {
	t.Parallel()

	src := fakeSource{
		snap: engine.Snapshot{State: "running", Workers: 2, GlobalQueue: 3, LocalQueues: []int{1, 0, 2}},
		top:  []profile.Stat{{Name: "a", Count: 2}, {Name: "b", Count: 1}},
	}
	s := New(Config{}, src, logx.Nop())
	h := s.routes(Config{Token: "secret"})

	do := func(target, bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("/healthz", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code=%d", rec.Code)
	}
	if rec := do("/healthz", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code=%d", rec.Code)
	}
	if rec := do("/healthz?token=secret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token: code=%d", rec.Code)
	}

	rec := do("/scheduler?top=1", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("scheduler: code=%d body=%s", rec.Code, rec.Body)
	}
	var view struct {
		State   string         `json:"state"`
		Workers int            `json:"workers"`
		Pending int            `json:"pending"`
		Top     []profile.Stat `json:"top"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.State != "running" || view.Workers != 2 || view.Pending != 6 {
		t.Fatalf("view=%+v", view)
	}
	if len(view.Top) != 1 || view.Top[0].Name != "a" {
		t.Fatalf("top=%+v", view.Top)
	}

	if rec := do("/scheduler?top=x", "secret"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad top: code=%d", rec.Code)
	}
	if rec := do("/debug/pprof", "secret"); rec.Code != http.StatusPermanentRedirect {
		t.Fatalf("redirect: code=%d", rec.Code)
	}
}

func TestHealthz_NotRunning(t *testing.T) {
	t.Parallel()

	s := New(Config{}, fakeSource{snap: engine.Snapshot{State: "draining"}}, logx.Nop())
	rec := httptest.NewRecorder()
	s.routes(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d", rec.Code)
	}
}

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never bound")
	return ""
}

func TestService_StartStopReconfigure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, fakeSource{snap: engine.Snapshot{State: "running"}}, logx.Nop())
	s.Start(ctx)
	addr := waitAddr(t, s)

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("code=%d body=%q", resp.StatusCode, body)
	}

	// Same listener settings keep the server.
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 0})
	if s.Addr() != addr {
		t.Fatalf("server restarted without a listener change")
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("addr still set after disable: %q", s.Addr())
	}
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatalf("server still reachable after disable")
	}
}

func TestService_RefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	if a := s.Addr(); a != "" {
		t.Fatalf("bound insecure addr %q", a)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}
