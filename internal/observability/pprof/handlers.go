package pprof

import (
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"framesched/internal/task/engine"
	"framesched/internal/task/profile"
)

// Source feeds the /scheduler endpoint. Top may return nil.
type Source interface {
	Snapshot() engine.Snapshot
	Top(n int) []profile.Stat
}

type schedulerView struct {
	engine.Snapshot
	Pending int            `json:"pending"`
	Top     []profile.Stat `json:"top,omitempty"`
}

func (s *Service) routes(cfg Config) *http.ServeMux {
	prefix := normalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	auth := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", auth(s.healthz))
	mux.HandleFunc("/scheduler", auth(s.scheduler))

	mux.HandleFunc(prefix, auth(indexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", auth(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", auth(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", auth(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", auth(hpprof.Trace))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

// healthz fails once the scheduler is past Running.
func (s *Service) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.src != nil {
		if st := s.src.Snapshot().State; st != engine.StateRunning.String() {
			http.Error(w, st, http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

// scheduler serves the live snapshot; ?top=N limits the scope list.
func (s *Service) scheduler(w http.ResponseWriter, r *http.Request) {
	if s.src == nil {
		http.Error(w, "no scheduler", http.StatusNotFound)
		return
	}
	n := 10
	if v := r.URL.Query().Get("top"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "bad top", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	snap := s.src.Snapshot()
	view := schedulerView{Snapshot: snap, Pending: snap.Pending()}
	if n > 0 {
		view.Top = s.src.Top(n)
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(view)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// indexAt serves pprof.Index under a custom prefix; Index only resolves
// profile names rooted at /debug/pprof/.
func indexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = defaultPrefix + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}
