package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/google/uuid"

	"tabsleep/internal/router"
	"tabsleep/internal/tab"
	"tabsleep/internal/timer"
	logx "tabsleep/pkg/logx"
)

const (
	HeaderTabID     = "X-Tab-Id"
	HeaderRequestID = "X-Request-Id"

	maxBody = 64 << 10
)

// Tabs is the optional tab listing/opening capability of the actuator.
type Tabs interface {
	ListTabs() []tab.Info
	OpenTab(ctx context.Context, url string) (tab.Info, error)
}

// Timers lists active timers.
type Timers interface {
	List() []timer.Status
}

// Deps are the collaborators served over HTTP. Only Router is required.
type Deps struct {
	Router router.Handler
	Tabs   Tabs
	Timers Timers
	// Health returns extra fields for /healthz.
	Health func() map[string]any
}

type timerJSON struct {
	TabID         tab.ID `json:"tabId"`
	EndTime       int64  `json:"endTime"`
	TimeRemaining int64  `json:"timeRemaining"`
}

func (s *Server) routes(cfg Config) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/message", wrap(s.handleMessage))
	mux.HandleFunc("GET /v1/timers", wrap(s.handleTimers))
	mux.HandleFunc("GET /v1/tabs", wrap(s.handleListTabs))
	mux.HandleFunc("POST /v1/tabs", wrap(s.handleOpenTab))

	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return s.withRequestID(mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, rid)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Trace("http request",
			logx.String("rid", rid),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"ok": true}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			out[k] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, router.Failure("bad request: "+err.Error()))
		return
	}
	var from router.Sender
	if h := strings.TrimSpace(r.Header.Get(HeaderTabID)); h != "" {
		from.Tab = tab.ID(h)
	}
	resp := s.deps.Router.Dispatch(r.Context(), from, req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTimers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Timers == nil {
		writeJSON(w, http.StatusNotImplemented, router.Failure("timer listing unavailable"))
		return
	}
	list := s.deps.Timers.List()
	out := make([]timerJSON, 0, len(list))
	for _, st := range list {
		out = append(out, timerJSON{TabID: st.Tab, EndTime: st.EndTime.UnixMilli(), TimeRemaining: st.RemainingSeconds()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tabs == nil {
		writeJSON(w, http.StatusNotImplemented, router.Failure("tab listing unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Tabs.ListTabs())
}

func (s *Server) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tabs == nil {
		writeJSON(w, http.StatusNotImplemented, router.Failure("tab opening unavailable"))
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, router.Failure("bad request: "+err.Error()))
		return
	}
	info, err := s.deps.Tabs.OpenTab(r.Context(), strings.TrimSpace(body.URL))
	if err != nil {
		s.log.Warn("open tab failed", logx.String("url", body.URL), logx.Err(err))
		writeJSON(w, http.StatusBadGateway, router.Failure(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either "Authorization: Bearer <token>" or ?token=<token>.
		if got := r.URL.Query().Get("token"); got != "" {
			if tokenMatch(got, tok) {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && tokenMatch(strings.TrimSpace(strings.TrimPrefix(ah, p)), tok) {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

// tokenMatch compares in constant time for equal-length inputs.
func tokenMatch(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
