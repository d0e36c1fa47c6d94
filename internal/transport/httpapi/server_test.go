package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tabsleep/internal/router"
	"tabsleep/internal/storage"
	"tabsleep/internal/tab"
	"tabsleep/internal/tab/tabtest"
	"tabsleep/internal/timer"
	logx "tabsleep/pkg/logx"
)

type fakeTabs struct {
	mu     sync.Mutex
	tabs   []tab.Info
	failOn string
}

func (f *fakeTabs) ListTabs() []tab.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tab.Info(nil), f.tabs...)
}

func (f *fakeTabs) OpenTab(_ context.Context, url string) (tab.Info, error) {
	if url == f.failOn {
		return tab.Info{}, errors.New("navigation failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info := tab.Info{ID: tab.ID("page-" + string(rune('1'+len(f.tabs)))), URL: url}
	f.tabs = append(f.tabs, info)
	return info, nil
}

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *timer.Registry, *fakeTabs) {
	t.Helper()
	reg := timer.NewRegistry(timer.Config{}, storage.NewMemory(), tabtest.New(), logx.Nop(), nil)
	tabs := &fakeTabs{failOn: "bad://"}
	s := New(cfg, Deps{
		Router: router.New(reg, logx.Nop()),
		Tabs:   tabs,
		Timers: reg,
		Health: func() map[string]any { return map[string]any{"timers": reg.Len()} },
	}, logx.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, reg, tabs
}

func post(t *testing.T, url, tabID, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tabID != "" {
		req.Header.Set(HeaderTabID, tabID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestMessageRoundTrip(t *testing.T) {
	ts, reg, _ := newTestServer(t, Config{})
	end := time.Now().Add(10 * time.Minute).UnixMilli()

	resp, out := post(t, ts.URL+"/v1/message", "5", `{"action":"setTimer","endTime":`+jsonInt(end)+`}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(HeaderRequestID))
	require.Equal(t, true, out["success"])
	require.True(t, reg.Get("5").Active)

	_, out = post(t, ts.URL+"/v1/message", "", `{"action":"getTimerStatus","tabId":5}`)
	require.Equal(t, true, out["active"])
	require.Equal(t, float64(end), out["endTime"])
	require.InDelta(t, 600, out["timeRemaining"], 2)

	_, out = post(t, ts.URL+"/v1/message", "5", `{"action":"nope"}`)
	require.Equal(t, false, out["success"])
	require.Equal(t, "unknown action", out["error"])
}

func TestMessageBadBody(t *testing.T) {
	ts, _, _ := newTestServer(t, Config{})
	resp, out := post(t, ts.URL+"/v1/message", "", `{"action":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, false, out["success"])
}

func TestRequestIDEchoed(t *testing.T) {
	ts, _, _ := newTestServer(t, Config{})
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set(HeaderRequestID, "abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "abc", resp.Header.Get(HeaderRequestID))
}

func TestTokenRequired(t *testing.T) {
	ts, _, _ := newTestServer(t, Config{Token: "s3cret"})

	resp, err := http.Post(ts.URL+"/v1/message", "application/json", strings.NewReader(`{"action":"getTimerStatus","tabId":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/message", strings.NewReader(`{"action":"getTimerStatus","tabId":1}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open without a token.
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWithAuthRejectsNearMisses(t *testing.T) {
	ok := withAuth("s3cret", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	cases := []struct {
		name   string
		query  string
		header string
		want   int
	}{
		{"bearer", "", "Bearer s3cret", http.StatusNoContent},
		{"bearer padded", "", "Bearer  s3cret ", http.StatusNoContent},
		{"query", "s3cret", "", http.StatusNoContent},
		{"bearer same length", "", "Bearer s3creT", http.StatusUnauthorized},
		{"bearer prefix", "", "Bearer s3cre", http.StatusUnauthorized},
		{"query same length", "s3creT", "", http.StatusUnauthorized},
		{"query longer", "s3crets", "", http.StatusUnauthorized},
		{"bad query wins over good header", "nope", "Bearer s3cret", http.StatusUnauthorized},
		{"no scheme", "", "s3cret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := "/v1/message"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			ok(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestTabsAndTimers(t *testing.T) {
	ts, reg, _ := newTestServer(t, Config{})

	resp, out := post(t, ts.URL+"/v1/tabs", "", `{"url":"https://example.com/"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "https://example.com/", out["url"])

	resp, out = post(t, ts.URL+"/v1/tabs", "", `{"url":"bad://"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, false, out["success"])

	r, err := http.Get(ts.URL + "/v1/tabs")
	require.NoError(t, err)
	var tabs []tab.Info
	require.NoError(t, json.NewDecoder(r.Body).Decode(&tabs))
	r.Body.Close()
	require.Len(t, tabs, 1)

	reg.Set(context.Background(), "9", time.Now().Add(time.Hour))
	r, err = http.Get(ts.URL + "/v1/timers")
	require.NoError(t, err)
	var timers []map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&timers))
	r.Body.Close()
	require.Len(t, timers, 1)
	require.Equal(t, "9", timers[0]["tabId"])
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, Config{})
	r, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer r.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
	require.Equal(t, true, out["ok"])
	require.Equal(t, float64(0), out["timers"])
}

func TestServerLifecycle(t *testing.T) {
	reg := timer.NewRegistry(timer.Config{}, storage.NewMemory(), nil, logx.Nop(), nil)
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Router: router.New(reg, logx.Nop())}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Start(ctx)
	select {
	case <-s.Ready():
	case <-ctx.Done():
		t.Fatal("server never bound")
	}
	addr := s.Addr()
	require.NotEmpty(t, addr)

	r, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)

	s.Stop(ctx)
	require.Empty(t, s.Addr())
}

func TestRefusesInsecureBind(t *testing.T) {
	require.True(t, isLoopbackAddr("127.0.0.1:1"))
	require.True(t, isLoopbackAddr("localhost:1"))
	require.False(t, isLoopbackAddr(":1"))
	require.False(t, isLoopbackAddr("0.0.0.0:1"))
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
