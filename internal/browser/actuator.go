package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"

	"tabsleep/internal/router"
	"tabsleep/internal/tab"
	logx "tabsleep/pkg/logx"
)

// Actuator drives pages of one playwright browser context.
type Actuator struct {
	cfg Config
	log logx.Logger

	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	// owned is false when attached over CDP; the user's context is left open.
	owned bool

	mu    sync.RWMutex
	pages map[tab.ID]playwright.Page
	ids   map[playwright.Page]tab.ID
	seq   atomic.Uint64
	// resolveID names a newly seen page; pageID outside tests.
	resolveID func(playwright.Page) tab.ID

	hmu sync.RWMutex
	h   router.Handler
}

// Open starts playwright and obtains a browser context.
func Open(cfg Config, log logx.Logger) (*Actuator, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if cfg.Install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("browser: install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("browser: start playwright: %w", err)
	}

	a := &Actuator{
		cfg:   cfg,
		log:   log,
		pw:    pw,
		pages: map[tab.ID]playwright.Page{},
		ids:   map[playwright.Page]tab.ID{},
	}
	a.resolveID = a.pageID
	if err := a.connect(); err != nil {
		_ = pw.Stop()
		return nil, err
	}

	a.bctx.OnPage(a.onPage)
	if err := a.bctx.ExposeBinding(tab.BindingName, a.onBinding); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("browser: expose binding: %w", err)
	}
	for _, p := range a.bctx.Pages() {
		a.track(p)
	}
	log.Info("browser ready",
		logx.Bool("attached", !a.owned),
		logx.Bool("headless", cfg.Headless),
		logx.Int("tabs", len(a.bctx.Pages())),
	)
	return a, nil
}

func (a *Actuator) connect() error {
	if url := strings.TrimSpace(a.cfg.CDPURL); url != "" {
		b, err := a.pw.Chromium.ConnectOverCDP(url)
		if err != nil {
			return fmt.Errorf("browser: connect %s: %w", url, err)
		}
		a.browser = b
		if ctxs := b.Contexts(); len(ctxs) > 0 {
			a.bctx = ctxs[0]
			return nil
		}
		c, err := b.NewContext()
		if err != nil {
			_ = b.Close()
			return fmt.Errorf("browser: new context: %w", err)
		}
		a.bctx, a.owned = c, true
		return nil
	}

	b, err := a.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(a.cfg.Headless),
	})
	if err != nil {
		return fmt.Errorf("browser: launch: %w", err)
	}
	c, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: DefaultViewportW, Height: DefaultViewportH},
	})
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("browser: new context: %w", err)
	}
	a.browser, a.bctx, a.owned = b, c, true
	return nil
}

// onPage runs on playwright's dispatch goroutine. Naming a page needs a
// protocol round trip that only that goroutine can complete, so tracking
// must happen elsewhere.
func (a *Actuator) onPage(p playwright.Page) {
	go a.track(p)
}

// track registers p and returns its tab id. It issues protocol calls and
// must never run inside a playwright event handler. Known pages keep their id.
func (a *Actuator) track(p playwright.Page) tab.ID {
	a.mu.RLock()
	id, ok := a.ids[p]
	a.mu.RUnlock()
	if ok {
		return id
	}

	id = a.resolveID(p)
	a.mu.Lock()
	if prev, ok := a.ids[p]; ok {
		a.mu.Unlock()
		return prev
	}
	a.ids[p] = id
	a.pages[id] = p
	a.mu.Unlock()

	p.OnClose(func(playwright.Page) { a.untrack(p) })
	if p.IsClosed() {
		// closed before the handler was attached
		a.untrack(p)
		return id
	}
	a.log.Debug("tab tracked", logx.String("tab", id.String()), logx.String("url", p.URL()))
	return id
}

func (a *Actuator) untrack(p playwright.Page) {
	a.mu.Lock()
	id, ok := a.ids[p]
	delete(a.ids, p)
	if ok {
		delete(a.pages, id)
	}
	a.mu.Unlock()
	if ok {
		a.log.Debug("tab gone", logx.String("tab", id.String()))
	}
}

// pageID prefers the CDP target id, which survives reattaching.
func (a *Actuator) pageID(p playwright.Page) tab.ID {
	if s, err := a.bctx.NewCDPSession(p); err == nil {
		defer func() { _ = s.Detach() }()
		if res, err := s.Send("Target.getTargetInfo", map[string]interface{}{}); err == nil {
			if id := targetID(res); id != "" {
				return tab.ID(id)
			}
		}
	}
	return tab.ID(fmt.Sprintf("page-%d", a.seq.Add(1)))
}

func targetID(res interface{}) string {
	m, ok := res.(map[string]interface{})
	if !ok {
		return ""
	}
	info, ok := m["targetInfo"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := info["targetId"].(string)
	return id
}

func (a *Actuator) page(id tab.ID) (playwright.Page, error) {
	a.mu.RLock()
	p, ok := a.pages[id]
	a.mu.RUnlock()
	if !ok || p.IsClosed() {
		return nil, fmt.Errorf("tab %s: %w", id, tab.ErrNotFound)
	}
	return p, nil
}

func (a *Actuator) CloseTab(ctx context.Context, id tab.ID) error {
	p, err := a.page(id)
	if err != nil {
		return err
	}
	return a.do(ctx, p, func() error { return p.Close() })
}

func (a *Actuator) RunInPage(ctx context.Context, id tab.ID, script tab.Script, args ...any) error {
	p, err := a.page(id)
	if err != nil {
		return err
	}
	return a.do(ctx, p, func() error {
		var err error
		switch len(args) {
		case 0:
			_, err = p.Evaluate(script.Source)
		case 1:
			_, err = p.Evaluate(script.Source, args[0])
		default:
			_, err = p.Evaluate(script.Source, args)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", script.Name, err)
		}
		return nil
	})
}

// ListTabs returns the live tabs ordered by id.
func (a *Actuator) ListTabs() []tab.Info {
	a.mu.RLock()
	out := make([]tab.Info, 0, len(a.pages))
	pages := make(map[tab.ID]playwright.Page, len(a.pages))
	for id, p := range a.pages {
		pages[id] = p
	}
	a.mu.RUnlock()

	for id, p := range pages {
		if p.IsClosed() {
			continue
		}
		title, _ := p.Title()
		out = append(out, tab.Info{ID: id, URL: p.URL(), Title: title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenTab opens url in a new page and returns it once loaded.
func (a *Actuator) OpenTab(ctx context.Context, url string) (tab.Info, error) {
	var info tab.Info
	err := a.do(ctx, nil, func() error {
		p, err := a.bctx.NewPage()
		if err != nil {
			return err
		}
		id := a.track(p)
		if url != "" {
			if _, err := p.Goto(url); err != nil {
				return fmt.Errorf("goto %s: %w", url, err)
			}
		}
		title, _ := p.Title()
		info = tab.Info{ID: id, URL: p.URL(), Title: title}
		return nil
	})
	return info, err
}

// OpenStartURLs opens the configured start pages. Failures are logged.
func (a *Actuator) OpenStartURLs(ctx context.Context) {
	for _, u := range a.cfg.StartURLs {
		info, err := a.OpenTab(ctx, u)
		if err != nil {
			a.log.Warn("start url failed", logx.String("url", u), logx.Err(err))
			continue
		}
		a.log.Info("start url opened", logx.String("tab", info.ID.String()), logx.String("url", info.URL))
	}
}

// Close releases the browser. An attached browser is only disconnected.
func (a *Actuator) Close() error {
	var errs []error
	if a.owned && a.bctx != nil {
		if err := a.bctx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pw != nil {
		if err := a.pw.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// do runs a blocking playwright call, giving up when ctx ends. The call
// itself keeps running in the background until playwright returns.
func (a *Actuator) do(ctx context.Context, p playwright.Page, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		closed := p != nil && p.IsClosed()
		return classify(err, closed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify maps playwright failures onto the tab sentinels.
func classify(err error, closed bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTargetClosed) || closed {
		return fmt.Errorf("%w: %v", tab.ErrNotFound, err)
	}
	msg := err.Error()
	for _, s := range notScriptable {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", tab.ErrNotScriptable, err)
		}
	}
	return err
}

var notScriptable = []string{
	"Execution context was destroyed",
	"Cannot access contents of",
	"Cannot access a chrome",
	"Content Security Policy",
}
