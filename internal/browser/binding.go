package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"tabsleep/internal/router"
	"tabsleep/internal/tab"
	logx "tabsleep/pkg/logx"
)

// onBinding handles window.__tabSleep(message) calls from pages.
func (a *Actuator) onBinding(source *playwright.BindingSource, args ...interface{}) interface{} {
	var from router.Sender
	if source != nil && source.Page != nil {
		from.Tab = a.track(source.Page)
	}

	resp := func() router.Response {
		if len(args) == 0 {
			return router.Failure("empty message")
		}
		req, err := decodeMessage(args[0])
		if err != nil {
			return router.Failure(err.Error())
		}
		h := a.handler()
		if h == nil {
			return router.Failure("not ready")
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CallTimeout)
		defer cancel()
		return h.Dispatch(ctx, from, req)
	}()

	a.log.Debug("binding call", logx.String("tab", from.Tab.String()), logx.String("error", resp.Error))
	out, err := encodeResponse(resp)
	if err != nil {
		a.log.Warn("binding response encode failed", logx.Err(err))
		return map[string]interface{}{"success": false, "error": "encode failed"}
	}
	return out
}

// SetHandler installs the router used for binding calls. Calls made before
// a handler is installed get a "not ready" failure.
func (a *Actuator) SetHandler(h router.Handler) {
	a.hmu.Lock()
	a.h = h
	a.hmu.Unlock()
}

func (a *Actuator) handler() router.Handler {
	a.hmu.RLock()
	defer a.hmu.RUnlock()
	return a.h
}

// decodeMessage converts the JS value playwright hands us into a Request.
func decodeMessage(v interface{}) (router.Request, error) {
	var req router.Request
	b, err := json.Marshal(v)
	if err != nil {
		return req, fmt.Errorf("bad message: %w", err)
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("bad message: %w", err)
	}
	return req, nil
}

// encodeResponse turns a Response into plain maps playwright can serialize
// back into the page.
func encodeResponse(resp router.Response) (map[string]interface{}, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ tab.Actuator = (*Actuator)(nil)
