package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"tabsleep/internal/tab"
	"tabsleep/internal/timer"
	logx "tabsleep/pkg/logx"
)

type Router struct {
	reg *timer.Registry
	log logx.Logger
}

func New(reg *timer.Registry, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{reg: reg, log: log}
}

// Dispatch handles one request and always produces exactly one response.
func (r *Router) Dispatch(ctx context.Context, from Sender, req Request) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panicked",
				logx.String("action", req.Action),
				logx.Any("panic", p),
				logx.Stack(string(debug.Stack())),
			)
			resp = Failure(fmt.Sprintf("internal error: %v", p))
		}
	}()

	id := req.TabID
	if id.IsZero() {
		id = from.Tab
	}

	switch req.Action {
	case ActionSetTimer, ActionCancelTimer, ActionGetTimerStatus, ActionExtendTimer:
	default:
		r.log.Debug("unknown action", logx.String("action", req.Action))
		return Failure("unknown action")
	}
	if id.IsZero() {
		return Failure("missing tabId")
	}

	log := r.log.With(logx.String("action", req.Action), logx.String("tab", id.String()))
	log.Debug("dispatch")

	switch req.Action {
	case ActionSetTimer:
		return r.setTimer(ctx, id, req)
	case ActionCancelTimer:
		r.reg.Cancel(ctx, id)
		return ok()
	case ActionGetTimerStatus:
		return statusResponse(r.reg.Get(id))
	default:
		return r.extendTimer(ctx, id, req)
	}
}

func (r *Router) setTimer(ctx context.Context, id tab.ID, req Request) Response {
	var end time.Time
	switch {
	case req.EndTime != nil:
		end = time.UnixMilli(*req.EndTime)
	case req.Minutes != nil && *req.Minutes > 0:
		end = r.reg.Now().Add(time.Duration(*req.Minutes * float64(time.Minute)))
	default:
		return Failure("missing endTime or minutes")
	}
	r.reg.Set(ctx, id, end)
	return ok()
}

func (r *Router) extendTimer(ctx context.Context, id tab.ID, req Request) Response {
	if req.Minutes == nil {
		return Failure("missing minutes")
	}
	st, err := r.reg.Extend(ctx, id, *req.Minutes)
	if err != nil {
		// No timer: a plain failure, as callers expect.
		return Response{Success: boolPtr(false)}
	}
	resp := ok()
	resp.EndTime = int64Ptr(st.EndTime.UnixMilli())
	resp.TimeRemaining = int64Ptr(st.RemainingSeconds())
	return resp
}

func statusResponse(st timer.Status) Response {
	if !st.Active {
		return Response{Active: boolPtr(false)}
	}
	return Response{
		Active:        boolPtr(true),
		EndTime:       int64Ptr(st.EndTime.UnixMilli()),
		TimeRemaining: int64Ptr(st.RemainingSeconds()),
	}
}
