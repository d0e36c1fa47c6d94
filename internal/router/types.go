// Package router translates UI-originated messages into timer operations.
package router

import (
	"context"

	"tabsleep/internal/tab"
)

// Actions understood by Dispatch.
const (
	ActionSetTimer       = "setTimer"
	ActionCancelTimer    = "cancelTimer"
	ActionGetTimerStatus = "getTimerStatus"
	ActionExtendTimer    = "extendTimer"
)

// Request is one message from a popup, an in-page countdown, or the HTTP
// transport. TabID is optional; the sender's tab is used when it is empty.
type Request struct {
	Action  string   `json:"action"`
	TabID   tab.ID   `json:"tabId,omitempty"`
	Minutes *float64 `json:"minutes,omitempty"`
	EndTime *int64   `json:"endTime,omitempty"` // unix milliseconds
}

// Response is the single reply to a Request. Only the fields relevant to
// the action are set.
type Response struct {
	Success       *bool  `json:"success,omitempty"`
	Active        *bool  `json:"active,omitempty"`
	EndTime       *int64 `json:"endTime,omitempty"`
	TimeRemaining *int64 `json:"timeRemaining,omitempty"` // whole seconds
	Error         string `json:"error,omitempty"`
}

// Sender identifies where a request came from.
type Sender struct {
	Tab tab.ID
}

// Handler is what transports call.
type Handler interface {
	Dispatch(ctx context.Context, from Sender, req Request) Response
}

func ok() Response { return Response{Success: boolPtr(true)} }

// Failure is a {success:false, error:msg} reply.
func Failure(msg string) Response { return Response{Success: boolPtr(false), Error: msg} }

func boolPtr(b bool) *bool { return &b }

func int64Ptr(v int64) *int64 { return &v }
