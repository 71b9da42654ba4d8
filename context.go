package mcp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRequestCancelled is reported by EnsureNotCancelled after the request's
// context has been cancelled. It is distinguishable from ordinary handler
// failures so callers can tell "cancelled" from "crashed".
var ErrRequestCancelled = errors.New("request cancelled")

// ErrRequestTimedOut is reported by EnsureNotTimedOut when the elapsed
// wall-clock time exceeds the given budget.
var ErrRequestTimedOut = errors.New("request timed out")

// EventSink is the transport-side delivery interface captured by every
// RequestContext. Each transport adapter implements it according to its own
// connection model; transports without persistent connections implement
// SendEvent and Broadcast as no-ops.
type EventSink interface {
	// SendEvent delivers a named event with a JSON payload to the connection
	// registered under sessionID, or to the transport's sole channel when
	// sessionID is empty.
	SendEvent(event string, payload any, sessionID string) error

	// Broadcast delivers a message to every active connection. A failure on
	// one connection does not abort delivery to the others.
	Broadcast(msg JSONRPCMessage) error

	// Kind identifies the transport ("stdio", "http", "websocket", "sse").
	Kind() string
}

// RequestContext carries the per-invocation state of one dispatched request:
// cancellation, elapsed-time tracking, a free-form metadata bag, and the
// owning transport's event sink. A RequestContext is created at dispatch
// entry and must not outlive the invocation; contexts are never pooled or
// reused across calls.
//
// Cancellation is cooperative. A long-running handler must poll
// EnsureNotCancelled or EnsureNotTimedOut; nothing preempts a handler that
// never polls.
type RequestContext struct {
	requestID RequestID
	sessionID string
	start     time.Time

	cancelled atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc

	metaMu sync.Mutex
	meta   map[string]any

	sink EventSink
}

func newRequestContext(requestID RequestID, sessionID string, sink EventSink) *RequestContext {
	ctx, cancel := context.WithCancel(context.Background())
	return &RequestContext{
		requestID: requestID,
		sessionID: sessionID,
		start:     time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		meta:      make(map[string]any),
		sink:      sink,
	}
}

// applyDeadline narrows the derived context.Context to the given budget.
// Cooperative polls via EnsureNotTimedOut are independent of this deadline.
func (c *RequestContext) applyDeadline(budget time.Duration) {
	ctx, cancel := context.WithTimeout(c.ctx, budget)
	prev := c.cancel
	c.ctx = ctx
	c.cancel = func() {
		cancel()
		prev()
	}
}

// RequestID returns the id of the request this context belongs to.
func (c *RequestContext) RequestID() RequestID { return c.requestID }

// SessionID returns the id of the session that issued the request, when the
// transport correlates requests with sessions. It is empty on unary HTTP.
func (c *RequestContext) SessionID() string { return c.sessionID }

// Context returns a context.Context that is cancelled together with the
// request, for passing to blocking I/O inside handlers.
func (c *RequestContext) Context() context.Context { return c.ctx }

// Cancel marks the request as cancelled. The flag is monotonic; cancelling
// twice is a no-op.
func (c *RequestContext) Cancel() {
	c.cancelled.Store(true)
	c.cancel()
}

// Cancelled reports whether Cancel has been called.
func (c *RequestContext) Cancelled() bool { return c.cancelled.Load() }

// Elapsed returns the wall-clock time since the request was dispatched.
func (c *RequestContext) Elapsed() time.Duration { return time.Since(c.start) }

// EnsureNotCancelled returns ErrRequestCancelled if the request has been
// cancelled, nil otherwise. Long-running handlers should call it periodically.
func (c *RequestContext) EnsureNotCancelled() error {
	if c.cancelled.Load() {
		return ErrRequestCancelled
	}
	return nil
}

// EnsureNotTimedOut returns ErrRequestTimedOut if the elapsed time exceeds
// budget, nil otherwise. The check compares wall-clock time on each call;
// there is no background timer.
func (c *RequestContext) EnsureNotTimedOut(budget time.Duration) error {
	if budget > 0 && time.Since(c.start) > budget {
		return ErrRequestTimedOut
	}
	return nil
}

// SetMeta stores a request-scoped key/value pair.
func (c *RequestContext) SetMeta(key string, value any) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	c.meta[key] = value
}

// Meta returns the value stored under key, if any.
func (c *RequestContext) Meta(key string) (any, bool) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	v, ok := c.meta[key]
	return v, ok
}

// SendEvent pushes a named out-of-band event through the owning transport to
// the session that issued this request. On transports without persistent
// connections this is a no-op.
func (c *RequestContext) SendEvent(event string, payload any) error {
	if c.sink == nil {
		return nil
	}
	return c.sink.SendEvent(event, payload, c.sessionID)
}

// SendProgress reports partial completion of the request as a
// notifications/progress event to the issuing session.
func (c *RequestContext) SendProgress(progress, total float64) error {
	return c.SendEvent(methodNotificationsProgress, map[string]float64{
		"progress": progress,
		"total":    total,
	})
}

// SendLogMessage pushes a notifications/message log event to the issuing
// session.
func (c *RequestContext) SendLogMessage(level, text string) error {
	return c.SendEvent(methodNotificationsMessage, map[string]any{
		"level": level,
		"data":  text,
	})
}

// Broadcast pushes a message through the owning transport to every active
// connection. On transports without persistent connections this is a no-op.
func (c *RequestContext) Broadcast(msg JSONRPCMessage) error {
	if c.sink == nil {
		return nil
	}
	return c.sink.Broadcast(msg)
}

// TransportKind returns the kind tag of the transport that carried this
// request, or an empty string when the request was dispatched directly.
func (c *RequestContext) TransportKind() string {
	if c.sink == nil {
		return ""
	}
	return c.sink.Kind()
}
