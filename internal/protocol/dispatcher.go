// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Middleware wraps a HandlerFunc with cross-cutting behavior (auth gating,
// logging, tracing). The Dispatcher composes its middlewares into one Chain
// at construction; each request applies that chain to a fresh terminal
// handler, so the wrapper closures are rebuilt on every call.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares in the order given: the first middleware is
// outermost (runs first on the way in, last on the way out).
func Chain(handlers ...Middleware) Middleware {
	return func(final HandlerFunc) HandlerFunc {
		wrapped := final
		for i := len(handlers) - 1; i >= 0; i-- {
			wrapped = handlers[i](wrapped)
		}
		return wrapped
	}
}

// DefaultPeerTimeout bounds an outbound request (one this peer sends and
// awaits a response to) when the caller does not supply its own context
// deadline.
const DefaultPeerTimeout = 10 * time.Second

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// PeerTimeout bounds outbound requests issued through SendRequest when
	// ctx carries no deadline of its own. Inbound requests are not bounded
	// here — cancellation (CancelRequest, session teardown) is the only
	// thing that stops a running handler.
	PeerTimeout time.Duration
	// Middleware is composed around every registered handler.
	Middleware []Middleware
}

// inflight tracks one request this dispatcher is currently answering, so a
// later "$/cancelRequest"-style notification (or session teardown) can
// cancel its context.
type inflight struct {
	cancel context.CancelFunc
}

// Dispatcher correlates inbound frames against the HandlerRegistry and the
// PendingQueue, and fans outbound notifications and responses onto a
// Sender. One Dispatcher serves one peer connection (one transport
// session); a process hosting multiple sessions runs one Dispatcher per
// session, sharing the underlying registries.
type Dispatcher struct {
	sessionId string
	registry  *HandlerRegistry
	pending   *PendingQueue
	sender    Sender
	chain     Middleware
	opts      DispatcherOptions

	mu       sync.Mutex
	inflight map[string]*inflight
	wg       sync.WaitGroup
}

// NewDispatcher builds a Dispatcher for one session, answering requests
// with registry and sending frames through sender.
func NewDispatcher(sessionId string, registry *HandlerRegistry, sender Sender, opts DispatcherOptions) *Dispatcher {
	chain := Chain(opts.Middleware...)
	return &Dispatcher{
		sessionId: sessionId,
		registry:  registry,
		pending:   NewPendingQueue(),
		sender:    sender,
		chain:     chain,
		opts:      opts,
		inflight:  make(map[string]*inflight),
	}
}

// Pending exposes the dispatcher's outbound correlation queue, for peers
// that issue their own requests over this session (e.g. a server sending a
// sampling request back to the client).
func (d *Dispatcher) Pending() *PendingQueue {
	return d.pending
}

// Dispatch routes one decoded Message: a Request is answered (spawning a
// goroutine so a slow handler never blocks the read loop), a Response
// resolves a pending slot, and a Notification is handed to its registered
// handler, if any, and otherwise silently dropped — an unrecognized
// notification is not a protocol error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	switch msg.Kind {
	case MessageKindRequest:
		d.dispatchRequest(ctx, *msg.AsRequest)
	case MessageKindResponse:
		d.pending.Resolve(FullId{SessionId: d.sessionId, Id: msg.AsResponse.Id}, *msg.AsResponse)
	case MessageKindNotification:
		d.dispatchNotification(ctx, *msg.AsNotification)
	}
}

func (d *Dispatcher) dispatchRequest(ctx context.Context, req Request) {
	reqCtx, cancel := context.WithCancel(withMethod(ctx, req.Method))

	key := req.Id.String()
	d.mu.Lock()
	d.inflight[key] = &inflight{cancel: cancel}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inflight, key)
			d.mu.Unlock()
			cancel()
		}()

		handler := d.chain(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			fn, ok := d.registry.Lookup(req.Method)
			if !ok {
				return nil, NewErrorf(MethodNotFound, "method not found: %s", req.Method)
			}
			return fn(ctx, params)
		})

		result, err := handler(reqCtx, req.Params)
		var resp Response
		switch {
		case reqCtx.Err() == context.DeadlineExceeded:
			resp = NewErrResponse(req.Id, NewError(Timeout))
		case reqCtx.Err() == context.Canceled:
			resp = NewErrResponse(req.Id, NewError(RequestCancelled))
		case err != nil:
			resp = NewErrResponse(req.Id, toProtocolError(err))
		default:
			var mErr error
			resp, mErr = NewOkResponse(req.Id, result)
			if mErr != nil {
				resp = NewErrResponse(req.Id, NewErrorf(InternalError, "marshal result: %s", mErr))
			}
		}

		frame, err := EncodeResponse(resp)
		if err != nil {
			return
		}
		_ = d.sender.Send(ctx, frame)
	}()
	// Yield after each spawn so a burst of inbound requests does not starve
	// handler goroutines that are already runnable.
	runtime.Gosched()
}

func (d *Dispatcher) dispatchNotification(ctx context.Context, n Notification) {
	fn, ok := d.registry.LookupNotification(n.Method)
	if !ok {
		return
	}
	_ = fn(ctx, n.Params)
}

// CancelRequest cancels the in-flight request identified by id, if it is
// still running. A miss (already completed, or unknown id) is a no-op.
func (d *Dispatcher) CancelRequest(id RequestId) {
	key := id.String()
	d.mu.Lock()
	fl, ok := d.inflight[key]
	d.mu.Unlock()
	if ok {
		fl.cancel()
	}
}

// SendRequest issues an outbound request over this session and blocks until
// a matching Response arrives or ctx is done. It is how a peer (e.g. a
// server asking its client to sample an LLM) initiates its own calls
// through the same dispatcher that answers inbound ones.
func (d *Dispatcher) SendRequest(ctx context.Context, id RequestId, method string, params interface{}) (Response, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return Response{}, fmt.Errorf("protocol: marshal request params: %w", err)
	}

	var reqCtx context.Context
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		reqCtx, cancel = context.WithCancel(ctx)
	} else {
		timeout := d.opts.PeerTimeout
		if timeout <= 0 {
			timeout = DefaultPeerTimeout
		}
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	full := FullId{SessionId: d.sessionId, Id: id}
	ch := d.pending.Register(full, cancel)

	frame, err := EncodeRequest(Request{Id: id, Method: method, Params: paramsJSON})
	if err != nil {
		cancel()
		return Response{}, fmt.Errorf("protocol: encode request: %w", err)
	}
	if err := d.sender.Send(ctx, frame); err != nil {
		d.pending.Cancel(full)
		cancel()
		return Response{}, fmt.Errorf("protocol: send request: %w", err)
	}

	select {
	case resp := <-ch:
		cancel()
		return resp, nil
	case <-reqCtx.Done():
		d.pending.Cancel(full)
		if reqCtx.Err() == context.DeadlineExceeded {
			return Response{}, NewError(Timeout)
		}
		return Response{}, NewError(RequestCancelled)
	}
}

// SendRaw writes a pre-encoded frame directly to the session's transport,
// bypassing request/notification framing. It exists for the rare top-level
// frame that has no request id to correlate against, e.g. a rejected batch.
func (d *Dispatcher) SendRaw(ctx context.Context, frame []byte) error {
	return d.sender.Send(ctx, frame)
}

// SendNotification emits a one-way notification over this session.
func (d *Dispatcher) SendNotification(ctx context.Context, method string, params interface{}) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("protocol: marshal notification params: %w", err)
	}
	frame, err := EncodeNotification(Notification{Method: method, Params: paramsJSON})
	if err != nil {
		return fmt.Errorf("protocol: encode notification: %w", err)
	}
	return d.sender.Send(ctx, frame)
}

// Close cancels every in-flight request and every outstanding pending call
// on this session, then waits for in-flight handler goroutines to return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	for _, fl := range d.inflight {
		fl.cancel()
	}
	d.mu.Unlock()
	d.pending.CancelSession(d.sessionId)
	d.wg.Wait()
}
