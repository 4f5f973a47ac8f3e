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
	"sync"
)

// HandlerFunc answers a single JSON-RPC request. It returns a result to be
// marshaled into the response, or an *Error to be reported back to the
// caller verbatim. A non-*Error returned err is wrapped into InternalError.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationFunc handles a one-way notification; it has nothing to reply
// with, so failures are only logged by the caller.
type NotificationFunc func(ctx context.Context, params json.RawMessage) error

// HandlerRegistry maps JSON-RPC method names to the functions that answer
// them, the way the teacher's mcp.Method dispatch switches on method name
// but generalized to an open, pluggable set of methods instead of a fixed
// enum, since this runtime is not limited to the toolbox's tools/* methods.
type HandlerRegistry struct {
	mu            sync.RWMutex
	handlers      map[string]HandlerFunc
	notifications map[string]NotificationFunc
}

// NewHandlerRegistry builds an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers:      make(map[string]HandlerFunc),
		notifications: make(map[string]NotificationFunc),
	}
}

// Handle registers fn to answer requests for method. Registering twice for
// the same method replaces the previous handler.
func (r *HandlerRegistry) Handle(method string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = fn
}

// HandleNotification registers fn to process notifications for method.
func (r *HandlerRegistry) HandleNotification(method string, fn NotificationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[method] = fn
}

// Lookup returns the handler registered for method, if any.
func (r *HandlerRegistry) Lookup(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[method]
	return fn, ok
}

// LookupNotification returns the notification handler registered for
// method, if any.
func (r *HandlerRegistry) LookupNotification(method string) (NotificationFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.notifications[method]
	return fn, ok
}

// Invoke calls the handler registered for req.Method, translating panics
// and plain errors into a well-formed JSON-RPC Response. A method miss
// reports MethodNotFound.
func (r *HandlerRegistry) Invoke(ctx context.Context, req Request) (resp Response) {
	fn, ok := r.Lookup(req.Method)
	if !ok {
		return NewErrResponse(req.Id, NewErrorf(MethodNotFound, "method not found: %s", req.Method))
	}
	defer func() {
		if p := recover(); p != nil {
			resp = NewErrResponse(req.Id, NewErrorf(InternalError, "handler panic: %v", p))
		}
	}()

	result, err := fn(ctx, req.Params)
	if err != nil {
		return NewErrResponse(req.Id, toProtocolError(err))
	}
	resp, err = NewOkResponse(req.Id, result)
	if err != nil {
		return NewErrResponse(req.Id, NewErrorf(InternalError, "marshal result: %s", err))
	}
	return resp
}

// toProtocolError normalizes any error returned by a HandlerFunc into a
// JSON-RPC *Error, preserving the code when the handler already produced
// one and defaulting everything else to InternalError.
func toProtocolError(err error) *Error {
	var protoErr *Error
	if e, ok := err.(*Error); ok {
		protoErr = e
	} else {
		protoErr = NewErrorf(InternalError, "%s", err.Error())
	}
	return protoErr
}
