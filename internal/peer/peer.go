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

// Package peer assembles the transport-agnostic protocol runtime
// (internal/protocol) into the two asymmetric roles the MCP handshake
// recognizes: a Server that advertises tools/resources/prompts and a
// Client that advertises roots and answers sampling/elicitation requests.
// Both share the same Connection type; they differ only in which
// capabilities they register and which handshake they drive.
package peer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/RomanEmreis/neva-go/internal/auth"
	"github.com/RomanEmreis/neva-go/internal/log"
	"github.com/RomanEmreis/neva-go/internal/protocol"
	"github.com/RomanEmreis/neva-go/internal/telemetry"
	"github.com/RomanEmreis/neva-go/internal/util"
)

// Connection is one live peer-to-peer session: a Dispatcher bound to a
// Transport's Sender/Receiver halves, plus the read loop that feeds frames
// into the dispatcher until the transport closes or ctx is cancelled. It is
// the generalized, transport-independent shape of the teacher's
// stdioSession.readInputStream / sseHandler read loops.
type Connection struct {
	SessionId       string
	Dispatcher      *protocol.Dispatcher
	Logger          log.Logger
	Instrumentation *telemetry.Instrumentation

	// Init tracks this session's own handshake progress. It gates every
	// method but "initialize" and "ping" via the InitializedMiddleware
	// prepended to opts.Middleware in NewConnection below.
	Init *protocol.InitState

	transport protocol.Transport
	receiver  protocol.Receiver

	mu     sync.Mutex
	claims *auth.Claims
}

// NewConnection wires a Dispatcher over transport's halves for one session,
// prepending the "no request before initialize" gate ahead of whatever
// middleware opts already carries.
func NewConnection(
	sessionId string,
	transport protocol.Transport,
	registry *protocol.HandlerRegistry,
	logger log.Logger,
	instrumentation *telemetry.Instrumentation,
	opts protocol.DispatcherOptions,
) *Connection {
	sender, receiver := transport.Split()
	init := &protocol.InitState{}
	opts.Middleware = append([]protocol.Middleware{protocol.InitializedMiddleware(init)}, opts.Middleware...)
	return &Connection{
		SessionId:       sessionId,
		Dispatcher:      protocol.NewDispatcher(sessionId, registry, sender, opts),
		Logger:          logger,
		Instrumentation: instrumentation,
		Init:            init,
		transport:       transport,
		receiver:        receiver,
	}
}

// SetClaims attaches the identity this session authenticated as, for C6's
// authorization gate. A nil claims means the session carries no identity
// at all (e.g. bare stdio).
func (c *Connection) SetClaims(claims *auth.Claims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = claims
}

// Claims returns the identity attached to this session, if any.
func (c *Connection) Claims() *auth.Claims {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims
}

// Run drives the read loop: decode each inbound frame and hand it to the
// dispatcher, until the transport reports EOF or ctx is cancelled. Run
// blocks; callers typically invoke it on its own goroutine per session.
func (c *Connection) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := c.receiver.Recv(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if protocol.IsBatch(frame) {
			c.Logger.WarnContext(ctx, fmt.Sprintf("rejected batch request on session %s", c.SessionId))
			_ = c.Dispatcher.SendRaw(ctx, protocol.EncodeErrorFrame(protocol.NewErrorf(protocol.InvalidRequest, "batched requests are not supported")))
			continue
		}

		msg, err := protocol.DecodeMessage(frame)
		if err != nil {
			c.Logger.ErrorContext(ctx, fmt.Sprintf("malformed frame on session %s: %s", c.SessionId, err))
			continue
		}
		dispatchCtx := util.WithDispatcher(ctx, c.Dispatcher)
		dispatchCtx = util.WithInitState(dispatchCtx, c.Init)
		if claims := c.Claims(); claims != nil {
			dispatchCtx = util.WithClaims(dispatchCtx, *claims)
		}
		c.Dispatcher.Dispatch(dispatchCtx, msg)
	}
}

// Close tears down the connection's dispatcher and underlying transport.
func (c *Connection) Close() error {
	c.Dispatcher.Close()
	return c.transport.Close()
}
