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

// Package protocol implements the transport-agnostic MCP runtime: the
// JSON-RPC message model, the dispatcher that correlates requests with
// responses and fans out notifications, the capability registries tools,
// resources, prompts and roots are kept in, and the durable task subsystem.
// Concrete transports (stdio, HTTP+SSE) live under internal/transport and
// implement the Transport interface this package defines.
package protocol

import "context"

// Sender writes outbound frames onto a transport. Implementations must be
// safe for concurrent use: the dispatcher and any number of handler
// goroutines may write responses and notifications at once, the same way
// the teacher's sseSession serializes writes behind its eventQueue channel.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Receiver yields inbound frames one at a time until the underlying
// transport closes, at which point Recv returns io.EOF.
type Receiver interface {
	Recv(ctx context.Context) ([]byte, error)
}

// Transport is a bidirectional frame channel a Peer runs its dispatch loop
// over. Split separates the send and receive halves so the dispatcher can
// own reads (one goroutine) and let handlers and the task subsystem write
// concurrently through the Sender without additional locking on their part.
type Transport interface {
	Split() (Sender, Receiver)
	// Close shuts down the transport, unblocking any pending Recv/Send calls.
	Close() error
}
