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
)

// ProtocolVersion is the MCP protocol revision this runtime speaks.
const ProtocolVersion = "2024-11-05"

// Implementation identifies a peer (name + version) during the handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListChangedCapability advertises whether a capability category emits
// list-changed notifications.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability additionally advertises subscribe support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// TasksCapability advertises durable-task support (C8, ambient over the
// base spec's handshake).
type TasksCapability struct{}

// ServerCapabilities is what a server advertises in InitializeResult.
type ServerCapabilities struct {
	Tools     *ListChangedCapability `json:"tools,omitempty"`
	Resources *ResourcesCapability   `json:"resources,omitempty"`
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
	Tasks     *TasksCapability       `json:"tasks,omitempty"`
}

// ClientCapabilities is what a client advertises in InitializeParams.
type ClientCapabilities struct {
	Roots *ListChangedCapability `json:"roots,omitempty"`
	Tasks *TasksCapability       `json:"tasks,omitempty"`
}

// InitializeParams is the client's handshake request payload.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's handshake response payload.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
}

// InitializedNotification is the empty acknowledgment the client sends
// after accepting the server's InitializeResult.
type InitializedNotification struct{}

// InitState tracks whether a session has completed the handshake; every
// request other than initialize and ping before a successful initialize is
// rejected, per the invariant in §4.4.
type InitState struct {
	initialized bool
}

// RequireInitialized returns InvalidRequest unless Complete has already
// been called for this session, and is meant to be the first check a
// dispatcher middleware runs for every method except "initialize" and "ping".
func (s *InitState) RequireInitialized() error {
	if !s.initialized {
		return NewErrorf(InvalidRequest, "session is not initialized")
	}
	return nil
}

// Complete marks the handshake done.
func (s *InitState) Complete() {
	s.initialized = true
}

// InitializedMiddleware enforces the "no request before initialize"
// invariant. It never gates "initialize" or "ping" themselves.
func InitializedMiddleware(state *InitState) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			method, _ := methodFromContext(ctx)
			if method == "initialize" || method == "ping" {
				return next(ctx, params)
			}
			if err := state.RequireInitialized(); err != nil {
				return nil, err
			}
			return next(ctx, params)
		}
	}
}

// PingResult is the empty success payload "ping" answers with.
type PingResult struct{}

// PingHandler answers "ping" with an empty result.
func PingHandler(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return PingResult{}, nil
}
