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

package peer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RomanEmreis/neva-go/internal/log"
	"github.com/RomanEmreis/neva-go/internal/protocol"
)

// SamplingHandler answers a server's "sampling/createMessage" request: the
// client is asked to run an LLM completion on the server's behalf and
// return the resulting message.
type SamplingHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// ElicitationHandler answers a server's "elicitation/create" request: the
// client prompts its user for structured input and returns the response.
type ElicitationHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Client is the MCP client peer role: it advertises roots and answers the
// server-initiated sampling/elicitation requests, the mirror image of
// Server's tool/resource/prompt surface.
type Client struct {
	Info    protocol.Implementation
	Roots   *protocol.Registry[protocol.Root]
	Logger  log.Logger
	Init    *protocol.InitState
	Version string

	Sampling    SamplingHandler
	Elicitation ElicitationHandler

	registry *protocol.HandlerRegistry
}

// NewClient builds a Client, registering ping, roots/list and the
// sampling/elicitation method handlers (answering MethodNotFound unless
// Sampling/Elicitation are set) against a fresh HandlerRegistry.
func NewClient(info protocol.Implementation, logger log.Logger) *Client {
	c := &Client{
		Info:   info,
		Roots:  protocol.NewRegistry[protocol.Root](true, func() {}),
		Logger: logger,
		Init:   &protocol.InitState{},
	}
	c.registry = protocol.NewHandlerRegistry()
	c.registerMethods()
	return c
}

// HandlerRegistry exposes the shared method table for Connection wiring.
func (c *Client) HandlerRegistry() *protocol.HandlerRegistry {
	return c.registry
}

func (c *Client) registerMethods() {
	c.registry.Handle("ping", protocol.PingHandler)
	c.registry.Handle("roots/list", c.handleRootsList)
	c.registry.Handle("sampling/createMessage", c.handleSampling)
	c.registry.Handle("elicitation/create", c.handleElicitation)
	c.registry.HandleNotification("notifications/elicitation/complete", func(_ context.Context, _ json.RawMessage) error {
		return nil
	})
	c.registry.HandleNotification("notifications/tools/list_changed", func(_ context.Context, _ json.RawMessage) error {
		return nil
	})
	c.registry.HandleNotification("notifications/resources/list_changed", func(_ context.Context, _ json.RawMessage) error {
		return nil
	})
	c.registry.HandleNotification("notifications/prompts/list_changed", func(_ context.Context, _ json.RawMessage) error {
		return nil
	})
	c.registry.HandleNotification("notifications/resources/updated", func(_ context.Context, _ json.RawMessage) error {
		return nil
	})
	c.registry.HandleNotification("notifications/tasks/status", func(_ context.Context, _ json.RawMessage) error {
		return nil
	})
	c.registry.HandleNotification("notifications/cancelled", handleCancelled)
}

func (c *Client) handleRootsList(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.PaginatedListParams
	_ = json.Unmarshal(params, &req)
	page := c.Roots.ValuesPaginated(req.Cursor, protocol.DefaultPageSize, nil)
	return struct {
		Roots      []protocol.Root `json:"roots"`
		NextCursor *protocol.Cursor `json:"nextCursor,omitempty"`
	}{Roots: page.Items, NextCursor: page.NextCursor}, nil
}

func (c *Client) handleSampling(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if c.Sampling == nil {
		return nil, protocol.NewErrorf(protocol.MethodNotFound, "this client does not support sampling")
	}
	return c.Sampling(ctx, params)
}

func (c *Client) handleElicitation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if c.Elicitation == nil {
		return nil, protocol.NewErrorf(protocol.MethodNotFound, "this client does not support elicitation")
	}
	return c.Elicitation(ctx, params)
}

// Handshake drives the client side of the initialize exchange over conn:
// send initialize, verify the server's protocol version matches ours,
// mark Init complete, then emit notifications/initialized. It returns the
// server's advertised InitializeResult.
func (c *Client) Handshake(ctx context.Context, conn *Connection) (protocol.InitializeResult, error) {
	reqId := protocol.NewNumberId(1)
	resp, err := conn.Dispatcher.SendRequest(ctx, reqId, "initialize", protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ClientCapabilities{
			Roots: &protocol.ListChangedCapability{ListChanged: true},
		},
		ClientInfo: c.Info,
	})
	if err != nil {
		return protocol.InitializeResult{}, fmt.Errorf("peer: initialize handshake: %w", err)
	}
	if resp.IsError() {
		return protocol.InitializeResult{}, fmt.Errorf("peer: initialize rejected: %s", resp.Err.Message)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return protocol.InitializeResult{}, fmt.Errorf("peer: malformed initialize result: %w", err)
	}
	if result.ProtocolVersion != protocol.ProtocolVersion {
		return protocol.InitializeResult{}, fmt.Errorf("peer: protocol version mismatch: server=%s client=%s", result.ProtocolVersion, protocol.ProtocolVersion)
	}

	c.Init.Complete()
	conn.Init.Complete()
	if err := conn.Dispatcher.SendNotification(ctx, "notifications/initialized", protocol.InitializedNotification{}); err != nil {
		return protocol.InitializeResult{}, fmt.Errorf("peer: send notifications/initialized: %w", err)
	}
	return result, nil
}
