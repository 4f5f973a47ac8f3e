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
	"testing"
	"time"

	"github.com/RomanEmreis/neva-go/internal/auth"
	"github.com/RomanEmreis/neva-go/internal/protocol"
)

func TestConnectionSetAndGetClaims(t *testing.T) {
	a, b := newPipe()
	defer a.Close()
	defer b.Close()

	reg := protocol.NewHandlerRegistry()
	conn := NewConnection("s1", a, reg, testLogger(t), testInstrumentation(t), protocol.DispatcherOptions{})

	if conn.Claims() != nil {
		t.Error("expected no claims on a fresh connection")
	}
	claims := &auth.Claims{Subject: "alice", Roles: []string{"admin"}}
	conn.SetClaims(claims)
	if got := conn.Claims(); got == nil || got.Subject != "alice" {
		t.Errorf("got %v, want Subject=alice", got)
	}
}

func TestConnectionRunDispatchesRequestsUntilClosed(t *testing.T) {
	a, b := newPipe()
	defer b.Close()

	reg := protocol.NewHandlerRegistry()
	reg.Handle("ping", protocol.PingHandler)
	conn := NewConnection("s1", a, reg, testLogger(t), testInstrumentation(t), protocol.DispatcherOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	frame, err := protocol.EncodeRequest(protocol.Request{Id: protocol.NewNumberId(1), Method: "ping"})
	if err != nil {
		t.Fatalf("EncodeRequest returned an error: %v", err)
	}
	if err := b.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send returned an error: %v", err)
	}

	select {
	case raw := <-b.in:
		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			t.Fatalf("DecodeMessage returned an error: %v", err)
		}
		if msg.Kind != protocol.MessageKindResponse || msg.AsResponse.IsError() {
			t.Fatalf("got %+v, want a successful ping response", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the ping response")
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close returned an error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to return after Close")
	}
}

func TestConnectionRunRejectsBatches(t *testing.T) {
	a, b := newPipe()
	defer a.Close()
	defer b.Close()

	reg := protocol.NewHandlerRegistry()
	conn := NewConnection("s1", a, reg, testLogger(t), testInstrumentation(t), protocol.DispatcherOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Run(ctx) }()

	if err := b.Send(context.Background(), []byte(`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)); err != nil {
		t.Fatalf("Send returned an error: %v", err)
	}

	select {
	case raw := <-b.in:
		_, err := protocol.DecodeMessage(raw)
		perr, ok := err.(*protocol.Error)
		if !ok || perr.Code != protocol.InvalidRequest {
			t.Fatalf("got err=%v, want an InvalidRequest error frame for a batched request", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the batch-rejection frame")
	}
}
