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
	"testing"
	"time"
)

type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *recordingSender) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *recordingSender) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func (s *recordingSender) waitForFrames(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		s.mu.Lock()
		got := len(s.frames)
		s.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, got %d", n, got)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDispatcherDispatchRequestSendsResponse(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Handle("echo", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return map[string]string{"ok": "yes"}, nil
	})
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"echo"}`))
	if err != nil {
		t.Fatalf("DecodeMessage returned an error: %v", err)
	}
	d.Dispatch(context.Background(), msg)
	sender.waitForFrames(t, 1)

	decoded, err := DecodeMessage(sender.last())
	if err != nil {
		t.Fatalf("DecodeMessage of response returned an error: %v", err)
	}
	if decoded.Kind != MessageKindResponse || decoded.AsResponse.IsError() {
		t.Fatalf("got %+v, want a success response", decoded.AsResponse)
	}
	d.Close()
}

func TestDispatcherDispatchRequestMethodNotFound(t *testing.T) {
	reg := NewHandlerRegistry()
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	msg, _ := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"missing"}`))
	d.Dispatch(context.Background(), msg)
	sender.waitForFrames(t, 1)

	decoded, _ := DecodeMessage(sender.last())
	if !decoded.AsResponse.IsError() || decoded.AsResponse.Err.Code != MethodNotFound {
		t.Fatalf("got %+v, want MethodNotFound", decoded.AsResponse.Err)
	}
	d.Close()
}

func TestDispatcherDispatchNotificationInvokesHandler(t *testing.T) {
	reg := NewHandlerRegistry()
	done := make(chan struct{})
	reg.HandleNotification("notifications/initialized", func(ctx context.Context, params json.RawMessage) error {
		close(done)
		return nil
	})
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	msg, _ := DecodeMessage([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	d.Dispatch(context.Background(), msg)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the notification handler to run")
	}
}

func TestDispatcherDispatchResponseResolvesPending(t *testing.T) {
	reg := NewHandlerRegistry()
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	ch := d.Pending().Register(FullId{SessionId: "s1", Id: NewNumberId(5)}, nil)

	msg, _ := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":5,"result":{"ok":true}}`))
	d.Dispatch(context.Background(), msg)

	select {
	case resp := <-ch:
		if resp.IsError() {
			t.Errorf("got error response %+v, want success", resp.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the pending slot to resolve")
	}
}

func TestDispatcherCancelRequest(t *testing.T) {
	reg := NewHandlerRegistry()
	started := make(chan struct{})
	reg.Handle("slow", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	msg, _ := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"slow"}`))
	d.Dispatch(context.Background(), msg)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the handler to start")
	}
	d.CancelRequest(NewNumberId(1))
	sender.waitForFrames(t, 1)

	decoded, _ := DecodeMessage(sender.last())
	if !decoded.AsResponse.IsError() || decoded.AsResponse.Err.Code != RequestCancelled {
		t.Fatalf("got %+v, want RequestCancelled", decoded.AsResponse.Err)
	}
	d.Close()
}

func TestDispatcherSendRequestResolvesOnResponse(t *testing.T) {
	reg := NewHandlerRegistry()
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	var resp Response
	var sendErr error
	done := make(chan struct{})
	go func() {
		resp, sendErr = d.SendRequest(context.Background(), NewNumberId(9), "sample", map[string]string{})
		close(done)
	}()

	sender.waitForFrames(t, 1)
	sentMsg, _ := DecodeMessage(sender.last())
	if sentMsg.Kind != MessageKindRequest || sentMsg.AsRequest.Method != "sample" {
		t.Fatalf("got %+v, want a sample request on the wire", sentMsg.AsRequest)
	}

	okResp, err := NewOkResponse(NewNumberId(9), map[string]bool{"ok": true})
	if err != nil {
		t.Fatalf("NewOkResponse returned an error: %v", err)
	}
	d.pending.Resolve(FullId{SessionId: "s1", Id: NewNumberId(9)}, okResp)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SendRequest to return")
	}
	if sendErr != nil {
		t.Fatalf("SendRequest returned an error: %v", sendErr)
	}
	if resp.IsError() {
		t.Errorf("got error response %+v, want success", resp.Err)
	}
}

func TestDispatcherSendRequestTimesOut(t *testing.T) {
	reg := NewHandlerRegistry()
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{PeerTimeout: 10 * time.Millisecond})

	_, err := d.SendRequest(context.Background(), NewNumberId(1), "sample", map[string]string{})
	if err == nil {
		t.Fatal("expected SendRequest to time out")
	}
	protoErr, ok := err.(*Error)
	if !ok || protoErr.Code != Timeout {
		t.Fatalf("got %v, want a Timeout protocol error", err)
	}
}

func TestDispatcherSendNotification(t *testing.T) {
	reg := NewHandlerRegistry()
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	if err := d.SendNotification(context.Background(), "notifications/progress", map[string]int{"progress": 1}); err != nil {
		t.Fatalf("SendNotification returned an error: %v", err)
	}
	sender.waitForFrames(t, 1)
	decoded, _ := DecodeMessage(sender.last())
	if decoded.Kind != MessageKindNotification || decoded.AsNotification.Method != "notifications/progress" {
		t.Fatalf("got %+v, want a progress notification", decoded.AsNotification)
	}
}

func TestChainRunsMiddlewareInOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
				order = append(order, name)
				return next(ctx, params)
			}
		}
	}
	final := func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		order = append(order, "final")
		return nil, nil
	}
	chained := Chain(mw("a"), mw("b"))(final)
	if _, err := chained(context.Background(), nil); err != nil {
		t.Fatalf("chained handler returned an error: %v", err)
	}
	want := []string{"a", "b", "final"}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("got order %v, want %v", order, want)
			break
		}
	}
}
