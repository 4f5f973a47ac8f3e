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
	"errors"
	"testing"
)

func TestHandlerRegistryInvokeSuccess(t *testing.T) {
	r := NewHandlerRegistry()
	r.Handle("echo", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return map[string]string{"ok": "yes"}, nil
	})

	resp := r.Invoke(context.Background(), Request{Id: NewNumberId(1), Method: "echo"})
	if resp.IsError() {
		t.Fatalf("got error response %+v, want success", resp.Err)
	}
	var result map[string]string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Unmarshal returned an error: %v", err)
	}
	if result["ok"] != "yes" {
		t.Errorf("got %v, want ok=yes", result)
	}
}

func TestHandlerRegistryInvokeMethodNotFound(t *testing.T) {
	r := NewHandlerRegistry()
	resp := r.Invoke(context.Background(), Request{Id: NewNumberId(1), Method: "missing"})
	if !resp.IsError() || resp.Err.Code != MethodNotFound {
		t.Fatalf("got %+v, want a MethodNotFound error", resp.Err)
	}
}

func TestHandlerRegistryInvokePreservesProtocolError(t *testing.T) {
	r := NewHandlerRegistry()
	r.Handle("denied", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, NewError(InvalidParams)
	})
	resp := r.Invoke(context.Background(), Request{Id: NewNumberId(1), Method: "denied"})
	if !resp.IsError() || resp.Err.Code != InvalidParams {
		t.Fatalf("got %+v, want the handler's own InvalidParams error preserved", resp.Err)
	}
}

func TestHandlerRegistryInvokeWrapsPlainError(t *testing.T) {
	r := NewHandlerRegistry()
	r.Handle("broken", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, errors.New("boom")
	})
	resp := r.Invoke(context.Background(), Request{Id: NewNumberId(1), Method: "broken"})
	if !resp.IsError() || resp.Err.Code != InternalError {
		t.Fatalf("got %+v, want a plain error wrapped as InternalError", resp.Err)
	}
}

func TestHandlerRegistryNotificationLookup(t *testing.T) {
	r := NewHandlerRegistry()
	var called bool
	r.HandleNotification("notifications/cancelled", func(ctx context.Context, params json.RawMessage) error {
		called = true
		return nil
	})
	fn, ok := r.LookupNotification("notifications/cancelled")
	if !ok {
		t.Fatal("expected to find the registered notification handler")
	}
	if err := fn(context.Background(), nil); err != nil {
		t.Fatalf("notification handler returned an error: %v", err)
	}
	if !called {
		t.Error("expected the notification handler to run")
	}
	if _, ok := r.LookupNotification("does-not-exist"); ok {
		t.Error("expected no handler for an unregistered notification method")
	}
}
