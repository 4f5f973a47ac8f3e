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
	"testing"
)

func TestInitStateRequireInitialized(t *testing.T) {
	var s InitState
	if err := s.RequireInitialized(); err == nil {
		t.Error("expected an error before Complete is called")
	}
	s.Complete()
	if err := s.RequireInitialized(); err != nil {
		t.Errorf("RequireInitialized returned an error after Complete: %v", err)
	}
}

func TestInitializedMiddlewareAllowsInitializeAndPing(t *testing.T) {
	state := &InitState{}
	final := func(ctx context.Context, params json.RawMessage) (interface{}, error) { return "ok", nil }
	handler := InitializedMiddleware(state)(final)

	for _, method := range []string{"initialize", "ping"} {
		if _, err := handler(withMethod(context.Background(), method), nil); err != nil {
			t.Errorf("got an error for method %q before initialize completed: %v", method, err)
		}
	}
}

func TestInitializedMiddlewareRejectsOtherMethodsBeforeInitialize(t *testing.T) {
	state := &InitState{}
	final := func(ctx context.Context, params json.RawMessage) (interface{}, error) { return "ok", nil }
	handler := InitializedMiddleware(state)(final)

	if _, err := handler(withMethod(context.Background(), "tools/list"), nil); err == nil {
		t.Error("expected an error for tools/list before initialize completed")
	}

	state.Complete()
	if _, err := handler(withMethod(context.Background(), "tools/list"), nil); err != nil {
		t.Errorf("got an error for tools/list after initialize completed: %v", err)
	}
}

func TestPingHandler(t *testing.T) {
	result, err := PingHandler(context.Background(), nil)
	if err != nil {
		t.Fatalf("PingHandler returned an error: %v", err)
	}
	if _, ok := result.(PingResult); !ok {
		t.Errorf("got %T, want PingResult", result)
	}
}
