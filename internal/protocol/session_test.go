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

func TestNewSessionIdUnique(t *testing.T) {
	a, b := NewSessionId(), NewSessionId()
	if a == b {
		t.Error("expected two session ids to differ")
	}
	if a == "" {
		t.Error("expected a non-empty session id")
	}
}

func TestPublishProgress(t *testing.T) {
	reg := NewHandlerRegistry()
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	total := 10.0
	if err := PublishProgress(context.Background(), d, NewNumberId(1), 5, &total); err != nil {
		t.Fatalf("PublishProgress returned an error: %v", err)
	}
	sender.waitForFrames(t, 1)
	msg, _ := DecodeMessage(sender.last())
	if msg.AsNotification.Method != "notifications/progress" {
		t.Errorf("got method %q, want notifications/progress", msg.AsNotification.Method)
	}
}

func TestPublishListChanged(t *testing.T) {
	reg := NewHandlerRegistry()
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	if err := PublishListChanged(context.Background(), d, "tools"); err != nil {
		t.Fatalf("PublishListChanged returned an error: %v", err)
	}
	sender.waitForFrames(t, 1)
	msg, _ := DecodeMessage(sender.last())
	if msg.AsNotification.Method != "notifications/tools/list_changed" {
		t.Errorf("got method %q, want notifications/tools/list_changed", msg.AsNotification.Method)
	}
}

func TestPublishLogMessage(t *testing.T) {
	reg := NewHandlerRegistry()
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})

	if err := PublishLogMessage(context.Background(), d, "info", "neva-go", "hello"); err != nil {
		t.Fatalf("PublishLogMessage returned an error: %v", err)
	}
	sender.waitForFrames(t, 1)
	msg, _ := DecodeMessage(sender.last())
	if msg.AsNotification.Method != "notifications/message" {
		t.Errorf("got method %q, want notifications/message", msg.AsNotification.Method)
	}
	var params LogNotificationParams
	if err := json.Unmarshal(msg.AsNotification.Params, &params); err != nil {
		t.Fatalf("Unmarshal returned an error: %v", err)
	}
	if params.Level != "info" || params.Logger != "neva-go" {
		t.Errorf("got %+v, want level=info logger=neva-go", params)
	}
}

func TestPublishResourceUpdatedOnlyWhenSubscribed(t *testing.T) {
	reg := NewHandlerRegistry()
	sender := &recordingSender{}
	d := NewDispatcher("s1", reg, sender, DispatcherOptions{})
	resources := NewRegistry[Resource](false, nil)

	if err := PublishResourceUpdated(context.Background(), d, resources, "file:///a"); err != nil {
		t.Fatalf("PublishResourceUpdated returned an error: %v", err)
	}
	sender.mu.Lock()
	n := len(sender.frames)
	sender.mu.Unlock()
	if n != 0 {
		t.Errorf("got %d frames, want 0 for an unsubscribed uri", n)
	}

	resources.Subscribe("file:///a")
	if err := PublishResourceUpdated(context.Background(), d, resources, "file:///a"); err != nil {
		t.Fatalf("PublishResourceUpdated returned an error: %v", err)
	}
	sender.waitForFrames(t, 1)
	msg, _ := DecodeMessage(sender.last())
	if msg.AsNotification.Method != "notifications/resources/updated" {
		t.Errorf("got method %q, want notifications/resources/updated", msg.AsNotification.Method)
	}
}
