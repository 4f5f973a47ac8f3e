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

	"github.com/google/uuid"
)

// NewSessionId mints a fresh session identifier for a session-aware
// transport (T2); stdio (T1) is a single implicit session and never calls
// this.
func NewSessionId() string {
	return uuid.New().String()
}

// ProgressNotificationParams is the payload published on
// "notifications/progress": progress must increase monotonically across
// calls sharing the same token, and total is optional.
type ProgressNotificationParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         *float64      `json:"total,omitempty"`
}

// PublishProgress emits a progress notification for token over d, without
// any monotonicity bookkeeping of its own — the caller (the handler or a
// progress-tracking wrapper) is responsible for ensuring Progress only
// increases across the calls it makes for a given token.
func PublishProgress(ctx context.Context, d *Dispatcher, token ProgressToken, progress float64, total *float64) error {
	return d.SendNotification(ctx, "notifications/progress", ProgressNotificationParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
	})
}

// ListChangedNotification is the shape every "notifications/<category>/
// list_changed" message shares: an empty payload, the category alone in
// the method name carries the meaning.
type ListChangedNotification struct{}

// PublishListChanged emits a "notifications/<category>/list_changed"
// message, e.g. category "tools" for "notifications/tools/list_changed".
func PublishListChanged(ctx context.Context, d *Dispatcher, category string) error {
	return d.SendNotification(ctx, "notifications/"+category+"/list_changed", ListChangedNotification{})
}

// TaskStatusNotificationParams is the payload for "notifications/tasks/status".
type TaskStatusNotificationParams struct {
	Task Task `json:"task"`
}

// PublishTaskStatus emits "notifications/tasks/status" so a peer watching a
// task-augmented call doesn't have to poll tasks/get for a state change.
func PublishTaskStatus(ctx context.Context, d *Dispatcher, task Task) error {
	return d.SendNotification(ctx, "notifications/tasks/status", TaskStatusNotificationParams{Task: task})
}

// LogNotificationParams is the payload for "notifications/message": a
// logging event a server forwards to the peer rather than writing locally.
type LogNotificationParams struct {
	Level  string      `json:"level"`
	Logger string      `json:"logger,omitempty"`
	Data   interface{} `json:"data"`
}

// PublishLogMessage emits "notifications/message" for one log event. It does
// no level filtering of its own — the caller decides whether level clears
// the peer's current logging/setLevel threshold before calling this.
func PublishLogMessage(ctx context.Context, d *Dispatcher, level, logger string, data interface{}) error {
	return d.SendNotification(ctx, "notifications/message", LogNotificationParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

// ResourceUpdatedParams is the payload for "notifications/resources/updated".
type ResourceUpdatedParams struct {
	Uri string `json:"uri"`
}

// PublishResourceUpdated emits "notifications/resources/updated" for uri,
// if and only if uri currently has a subscriber registered against
// registry — an update to an unsubscribed resource is silently dropped.
func PublishResourceUpdated(ctx context.Context, d *Dispatcher, registry *Registry[Resource], uri string) error {
	if !registry.IsSubscribed(uri) {
		return nil
	}
	return d.SendNotification(ctx, "notifications/resources/updated", ResourceUpdatedParams{Uri: uri})
}
