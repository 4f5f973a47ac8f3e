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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the durable task's state machine position.
type TaskStatus int

const (
	TaskWorking TaskStatus = iota
	TaskInputRequired
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskWorking:
		return "working"
	case TaskInputRequired:
		return "input_required"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the state machine's terminal states.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is the durable record a long-running, task-augmented call is
// tracked by. CreatedAt/LastUpdatedAt/TTL let a requestor police its own
// poll-and-cancel policy; the handle's result and input-required payloads
// live alongside it in Tracker, not on Task itself, so Task can be
// marshaled directly as the "tasks/get" response body.
type Task struct {
	Id             string     `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
	TtlMs          int64      `json:"ttl_ms"`
	Status         TaskStatus `json:"-"`
	StatusMessage  string     `json:"status_message,omitempty"`
	PollIntervalMs int64      `json:"poll_interval_ms,omitempty"`
}

// MarshalJSON renders Status as its string name on the wire.
func (t Task) MarshalJSON() ([]byte, error) {
	type alias Task
	return json.Marshal(struct {
		alias
		Status string `json:"status"`
	}{alias: alias(t), Status: t.Status.String()})
}

// UnmarshalJSON reads Status back from the string name MarshalJSON writes.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	aux := struct {
		*alias
		Status string `json:"status"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	for s := TaskWorking; s <= TaskCancelled; s++ {
		if s.String() == aux.Status {
			t.Status = s
		}
	}
	return nil
}

// handle is the tracker's private bookkeeping for one task: its result
// slot, an input-required prompt/reply rendezvous, and the cancellation
// token the requestor's TTL policy (or an explicit tasks/cancel) trips.
type handle struct {
	mu     sync.Mutex
	task   Task
	result json.RawMessage
	err    *Error
	done   chan struct{}

	cancel context.CancelFunc
	ctx    context.Context

	inputPrompt json.RawMessage
	inputReply  chan json.RawMessage
}

// Tracker holds every in-flight and recently-completed Task this peer
// knows about. Results are retained only until the handle is explicitly
// reaped (via Result, once delivered) or the tracker's sweep drops entries
// past their TTL.
type Tracker struct {
	mu      sync.Mutex
	handles map[string]*handle
}

// NewTracker builds an empty task tracker.
func NewTracker() *Tracker {
	return &Tracker{handles: make(map[string]*handle)}
}

// Create registers a new task in the Working state and returns it alongside
// a context the handler goroutine should run under; cancelling that context
// (via Cancel or TTL expiry) is how the task subsystem tells a running
// handler to stop.
func (t *Tracker) Create(ctx context.Context, ttl time.Duration) (Task, context.Context) {
	id := uuid.New().String()
	now := timeNow()
	hctx, cancel := context.WithCancel(ctx)

	task := Task{
		Id:            id,
		CreatedAt:     now,
		LastUpdatedAt: now,
		TtlMs:         ttl.Milliseconds(),
		Status:        TaskWorking,
	}
	h := &handle{
		task:   task,
		done:   make(chan struct{}),
		cancel: cancel,
		ctx:    hctx,
	}

	t.mu.Lock()
	t.handles[id] = h
	t.mu.Unlock()

	return task, hctx
}

// Complete records a successful result and moves the task to Completed.
func (t *Tracker) Complete(id string, result interface{}) error {
	h, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("protocol: unknown task %q", id)
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("protocol: marshal task result: %w", err)
	}

	h.mu.Lock()
	if status := h.task.Status; status.Terminal() {
		h.mu.Unlock()
		return fmt.Errorf("protocol: task %q is already %s", id, status)
	}
	h.result = b
	h.task.Status = TaskCompleted
	h.task.LastUpdatedAt = timeNow()
	h.mu.Unlock()
	close(h.done)
	return nil
}

// Fail records a handler failure and moves the task to Failed.
func (t *Tracker) Fail(id string, taskErr *Error) error {
	h, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("protocol: unknown task %q", id)
	}
	h.mu.Lock()
	if status := h.task.Status; status.Terminal() {
		h.mu.Unlock()
		return fmt.Errorf("protocol: task %q is already %s", id, status)
	}
	h.err = taskErr
	h.task.Status = TaskFailed
	h.task.LastUpdatedAt = timeNow()
	h.mu.Unlock()
	close(h.done)
	return nil
}

// Cancel moves the task to Cancelled and cancels its handler's context,
// whether called explicitly by a "tasks/cancel" request or by the
// requestor's own TTL-expiry policy.
func (t *Tracker) Cancel(id string) error {
	h, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("protocol: unknown task %q", id)
	}
	h.mu.Lock()
	already := h.task.Status.Terminal()
	if !already {
		h.task.Status = TaskCancelled
		h.task.LastUpdatedAt = timeNow()
	}
	h.mu.Unlock()
	h.cancel()
	if !already {
		close(h.done)
	}
	return nil
}

// RequireInput switches the task to InputRequired and stores prompt as the
// payload a "tasks/result" call will surface while the task is paused. It
// returns a channel that receives the single reply once Resume delivers it.
func (t *Tracker) RequireInput(id string, prompt interface{}) (<-chan json.RawMessage, error) {
	h, ok := t.lookup(id)
	if !ok {
		return nil, fmt.Errorf("protocol: unknown task %q", id)
	}
	b, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal input-required prompt: %w", err)
	}

	h.mu.Lock()
	h.task.Status = TaskInputRequired
	h.task.LastUpdatedAt = timeNow()
	h.inputPrompt = b
	reply := make(chan json.RawMessage, 1)
	h.inputReply = reply
	h.mu.Unlock()

	return reply, nil
}

// Resume delivers a reply to a task parked in InputRequired, returning it
// to Working. It is an error to resume a task that is not currently
// awaiting input.
func (t *Tracker) Resume(id string, reply json.RawMessage) error {
	h, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("protocol: unknown task %q", id)
	}
	h.mu.Lock()
	if h.task.Status != TaskInputRequired || h.inputReply == nil {
		h.mu.Unlock()
		return fmt.Errorf("protocol: task %q is not awaiting input", id)
	}
	ch := h.inputReply
	h.inputReply = nil
	h.inputPrompt = nil
	h.task.Status = TaskWorking
	h.task.LastUpdatedAt = timeNow()
	h.mu.Unlock()

	ch <- reply
	return nil
}

// Get returns the current Task record.
func (t *Tracker) Get(id string) (Task, bool) {
	h, ok := t.lookup(id)
	if !ok {
		return Task{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task, true
}

// Result blocks until id's task reaches a terminal state or ctx is done,
// then returns its payload (dropping the entry so a second call observes
// it as unknown, per the "deliver once" result-retrieval semantics) — or,
// while the task is InputRequired, returns the pending input prompt instead
// so the requestor can present it and reply.
func (t *Tracker) Result(ctx context.Context, id string) (json.RawMessage, *Error, error) {
	h, ok := t.lookup(id)
	if !ok {
		return nil, nil, fmt.Errorf("protocol: unknown task %q", id)
	}

	h.mu.Lock()
	if h.task.Status == TaskInputRequired {
		prompt := h.inputPrompt
		h.mu.Unlock()
		return prompt, nil, nil
	}
	if h.task.Status.Terminal() {
		result, taskErr := h.result, h.err
		h.mu.Unlock()
		t.reap(id)
		return result, taskErr, nil
	}
	h.mu.Unlock()

	select {
	case <-h.done:
		h.mu.Lock()
		result, taskErr := h.result, h.err
		h.mu.Unlock()
		t.reap(id)
		return result, taskErr, nil
	case <-h.ctx.Done():
		return nil, NewError(InvalidRequest), nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// List returns a snapshot of every tracked task, in no particular order;
// callers needing stable pagination should sort before paginating.
func (t *Tracker) List() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	tasks := make([]Task, 0, len(t.handles))
	for _, h := range t.handles {
		h.mu.Lock()
		tasks = append(tasks, h.task)
		h.mu.Unlock()
	}
	return tasks
}

func (t *Tracker) reap(id string) {
	t.mu.Lock()
	delete(t.handles, id)
	t.mu.Unlock()
}

func (t *Tracker) lookup(id string) (*handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[id]
	return h, ok
}

// Sweep removes completed/failed/cancelled tasks whose TTL elapsed since
// LastUpdatedAt, so a long-running server does not accumulate unbounded
// task history. Callers typically run Sweep on a ticker.
func (t *Tracker) Sweep() {
	now := timeNow()
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, h := range t.handles {
		h.mu.Lock()
		expired := h.task.Status.Terminal() && h.task.TtlMs > 0 &&
			now.Sub(h.task.LastUpdatedAt) > time.Duration(h.task.TtlMs)*time.Millisecond
		h.mu.Unlock()
		if expired {
			delete(t.handles, id)
		}
	}
}

// timeNow is a seam so tests can observe deterministic timestamps; it
// defaults to the real clock.
var timeNow = time.Now
