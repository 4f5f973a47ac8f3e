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
	"time"
)

func TestTaskStatusStringAndTerminal(t *testing.T) {
	if TaskWorking.Terminal() {
		t.Error("expected TaskWorking to not be terminal")
	}
	if !TaskCompleted.Terminal() || !TaskFailed.Terminal() || !TaskCancelled.Terminal() {
		t.Error("expected Completed/Failed/Cancelled to be terminal")
	}
	if TaskInputRequired.String() != "input_required" {
		t.Errorf("got %q, want input_required", TaskInputRequired.String())
	}
}

func TestTaskMarshalJSONRendersStatusName(t *testing.T) {
	task := Task{Id: "t1", Status: TaskWorking}
	b, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal returned an error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal returned an error: %v", err)
	}
	if decoded["status"] != "working" {
		t.Errorf("got status %v, want working", decoded["status"])
	}
}

func TestTrackerCreateAndComplete(t *testing.T) {
	tr := NewTracker()
	task, hctx := tr.Create(context.Background(), time.Minute)
	if task.Status != TaskWorking {
		t.Fatalf("got status %v, want TaskWorking", task.Status)
	}
	if hctx.Err() != nil {
		t.Fatal("expected the handler context to start alive")
	}

	if err := tr.Complete(task.Id, map[string]string{"ok": "yes"}); err != nil {
		t.Fatalf("Complete returned an error: %v", err)
	}

	got, ok := tr.Get(task.Id)
	if !ok || got.Status != TaskCompleted {
		t.Fatalf("got %+v, ok=%v, want TaskCompleted", got, ok)
	}

	result, taskErr, err := tr.Result(context.Background(), task.Id)
	if err != nil || taskErr != nil {
		t.Fatalf("Result returned err=%v, taskErr=%v", err, taskErr)
	}
	var decoded map[string]string
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("Unmarshal returned an error: %v", err)
	}
	if decoded["ok"] != "yes" {
		t.Errorf("got %v, want ok=yes", decoded)
	}

	if _, ok := tr.Get(task.Id); ok {
		t.Error("expected the task to be reaped after Result delivered it")
	}
}

func TestTrackerFail(t *testing.T) {
	tr := NewTracker()
	task, _ := tr.Create(context.Background(), time.Minute)
	if err := tr.Fail(task.Id, NewError(InternalError)); err != nil {
		t.Fatalf("Fail returned an error: %v", err)
	}
	_, taskErr, err := tr.Result(context.Background(), task.Id)
	if err != nil {
		t.Fatalf("Result returned an error: %v", err)
	}
	if taskErr == nil || taskErr.Code != InternalError {
		t.Fatalf("got %+v, want an InternalError", taskErr)
	}
}

func TestTrackerCancel(t *testing.T) {
	tr := NewTracker()
	task, hctx := tr.Create(context.Background(), time.Minute)
	if err := tr.Cancel(task.Id); err != nil {
		t.Fatalf("Cancel returned an error: %v", err)
	}
	if hctx.Err() == nil {
		t.Error("expected the handler context to be cancelled")
	}
	got, ok := tr.Get(task.Id)
	if !ok || got.Status != TaskCancelled {
		t.Fatalf("got %+v, ok=%v, want TaskCancelled", got, ok)
	}
}

func TestTrackerCancelTwiceIsIdempotent(t *testing.T) {
	tr := NewTracker()
	task, _ := tr.Create(context.Background(), time.Minute)
	if err := tr.Cancel(task.Id); err != nil {
		t.Fatalf("first Cancel returned an error: %v", err)
	}
	if err := tr.Cancel(task.Id); err != nil {
		t.Fatalf("second Cancel returned an error: %v", err)
	}
}

func TestTrackerRequireInputAndResume(t *testing.T) {
	tr := NewTracker()
	task, _ := tr.Create(context.Background(), time.Minute)

	reply, err := tr.RequireInput(task.Id, map[string]string{"ask": "confirm?"})
	if err != nil {
		t.Fatalf("RequireInput returned an error: %v", err)
	}
	got, _ := tr.Get(task.Id)
	if got.Status != TaskInputRequired {
		t.Fatalf("got status %v, want TaskInputRequired", got.Status)
	}

	prompt, taskErr, err := tr.Result(context.Background(), task.Id)
	if err != nil || taskErr != nil {
		t.Fatalf("Result returned err=%v, taskErr=%v", err, taskErr)
	}
	var decoded map[string]string
	if err := json.Unmarshal(prompt, &decoded); err != nil {
		t.Fatalf("Unmarshal returned an error: %v", err)
	}
	if decoded["ask"] != "confirm?" {
		t.Errorf("got %v, want the input-required prompt", decoded)
	}

	if err := tr.Resume(task.Id, json.RawMessage(`"yes"`)); err != nil {
		t.Fatalf("Resume returned an error: %v", err)
	}
	got, _ = tr.Get(task.Id)
	if got.Status != TaskWorking {
		t.Fatalf("got status %v, want TaskWorking after Resume", got.Status)
	}

	select {
	case r := <-reply:
		if string(r) != `"yes"` {
			t.Errorf("got reply %s, want \"yes\"", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the resumed reply")
	}
}

func TestTrackerResumeWhenNotAwaitingInput(t *testing.T) {
	tr := NewTracker()
	task, _ := tr.Create(context.Background(), time.Minute)
	if err := tr.Resume(task.Id, json.RawMessage(`"x"`)); err == nil {
		t.Error("expected an error resuming a task that is not awaiting input")
	}
}

func TestTrackerResultRespectsCallerContext(t *testing.T) {
	tr := NewTracker()
	task, _ := tr.Create(context.Background(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := tr.Result(ctx, task.Id)
	if err == nil {
		t.Error("expected Result to return the caller's context error")
	}
}

func TestTrackerResultRespectsTaskCancellationToken(t *testing.T) {
	tr := NewTracker()
	taskCtx, cancelTask := context.WithCancel(context.Background())
	task, _ := tr.Create(taskCtx, time.Minute)
	cancelTask()

	_, taskErr, err := tr.Result(context.Background(), task.Id)
	if err != nil {
		t.Fatalf("Result returned an error: %v", err)
	}
	if taskErr == nil || taskErr.Code != InvalidRequest {
		t.Fatalf("got %+v, want an InvalidRequest error", taskErr)
	}
}

func TestTrackerUnknownTaskOperations(t *testing.T) {
	tr := NewTracker()
	if err := tr.Complete("missing", nil); err == nil {
		t.Error("expected Complete to error on an unknown task")
	}
	if err := tr.Fail("missing", NewError(InternalError)); err == nil {
		t.Error("expected Fail to error on an unknown task")
	}
	if err := tr.Cancel("missing"); err == nil {
		t.Error("expected Cancel to error on an unknown task")
	}
	if _, err := tr.RequireInput("missing", nil); err == nil {
		t.Error("expected RequireInput to error on an unknown task")
	}
	if _, _, err := tr.Result(context.Background(), "missing"); err == nil {
		t.Error("expected Result to error on an unknown task")
	}
}

func TestTrackerListAndSweep(t *testing.T) {
	tr := NewTracker()
	task, _ := tr.Create(context.Background(), time.Millisecond)
	if err := tr.Complete(task.Id, "done"); err != nil {
		t.Fatalf("Complete returned an error: %v", err)
	}

	if got := tr.List(); len(got) != 1 {
		t.Fatalf("got %d tasks, want 1", len(got))
	}

	original := timeNow
	timeNow = func() time.Time { return original().Add(time.Hour) }
	defer func() { timeNow = original }()

	tr.Sweep()
	if got := tr.List(); len(got) != 0 {
		t.Errorf("got %d tasks after sweep, want 0 expired tasks removed", len(got))
	}
}
