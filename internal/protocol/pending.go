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
	"fmt"
	"strings"
	"sync"
)

// FullId is the dispatcher's correlation key: the session a request
// travelled on plus its RequestId. Two peers on different sessions can
// legitimately reuse the same RequestId, so the bare id is not sufficient.
type FullId struct {
	SessionId string
	Id        RequestId
}

func (f FullId) String() string {
	return fmt.Sprintf("%s/%s", f.SessionId, f.Id.String())
}

// pendingSlot is the one-shot result holder a caller blocks on while its
// request is outstanding.
type pendingSlot struct {
	ch     chan Response
	cancel context.CancelFunc
}

// PendingQueue correlates outbound requests awaiting a Response against
// inbound frames, keyed by FullId. It is the requestor side of the
// request/response dance: every call to SendRequest registers a slot here before
// the frame goes out, and every inbound Response resolves (and removes) the
// matching slot.
type PendingQueue struct {
	mu    sync.Mutex
	slots map[string]*pendingSlot
}

// NewPendingQueue builds an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{slots: make(map[string]*pendingSlot)}
}

// Register reserves a slot for id and returns a channel that receives
// exactly one Response. cancel is invoked (and the slot removed) if the
// caller gives up waiting before a response arrives, e.g. on context
// cancellation or a per-call timeout.
func (q *PendingQueue) Register(id FullId, cancel context.CancelFunc) <-chan Response {
	q.mu.Lock()
	defer q.mu.Unlock()
	slot := &pendingSlot{ch: make(chan Response, 1), cancel: cancel}
	q.slots[id.String()] = slot
	return slot.ch
}

// Resolve delivers resp to the slot registered for id, if any is still
// outstanding. It is a no-op if the slot was already resolved, cancelled, or
// never registered (e.g. an unsolicited or duplicate response).
func (q *PendingQueue) Resolve(id FullId, resp Response) bool {
	q.mu.Lock()
	slot, ok := q.slots[id.String()]
	if ok {
		delete(q.slots, id.String())
	}
	q.mu.Unlock()
	if !ok {
		return false
	}
	slot.ch <- resp
	return true
}

// Cancel resolves id's slot locally with a RequestCancelled error and runs
// its cancellation callback, without needing a matching wire response. Used
// when the dispatcher tears down a session or a caller's context is done.
func (q *PendingQueue) Cancel(id FullId) {
	q.mu.Lock()
	slot, ok := q.slots[id.String()]
	if ok {
		delete(q.slots, id.String())
	}
	q.mu.Unlock()
	if !ok {
		return
	}
	if slot.cancel != nil {
		slot.cancel()
	}
	slot.ch <- Response{Id: id.Id, Err: NewError(RequestCancelled)}
}

// CancelSession resolves every slot registered under sessionId, used when a
// transport session closes while requests are still outstanding.
func (q *PendingQueue) CancelSession(sessionId string) {
	prefix := sessionId + "/"
	q.mu.Lock()
	var toCancel []*pendingSlot
	var ids []RequestId
	for key, slot := range q.slots {
		if strings.HasPrefix(key, prefix) {
			toCancel = append(toCancel, slot)
			ids = append(ids, RequestId{})
			delete(q.slots, key)
		}
	}
	q.mu.Unlock()
	for i, slot := range toCancel {
		if slot.cancel != nil {
			slot.cancel()
		}
		slot.ch <- Response{Id: ids[i], Err: NewError(RequestCancelled)}
	}
}

// Len reports the number of outstanding requests. Primarily for tests and
// diagnostics.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
