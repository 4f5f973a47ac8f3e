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

// Package httpsse implements T2: a Streamable-HTTP Transport pairing a
// chi-routed POST endpoint (client → server frames) with a GET
// text/event-stream channel (server → client frames), correlated by the
// Mcp-Session-Id header. It mirrors the teacher's sseManager/mcpRouter/
// httpHandler split in internal/server/mcp.go, generalized from the
// toolbox's toolset-scoped routes to the protocol-agnostic Transport
// contract.
package httpsse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/RomanEmreis/neva-go/internal/protocol"
)

// Transport is the per-session half of T2: outbound frames queue for the
// SSE stream to flush; inbound frames arrive from POST bodies and queue
// here for the Connection's read loop to pick up.
type Transport struct {
	sessionId string

	outbound chan []byte
	inbound  chan []byte

	mu         sync.Mutex
	closed     chan struct{}
	once       sync.Once
	lastActive time.Time
}

var _ protocol.Transport = (*Transport)(nil)

func newTransport(sessionId string) *Transport {
	return &Transport{
		sessionId:  sessionId,
		outbound:   make(chan []byte, 100),
		inbound:    make(chan []byte, 16),
		closed:     make(chan struct{}),
		lastActive: time.Now(),
	}
}

// Split returns t as both halves.
func (t *Transport) Split() (protocol.Sender, protocol.Receiver) {
	return t, t
}

// Send queues frame for the session's SSE stream. It blocks if the stream
// is not being drained fast enough, the same backpressure the teacher's
// bounded eventQueue channel applies.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	select {
	case t.outbound <- frame:
		return nil
	case <-t.closed:
		return fmt.Errorf("httpsse: session %s closed", t.sessionId)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next frame delivered by a POST to this session.
func (t *Transport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.inbound:
		return frame, nil
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unblocks Recv/Send and marks the session dead; the SSE manager
// still owns removing it from its session map.
func (t *Transport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *Transport) deliver(frame []byte) bool {
	select {
	case t.inbound <- frame:
		return true
	case <-t.closed:
		return false
	}
}

func (t *Transport) touch() {
	t.mu.Lock()
	t.lastActive = time.Now()
	t.mu.Unlock()
}

func (t *Transport) idleSince() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.lastActive)
}

// SessionManager tracks one Transport per live Mcp-Session-Id, the
// generalized form of the teacher's sseManager.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Transport
	onNew    func(sessionId string, t *Transport)
}

// NewSessionManager builds a manager whose onNew callback is invoked
// (outside the manager's lock) every time a brand-new session is created,
// so the caller can start a peer.Connection.Run goroutine over it.
func NewSessionManager(ctx context.Context, onNew func(sessionId string, t *Transport)) *SessionManager {
	m := &SessionManager{sessions: make(map[string]*Transport), onNew: onNew}
	go m.cleanupRoutine(ctx)
	return m
}

// GetOrCreate returns the Transport for sessionId, creating one (and
// invoking onNew) if it does not already exist. An empty sessionId always
// creates a fresh session and returns its freshly minted id.
func (m *SessionManager) GetOrCreate(sessionId string) (string, *Transport, bool) {
	if sessionId == "" {
		id := protocol.NewSessionId()
		t := newTransport(id)
		m.mu.Lock()
		m.sessions[id] = t
		m.mu.Unlock()
		if m.onNew != nil {
			m.onNew(id, t)
		}
		return id, t, true
	}

	m.mu.Lock()
	t, ok := m.sessions[sessionId]
	m.mu.Unlock()
	if ok {
		t.touch()
		return sessionId, t, false
	}

	t = newTransport(sessionId)
	m.mu.Lock()
	m.sessions[sessionId] = t
	m.mu.Unlock()
	if m.onNew != nil {
		m.onNew(sessionId, t)
	}
	return sessionId, t, true
}

// Get returns the Transport for an existing sessionId.
func (m *SessionManager) Get(sessionId string) (*Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessions[sessionId]
	return t, ok
}

// Remove closes and forgets sessionId.
func (m *SessionManager) Remove(sessionId string) {
	m.mu.Lock()
	t, ok := m.sessions[sessionId]
	if ok {
		delete(m.sessions, sessionId)
	}
	m.mu.Unlock()
	if ok {
		_ = t.Close()
	}
}

func (m *SessionManager) cleanupRoutine(ctx context.Context) {
	const timeout = 10 * time.Minute
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			for id, t := range m.sessions {
				if t.idleSince() > timeout {
					delete(m.sessions, id)
					_ = t.Close()
				}
			}
			m.mu.Unlock()
		}
	}
}

// SessionIdHeader is the header T2 propagates a session id through.
const SessionIdHeader = "Mcp-Session-Id"

// ServeSSE streams t's outbound queue to w as text/event-stream, blocking
// until the client disconnects or t closes. Callers mount this as the GET
// handler for the session's SSE endpoint.
func ServeSSE(w http.ResponseWriter, r *http.Request, sessionId string, t *Transport) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("httpsse: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionIdHeader, sessionId)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case frame := <-t.outbound:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		case <-t.closed:
			return nil
		case <-r.Context().Done():
			return nil
		}
	}
}

// HandlePost decodes a single JSON-RPC frame from r's body and delivers it
// to t's inbound queue for the session's Connection to dispatch. It never
// blocks on a response: T2 answers over the SSE stream, so a well-formed
// POST always gets a 202 Accepted with the session header set.
func HandlePost(w http.ResponseWriter, r *http.Request, sessionId string, t *Transport) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}
	var probe json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		http.Error(w, "malformed JSON-RPC frame", http.StatusBadRequest)
		return
	}
	t.touch()
	if !t.deliver(body) {
		http.Error(w, "session closed", http.StatusGone)
		return
	}
	w.Header().Set(SessionIdHeader, sessionId)
	w.WriteHeader(http.StatusAccepted)
}
