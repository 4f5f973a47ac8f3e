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

package httpsse

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Mount builds the chi sub-router for the "/mcp" mount point: GET for the
// SSE stream, POST for client frames, DELETE to end a session, close to
// the teacher's mcpRouter shape (StripSlashes middleware, a GET SSE route
// and a POST message route). onRequest, if non-nil, is called
// with each POST's session id and headers before the frame is queued, so a
// caller can resolve and attach auth claims to the session's Connection —
// T2 sessions are created by SessionManager.onNew, which fires before any
// request headers are available, so this is the first point a claims
// lookup has something to check against.
func Mount(manager *SessionManager, onRequest func(sessionId string, h http.Header)) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sessionId := r.URL.Query().Get("sessionId")
		if sessionId == "" {
			sessionId = r.Header.Get(SessionIdHeader)
		}
		id, t, _ := manager.GetOrCreate(sessionId)
		_ = ServeSSE(w, r, id, t)
		manager.Remove(id)
	})

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		sessionId := r.Header.Get(SessionIdHeader)
		if sessionId == "" {
			sessionId = r.URL.Query().Get("sessionId")
		}
		t, ok := manager.Get(sessionId)
		if !ok {
			id, newT, _ := manager.GetOrCreate(sessionId)
			sessionId, t = id, newT
		}
		if onRequest != nil {
			onRequest(sessionId, r.Header)
		}
		HandlePost(w, r, sessionId, t)
	})

	r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
		sessionId := r.Header.Get(SessionIdHeader)
		manager.Remove(sessionId)
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
