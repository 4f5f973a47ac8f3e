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
	"sort"
	"sync"

	"github.com/RomanEmreis/neva-go/internal/auth"
)

// Entity is the common shape a tool, resource, resource template, prompt or
// root satisfies to live inside a Registry: a stable name and the roles /
// permissions a caller's Claims must satisfy before the entity is even
// listed or invoked, gating access the way the teacher's
// tools.IsAuthorized any-of check does for its toolsets, generalized from a
// single source-allowlist to the roles/permissions pair C6 describes.
type Entity interface {
	EntityName() string
	RequiredRoles() []string
	RequiredPermissions() []string
}

// Registry is a concurrent, name-keyed, insertion-ordered collection of one
// capability kind (tools, resources, resource templates, prompts, or
// roots). It is the generic backing store behind each concrete capability
// registry; the notifier passed to NewRegistry fires whenever the set
// mutates and the registry was built with list-changed support enabled.
type Registry[T Entity] struct {
	mu           sync.RWMutex
	items        map[string]T
	order        []string
	listChanged  bool
	onListChange func()

	subsMu sync.Mutex
	subs   map[string]struct{}
}

// NewRegistry builds an empty registry. When listChanged is true, onChange
// is invoked (outside the registry's lock) after every Insert, including one
// that replaces an existing entry, and after every Remove that deletes one.
func NewRegistry[T Entity](listChanged bool, onChange func()) *Registry[T] {
	return &Registry[T]{
		items:        make(map[string]T),
		listChanged:  listChanged,
		onListChange: onChange,
		subs:         make(map[string]struct{}),
	}
}

// Insert adds or replaces the entity under its EntityName. Replacing an
// existing entry preserves its position in iteration order.
func (r *Registry[T]) Insert(e T) {
	name := e.EntityName()
	r.mu.Lock()
	_, existed := r.items[name]
	r.items[name] = e
	if !existed {
		r.order = append(r.order, name)
	}
	r.mu.Unlock()
	r.notifyChange()
}

// Remove deletes the entity named name, if present.
func (r *Registry[T]) Remove(name string) {
	r.mu.Lock()
	_, existed := r.items[name]
	if existed {
		delete(r.items, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if existed {
		r.notifyChange()
	}
}

// Get returns the entity named name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[name]
	return e, ok
}

// Len reports how many entities are registered.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// authorizedFor reports whether claims (if any) satisfy e's access gate. A
// nil claims pointer means the transport carries no identity at all (e.g.
// bare stdio): an entity with any required role or permission is then
// unreachable, failing closed rather than granting blanket access.
func authorizedFor(e Entity, claims *auth.Claims) bool {
	roles := e.RequiredRoles()
	perms := e.RequiredPermissions()
	if len(roles) == 0 && len(perms) == 0 {
		return true
	}
	if claims == nil {
		return false
	}
	return claims.HasAnyRole(roles) && claims.HasAllPermissions(perms)
}

// ValuesPaginated returns a page of entities visible to claims, honoring
// cursor/pageSize the way Cursor/Paginate describe. Authorization filtering
// happens before slicing, so a caller's page boundaries are stable with
// respect to what they are allowed to see, not the full underlying set.
func (r *Registry[T]) ValuesPaginated(cursor *Cursor, pageSize int, claims *auth.Claims) Page[T] {
	r.mu.RLock()
	visible := make([]T, 0, len(r.order))
	for _, name := range r.order {
		e := r.items[name]
		if authorizedFor(e, claims) {
			visible = append(visible, e)
		}
	}
	r.mu.RUnlock()
	return Paginate(visible, cursor, pageSize)
}

// Subscribe marks uri as subscribed, so future PublishResourceUpdated calls
// for uri emit a notification. Used by the resources registry.
func (r *Registry[T]) Subscribe(uri string) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	r.subs[uri] = struct{}{}
}

// Unsubscribe clears uri's subscription.
func (r *Registry[T]) Unsubscribe(uri string) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	delete(r.subs, uri)
}

// IsSubscribed reports whether uri currently has a subscriber.
func (r *Registry[T]) IsSubscribed(uri string) bool {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	_, ok := r.subs[uri]
	return ok
}

func (r *Registry[T]) notifyChange() {
	if r.listChanged && r.onListChange != nil {
		r.onListChange()
	}
}

// SortedNames returns the registered entity names in lexical order. Used by
// diagnostics and tests where a deterministic listing matters more than
// insertion order.
func (r *Registry[T]) SortedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}
