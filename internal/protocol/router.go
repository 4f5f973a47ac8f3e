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
	"strings"
	"sync"
)

// routeNodeKind discriminates the three node shapes the URI template trie
// can hold: a literal path segment, a bracketed parameter segment, or the
// synthetic "" leaf that terminates a registered template and carries its
// handler.
type routeNodeKind int

const (
	routeNodeStatic routeNodeKind = iota
	routeNodeDynamic
	routeNodeHandler
)

type routeNode struct {
	kind     routeNodeKind
	segment  string // the bracketed name, for routeNodeDynamic
	static   map[string]*routeNode
	dynamic  *routeNode
	handler  *ResourceTemplate
	template string
}

func newRouteNode(kind routeNodeKind) *routeNode {
	return &routeNode{kind: kind, static: make(map[string]*routeNode)}
}

// Router is the trie over "/"-delimited URI template segments described by
// C7: static segments take priority over a single dynamic child at every
// level, and the last segment of a registered template attaches a sentinel
// "" leaf holding the handler, so that a template and a longer template
// sharing its prefix can coexist.
type Router struct {
	mu   sync.RWMutex
	root *routeNode
}

// NewRouter builds an empty router.
func NewRouter() *Router {
	return &Router{root: newRouteNode(routeNodeStatic)}
}

// Insert registers tmpl's handler. tmpl is a "/"-delimited path whose
// bracketed segments (e.g. "{path}") are captured as parameters at lookup
// time. Re-inserting the same template replaces its handler; the last
// insert wins on a literal template collision.
func (r *Router) Insert(tmpl ResourceTemplate) {
	segments := splitSegments(tmpl.UriTemplate)

	r.mu.Lock()
	defer r.mu.Unlock()

	node := r.root
	for _, seg := range segments {
		if isDynamicSegment(seg) {
			name := seg[1 : len(seg)-1]
			if node.dynamic == nil {
				node.dynamic = newRouteNode(routeNodeDynamic)
				node.dynamic.segment = name
			}
			node = node.dynamic
		} else {
			child, ok := node.static[seg]
			if !ok {
				child = newRouteNode(routeNodeStatic)
				node.static[seg] = child
			}
			node = child
		}
	}

	leaf, ok := node.static[""]
	if !ok {
		leaf = newRouteNode(routeNodeHandler)
		node.static[""] = leaf
	}
	t := tmpl
	leaf.handler = &t
	leaf.template = tmpl.UriTemplate
}

// Remove deletes the template previously registered under tmpl, if any.
func (r *Router) Remove(tmpl string) {
	segments := splitSegments(tmpl)

	r.mu.Lock()
	defer r.mu.Unlock()

	node := r.root
	for _, seg := range segments {
		if isDynamicSegment(seg) {
			if node.dynamic == nil {
				return
			}
			node = node.dynamic
		} else {
			child, ok := node.static[seg]
			if !ok {
				return
			}
			node = child
		}
	}
	delete(node.static, "")
}

// Binding is one captured parameter from a matched dynamic segment,
// returned in the insertion order of the template's bracketed segments.
type Binding struct {
	Name  string
	Value string
}

// Find matches uri against the registered templates, preferring a static
// match over a dynamic one at every level of the walk. It returns the
// matched handler, its captured parameter bindings in template order, and
// whether a match was found at all.
func (r *Router) Find(uri string) (*ResourceTemplate, []Binding, bool) {
	segments := splitSegments(uri)

	r.mu.RLock()
	defer r.mu.RUnlock()

	return findNode(r.root, segments, nil)
}

func findNode(node *routeNode, segments []string, bindings []Binding) (*ResourceTemplate, []Binding, bool) {
	if len(segments) == 0 {
		if leaf, ok := node.static[""]; ok && leaf.handler != nil {
			return leaf.handler, bindings, true
		}
		return nil, nil, false
	}

	seg, rest := segments[0], segments[1:]

	if child, ok := node.static[seg]; ok {
		if tmpl, b, found := findNode(child, rest, bindings); found {
			return tmpl, b, true
		}
	}

	if node.dynamic != nil {
		next := append(append([]Binding{}, bindings...), Binding{Name: node.dynamic.segment, Value: seg})
		if tmpl, b, found := findNode(node.dynamic, rest, next); found {
			return tmpl, b, true
		}
	}

	return nil, nil, false
}

func splitSegments(uri string) []string {
	trimmed := strings.Trim(uri, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func isDynamicSegment(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2
}
