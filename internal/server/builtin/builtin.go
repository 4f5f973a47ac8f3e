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

// Package builtin is the "kind"-keyed registry of demo tool/prompt
// implementations the example cmd/ server seeds its registries from, the
// generalized analogue of the teacher's internal/tools per-source packages
// (http.go, postgres.go, ...) each self-registering via an init() call
// against a shared kind table. Where the teacher's kinds wrap a SQL/HTTP
// connector, these wrap nothing but stdlib — there is no concrete
// database/cloud source in scope here (see DESIGN.md) — but the
// registration shape is identical.
package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/RomanEmreis/neva-go/internal/protocol"
)

// ToolFactory builds a ToolHandler from a kind's declared params map (the
// "params:" section of the tool's YAML declaration).
type ToolFactory func(params map[string]interface{}) (protocol.ToolHandler, error)

// toolKind bundles a kind's input schema alongside its handler factory.
type toolKind struct {
	inputSchema json.RawMessage
	factory     ToolFactory
}

var toolKinds = make(map[string]toolKind)

// RegisterTool associates a kind string with the factory that builds its
// handler and the JSON Schema describing its arguments. It panics on a
// duplicate kind, matching the teacher's tools.Register-or-panic idiom in
// each tool package's init().
func RegisterTool(kind string, inputSchema json.RawMessage, factory ToolFactory) {
	if _, exists := toolKinds[kind]; exists {
		panic(fmt.Sprintf("builtin: tool kind %q already registered", kind))
	}
	toolKinds[kind] = toolKind{inputSchema: inputSchema, factory: factory}
}

// BuildTool resolves kind against the registered factories and returns the
// handler plus the input schema to attach to the assembled protocol.Tool.
func BuildTool(kind string, params map[string]interface{}) (protocol.ToolHandler, json.RawMessage, error) {
	k, ok := toolKinds[kind]
	if !ok {
		return nil, nil, fmt.Errorf("builtin: unknown tool kind %q", kind)
	}
	handler, err := k.factory(params)
	if err != nil {
		return nil, nil, fmt.Errorf("builtin: tool kind %q: %w", kind, err)
	}
	return handler, k.inputSchema, nil
}

// PromptFactory builds a PromptHandler from a kind's declared params map.
type PromptFactory func(params map[string]interface{}) (protocol.PromptHandler, error)

var promptKinds = make(map[string]PromptFactory)

// RegisterPrompt associates a kind string with the factory that builds its
// handler.
func RegisterPrompt(kind string, factory PromptFactory) {
	if _, exists := promptKinds[kind]; exists {
		panic(fmt.Sprintf("builtin: prompt kind %q already registered", kind))
	}
	promptKinds[kind] = factory
}

// BuildPrompt resolves kind against the registered prompt factories.
func BuildPrompt(kind string, params map[string]interface{}) (protocol.PromptHandler, error) {
	factory, ok := promptKinds[kind]
	if !ok {
		return nil, fmt.Errorf("builtin: unknown prompt kind %q", kind)
	}
	handler, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("builtin: prompt kind %q: %w", kind, err)
	}
	return handler, nil
}

// ParseTaskSupport maps the config file's "taskSupport" string onto
// protocol.TaskSupport, defaulting to TaskSupportNone for an empty or
// unrecognized value.
func ParseTaskSupport(s string) protocol.TaskSupport {
	switch s {
	case "optional":
		return protocol.TaskSupportOptional
	case "required":
		return protocol.TaskSupportRequired
	case "forbidden":
		return protocol.TaskSupportForbidden
	default:
		return protocol.TaskSupportNone
	}
}
