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
)

// TaskSupport declares whether a Tool may, must, or must never be invoked
// as a durable task (C8).
type TaskSupport int

const (
	TaskSupportNone TaskSupport = iota
	TaskSupportOptional
	TaskSupportRequired
	TaskSupportForbidden
)

// ToolHandler executes a tool call. It receives the raw arguments object
// and returns a result to be marshaled into the call's content, or an
// error. ToolHandler is invoked by the handler registered for
// "tools/call", never directly by the dispatcher.
type ToolHandler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Tool is one registered, callable capability a server advertises.
type Tool struct {
	Name         string
	Title        string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Annotations  map[string]interface{}
	Handler      ToolHandler `json:"-"`
	Roles        []string
	Permissions  []string
	TaskSupport  TaskSupport
}

func (t Tool) EntityName() string            { return t.Name }
func (t Tool) RequiredRoles() []string       { return t.Roles }
func (t Tool) RequiredPermissions() []string { return t.Permissions }

// Resource is a known, addressable piece of content a server advertises.
type Resource struct {
	Uri         string
	Name        string
	Title       string
	Description string
	Mime        string
	Size        int64
	Annotations map[string]interface{}
	Meta        map[string]interface{}
	Roles       []string
	Permissions []string
}

func (r Resource) EntityName() string            { return r.Uri }
func (r Resource) RequiredRoles() []string       { return r.Roles }
func (r Resource) RequiredPermissions() []string { return r.Permissions }

// ResourceTemplateHandler resolves a dynamic resource addressed by a
// matched URI template, given the captured parameter bindings.
type ResourceTemplateHandler func(ctx context.Context, params map[string]string) (interface{}, error)

// CompletionHandler suggests candidate values for one named argument,
// answering "completion/complete" for the prompt or resource template it is
// registered against. It returns the candidate values, whether more exist
// beyond what was returned, and an error only for a genuine failure — an
// argument with no suggestions returns an empty slice, not an error.
type CompletionHandler func(ctx context.Context, value string) (values []string, hasMore bool, err error)

// ResourceTemplate is a parameterized resource family, e.g.
// "file://{path}/{name}", routed through the URI template router (C7).
type ResourceTemplate struct {
	UriTemplate string
	Name        string
	Description string
	Mime        string
	Annotations map[string]interface{}
	Handler     ResourceTemplateHandler `json:"-"`
	Roles       []string
	Permissions []string
	Completions map[string]CompletionHandler `json:"-"`
}

func (rt ResourceTemplate) EntityName() string            { return rt.UriTemplate }
func (rt ResourceTemplate) RequiredRoles() []string       { return rt.Roles }
func (rt ResourceTemplate) RequiredPermissions() []string { return rt.Permissions }

// PromptHandler renders a prompt given its invocation arguments.
type PromptHandler func(ctx context.Context, args map[string]string) (interface{}, error)

// Prompt is a reusable, parameterized prompt template a server advertises.
type Prompt struct {
	Name        string
	Title       string
	Description string
	Arguments   []PromptArgument
	Handler     PromptHandler `json:"-"`
	Roles       []string
	Permissions []string
	Completions map[string]CompletionHandler `json:"-"`
}

// PromptArgument describes one named argument a Prompt accepts.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

func (p Prompt) EntityName() string            { return p.Name }
func (p Prompt) RequiredRoles() []string       { return p.Roles }
func (p Prompt) RequiredPermissions() []string { return p.Permissions }

// Root is a filesystem or URI root a client advertises to the server,
// scoping which locations the server may operate against.
type Root struct {
	Uri  string
	Name string
}

func (r Root) EntityName() string            { return r.Uri }
func (r Root) RequiredRoles() []string       { return nil }
func (r Root) RequiredPermissions() []string { return nil }
