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

// PaginatedListParams is the common request shape for every "*/list"
// method: an optional opaque Cursor from a prior page.
type PaginatedListParams struct {
	Cursor *Cursor `json:"cursor,omitempty"`
}

// ToolsListResult answers "tools/list".
type ToolsListResult struct {
	Tools      []Tool  `json:"tools"`
	NextCursor *Cursor `json:"nextCursor,omitempty"`
}

// ResourcesListResult answers "resources/list".
type ResourcesListResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor *Cursor    `json:"nextCursor,omitempty"`
}

// ResourceTemplatesListResult answers "resources/templates/list".
type ResourceTemplatesListResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	NextCursor        *Cursor            `json:"nextCursor,omitempty"`
}

// PromptsListResult answers "prompts/list".
type PromptsListResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor *Cursor  `json:"nextCursor,omitempty"`
}

// TextContent is the plain-text content block variant. Other MCP content
// variants (image, resource link) are Non-goals here; tools render their
// results as text.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult answers "tools/call".
type ToolCallResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// EmptyResult is the wire shape for methods that acknowledge without
// returning data, e.g. resources/subscribe.
type EmptyResult struct{}

// CreateTaskResult is returned synchronously in place of a tool's real
// result when the call was task-augmented: the handler keeps running in
// the background under the Tracker, and the caller polls tasks/get and
// fetches the payload with tasks/result.
type CreateTaskResult struct {
	Task Task `json:"task"`
}

// TasksListResult answers "tasks/list".
type TasksListResult struct {
	Tasks      []Task  `json:"tasks"`
	NextCursor *Cursor `json:"nextCursor,omitempty"`
}

// CompletionRef identifies what a "completion/complete" request wants
// suggestions against: either a named prompt or a resource template's URI.
type CompletionRef struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Uri  string `json:"uri,omitempty"`
}

// CompletionArgument is the single argument a caller is mid-typing and wants
// candidate values for.
type CompletionArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CompletionParams answers "completion/complete"'s request payload.
type CompletionParams struct {
	Ref      CompletionRef      `json:"ref"`
	Argument CompletionArgument `json:"argument"`
}

// CompletionValues is the candidate-list body of a CompletionResult.
type CompletionValues struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// CompletionResult answers "completion/complete".
type CompletionResult struct {
	Completion CompletionValues `json:"completion"`
}
