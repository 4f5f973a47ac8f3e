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

package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/RomanEmreis/neva-go/internal/auth"
	"github.com/RomanEmreis/neva-go/internal/log"
	"github.com/RomanEmreis/neva-go/internal/protocol"
	"github.com/RomanEmreis/neva-go/internal/telemetry"
	"github.com/RomanEmreis/neva-go/internal/util"
)

// Capabilities bundles the five registries a Server advertises, shared
// across every session it serves — the generalized analogue of the
// teacher's ResourceManager, holding tools/resources/prompts/roots instead
// of sources/tools/toolsets.
type Capabilities struct {
	Tools             *protocol.Registry[protocol.Tool]
	Resources         *protocol.Registry[protocol.Resource]
	ResourceTemplates *protocol.Registry[protocol.ResourceTemplate]
	Prompts           *protocol.Registry[protocol.Prompt]
	Roots             *protocol.Registry[protocol.Root]
	Router            *protocol.Router
	Tasks             *protocol.Tracker

	DefaultTaskTtl time.Duration
}

// NewCapabilities builds an empty Capabilities bundle. notify is called
// whenever a registry configured with list-changed support mutates; it is
// typically wired to broadcast "notifications/<category>/list_changed" to
// every live session.
func NewCapabilities(notify func(category string)) *Capabilities {
	return &Capabilities{
		Tools:             protocol.NewRegistry[protocol.Tool](true, func() { notify("tools") }),
		Resources:         protocol.NewRegistry[protocol.Resource](true, func() { notify("resources") }),
		ResourceTemplates: protocol.NewRegistry[protocol.ResourceTemplate](true, func() { notify("resources") }),
		Prompts:           protocol.NewRegistry[protocol.Prompt](true, func() { notify("prompts") }),
		Roots:             protocol.NewRegistry[protocol.Root](true, func() { notify("roots") }),
		Router:            protocol.NewRouter(),
		Tasks:             protocol.NewTracker(),
		DefaultTaskTtl:     5 * time.Minute,
	}
}

// RegisterTool adds tool to the Tools registry. It never touches the URI
// router; resource templates reach it through RegisterResourceTemplate.
func (c *Capabilities) RegisterTool(tool protocol.Tool) {
	c.Tools.Insert(tool)
}

// RegisterResourceTemplate adds tmpl to both the resource-template
// registry (for listing) and the URI router (for Find-based dispatch).
func (c *Capabilities) RegisterResourceTemplate(tmpl protocol.ResourceTemplate) {
	c.ResourceTemplates.Insert(tmpl)
	c.Router.Insert(tmpl)
}

// Server is the MCP server peer role: it advertises tools, resources,
// prompts and roots, and answers the standard method set over any number
// of concurrent sessions sharing one Capabilities bundle.
type Server struct {
	Info            protocol.Implementation
	Capabilities    *Capabilities
	Logger          log.Logger
	Instrumentation *telemetry.Instrumentation

	// baseCtx is the parent a task-augmented call's background handler
	// runs under, instead of the inbound request's own context — which
	// the dispatcher cancels the moment the synchronous handler (here,
	// the one returning CreateTaskResult) returns. Cancelling baseCtx
	// tears down every still-running task; per-task cancellation goes
	// through Tracker.Cancel instead.
	baseCtx context.Context

	registry *protocol.HandlerRegistry
}

// NewServer builds a Server, registering the standard MCP method set
// (initialize, ping, tools/*, resources/*, prompts/*, tasks/*) against a
// fresh HandlerRegistry every Connection shares. baseCtx parents every
// task-augmented handler's background execution; pass context.Background()
// unless the whole server has its own shutdown signal to propagate.
func NewServer(baseCtx context.Context, info protocol.Implementation, caps *Capabilities, logger log.Logger, instrumentation *telemetry.Instrumentation) *Server {
	s := &Server{Info: info, Capabilities: caps, Logger: logger, Instrumentation: instrumentation, baseCtx: baseCtx}
	s.registry = protocol.NewHandlerRegistry()
	s.registerMethods()
	return s
}

// HandlerRegistry exposes the shared method table, e.g. for a transport
// that needs to construct a Connection.
func (s *Server) HandlerRegistry() *protocol.HandlerRegistry {
	return s.registry
}

func (s *Server) registerMethods() {
	s.registry.Handle("ping", protocol.PingHandler)
	s.registry.Handle("initialize", s.handleInitialize)
	s.registry.HandleNotification("notifications/initialized", func(_ context.Context, _ json.RawMessage) error {
		return nil
	})

	s.registry.Handle("tools/list", s.handleToolsList)
	s.registry.Handle("tools/call", s.handleToolsCall)

	s.registry.Handle("resources/list", s.handleResourcesList)
	s.registry.Handle("resources/read", s.handleResourcesRead)
	s.registry.Handle("resources/subscribe", s.handleResourcesSubscribe)
	s.registry.Handle("resources/unsubscribe", s.handleResourcesUnsubscribe)
	s.registry.Handle("resources/templates/list", s.handleResourceTemplatesList)

	s.registry.Handle("prompts/list", s.handlePromptsList)
	s.registry.Handle("prompts/get", s.handlePromptsGet)

	s.registry.Handle("tasks/list", s.handleTasksList)
	s.registry.Handle("tasks/get", s.handleTasksGet)
	s.registry.Handle("tasks/result", s.handleTasksResult)
	s.registry.Handle("tasks/cancel", s.handleTasksCancel)

	s.registry.Handle("completion/complete", s.handleCompletionComplete)
	s.registry.Handle("logging/setLevel", s.handleLoggingSetLevel)

	s.registry.HandleNotification("notifications/cancelled", handleCancelled)
}

// cancelledParams is the payload for "notifications/cancelled": the peer
// naming one of its own in-flight requests to abandon.
type cancelledParams struct {
	RequestId protocol.RequestId `json:"requestId"`
}

// handleCancelled cancels the named in-flight request on the session's own
// Dispatcher. It is registered identically on both the Server and the
// Client (client.go) since either peer may cancel a request it's waiting on.
func handleCancelled(ctx context.Context, params json.RawMessage) error {
	var req cancelledParams
	if err := json.Unmarshal(params, &req); err != nil {
		return fmt.Errorf("malformed notifications/cancelled params: %w", err)
	}
	if d, ok := util.DispatcherFromContext(ctx); ok {
		d.CancelRequest(req.RequestId)
	}
	return nil
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed initialize params: %s", err)
		}
	}
	if init, ok := util.InitStateFromContext(ctx); ok {
		init.Complete()
	}
	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ServerCapabilities{
			Tools:     &protocol.ListChangedCapability{ListChanged: true},
			Resources: &protocol.ResourcesCapability{Subscribe: true, ListChanged: true},
			Prompts:   &protocol.ListChangedCapability{ListChanged: true},
			Tasks:     &protocol.TasksCapability{},
		},
		ServerInfo: s.Info,
	}, nil
}

// claimsFromContext adapts util.ClaimsFromContext's value Claims to the
// *auth.Claims shape the registries gate on, where nil means "no identity".
func claimsFromContext(ctx context.Context) *auth.Claims {
	c, ok := util.ClaimsFromContext(ctx)
	if !ok {
		return nil
	}
	return &c
}

func (s *Server) handleToolsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.PaginatedListParams
	_ = json.Unmarshal(params, &req)
	page := s.Capabilities.Tools.ValuesPaginated(req.Cursor, protocol.DefaultPageSize, claimsFromContext(ctx))
	return protocol.ToolsListResult{Tools: page.Items, NextCursor: page.NextCursor}, nil
}

// taskAugmentation is the "task" object a tools/call's _meta carries to
// request durable, pollable execution instead of an inline result.
type taskAugmentation struct {
	TtlMs int64 `json:"ttl_ms,omitempty"`
}

type toolCallMeta struct {
	ProgressToken *protocol.ProgressToken `json:"progressToken,omitempty"`
	Task          *taskAugmentation       `json:"task,omitempty"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Meta      *toolCallMeta   `json:"_meta,omitempty"`
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req toolCallParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed tools/call params: %s", err)
	}
	tool, ok := s.Capabilities.Tools.Get(req.Name)
	if !ok {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "Tool not found: %s", req.Name)
	}
	claims := claimsFromContext(ctx)
	if !toolAuthorized(tool, claims) {
		return nil, protocol.NewError(protocol.InvalidRequest)
	}
	if tool.Handler == nil {
		return nil, protocol.NewErrorf(protocol.InternalError, "tool %q has no handler", req.Name)
	}

	taskRequested := req.Meta != nil && req.Meta.Task != nil
	switch tool.TaskSupport {
	case protocol.TaskSupportRequired:
		if !taskRequested {
			return nil, protocol.NewErrorf(protocol.MethodNotFound, "tool %q requires task augmentation", req.Name)
		}
	case protocol.TaskSupportForbidden, protocol.TaskSupportNone:
		if taskRequested {
			return nil, protocol.NewErrorf(protocol.InvalidRequest, "tool %q does not support task augmentation", req.Name)
		}
	}

	if !taskRequested {
		result, err := tool.Handler(ctx, req.Arguments)
		if err != nil {
			return protocol.ToolCallResult{IsError: true, Content: []protocol.TextContent{{Type: "text", Text: err.Error()}}}, nil
		}
		return s.renderToolResult(result), nil
	}

	ttl := s.Capabilities.DefaultTaskTtl
	if req.Meta.Task.TtlMs > 0 {
		ttl = time.Duration(req.Meta.Task.TtlMs) * time.Millisecond
	}
	task, taskCtx := s.Capabilities.Tasks.Create(s.baseCtx, ttl)
	if claims != nil {
		taskCtx = util.WithClaims(taskCtx, *claims)
	}

	dispatcher, hasDispatcher := util.DispatcherFromContext(ctx)

	go func() {
		result, err := tool.Handler(taskCtx, req.Arguments)
		if err != nil {
			_ = s.Capabilities.Tasks.Fail(task.Id, protocol.NewErrorf(protocol.InternalError, "%s", err))
		} else {
			_ = s.Capabilities.Tasks.Complete(task.Id, s.renderToolResult(result))
		}
		if hasDispatcher {
			if updated, ok := s.Capabilities.Tasks.Get(task.Id); ok {
				_ = protocol.PublishTaskStatus(s.baseCtx, dispatcher, updated)
			}
		}
	}()

	return protocol.CreateTaskResult{Task: task}, nil
}

func toolAuthorized(tool protocol.Tool, claims *auth.Claims) bool {
	if len(tool.Roles) == 0 && len(tool.Permissions) == 0 {
		return true
	}
	if claims == nil {
		return false
	}
	return claims.HasAnyRole(tool.Roles) && claims.HasAllPermissions(tool.Permissions)
}

func (s *Server) renderToolResult(result interface{}) protocol.ToolCallResult {
	if result == nil {
		return protocol.ToolCallResult{}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return protocol.ToolCallResult{IsError: true, Content: []protocol.TextContent{{Type: "text", Text: err.Error()}}}
	}
	return protocol.ToolCallResult{Content: []protocol.TextContent{{Type: "text", Text: string(b)}}}
}

func (s *Server) handleResourcesList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.PaginatedListParams
	_ = json.Unmarshal(params, &req)
	page := s.Capabilities.Resources.ValuesPaginated(req.Cursor, protocol.DefaultPageSize, claimsFromContext(ctx))
	return protocol.ResourcesListResult{Resources: page.Items, NextCursor: page.NextCursor}, nil
}

func (s *Server) handleResourceTemplatesList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.PaginatedListParams
	_ = json.Unmarshal(params, &req)
	page := s.Capabilities.ResourceTemplates.ValuesPaginated(req.Cursor, protocol.DefaultPageSize, claimsFromContext(ctx))
	return protocol.ResourceTemplatesListResult{ResourceTemplates: page.Items, NextCursor: page.NextCursor}, nil
}

type resourceUriParams struct {
	Uri string `json:"uri"`
}

func (s *Server) handleResourcesRead(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req resourceUriParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed resources/read params: %s", err)
	}

	if _, ok := s.Capabilities.Resources.Get(req.Uri); ok {
		return nil, protocol.NewErrorf(protocol.ResourceNotFound, "resource %q has no direct content handler", req.Uri)
	}

	tmpl, bindings, ok := s.Capabilities.Router.Find(req.Uri)
	if !ok {
		return nil, protocol.NewErrorf(protocol.ResourceNotFound, "no resource matches: %s", req.Uri)
	}
	claims := claimsFromContext(ctx)
	if !resourceTemplateAuthorized(*tmpl, claims) {
		return nil, protocol.NewError(protocol.InvalidRequest)
	}
	if tmpl.Handler == nil {
		return nil, protocol.NewErrorf(protocol.InternalError, "resource template %q has no handler", tmpl.UriTemplate)
	}
	paramMap := make(map[string]string, len(bindings))
	for _, b := range bindings {
		paramMap[b.Name] = b.Value
	}
	return tmpl.Handler(ctx, paramMap)
}

func resourceTemplateAuthorized(tmpl protocol.ResourceTemplate, claims *auth.Claims) bool {
	if len(tmpl.Roles) == 0 && len(tmpl.Permissions) == 0 {
		return true
	}
	if claims == nil {
		return false
	}
	return claims.HasAnyRole(tmpl.Roles) && claims.HasAllPermissions(tmpl.Permissions)
}

func (s *Server) handleResourcesSubscribe(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req resourceUriParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed resources/subscribe params: %s", err)
	}
	s.Capabilities.Resources.Subscribe(req.Uri)
	return protocol.EmptyResult{}, nil
}

func (s *Server) handleResourcesUnsubscribe(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req resourceUriParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed resources/unsubscribe params: %s", err)
	}
	s.Capabilities.Resources.Unsubscribe(req.Uri)
	return protocol.EmptyResult{}, nil
}

func (s *Server) handlePromptsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.PaginatedListParams
	_ = json.Unmarshal(params, &req)
	page := s.Capabilities.Prompts.ValuesPaginated(req.Cursor, protocol.DefaultPageSize, claimsFromContext(ctx))
	return protocol.PromptsListResult{Prompts: page.Items, NextCursor: page.NextCursor}, nil
}

type promptGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (s *Server) handlePromptsGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req promptGetParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed prompts/get params: %s", err)
	}
	prompt, ok := s.Capabilities.Prompts.Get(req.Name)
	if !ok {
		return nil, protocol.NewErrorf(protocol.ResourceNotFound, "unknown prompt: %s", req.Name)
	}
	claims := claimsFromContext(ctx)
	if len(prompt.Roles) > 0 || len(prompt.Permissions) > 0 {
		if claims == nil || !(claims.HasAnyRole(prompt.Roles) && claims.HasAllPermissions(prompt.Permissions)) {
			return nil, protocol.NewError(protocol.InvalidRequest)
		}
	}
	if prompt.Handler == nil {
		return nil, protocol.NewErrorf(protocol.InternalError, "prompt %q has no handler", req.Name)
	}
	return prompt.Handler(ctx, req.Arguments)
}

func (s *Server) handleTasksList(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.PaginatedListParams
	_ = json.Unmarshal(params, &req)
	tasks := s.Capabilities.Tasks.List()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	page := protocol.Paginate(tasks, req.Cursor, protocol.DefaultPageSize)
	return protocol.TasksListResult{Tasks: page.Items, NextCursor: page.NextCursor}, nil
}

type taskIdParams struct {
	Id string `json:"id"`
}

func (s *Server) handleTasksGet(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req taskIdParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed tasks/get params: %s", err)
	}
	task, ok := s.Capabilities.Tasks.Get(req.Id)
	if !ok {
		return nil, protocol.NewErrorf(protocol.ResourceNotFound, "unknown task: %s", req.Id)
	}
	return task, nil
}

func (s *Server) handleTasksResult(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req taskIdParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed tasks/result params: %s", err)
	}
	result, taskErr, err := s.Capabilities.Tasks.Result(ctx, req.Id)
	if err != nil {
		return nil, fmt.Errorf("tasks/result: %w", err)
	}
	if taskErr != nil {
		return nil, taskErr
	}
	var raw json.RawMessage = result
	return raw, nil
}

// handleCompletionComplete answers "completion/complete": it resolves the
// ref to a registered Prompt or ResourceTemplate, looks up the completion
// handler registered for the named argument, and reports its candidates. A
// ref or argument with no completion handler registered answers with an
// empty, exhausted candidate list rather than an error — the absence of
// suggestions is not a protocol fault.
func (s *Server) handleCompletionComplete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req protocol.CompletionParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed completion/complete params: %s", err)
	}

	var completions map[string]protocol.CompletionHandler
	switch req.Ref.Type {
	case "ref/prompt":
		prompt, ok := s.Capabilities.Prompts.Get(req.Ref.Name)
		if !ok {
			return nil, protocol.NewErrorf(protocol.ResourceNotFound, "unknown prompt: %s", req.Ref.Name)
		}
		completions = prompt.Completions
	case "ref/resource":
		tmpl, _, ok := s.Capabilities.Router.Find(req.Ref.Uri)
		if !ok {
			return nil, protocol.NewErrorf(protocol.ResourceNotFound, "no resource template matches: %s", req.Ref.Uri)
		}
		completions = tmpl.Completions
	default:
		return nil, protocol.NewErrorf(protocol.InvalidParams, "unknown completion ref type: %s", req.Ref.Type)
	}

	handler, ok := completions[req.Argument.Name]
	if !ok {
		return protocol.CompletionResult{Completion: protocol.CompletionValues{Values: []string{}}}, nil
	}
	values, hasMore, err := handler(ctx, req.Argument.Value)
	if err != nil {
		return nil, fmt.Errorf("completion/complete: %w", err)
	}
	return protocol.CompletionResult{Completion: protocol.CompletionValues{Values: values, Total: len(values), HasMore: hasMore}}, nil
}

type loggingSetLevelParams struct {
	Level string `json:"level"`
}

// handleLoggingSetLevel answers "logging/setLevel": it re-points the
// server's shared log level so every subsequent log call, on any session,
// observes the new severity immediately.
func (s *Server) handleLoggingSetLevel(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req loggingSetLevelParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed logging/setLevel params: %s", err)
	}
	if err := s.Logger.SetLevel(req.Level); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "%s", err)
	}
	return protocol.EmptyResult{}, nil
}

func (s *Server) handleTasksCancel(_ context.Context, params json.RawMessage) (interface{}, error) {
	var req taskIdParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewErrorf(protocol.InvalidParams, "malformed tasks/cancel params: %s", err)
	}
	if err := s.Capabilities.Tasks.Cancel(req.Id); err != nil {
		return nil, protocol.NewErrorf(protocol.ResourceNotFound, "%s", err)
	}
	return protocol.EmptyResult{}, nil
}
