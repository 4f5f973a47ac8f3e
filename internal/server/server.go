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

package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"

	"github.com/RomanEmreis/neva-go/internal/auth"
	"github.com/RomanEmreis/neva-go/internal/log"
	"github.com/RomanEmreis/neva-go/internal/peer"
	"github.com/RomanEmreis/neva-go/internal/protocol"
	"github.com/RomanEmreis/neva-go/internal/server/builtin"
	"github.com/RomanEmreis/neva-go/internal/telemetry"
	"github.com/RomanEmreis/neva-go/internal/transport/httpsse"
	"github.com/RomanEmreis/neva-go/internal/transport/stdio"
	"github.com/RomanEmreis/neva-go/internal/util"
)

// ResourceManager holds the mutable, config-derived state a running Server
// serves against: the auth services a transport consults to build Claims,
// and the peer.Capabilities bundle every session's protocol.HandlerRegistry
// answers out of. It is the generalized analogue of the teacher's
// ResourceManager, which held sources/tools/toolsets instead.
type ResourceManager struct {
	mu           sync.RWMutex
	authServices map[string]auth.AuthService
	caps         *peer.Capabilities
}

// NewResourceManager builds a ResourceManager over an already-seeded
// Capabilities bundle and auth service map.
func NewResourceManager(authServices map[string]auth.AuthService, caps *peer.Capabilities) *ResourceManager {
	return &ResourceManager{authServices: authServices, caps: caps}
}

// GetAuthService returns the named auth service, if configured.
func (r *ResourceManager) GetAuthService(name string) (auth.AuthService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.authServices[name]
	return a, ok
}

// AuthServices returns every configured auth service, for a transport that
// tries each one in turn against an inbound request's headers.
func (r *ResourceManager) AuthServices() map[string]auth.AuthService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authServices
}

// Capabilities returns the registry bundle live sessions answer against.
func (r *ResourceManager) Capabilities() *peer.Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps
}

// SetAuthServices swaps in a freshly-initialized auth service map, the way
// a config reload replaces the teacher's ResourceManager.SetResources.
func (r *ResourceManager) SetAuthServices(authServices map[string]auth.AuthService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authServices = authServices
}

// InitializeConfigs builds the auth services and seeds a fresh
// peer.Capabilities bundle from cfg, the generalized analogue of the
// teacher's InitializeConfigs (sources/tools/toolsets), instrumented the
// same way: one span per init step, an info log line with the count.
func InitializeConfigs(ctx context.Context, cfg ServerConfig, l log.Logger, instrumentation *telemetry.Instrumentation, notify func(category string)) (map[string]auth.AuthService, *peer.Capabilities, error) {
	authServicesMap := make(map[string]auth.AuthService)
	for name, ac := range cfg.AuthServices {
		err := func() error {
			_, span := instrumentation.Tracer.Start(ctx, "neva/server/auth/init")
			defer span.End()
			a, err := ac.Initialize()
			if err != nil {
				return fmt.Errorf("unable to initialize auth service %q: %w", name, err)
			}
			authServicesMap[name] = a
			return nil
		}()
		if err != nil {
			return nil, nil, err
		}
	}
	l.InfoContext(ctx, fmt.Sprintf("initialized %d auth services.", len(authServicesMap)))

	caps := peer.NewCapabilities(notify)
	if cfg.DefaultTaskTtlMs > 0 {
		caps.DefaultTaskTtl = time.Duration(cfg.DefaultTaskTtlMs) * time.Millisecond
	}

	for name, tc := range cfg.Tools {
		_, span := instrumentation.Tracer.Start(ctx, "neva/server/tool/init")
		handler, inputSchema, err := builtin.BuildTool(tc.Kind, tc.Params)
		span.End()
		if err != nil {
			return nil, nil, fmt.Errorf("unable to initialize tool %q: %w", name, err)
		}
		caps.RegisterTool(protocol.Tool{
			Name:        name,
			Title:       tc.Title,
			Description: tc.Description,
			InputSchema: inputSchema,
			Handler:     handler,
			Roles:       tc.Roles,
			Permissions: tc.Permissions,
			TaskSupport: builtin.ParseTaskSupport(tc.TaskSupport),
		})
	}
	l.InfoContext(ctx, fmt.Sprintf("initialized %d tools.", len(cfg.Tools)))

	for name, pc := range cfg.Prompts {
		_, span := instrumentation.Tracer.Start(ctx, "neva/server/prompt/init")
		handler, err := builtin.BuildPrompt(pc.Kind, pc.Params)
		span.End()
		if err != nil {
			return nil, nil, fmt.Errorf("unable to initialize prompt %q: %w", name, err)
		}
		args := make([]protocol.PromptArgument, 0, len(pc.Arguments))
		for _, a := range pc.Arguments {
			args = append(args, protocol.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
		}
		caps.Prompts.Insert(protocol.Prompt{
			Name:        name,
			Title:       pc.Title,
			Description: pc.Description,
			Arguments:   args,
			Handler:     handler,
			Roles:       pc.Roles,
			Permissions: pc.Permissions,
		})
	}
	l.InfoContext(ctx, fmt.Sprintf("initialized %d prompts.", len(cfg.Prompts)))

	for _, rc := range cfg.Roots {
		caps.Roots.Insert(protocol.Root{Uri: rc.Uri, Name: rc.Name})
	}
	l.InfoContext(ctx, fmt.Sprintf("initialized %d roots.", len(cfg.Roots)))

	return authServicesMap, caps, nil
}

// Server hosts one or more live MCP sessions (T1 stdio or T2 HTTP/SSE)
// sharing a single ResourceManager, the generalized analogue of the
// teacher's chi-router-plus-sseManager Server.
type Server struct {
	version         string
	srv             *http.Server
	listener        net.Listener
	root            chi.Router
	logger          log.Logger
	instrumentation *telemetry.Instrumentation
	sessions        *httpsse.SessionManager
	ResourceMgr     *ResourceManager

	info       protocol.Implementation
	peerServer *peer.Server

	connMu      sync.Mutex
	connections map[string]*peer.Connection
}

// NewServer returns a Server built from cfg, wiring a peer.Server over
// whatever Capabilities InitializeConfigs seeds and mounting it under
// "/mcp" the way the teacher mounts its own mcpRouter.
func NewServer(ctx context.Context, cfg ServerConfig, logger log.Logger, instrumentation *telemetry.Instrumentation) (*Server, error) {
	ctx, span := instrumentation.Tracer.Start(ctx, "neva/server/init")
	defer span.End()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	logLevel, err := log.SeverityToLevel(cfg.LogLevel.String())
	if err != nil {
		return nil, fmt.Errorf("unable to initialize http log: %w", err)
	}
	var httpOpts httplog.Options
	switch cfg.LoggingFormat.String() {
	case "json":
		httpOpts = httplog.Options{
			JSON:             true,
			LogLevel:         logLevel,
			Concise:          true,
			RequestHeaders:   false,
			MessageFieldName: "message",
			SourceFieldName:  "logging.googleapis.com/sourceLocation",
			TimeFieldName:    "timestamp",
			LevelFieldName:   "severity",
		}
	case "standard", "":
		httpOpts = httplog.Options{
			LogLevel:         logLevel,
			Concise:          true,
			RequestHeaders:   false,
			MessageFieldName: "message",
		}
	default:
		return nil, fmt.Errorf("invalid logging format: %q", cfg.LoggingFormat.String())
	}
	httpLogger := httplog.NewLogger("httplog", httpOpts)
	r.Use(httplog.RequestLogger(httpLogger))

	info := protocol.Implementation{Name: "neva-go", Version: cfg.Version}

	s := &Server{
		version:         cfg.Version,
		root:            r,
		logger:          logger,
		instrumentation: instrumentation,
		info:            info,
		connections:     make(map[string]*peer.Connection),
	}

	authServicesMap, caps, err := InitializeConfigs(ctx, cfg, logger, instrumentation, func(category string) {
		s.broadcastListChanged(category)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize configs: %w", err)
	}
	s.ResourceMgr = NewResourceManager(authServicesMap, caps)
	s.peerServer = peer.NewServer(ctx, info, caps, logger, instrumentation)

	s.sessions = httpsse.NewSessionManager(ctx, func(sessionId string, t *httpsse.Transport) {
		s.runConnection(ctx, sessionId, t)
	})

	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	s.srv = &http.Server{Addr: addr, Handler: r}

	r.Mount("/mcp", httpsse.Mount(s.sessions, s.attachClaims))
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("neva-go MCP server"))
	})

	return s, nil
}

// runConnection wires a peer.Connection over t, tracks it under sessionId
// so attachClaims can find it again, and runs its read loop on its own
// goroutine until the transport closes.
func (s *Server) runConnection(ctx context.Context, sessionId string, t *httpsse.Transport) {
	conn := peer.NewConnection(sessionId, t, s.peerServer.HandlerRegistry(), s.logger, s.instrumentation, protocol.DispatcherOptions{})
	s.connMu.Lock()
	s.connections[sessionId] = conn
	s.connMu.Unlock()

	go func() {
		defer func() {
			s.connMu.Lock()
			delete(s.connections, sessionId)
			s.connMu.Unlock()
		}()
		if err := conn.Run(util.WithSessionID(ctx, sessionId)); err != nil {
			s.logger.ErrorContext(ctx, fmt.Sprintf("session %s ended: %s", sessionId, err))
		}
	}()
}

// attachClaims runs every configured auth service against h in turn and,
// on the first match, stamps the resulting Claims onto sessionId's
// Connection. T2's SessionManager.onNew fires before the creating
// request's headers are available to runConnection, so per-request POST
// handling is the first point a claims lookup has headers to check
// against; a session that never matches any auth service simply carries
// no identity, the same as bare stdio.
func (s *Server) attachClaims(sessionId string, h http.Header) {
	s.connMu.Lock()
	conn, ok := s.connections[sessionId]
	s.connMu.Unlock()
	if !ok || conn.Claims() != nil {
		return
	}
	for _, a := range s.ResourceMgr.AuthServices() {
		claims, err := a.ClaimsFromHeader(h)
		if err == nil && claims != nil {
			conn.SetClaims(claims)
			return
		}
	}
}

// broadcastListChanged fans "notifications/<category>/list_changed" out to
// every live Connection, firing on a registry mutation the way
// Capabilities.onChange expects a subscriber to react.
func (s *Server) broadcastListChanged(category string) {
	ctx := context.Background()
	s.connMu.Lock()
	conns := make([]*peer.Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connMu.Unlock()
	for _, conn := range conns {
		if err := protocol.PublishListChanged(ctx, conn.Dispatcher, category); err != nil {
			s.logger.ErrorContext(ctx, fmt.Sprintf("list_changed broadcast for %s failed: %s", category, err))
		}
	}
}

// BroadcastLogMessage fans "notifications/message" out to every live
// session, for callers outside this package (e.g. the config-reload watcher)
// that want a log event observed by every connected peer.
func (s *Server) BroadcastLogMessage(level, logger string, data interface{}) {
	s.broadcastLogMessage(level, logger, data)
}

// broadcastLogMessage fans "notifications/message" out to every live
// Connection, the sink for log events a server wants the peer to observe
// rather than keep local to its own out/err streams.
func (s *Server) broadcastLogMessage(level, logger string, data interface{}) {
	ctx := context.Background()
	s.connMu.Lock()
	conns := make([]*peer.Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connMu.Unlock()
	for _, conn := range conns {
		if err := protocol.PublishLogMessage(ctx, conn.Dispatcher, level, logger, data); err != nil {
			s.logger.ErrorContext(ctx, fmt.Sprintf("notifications/message broadcast failed: %s", err))
		}
	}
}

// Listen opens the TCP listener the HTTP server will Serve on.
func (s *Server) Listen(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.listener != nil {
		return fmt.Errorf("server is already listening: %s", s.listener.Addr().String())
	}
	lc := net.ListenConfig{KeepAlive: 30 * time.Second}
	var err error
	if s.listener, err = lc.Listen(ctx, "tcp", s.srv.Addr); err != nil {
		return fmt.Errorf("failed to open listener for %q: %w", s.srv.Addr, err)
	}
	s.logger.DebugContext(ctx, fmt.Sprintf("server listening on %s", s.srv.Addr))
	return nil
}

// Serve runs the HTTP server over the listener opened by Listen.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.DebugContext(ctx, "starting HTTP server.")
	return s.srv.Serve(s.listener)
}

// ServeStdio runs a single T1 stdio session over stdin/stdout/stderr,
// blocking until the stream closes or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	transport := stdio.New(stdin, stdout, stderr)
	conn := peer.NewConnection("stdio", transport, s.peerServer.HandlerRegistry(), s.logger, s.instrumentation, protocol.DispatcherOptions{})
	return conn.Run(ctx)
}

// Shutdown gracefully shuts down the HTTP server without interrupting
// in-flight requests, matching http.Server.Shutdown's own contract.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.DebugContext(ctx, "shutting down the server.")
	return s.srv.Shutdown(ctx)
}
