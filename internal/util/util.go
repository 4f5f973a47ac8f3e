// Copyright 2025 Google LLC
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
package util

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	yaml "github.com/goccy/go-yaml"
	"github.com/go-playground/validator/v10"

	"github.com/RomanEmreis/neva-go/internal/auth"
	"github.com/RomanEmreis/neva-go/internal/log"
	"github.com/RomanEmreis/neva-go/internal/protocol"
	"github.com/RomanEmreis/neva-go/internal/telemetry"
)

// DecodeJSON decodes a given reader into an interface using the json decoder.
func DecodeJSON(r io.Reader, v interface{}) error {
	defer io.Copy(io.Discard, r) //nolint:errcheck
	d := json.NewDecoder(r)
	// specify JSON numbers should get parsed to json.Number instead of float64 by default.
	// This prevents loss between floats/ints.
	d.UseNumber()
	return d.Decode(v)
}

var _ yaml.InterfaceUnmarshalerContext = &DelayedUnmarshaler{}

// DelayedUnmarshaler is a struct that saves the provided unmarshal function
// passed to UnmarshalYAML so it can be re-used later once the target interface
// is known. Used when decoding the polymorphic auth service declarations in
// the server config file.
type DelayedUnmarshaler struct {
	unmarshal func(interface{}) error
}

func (d *DelayedUnmarshaler) UnmarshalYAML(_ context.Context, unmarshal func(interface{}) error) error {
	d.unmarshal = unmarshal
	return nil
}

func (d *DelayedUnmarshaler) Unmarshal(v interface{}) error {
	if d.unmarshal == nil {
		return fmt.Errorf("nothing to unmarshal")
	}
	return d.unmarshal(v)
}

// NewStrictDecoder returns a yaml.Decoder that rejects unknown fields and
// validates struct tags, re-marshaling v first so the decoder's strictness
// is enforced against v's own shape.
func NewStrictDecoder(v interface{}) (*yaml.Decoder, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("fail to marshal %q: %w", v, err)
	}

	dec := yaml.NewDecoder(
		bytes.NewReader(b),
		yaml.Strict(),
		yaml.Validator(validator.New()),
	)
	return dec, nil
}

type contextKey string

// userAgentKey is the key used to store userAgent within context
const userAgentKey contextKey = "userAgent"

// WithUserAgent adds a user agent into the context as a value
func WithUserAgent(ctx context.Context, versionString string) context.Context {
	userAgent := "neva-go/" + versionString
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// UserAgentFromContext retrieves the user agent or return an error
func UserAgentFromContext(ctx context.Context) (string, error) {
	if ua := ctx.Value(userAgentKey); ua != nil {
		return ua.(string), nil
	}
	return "", fmt.Errorf("unable to retrieve user agent")
}

// loggerKey is the key used to store logger within context
const loggerKey contextKey = "logger"

// WithLogger adds a logger into the context as a value
func WithLogger(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the logger or return an error
func LoggerFromContext(ctx context.Context) (log.Logger, error) {
	if logger, ok := ctx.Value(loggerKey).(log.Logger); ok {
		return logger, nil
	}
	return nil, fmt.Errorf("unable to retrieve logger")
}

// instrumentationKey is the key used to store instrumentation within context
const instrumentationKey contextKey = "instrumentation"

// WithInstrumentation adds the runtime's tracer/meter bundle into the context.
func WithInstrumentation(ctx context.Context, i *telemetry.Instrumentation) context.Context {
	return context.WithValue(ctx, instrumentationKey, i)
}

// InstrumentationFromContext retrieves the instrumentation bundle or returns an error.
func InstrumentationFromContext(ctx context.Context) (*telemetry.Instrumentation, error) {
	if i, ok := ctx.Value(instrumentationKey).(*telemetry.Instrumentation); ok {
		return i, nil
	}
	return nil, fmt.Errorf("unable to retrieve instrumentation")
}

// sessionIDKey is the key used to store the MCP session id within context
const sessionIDKey contextKey = "mcpSessionId"

// WithSessionID stamps the session id assigned to this peer connection onto the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the session id, or "" if the transport is not session-aware.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// claimsKey is the key used to store verified auth claims within context
const claimsKey contextKey = "claims"

// WithClaims attaches the verified claims extracted by an auth.AuthService.
func WithClaims(ctx context.Context, c auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext retrieves the verified claims, if any were attached.
func ClaimsFromContext(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(auth.Claims)
	return c, ok
}

// dispatcherKey is the key used to store the owning session's Dispatcher
// within context, so a handler spawning a detached background goroutine
// (a task-augmented tool call) can still publish notifications back to the
// peer that issued the call.
const dispatcherKey contextKey = "dispatcher"

// WithDispatcher attaches the session's Dispatcher to the context.
func WithDispatcher(ctx context.Context, d *protocol.Dispatcher) context.Context {
	return context.WithValue(ctx, dispatcherKey, d)
}

// DispatcherFromContext retrieves the session's Dispatcher, if attached.
func DispatcherFromContext(ctx context.Context) (*protocol.Dispatcher, bool) {
	d, ok := ctx.Value(dispatcherKey).(*protocol.Dispatcher)
	return d, ok
}

// initStateKey is the key used to store the owning session's InitState
// within context, so the shared "initialize" handler can mark the right
// session's handshake complete.
const initStateKey contextKey = "initState"

// WithInitState attaches the session's InitState to the context.
func WithInitState(ctx context.Context, s *protocol.InitState) context.Context {
	return context.WithValue(ctx, initStateKey, s)
}

// InitStateFromContext retrieves the session's InitState, if attached.
func InitStateFromContext(ctx context.Context) (*protocol.InitState, bool) {
	s, ok := ctx.Value(initStateKey).(*protocol.InitState)
	return s, ok
}
