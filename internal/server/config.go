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
	"bytes"
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	yaml "github.com/goccy/go-yaml"

	"github.com/RomanEmreis/neva-go/internal/auth"
	"github.com/RomanEmreis/neva-go/internal/auth/staticclaims"
	"github.com/RomanEmreis/neva-go/internal/util"
)

// logFormat is the pflag.Value the --logging-format flag binds to, matching
// the teacher's own logFormat string enum.
type logFormat string

func (f *logFormat) String() string { return string(*f) }
func (f *logFormat) Set(v string) error {
	switch v {
	case "standard", "json":
		*f = logFormat(v)
		return nil
	default:
		return fmt.Errorf("logging format must be either 'standard' or 'json'")
	}
}
func (f *logFormat) Type() string { return "string" }

// StringLevel is the pflag.Value the --log-level flag binds to.
type StringLevel string

func (l *StringLevel) String() string { return string(*l) }
func (l *StringLevel) Set(v string) error {
	switch v {
	case "DEBUG", "INFO", "WARN", "ERROR":
		*l = StringLevel(v)
		return nil
	default:
		return fmt.Errorf("log level must be one of DEBUG, INFO, WARN, ERROR")
	}
}
func (l *StringLevel) Type() string { return "string" }

// AuthServiceConfigs is the polymorphic "kind"-discriminated auth service
// section of the config file, parsed the way the teacher's
// AuthServiceConfigs.UnmarshalYAML dispatches on a kind field — generalized
// here to the single staticclaims.Config kind this runtime ships, since the
// concrete OAuth/JWT verifiers stayed out of scope (see DESIGN.md).
type AuthServiceConfigs map[string]auth.AuthServiceConfig

func (a *AuthServiceConfigs) UnmarshalYAML(ctx context.Context, unmarshal func(interface{}) error) error {
	raw := make(map[string]util.DelayedUnmarshaler)
	if err := unmarshal(&raw); err != nil {
		return err
	}

	*a = make(AuthServiceConfigs)
	for name, du := range raw {
		var v map[string]any
		if err := du.Unmarshal(&v); err != nil {
			return fmt.Errorf("unable to unmarshal auth service %q: %w", name, err)
		}

		kind, ok := v["kind"]
		if !ok {
			return fmt.Errorf("missing 'kind' field for auth service %q", name)
		}

		dec, err := util.NewStrictDecoder(v)
		if err != nil {
			return fmt.Errorf("error creating decoder for auth service %q: %w", name, err)
		}

		cfg, err := decodeAuthServiceConfig(ctx, dec, kind, name)
		if err != nil {
			return err
		}
		(*a)[name] = cfg
	}
	return nil
}

func decodeAuthServiceConfig(ctx context.Context, dec *yaml.Decoder, kind any, name string) (auth.AuthServiceConfig, error) {
	switch kind {
	case staticclaims.AuthServiceKind:
		actual := staticclaims.Config{Name: name, Kind: staticclaims.AuthServiceKind}
		if err := dec.DecodeContext(ctx, &actual); err != nil {
			return nil, fmt.Errorf("unable to parse auth service %q as kind %q: %w", name, kind, err)
		}
		return actual, nil
	default:
		return nil, fmt.Errorf("%q is not a valid auth service kind", kind)
	}
}

// ToolConfig is the static, YAML-declarable shape of a Tool: everything but
// the Go handler function, which a built-in "kind" supplies (see
// internal/server/builtin). A config-declared tool can only ever be one of
// the runtime's built-in demo kinds; arbitrary handlers are wired by Go code
// that calls Capabilities.RegisterTool directly instead of going through
// this file.
type ToolConfig struct {
	Kind        string                 `yaml:"kind" validate:"required"`
	Title       string                 `yaml:"title"`
	Description string                 `yaml:"description"`
	Roles       []string               `yaml:"roles"`
	Permissions []string               `yaml:"permissions"`
	TaskSupport string                 `yaml:"taskSupport"`
	Params      map[string]interface{} `yaml:"params"`
}

// PromptConfig is the static, YAML-declarable shape of a Prompt, mirroring
// ToolConfig's "kind"-selects-a-built-in-handler shape.
type PromptConfig struct {
	Kind        string                 `yaml:"kind" validate:"required"`
	Title       string                 `yaml:"title"`
	Description string                 `yaml:"description"`
	Arguments   []PromptArgumentConfig `yaml:"arguments"`
	Roles       []string               `yaml:"roles"`
	Permissions []string               `yaml:"permissions"`
	Params      map[string]interface{} `yaml:"params"`
}

// PromptArgumentConfig is one declared argument of a PromptConfig.
type PromptArgumentConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// RootConfig declares a root that InitializeConfigs seeds into the
// server's Roots registry.
type RootConfig struct {
	Uri  string `yaml:"uri" validate:"required"`
	Name string `yaml:"name"`
}

// ToolConfigs is the "tools:" section of the config file, name-keyed.
type ToolConfigs map[string]ToolConfig

// PromptConfigs is the "prompts:" section of the config file, name-keyed.
type PromptConfigs map[string]PromptConfig

// ServerConfig is the top-level shape of the YAML config file this runtime
// parses: the generalized analogue of the teacher's ServerConfig, carrying
// listen address, ambient logging/telemetry knobs, task defaults, and the
// tools/prompts/roots declarations the example cmd/ server seeds its
// registries from at startup, instead of the teacher's sources/tools/
// toolsets triple.
type ServerConfig struct {
	Version string `yaml:"-"`

	Address string `yaml:"address" validate:"required"`
	Port    int    `yaml:"port" validate:"required,min=1,max=65535"`

	LoggingFormat logFormat   `yaml:"loggingFormat"`
	LogLevel      StringLevel `yaml:"logLevel"`

	Stdio         bool `yaml:"stdio"`
	DisableReload bool `yaml:"-"`

	DefaultTaskTtlMs      int64 `yaml:"defaultTaskTtlMs" validate:"min=0"`
	DefaultPollIntervalMs int64 `yaml:"defaultPollIntervalMs" validate:"min=0"`

	TelemetryOTLP        string `yaml:"-"`
	TelemetryServiceName string `yaml:"-"`

	AuthServices AuthServiceConfigs `yaml:"authServices"`
	Tools        ToolConfigs        `yaml:"tools"`
	Prompts      PromptConfigs      `yaml:"prompts"`
	Roots        []RootConfig       `yaml:"roots"`
}

// Addr renders the listen address/port pair as a "host:port" string.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// DefaultServerConfig seeds the fields a bare config file is allowed to
// omit, mirroring the teacher's NewCommand flag defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:               "127.0.0.1",
		Port:                  5000,
		LoggingFormat:         "standard",
		LogLevel:              "INFO",
		DefaultTaskTtlMs:      int64(5 * 60 * 1000),
		DefaultPollIntervalMs: 1000,
	}
}

// ParseServerConfig decodes raw as a ServerConfig over cfg's already-set
// defaults, the generalized analogue of the teacher's parseToolsFile,
// validating struct tags as it decodes. Unlike the strict decoder the auth
// service section uses, it ignores unknown top-level keys.
func ParseServerConfig(ctx context.Context, raw []byte, cfg ServerConfig) (ServerConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw), yaml.Validator(validator.New()))
	if err := dec.DecodeContext(ctx, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("unable to parse server config: %w", err)
	}
	return cfg, nil
}
