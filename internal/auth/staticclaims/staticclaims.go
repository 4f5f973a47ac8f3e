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

// Package staticclaims is a reference AuthService that reads a subject and
// role/permission set from request headers without verifying a signature.
// It exists so tests and example servers can exercise the C6 authorization
// gate without standing up a real identity provider; it must never be used
// in production, where bearer/JWT verification is an external collaborator.
package staticclaims

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/RomanEmreis/neva-go/internal/auth"
)

// AuthServiceKind is the config kind string this service registers under.
const AuthServiceKind string = "static-claims"

var _ auth.AuthServiceConfig = Config{}

// Config configures a static-claims auth service instance.
type Config struct {
	Name          string `yaml:"name" validate:"required"`
	Kind          string `yaml:"kind" validate:"required"`
	SubjectHeader string `yaml:"subjectHeader" validate:"required"`
	RolesHeader   string `yaml:"rolesHeader"`
	PermsHeader   string `yaml:"permissionsHeader"`
}

// AuthServiceConfigKind returns the auth service kind.
func (cfg Config) AuthServiceConfigKind() string {
	return AuthServiceKind
}

// Initialize builds an AuthService from cfg.
func (cfg Config) Initialize() (auth.AuthService, error) {
	if cfg.SubjectHeader == "" {
		return nil, fmt.Errorf("static-claims auth service %q: subjectHeader is required", cfg.Name)
	}
	return &AuthService{cfg: cfg}, nil
}

var _ auth.AuthService = (*AuthService)(nil)

// AuthService reads claims directly from headers, trusting the transport
// (e.g. a reverse proxy that already validated the caller) to have set them.
type AuthService struct {
	cfg Config
}

// AuthServiceKind returns the auth service kind.
func (a *AuthService) AuthServiceKind() string {
	return AuthServiceKind
}

// GetName returns the configured name of this auth service instance.
func (a *AuthService) GetName() string {
	return a.cfg.Name
}

// ClaimsFromHeader builds Claims from the configured headers. Returns
// (nil, nil) when the subject header is absent, meaning this auth service
// does not apply to the request.
func (a *AuthService) ClaimsFromHeader(h http.Header) (*auth.Claims, error) {
	subject := h.Get(a.cfg.SubjectHeader)
	if subject == "" {
		return nil, nil
	}
	c := &auth.Claims{Subject: subject}
	if a.cfg.RolesHeader != "" {
		c.Roles = splitCSV(h.Get(a.cfg.RolesHeader))
	}
	if a.cfg.PermsHeader != "" {
		c.Permissions = splitCSV(h.Get(a.cfg.PermsHeader))
	}
	return c, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
