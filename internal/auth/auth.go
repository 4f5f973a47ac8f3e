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

// Package auth extracts the verified identity (Claims) a request carries
// across an authenticated transport, for use by the capability registries'
// role/permission gate (component C6). It does not validate bearer tokens
// or JWTs itself — that remains an external collaborator, per the protocol
// runtime's scope — it only defines the shape an AuthService must produce.
package auth

import "net/http"

// Claims is the verified identity attached to a request by an AuthService.
// A zero-value Claims (no roles, no permissions) is indistinguishable from
// "unauthenticated" for gating purposes: an entity requiring roles or
// permissions always denies it.
type Claims struct {
	Subject     string
	Roles       []string
	Permissions []string
}

// HasAnyRole reports whether c holds at least one of required. An empty
// required set is always satisfied.
func (c Claims) HasAnyRole(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		if containsString(c.Roles, want) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether c holds every permission in required.
// An empty required set is always satisfied.
func (c Claims) HasAllPermissions(required []string) bool {
	for _, want := range required {
		if !containsString(c.Permissions, want) {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// AuthServiceConfig is implemented by a specific auth service's config so
// that it can be registered and later used to instantiate the service.
type AuthServiceConfig interface {
	AuthServiceConfigKind() string
	Initialize() (AuthService, error)
}

// AuthService extracts verified Claims from an inbound request's headers.
// A transport-level auth service (e.g. bearer/JWT validation against an
// identity provider) is an external collaborator; this interface is all the
// dispatcher depends on.
type AuthService interface {
	// AuthServiceKind returns the kind string this service was registered under.
	AuthServiceKind() string
	// GetName returns the configured name of this auth service instance.
	GetName() string
	// ClaimsFromHeader verifies the request headers and returns the resulting
	// Claims. A nil, nil return means the header this service looks for was
	// absent — not every auth service need apply to every request.
	ClaimsFromHeader(h http.Header) (*Claims, error)
}
