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

// Predicate reports whether a conditional middleware should run for a
// given request method.
type Predicate func(method string) bool

// Conditional wraps mw so it only runs when pred(method) holds; otherwise
// the request passes straight through to next, unmodified.
func Conditional(pred Predicate, mw Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		wrapped := mw(next)
		return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			method, _ := methodFromContext(ctx)
			if pred(method) {
				return wrapped(ctx, params)
			}
			return next(ctx, params)
		}
	}
}

type methodContextKey struct{}

// withMethod stamps the method name of the request currently being handled
// onto ctx, so Conditional middlewares can inspect it without threading it
// through every HandlerFunc signature.
func withMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodContextKey{}, method)
}

func methodFromContext(ctx context.Context) (string, bool) {
	m, ok := ctx.Value(methodContextKey{}).(string)
	return m, ok
}
