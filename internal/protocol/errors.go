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
	"encoding/json"
	"fmt"
)

// ErrorCode is the closed set of JSON-RPC/MCP error codes this runtime emits.
type ErrorCode int32

const (
	ParseError            ErrorCode = -32700
	InvalidRequest        ErrorCode = -32600
	MethodNotFound        ErrorCode = -32601
	InvalidParams         ErrorCode = -32602
	InternalError         ErrorCode = -32603
	ResourceNotFound      ErrorCode = -32002
	UrlElicitationRequired ErrorCode = -32042

	// RequestCancelled and Timeout are internal codes outside the JSON-RPC
	// range. The dispatcher answers an inbound request whose context was
	// cancelled (or whose deadline passed) with one of them over the wire, and
	// resolves a pending outbound request locally with one of them when
	// cancellation or a deadline wins the race against a real response.
	RequestCancelled ErrorCode = -99999
	Timeout          ErrorCode = -99998
)

func (c ErrorCode) String() string {
	switch c {
	case ParseError:
		return "Parse error"
	case InvalidRequest:
		return "Invalid request"
	case MethodNotFound:
		return "Method not found"
	case InvalidParams:
		return "Invalid parameters"
	case InternalError:
		return "Internal error"
	case ResourceNotFound:
		return "Resource not found"
	case UrlElicitationRequired:
		return "URL elicitation required error"
	case RequestCancelled:
		return "Request cancelled"
	case Timeout:
		return "Request timed out"
	default:
		return fmt.Sprintf("Error code %d", int32(c))
	}
}

// Valid reports whether c is one of the known codes.
func (c ErrorCode) Valid() bool {
	switch c {
	case ParseError, InvalidRequest, MethodNotFound, InvalidParams, InternalError,
		ResourceNotFound, UrlElicitationRequired, RequestCancelled, Timeout:
		return true
	default:
		return false
	}
}

func (c ErrorCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(int32(c))
}

func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	var v int32
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	code := ErrorCode(v)
	if !code.Valid() {
		return fmt.Errorf("protocol: invalid error code: %d", v)
	}
	*c = code
	return nil
}

// Error is a JSON-RPC error object: a code, a human-readable message, and
// optional structured data. It implements the standard error interface so it
// can travel through Go call chains before being placed on the wire.
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.String()
}

// NewError builds an Error whose message defaults to the code's description.
func NewError(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.String()}
}

// NewErrorf builds an Error with a custom formatted message.
func NewErrorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches structured data to e and returns e for chaining.
func (e *Error) WithData(data interface{}) *Error {
	b, err := json.Marshal(data)
	if err != nil {
		return e
	}
	e.Data = b
	return e
}
