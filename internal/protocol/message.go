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

// JSONRPCVersion is the only wire version this runtime speaks.
const JSONRPCVersion = "2.0"

// MessageKind discriminates the three shapes a decoded Message can take.
type MessageKind int

const (
	MessageKindRequest MessageKind = iota
	MessageKindResponse
	MessageKindNotification
)

// wireEnvelope is the union of every field a JSON-RPC frame might carry.
// Decoding a frame into this shape first lets DecodeMessage discriminate the
// variant before committing to a concrete Go type, since id/method/result/
// error presence (not a tag field) is what the wire format uses to say which
// of Request, Response, or Notification a frame is.
type wireEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Id      *RequestId      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Meta carries the optional out-of-band fields the spec threads through
// _meta on requests and notifications, namely the progress token a caller
// wants progress notifications correlated against.
type Meta struct {
	ProgressToken *ProgressToken `json:"progressToken,omitempty"`
}

// Request is an inbound or outbound JSON-RPC call awaiting a Response.
type Request struct {
	Id     RequestId
	Method string
	Params json.RawMessage
	Meta   *Meta
}

// Notification is a one-way JSON-RPC message: no id, no reply expected.
type Notification struct {
	Method string
	Params json.RawMessage
	Meta   *Meta
}

// Response is the reply to a Request, holding either a Result or an Err,
// never both.
type Response struct {
	Id     RequestId
	Result json.RawMessage
	Err    *Error
}

// IsError reports whether r carries an error rather than a result.
func (r Response) IsError() bool {
	return r.Err != nil
}

// Message is the decoded sum type for one JSON-RPC frame: exactly one of
// AsRequest, AsResponse, AsNotification is valid, selected by Kind.
type Message struct {
	Kind         MessageKind
	AsRequest    *Request
	AsResponse   *Response
	AsNotification *Notification
}

// DecodeMessage parses a single JSON-RPC frame (batches are rejected by the
// caller before reaching this function — the dispatcher never accepts
// batched arrays) and classifies it:
//
//   - an "id" with no "result"/"error" is a Request
//   - an "id" with a "result" or "error" is a Response
//   - no "id" at all is a Notification
func DecodeMessage(data []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, NewErrorf(ParseError, "invalid JSON-RPC frame: %s", err)
	}
	if env.JSONRPC != "" && env.JSONRPC != JSONRPCVersion {
		return Message{}, NewErrorf(InvalidRequest, "unsupported jsonrpc version %q", env.JSONRPC)
	}

	switch {
	case env.Id == nil:
		if env.Method == "" {
			return Message{}, NewError(InvalidRequest)
		}
		return Message{
			Kind: MessageKindNotification,
			AsNotification: &Notification{
				Method: env.Method,
				Params: env.Params,
				Meta:   extractMeta(env.Params),
			},
		}, nil

	case env.Result != nil || env.Error != nil:
		return Message{
			Kind: MessageKindResponse,
			AsResponse: &Response{
				Id:     *env.Id,
				Result: env.Result,
				Err:    env.Error,
			},
		}, nil

	default:
		if env.Method == "" {
			return Message{}, NewError(InvalidRequest)
		}
		return Message{
			Kind: MessageKindRequest,
			AsRequest: &Request{
				Id:     *env.Id,
				Method: env.Method,
				Params: env.Params,
				Meta:   extractMeta(env.Params),
			},
		}, nil
	}
}

func extractMeta(params json.RawMessage) *Meta {
	if len(params) == 0 {
		return nil
	}
	var withMeta struct {
		Meta *Meta `json:"_meta"`
	}
	if err := json.Unmarshal(params, &withMeta); err != nil {
		return nil
	}
	return withMeta.Meta
}

// EncodeRequest renders r as a wire frame.
func EncodeRequest(r Request) ([]byte, error) {
	env := wireEnvelope{JSONRPC: JSONRPCVersion, Id: &r.Id, Method: r.Method, Params: r.Params}
	return json.Marshal(env)
}

// EncodeNotification renders n as a wire frame.
func EncodeNotification(n Notification) ([]byte, error) {
	env := wireEnvelope{JSONRPC: JSONRPCVersion, Method: n.Method, Params: n.Params}
	return json.Marshal(env)
}

// EncodeResponse renders r as a wire frame. Exactly one of r.Result/r.Err
// must be set; EncodeResponse returns an error otherwise since a frame with
// neither (or both) is not a well-formed JSON-RPC response.
func EncodeResponse(r Response) ([]byte, error) {
	if (r.Result == nil) == (r.Err == nil) {
		return nil, fmt.Errorf("protocol: response must set exactly one of Result or Err")
	}
	env := wireEnvelope{JSONRPC: JSONRPCVersion, Id: &r.Id, Result: r.Result, Error: r.Err}
	return json.Marshal(env)
}

// NewOkResponse builds a successful Response, marshaling result into its
// Result field.
func NewOkResponse(id RequestId, result interface{}) (Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("protocol: marshal result: %w", err)
	}
	return Response{Id: id, Result: b}, nil
}

// NewErrResponse builds a failed Response carrying err.
func NewErrResponse(id RequestId, err *Error) Response {
	return Response{Id: id, Err: err}
}

// IsBatch reports whether data is a JSON array rather than a single JSON
// object — this runtime does not support batched JSON-RPC requests, so a
// transport's read loop rejects a batch before it ever reaches DecodeMessage.
func IsBatch(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// EncodeErrorFrame renders a top-level JSON-RPC error response with a null
// id, the shape used when the error predates knowing which request (if
// any) it belongs to — e.g. a rejected batch or an unparsable frame.
func EncodeErrorFrame(err *Error) []byte {
	b, encErr := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Id      *int   `json:"id"`
		Error   *Error `json:"error"`
	}{JSONRPC: JSONRPCVersion, Id: nil, Error: err})
	if encErr != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return b
}
