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
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RequestIdKind discriminates the variant a RequestId holds.
type RequestIdKind int

const (
	RequestIdKindNumber RequestIdKind = iota
	RequestIdKindUUID
	RequestIdKindString
	RequestIdKindSlice
)

// RequestId is the polymorphic JSON-RPC request identifier: a number, a
// UUID, an arbitrary string, or an ordered slice of RequestId (used to
// correlate a single logical call across a chain of nested sub-requests).
// A slice serializes as its elements joined with "/", and a string that
// contains "/" parses back into a slice rather than staying a flat string —
// matching the round-trip the originating implementation relies on for its
// "full id" session_id/request_id correlation key.
type RequestId struct {
	kind   RequestIdKind
	number int64
	uuid   uuid.UUID
	str    string
	slice  []RequestId
}

// NewNumberId builds a numeric RequestId.
func NewNumberId(n int64) RequestId {
	return RequestId{kind: RequestIdKindNumber, number: n}
}

// NewUUIDId builds a UUID RequestId.
func NewUUIDId(u uuid.UUID) RequestId {
	return RequestId{kind: RequestIdKindUUID, uuid: u}
}

// NewStringId builds a plain string RequestId. If s contains "/", prefer
// ParseRequestId so the value round-trips as a slice instead.
func NewStringId(s string) RequestId {
	return RequestId{kind: RequestIdKindString, str: s}
}

// NewSliceId builds a composite RequestId out of an ordered chain of ids.
func NewSliceId(ids []RequestId) RequestId {
	return RequestId{kind: RequestIdKindSlice, slice: ids}
}

// Kind reports which variant id holds.
func (id RequestId) Kind() RequestIdKind { return id.kind }

// Number returns the numeric value and true if id is a number.
func (id RequestId) Number() (int64, bool) {
	return id.number, id.kind == RequestIdKindNumber
}

// UUID returns the UUID value and true if id is a UUID.
func (id RequestId) UUID() (uuid.UUID, bool) {
	return id.uuid, id.kind == RequestIdKindUUID
}

// String renders id the way it appears on the wire for the string/slice
// variants: a slice joins its elements with "/".
func (id RequestId) String() string {
	switch id.kind {
	case RequestIdKindNumber:
		return strconv.FormatInt(id.number, 10)
	case RequestIdKindUUID:
		return id.uuid.String()
	case RequestIdKindString:
		return id.str
	case RequestIdKindSlice:
		parts := make([]string, len(id.slice))
		for i, part := range id.slice {
			parts[i] = part.String()
		}
		return strings.Join(parts, "/")
	default:
		return ""
	}
}

// Slice returns the component ids and true if id is a slice.
func (id RequestId) Slice() ([]RequestId, bool) {
	return id.slice, id.kind == RequestIdKindSlice
}

// ParseRequestId parses a raw string token into a RequestId, trying each
// variant in the order the wire format favors: a UUID first, then a plain
// integer, then (only if the string contains the "/" separator) a slice of
// recursively parsed RequestId, and finally falling back to a plain string.
func ParseRequestId(s string) RequestId {
	if u, err := uuid.Parse(s); err == nil {
		return NewUUIDId(u)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewNumberId(n)
	}
	if strings.Contains(s, "/") {
		parts := strings.Split(s, "/")
		ids := make([]RequestId, len(parts))
		for i, p := range parts {
			ids[i] = ParseRequestId(p)
		}
		return NewSliceId(ids)
	}
	return NewStringId(s)
}

// Concat appends other as the next element in the chain, promoting a
// scalar id to a one-element slice first if needed. Used when a handler
// issues a nested sub-request and wants the sub-request's id to still
// resolve back to the same top-level pending-request slot.
func (id RequestId) Concat(other RequestId) RequestId {
	if id.kind == RequestIdKindSlice {
		return NewSliceId(append(append([]RequestId{}, id.slice...), other))
	}
	return NewSliceId([]RequestId{id, other})
}

func (id RequestId) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case RequestIdKindNumber:
		return json.Marshal(id.number)
	case RequestIdKindUUID:
		return json.Marshal(id.uuid.String())
	case RequestIdKindString:
		return json.Marshal(id.str)
	case RequestIdKindSlice:
		return json.Marshal(id.String())
	default:
		return nil, fmt.Errorf("protocol: request id has no variant set")
	}
}

func (id *RequestId) UnmarshalJSON(data []byte) error {
	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err == nil {
		if n, err := asNumber.Int64(); err == nil {
			*id = NewNumberId(n)
			return nil
		}
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("protocol: request id must be a number or string: %w", err)
	}
	*id = ParseRequestId(asString)
	return nil
}

// Equal reports whether id and other denote the same request id.
func (id RequestId) Equal(other RequestId) bool {
	if id.kind != other.kind {
		return false
	}
	switch id.kind {
	case RequestIdKindNumber:
		return id.number == other.number
	case RequestIdKindUUID:
		return id.uuid == other.uuid
	case RequestIdKindString:
		return id.str == other.str
	case RequestIdKindSlice:
		if len(id.slice) != len(other.slice) {
			return false
		}
		for i := range id.slice {
			if !id.slice[i].Equal(other.slice[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ProgressToken mirrors RequestId's shape: a progress notification's token
// is deterministically derived from the request id it tracks, so a client
// can correlate "notifications/progress" back to the call that spawned it
// without a separate token namespace.
type ProgressToken = RequestId

// ToProgressToken derives the progress token for id. Every RequestId variant
// maps onto the identical ProgressToken variant, recursively for slices.
func ToProgressToken(id RequestId) ProgressToken {
	return id
}
