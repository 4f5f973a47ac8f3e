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
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Cursor is an opaque pagination token. On the wire it is a base64 string;
// internally it is the integer offset of the first unreturned item. Offsets
// are not exposed as a stable contract across registry mutations between
// pages — see DefaultPageSize and the registries' ValuesPaginated methods for
// the monotone re-align behavior when items are inserted or removed mid-walk.
type Cursor struct {
	offset int
	valid  bool
}

// NoCursor is the zero Cursor: the start of the first page.
var NoCursor = Cursor{}

// NewCursor wraps an integer offset as a Cursor.
func NewCursor(offset int) Cursor {
	return Cursor{offset: offset, valid: true}
}

// Offset returns the integer offset this cursor encodes.
func (c Cursor) Offset() int {
	return c.offset
}

func (c Cursor) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(c.offset)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	return json.Marshal(encoded)
}

func (c *Cursor) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("protocol: invalid cursor encoding: %w", err)
	}
	var offset int
	if err := json.Unmarshal(decoded, &offset); err != nil {
		return fmt.Errorf("protocol: invalid cursor payload: %w", err)
	}
	c.offset = offset
	c.valid = true
	return nil
}

// Page is a single slice of a paginated list plus the cursor to continue
// from, if any items remain.
type Page[T any] struct {
	Items      []T
	NextCursor *Cursor
}

// Paginate slices items starting at cursor's offset, returning at most
// pageSize items and a NextCursor when more remain. A nil cursor starts at
// the beginning.
func Paginate[T any](items []T, cursor *Cursor, pageSize int) Page[T] {
	start := 0
	if cursor != nil {
		start = cursor.offset
	}
	if start < 0 {
		start = 0
	}
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	page := Page[T]{Items: items[start:end]}
	if end < len(items) {
		nc := NewCursor(end)
		page.NextCursor = &nc
	}
	return page
}

// DefaultPageSize is used by list operations whose caller did not request a
// specific page size.
const DefaultPageSize = 10
