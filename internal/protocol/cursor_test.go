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
	"testing"
)

func TestCursorJSONRoundTrip(t *testing.T) {
	c := NewCursor(42)
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal returned an error: %v", err)
	}
	var decoded Cursor
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal returned an error: %v", err)
	}
	if decoded.Offset() != 42 {
		t.Errorf("got offset %d, want 42", decoded.Offset())
	}
}

func TestCursorUnmarshalInvalidEncoding(t *testing.T) {
	var c Cursor
	if err := json.Unmarshal([]byte(`"not-base64!!"`), &c); err == nil {
		t.Error("expected an error decoding an invalid cursor")
	}
}

func TestPaginate(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	page := Paginate(items, nil, 3)
	if got := page.Items; len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("got first page %v, want [0 1 2]", got)
	}
	if page.NextCursor == nil {
		t.Fatal("expected a NextCursor on the first page")
	}

	cursor := NewCursor(9)
	last := Paginate(items, &cursor, 3)
	if len(last.Items) != 1 || last.Items[0] != 9 {
		t.Errorf("got last page %v, want [9]", last.Items)
	}
	if last.NextCursor != nil {
		t.Error("expected no NextCursor on the final page")
	}
}

func TestPaginateOutOfRangeCursor(t *testing.T) {
	items := []int{0, 1, 2}
	cursor := NewCursor(100)
	page := Paginate(items, &cursor, 3)
	if len(page.Items) != 0 {
		t.Errorf("got %v, want an empty page for an out-of-range cursor", page.Items)
	}
	if page.NextCursor != nil {
		t.Error("expected no NextCursor for an out-of-range cursor")
	}
}
