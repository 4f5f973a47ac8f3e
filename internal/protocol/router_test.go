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

import "testing"

func TestRouterFindStaticPreferredOverDynamic(t *testing.T) {
	r := NewRouter()
	r.Insert(ResourceTemplate{UriTemplate: "file/{name}", Name: "dynamic"})
	r.Insert(ResourceTemplate{UriTemplate: "file/readme", Name: "static"})

	tmpl, bindings, ok := r.Find("file/readme")
	if !ok {
		t.Fatal("expected a match for file/readme")
	}
	if tmpl.Name != "static" {
		t.Errorf("got %q, want the static template to win", tmpl.Name)
	}
	if len(bindings) != 0 {
		t.Errorf("got bindings %v, want none for a static match", bindings)
	}

	tmpl, bindings, ok = r.Find("file/other")
	if !ok {
		t.Fatal("expected a match for file/other")
	}
	if tmpl.Name != "dynamic" {
		t.Errorf("got %q, want the dynamic template to win", tmpl.Name)
	}
	if len(bindings) != 1 || bindings[0].Name != "name" || bindings[0].Value != "other" {
		t.Errorf("got bindings %v, want [{name other}]", bindings)
	}
}

func TestRouterFindMultiSegmentBindings(t *testing.T) {
	r := NewRouter()
	r.Insert(ResourceTemplate{UriTemplate: "{bucket}/{key}", Name: "object"})

	tmpl, bindings, ok := r.Find("my-bucket/path/to/obj")
	if ok {
		t.Fatalf("got a match %+v, want none since the template has only two segments", tmpl)
	}

	tmpl, bindings, ok = r.Find("my-bucket/obj.txt")
	if !ok {
		t.Fatal("expected a match")
	}
	if tmpl.Name != "object" {
		t.Errorf("got %q, want object", tmpl.Name)
	}
	want := map[string]string{"bucket": "my-bucket", "key": "obj.txt"}
	for _, b := range bindings {
		if want[b.Name] != b.Value {
			t.Errorf("got binding %s=%s, want %s", b.Name, b.Value, want[b.Name])
		}
	}
}

func TestRouterFindNoMatch(t *testing.T) {
	r := NewRouter()
	r.Insert(ResourceTemplate{UriTemplate: "file/{name}", Name: "dynamic"})
	if _, _, ok := r.Find("other/path"); ok {
		t.Error("expected no match for an unrelated uri")
	}
}

func TestRouterRemove(t *testing.T) {
	r := NewRouter()
	r.Insert(ResourceTemplate{UriTemplate: "file/{name}", Name: "dynamic"})
	r.Remove("file/{name}")
	if _, _, ok := r.Find("file/readme"); ok {
		t.Error("expected no match after removing the only registered template")
	}
}

func TestRouterReinsertReplacesHandler(t *testing.T) {
	r := NewRouter()
	r.Insert(ResourceTemplate{UriTemplate: "a/b", Name: "first"})
	r.Insert(ResourceTemplate{UriTemplate: "a/b", Name: "second"})

	tmpl, _, ok := r.Find("a/b")
	if !ok || tmpl.Name != "second" {
		t.Errorf("got %+v, ok=%v, want the second insert to win", tmpl, ok)
	}
}
