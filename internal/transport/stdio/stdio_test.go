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

package stdio

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestTransportSendWritesNewlineDelimitedFrame(t *testing.T) {
	var out bytes.Buffer
	tr := New(strings.NewReader(""), &out, nil)

	if err := tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)); err != nil {
		t.Fatalf("Send returned an error: %v", err)
	}
	if got, want := out.String(), "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTransportRecvReadsOneLine(t *testing.T) {
	in := strings.NewReader("{\"jsonrpc\":\"2.0\",\"method\":\"ping\"}\n")
	tr := New(in, &bytes.Buffer{}, nil)

	frame, err := tr.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv returned an error: %v", err)
	}
	if strings.TrimSpace(string(frame)) != `{"jsonrpc":"2.0","method":"ping"}` {
		t.Errorf("got %q", frame)
	}
}

func TestTransportRecvRejectsMalformedLine(t *testing.T) {
	in := strings.NewReader("not json\n")
	tr := New(in, &bytes.Buffer{}, nil)

	_, err := tr.Recv(context.Background())
	if err == nil {
		t.Fatal("expected an error for a malformed line")
	}
}

func TestTransportRecvReturnsEOFAtStreamEnd(t *testing.T) {
	tr := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	_, err := tr.Recv(context.Background())
	if err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestTransportRecvUnblocksOnClose(t *testing.T) {
	pr, _ := io.Pipe()
	tr := New(pr, &bytes.Buffer{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := tr.Recv(context.Background())
		done <- err
	}()

	if err := tr.Close(); err != nil {
		t.Fatalf("Close returned an error: %v", err)
	}

	select {
	case err := <-done:
		if err != io.EOF {
			t.Errorf("got %v, want io.EOF after Close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Recv to unblock after Close")
	}
}

func TestTransportSendFailsAfterClose(t *testing.T) {
	tr := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close returned an error: %v", err)
	}
	if err := tr.Send(context.Background(), []byte(`{}`)); err == nil {
		t.Error("expected Send to fail after Close")
	}
}

func TestForwardStderrWrapsLine(t *testing.T) {
	tr := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	params := tr.ForwardStderr("boom")
	if params.Text != "boom" {
		t.Errorf("got %q, want boom", params.Text)
	}
}
