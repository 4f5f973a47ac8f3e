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

// Package stdio implements T1: a line-delimited JSON Transport over a
// child process's stdin/stdout, the way the teacher's stdioSession reads
// one JSON-RPC frame per line from stdin and writes one per line to
// stdout. New also accepts a stderr writer, which the transport stores but
// never writes to; ForwardStderr wraps diagnostic text as
// "notifications/stderr" params so it is not mistaken for a frame.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/RomanEmreis/neva-go/internal/protocol"
)

// Transport is a Transport over a pair of newline-delimited streams.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	stderr io.Writer

	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

var _ protocol.Transport = (*Transport)(nil)

// New builds a stdio Transport reading frames from r and writing them to
// w. stderr, if non-nil, receives lines read from a separate diagnostic
// stream the caller may forward; stdio itself never writes to it.
func New(r io.Reader, w io.Writer, stderr io.Writer) *Transport {
	return &Transport{
		reader: bufio.NewReader(r),
		writer: w,
		stderr: stderr,
		closed: make(chan struct{}),
	}
}

// Split returns t itself as both halves: stdio has no need for a separate
// sender/receiver implementation since both share the same locking.
func (t *Transport) Split() (protocol.Sender, protocol.Receiver) {
	return t, t
}

// Send writes frame as a single line.
func (t *Transport) Send(_ context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return fmt.Errorf("stdio: transport closed")
	default:
	}
	_, err := fmt.Fprintf(t.writer, "%s\n", frame)
	return err
}

// Recv reads the next line and validates it is well-formed JSON before
// returning it, so a malformed line surfaces as ParseError rather than
// being handed to the dispatcher's decoder blind. A stream that ends in the
// middle of a frame surfaces as InvalidRequest; a clean end returns io.EOF.
func (t *Transport) Recv(ctx context.Context) ([]byte, error) {
	type result struct {
		line []byte
		err  error
	}
	out := make(chan result, 1)
	go func() {
		line, err := t.reader.ReadBytes('\n')
		out <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, io.EOF
	case r := <-out:
		if len(r.line) == 0 && r.err != nil {
			if r.err == io.EOF {
				return nil, io.EOF
			}
			return nil, r.err
		}
		var probe json.RawMessage
		if err := json.Unmarshal(r.line, &probe); err != nil {
			if r.err == io.EOF {
				return nil, protocol.NewErrorf(protocol.InvalidRequest, "unexpected end of stream: %s", err)
			}
			return nil, protocol.NewErrorf(protocol.ParseError, "malformed line: %s", err)
		}
		if r.err != nil && r.err != io.EOF {
			return r.line, r.err
		}
		return r.line, nil
	}
}

// Close unblocks any in-flight Recv and marks the transport closed for
// further Send calls.
func (t *Transport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// StderrParams is the payload of a "notifications/stderr" notification.
// ForwardStderr only builds it; sending it is left to the caller.
type StderrParams struct {
	Text string `json:"text"`
}

func (t *Transport) ForwardStderr(line string) StderrParams {
	return StderrParams{Text: line}
}
