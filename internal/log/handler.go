// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// valueTextHandler renders records as
// "TIME LEVEL \"message\" key=value key=value\n", TIME being RFC 3339,
// a terser single-line format than slog's built-in TextHandler, matching what
// operators see on a terminal running this server in stdio mode.
type valueTextHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	opts  slog.HandlerOptions
	attrs []slog.Attr
}

// NewValueTextHandler returns a slog.Handler that writes one line per record.
func NewValueTextHandler(out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &valueTextHandler{mu: &sync.Mutex{}, out: out, opts: *opts}
}

func (h *valueTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *valueTextHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	buf.WriteString(r.Time.Format(time.RFC3339))
	buf.WriteByte(' ')
	buf.WriteString(r.Level.String())
	buf.WriteByte(' ')
	buf.WriteString(strconv.Quote(r.Message))
	buf.WriteByte(' ')

	for _, a := range h.attrs {
		writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func writeAttr(buf *bytes.Buffer, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	fmt.Fprintf(buf, "%s=%v ", a.Key, a.Value.Any())
}

func (h *valueTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &valueTextHandler{mu: h.mu, out: h.out, opts: h.opts}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *valueTextHandler) WithGroup(_ string) slog.Handler {
	// Grouping is not used by this runtime's log call sites; return the
	// handler unchanged rather than silently dropping attributes.
	return h
}
