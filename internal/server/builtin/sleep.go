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

package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RomanEmreis/neva-go/internal/protocol"
)

// sleepKind is a deliberately slow tool, meant to be declared with
// taskSupport: required so a running example server demonstrates C8's
// create-task/poll/cancel cycle end to end rather than only unit-testing it.
const sleepKind = "sleep"

var sleepInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"durationMs": {"type": "integer", "minimum": 0}
	},
	"required": ["durationMs"]
}`)

func init() {
	RegisterTool(sleepKind, sleepInputSchema, newSleepHandler)
}

type sleepArgs struct {
	DurationMs int64 `json:"durationMs"`
}

func newSleepHandler(_ map[string]interface{}) (protocol.ToolHandler, error) {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var a sleepArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("sleep: malformed arguments: %w", err)
		}
		timer := time.NewTimer(time.Duration(a.DurationMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
			return map[string]string{"status": "slept"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil
}
