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

	"github.com/RomanEmreis/neva-go/internal/protocol"
)

const echoKind = "echo"

var echoInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"message": {"type": "string"}
	},
	"required": ["message"]
}`)

func init() {
	RegisterTool(echoKind, echoInputSchema, newEchoHandler)
}

type echoArgs struct {
	Message string `json:"message"`
}

func newEchoHandler(_ map[string]interface{}) (protocol.ToolHandler, error) {
	return func(_ context.Context, args json.RawMessage) (interface{}, error) {
		var a echoArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("echo: malformed arguments: %w", err)
		}
		return map[string]string{"message": a.Message}, nil
	}, nil
}
