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
	"fmt"
	"strings"

	"github.com/RomanEmreis/neva-go/internal/protocol"
)

// templateKind renders a `text/template`-style "{{name}}" string against
// the prompt's invocation arguments. It is deliberately a plain
// strings.Replacer rather than text/template, since the params this runtime
// accepts are untrusted YAML-declared config, not Go source.
const templateKind = "template"

func init() {
	RegisterPrompt(templateKind, newTemplateHandler)
}

func newTemplateHandler(params map[string]interface{}) (protocol.PromptHandler, error) {
	text, _ := params["text"].(string)
	if text == "" {
		return nil, fmt.Errorf("template: params.text is required")
	}
	return func(_ context.Context, args map[string]string) (interface{}, error) {
		pairs := make([]string, 0, len(args)*2)
		for k, v := range args {
			pairs = append(pairs, "{{"+k+"}}", v)
		}
		rendered := strings.NewReplacer(pairs...).Replace(text)
		return map[string]string{"text": rendered}, nil
	}, nil
}
