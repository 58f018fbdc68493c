// Copyright 2025 Tom Barlow
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

package redact

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// RedactValue walks a decoded JSON value and returns a redacted copy.
// Object values under sensitive keys are replaced, string leaves are
// scrubbed with the configured patterns. The input is never mutated.
func (r *Redactor) RedactValue(v any) any {
	if r.mode == ModeNone {
		return v
	}
	return r.redactValue(v, false)
}

func (r *Redactor) redactValue(v any, sensitive bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = r.redactValue(child, sensitive || r.IsSensitiveKey(k))
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = r.redactValue(child, sensitive)
		}
		return out
	case string:
		if sensitive {
			return Placeholder
		}
		return r.RedactString(val)
	case nil:
		return nil
	default:
		if sensitive || r.mode == ModeStrict {
			return Placeholder
		}
		return val
	}
}

// RedactJSON decodes raw, redacts it and re-encodes it. Raw input that is
// not valid JSON is treated as an opaque string.
func (r *Redactor) RedactJSON(raw []byte) []byte {
	if r.mode == ModeNone || len(raw) == 0 {
		return raw
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		out, _ := json.Marshal(r.RedactString(string(raw)))
		return out
	}

	out, err := json.Marshal(r.redactValue(v, false))
	if err != nil {
		return []byte(`"` + Placeholder + `"`)
	}
	return out
}

// Truncate caps s at max bytes on a rune boundary, appending a marker that
// records the original size. max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("...[truncated %d bytes]", len(s)-cut)
}
