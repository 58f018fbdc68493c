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

package history

import (
	"encoding/json"

	"github.com/tombee/circuit/internal/redact"
)

// DefaultMaxPayloadBytes caps each stored request/response payload.
const DefaultMaxPayloadBytes = 64 << 10

// Filter strips sensitive data from records before they are stored.
type Filter struct {
	redactor   *redact.Redactor
	maxPayload int
}

// NewFilter creates a privacy filter. A nil redactor means standard mode;
// maxPayload <= 0 means DefaultMaxPayloadBytes.
func NewFilter(redactor *redact.Redactor, maxPayload int) *Filter {
	if redactor == nil {
		redactor = redact.NewRedactor(redact.ModeStandard)
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	return &Filter{redactor: redactor, maxPayload: maxPayload}
}

// Apply returns a filtered copy of rec.
func (f *Filter) Apply(rec CallRecord) CallRecord {
	rec.Request = f.payload(rec.Request)
	rec.Response = f.payload(rec.Response)
	if rec.Error != nil {
		e := *rec.Error
		e.Message = f.redactor.RedactString(e.Message)
		e.Data = f.payload(e.Data)
		rec.Error = &e
	}
	return rec
}

// payload redacts raw and replaces it with a truncated JSON string when it
// is still larger than the cap.
func (f *Filter) payload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	out := f.redactor.RedactJSON(raw)
	if len(out) <= f.maxPayload {
		return out
	}
	truncated, err := json.Marshal(redact.Truncate(string(out), f.maxPayload))
	if err != nil {
		return json.RawMessage(`"` + redact.Placeholder + `"`)
	}
	return truncated
}
