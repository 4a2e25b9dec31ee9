// Copyright 2025 Poiesic Systems
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

package core

import (
	"maps"
	"math"
)

// Reserved metadata keys. Every other key belongs to the open extension bag.
const (
	MetaDocumentID    = "documentId"
	MetaSequenceIndex = "sequenceIndex"
	MetaTotalChunks   = "totalChunks"

	// MetaContentHash holds the hex content hash of the source document.
	// It is set during ingestion but is not reserved.
	MetaContentHash = "contentHash"
)

// Metadata maps string keys to scalar or structured values.
type Metadata map[string]any

// IsReservedKey reports whether key is one of the reserved metadata keys.
func IsReservedKey(key string) bool {
	switch key {
	case MetaDocumentID, MetaSequenceIndex, MetaTotalChunks:
		return true
	}
	return false
}

// Clone returns a shallow copy. A nil Metadata clones to an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	maps.Copy(out, m)
	return out
}

// DocumentID returns the owning document identifier.
// Reports false when the key is absent, empty, or not a string.
func (m Metadata) DocumentID() (string, bool) {
	v, ok := m[MetaDocumentID].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SequenceIndex returns the chunk's position within its document.
func (m Metadata) SequenceIndex() (int, bool) {
	return m.intValue(MetaSequenceIndex)
}

// TotalChunks returns the number of chunks the owning document was split into.
func (m Metadata) TotalChunks() (int, bool) {
	return m.intValue(MetaTotalChunks)
}

// Extensions returns the non-reserved entries.
func (m Metadata) Extensions() Metadata {
	out := make(Metadata)
	for k, v := range m {
		if !IsReservedKey(k) {
			out[k] = v
		}
	}
	return out
}

// intValue reads an integer that may have round-tripped through JSON.
func (m Metadata) intValue(key string) (int, bool) {
	f, ok := toFloat(m[key])
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// toFloat normalizes Go numeric types so decoded and native values compare equal.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Filter restricts search results to chunks whose metadata equals every
// listed value. An empty filter matches everything.
type Filter map[string]any

// Matches reports whether metadata satisfies the filter.
func (f Filter) Matches(m Metadata) bool {
	for k, want := range f {
		got, ok := m[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}
