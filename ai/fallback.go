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

package ai

import (
	"encoding/binary"
	"math"

	"github.com/go-crypt/x/blake2b"
)

// FallbackVector derives a deterministic unit vector of length dim from text.
//
// The vector carries no semantic meaning. It keeps retrieval answering while
// the embedding service is down: identical text maps to identical vectors,
// so exact and near-duplicate queries still find their chunks.
func FallbackVector(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultDimension
	}
	vec := make([]float32, dim)

	var counter [8]byte
	filled := 0
	for block := uint64(0); filled < dim; block++ {
		h, _ := blake2b.New(64, nil)
		binary.LittleEndian.PutUint64(counter[:], block)
		h.Write(counter[:])
		h.Write([]byte(text))
		for _, b := range h.Sum(nil) {
			if filled == dim {
				break
			}
			vec[filled] = float32(b) / 255
			filled++
		}
	}
	return Normalize(vec)
}

// Normalize scales v in place to unit length and returns it. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
