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

package storage

import (
	"fmt"
	"math"
)

// CosineDistance returns 1 - cosine similarity of a and b, in [0, 2].
// A zero vector is at distance 1 from everything.
func CosineDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	cos = math.Max(-1, math.Min(1, cos))
	return float32(1 - cos), nil
}

// ValidateQuery checks the arguments shared by every VectorStore.Query.
func ValidateQuery(vector []float32, k int) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty query vector", ErrInvalidQuery)
	}
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}
	return nil
}
