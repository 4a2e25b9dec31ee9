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

	"github.com/bytedance/sonic"
	"github.com/poiesic/retrievit/core"
)

// codec copies decoded strings out of the input buffer, which badger reuses
// once a value callback returns.
var codec = sonic.ConfigStd

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) ([]byte, error) {
	data, err := codec.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalChunk deserializes a Chunk from bytes. Numeric metadata values
// decode as float64.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty chunk record", ErrSerializationFailed)
	}
	var chunk core.Chunk
	if err := codec.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &chunk, nil
}

// MarshalStoreInfo serializes a StoreInfo to bytes.
func MarshalStoreInfo(info *StoreInfo) ([]byte, error) {
	data, err := codec.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalStoreInfo deserializes a StoreInfo from bytes.
func UnmarshalStoreInfo(data []byte) (*StoreInfo, error) {
	var info StoreInfo
	if err := codec.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &info, nil
}
