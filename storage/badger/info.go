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

package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/retrievit/storage"
)

// SaveInfo persists the store info record.
func (s *Store) SaveInfo(ctx context.Context, info *storage.StoreInfo) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.backend.WithTx(func(tx *badger.Txn) error {
		info.UpdatedAt = time.Now().UTC()
		value, err := storage.MarshalStoreInfo(info)
		if err != nil {
			return err
		}
		if err := tx.Set([]byte(storeInfoKey), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LoadInfo retrieves the store info record.
// Returns nil, nil if none has been saved.
func (s *Store) LoadInfo(ctx context.Context) (*storage.StoreInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var info *storage.StoreInfo
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		data, err := get(tx, []byte(storeInfoKey))
		if err != nil || data == nil {
			return err
		}
		info, err = storage.UnmarshalStoreInfo(data)
		return err
	}, false)
	return info, err
}
