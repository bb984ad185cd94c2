// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package badger provides BadgerDB-backed storage backends.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/absmach/mbus/core"
	"github.com/absmach/mbus/storage"
	"github.com/absmach/mbus/topics"
	"github.com/dgraph-io/badger/v4"
)

const retainedPrefix = "retained:"

var _ storage.RetainedStore = (*RetainedStore)(nil)

// RetainedStore implements storage.RetainedStore using BadgerDB.
//
// Key format: retained:{topic}. The publisher context is not persisted;
// entries loaded from disk replay with a nil context.
type RetainedStore struct {
	db *badger.DB
}

// NewRetainedStore creates a new BadgerDB retained message store.
func NewRetainedStore(db *badger.DB) *RetainedStore {
	return &RetainedStore{db: db}
}

// Set stores or updates a retained message.
// Empty payload deletes the retained message.
func (s *RetainedStore) Set(ctx context.Context, msg *core.Message, _ any) error {
	if len(msg.Payload) == 0 {
		return s.Delete(ctx, msg.Topic)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal retained message: %w", err)
	}

	key := []byte(retainedPrefix + topics.String(msg.Topic))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Get retrieves a retained message by exact topic.
func (s *RetainedStore) Get(_ context.Context, topic []string) (storage.Retained, error) {
	key := []byte(retainedPrefix + topics.String(topic))
	var msg *core.Message

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			msg = &core.Message{}
			return json.Unmarshal(val, msg)
		})
	})
	if err != nil {
		return storage.Retained{}, err
	}

	return storage.Retained{Message: msg}, nil
}

// Delete removes a retained message.
func (s *RetainedStore) Delete(_ context.Context, topic []string) error {
	key := []byte(retainedPrefix + topics.String(topic))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Match returns all retained messages matching a normalized filter.
func (s *RetainedStore) Match(_ context.Context, filter []string) ([]storage.Retained, error) {
	var matched []storage.Retained

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(retainedPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			topic := topics.Split(string(item.Key())[len(retainedPrefix):])

			if _, ok := topics.Match(filter, topic); !ok {
				continue
			}

			err := item.Value(func(val []byte) error {
				var msg core.Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return err
				}
				matched = append(matched, storage.Retained{Message: &msg})
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal retained message: %w", err)
			}
		}

		return nil
	})

	return matched, err
}
