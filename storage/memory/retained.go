// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory provides in-memory storage backends.
package memory

import (
	"context"
	"sync"

	"github.com/absmach/mbus/core"
	"github.com/absmach/mbus/storage"
	"github.com/absmach/mbus/topics"
)

var _ storage.RetainedStore = (*RetainedStore)(nil)

// RetainedStore is an in-memory implementation of storage.RetainedStore.
type RetainedStore struct {
	mu   sync.RWMutex
	data map[string]entry // joined topic -> entry
}

type entry struct {
	topic        []string
	msg          *core.Message
	publisherCtx any
}

// NewRetainedStore creates a new in-memory retained message store.
func NewRetainedStore() *RetainedStore {
	return &RetainedStore{
		data: make(map[string]entry),
	}
}

// Set stores or updates a retained message.
// Empty payload deletes the retained message.
func (s *RetainedStore) Set(_ context.Context, msg *core.Message, publisherCtx any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := topics.String(msg.Topic)
	if len(msg.Payload) == 0 {
		delete(s.data, key)
		return nil
	}

	cp := msg.Copy()
	s.data[key] = entry{topic: cp.Topic, msg: cp, publisherCtx: publisherCtx}
	return nil
}

// Get retrieves a retained message by exact topic.
func (s *RetainedStore) Get(_ context.Context, topic []string) (storage.Retained, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[topics.String(topic)]
	if !ok {
		return storage.Retained{}, storage.ErrNotFound
	}
	return storage.Retained{Message: e.msg.Copy(), PublisherContext: e.publisherCtx}, nil
}

// Delete removes a retained message.
func (s *RetainedStore) Delete(_ context.Context, topic []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, topics.String(topic))
	return nil
}

// Match returns all retained messages matching a normalized filter.
func (s *RetainedStore) Match(_ context.Context, filter []string) ([]storage.Retained, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []storage.Retained
	for _, e := range s.data {
		if _, ok := topics.Match(filter, e.topic); ok {
			result = append(result, storage.Retained{Message: e.msg.Copy(), PublisherContext: e.publisherCtx})
		}
	}
	return result, nil
}
