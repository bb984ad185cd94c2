// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the retained-message store contract consumed by
// the router. Implementations live in the memory and badger subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/absmach/mbus/core"
)

// Common errors.
var ErrNotFound = errors.New("not found")

// Retained pairs a retained message with the authorization context of the
// publisher that stored it. The context travels with the message so that
// retained replay can present it to subscribers unchanged.
type Retained struct {
	Message          *core.Message
	PublisherContext any
}

// RetainedStore keeps the latest retained message per concrete topic.
type RetainedStore interface {
	// Set stores or replaces the retained message for its topic.
	// An empty payload deletes the entry (MQTT 5.0 semantic).
	Set(ctx context.Context, msg *core.Message, publisherCtx any) error

	// Get retrieves the retained message for an exact topic.
	Get(ctx context.Context, topic []string) (Retained, error)

	// Delete removes the retained message for an exact topic.
	Delete(ctx context.Context, topic []string) error

	// Match returns every entry whose topic matches the normalized filter.
	Match(ctx context.Context, filter []string) ([]Retained, error)
}
