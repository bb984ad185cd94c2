// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"log/slog"

	"github.com/absmach/mbus/core"
	"github.com/absmach/mbus/topics"
)

// Callback is the destination variant: mailbox delivery to a channel, or
// invocation of a bound function. The set is sealed; no other variants
// exist.
type Callback interface {
	isCallback()
}

// MailboxDelivery delivers envelopes to a subscriber-owned channel. Sends
// never block: when the mailbox is full the envelope is dropped and counted
// as a dispatch failure.
type MailboxDelivery struct {
	C chan<- *Envelope
}

func (MailboxDelivery) isCallback() {}

// Invocation calls Fn with the captured prefix args followed by the
// envelope.
type Invocation struct {
	Fn   func(args ...any)
	Args []any
}

func (Invocation) isCallback() {}

// Envelope is the delivery unit handed to subscribers.
type Envelope struct {
	Pool              string
	Topic             []string
	Bindings          topics.Bindings
	Message           *core.Message
	PublisherContext  any
	SubscriberContext any
	Options           Options
}

// Publish routes a message to every matching destination. Matching and
// dispatch run on the caller's goroutine; the trie is only read-locked, so
// concurrent publishes proceed in parallel. A publish waits only while a
// subscription change holds the write lock, and dispatch happens after the
// lock is released.
//
// The publisher argument is the owner identity used for no-local
// suppression; it may be nil (e.g. a will publish).
func (r *Router) Publish(topic []string, msg *core.Message, publisherCtx any, publisher Owner) error {
	if err := topics.ValidateTopicName(topic); err != nil {
		return err
	}

	matched := acquireMatchSlice()
	r.mu.RLock()
	r.root.match(topic, 0, nil, matched)
	// Copy out before releasing the lock and the pooled slice: destinations
	// may be removed concurrently and the pool reuses the backing array.
	results := append([]matchResult(nil), (*matched)...)
	r.mu.RUnlock()
	releaseMatchSlice(matched)

	r.metrics.RecordPublish(r.pool)

	for _, m := range results {
		dest := m.dest

		if dest.opts.NoLocal && publisher != nil && dest.owner.ID() == publisher.ID() {
			continue
		}

		out := msg.Copy()
		if out.Retain && !dest.opts.RetainAsPublished {
			out.Retain = false
		}

		env := r.envelope(topic, m.bindings, out, publisherCtx, dest)
		r.dispatch(dest, env)
	}

	if msg.Retain && r.retained != nil {
		if err := r.retained.Set(context.Background(), msg, publisherCtx); err != nil {
			r.logger.Error("retain store failed",
				slog.String("pool", r.pool),
				slog.String("topic", topics.String(topic)),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Router) envelope(topic []string, bindings topics.Bindings, msg *core.Message, publisherCtx any, dest *destination) *Envelope {
	return &Envelope{
		Pool:              r.pool,
		Topic:             topic,
		Bindings:          bindings,
		Message:           msg,
		PublisherContext:  publisherCtx,
		SubscriberContext: dest.subscriberCtx,
		Options:           dest.opts,
	}
}

// dispatch delivers one envelope. Failures are logged and swallowed, never
// retried; a dead subscriber is cleaned up by its liveness monitor shortly.
func (r *Router) dispatch(dest *destination, env *Envelope) {
	switch cb := dest.cb.(type) {
	case MailboxDelivery:
		select {
		case cb.C <- env:
			r.metrics.RecordDispatch(r.pool)
		default:
			r.logger.Warn("dispatch dropped: mailbox full",
				slog.String("pool", r.pool),
				slog.String("owner", dest.owner.ID()),
				slog.String("topic", topics.String(env.Topic)))
			r.metrics.RecordDispatchDropped(r.pool)
		}
	case Invocation:
		r.invoke(cb, dest, env)
	}
}

func (r *Router) invoke(cb Invocation, dest *destination, env *Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("dispatch failed: callback panicked",
				slog.String("pool", r.pool),
				slog.String("owner", dest.owner.ID()),
				slog.Any("panic", rec))
			r.metrics.RecordDispatchDropped(r.pool)
		}
	}()

	args := make([]any, 0, len(cb.Args)+1)
	args = append(args, cb.Args...)
	args = append(args, env)
	cb.Fn(args...)
	r.metrics.RecordDispatch(r.pool)
}
