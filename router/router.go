// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package router implements the per-pool topic router: a trie of topic
// filters mapping to subscriber destinations, with owner-liveness tracking,
// MQTT 5.0 subscription options, and retained-message replay.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/absmach/mbus/acl"
	"github.com/absmach/mbus/core"
	"github.com/absmach/mbus/otel"
	"github.com/absmach/mbus/storage"
	"github.com/absmach/mbus/topics"
)

// Caller-visible errors.
var (
	ErrInvalidSubscriber = errors.New("invalid subscriber")
	ErrNotFound          = errors.New("subscription not found")
)

// Owner is the liveness anchor of a subscription. When its Done channel
// closes, every subscription it owns is removed.
type Owner interface {
	ID() string
	Done() <-chan struct{}
}

// Options are the MQTT 5.0 per-subscriber options.
type Options struct {
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
}

// destination ties a callback to its owner and options.
type destination struct {
	cb            Callback
	owner         Owner
	opts          Options
	subscriberCtx any
}

type ownedSub struct {
	key    string // joined normalized filter
	filter []string
	dest   *destination
}

type ownerEntry struct {
	owner Owner
	subs  []ownedSub
	stop  chan struct{}
}

// Router routes published messages to matching subscriptions within one
// broker pool. The matching trie is read on every publish and written only
// on subscribe, unsubscribe, and owner death; reads never block each other.
type Router struct {
	pool string

	mu       sync.RWMutex
	root     *node
	monitors map[string]*ownerEntry

	retained storage.RetainedStore
	authz    acl.Authorizer
	logger   *slog.Logger
	metrics  *otel.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithRetained sets the retained-message store consulted on publish-retain
// and on new subscriptions.
func WithRetained(s storage.RetainedStore) Option {
	return func(r *Router) { r.retained = s }
}

// WithACL sets the authorizer consulted during retained replay.
func WithACL(a acl.Authorizer) Option {
	return func(r *Router) { r.authz = a }
}

// WithMetrics sets the metric instruments. A nil Metrics records nothing.
func WithMetrics(m *otel.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates a router for the given pool.
func New(pool string, opts ...Option) *Router {
	r := &Router{
		pool:     pool,
		root:     newNode(),
		monitors: make(map[string]*ownerEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Pool returns the pool identifier this router serves.
func (r *Router) Pool() string {
	return r.pool
}

// Subscribe registers a destination under a topic filter. Re-subscription by
// the same owner to the same filter replaces the prior destination and does
// not count as a new subscription for retained replay under
// RetainHandling 1.
func (r *Router) Subscribe(filter []string, cb Callback, owner Owner, opts Options, subscriberCtx any) error {
	if err := validateCallback(cb); err != nil {
		return err
	}
	if owner == nil {
		return ErrInvalidSubscriber
	}

	normalized, err := topics.NormalizeFilter(filter)
	if err != nil {
		return err
	}
	key := topics.String(normalized)

	dest := &destination{
		cb:            cb,
		owner:         owner,
		opts:          opts,
		subscriberCtx: subscriberCtx,
	}

	r.mu.Lock()
	entry, monitored := r.monitors[owner.ID()]
	if !monitored {
		entry = &ownerEntry{owner: owner, stop: make(chan struct{})}
		r.monitors[owner.ID()] = entry
		go r.monitorOwner(entry)
	}

	isNew := true
	for i, sub := range entry.subs {
		if sub.key == key {
			r.root.remove(sub.filter, 0, sub.dest)
			entry.subs[i] = ownedSub{key: key, filter: normalized, dest: dest}
			isNew = false
			break
		}
	}
	if isNew {
		entry.subs = append(entry.subs, ownedSub{key: key, filter: normalized, dest: dest})
	}
	r.root.insert(normalized, 0, dest)
	r.mu.Unlock()

	r.logger.Debug("subscribe",
		slog.String("pool", r.pool),
		slog.String("owner", owner.ID()),
		slog.String("filter", topics.String(normalized)),
		slog.Bool("new", isNew))

	if isNew {
		r.metrics.AddSubscriptions(1)
	}

	r.replayRetained(normalized, dest, isNew)
	return nil
}

// Unsubscribe removes the owner's destination under the filter. It returns
// ErrNotFound when the owner holds no subscription for the filter.
func (r *Router) Unsubscribe(filter []string, owner Owner) error {
	if owner == nil {
		return ErrNotFound
	}

	normalized, err := topics.NormalizeFilter(filter)
	if err != nil {
		return ErrNotFound
	}
	key := topics.String(normalized)

	r.mu.Lock()
	entry, ok := r.monitors[owner.ID()]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	idx := -1
	for i, sub := range entry.subs {
		if sub.key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return ErrNotFound
	}

	r.root.remove(entry.subs[idx].filter, 0, entry.subs[idx].dest)
	entry.subs = append(entry.subs[:idx], entry.subs[idx+1:]...)
	if len(entry.subs) == 0 {
		close(entry.stop)
		delete(r.monitors, owner.ID())
	}
	r.mu.Unlock()

	r.logger.Debug("unsubscribe",
		slog.String("pool", r.pool),
		slog.String("owner", owner.ID()),
		slog.String("filter", key))

	r.metrics.AddSubscriptions(-1)
	return nil
}

// monitorOwner watches an owner's liveness until it dies or its last
// subscription is removed.
func (r *Router) monitorOwner(e *ownerEntry) {
	select {
	case <-e.owner.Done():
		r.removeOwner(e.owner.ID())
	case <-e.stop:
	}
}

// removeOwner purges every subscription the owner holds. This is the only
// path by which crashed subscribers are garbage-collected.
func (r *Router) removeOwner(ownerID string) {
	r.mu.Lock()
	entry, ok := r.monitors[ownerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	for _, sub := range entry.subs {
		r.root.remove(sub.filter, 0, sub.dest)
	}
	removed := len(entry.subs)
	delete(r.monitors, ownerID)
	r.mu.Unlock()

	r.logger.Debug("owner down",
		slog.String("pool", r.pool),
		slog.String("owner", ownerID),
		slog.Int("subscriptions", removed))

	r.metrics.AddSubscriptions(int64(-removed))
}

// replayRetained delivers retained messages matching a fresh subscription,
// gated by RetainHandling and filtered through the authorizer. It runs
// outside the router lock.
func (r *Router) replayRetained(filter []string, dest *destination, isNew bool) {
	if r.retained == nil {
		return
	}
	switch dest.opts.RetainHandling {
	case 2:
		return
	case 1:
		if !isNew {
			return
		}
	}

	entries, err := r.retained.Match(context.Background(), filter)
	if err != nil {
		r.logger.Error("retained lookup failed",
			slog.String("pool", r.pool),
			slog.String("filter", topics.String(filter)),
			slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		if !r.allowed(acl.OpSubscribe, entry.Message.Topic, entry.Message, dest.subscriberCtx) {
			continue
		}
		bindings, ok := topics.Match(filter, entry.Message.Topic)
		if !ok {
			continue
		}
		env := r.envelope(entry.Message.Topic, bindings, entry.Message.Copy(), entry.PublisherContext, dest)
		r.dispatch(dest, env)
		r.metrics.RecordRetainedReplayed(r.pool)
	}
}

func (r *Router) allowed(op acl.Op, topic []string, msg *core.Message, userCtx any) bool {
	if r.authz == nil {
		return true
	}
	return r.authz.IsAllowed(op, topic, msg, userCtx)
}

func validateCallback(cb Callback) error {
	switch c := cb.(type) {
	case MailboxDelivery:
		if c.C == nil {
			return ErrInvalidSubscriber
		}
	case Invocation:
		if c.Fn == nil {
			return ErrInvalidSubscriber
		}
	default:
		return ErrInvalidSubscriber
	}
	return nil
}
