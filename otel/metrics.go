// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package otel holds the OpenTelemetry instruments for the routing core.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for the routing core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	// Counters
	publishesTotal   metric.Int64Counter
	dispatchesTotal  metric.Int64Counter
	dispatchDropped  metric.Int64Counter
	willsPublished   metric.Int64Counter
	retainedReplayed metric.Int64Counter

	// UpDownCounters (gauges)
	subscriptionsActive metric.Int64UpDownCounter
	watchdogsActive     metric.Int64UpDownCounter
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("mbus"),
	}

	var err error

	m.publishesTotal, err = m.meter.Int64Counter(
		"mbus.publishes.total",
		metric.WithDescription("Total number of messages routed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishesTotal counter: %w", err)
	}

	m.dispatchesTotal, err = m.meter.Int64Counter(
		"mbus.dispatches.total",
		metric.WithDescription("Total number of per-subscriber deliveries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatchesTotal counter: %w", err)
	}

	m.dispatchDropped, err = m.meter.Int64Counter(
		"mbus.dispatches.dropped",
		metric.WithDescription("Deliveries dropped because the subscriber mailbox was full or the callback failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatchDropped counter: %w", err)
	}

	m.willsPublished, err = m.meter.Int64Counter(
		"mbus.wills.published",
		metric.WithDescription("Will messages published by watchdogs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create willsPublished counter: %w", err)
	}

	m.retainedReplayed, err = m.meter.Int64Counter(
		"mbus.retained.replayed",
		metric.WithDescription("Retained messages replayed to new subscriptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retainedReplayed counter: %w", err)
	}

	m.subscriptionsActive, err = m.meter.Int64UpDownCounter(
		"mbus.subscriptions.active",
		metric.WithDescription("Active subscriptions across all pools"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionsActive gauge: %w", err)
	}

	m.watchdogsActive, err = m.meter.Int64UpDownCounter(
		"mbus.watchdogs.active",
		metric.WithDescription("Live will watchdogs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create watchdogsActive gauge: %w", err)
	}

	return m, nil
}

// RecordPublish increments the publish counter for a pool.
func (m *Metrics) RecordPublish(pool string) {
	if m == nil {
		return
	}
	m.publishesTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordDispatch increments the per-subscriber delivery counter.
func (m *Metrics) RecordDispatch(pool string) {
	if m == nil {
		return
	}
	m.dispatchesTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordDispatchDropped increments the dropped-delivery counter.
func (m *Metrics) RecordDispatchDropped(pool string) {
	if m == nil {
		return
	}
	m.dispatchDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordWillPublished increments the will-publish counter.
func (m *Metrics) RecordWillPublished(pool string) {
	if m == nil {
		return
	}
	m.willsPublished.Add(context.Background(), 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordRetainedReplayed increments the retained-replay counter.
func (m *Metrics) RecordRetainedReplayed(pool string) {
	if m == nil {
		return
	}
	m.retainedReplayed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// AddSubscriptions adjusts the active-subscription gauge.
func (m *Metrics) AddSubscriptions(delta int64) {
	if m == nil {
		return
	}
	m.subscriptionsActive.Add(context.Background(), delta)
}

// AddWatchdogs adjusts the live-watchdog gauge.
func (m *Metrics) AddWatchdogs(delta int64) {
	if m == nil {
		return
	}
	m.watchdogsActive.Add(context.Background(), delta)
}
