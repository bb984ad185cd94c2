// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bridge mirrors topics from an upstream MQTT broker into a local
// pool. It is an edge adapter: the upstream wire protocol stays inside the
// paho client, and everything entering the pool goes through the router's
// public publish path.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/absmach/mbus/core"
	"github.com/absmach/mbus/ratelimit"
	"github.com/absmach/mbus/router"
	"github.com/absmach/mbus/topics"
)

// Config holds the upstream connection settings.
type Config struct {
	Broker   string // e.g. tcp://host:1883
	ClientID string
	Username string
	Password string
	Filters  []string
	QoS      byte
}

// Bridge subscribes to an upstream broker and republishes matching messages
// into the local pool.
type Bridge struct {
	cfg     Config
	router  *router.Router
	limiter *ratelimit.PublisherRateLimiter // nil disables rate limiting
	userCtx any
	logger  *slog.Logger

	client  mqtt.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a bridge feeding the given router. The user context is
// attached to every mirrored publish as its publisher context. A nil
// limiter disables ingress rate limiting.
func New(cfg Config, r *router.Router, limiter *ratelimit.PublisherRateLimiter, userCtx any, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		cfg:     cfg,
		router:  r,
		limiter: limiter,
		userCtx: userCtx,
		logger:  logger,
	}

	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bridge-upstream",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("upstream breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("upstream connection lost", slog.String("error", err.Error()))
		})

	b.client = mqtt.NewClient(opts)
	return b
}

// Start connects to the upstream broker. Subscriptions are (re)established
// by the on-connect handler, so they survive reconnects.
func (b *Bridge) Start(ctx context.Context) error {
	token := b.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect upstream: %w", err)
	}
	return nil
}

func (b *Bridge) onConnect(c mqtt.Client) {
	for _, filter := range b.cfg.Filters {
		if token := c.Subscribe(filter, b.cfg.QoS, b.onMessage); token.Wait() && token.Error() != nil {
			b.logger.Error("upstream subscribe failed",
				slog.String("filter", filter),
				slog.String("error", token.Error().Error()))
		}
	}
	b.logger.Info("upstream connected", slog.String("broker", b.cfg.Broker))
}

// onMessage republishes one upstream message into the pool.
func (b *Bridge) onMessage(_ mqtt.Client, m mqtt.Message) {
	if b.limiter != nil && !b.limiter.Allow(b.cfg.ClientID) {
		b.logger.Debug("upstream message rate limited", slog.String("topic", m.Topic()))
		return
	}

	topic := topics.Split(m.Topic())
	if err := topics.ValidateTopicName(topic); err != nil {
		b.logger.Warn("upstream message with invalid topic", slog.String("topic", m.Topic()))
		return
	}

	msg := &core.Message{
		Topic:   topic,
		Payload: m.Payload(),
		QoS:     m.Qos(),
		Retain:  m.Retained(),
	}

	if err := b.router.Publish(topic, msg, b.userCtx, nil); err != nil {
		b.logger.Error("bridge publish failed",
			slog.String("topic", m.Topic()),
			slog.String("error", err.Error()))
	}
}

// PublishUpstream pushes a message out to the upstream broker, guarded by
// the circuit breaker so a flapping upstream cannot back up callers.
func (b *Bridge) PublishUpstream(topic []string, payload []byte, qos byte, retain bool) error {
	_, err := b.breaker.Execute(func() (any, error) {
		token := b.client.Publish(topics.String(topic), qos, retain, payload)
		if !token.WaitTimeout(10 * time.Second) {
			return nil, fmt.Errorf("upstream publish timed out")
		}
		return nil, token.Error()
	})
	return err
}

// Close disconnects from the upstream broker.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}
