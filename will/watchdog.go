// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package will implements the per-session will watchdog: it monitors a
// session's liveness and publishes the session's Last Will and Testament
// exactly when the MQTT 5.0 rules demand it: on unexpected termination, or
// when the post-disconnect expiry timer elapses without a reconnect.
package will

import (
	"log/slog"
	"time"

	"github.com/absmach/mbus/core"
	"github.com/absmach/mbus/otel"
	"github.com/absmach/mbus/router"
	"github.com/absmach/mbus/topics"
)

// connectExpiry bounds how long a freshly attached session may take to
// complete its CONNECT handshake before the watchdog kills it.
const connectExpiry = 20

// Session is the monitored session handle. Done closes when the session
// process terminates, expectedly or not.
type Session interface {
	ID() string
	Done() <-chan struct{}
}

// SessionController terminates sessions on the watchdog's behalf when an
// expiry timer fires. Kill is best effort.
type SessionController interface {
	Kill(sessionID string) error
}

// Publisher is where wills are published; *router.Router satisfies it.
type Publisher interface {
	Publish(topic []string, msg *core.Message, publisherCtx any, publisher router.Owner) error
}

type cmdKind byte

const (
	cmdConnected cmdKind = iota
	cmdReconnected
	cmdDisconnected
	cmdSetUserContext
	cmdExpired
	cmdStop
)

type command struct {
	kind    cmdKind
	will    *core.Will
	expiry  uint32
	userCtx any
	isWill  bool
	delay   *uint32
	gen     uint64
	ack     chan struct{}
}

// Watchdog holds a session's will and decides when to publish it. All state
// transitions run on a single goroutine fed by a serial inbox; callers never
// touch watchdog state directly.
type Watchdog struct {
	pool    string
	session Session
	ctrl    SessionController
	pub     Publisher
	logger  *slog.Logger
	metrics *otel.Metrics

	// tick scales seconds-denominated intervals into durations. Tests
	// shrink it to run expiry scenarios in milliseconds.
	tick time.Duration

	cmds chan command
	done chan struct{}

	// Actor-goroutine state. Never accessed from outside the run loop.
	will          *core.Will
	sessionExpiry uint32
	userCtx       any
	generation    uint64
	timer         *time.Timer
	stopping      bool
	published     bool
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) { w.logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *otel.Metrics) Option {
	return func(w *Watchdog) { w.metrics = m }
}

// WithTick overrides the seconds scale. Intended for tests.
func WithTick(d time.Duration) Option {
	return func(w *Watchdog) { w.tick = d }
}

// Start creates a watchdog for the session and begins monitoring it. The
// connect-expiry timer is armed immediately: a session that does not finish
// its CONNECT handshake within 20 seconds is killed.
func Start(pool string, session Session, ctrl SessionController, pub Publisher, opts ...Option) *Watchdog {
	w := &Watchdog{
		pool:    pool,
		session: session,
		ctrl:    ctrl,
		pub:     pub,
		tick:    time.Second,
		cmds:    make(chan command, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	w.metrics.AddWatchdogs(1)
	go w.run()
	return w
}

// Connected records a completed CONNECT handshake: the will (nil clears
// it), the session expiry interval, and the authorization context. Any
// armed timer is cancelled.
func (w *Watchdog) Connected(will *core.Will, sessionExpiry uint32, userCtx any) {
	w.post(command{kind: cmdConnected, will: will.Copy(), expiry: sessionExpiry, userCtx: userCtx})
}

// Reconnected records a session re-attachment. Cancels any armed timer and
// leaves will, expiry, and context untouched.
func (w *Watchdog) Reconnected() {
	w.post(command{kind: cmdReconnected})
}

// Disconnected records the loss of the client connection and arms the
// expiry timer. With isWill false the will is cleared first; delay, when
// non-nil, overrides (or, combined with a kept will, caps at min with) the
// will's own delay interval. All delays are in seconds.
func (w *Watchdog) Disconnected(isWill bool, delay *uint32) {
	w.post(command{kind: cmdDisconnected, isWill: isWill, delay: delay})
}

// DisconnectedDefault is Disconnected(true, nil): keep the will, use its
// own delay interval.
func (w *Watchdog) DisconnectedDefault() {
	w.Disconnected(true, nil)
}

// SetUserContext replaces the authorization context, typically after a
// successful re-authentication.
func (w *Watchdog) SetUserContext(userCtx any) {
	w.post(command{kind: cmdSetUserContext, userCtx: userCtx})
}

// Stop shuts the watchdog down without publishing. It blocks until the
// watchdog has acknowledged; no will can be published after it returns.
func (w *Watchdog) Stop() {
	ack := make(chan struct{})
	select {
	case w.cmds <- command{kind: cmdStop, ack: ack}:
	case <-w.done:
		return
	}
	select {
	case <-ack:
	case <-w.done:
	}
}

// post enqueues a command, dropping it if the watchdog already terminated.
func (w *Watchdog) post(c command) {
	select {
	case w.cmds <- c:
	case <-w.done:
	}
}

func (w *Watchdog) run() {
	defer close(w.done)
	defer w.metrics.AddWatchdogs(-1)
	defer func() {
		// A crashed watchdog still publishes the will it holds.
		if rec := recover(); rec != nil {
			w.logger.Error("watchdog crashed",
				slog.String("pool", w.pool),
				slog.String("session", w.session.ID()),
				slog.Any("panic", rec))
			w.cancelTimer()
			w.publishWill()
		}
	}()

	w.arm(connectExpiry)

	for {
		select {
		case cmd := <-w.cmds:
			if w.handle(cmd) {
				return
			}
		case <-w.session.Done():
			// Unexpected session termination.
			if !w.stopping {
				w.publishWill()
			}
			w.cancelTimer()
			return
		}
	}
}

// handle processes one command; it reports whether the watchdog should
// terminate.
func (w *Watchdog) handle(cmd command) bool {
	switch cmd.kind {
	case cmdConnected:
		w.will = cmd.will
		w.sessionExpiry = cmd.expiry
		w.userCtx = cmd.userCtx
		w.cancelTimer()

	case cmdReconnected:
		w.cancelTimer()

	case cmdDisconnected:
		w.armDisconnect(cmd.isWill, cmd.delay)

	case cmdSetUserContext:
		w.userCtx = cmd.userCtx

	case cmdExpired:
		if cmd.gen != w.generation {
			// Stale timer; a later arm or cancel superseded it.
			return false
		}
		if err := w.ctrl.Kill(w.session.ID()); err != nil {
			w.logger.Warn("session kill failed",
				slog.String("pool", w.pool),
				slog.String("session", w.session.ID()),
				slog.String("error", err.Error()))
		}
		w.publishWill()
		return true

	case cmdStop:
		w.stopping = true
		w.cancelTimer()
		close(cmd.ack)
		return true

	default:
		// The inbox is typed; an unknown kind is a programming error. Crash
		// the watchdog: run recovers the panic and publishes the will.
		panic("will: unknown watchdog command")
	}
	return false
}

// armDisconnect applies the disconnect-timer policy. w.will's delay
// interval is read before any clearing so the remembered interval of a
// dropped will still governs the timer.
func (w *Watchdog) armDisconnect(isWill bool, delay *uint32) {
	var willDelay uint32
	if w.will != nil {
		willDelay = w.will.DelayInterval
	}

	if !isWill {
		w.will = nil
	}

	seconds := willDelay
	if delay != nil {
		seconds = *delay
		if isWill && willDelay < seconds {
			seconds = willDelay
		}
	}
	w.arm(seconds)
}

// arm starts a fresh expiry timer, invalidating any prior one via the
// generation token.
func (w *Watchdog) arm(seconds uint32) {
	w.cancelTimer()
	w.generation++
	gen := w.generation
	w.timer = time.AfterFunc(time.Duration(seconds)*w.tick, func() {
		w.post(command{kind: cmdExpired, gen: gen})
	})
}

// cancelTimer stops the armed timer, if any, and invalidates in-flight
// firings.
func (w *Watchdog) cancelTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.generation++
}

// publishWill publishes the current will through the router. A will goes
// out at most once per watchdog lifetime, and only when it has both a topic
// and a payload. Publish failures are logged and swallowed, never retried.
func (w *Watchdog) publishWill() {
	if w.stopping || w.published || w.will.Empty() {
		return
	}
	w.published = true

	msg := w.will.Message()

	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("will publish panicked",
				slog.String("pool", w.pool),
				slog.String("session", w.session.ID()),
				slog.Any("panic", rec))
		}
	}()

	if err := w.pub.Publish(msg.Topic, msg, w.userCtx, nil); err != nil {
		w.logger.Error("will publish failed",
			slog.String("pool", w.pool),
			slog.String("session", w.session.ID()),
			slog.String("error", err.Error()))
		return
	}

	w.logger.Info("will published",
		slog.String("pool", w.pool),
		slog.String("session", w.session.ID()),
		slog.String("topic", topics.String(msg.Topic)))
	w.metrics.RecordWillPublished(w.pool)
}
