// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package will

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/mbus/core"
	"github.com/absmach/mbus/router"
)

type fakeSession struct {
	id   string
	done chan struct{}
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, done: make(chan struct{})}
}

func (s *fakeSession) ID() string            { return s.id }
func (s *fakeSession) Done() <-chan struct{} { return s.done }
func (s *fakeSession) crash()                { close(s.done) }

type fakeController struct {
	mu     sync.Mutex
	killed []string
}

func (c *fakeController) Kill(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed = append(c.killed, id)
	return nil
}

func (c *fakeController) killCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.killed)
}

type publishCall struct {
	msg    *core.Message
	pubCtx any
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
}

func (p *fakePublisher) Publish(topic []string, msg *core.Message, publisherCtx any, publisher router.Owner) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{msg: msg, pubCtx: publisherCtx})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePublisher) last() publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

type fixture struct {
	session *fakeSession
	ctrl    *fakeController
	pub     *fakePublisher
	w       *Watchdog
}

// start builds a watchdog with a millisecond tick so seconds-denominated
// scenarios run fast.
func start(t *testing.T, tick time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		session: newFakeSession("s1"),
		ctrl:    &fakeController{},
		pub:     &fakePublisher{},
	}
	f.w = Start("pool", f.session, f.ctrl, f.pub, WithTick(tick))
	t.Cleanup(f.w.Stop)
	return f
}

// settle gives the watchdog's inbox time to drain a posted command before
// the test races it with a session event.
func settle() { time.Sleep(20 * time.Millisecond) }

func terminated(w *Watchdog) bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func TestConnectExpiryKillsStalledSession(t *testing.T) {
	f := start(t, time.Millisecond)

	// No CONNECT within the window: the session is killed. The will is
	// empty, so nothing is published.
	require.Eventually(t, func() bool { return f.ctrl.killCount() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, f.pub.count())
	assert.True(t, terminated(f.w))
}

func TestWillPublishedOnCrash(t *testing.T) {
	f := start(t, time.Millisecond)

	f.w.Connected(&core.Will{
		Topic:   []string{"a", "b"},
		Payload: []byte("bye"),
		QoS:     1,
	}, 300, "user-ctx")
	settle()

	f.session.crash()

	require.Eventually(t, func() bool { return f.pub.count() == 1 }, time.Second, time.Millisecond)
	call := f.pub.last()
	assert.Equal(t, []string{"a", "b"}, call.msg.Topic)
	assert.Equal(t, "bye", string(call.msg.Payload))
	assert.Equal(t, byte(1), call.msg.QoS)
	assert.False(t, call.msg.Retain)
	assert.NotNil(t, call.msg.Properties)
	assert.Empty(t, call.msg.Properties)
	assert.Equal(t, "user-ctx", call.pubCtx)
	assert.Zero(t, f.ctrl.killCount(), "a crash needs no kill")
}

func TestGracefulDisconnectWithoutWill(t *testing.T) {
	f := start(t, time.Millisecond)

	f.w.Connected(nil, 60, nil)
	settle()
	f.w.DisconnectedDefault()

	// No will means a zero delay: the session is killed promptly and
	// nothing is published.
	require.Eventually(t, func() bool { return f.ctrl.killCount() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, f.pub.count())
	assert.True(t, terminated(f.w))
}

func TestWillDelayElapses(t *testing.T) {
	f := start(t, 10*time.Millisecond)

	f.w.Connected(&core.Will{
		Topic:         []string{"t"},
		Payload:       []byte("x"),
		DelayInterval: 10,
	}, 30, nil)
	settle()
	f.w.Disconnected(true, nil)

	// Well before the 10-tick delay: nothing yet.
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, f.pub.count())

	require.Eventually(t, func() bool { return f.pub.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, f.ctrl.killCount())
}

func TestReconnectCancelsPendingWill(t *testing.T) {
	f := start(t, 10*time.Millisecond)

	f.w.Connected(&core.Will{
		Topic:         []string{"t"},
		Payload:       []byte("x"),
		DelayInterval: 10,
	}, 30, nil)
	settle()
	f.w.Disconnected(true, nil)

	time.Sleep(50 * time.Millisecond)
	f.w.Reconnected()

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, f.pub.count())
	assert.Zero(t, f.ctrl.killCount())
	assert.False(t, terminated(f.w), "watchdog stays alive after reconnect")
}

func TestStopPreventsPublish(t *testing.T) {
	f := start(t, time.Millisecond)

	f.w.Connected(&core.Will{Topic: []string{"t"}, Payload: []byte("x")}, 300, nil)
	settle()

	f.w.Stop()
	assert.True(t, terminated(f.w))

	// Even a session crash after Stop publishes nothing.
	f.session.crash()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.pub.count())

	// Stop is idempotent.
	f.w.Stop()
}

func TestStopCancelsArmedTimer(t *testing.T) {
	f := start(t, 10*time.Millisecond)

	f.w.Connected(&core.Will{Topic: []string{"t"}, Payload: []byte("x"), DelayInterval: 2}, 300, nil)
	settle()
	f.w.Disconnected(true, nil)
	f.w.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.pub.count())
	assert.Zero(t, f.ctrl.killCount())
}

func TestDisconnectDelayTakesMinimum(t *testing.T) {
	f := start(t, 10*time.Millisecond)

	// Will delay 3 ticks, disconnect delay 60 ticks: min wins, so the will
	// goes out long before 60 ticks.
	f.w.Connected(&core.Will{Topic: []string{"t"}, Payload: []byte("x"), DelayInterval: 3}, 300, nil)
	settle()
	sixty := uint32(60)
	f.w.Disconnected(true, &sixty)

	require.Eventually(t, func() bool { return f.pub.count() == 1 }, 300*time.Millisecond, time.Millisecond)
}

func TestDisconnectClearsWillButKeepsDelay(t *testing.T) {
	f := start(t, 10*time.Millisecond)

	f.w.Connected(&core.Will{Topic: []string{"t"}, Payload: []byte("x"), DelayInterval: 3}, 300, nil)
	settle()
	f.w.Disconnected(false, nil)

	// The timer still runs on the dropped will's interval, but firing
	// publishes nothing because the will is gone.
	require.Eventually(t, func() bool { return f.ctrl.killCount() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, f.pub.count())
}

func TestDisconnectOverrideDelay(t *testing.T) {
	f := start(t, 10*time.Millisecond)

	f.w.Connected(&core.Will{Topic: []string{"t"}, Payload: []byte("x"), DelayInterval: 50}, 300, nil)
	settle()
	two := uint32(2)
	f.w.Disconnected(false, &two)

	// Will cleared; override delay of 2 ticks governs the kill.
	require.Eventually(t, func() bool { return f.ctrl.killCount() == 1 }, 300*time.Millisecond, time.Millisecond)
	assert.Zero(t, f.pub.count())
}

func TestStaleTimerIgnored(t *testing.T) {
	f := start(t, 10*time.Millisecond)

	f.w.Connected(&core.Will{Topic: []string{"t"}, Payload: []byte("x"), DelayInterval: 2}, 300, nil)
	settle()
	f.w.Disconnected(true, nil)

	// Reconnecting bumps the generation; the already-scheduled firing must
	// be ignored.
	f.w.Connected(&core.Will{Topic: []string{"t"}, Payload: []byte("x"), DelayInterval: 2}, 300, nil)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, f.pub.count())
	assert.Zero(t, f.ctrl.killCount())
	assert.False(t, terminated(f.w))
}

func TestSetUserContext(t *testing.T) {
	f := start(t, time.Millisecond)

	f.w.Connected(&core.Will{Topic: []string{"t"}, Payload: []byte("x")}, 300, "old")
	f.w.SetUserContext("reauthed")
	settle()

	f.session.crash()

	require.Eventually(t, func() bool { return f.pub.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "reauthed", f.pub.last().pubCtx)
}

func TestWillWithoutPayloadNotPublished(t *testing.T) {
	f := start(t, time.Millisecond)

	f.w.Connected(&core.Will{Topic: []string{"t"}}, 300, nil)
	settle()
	f.session.crash()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.pub.count())
}
