package alert_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auto_guard_go/alert"
	"auto_guard_go/breaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubNotifier is a controllable channel for fan-out tests.
type stubNotifier struct {
	name  string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Send(ctx context.Context, ev breaker.TriggerEvent, priority breaker.Priority) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *stubNotifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testEvent(level breaker.Level) breaker.TriggerEvent {
	return breaker.TriggerEvent{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Source:    "monitor",
		Reason:    "daily_loss_limit",
	}
}

func TestFanOutReachesAllChannels(t *testing.T) {
	m := alert.NewManager(time.Second)
	a := &stubNotifier{name: "webhook"}
	b := &stubNotifier{name: "email"}
	m.AddChannel(a)
	m.AddChannel(b)

	m.SendAlert(testEvent(breaker.LevelPortfolioSoft), breaker.PriorityHigh)

	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, b.Calls())
}

func TestOneFailingChannelDoesNotBlockOthers(t *testing.T) {
	m := alert.NewManager(time.Second)
	failing := &stubNotifier{name: "webhook", err: errors.New("webhook down")}
	healthy := &stubNotifier{name: "email"}
	m.AddChannel(failing)
	m.AddChannel(healthy)

	// Must not panic or error out; failures are delivery warnings.
	m.SendAlert(testEvent(breaker.LevelPortfolioHard), breaker.PriorityCritical)

	assert.Equal(t, 1, failing.Calls())
	assert.Equal(t, 1, healthy.Calls())
}

func TestSlowChannelIsBoundedByTimeout(t *testing.T) {
	m := alert.NewManager(100 * time.Millisecond)
	slow := &stubNotifier{name: "webhook", delay: 2 * time.Second}
	fast := &stubNotifier{name: "email"}
	m.AddChannel(slow)
	m.AddChannel(fast)

	start := time.Now()
	m.SendAlert(testEvent(breaker.LevelEmergency), breaker.PriorityCritical)
	elapsed := time.Since(start)

	require.Less(t, elapsed, time.Second, "fan-out must return once channels have completed or timed out")
	assert.Equal(t, 1, fast.Calls())
}

func TestPagerOnlyFiresOnCritical(t *testing.T) {
	m := alert.NewManager(time.Second)
	pager := &stubNotifier{name: "pager"}
	webhook := &stubNotifier{name: "webhook"}
	m.AddCriticalChannel(pager)
	m.AddChannel(webhook)

	m.SendAlert(testEvent(breaker.LevelStrategyHalt), breaker.PriorityHigh)
	assert.Equal(t, 0, pager.Calls(), "paging is never attempted below critical")
	assert.Equal(t, 1, webhook.Calls())

	m.SendAlert(testEvent(breaker.LevelEmergency), breaker.PriorityCritical)
	assert.Equal(t, 1, pager.Calls())
	assert.Equal(t, 2, webhook.Calls())
}

func TestNoChannelsIsANoOp(t *testing.T) {
	m := alert.NewManager(time.Second)
	m.SendAlert(testEvent(breaker.LevelEmergency), breaker.PriorityCritical)
}
