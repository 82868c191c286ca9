// alert/manager.go
package alert

import (
	"context"
	"sync"
	"time"

	"auto_guard_go/breaker"
	"auto_guard_go/logs"
)

// Notifier is the single capability a notification channel must provide.
// New channels plug in here without any controller change.
type Notifier interface {
	Name() string
	Send(ctx context.Context, ev breaker.TriggerEvent, priority breaker.Priority) error
}

type channel struct {
	notifier     Notifier
	criticalOnly bool
}

// Ensure Manager satisfies the controller's alerting contract.
var _ breaker.Alerter = (*Manager)(nil)

// Manager fans one trigger event out to every configured channel
// concurrently. Each channel is independently best-effort: a failure or
// timeout on one never prevents delivery attempts on the others, and a
// channel failure is a delivery warning, never a system error.
type Manager struct {
	timeout  time.Duration
	chMu     sync.RWMutex
	channels []channel
}

// NewManager creates a manager with the given per-channel delivery timeout.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{timeout: timeout}
}

// AddChannel registers a channel that receives every alert.
func (m *Manager) AddChannel(n Notifier) {
	m.chMu.Lock()
	defer m.chMu.Unlock()
	m.channels = append(m.channels, channel{notifier: n})
	logs.Infof("[Alert] Channel registered: %s", n.Name())
}

// AddCriticalChannel registers a channel only attempted for critical alerts
// (paging).
func (m *Manager) AddCriticalChannel(n Notifier) {
	m.chMu.Lock()
	defer m.chMu.Unlock()
	m.channels = append(m.channels, channel{notifier: n, criticalOnly: true})
	logs.Infof("[Alert] Critical-only channel registered: %s", n.Name())
}

// SendAlert dispatches the event to every eligible channel and returns once
// all attempts have completed or timed out.
func (m *Manager) SendAlert(ev breaker.TriggerEvent, priority breaker.Priority) {
	m.chMu.RLock()
	channels := append([]channel(nil), m.channels...)
	m.chMu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		if ch.criticalOnly && priority != breaker.PriorityCritical {
			continue
		}
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.deliver(ch.notifier, ev, priority)
		}()
	}
	wg.Wait()
}

// deliver runs one channel attempt under the per-channel timeout. The send
// itself runs in a nested goroutine so a channel that ignores its context
// cannot hold up the fan-out join.
func (m *Manager) deliver(n Notifier, ev breaker.TriggerEvent, priority breaker.Priority) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Send(ctx, ev, priority)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logs.Warnf("[Alert] Delivery via %s failed: %v", n.Name(), err)
		} else {
			logs.Debugf("[Alert] Delivered %s alert via %s", priority, n.Name())
		}
	case <-ctx.Done():
		logs.Warnf("[Alert] Delivery via %s timed out after %s", n.Name(), m.timeout)
	}
}
