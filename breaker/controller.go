// breaker/controller.go
package breaker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"auto_guard_go/config"
	"auto_guard_go/execution"
	"auto_guard_go/logs"
)

// latencyHistoryCapacity bounds the trigger-latency ring used for the
// avg_trigger_time status figure.
const latencyHistoryCapacity = 64

// Controller is the single authority over the escalation level, the
// per-strategy states and the live risk metrics. It is created once at
// process start and handed to collaborators explicitly; there is no hidden
// process-wide instance.
type Controller struct {
	cfg        *config.Config
	exec       execution.Client
	audit      AuditSink
	alerts     Alerter
	snapshots  SnapshotWriter
	resetToken string

	// escMu covers the full escalate sequence (compare, log, alert, act,
	// commit) so two racing callers can never produce two events for the
	// same upward transition. The level itself is additionally kept in an
	// atomic so status reads never queue behind an escalation in flight.
	escMu     sync.Mutex
	level     atomic.Int32
	startedAt time.Time

	metricsMu       sync.RWMutex
	states          map[string]StrategyState
	strategyMetrics map[string]*StrategyMetrics
	portfolio       PortfolioMetrics

	cbMu      sync.RWMutex
	callbacks map[string][]CallbackFunc

	latMu     sync.Mutex
	latencies *latencyRing

	// fatalFn terminates the process when the emergency shutdown overruns
	// its budget. Replaceable so the fatal path itself is testable.
	fatalFn func(format string, args ...interface{})
}

// NewController wires the controller to its collaborators. resetToken is the
// pre-shared dual-authorization secret required by ResetSystem; an empty
// token disables resets entirely.
func NewController(cfg *config.Config, exec execution.Client, audit AuditSink, alerts Alerter, snapshots SnapshotWriter, resetToken string) *Controller {
	return &Controller{
		cfg:             cfg,
		exec:            exec,
		audit:           audit,
		alerts:          alerts,
		snapshots:       snapshots,
		resetToken:      resetToken,
		startedAt:       time.Now(),
		states:          make(map[string]StrategyState),
		strategyMetrics: make(map[string]*StrategyMetrics),
		callbacks:       make(map[string][]CallbackFunc),
		latencies:       newLatencyRing(latencyHistoryCapacity),
		fatalFn:         logs.Fatalf,
	}
}

// SetFatalFunc replaces the process-terminating fatal handler.
func (c *Controller) SetFatalFunc(fn func(format string, args ...interface{})) {
	c.fatalFn = fn
}

// Level returns the current escalation level.
func (c *Controller) Level() Level {
	return Level(c.level.Load())
}

// RegisterCallback registers fn to run whenever the named event's action set
// executes. Multiple callbacks per event run in registration order.
func (c *Controller) RegisterCallback(event string, fn CallbackFunc) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callbacks[event] = append(c.callbacks[event], fn)
}

// TryEscalate attempts to raise the system to the given level. A level at or
// below the current one is an idempotent no-op. On success the trigger event
// is audited first, then alerted, then the level's action set runs, and only
// then does the new level become externally observable.
func (c *Controller) TryEscalate(ctx context.Context, level Level, reason, strategyID string, threshold, actual float64, initiator string) bool {
	c.escMu.Lock()
	defer c.escMu.Unlock()

	prev := Level(c.level.Load())
	if level <= prev {
		return false
	}
	start := time.Now()

	source := "monitor"
	if initiator != "" && initiator != InitiatorAutomated {
		source = "MANUAL"
	}
	ev := newTriggerEvent(level, source, reason, threshold, actual, strategyID, initiator, map[string]string{
		"previous_level": prev.String(),
	})

	// The audit record must be durable before any externally visible action.
	c.audit.Log(ev)
	c.alerts.SendAlert(ev, alertPriority(level))
	c.runActionSet(ctx, ev)

	c.level.Store(int32(level))
	if strategyID != "" {
		c.haltIfRunning(strategyID)
	}

	c.recordLatency(time.Since(start))
	logs.Warnf("[KillSwitch] Escalated %s -> %s (reason=%s, strategy=%s, initiator=%s)",
		prev, level, reason, strategyID, ev.Initiator)
	return true
}

// runActionSet executes the protective actions for the level being entered.
func (c *Controller) runActionSet(ctx context.Context, ev TriggerEvent) {
	switch ev.Level {
	case LevelStrategyHalt:
		c.runCallbacks(ctx, EventStrategyHalt, ev.StrategyID)
	case LevelStrategyClose:
		c.runCallbacks(ctx, EventStrategyClose, ev.StrategyID)
		c.closeStrategyPositions(ctx, ev.StrategyID)
	case LevelPortfolioSoft:
		// Order-submission rejection is enforced by the caller observing the
		// level; no positions are touched here.
		c.runCallbacks(ctx, EventPortfolioSoft, "")
	case LevelPortfolioHard:
		c.runCallbacks(ctx, EventPortfolioHard, "")
		c.closeAllPositions(ctx)
	case LevelEmergency:
		c.runCallbacks(ctx, EventEmergency, "")
		c.emergencyShutdown(ctx)
	}
}

// runCallbacks invokes every callback registered for the event, collecting
// errors without aborting siblings.
func (c *Controller) runCallbacks(ctx context.Context, event, strategyID string) {
	c.cbMu.RLock()
	cbs := append([]CallbackFunc(nil), c.callbacks[event]...)
	c.cbMu.RUnlock()
	for _, cb := range cbs {
		if err := cb(ctx, strategyID); err != nil {
			logs.ReportError("callback", fmt.Errorf("%s callback failed: %w", event, err))
		}
	}
}

// closeStrategyPositions force-closes one strategy's positions. A close that
// fails or times out is reported but does not block the transition to
// INACTIVE: correctness here means "protective action initiated".
func (c *Controller) closeStrategyPositions(ctx context.Context, strategyID string) {
	if strategyID == "" {
		return
	}
	c.setState(strategyID, StateClosing)

	cctx, cancel := context.WithTimeout(ctx, c.closeTimeout())
	defer cancel()
	if err := c.exec.ClosePositions(cctx, strategyID); err != nil {
		logs.ReportError("position_close", fmt.Errorf("strategy %s: %w", strategyID, err))
	}

	c.setState(strategyID, StateInactive)
}

// closeAllPositions closes positions for every tracked strategy as a
// bounded-concurrency fan-out, then issues a full close-all sweep for
// anything the controller is not tracking.
func (c *Controller) closeAllPositions(ctx context.Context) {
	ids := c.markAllTracked(StateClosing)

	cctx, cancel := context.WithTimeout(ctx, c.closeTimeout())
	defer cancel()

	sem := make(chan struct{}, c.cfg.Timing.MaxConcurrentCloses)
	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.exec.ClosePositions(cctx, id); err != nil {
				logs.ReportError("position_close", fmt.Errorf("strategy %s: %w", id, err))
			}
		}()
	}
	wg.Wait()

	if err := c.exec.CloseAllPositions(cctx); err != nil {
		logs.ReportError("position_close", fmt.Errorf("close-all sweep: %w", err))
	}

	c.markAllTracked(StateInactive)
}

func (c *Controller) closeTimeout() time.Duration {
	return time.Duration(c.cfg.Timing.PositionCloseTimeoutSeconds) * time.Second
}

func (c *Controller) recordLatency(d time.Duration) {
	c.latMu.Lock()
	defer c.latMu.Unlock()
	c.latencies.Record(d)
}

// --- strategy state helpers (metricsMu) ---

func (c *Controller) setState(id string, st StrategyState) {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	c.states[id] = st
}

// haltIfRunning marks the strategy HALTED unless a close path has already
// moved it further along its lifecycle.
func (c *Controller) haltIfRunning(id string) {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	switch c.states[id] {
	case StateClosing, StateInactive:
		return
	default:
		c.states[id] = StateHalted
	}
}

// markAllTracked sets every tracked strategy to st and returns their ids.
func (c *Controller) markAllTracked(st StrategyState) []string {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	ids := make([]string, 0, len(c.states))
	for id := range c.states {
		c.states[id] = st
		ids = append(ids, id)
	}
	return ids
}

// --- metrics feeder surface ---

// UpdateStrategyMetrics applies a last-write-wins field update for one
// strategy. A strategy id seen for the first time is created ACTIVE.
// Metrics updates never take the escalation lock.
func (c *Controller) UpdateStrategyMetrics(id string, u StrategyMetricsUpdate) {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	m, ok := c.strategyMetrics[id]
	if !ok {
		m = newStrategyMetrics(id)
		c.strategyMetrics[id] = m
		c.states[id] = StateActive
		logs.Infof("[KillSwitch] Tracking new strategy: %s", id)
	}
	applyStrategyUpdate(m, u)
}

// UpdatePortfolioMetrics applies a last-write-wins field update to the
// portfolio record.
func (c *Controller) UpdatePortfolioMetrics(u PortfolioMetricsUpdate) {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	applyPortfolioUpdate(&c.portfolio, u)
}

func (c *Controller) strategySnapshots() []StrategyMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	out := make([]StrategyMetrics, 0, len(c.strategyMetrics))
	for _, m := range c.strategyMetrics {
		out = append(out, m.copyForRead())
	}
	return out
}

func (c *Controller) portfolioSnapshot() PortfolioMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.portfolio
}

// StrategyState returns the tracked state for one strategy.
func (c *Controller) StrategyState(id string) (StrategyState, bool) {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	st, ok := c.states[id]
	return st, ok
}

// --- status query ---

// Status is a consistent point-in-time view of the controller, computed
// under short-held locks only.
type Status struct {
	Level          string                   `json:"level"`
	StrategyStates map[string]StrategyState `json:"strategy_states"`
	Portfolio      PortfolioMetrics         `json:"portfolio_metrics"`
	AvgTriggerMs   float64                  `json:"avg_trigger_ms"`
	Uptime         time.Duration            `json:"uptime"`
}

func (c *Controller) Status() Status {
	c.metricsMu.RLock()
	states := make(map[string]StrategyState, len(c.states))
	for id, st := range c.states {
		states[id] = st
	}
	portfolio := c.portfolio
	c.metricsMu.RUnlock()

	c.latMu.Lock()
	avg := c.latencies.AvgMs()
	c.latMu.Unlock()

	return Status{
		Level:          c.Level().String(),
		StrategyStates: states,
		Portfolio:      portfolio,
		AvgTriggerMs:   avg,
		Uptime:         time.Since(c.startedAt),
	}
}

// --- manual operator API ---

// HaltStrategy is the manual STRATEGY_HALT trigger.
func (c *Controller) HaltStrategy(ctx context.Context, strategyID, operator string) bool {
	return c.TryEscalate(ctx, LevelStrategyHalt, "manual_halt", strategyID, 0, 0, operator)
}

// CloseStrategy is the manual STRATEGY_CLOSE trigger.
func (c *Controller) CloseStrategy(ctx context.Context, strategyID, operator string) bool {
	return c.TryEscalate(ctx, LevelStrategyClose, "manual_close", strategyID, 0, 0, operator)
}

// EmergencyStop is the manual EMERGENCY trigger.
func (c *Controller) EmergencyStop(ctx context.Context, operator string) bool {
	return c.TryEscalate(ctx, LevelEmergency, "manual_emergency_stop", "", 0, 0, operator)
}

// ResumeStrategy flips one strategy into RECOVERY. It is a per-strategy
// exception to the monotonic level, not a de-escalation, so it goes through
// the action log rather than the trigger path. Returning the strategy to
// ACTIVE is the metrics feeder's policy, not ours.
func (c *Controller) ResumeStrategy(strategyID, operator string) error {
	c.metricsMu.Lock()
	if _, ok := c.states[strategyID]; !ok {
		c.metricsMu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	c.states[strategyID] = StateRecovery
	c.metricsMu.Unlock()

	c.audit.LogAction("resume_strategy", operator, map[string]string{"strategy_id": strategyID})
	logs.Warnf("[KillSwitch] Strategy %s moved to RECOVERY by %s", strategyID, operator)
	return nil
}

// ResetSystem lowers the level back to NONE. It is the only operation
// permitted to do so and requires the pre-shared dual-authorization token.
func (c *Controller) ResetSystem(operator, token string) error {
	if c.resetToken == "" || token != c.resetToken {
		return fmt.Errorf("%w (operator=%s)", ErrUnauthorized, operator)
	}

	c.escMu.Lock()
	prev := Level(c.level.Load())
	c.level.Store(int32(LevelNone))
	c.metricsMu.Lock()
	for id := range c.states {
		c.states[id] = StateActive
	}
	c.metricsMu.Unlock()
	c.escMu.Unlock()

	c.audit.LogAction("system_reset", operator, map[string]string{"from_level": prev.String()})
	logs.Warnf("[KillSwitch] System reset %s -> NONE by %s", prev, operator)
	return nil
}
