package breaker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auto_guard_go/breaker"
	"auto_guard_go/config"
	"auto_guard_go/execution"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingAudit captures every audit call in order.
type recordingAudit struct {
	mu      sync.Mutex
	events  []breaker.TriggerEvent
	actions []string
}

func (a *recordingAudit) Log(ev breaker.TriggerEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAudit) LogAction(action, initiator string, details map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *recordingAudit) Events() []breaker.TriggerEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]breaker.TriggerEvent(nil), a.events...)
}

func (a *recordingAudit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

// recordingAlerter captures alerts and optionally observes the controller at
// delivery time.
type recordingAlerter struct {
	mu      sync.Mutex
	alerts  []breaker.Priority
	onAlert func(ev breaker.TriggerEvent)
}

func (r *recordingAlerter) SendAlert(ev breaker.TriggerEvent, priority breaker.Priority) {
	r.mu.Lock()
	r.alerts = append(r.alerts, priority)
	cb := r.onAlert
	r.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (r *recordingAlerter) Alerts() []breaker.Priority {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]breaker.Priority(nil), r.alerts...)
}

type fakeSnapshots struct {
	mu    sync.Mutex
	count int
	last  breaker.EmergencySnapshot
}

func (f *fakeSnapshots) WriteEmergency(snap breaker.EmergencySnapshot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	f.last = snap
	return "emergency_state_test.json", nil
}

func (f *fakeSnapshots) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timing.MonitorIntervalSeconds = 1
	cfg.Timing.PositionCloseTimeoutSeconds = 1
	cfg.Timing.MaxShutdownSeconds = 1
	cfg.Timing.AlertTimeoutSeconds = 1
	return cfg
}

type fixture struct {
	ctrl      *breaker.Controller
	mock      *execution.MockClient
	audit     *recordingAudit
	alerter   *recordingAlerter
	snapshots *fakeSnapshots
}

func newFixture(cfg *config.Config) *fixture {
	if cfg == nil {
		cfg = testConfig()
	}
	f := &fixture{
		mock:      execution.NewMockClient(),
		audit:     &recordingAudit{},
		alerter:   &recordingAlerter{},
		snapshots: &fakeSnapshots{},
	}
	f.ctrl = breaker.NewController(cfg, f.mock, f.audit, f.alerter, f.snapshots, "dual-auth-token")
	f.ctrl.SetFatalFunc(func(format string, args ...interface{}) {})
	return f
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func TestTryEscalateMonotonic(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	require.True(t, f.ctrl.TryEscalate(ctx, breaker.LevelStrategyHalt, "drawdown_limit", "s1", 0.05, 0.06, ""))
	assert.Equal(t, breaker.LevelStrategyHalt, f.ctrl.Level())

	// Same level again: idempotent no-op, no new audit record or alert.
	require.False(t, f.ctrl.TryEscalate(ctx, breaker.LevelStrategyHalt, "drawdown_limit", "s2", 0.05, 0.07, ""))
	assert.Len(t, f.audit.Events(), 1)
	assert.Len(t, f.alerter.Alerts(), 1)

	// Lower level: also a no-op.
	require.False(t, f.ctrl.TryEscalate(ctx, breaker.LevelNone, "noop", "", 0, 0, ""))
	assert.Equal(t, breaker.LevelStrategyHalt, f.ctrl.Level())

	// Higher level escalates.
	require.True(t, f.ctrl.TryEscalate(ctx, breaker.LevelPortfolioSoft, "daily_loss_limit", "", 0.10, 0.11, ""))
	assert.Equal(t, breaker.LevelPortfolioSoft, f.ctrl.Level())
}

func TestTryEscalateExactlyOnceUnderContention(t *testing.T) {
	f := newFixture(nil)
	var actionRuns int
	var actionMu sync.Mutex
	f.ctrl.RegisterCallback(breaker.EventPortfolioSoft, func(ctx context.Context, _ string) error {
		actionMu.Lock()
		actionRuns++
		actionMu.Unlock()
		return nil
	})

	const n = 32
	var wg sync.WaitGroup
	escalated := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			escalated <- f.ctrl.TryEscalate(context.Background(), breaker.LevelPortfolioSoft, "daily_loss_limit", "", 0.10, 0.11, "")
		}()
	}
	wg.Wait()
	close(escalated)

	wins := 0
	for ok := range escalated {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one caller should win the escalation")
	assert.Len(t, f.audit.Events(), 1)
	assert.Len(t, f.alerter.Alerts(), 1)
	assert.Equal(t, 1, actionRuns)
}

func TestEscalationOrderingAuditBeforeAlertBeforeState(t *testing.T) {
	f := newFixture(nil)

	var observedAuditLen int
	var observedLevel breaker.Level
	f.alerter.onAlert = func(ev breaker.TriggerEvent) {
		// At alert time the audit record must already exist and the new
		// level must not yet be externally observable.
		observedAuditLen = len(f.audit.Events())
		observedLevel = f.ctrl.Level()
	}

	require.True(t, f.ctrl.TryEscalate(context.Background(), breaker.LevelPortfolioSoft, "daily_loss_limit", "", 0.10, 0.11, ""))
	assert.Equal(t, 1, observedAuditLen)
	assert.Equal(t, breaker.LevelNone, observedLevel)
	assert.Equal(t, breaker.LevelPortfolioSoft, f.ctrl.Level())
}

func TestAlertPriorityMapping(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	f.ctrl.TryEscalate(ctx, breaker.LevelStrategyHalt, "drawdown_limit", "s1", 0, 0, "")
	f.ctrl.TryEscalate(ctx, breaker.LevelPortfolioHard, "margin_limit", "", 0, 0, "")
	f.ctrl.TryEscalate(ctx, breaker.LevelEmergency, "manual_emergency_stop", "", 0, 0, "ops1")

	require.Equal(t, []breaker.Priority{
		breaker.PriorityHigh,
		breaker.PriorityCritical,
		breaker.PriorityCritical,
	}, f.alerter.Alerts())
}

func TestStrategyCloseLifecycle(t *testing.T) {
	f := newFixture(nil)
	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{PNL: fptr(-120.5)})

	require.True(t, f.ctrl.TryEscalate(context.Background(), breaker.LevelStrategyClose, "manual_close", "s1", 0, 0, "ops1"))

	st, ok := f.ctrl.StrategyState("s1")
	require.True(t, ok)
	assert.Equal(t, breaker.StateInactive, st)
	assert.Equal(t, []string{"s1"}, f.mock.ClosedStrategies())
}

func TestStrategyCloseToleratesExecutionFailure(t *testing.T) {
	f := newFixture(nil)
	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{})
	f.mock.SetFailure(execution.OpClosePositions, errors.New("venue rejected"))

	require.True(t, f.ctrl.TryEscalate(context.Background(), breaker.LevelStrategyClose, "manual_close", "s1", 0, 0, "ops1"))

	// A failed close is reported but never blocks the state transition.
	st, _ := f.ctrl.StrategyState("s1")
	assert.Equal(t, breaker.StateInactive, st)
	assert.Equal(t, breaker.LevelStrategyClose, f.ctrl.Level())
}

func TestPortfolioHardClosesAllStrategies(t *testing.T) {
	f := newFixture(nil)
	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{})
	f.ctrl.UpdateStrategyMetrics("s2", breaker.StrategyMetricsUpdate{})
	f.ctrl.UpdateStrategyMetrics("s3", breaker.StrategyMetricsUpdate{})

	require.True(t, f.ctrl.TryEscalate(context.Background(), breaker.LevelPortfolioHard, "portfolio_drawdown_limit", "", 0.15, 0.18, ""))

	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, f.mock.ClosedStrategies())
	assert.Equal(t, 1, f.mock.Calls(execution.OpCloseAllPositions))
	for _, id := range []string{"s1", "s2", "s3"} {
		st, _ := f.ctrl.StrategyState(id)
		assert.Equal(t, breaker.StateInactive, st, "strategy %s", id)
	}
}

func TestEmergencyStopRunsFullShutdownSequence(t *testing.T) {
	f := newFixture(nil)
	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{})

	require.True(t, f.ctrl.EmergencyStop(context.Background(), "ops1"))
	assert.Equal(t, breaker.LevelEmergency, f.ctrl.Level())

	assert.Equal(t, 1, f.mock.Calls(execution.OpCancelAllOrders))
	assert.Equal(t, 1, f.mock.Calls(execution.OpCloseAllPositions))
	assert.Equal(t, 1, f.mock.Calls(execution.OpDisconnectVenues))
	assert.Equal(t, 1, f.snapshots.Count())
	assert.False(t, f.mock.Connected())

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "ops1", events[0].Initiator)
	assert.Contains(t, f.audit.Actions(), "emergency_shutdown_complete")
}

func TestShutdownTimeoutTriggersFatalPath(t *testing.T) {
	cfg := testConfig()
	cfg.Timing.MaxShutdownSeconds = 1
	f := newFixture(cfg)

	fatalCh := make(chan struct{}, 1)
	f.ctrl.SetFatalFunc(func(format string, args ...interface{}) {
		fatalCh <- struct{}{}
	})
	f.mock.SetDelay(execution.OpCancelAllOrders, 3*time.Second)

	require.True(t, f.ctrl.EmergencyStop(context.Background(), "ops1"))

	select {
	case <-fatalCh:
	default:
		t.Fatal("fatal path did not trigger on shutdown timeout")
	}
}

func TestShutdownWithinBudgetDoesNotTriggerFatal(t *testing.T) {
	f := newFixture(nil)
	fatal := false
	f.ctrl.SetFatalFunc(func(format string, args ...interface{}) { fatal = true })

	require.True(t, f.ctrl.EmergencyStop(context.Background(), "ops1"))
	assert.False(t, fatal)
}

func TestShutdownStepFailureDoesNotAbortSequence(t *testing.T) {
	f := newFixture(nil)
	f.mock.SetFailure(execution.OpCancelAllOrders, errors.New("gateway down"))

	require.True(t, f.ctrl.EmergencyStop(context.Background(), "ops1"))

	// Later steps still ran.
	assert.Equal(t, 1, f.mock.Calls(execution.OpCloseAllPositions))
	assert.Equal(t, 1, f.mock.Calls(execution.OpDisconnectVenues))
	assert.Equal(t, 1, f.snapshots.Count())
}

func TestHaltStrategyTwiceLogsOneEvent(t *testing.T) {
	f := newFixture(nil)
	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{})

	assert.True(t, f.ctrl.HaltStrategy(context.Background(), "s1", "ops1"))
	assert.False(t, f.ctrl.HaltStrategy(context.Background(), "s1", "ops1"))

	assert.Len(t, f.audit.Events(), 1)
	st, _ := f.ctrl.StrategyState("s1")
	assert.Equal(t, breaker.StateHalted, st)
}

func TestResumeStrategy(t *testing.T) {
	f := newFixture(nil)

	err := f.ctrl.ResumeStrategy("ghost", "ops1")
	require.ErrorIs(t, err, breaker.ErrUnknownStrategy)

	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{})
	require.True(t, f.ctrl.HaltStrategy(context.Background(), "s1", "ops1"))

	require.NoError(t, f.ctrl.ResumeStrategy("s1", "ops1"))
	st, _ := f.ctrl.StrategyState("s1")
	assert.Equal(t, breaker.StateRecovery, st)

	// Resuming is a per-strategy exception, never a system de-escalation.
	assert.Equal(t, breaker.LevelStrategyHalt, f.ctrl.Level())
	assert.Contains(t, f.audit.Actions(), "resume_strategy")
	assert.Len(t, f.audit.Events(), 1)
}

func TestResetSystemRequiresAuthorization(t *testing.T) {
	f := newFixture(nil)
	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{})
	require.True(t, f.ctrl.EmergencyStop(context.Background(), "ops1"))

	err := f.ctrl.ResetSystem("ops1", "wrong-token")
	require.ErrorIs(t, err, breaker.ErrUnauthorized)
	assert.Equal(t, breaker.LevelEmergency, f.ctrl.Level())
	assert.NotContains(t, f.audit.Actions(), "system_reset")

	require.NoError(t, f.ctrl.ResetSystem("ops1", "dual-auth-token"))
	assert.Equal(t, breaker.LevelNone, f.ctrl.Level())
	st, _ := f.ctrl.StrategyState("s1")
	assert.Equal(t, breaker.StateActive, st)
	assert.Contains(t, f.audit.Actions(), "system_reset")
}

func TestResetDisabledWithoutToken(t *testing.T) {
	cfg := testConfig()
	mock := execution.NewMockClient()
	ctrl := breaker.NewController(cfg, mock, &recordingAudit{}, &recordingAlerter{}, &fakeSnapshots{}, "")
	ctrl.SetFatalFunc(func(format string, args ...interface{}) {})

	err := ctrl.ResetSystem("ops1", "")
	require.ErrorIs(t, err, breaker.ErrUnauthorized)
}

func TestStatusSnapshot(t *testing.T) {
	f := newFixture(nil)
	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{PNL: fptr(42)})
	f.ctrl.UpdatePortfolioMetrics(breaker.PortfolioMetricsUpdate{TotalNAV: fptr(1_000_000)})
	require.True(t, f.ctrl.HaltStrategy(context.Background(), "s1", "ops1"))

	st := f.ctrl.Status()
	assert.Equal(t, "STRATEGY_HALT", st.Level)
	assert.Equal(t, breaker.StateHalted, st.StrategyStates["s1"])
	assert.Equal(t, float64(1_000_000), st.Portfolio.TotalNAV)
	assert.Greater(t, st.AvgTriggerMs, float64(0))
	assert.GreaterOrEqual(t, st.Uptime, time.Duration(0))
}

func TestMetricsLastWriteWins(t *testing.T) {
	f := newFixture(nil)
	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{
		MaxDrawdown:       fptr(0.02),
		ConsecutiveLosses: iptr(3),
	})
	st, ok := f.ctrl.StrategyState("s1")
	require.True(t, ok)
	assert.Equal(t, breaker.StateActive, st, "first metrics update implicitly creates the strategy ACTIVE")

	// Partial update leaves other fields untouched.
	f.ctrl.UpdateStrategyMetrics("s1", breaker.StrategyMetricsUpdate{MaxDrawdown: fptr(0.04)})
	f.ctrl.UpdatePortfolioMetrics(breaker.PortfolioMetricsUpdate{DailyPNLPct: fptr(-0.02)})
	f.ctrl.UpdatePortfolioMetrics(breaker.PortfolioMetricsUpdate{MarginUtilization: fptr(0.5)})

	status := f.ctrl.Status()
	assert.Equal(t, -0.02, status.Portfolio.DailyPNLPct)
	assert.Equal(t, 0.5, status.Portfolio.MarginUtilization)
}

func TestCallbackErrorsDoNotAbortSiblings(t *testing.T) {
	f := newFixture(nil)
	var ran []string
	var mu sync.Mutex
	add := func(name string, err error) breaker.CallbackFunc {
		return func(ctx context.Context, _ string) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return err
		}
	}
	f.ctrl.RegisterCallback(breaker.EventStrategyHalt, add("first", errors.New("boom")))
	f.ctrl.RegisterCallback(breaker.EventStrategyHalt, add("second", nil))

	require.True(t, f.ctrl.HaltStrategy(context.Background(), "s1", "ops1"))
	assert.Equal(t, []string{"first", "second"}, ran)
	assert.Equal(t, breaker.LevelStrategyHalt, f.ctrl.Level(), "callback failure never aborts the escalation")
}
