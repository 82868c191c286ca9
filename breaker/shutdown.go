// breaker/shutdown.go
package breaker

import (
	"context"
	"fmt"
	"time"

	"auto_guard_go/logs"
)

// emergencyShutdown runs the ordered lockdown sequence under a single
// wall-clock budget. A single step failing is reported and skipped past; the
// whole sequence overrunning the budget is fatal, because continuing to run
// with an incomplete lockdown is worse than stopping.
func (c *Controller) emergencyShutdown(ctx context.Context) {
	budget := time.Duration(c.cfg.Timing.MaxShutdownSeconds) * time.Second
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runShutdownSteps(sctx)
	}()

	select {
	case <-done:
		logs.Warnf("[Shutdown] Emergency shutdown sequence completed within budget (%s).", budget)
	case <-time.After(budget):
		c.fatalFn("[Shutdown] Emergency shutdown did not complete within %s, terminating process.", budget)
	}
}

func (c *Controller) runShutdownSteps(ctx context.Context) {
	logs.Warnf("[Shutdown 1/5] Cancelling all pending orders...")
	if err := c.exec.CancelAllOrders(ctx); err != nil {
		logs.ReportError("shutdown", fmt.Errorf("cancel all orders: %w", err))
	}

	logs.Warnf("[Shutdown 2/5] Closing all positions...")
	c.closeAllPositions(ctx)

	logs.Warnf("[Shutdown 3/5] Disconnecting from venues...")
	if err := c.exec.DisconnectVenues(ctx); err != nil {
		logs.ReportError("shutdown", fmt.Errorf("disconnect venues: %w", err))
	}

	logs.Warnf("[Shutdown 4/5] Persisting emergency state snapshot...")
	path, err := c.snapshots.WriteEmergency(c.buildSnapshot(LevelEmergency))
	if err != nil {
		logs.ReportError("shutdown", fmt.Errorf("emergency snapshot: %w", err))
	} else {
		logs.Warnf("[Shutdown] Emergency state written to %s", path)
	}

	logs.Warnf("[Shutdown 5/5] Lockdown complete, system frozen pending authorized reset.")
	c.audit.LogAction("emergency_shutdown_complete", "", map[string]string{
		"snapshot": path,
	})
}

// buildSnapshot captures the full in-memory state for persistence. level is
// passed explicitly because the snapshot is written mid-escalation, before
// the new level is committed.
func (c *Controller) buildSnapshot(level Level) EmergencySnapshot {
	c.metricsMu.RLock()
	states := make(map[string]StrategyState, len(c.states))
	for id, st := range c.states {
		states[id] = st
	}
	portfolio := c.portfolio
	c.metricsMu.RUnlock()

	c.latMu.Lock()
	latencies := c.latencies.ValuesMs()
	c.latMu.Unlock()

	return EmergencySnapshot{
		Timestamp:        time.Now().UTC(),
		Level:            level.String(),
		StrategyStates:   states,
		Portfolio:        portfolio,
		TriggerLatencyMs: latencies,
	}
}
