// breaker/monitor.go
package breaker

import (
	"context"
	"time"

	"auto_guard_go/logs"
)

// minTradesForWinRate gates the win-rate check until a strategy has a
// meaningful sample.
const minTradesForWinRate = 20

const heartbeatInterval = 5 * time.Minute

// Run is the periodic trigger-evaluation loop. It is the single logical
// owner of automatic threshold checks and stops cleanly when ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.Timing.MonitorIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logs.Infof("[KillSwitch] Monitor loop started (interval %s).", interval)
	lastHeartbeat := time.Now()

	for {
		select {
		case <-ctx.Done():
			logs.Info("[KillSwitch] Monitor loop received stop signal, exiting.")
			return
		case <-ticker.C:
			c.EvaluateOnce(ctx)

			if time.Since(lastHeartbeat) >= heartbeatInterval {
				st := c.Status()
				logs.Infof("[Heartbeat] Monitor running, level=%s, strategies=%d, avg_trigger=%.2fms",
					st.Level, len(st.StrategyStates), st.AvgTriggerMs)
				lastHeartbeat = time.Now()
			}
		}
	}
}

// EvaluateOnce runs one evaluation pass over every strategy and then the
// portfolio. Checks run in a fixed priority order and at most one trigger
// fires per scope per pass.
func (c *Controller) EvaluateOnce(ctx context.Context) {
	t := c.cfg.Thresholds

	for _, m := range c.strategySnapshots() {
		switch {
		case m.MaxDrawdown > t.StrategyMaxDrawdown:
			c.TryEscalate(ctx, LevelStrategyHalt, "drawdown_limit", m.StrategyID,
				t.StrategyMaxDrawdown, m.MaxDrawdown, "")
		case m.ConsecutiveLosses >= t.StrategyMaxConsecutiveLosses:
			c.TryEscalate(ctx, LevelStrategyHalt, "consecutive_loss_limit", m.StrategyID,
				float64(t.StrategyMaxConsecutiveLosses), float64(m.ConsecutiveLosses), "")
		case m.TotalTrades >= minTradesForWinRate && m.WinRate < t.StrategyMinWinRate:
			c.TryEscalate(ctx, LevelStrategyHalt, "win_rate_limit", m.StrategyID,
				t.StrategyMinWinRate, m.WinRate, "")
		}
	}

	// Portfolio checks: the first breach that escalates ends the pass. A
	// breach that no-ops (level already reached) falls through, so a
	// persistent SOFT breach can never mask a HARD one. The level per check
	// is configured policy, not inferred severity: the daily-loss breaker is
	// deliberately SOFT.
	p := c.portfolioSnapshot()
	if -p.DailyPNLPct > t.PortfolioDailyLossPct {
		if c.TryEscalate(ctx, LevelPortfolioSoft, "daily_loss_limit", "",
			t.PortfolioDailyLossPct, -p.DailyPNLPct, "") {
			return
		}
	}
	if p.TotalDrawdown > t.PortfolioMaxDrawdown {
		if c.TryEscalate(ctx, LevelPortfolioHard, "portfolio_drawdown_limit", "",
			t.PortfolioMaxDrawdown, p.TotalDrawdown, "") {
			return
		}
	}
	if p.AvgCorrelation > t.MaxCorrelation {
		if c.TryEscalate(ctx, LevelPortfolioSoft, "correlation_spike", "",
			t.MaxCorrelation, p.AvgCorrelation, "") {
			return
		}
	}
	if p.MarginUtilization > t.MaxMarginUtilization {
		c.TryEscalate(ctx, LevelPortfolioHard, "margin_limit", "",
			t.MaxMarginUtilization, p.MarginUtilization, "")
	}
}
