// breaker/metrics.go
package breaker

import "time"

// StrategyState is the lifecycle state of a single strategy under the
// controller's supervision.
type StrategyState string

const (
	StateActive   StrategyState = "ACTIVE"
	StateHalted   StrategyState = "HALTED"
	StateClosing  StrategyState = "CLOSING"
	StateInactive StrategyState = "INACTIVE"
	StateRecovery StrategyState = "RECOVERY"
)

// tradeHistoryCapacity bounds the per-strategy ring of recent trade results.
const tradeHistoryCapacity = 100

// StrategyMetrics is the live risk snapshot for one strategy. Owned
// exclusively by the controller; the metrics feeder mutates it through
// UpdateStrategyMetrics only.
type StrategyMetrics struct {
	StrategyID        string    `json:"strategy_id"`
	PNL               float64   `json:"pnl"`
	PNLPct            float64   `json:"pnl_pct"`
	MaxDrawdown       float64   `json:"max_drawdown"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	TotalTrades       int       `json:"total_trades"`
	WinningTrades     int       `json:"winning_trades"`
	WinRate           float64   `json:"win_rate"`
	SharpeRatio       float64   `json:"sharpe_ratio"`
	CurrentPosition   float64   `json:"current_position"`
	PositionCount     int       `json:"position_count"`
	ErrorCount        int       `json:"error_count"`
	LastTradeTime     time.Time `json:"last_trade_time"`

	recentTrades *floatRing
}

func newStrategyMetrics(id string) *StrategyMetrics {
	return &StrategyMetrics{
		StrategyID:   id,
		recentTrades: newFloatRing(tradeHistoryCapacity),
	}
}

// RecentTrades returns the bounded history of recent trade results,
// oldest-first.
func (m *StrategyMetrics) RecentTrades() []float64 {
	return m.recentTrades.Values()
}

// copyForRead returns a value copy safe to hand out of the lock. The ring is
// deliberately not shared.
func (m *StrategyMetrics) copyForRead() StrategyMetrics {
	cp := *m
	cp.recentTrades = nil
	return cp
}

// PortfolioMetrics is the single portfolio-wide risk snapshot.
type PortfolioMetrics struct {
	TotalNAV          float64 `json:"total_nav"`
	DailyPNL          float64 `json:"daily_pnl"`
	DailyPNLPct       float64 `json:"daily_pnl_pct"`
	TotalDrawdown     float64 `json:"total_drawdown"`
	HighWaterMark     float64 `json:"high_water_mark"`
	MarginUtilization float64 `json:"margin_utilization"`
	VaR95             float64 `json:"var_95"`
	AvgCorrelation    float64 `json:"avg_correlation"`
	Volatility        float64 `json:"volatility"`
	OpenPositionCount int     `json:"open_position_count"`
	PendingOrderCount int     `json:"pending_order_count"`
}

// StrategyMetricsUpdate carries the fields a metrics feeder wants to change.
// Nil pointers leave the current value untouched (last-write-wins per field).
type StrategyMetricsUpdate struct {
	PNL               *float64
	PNLPct            *float64
	MaxDrawdown       *float64
	ConsecutiveLosses *int
	TotalTrades       *int
	WinningTrades     *int
	WinRate           *float64
	SharpeRatio       *float64
	CurrentPosition   *float64
	PositionCount     *int
	ErrorCount        *int
	LastTradeTime     *time.Time
	// TradeResult, when set, is appended to the bounded recent-trade history.
	TradeResult *float64
}

// PortfolioMetricsUpdate mirrors StrategyMetricsUpdate for the portfolio
// record.
type PortfolioMetricsUpdate struct {
	TotalNAV          *float64
	DailyPNL          *float64
	DailyPNLPct       *float64
	TotalDrawdown     *float64
	HighWaterMark     *float64
	MarginUtilization *float64
	VaR95             *float64
	AvgCorrelation    *float64
	Volatility        *float64
	OpenPositionCount *int
	PendingOrderCount *int
}

func applyStrategyUpdate(m *StrategyMetrics, u StrategyMetricsUpdate) {
	if u.PNL != nil {
		m.PNL = *u.PNL
	}
	if u.PNLPct != nil {
		m.PNLPct = *u.PNLPct
	}
	if u.MaxDrawdown != nil {
		m.MaxDrawdown = *u.MaxDrawdown
	}
	if u.ConsecutiveLosses != nil {
		m.ConsecutiveLosses = *u.ConsecutiveLosses
	}
	if u.TotalTrades != nil {
		m.TotalTrades = *u.TotalTrades
	}
	if u.WinningTrades != nil {
		m.WinningTrades = *u.WinningTrades
	}
	if u.WinRate != nil {
		m.WinRate = *u.WinRate
	}
	if u.SharpeRatio != nil {
		m.SharpeRatio = *u.SharpeRatio
	}
	if u.CurrentPosition != nil {
		m.CurrentPosition = *u.CurrentPosition
	}
	if u.PositionCount != nil {
		m.PositionCount = *u.PositionCount
	}
	if u.ErrorCount != nil {
		m.ErrorCount = *u.ErrorCount
	}
	if u.LastTradeTime != nil {
		m.LastTradeTime = *u.LastTradeTime
	}
	if u.TradeResult != nil {
		m.recentTrades.Push(*u.TradeResult)
	}
}

func applyPortfolioUpdate(p *PortfolioMetrics, u PortfolioMetricsUpdate) {
	if u.TotalNAV != nil {
		p.TotalNAV = *u.TotalNAV
	}
	if u.DailyPNL != nil {
		p.DailyPNL = *u.DailyPNL
	}
	if u.DailyPNLPct != nil {
		p.DailyPNLPct = *u.DailyPNLPct
	}
	if u.TotalDrawdown != nil {
		p.TotalDrawdown = *u.TotalDrawdown
	}
	if u.HighWaterMark != nil {
		p.HighWaterMark = *u.HighWaterMark
	}
	if u.MarginUtilization != nil {
		p.MarginUtilization = *u.MarginUtilization
	}
	if u.VaR95 != nil {
		p.VaR95 = *u.VaR95
	}
	if u.AvgCorrelation != nil {
		p.AvgCorrelation = *u.AvgCorrelation
	}
	if u.Volatility != nil {
		p.Volatility = *u.Volatility
	}
	if u.OpenPositionCount != nil {
		p.OpenPositionCount = *u.OpenPositionCount
	}
	if u.PendingOrderCount != nil {
		p.PendingOrderCount = *u.PendingOrderCount
	}
}
