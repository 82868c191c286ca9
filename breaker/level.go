// breaker/level.go
package breaker

// Level is a point on the totally ordered escalation scale. Levels only ever
// increase while the system runs; the sole way down is an authorized reset.
type Level int32

const (
	LevelNone Level = iota
	LevelStrategyHalt
	LevelStrategyClose
	LevelPortfolioSoft
	LevelPortfolioHard
	LevelEmergency
)

var levelNames = map[Level]string{
	LevelNone:          "NONE",
	LevelStrategyHalt:  "STRATEGY_HALT",
	LevelStrategyClose: "STRATEGY_CLOSE",
	LevelPortfolioSoft: "PORTFOLIO_SOFT",
	LevelPortfolioHard: "PORTFOLIO_HARD",
	LevelEmergency:     "EMERGENCY",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Priority classifies an alert for the notification channels. Paging
// channels only fire on critical.
type Priority string

const (
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// alertPriority maps an escalation level to its notification priority.
func alertPriority(l Level) Priority {
	if l >= LevelPortfolioHard {
		return PriorityCritical
	}
	return PriorityHigh
}
