// breaker/event.go
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// InitiatorAutomated is recorded on events raised by the monitor loop rather
// than a human operator.
const InitiatorAutomated = "automated_monitor"

// TriggerEvent describes one successful escalation decision. It is immutable
// once created; whoever logs or alerts it receives a copy, never a shared
// mutable reference.
type TriggerEvent struct {
	ID         string
	Timestamp  time.Time
	Level      Level
	Source     string
	Reason     string
	Threshold  float64
	Actual     float64
	StrategyID string
	Initiator  string
	Metadata   map[string]string
}

func newTriggerEvent(level Level, source, reason string, threshold, actual float64, strategyID, initiator string, metadata map[string]string) TriggerEvent {
	if initiator == "" {
		initiator = InitiatorAutomated
	}
	// Copy the metadata so the event cannot be mutated through the caller's map.
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return TriggerEvent{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Level:      level,
		Source:     source,
		Reason:     reason,
		Threshold:  threshold,
		Actual:     actual,
		StrategyID: strategyID,
		Initiator:  initiator,
		Metadata:   md,
	}
}

// AuditSink persists trigger events and manual actions. Implementations must
// be safe for concurrent use and must not return before the record is durable.
type AuditSink interface {
	Log(ev TriggerEvent)
	LogAction(action, initiator string, details map[string]string)
}

// Alerter fans a trigger event out to the configured notification channels.
// The call blocks until every channel attempt has completed or timed out.
type Alerter interface {
	SendAlert(ev TriggerEvent, priority Priority)
}

// EmergencySnapshot is the full in-memory state persisted during an
// emergency shutdown.
type EmergencySnapshot struct {
	Timestamp        time.Time                `json:"timestamp"`
	Level            string                   `json:"level"`
	StrategyStates   map[string]StrategyState `json:"strategy_states"`
	Portfolio        PortfolioMetrics         `json:"portfolio_metrics"`
	TriggerLatencyMs []float64                `json:"trigger_latency_ms"`
}

// SnapshotWriter persists an EmergencySnapshot and returns the written path.
type SnapshotWriter interface {
	WriteEmergency(snap EmergencySnapshot) (string, error)
}

// CallbackFunc is the uniform callback shape registered per event name.
// All callbacks for an event run; one failing never aborts its siblings.
type CallbackFunc func(ctx context.Context, strategyID string) error

// Callback event names.
const (
	EventStrategyHalt  = "strategy_halt"
	EventStrategyClose = "strategy_close"
	EventPortfolioSoft = "portfolio_soft"
	EventPortfolioHard = "portfolio_hard"
	EventEmergency     = "emergency"
)

// Policy violations: rejected with no state change.
var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrUnauthorized    = errors.New("reset authorization rejected")
)
