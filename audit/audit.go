// audit/audit.go
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"auto_guard_go/breaker"
	"auto_guard_go/logs"
)

// Ensure Logger satisfies the controller's audit contract.
var _ breaker.AuditSink = (*Logger)(nil)

// Logger is the append-only audit trail. Every record is flushed to disk
// before the call returns, and concurrent writers are serialized so records
// are never reordered or interleaved.
//
// Line formats (field order is load-bearing for downstream tooling):
//
//	timestamp,TRIGGER,LEVEL,source,reason,strategy_id,initiator,metadata
//	timestamp,ACTION,name,MANUAL,N/A,N/A,initiator,details
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger opens (or creates) the audit file in append mode.
func NewLogger(path string) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log appends one TRIGGER record. A sink failure is reported through the
// error path but never propagates: audit trouble must not abort an
// escalation in flight.
func (l *Logger) Log(ev breaker.TriggerEvent) {
	strategyID := ev.StrategyID
	if strategyID == "" {
		strategyID = "N/A"
	}
	initiator := ev.Initiator
	if initiator == "" {
		initiator = "SYSTEM"
	}
	line := fmt.Sprintf("%s,TRIGGER,%s,%s,%s,%s,%s,%s\n",
		ev.Timestamp.UTC().Format(time.RFC3339),
		ev.Level,
		ev.Source,
		ev.Reason,
		strategyID,
		initiator,
		marshalDetails(ev.Metadata),
	)
	l.writeLine(line)
}

// LogAction appends one ACTION record for a manual or system action.
func (l *Logger) LogAction(action, initiator string, details map[string]string) {
	if initiator == "" {
		initiator = "SYSTEM"
	}
	line := fmt.Sprintf("%s,ACTION,%s,MANUAL,N/A,N/A,%s,%s\n",
		time.Now().UTC().Format(time.RFC3339),
		action,
		initiator,
		marshalDetails(details),
	)
	l.writeLine(line)
}

func (l *Logger) writeLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.WriteString(line); err != nil {
		logs.ReportError("audit", fmt.Errorf("write to %s: %w", l.path, err))
		return
	}
	if err := l.file.Sync(); err != nil {
		logs.ReportError("audit", fmt.Errorf("sync %s: %w", l.path, err))
	}
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}

func marshalDetails(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}
