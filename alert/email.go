// alert/email.go
package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"auto_guard_go/breaker"
)

// EmailNotifier delivers alerts over SMTP with plain auth.
type EmailNotifier struct {
	host     string
	port     int
	from     string
	password string
	to       []string
}

func NewEmailNotifier(host string, port int, from, password string, to []string) *EmailNotifier {
	return &EmailNotifier{
		host:     host,
		port:     port,
		from:     from,
		password: password,
		to:       to,
	}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Send(ctx context.Context, ev breaker.TriggerEvent, priority breaker.Priority) error {
	subject := fmt.Sprintf("[%s] Circuit breaker escalated to %s", strings.ToUpper(string(priority)), ev.Level)

	var body strings.Builder
	fmt.Fprintf(&body, "Time: %s\r\n", ev.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&body, "Level: %s\r\n", ev.Level)
	fmt.Fprintf(&body, "Reason: %s\r\n", ev.Reason)
	fmt.Fprintf(&body, "Threshold: %.4f\r\n", ev.Threshold)
	fmt.Fprintf(&body, "Actual: %.4f\r\n", ev.Actual)
	if ev.StrategyID != "" {
		fmt.Fprintf(&body, "Strategy: %s\r\n", ev.StrategyID)
	}
	fmt.Fprintf(&body, "Initiator: %s\r\n", ev.Initiator)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.from, strings.Join(e.to, ", "), subject, body.String())

	var auth smtp.Auth
	if e.password != "" {
		auth = smtp.PlainAuth("", e.from, e.password, e.host)
	}

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	return smtp.SendMail(addr, auth, e.from, e.to, []byte(msg))
}
