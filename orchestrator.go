// orchestrator.go
package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"auto_guard_go/alert"
	"auto_guard_go/audit"
	"auto_guard_go/breaker"
	"auto_guard_go/config"
	"auto_guard_go/execution"
	"auto_guard_go/logs"
	"auto_guard_go/state"
)

// Orchestrator wires the safety controller to its collaborators and owns
// the monitor loop's lifecycle.
type Orchestrator struct {
	controller *breaker.Controller
	auditLog   *audit.Logger
	cfg        *config.Config
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig) (*Orchestrator, error) {
	var exec execution.Client
	if cfg.Normal.UseSimulation {
		exec = execution.NewMockClient()
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		if envCfg.ApiKey == "" || envCfg.ApiSecret == "" || envCfg.BaseURL == "" {
			return nil, fmt.Errorf("execution gateway credentials missing: set VENUE_API_KEY, VENUE_API_SECRET and VENUE_BASE_URL")
		}
		exec = execution.NewAPIClient(envCfg.ApiKey, envCfg.ApiSecret, envCfg.BaseURL, cfg.Normal.HTTPTimeoutSeconds)
	}

	auditPath := filepath.Join(cfg.Normal.StateDirectory, cfg.Normal.AuditLogFile)
	auditLog, err := audit.NewLogger(auditPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	logs.Infof("Audit trail will be appended to: %s", auditPath)

	alertTimeout := time.Duration(cfg.Timing.AlertTimeoutSeconds) * time.Second
	alerts := alert.NewManager(alertTimeout)
	if cfg.Alerts.WebhookEnabled {
		if envCfg.WebhookURL == "" {
			return nil, fmt.Errorf("webhook alerts enabled but ALERT_WEBHOOK_URL is not set")
		}
		alerts.AddChannel(alert.NewWebhookNotifier(envCfg.WebhookURL, alertTimeout))
	}
	if cfg.Alerts.EmailEnabled {
		alerts.AddChannel(alert.NewEmailNotifier(
			cfg.Alerts.SMTPHost, cfg.Alerts.SMTPPort,
			cfg.Alerts.EmailFrom, envCfg.SMTPPassword, cfg.Alerts.EmailTo))
	}
	if cfg.Alerts.PagerEnabled {
		if envCfg.PagerRoutingKey == "" {
			return nil, fmt.Errorf("pager alerts enabled but ALERT_PAGER_ROUTING_KEY is not set")
		}
		alerts.AddCriticalChannel(alert.NewPagerNotifier(cfg.Alerts.PagerEndpoint, envCfg.PagerRoutingKey, alertTimeout))
	}

	snapshots := state.NewSnapshotWriter(cfg.Normal.StateDirectory)

	if envCfg.ResetAuthToken == "" {
		logs.Warnf("[Orchestrator] RESET_AUTH_TOKEN not set: manual system reset is disabled.")
	}
	controller := breaker.NewController(cfg, exec, auditLog, alerts, snapshots, envCfg.ResetAuthToken)

	// Operational hooks: the trading side observes halts through these
	// callbacks and must stop routing orders for the affected scope.
	controller.RegisterCallback(breaker.EventStrategyHalt, func(ctx context.Context, strategyID string) error {
		logs.Warnf("[Orchestrator] Strategy %s halted; its order flow must stop.", strategyID)
		return nil
	})
	controller.RegisterCallback(breaker.EventPortfolioSoft, func(ctx context.Context, _ string) error {
		logs.Warnf("[Orchestrator] Portfolio soft halt; new order submission must now be rejected.")
		return nil
	})
	controller.RegisterCallback(breaker.EventEmergency, func(ctx context.Context, _ string) error {
		logs.Warnf("[Orchestrator] EMERGENCY lockdown engaged.")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		controller: controller,
		auditLog:   auditLog,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Controller exposes the controller so external feeders (metrics source,
// operator API surface) can be pointed at it.
func (o *Orchestrator) Controller() *breaker.Controller {
	return o.controller
}

func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.controller.Run(o.ctx)
	}()
	logs.Info("Safety controller started, press Ctrl+C to exit.")
}

func (o *Orchestrator) Stop() {
	logs.Info("Received close signal, starting graceful shutdown...")
	o.cancel()
	o.wg.Wait()

	st := o.controller.Status()
	logs.Infof("Final level: %s, uptime: %s, avg trigger latency: %.2fms",
		st.Level, st.Uptime.Round(time.Second), st.AvgTriggerMs)

	if err := o.auditLog.Close(); err != nil {
		logs.Errorf("Failed to close audit log: %v", err)
	}
	logs.Info("All services stopped successfully.")
}
