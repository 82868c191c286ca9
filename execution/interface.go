package execution

import "context"

// Client is the execution-layer capability the safety controller commands.
// Every operation is best-effort: the controller awaits it with a timeout and
// treats "command issued" as success. Confirmation of fills and closes is the
// execution layer's own responsibility.
type Client interface {
	// ClosePositions closes every open position belonging to one strategy.
	ClosePositions(ctx context.Context, strategyID string) error

	// CloseAllPositions closes every open position across all strategies,
	// including any the controller is not tracking.
	CloseAllPositions(ctx context.Context) error

	// CancelAllOrders cancels every pending order on the account.
	CancelAllOrders(ctx context.Context) error

	// DisconnectVenues drops every venue connection.
	DisconnectVenues(ctx context.Context) error
}
