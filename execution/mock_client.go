// execution/mock_client.go
package execution

import (
	"context"
	"sync"
	"time"
)

// Ensure MockClient implements the Client interface.
var _ Client = (*MockClient)(nil)

// Mock operation names, used as keys for call counts and failure injection.
const (
	OpClosePositions    = "close_positions"
	OpCloseAllPositions = "close_all_positions"
	OpCancelAllOrders   = "cancel_all_orders"
	OpDisconnectVenues  = "disconnect_venues"
)

// MockClient is an in-memory execution layer for simulation mode and tests.
// Failures and delays are injectable per operation so shutdown-timeout and
// partial-failure behavior can be exercised without a gateway.
type MockClient struct {
	mu        sync.Mutex
	calls     map[string]int
	closedIDs []string
	failures  map[string]error
	delays    map[string]time.Duration
	connected bool
}

// NewMockClient creates a connected mock execution layer.
func NewMockClient() *MockClient {
	return &MockClient{
		calls:     make(map[string]int),
		failures:  make(map[string]error),
		delays:    make(map[string]time.Duration),
		connected: true,
	}
}

// SetFailure makes the named operation return err on every call.
func (m *MockClient) SetFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// SetDelay makes the named operation sleep for d (or until its context is
// cancelled) before returning.
func (m *MockClient) SetDelay(op string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[op] = d
}

// Calls reports how many times the named operation was invoked.
func (m *MockClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// ClosedStrategies returns the strategy ids passed to ClosePositions, in
// call order.
func (m *MockClient) ClosedStrategies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.closedIDs))
	copy(out, m.closedIDs)
	return out
}

// Connected reports whether the mock still considers its venues connected.
func (m *MockClient) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockClient) invoke(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	delay := m.delays[op]
	err := m.failures[op]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (m *MockClient) ClosePositions(ctx context.Context, strategyID string) error {
	m.mu.Lock()
	m.closedIDs = append(m.closedIDs, strategyID)
	m.mu.Unlock()
	return m.invoke(ctx, OpClosePositions)
}

func (m *MockClient) CloseAllPositions(ctx context.Context) error {
	return m.invoke(ctx, OpCloseAllPositions)
}

func (m *MockClient) CancelAllOrders(ctx context.Context) error {
	return m.invoke(ctx, OpCancelAllOrders)
}

func (m *MockClient) DisconnectVenues(ctx context.Context) error {
	err := m.invoke(ctx, OpDisconnectVenues)
	if err == nil {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
	}
	return err
}
