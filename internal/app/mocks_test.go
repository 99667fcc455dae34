package app

import (
	"context"
	"sync"

	"kiwoombot/clients/kiwoomcond"
	"kiwoombot/clients/kiwoomtrade"
	"kiwoombot/clients/notifier"
)

// mockSearcher is a mock implementation of ConditionSearcher.
type mockSearcher struct {
	mu sync.Mutex

	searchSymbols []string
	searchErr     error
	searchCalls   []kiwoomcond.SearchMode

	unsubscribed []string

	realCh chan kiwoomcond.RealtimeEvent
}

func newMockSearcher(symbols ...string) *mockSearcher {
	return &mockSearcher{
		searchSymbols: symbols,
		realCh:        make(chan kiwoomcond.RealtimeEvent, 64),
	}
}

func (m *mockSearcher) Search(_ context.Context, _ string, mode kiwoomcond.SearchMode) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls = append(m.searchCalls, mode)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.searchSymbols, nil
}

func (m *mockSearcher) Unsubscribe(conditionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, conditionID)
	return nil
}

func (m *mockSearcher) Realtime() <-chan kiwoomcond.RealtimeEvent {
	return m.realCh
}

func (m *mockSearcher) push(symbol string, insert bool) {
	m.realCh <- kiwoomcond.RealtimeEvent{Symbol: symbol, Insert: insert}
}

func (m *mockSearcher) unsubscribeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unsubscribed...)
}

// buyCall records one order submitted to the mock gateway.
type buyCall struct {
	Symbol   string
	Quantity int64
	Price    int64
}

// mockGateway is a mock implementation of OrderGateway. Calls are delivered
// on a channel so tests can wait for async dispatches.
type mockGateway struct {
	mu sync.Mutex

	errs  map[string]error // per-symbol failures
	calls chan buyCall

	nextOrderNo string
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		errs:        make(map[string]error),
		calls:       make(chan buyCall, 64),
		nextOrderNo: "0000138",
	}
}

func (m *mockGateway) failWith(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[symbol] = err
}

func (m *mockGateway) Buy(_ context.Context, symbol string, quantity, price int64) (*kiwoomtrade.OrderResult, error) {
	m.calls <- buyCall{Symbol: symbol, Quantity: quantity, Price: price}

	m.mu.Lock()
	err := m.errs[symbol]
	orderNo := m.nextOrderNo
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &kiwoomtrade.OrderResult{OrderNo: orderNo}, nil
}

// mockNotifier records alerts on a channel so tests can wait for them.
type mockNotifier struct {
	alerts chan notifier.OrderAlert
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{alerts: make(chan notifier.OrderAlert, 64)}
}

func (m *mockNotifier) SendOrderAlert(alert notifier.OrderAlert) {
	m.alerts <- alert
}

func (m *mockNotifier) Close() error {
	return nil
}
