package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"kiwoombot/clients/kiwoomcond"
	"kiwoombot/clients/notifier"

	"go.uber.org/zap"
)

func testSettings() EngineSettings {
	return EngineSettings{
		ConditionID:       "1",
		ConditionName:     "momentum",
		BuyAmount:         500000,
		MaxPositions:      10,
		MarketOrder:       true,
		TickInterval:      time.Minute, // keep ticks out of the way
		OrderTimeout:      5 * time.Second,
		PendingTimeout:    30 * time.Second,
		BlacklistCooldown: 5 * time.Minute,
		OrdersPerSecond:   1000, // effectively unthrottled
	}
}

func newTestEngine(t *testing.T, searcher *mockSearcher, gateway *mockGateway, settings EngineSettings) (*Engine, *mockNotifier) {
	t.Helper()
	notif := newMockNotifier()
	e := NewEngine(zap.NewNop(), searcher, gateway, notif, FixedPricing{}, settings)
	return e, notif
}

func waitForBuy(t *testing.T, gateway *mockGateway) buyCall {
	t.Helper()
	select {
	case call := <-gateway.calls:
		return call
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for buy call")
		return buyCall{}
	}
}

func assertNoBuy(t *testing.T, gateway *mockGateway) {
	t.Helper()
	select {
	case call := <-gateway.calls:
		t.Fatalf("unexpected buy call: %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitForAlert(t *testing.T, notif *mockNotifier, reason notifier.AlertReason) notifier.OrderAlert {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case alert := <-notif.alerts:
			if alert.Reason == reason {
				return alert
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s alert", reason)
			return notifier.OrderAlert{}
		}
	}
}

func waitForPositions(t *testing.T, e *Engine, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.Status().Positions == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d positions, have %d", want, e.Status().Positions)
}

func TestEngine_InitialResultsTriggerBuys(t *testing.T) {
	searcher := newMockSearcher("005930")
	gateway := newMockGateway()
	e, notif := newTestEngine(t, searcher, gateway, testSettings())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	call := waitForBuy(t, gateway)
	if call.Symbol != "005930" {
		t.Errorf("unexpected symbol: %s", call.Symbol)
	}
	// 500000 budget at the default 50000 reference price
	if call.Quantity != 10 {
		t.Errorf("unexpected quantity: %d", call.Quantity)
	}
	if call.Price != 0 {
		t.Errorf("expected market order price 0, got %d", call.Price)
	}

	alert := waitForAlert(t, notif, notifier.AlertReasonPositionOpened)
	if alert.Symbol != "005930" {
		t.Errorf("unexpected alert symbol: %s", alert.Symbol)
	}
	if alert.OrderNo != "0000138" {
		t.Errorf("unexpected alert order no: %s", alert.OrderNo)
	}

	waitForPositions(t, e, 1)
}

func TestEngine_RealtimeInsertTriggersBuy(t *testing.T) {
	searcher := newMockSearcher()
	gateway := newMockGateway()
	e, _ := newTestEngine(t, searcher, gateway, testSettings())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	searcher.push("035720", true)

	call := waitForBuy(t, gateway)
	if call.Symbol != "035720" {
		t.Errorf("unexpected symbol: %s", call.Symbol)
	}
}

func TestEngine_DuplicateInsertBuysOnce(t *testing.T) {
	searcher := newMockSearcher()
	gateway := newMockGateway()
	e, _ := newTestEngine(t, searcher, gateway, testSettings())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	searcher.push("005930", true)
	waitForBuy(t, gateway)
	waitForPositions(t, e, 1)

	searcher.push("005930", true)
	assertNoBuy(t, gateway)
}

func TestEngine_LimitOrderPricing(t *testing.T) {
	searcher := newMockSearcher("005930")
	gateway := newMockGateway()
	settings := testSettings()
	settings.MarketOrder = false
	settings.TickOffset = 2

	notif := newMockNotifier()
	e := NewEngine(zap.NewNop(), searcher, gateway, notif, FixedPricing{Price: 10000}, settings)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	call := waitForBuy(t, gateway)
	if call.Price != 10002 {
		t.Errorf("expected limit price 10002, got %d", call.Price)
	}
	if call.Quantity != 50 {
		t.Errorf("expected quantity 50, got %d", call.Quantity)
	}
}

func TestEngine_FailureBlacklistsSymbol(t *testing.T) {
	searcher := newMockSearcher()
	gateway := newMockGateway()
	gateway.failWith("005930", errors.New("insufficient funds"))
	e, notif := newTestEngine(t, searcher, gateway, testSettings())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	searcher.push("005930", true)
	waitForBuy(t, gateway)

	alert := waitForAlert(t, notif, notifier.AlertReasonOrderFailed)
	if alert.Error == "" {
		t.Error("expected failure alert to carry the error")
	}

	// Blacklisted now; another insert must not dispatch.
	searcher.push("005930", true)
	assertNoBuy(t, gateway)

	if got := e.Status().Blacklisted; got != 1 {
		t.Errorf("expected 1 blacklisted symbol, got %d", got)
	}
}

func TestEngine_RespectsMaxPositions(t *testing.T) {
	searcher := newMockSearcher("005930", "035720", "000660")
	gateway := newMockGateway()
	settings := testSettings()
	settings.MaxPositions = 1
	e, _ := newTestEngine(t, searcher, gateway, settings)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	waitForBuy(t, gateway)
	assertNoBuy(t, gateway)

	counts := e.Status()
	if counts.Positions+counts.Pending != 1 {
		t.Errorf("expected cap of 1 held, got %+v", counts)
	}
}

func TestEngine_SearchTimeoutDegradesToEmptySeed(t *testing.T) {
	searcher := newMockSearcher()
	searcher.searchErr = kiwoomcond.ErrRequestTimeout
	gateway := newMockGateway()
	e, _ := newTestEngine(t, searcher, gateway, testSettings())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("expected timeout to be tolerated, got: %v", err)
	}
	defer e.Stop()

	// Realtime events still trade.
	searcher.push("005930", true)
	waitForBuy(t, gateway)
}

func TestEngine_SearchFailureAbortsStart(t *testing.T) {
	searcher := newMockSearcher()
	searcher.searchErr = errors.New("boom")
	gateway := newMockGateway()
	e, _ := newTestEngine(t, searcher, gateway, testSettings())

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
}

func TestEngine_StopUnsubscribesAndKeepsPositions(t *testing.T) {
	searcher := newMockSearcher("005930")
	gateway := newMockGateway()
	e, notif := newTestEngine(t, searcher, gateway, testSettings())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitForBuy(t, gateway)
	waitForPositions(t, e, 1)

	e.Stop()

	calls := searcher.unsubscribeCalls()
	if len(calls) != 1 || calls[0] != "1" {
		t.Errorf("expected one unsubscribe for condition 1, got %v", calls)
	}

	waitForAlert(t, notif, notifier.AlertReasonEngineStopped)

	if got := e.Status().Positions; got != 1 {
		t.Errorf("expected positions to survive Stop, got %d", got)
	}

	// Stop again is a no-op.
	e.Stop()
}

func TestEngine_DoubleStartRejected(t *testing.T) {
	searcher := newMockSearcher()
	gateway := newMockGateway()
	e, _ := newTestEngine(t, searcher, gateway, testSettings())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}
}

func TestEngine_ExitEventUntracks(t *testing.T) {
	searcher := newMockSearcher()
	gateway := newMockGateway()
	settings := testSettings()
	settings.MaxPositions = 1
	e, _ := newTestEngine(t, searcher, gateway, settings)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	searcher.push("005930", true)
	waitForBuy(t, gateway)
	waitForPositions(t, e, 1)

	searcher.push("005930", false)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.Status().Tracked == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("expected symbol to be untracked, counts: %+v", e.Status())
}

func TestEngine_ResubscribeRequiresRunning(t *testing.T) {
	searcher := newMockSearcher()
	gateway := newMockGateway()
	e, _ := newTestEngine(t, searcher, gateway, testSettings())

	if err := e.Resubscribe(context.Background()); err == nil {
		t.Fatal("expected resubscribe on a stopped engine to fail")
	}
}
