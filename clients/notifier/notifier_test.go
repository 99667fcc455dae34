package notifier

import (
	"errors"
	"testing"
	"time"
)

// recordingNotifier captures alerts for assertions.
type recordingNotifier struct {
	alerts   []OrderAlert
	closeErr error
	closed   bool
}

func (r *recordingNotifier) SendOrderAlert(alert OrderAlert) {
	r.alerts = append(r.alerts, alert)
}

func (r *recordingNotifier) Close() error {
	r.closed = true
	return r.closeErr
}

func TestMultiNotifier_FiltersNil(t *testing.T) {
	a := &recordingNotifier{}
	m := NewMultiNotifier(nil, a, nil)

	if m.Count() != 1 {
		t.Errorf("expected 1 active notifier, got %d", m.Count())
	}
}

func TestMultiNotifier_Broadcast(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	m := NewMultiNotifier(a, b)

	alert := OrderAlert{
		Reason:    AlertReasonPositionOpened,
		Symbol:    "005930",
		Quantity:  10,
		OrderNo:   "0000138",
		Timestamp: time.Now(),
	}
	m.SendOrderAlert(alert)

	for i, n := range []*recordingNotifier{a, b} {
		if len(n.alerts) != 1 {
			t.Fatalf("notifier %d: expected 1 alert, got %d", i, len(n.alerts))
		}
		if n.alerts[0].Symbol != "005930" {
			t.Errorf("notifier %d: unexpected symbol %s", i, n.alerts[0].Symbol)
		}
	}
}

func TestMultiNotifier_CloseReturnsLastError(t *testing.T) {
	a := &recordingNotifier{closeErr: errors.New("close a")}
	b := &recordingNotifier{}
	m := NewMultiNotifier(a, b)

	if err := m.Close(); err == nil {
		t.Error("expected close error to propagate")
	}
	if !a.closed || !b.closed {
		t.Error("expected all notifiers to be closed")
	}
}

func TestMultiNotifier_Empty(t *testing.T) {
	m := NewMultiNotifier()

	// No-ops, no panics.
	m.SendOrderAlert(OrderAlert{Reason: AlertReasonEngineStarted})
	if err := m.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("expected 0 notifiers, got %d", m.Count())
	}
}
