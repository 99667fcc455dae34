package notifier

import (
	"time"
)

// AlertReason indicates why an alert was triggered.
type AlertReason string

const (
	AlertReasonPositionOpened AlertReason = "position_opened" // Buy order filled, new position on the book
	AlertReasonOrderFailed    AlertReason = "order_failed"    // Buy order rejected or errored
	AlertReasonEngineStarted  AlertReason = "engine_started"
	AlertReasonEngineStopped  AlertReason = "engine_stopped"
	AlertReasonConnectionLost AlertReason = "connection_lost" // Condition stream dropped
)

// OrderAlert contains all the data needed for a trading notification.
type OrderAlert struct {
	Reason AlertReason

	// Stock info
	Symbol string

	// Condition info
	ConditionID   string
	ConditionName string

	// Order info (position_opened / order_failed)
	Quantity int64
	Price    int64 // 0 for market orders
	OrderNo  string

	// Failure info
	Error string

	// Alert metadata
	Timestamp time.Time
}

// Notifier is the interface for sending trading alerts to various channels.
type Notifier interface {
	// SendOrderAlert sends a trading alert notification.
	SendOrderAlert(alert OrderAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendOrderAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendOrderAlert(alert OrderAlert) {
	for _, n := range m.notifiers {
		n.SendOrderAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
