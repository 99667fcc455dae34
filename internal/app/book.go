package app

import (
	"sync"
	"time"
)

// Position is a filled buy recorded by the engine.
type Position struct {
	Symbol   string    `json:"symbol"`
	Quantity int64     `json:"quantity"`
	Price    int64     `json:"price"` // 0 for market fills
	OrderNo  string    `json:"order_no"`
	OpenedAt time.Time `json:"opened_at"`
}

// BookCounts is a snapshot of the book's sizes.
type BookCounts struct {
	Tracked     int `json:"tracked"`
	Positions   int `json:"positions"`
	Pending     int `json:"pending"`
	Blacklisted int `json:"blacklisted"`
}

// book owns every piece of engine trading state: the tracked condition
// matches, open positions, in-flight order reservations and the failure
// blacklist. All mutation goes through the mutex, and Reserve is the only
// way a symbol becomes an order, which keeps the four sets mutually
// exclusive even with concurrent dispatches.
type book struct {
	mu sync.Mutex

	maxPositions int

	tracked   map[string]struct{}
	positions map[string]Position
	pending   map[string]time.Time
	blacklist map[string]time.Time // symbol -> expiry
}

func newBook(maxPositions int) *book {
	return &book{
		maxPositions: maxPositions,
		tracked:      make(map[string]struct{}),
		positions:    make(map[string]Position),
		pending:      make(map[string]time.Time),
		blacklist:    make(map[string]time.Time),
	}
}

// Track records a symbol as currently matching the condition.
// Returns true if the symbol was not tracked before.
func (b *book) Track(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tracked[symbol]; ok {
		return false
	}
	b.tracked[symbol] = struct{}{}
	return true
}

// Untrack removes a symbol that left the condition.
func (b *book) Untrack(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tracked[symbol]; !ok {
		return false
	}
	delete(b.tracked, symbol)
	return true
}

// TrackedSymbols returns the current condition matches.
func (b *book) TrackedSymbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.tracked))
	for s := range b.tracked {
		out = append(out, s)
	}
	return out
}

// Reserve atomically checks a symbol's eligibility and marks it pending.
// A symbol is eligible when it is not already held, not already reserved,
// not blacklisted, and the combined held+reserved count is under the cap.
// Expired blacklist entries are cleared on the way through.
func (b *book) Reserve(symbol string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, held := b.positions[symbol]; held {
		return false
	}
	if _, inflight := b.pending[symbol]; inflight {
		return false
	}
	if expiry, listed := b.blacklist[symbol]; listed {
		if now.Before(expiry) {
			return false
		}
		delete(b.blacklist, symbol)
	}
	// Reservations count against the cap so concurrent dispatches
	// cannot overshoot it.
	if len(b.positions)+len(b.pending) >= b.maxPositions {
		return false
	}

	b.pending[symbol] = now
	return true
}

// Commit converts a reservation into a position.
func (b *book) Commit(p Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pending, p.Symbol)
	b.positions[p.Symbol] = p
}

// Release drops a reservation without recording anything.
func (b *book) Release(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pending, symbol)
}

// Fail drops the reservation and blacklists the symbol until now+cooldown.
func (b *book) Fail(symbol string, now time.Time, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pending, symbol)
	b.blacklist[symbol] = now.Add(cooldown)
}

// ExpirePending removes reservations older than timeout and returns them.
// A reservation can go stale when an order dispatch dies without reporting.
func (b *book) ExpirePending(now time.Time, timeout time.Duration) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []string
	for symbol, since := range b.pending {
		if now.Sub(since) > timeout {
			expired = append(expired, symbol)
			delete(b.pending, symbol)
		}
	}
	return expired
}

// HasPosition reports whether the symbol is held.
func (b *book) HasPosition(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.positions[symbol]
	return ok
}

// Positions returns a copy of the open positions.
func (b *book) Positions() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}

// Counts returns the book's current sizes. Blacklist entries that already
// expired are not cleaned here; they clear lazily on the next Reserve.
func (b *book) Counts() BookCounts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BookCounts{
		Tracked:     len(b.tracked),
		Positions:   len(b.positions),
		Pending:     len(b.pending),
		Blacklisted: len(b.blacklist),
	}
}
