package kiwoomcond

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"kiwoombot/config"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrConnectTimeout indicates the websocket dial did not complete in time.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrTransportClosed indicates the connection went away while a request was in flight.
	ErrTransportClosed = errors.New("transport closed")

	// ErrRequestTimeout indicates no correlated search response arrived in time.
	ErrRequestTimeout = errors.New("search response timeout")
)

// SearchMode selects between a one-shot snapshot and a realtime subscription.
type SearchMode string

const (
	SearchOneShot  SearchMode = "0"
	SearchRealtime SearchMode = "1"
)

// Frame type identifiers used by the condition-search websocket protocol.
const (
	trnmLogin       = "LOGIN"
	trnmPing        = "PING"
	trnmList        = "CNSRLST"
	trnmSearch      = "CNSRREQ"
	trnmUnsubscribe = "CNSRCLR"
	trnmRealtime    = "REAL"
)

// symbolKey is the field carrying the stock code in search result entries.
const symbolKey = "9001"

// insertDeleteKey is the realtime values field flagging condition entry ("I") or exit ("D").
const insertDeleteKey = "843"

// resultAdvisoryLimit is the entry count above which the server response is
// advisory only; callers get the data anyway, with a warning logged.
const resultAdvisoryLimit = 100

// Condition is one saved server-side screening expression.
type Condition struct {
	ID   string
	Name string
}

// RealtimeEvent is a single push update for a subscribed condition.
type RealtimeEvent struct {
	Symbol string
	Insert bool // true when the symbol entered the condition, false when it left
	Values map[string]string
}

type WSStats struct {
	FrameCount  uint64
	LastFrameAt time.Time
}

type frame struct {
	Trnm       string          `json:"trnm"`
	Token      string          `json:"token,omitempty"`
	ReturnCode *int            `json:"return_code,omitempty"`
	ReturnMsg  string          `json:"return_msg,omitempty"`
	Seq        json.RawMessage `json:"seq,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type realtimeEntry struct {
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
}

// Client speaks the Kiwoom condition-search websocket protocol: login,
// condition list retrieval, seq-correlated search requests and realtime
// push events. It never reconnects on its own; the caller owns retry policy.
type Client struct {
	logger *zap.Logger

	endpoint       string
	token          string
	dialer         *websocket.Dialer
	connectTimeout time.Duration
	readTimeout    time.Duration
	searchTimeout  time.Duration
	listDelay      time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closeCh chan struct{}

	sessMu   sync.Mutex
	sessions map[string]chan *frame

	stateMu   sync.Mutex
	connected bool

	condCh  chan []Condition
	realCh  chan RealtimeEvent
	stateCh chan bool
	errCh   chan error

	frameCount        uint64
	lastFrameUnixNano int64
}

func NewClient(logger *zap.Logger, cfg *config.Config, token string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger:         logger,
		endpoint:       cfg.Kiwoom.WSEndpoint,
		token:          token,
		dialer:         websocket.DefaultDialer,
		connectTimeout: cfg.Kiwoom.ConnectTimeout,
		readTimeout:    cfg.Kiwoom.ReadTimeout,
		searchTimeout:  cfg.Kiwoom.SearchTimeout,
		listDelay:      500 * time.Millisecond,

		closeCh:  make(chan struct{}),
		sessions: make(map[string]chan *frame),

		condCh:  make(chan []Condition, 4),
		realCh:  make(chan RealtimeEvent, 1024),
		stateCh: make(chan bool, 8),
		errCh:   make(chan error, 64),
	}
}

// Connect dials the condition-search endpoint and sends the LOGIN frame.
// The login outcome arrives asynchronously on ConnStates; a rejected token
// tears the connection down.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.endpoint, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("dial %s: %w", c.endpoint, ErrConnectTimeout)
		}
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	c.logger.Info("condition ws dialed", zap.String("url", c.endpoint))

	conn.SetCloseHandler(func(code int, text string) error {
		c.logger.Warn("condition ws close frame received",
			zap.Int("code", code),
			zap.String("reason", text),
		)
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	if err := c.writeJSON(map[string]any{"trnm": trnmLogin, "token": c.token}); err != nil {
		_ = conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return fmt.Errorf("send login frame: %w", err)
	}

	c.logger.Info("condition ws login sent")

	go c.readLoop()
	go c.keepAliveLoop()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.closeCh:
		}
	}()

	return nil
}

// Search runs one condition-search request and waits for the correlated
// response. In SearchRealtime mode the server also starts streaming push
// events for the condition onto Realtime().
func (c *Client) Search(ctx context.Context, conditionID string, mode SearchMode) ([]string, error) {
	reqID := uuid.NewString()[:8]

	ch := make(chan *frame, 1)
	c.sessMu.Lock()
	if _, exists := c.sessions[conditionID]; exists {
		c.logger.Warn("superseding in-flight search for condition",
			zap.String("reqID", reqID),
			zap.String("conditionID", conditionID),
		)
	}
	c.sessions[conditionID] = ch
	c.sessMu.Unlock()

	defer func() {
		c.sessMu.Lock()
		if c.sessions[conditionID] == ch {
			delete(c.sessions, conditionID)
		}
		c.sessMu.Unlock()
	}()

	req := map[string]any{
		"trnm":        trnmSearch,
		"seq":         conditionID,
		"search_type": string(mode),
		"stex_tp":     "K",
	}
	if mode == SearchOneShot {
		req["cont_yn"] = "N"
		req["next_key"] = ""
	}

	c.logger.Info("sending condition search",
		zap.String("reqID", reqID),
		zap.String("conditionID", conditionID),
		zap.String("mode", string(mode)),
	)

	if err := c.writeJSON(req); err != nil {
		return nil, fmt.Errorf("send search request: %w", err)
	}

	timer := time.NewTimer(c.searchTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, ErrTransportClosed
		}
		symbols, total := parseSearchResults(resp.Data)
		if total > resultAdvisoryLimit {
			c.logger.Warn("condition search result exceeds advisory limit",
				zap.String("reqID", reqID),
				zap.String("conditionID", conditionID),
				zap.Int("entries", total),
			)
		}
		c.logger.Info("condition search result received",
			zap.String("reqID", reqID),
			zap.String("conditionID", conditionID),
			zap.Int("symbols", len(symbols)),
		)
		return symbols, nil

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timer.C:
		c.logger.Error("condition search timed out",
			zap.String("reqID", reqID),
			zap.String("conditionID", conditionID),
			zap.Duration("timeout", c.searchTimeout),
		)
		return nil, ErrRequestTimeout
	}
}

// Unsubscribe cancels the realtime stream for a condition. Best effort;
// the server sends no acknowledgement worth waiting for.
func (c *Client) Unsubscribe(conditionID string) error {
	c.logger.Info("cancelling realtime condition", zap.String("conditionID", conditionID))
	return c.writeJSON(map[string]any{"trnm": trnmUnsubscribe, "seq": conditionID})
}

// ConnStates emits login/teardown transitions. Only changes are emitted.
func (c *Client) ConnStates() <-chan bool {
	return c.stateCh
}

// Conditions emits the saved condition list received after login.
func (c *Client) Conditions() <-chan []Condition {
	return c.condCh
}

// Realtime emits per-symbol push events for subscribed conditions.
func (c *Client) Realtime() <-chan RealtimeEvent {
	return c.realCh
}

func (c *Client) Errors() <-chan error {
	return c.errCh
}

func (c *Client) Stats() WSStats {
	n := atomic.LoadUint64(&c.frameCount)
	ns := atomic.LoadInt64(&c.lastFrameUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return WSStats{
		FrameCount:  n,
		LastFrameAt: t,
	}
}

// Close tears down the connection, aborts pending searches and emits a
// single disconnected state. Safe to call repeatedly.
func (c *Client) Close() error {
	c.connMu.Lock()

	select {
	case <-c.closeCh:
		// Already closed
	default:
		close(c.closeCh)
	}

	// Fresh channel for a potential reconnect
	c.closeCh = make(chan struct{})

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.sessMu.Lock()
	for id, ch := range c.sessions {
		close(ch)
		delete(c.sessions, id)
	}
	c.sessMu.Unlock()

	c.emitConnState(false)

	return err
}

func (c *Client) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected: %w", ErrTransportClosed)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(v)
}

func (c *Client) writeRaw(b []byte) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected: %w", ErrTransportClosed)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteMessage(websocket.TextMessage, b)
}

// keepAliveLoop sends a PING frame whenever the stream has been silent for
// a full read-timeout window.
func (c *Client) keepAliveLoop() {
	t := time.NewTicker(c.readTimeout)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			ns := atomic.LoadInt64(&c.lastFrameUnixNano)
			if ns > 0 && time.Since(time.Unix(0, ns)) < c.readTimeout {
				continue
			}
			c.logger.Info("condition ws silent, sending ping",
				zap.Duration("window", c.readTimeout),
			)
			if err := c.writeJSON(map[string]any{"trnm": trnmPing}); err != nil {
				c.logger.Warn("keep-alive ping failed", zap.Error(err))
			}

		case <-c.closeCh:
			return
		}
	}
}

func (c *Client) readLoop() {
	c.logger.Info("condition ws read loop started")

	for {
		select {
		case <-c.closeCh:
			c.logger.Info("condition ws read loop exiting: closeCh signaled")
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.logger.Info("condition ws read loop exiting: conn is nil")
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("condition ws read loop exiting: read error", zap.Error(err))
			select {
			case c.errCh <- err:
			default:
			}
			_ = c.Close()
			return
		}

		atomic.AddUint64(&c.frameCount, 1)
		atomic.StoreInt64(&c.lastFrameUnixNano, time.Now().UnixNano())

		c.handleFrame(b)
	}
}

func (c *Client) handleFrame(b []byte) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		c.logger.Warn("condition ws bad json frame",
			zap.Error(err),
			zap.ByteString("frame", b),
		)
		return
	}

	switch f.Trnm {
	case trnmLogin:
		c.handleLogin(&f)
	case trnmPing:
		// Echo the frame back byte for byte
		if err := c.writeRaw(b); err != nil {
			c.logger.Warn("ping echo failed", zap.Error(err))
		}
	case trnmList:
		c.handleConditionList(&f)
	case trnmSearch:
		c.dispatchSearchResponse(&f)
	case trnmUnsubscribe:
		c.logger.Info("realtime condition cancelled", zap.ByteString("seq", f.Seq))
	case trnmRealtime:
		c.handleRealtime(&f)
	default:
		c.logger.Warn("unknown frame type", zap.String("trnm", f.Trnm))
	}
}

func (c *Client) handleLogin(f *frame) {
	rc := 0
	if f.ReturnCode != nil {
		rc = *f.ReturnCode
	}

	if rc != 0 {
		c.logger.Error("condition ws login rejected",
			zap.Int("returnCode", rc),
			zap.String("returnMsg", f.ReturnMsg),
		)
		_ = c.Close()
		return
	}

	c.logger.Info("condition ws login accepted")
	c.emitConnState(true)

	// The server needs a beat after login before it serves the list.
	go func() {
		select {
		case <-time.After(c.listDelay):
		case <-c.closeCh:
			return
		}
		if err := c.writeJSON(map[string]any{"trnm": trnmList}); err != nil {
			c.logger.Warn("condition list request failed", zap.Error(err))
		}
	}()
}

func (c *Client) handleConditionList(f *frame) {
	var rows [][]string
	if err := json.Unmarshal(f.Data, &rows); err != nil {
		c.logger.Warn("bad condition list payload", zap.Error(err))
		return
	}

	conditions := make([]Condition, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		conditions = append(conditions, Condition{ID: row[0], Name: row[1]})
	}

	c.logger.Info("condition list received", zap.Int("count", len(conditions)))
	for _, cond := range conditions {
		c.logger.Info("saved condition",
			zap.String("id", cond.ID),
			zap.String("name", cond.Name),
		)
	}

	select {
	case c.condCh <- conditions:
	default:
		c.logger.Warn("dropping condition list: condCh full")
	}
}

func (c *Client) dispatchSearchResponse(f *frame) {
	seq := normalizeSeq(f.Seq)

	c.sessMu.Lock()
	ch, ok := c.sessions[seq]
	if !ok {
		// Secondary match: registered keys may carry stray whitespace
		for k, v := range c.sessions {
			if strings.TrimSpace(k) == seq {
				ch, ok = v, true
				break
			}
		}
	}
	c.sessMu.Unlock()

	if !ok {
		c.logger.Warn("unmatched search response", zap.String("seq", seq))
		return
	}

	select {
	case ch <- f:
	default:
		c.logger.Warn("duplicate search response dropped", zap.String("seq", seq))
	}
}

func (c *Client) handleRealtime(f *frame) {
	var entries []realtimeEntry
	if err := json.Unmarshal(f.Data, &entries); err != nil {
		c.logger.Warn("bad realtime payload", zap.Error(err))
		return
	}

	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		flag := e.Values[insertDeleteKey]
		ev := RealtimeEvent{
			Symbol: strings.TrimPrefix(e.Name, "A"),
			Insert: flag != "D",
			Values: e.Values,
		}

		select {
		case c.realCh <- ev:
		default:
			c.logger.Warn("dropping realtime event: realCh full",
				zap.String("symbol", ev.Symbol),
			)
		}
	}
}

func (c *Client) emitConnState(state bool) {
	c.stateMu.Lock()
	if c.connected == state {
		c.stateMu.Unlock()
		return
	}
	c.connected = state
	c.stateMu.Unlock()

	select {
	case c.stateCh <- state:
	default:
		c.logger.Warn("dropping connection state event: stateCh full")
	}
}

// normalizeSeq renders a raw seq value as a trimmed string. The server is
// inconsistent about quoting the field, so both forms resolve identically.
func normalizeSeq(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	return strings.TrimSpace(s)
}

// parseSearchResults extracts stock codes from a search response payload.
// Entries are usually objects keyed by field id, occasionally bare strings.
// Returns the codes (market prefix stripped) and the raw entry count.
func parseSearchResults(data json.RawMessage) ([]string, int) {
	if len(data) == 0 {
		return nil, 0
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, 0
	}

	symbols := make([]string, 0, len(entries))
	for _, entry := range entries {
		var obj map[string]string
		if err := json.Unmarshal(entry, &obj); err == nil {
			if code := obj[symbolKey]; code != "" {
				symbols = append(symbols, strings.TrimPrefix(code, "A"))
			}
			continue
		}

		var plain string
		if err := json.Unmarshal(entry, &plain); err == nil && plain != "" {
			symbols = append(symbols, strings.TrimPrefix(plain, "A"))
		}
	}

	return symbols, len(entries)
}
