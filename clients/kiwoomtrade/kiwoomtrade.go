package kiwoomtrade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"kiwoombot/config"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrOrderRejected indicates the brokerage refused the order.
var ErrOrderRejected = errors.New("order rejected")

// api-id values for the domestic stock order endpoint.
const (
	apiIDBuy  = "kt10000"
	apiIDSell = "kt10001"
)

// Trade type codes on the order endpoint.
const (
	tradeTypeMarket = "3"
	tradeTypeLimit  = "0"
)

// Client submits cash orders through the Kiwoom REST order gateway.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient builds an order client bound to an already-issued bearer token.
func NewClient(logger *zap.Logger, cfg *config.Config, token string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Trading.OrderTimeout,
		},
		baseURL: cfg.Kiwoom.APIHost,
		token:   token,
	}
}

// OrderResult holds the gateway's response to an order submission.
type OrderResult struct {
	OrderNo string
	Raw     json.RawMessage
}

type orderRequest struct {
	ExchangeType string `json:"dmst_stex_tp"`
	StockCode    string `json:"stk_cd"`
	Quantity     string `json:"ord_qty"`
	UnitPrice    string `json:"ord_uv"`
	TradeType    string `json:"trde_tp"`
	CondPrice    string `json:"cond_uv"`
}

type orderResponse struct {
	OrderNo   string `json:"ord_no"`
	ReturnMsg string `json:"return_msg"`
}

// Buy submits a cash buy order. A price of 0 places a market order.
func (c *Client) Buy(ctx context.Context, symbol string, quantity, price int64) (*OrderResult, error) {
	return c.submit(ctx, apiIDBuy, symbol, quantity, price)
}

// Sell submits a cash sell order. A price of 0 places a market order.
func (c *Client) Sell(ctx context.Context, symbol string, quantity, price int64) (*OrderResult, error) {
	return c.submit(ctx, apiIDSell, symbol, quantity, price)
}

func (c *Client) submit(ctx context.Context, apiID, symbol string, quantity, price int64) (*OrderResult, error) {
	// Screening results carry the market prefix; the order endpoint wants the bare code.
	code := strings.TrimPrefix(symbol, "A")

	tradeType := tradeTypeMarket
	unitPrice := ""
	if price > 0 {
		tradeType = tradeTypeLimit
		unitPrice = strconv.FormatInt(price, 10)
	}

	body, err := json.Marshal(orderRequest{
		ExchangeType: "KRX",
		StockCode:    code,
		Quantity:     strconv.FormatInt(quantity, 10),
		UnitPrice:    unitPrice,
		TradeType:    tradeType,
		CondPrice:    "",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	url := c.baseURL + "/api/dostk/ordr"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("authorization", "Bearer "+c.token)
	req.Header.Set("cont-yn", "N")
	req.Header.Set("next-key", "")
	req.Header.Set("api-id", apiID)

	c.logger.Info("submitting order",
		zap.String("apiID", apiID),
		zap.String("symbol", code),
		zap.Int64("quantity", quantity),
		zap.Int64("price", price),
		zap.String("tradeType", tradeType),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read order response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("order rejected",
			zap.String("symbol", code),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		return nil, fmt.Errorf("order endpoint returned status %d: %w", resp.StatusCode, ErrOrderRejected)
	}

	var or orderResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	c.logger.Info("order accepted",
		zap.String("symbol", code),
		zap.String("orderNo", or.OrderNo),
		zap.Duration("took", time.Since(start)),
	)

	return &OrderResult{
		OrderNo: or.OrderNo,
		Raw:     respBody,
	}, nil
}
