package kiwoomauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"kiwoombot/config"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrAuthFailure indicates the brokerage rejected the credentials.
// Not retryable; the credentials are wrong or revoked.
var ErrAuthFailure = errors.New("authentication rejected")

// Client issues OAuth2 access tokens for the Kiwoom REST and websocket APIs.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	appKey     string
	secretKey  string
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   cfg.Kiwoom.APIHost,
		appKey:    cfg.Kiwoom.AppKey,
		secretKey: cfg.Kiwoom.SecretKey,
	}
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresDt string `json:"expires_dt"`
}

// GetAccessToken exchanges the app key pair for a bearer token.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		AppKey:    c.appKey,
		SecretKey: c.secretKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	url := c.baseURL + "/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("token issuance failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		return "", fmt.Errorf("token endpoint returned status %d: %w", resp.StatusCode, ErrAuthFailure)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("empty token in response: %w", ErrAuthFailure)
	}

	c.logger.Info("access token issued", zap.String("expiresDt", tr.ExpiresDt))
	return tr.Token, nil
}
