package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	// Kiwoom validation
	errors = append(errors, validateKiwoom(&c.Kiwoom)...)

	// Trading validation
	errors = append(errors, validateTrading(&c.Trading)...)

	// HealthServer validation
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateKiwoom(k *KiwoomConfig) []ValidationError {
	var errors []ValidationError

	if k.AppKey == "" {
		errors = append(errors, ValidationError{
			Field:   "kiwoom.app_key",
			Message: "must be set (KIWOOM_APP_KEY)",
		})
	}

	if k.SecretKey == "" {
		errors = append(errors, ValidationError{
			Field:   "kiwoom.secret_key",
			Message: "must be set (KIWOOM_SECRET_KEY)",
		})
	}

	if !strings.HasPrefix(k.APIHost, "http://") && !strings.HasPrefix(k.APIHost, "https://") {
		errors = append(errors, ValidationError{
			Field:   "kiwoom.api_host",
			Message: "must be an http or https URL",
		})
	}

	if !strings.HasPrefix(k.WSEndpoint, "ws://") && !strings.HasPrefix(k.WSEndpoint, "wss://") {
		errors = append(errors, ValidationError{
			Field:   "kiwoom.ws_endpoint",
			Message: "must be a ws or wss URL",
		})
	}

	if k.ConnectTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "kiwoom.connect_timeout",
			Message: "must be at least 1 second",
		})
	}

	if k.ReadTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "kiwoom.read_timeout",
			Message: "must be at least 1 second",
		})
	}

	if k.SearchTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "kiwoom.search_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateTrading(t *TradingConfig) []ValidationError {
	var errors []ValidationError

	if t.ConditionID == "" {
		errors = append(errors, ValidationError{
			Field:   "trading.condition_id",
			Message: "must be set (TRADING_CONDITION_ID)",
		})
	}

	if t.BuyAmount < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.buy_amount",
			Message: "must be at least 1",
		})
	}

	if t.MaxPositions < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.max_positions",
			Message: "must be at least 1",
		})
	}

	if t.BuyTickOffset < 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.buy_tick_offset",
			Message: "must be non-negative",
		})
	}

	if t.SellTickOffset < 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.sell_tick_offset",
			Message: "must be non-negative",
		})
	}

	if t.TickInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "trading.tick_interval",
			Message: "must be at least 1 second",
		})
	}

	if t.OrderTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "trading.order_timeout",
			Message: "must be at least 1 second",
		})
	}

	if t.PendingTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "trading.pending_timeout",
			Message: "must be at least 1 second",
		})
	}

	if t.BlacklistCooldown < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "trading.blacklist_cooldown",
			Message: "must be at least 1 second",
		})
	}

	if t.OrdersPerSecond <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.orders_per_second",
			Message: "must be positive",
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Port < 1 || hs.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", hs.Port),
		})
	}

	return errors
}
