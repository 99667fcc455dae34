package app

import (
	"context"
	"fmt"
	clts "kiwoombot/clients"
	"kiwoombot/clients/kiwoomcond"
	"kiwoombot/clients/kiwoomtrade"
	"kiwoombot/clients/notifier"
	"kiwoombot/config"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

type Runner struct {
	clients *clts.Clients
	cfg     *config.Config

	cond   *kiwoomcond.Client
	trade  *kiwoomtrade.Client
	engine *Engine

	healthServer *http.Server
	startTime    time.Time

	wsConnected atomic.Bool
}

// ServiceStats holds service statistics exposed on /stats.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	// WebSocket stats
	WebSocket struct {
		Connected    bool   `json:"connected"`
		FrameCount   uint64 `json:"frame_count"`
		LastFrameAt  string `json:"last_frame_at,omitempty"`
		LastFrameAgo string `json:"last_frame_ago,omitempty"`
	} `json:"websocket"`

	// Trading stats
	Trading struct {
		ConditionID   string `json:"condition_id"`
		ConditionName string `json:"condition_name,omitempty"`
		MockTrading   bool   `json:"mock_trading"`
		BookCounts
	} `json:"trading"`

	// Open positions
	Positions []Position `json:"positions"`

	// Notification status
	Notifications struct {
		DiscordEnabled  bool `json:"discord_enabled"`
		TelegramEnabled bool `json:"telegram_enabled"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		HeapSys    uint64 `json:"heap_sys"`
		NumGC      uint32 `json:"num_gc"`
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

func NewRunner(clients *clts.Clients, cfg *config.Config) *Runner {
	return &Runner{
		clients: clients,
		cfg:     cfg,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.cfg

	logger.Info("starting condition-search trader",
		zap.Bool("mockTrading", cfg.Kiwoom.IsMock),
		zap.String("conditionID", cfg.Trading.ConditionID),
	)

	// Issue the access token; every authenticated surface shares it.
	token, err := r.clients.Auth.GetAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("issue access token: %w", err)
	}

	r.trade = kiwoomtrade.NewClient(logger, cfg, token)
	r.cond = kiwoomcond.NewClient(logger, cfg, token)

	if err := r.connectConditionWS(ctx); err != nil {
		return err
	}

	// The saved condition list follows login; use it to resolve the
	// configured condition's display name and catch a bad ID early.
	conditionName, err := r.resolveConditionName(ctx)
	if err != nil {
		_ = r.cond.Close()
		return err
	}

	r.engine = NewEngine(
		logger,
		r.cond,
		r.trade,
		r.clients.Notifier,
		FixedPricing{},
		EngineSettings{
			ConditionID:       cfg.Trading.ConditionID,
			ConditionName:     conditionName,
			BuyAmount:         cfg.Trading.BuyAmount,
			MaxPositions:      cfg.Trading.MaxPositions,
			MarketOrder:       cfg.Trading.BuyMarketOrder,
			TickOffset:        cfg.Trading.BuyTickOffset,
			TickInterval:      cfg.Trading.TickInterval,
			OrderTimeout:      cfg.Trading.OrderTimeout,
			PendingTimeout:    cfg.Trading.PendingTimeout,
			BlacklistCooldown: cfg.Trading.BlacklistCooldown,
			OrdersPerSecond:   cfg.Trading.OrdersPerSecond,
		},
	)

	if err := r.engine.Start(ctx); err != nil {
		_ = r.cond.Close()
		return fmt.Errorf("start trading engine: %w", err)
	}

	// Start health check server if enabled
	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}

	go r.watchConnStates(ctx)
	go r.runWSReconnector(ctx)

	<-ctx.Done()
	logger.Info("runner shutting down")

	r.engine.Stop()
	_ = r.cond.Close()

	if err := r.clients.Notifier.Close(); err != nil {
		logger.Warn("notifier close failed", zap.Error(err))
	}

	// Shutdown health server
	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return nil
}

// connectConditionWS dials the websocket and waits for the login verdict,
// which arrives asynchronously on the state channel.
func (r *Runner) connectConditionWS(ctx context.Context) error {
	if err := r.cond.Connect(ctx); err != nil {
		return fmt.Errorf("connect condition websocket: %w", err)
	}

	select {
	case state := <-r.cond.ConnStates():
		if !state {
			return fmt.Errorf("condition websocket login rejected")
		}
	case <-time.After(r.cfg.Kiwoom.ConnectTimeout):
		_ = r.cond.Close()
		return fmt.Errorf("condition websocket login: %w", kiwoomcond.ErrConnectTimeout)
	case <-ctx.Done():
		_ = r.cond.Close()
		return ctx.Err()
	}

	r.wsConnected.Store(true)
	r.clients.Logger.Info("condition websocket ready")
	return nil
}

// resolveConditionName waits for the saved condition list and looks up the
// configured condition. A missing ID is fatal; a late list is not.
func (r *Runner) resolveConditionName(ctx context.Context) (string, error) {
	select {
	case conditions := <-r.cond.Conditions():
		for _, cond := range conditions {
			if cond.ID == r.cfg.Trading.ConditionID {
				return cond.Name, nil
			}
		}
		return "", fmt.Errorf("condition %q not found among %d saved conditions",
			r.cfg.Trading.ConditionID, len(conditions))

	case <-time.After(r.cfg.Kiwoom.SearchTimeout):
		r.clients.Logger.Warn("condition list not received in time, using configured name")
		return r.cfg.Trading.ConditionName, nil

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// watchConnStates tracks login/teardown transitions. A drop fires an alert;
// a later login means the reconnector got us back, so the realtime
// subscription is re-issued.
func (r *Runner) watchConnStates(ctx context.Context) {
	logger := r.clients.Logger

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-r.cond.ConnStates():
			if !ok {
				return
			}
			r.wsConnected.Store(state)

			if !state {
				logger.Warn("condition websocket disconnected")
				go r.clients.Notifier.SendOrderAlert(notifier.OrderAlert{
					Reason:        notifier.AlertReasonConnectionLost,
					ConditionID:   r.cfg.Trading.ConditionID,
					ConditionName: r.cfg.Trading.ConditionName,
					Timestamp:     time.Now(),
				})
				continue
			}

			logger.Info("condition websocket reconnected, resubscribing")
			if err := r.engine.Resubscribe(ctx); err != nil {
				logger.Error("resubscribe after reconnect failed", zap.Error(err))
			}
		}
	}
}

// runWSReconnector monitors websocket health and reconnects if needed.
func (r *Runner) runWSReconnector(ctx context.Context) {
	logger := r.clients.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.wsConnected.Load() {
				logger.Warn("condition websocket down, attempting reconnect")
				r.attemptReconnect(ctx)
				continue
			}

			stats := r.cond.Stats()
			if stats.FrameCount > 0 && time.Since(stats.LastFrameAt) > 2*time.Minute {
				logger.Warn("condition websocket appears stale, attempting reconnect",
					zap.Duration("timeSinceLastFrame", time.Since(stats.LastFrameAt)),
				)
				r.attemptReconnect(ctx)
			}
		}
	}
}

// attemptReconnect attempts to reconnect the websocket. The state watcher
// handles resubscription once login succeeds.
func (r *Runner) attemptReconnect(ctx context.Context) {
	logger := r.clients.Logger

	// Close existing connection
	_ = r.cond.Close()
	r.wsConnected.Store(false)

	// Wait a moment before reconnecting
	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return
	}

	if err := r.cond.Connect(ctx); err != nil {
		logger.Error("failed to reconnect condition websocket", zap.Error(err))
	}
}

// GetStats returns service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := time.Since(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	// WebSocket stats
	stats.WebSocket.Connected = r.wsConnected.Load()
	if r.cond != nil {
		wsStats := r.cond.Stats()
		stats.WebSocket.FrameCount = wsStats.FrameCount
		if !wsStats.LastFrameAt.IsZero() {
			stats.WebSocket.LastFrameAt = wsStats.LastFrameAt.UTC().Format(time.RFC3339)
			stats.WebSocket.LastFrameAgo = time.Since(wsStats.LastFrameAt).Round(time.Second).String()
		}
	}

	// Trading stats
	stats.Trading.ConditionID = r.cfg.Trading.ConditionID
	stats.Trading.MockTrading = r.cfg.Kiwoom.IsMock
	if r.engine != nil {
		stats.Trading.ConditionName = r.engine.settings.ConditionName
		stats.Trading.BookCounts = r.engine.Status()
		stats.Positions = r.engine.Positions()
	}

	// Notification status
	stats.Notifications.DiscordEnabled = r.clients.Discord != nil
	stats.Notifications.TelegramEnabled = r.clients.Telegram != nil

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapSys = memStats.HeapSys
	stats.Runtime.NumGC = memStats.NumGC
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
