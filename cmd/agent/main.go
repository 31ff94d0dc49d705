package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telesession/internal/core/domain"
	"telesession/internal/core/services"
	"telesession/internal/infrastructure/media"
	redisstore "telesession/internal/infrastructure/persistence/redis"
	signalws "telesession/internal/infrastructure/signal"
	"telesession/pkg/config"
	"telesession/pkg/logger"
	"telesession/pkg/tracing"
)

// The agent is one session participant: it joins a session, keeps the live
// and durable planes in sync through the coordinator, and feeds sampled
// network metrics into the optimizer on a fixed cadence.
func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		sessionID  = flag.String("session", os.Getenv("TELESESSION_SESSION_ID"), "session to join")
		token      = flag.String("token", os.Getenv("TELESESSION_TOKEN"), "signaling auth token")
		role       = flag.String("role", "patient", "participant role (patient or doctor)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *sessionID == "" {
		log.Fatal("session id is required (-session or TELESESSION_SESSION_ID)")
	}
	if *token == "" {
		log.Fatal("auth token is required (-token or TELESESSION_TOKEN)")
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "telesession-agent",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	redisClient, err := redisstore.NewClient(
		cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
	if err != nil {
		log.Fatalw("failed to connect to Redis", "error", err)
	}
	defer redisstore.CloseClient(redisClient)

	store := redisstore.NewSessionStore(redisClient)
	persist := redisstore.NewSync(store, redisClient, cfg.Session.MessageWindow, log)

	channel := signalws.NewClient(signalws.ClientConfig{
		URL:                  cfg.Signal.URL,
		ConnectTimeout:       cfg.Signal.ConnectTimeout,
		HeartbeatInterval:    cfg.Signal.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.Signal.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Signal.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Signal.MaxReconnectAttempts,
		SendRatePerSecond:    cfg.Signal.SendRatePerSecond,
		SendBurst:            cfg.Signal.SendBurst,
	}, nil, log)

	catalog := services.NewProfileCatalog()
	optimizer := services.NewMediaOptimizer(catalog, services.OptimizerConfig{
		LowLatencyMode:  cfg.Optimizer.LowLatencyMode,
		MedicalPriority: cfg.Optimizer.MedicalPriority,
	})

	coordCfg := services.DefaultCoordinatorConfig()
	coordCfg.AuthToken = *token
	coordCfg.Role = domain.Role(*role)
	coordCfg.SwitchHoldDown = cfg.Session.SwitchHoldDown
	coordCfg.UpgradeHold = cfg.Session.UpgradeHold
	coordCfg.HistoryLimit = cfg.Session.HistoryLimit
	coordCfg.JoinTimeout = cfg.Session.JoinTimeout

	coordinator := services.NewCoordinator(channel, persist, optimizer, catalog, nil, log, coordCfg)

	sampler := media.NewSampler()
	coordinator.SetOnProfileChanged(func(p domain.QualityProfile) {
		constraints := media.ConstraintsFor(p)
		log.Infow("applying profile",
			"profile", p.Name,
			"width", constraints.IdealWidth,
			"height", constraints.IdealHeight,
			"frame_rate", constraints.IdealFrameRate,
			"max_bitrate_kbps", constraints.MaxBitrateKbps,
		)
	})
	coordinator.SetOnSignal(func(from domain.UserID, payload []byte) {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			log.Warnw("malformed signal payload", "from", from, "error", err)
			return
		}
		log.Debugw("signal relay", "from", from, "type", probe.Type)
	})

	ctx := context.Background()
	if err := coordinator.JoinSession(ctx, domain.SessionID(*sessionID)); err != nil {
		log.Fatalw("failed to join session", "session_id", *sessionID, "error", err)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			d := coordinator.ReportMetrics(sampler.Snapshot())
			if len(d.Warnings) > 0 {
				log.Infow("metrics pass", "profile", d.Profile, "warnings", d.Warnings)
			}

		case sig := <-sigChan:
			log.Infow("received shutdown signal", "signal", sig)
			if err := coordinator.LeaveSession(ctx); err != nil {
				log.Warnw("leave session failed", "error", err)
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Errorw("error shutting down tracer", "error", err)
			}
			cancel()
			log.Info("agent stopped")
			return
		}
	}
}
