// Package main runs the sanctuary session server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/haven-live/backend/config"
	"github.com/haven-live/backend/internal/alerts"
	"github.com/haven-live/backend/internal/auth"
	"github.com/haven-live/backend/internal/breakouts"
	"github.com/haven-live/backend/internal/channelstats"
	"github.com/haven-live/backend/internal/middleware"
	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/internal/moderation"
	"github.com/haven-live/backend/internal/presence"
	"github.com/haven-live/backend/internal/realtime"
	"github.com/haven-live/backend/internal/rtctoken"
	"github.com/haven-live/backend/internal/safety"
	"github.com/haven-live/backend/internal/sessions"
	"github.com/haven-live/backend/pkg/database"
	"github.com/haven-live/backend/pkg/queue"
	"github.com/haven-live/backend/pkg/redis"
	"github.com/haven-live/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Session registry and lifecycle sweep
	sessionRepo := sessions.NewRepository(pool)
	registry := sessions.NewRegistry(cfg.Session, sessionRepo, hub, logger)
	sessionHandler := sessions.NewHandler(registry)

	// Moderation
	moderationRepo := moderation.NewRepository(pool)
	engine := moderation.NewEngine(registry, moderationRepo, hub, logger)
	moderationHandler := moderation.NewHandler(engine)

	// Breakout rooms
	breakoutRepo := breakouts.NewRepository(pool)
	coordinator := breakouts.NewCoordinator(registry, breakoutRepo, hub, logger)
	breakoutHandler := breakouts.NewHandler(coordinator)

	// Safety alerts (content screening only for sessions that opted in)
	checker := safety.NewChecker(cfg.Safety.BaseURL, cfg.Safety.Timeout, logger)
	monitored := func(sessionID uuid.UUID) bool {
		s, err := registry.Get(sessionID)
		return err == nil && s.Settings.AIMonitoring
	}
	alertRepo := alerts.NewRepository(pool)
	alertService := alerts.NewService(alertRepo, hub, jobQueue, logger)
	alertHandler := alerts.NewHandler(alertService, checker, monitored)

	// Audio channel credentials
	issuer := rtctoken.NewIssuer(cfg.RTC, logger)
	tokenHandler := rtctoken.NewHandler(issuer, registry, logger)
	if !issuer.Configured() {
		logger.Warn("audio credentials not configured, token requests will be denied")
	}

	// Attendance log
	presenceRepo := presence.NewRepository(pool)
	presenceHandler := presence.NewHandler(presenceRepo)
	registry.SetPresenceHooks(sessions.PresenceHooks{
		OnJoin: func(sessionID, participantID uuid.UUID, alias string) {
			_ = presenceRepo.LogJoin(context.Background(), sessionID, participantID, alias)
		},
		OnLeave: func(sessionID, participantID uuid.UUID, speakingSeconds int64) {
			_ = presenceRepo.LogLeave(context.Background(), sessionID, participantID, speakingSeconds)
		},
	})

	// Channel utilization (peak occupancy via hub callback)
	statsRepo := channelstats.NewRepository(pool)
	statsHandler := channelstats.NewHandler(statsRepo, hub.Occupancy)
	hub.SetOccupancyHandler(func(sessionID uuid.UUID, count int) {
		_ = statsRepo.RecordJoin(context.Background(), sessionID, sessions.ChannelName(sessionID), count)
	})

	// Deferred cleanup after a session ends
	registry.SetEndHook(func(s models.LiveSession) {
		endedAt := time.Now()
		if s.EndedAt != nil {
			endedAt = *s.EndedAt
		}
		if err := jobQueue.EnqueueSessionCleanup(context.Background(), queue.SessionCleanupPayload{
			SessionID: s.ID,
			EndedAt:   endedAt,
		}); err != nil {
			logger.Warn("enqueue cleanup", zap.Error(err), zap.String("session_id", s.ID.String()))
		}
	})

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go registry.Sweep(sweepCtx)

	// WebSocket command routing
	dispatch := &realtime.Dispatcher{
		CreateSession:   registry.Create,
		Join:            registry.Join,
		Leave:           registry.Leave,
		Disconnect:      registry.Disconnect,
		Start:           registry.Start,
		End:             registry.End,
		Snapshot:        registry.GetSnapshot,
		RaiseHand:       registry.RaiseHand,
		ApproveSpeaker:  registry.ApproveSpeaker,
		SetModerator:    registry.SetModerator,
		AudioLevel:      registry.ReportAudioLevel,
		ApplyModeration: engine.Apply,
		CreateBreakout:  coordinator.Create,
		CloseBreakout:   coordinator.Close,
		RaiseAlert: func(ctx context.Context, spec alerts.RaiseSpec) (*models.SanctuaryAlert, error) {
			if spec.Description != "" && monitored(spec.SessionID) {
				if res := checker.Check(ctx, spec.Description); res.Flagged {
					spec.Severity = safety.MaxSeverity(spec.Severity, res.Severity)
				}
			}
			return alertService.Raise(ctx, spec)
		},
		ResolveAlert: alertService.Resolve,
	}
	authenticate := func(token string) (realtime.Identity, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{UserID: claims.UserID, Role: claims.Role, Alias: claims.Alias}, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/guest", authHandler.Guest)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/users", middleware.RequireRole("admin"), authHandler.List)

		// Sessions
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.POST("/sessions/:id/start", sessionHandler.Start)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.POST("/sessions/:id/join", sessionHandler.Join)
		api.POST("/sessions/:id/leave", sessionHandler.Leave)
		api.GET("/sessions/:id/snapshot", sessionHandler.Snapshot)
		api.POST("/sessions/:id/role", sessionHandler.SetRole)
		api.GET("/sessions/:id/token", tokenHandler.GetToken)

		// Moderation
		api.POST("/sessions/:id/moderation", moderationHandler.Apply)
		api.GET("/sessions/:id/moderation", middleware.RequireRole("admin", "moderator"), moderationHandler.Audit)

		// Breakout rooms
		api.POST("/sessions/:id/breakouts", breakoutHandler.Create)
		api.GET("/sessions/:id/breakouts", breakoutHandler.List)
		api.POST("/sessions/:id/breakouts/:breakoutId/close", breakoutHandler.Close)
		api.GET("/sessions/:id/breakouts/:breakoutId/token", tokenHandler.GetBreakoutToken)

		// Alerts
		api.POST("/sessions/:id/alerts", alertHandler.Raise)
		api.POST("/alerts/:id/resolve", middleware.RequireRole("admin", "moderator"), alertHandler.Resolve)
		api.GET("/alerts/open", middleware.RequireRole("admin", "moderator"), alertHandler.ListOpen)

		// Attendance and channel stats
		api.GET("/sessions/:id/presence", middleware.RequireRole("admin", "moderator"), presenceHandler.GetPresence)
		api.GET("/sessions/:id/stats", middleware.RequireRole("admin", "moderator"), statsHandler.GetStats)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, authenticate, dispatch))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweepCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
