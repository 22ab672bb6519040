package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"convo-service/internal/auth"
	"convo-service/internal/config"
	"convo-service/internal/db"
	"convo-service/internal/dedup"
	"convo-service/internal/grpcserver"
	"convo-service/internal/handlers"
	"convo-service/internal/logger"
	"convo-service/internal/messaging"
	"convo-service/internal/middleware"
	"convo-service/internal/observability"
	"convo-service/internal/presence"
	"convo-service/internal/rabbitmq"
	"convo-service/internal/repositories"
	"convo-service/internal/rewards"
	"convo-service/internal/tracing"
	"convo-service/internal/unread"
	"convo-service/internal/ws"
)

const (
	serviceName   = "convo-service"
	unreadHintTTL = 24 * time.Hour
)

type store interface {
	repositories.ConversationRepository
	repositories.MessageRepository
}

type splitStore struct {
	*repositories.ConversationRepo
	*repositories.MessageRepo
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("convo-service: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	zl, err := logger.New(cfg.IsDevelopment())
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.OTelEndpoint, zl)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var st store
	switch cfg.StoreDriver {
	case "memory":
		zl.Warn("using in-memory store; data is lost on restart")
		st = repositories.NewMemoryStore()
	default:
		database, err := db.Connect(cfg.DBDSN, zl)
		if err != nil {
			return err
		}
		defer database.Close()
		st = splitStore{
			ConversationRepo: repositories.NewConversationRepo(database),
			MessageRepo:      repositories.NewMessageRepo(database),
		}
	}

	hints := unreadHints(ctx, cfg, zl)

	publisher := rabbitmq.WithBreaker(rabbitmq.NewPublisher(cfg.AMQPURL, cfg.RewardsExchange, zl), "amqp-publisher", zl)
	defer publisher.Close()
	zl.Info("rabbitmq publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	notifier := rewards.NewNotifier(publisher, serviceName, cfg.Env, 5*time.Second, zl)
	defer notifier.Wait()

	hub := ws.NewHub(zl)
	registry := presence.NewRegistry()
	recent := dedup.New(cfg.DedupSize, cfg.DedupTTL)
	defer recent.Purge()
	counter := unread.NewCounter(hints, st, st, zl)

	coordinator := messaging.NewCoordinator(st, st, hub, counter, notifier, recent, messaging.Options{
		MaxContentLength: cfg.MaxContentLength,
		MaxAttachments:   cfg.MaxAttachments,
	}, zl)
	reconciler := messaging.NewReconciler(coordinator, cfg.ReconcileBatchSize, cfg.ReconcileMaxBatches, zl)
	validator := auth.NewJWTValidator(cfg.JWTSecret)

	gateway := ws.NewGateway(hub, registry, coordinator, reconciler, validator, publisher, ws.GatewayConfig{
		SendBuffer:      cfg.WSSendBuffer,
		WriteTimeout:    cfg.WSWriteTimeout,
		PingInterval:    cfg.WSPingInterval,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
		FrameRate:       cfg.WSFrameRate,
		FrameBurst:      cfg.WSFrameBurst,
	}, zl)
	conversationHandler := handlers.NewConversationHandler(coordinator, zl)
	messageHandler := handlers.NewMessageHandler(coordinator, zl)
	presenceHandler := handlers.NewPresenceHandler(registry)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", handlers.Healthz(st))
	router.GET("/ws", gateway.Handle)
	handlers.RegisterDebugRoutes(router, hub, registry, cfg.IsDevelopment())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.POST("/conversations/direct", authMiddleware, conversationHandler.CreateDirect)
	router.POST("/conversations/group", authMiddleware, conversationHandler.CreateGroup)
	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.DELETE("/conversations/:id/me", authMiddleware, conversationHandler.HideConversation)
	router.GET("/conversations/:id/messages", authMiddleware, conversationHandler.ListMessages)
	router.POST("/conversations/:id/messages", authMiddleware, conversationHandler.PostMessage)
	router.POST("/conversations/:id/read", authMiddleware, conversationHandler.MarkRead)
	router.GET("/conversations/:id/unread", authMiddleware, conversationHandler.UnreadCount)
	router.GET("/unread", authMiddleware, conversationHandler.TotalUnread)

	router.POST("/messages/:id/delivered", authMiddleware, messageHandler.MarkDelivered)
	router.POST("/messages/:id/read", authMiddleware, messageHandler.MarkRead)
	router.PATCH("/messages/:id", authMiddleware, messageHandler.EditMessage)

	router.GET("/users/:id/presence", authMiddleware, presenceHandler.GetPresence)

	grpcSrv := grpcserver.New(zl)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	errCh := make(chan error, 2)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		zl.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	grpcSrv.SetServing(st.Ping(ctx) == nil)

	select {
	case <-ctx.Done():
		zl.Info("shutdown signal received")
	case err := <-errCh:
		zl.Error("server failed", zap.Error(err))
	}

	grpcSrv.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	hub.Close()
	registry.Close()
	grpcSrv.GracefulStop()
	zl.Info("stopped cleanly")
	return nil
}

// unreadHints prefers Redis so hints survive restarts; it falls back to memory.
func unreadHints(ctx context.Context, cfg *config.Config, zl *zap.Logger) unread.HintStore {
	if cfg.RedisAddr == "" {
		zl.Info("unread hints kept in memory")
		return unread.NewMemoryHints()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zl.Warn("redis unavailable, unread hints kept in memory", zap.Error(err))
		_ = client.Close()
		return unread.NewMemoryHints()
	}
	zl.Info("unread hints stored in redis", zap.String("addr", cfg.RedisAddr))
	return unread.NewRedisHints(client, serviceName, unreadHintTTL)
}
