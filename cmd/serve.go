package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"campus-market/internal/chat"
	"campus-market/internal/config"
	"campus-market/internal/db"
	"campus-market/internal/feed"
	"campus-market/internal/grpcserver"
	"campus-market/internal/handlers"
	"campus-market/internal/inbox"
	"campus-market/internal/kafka"
	"campus-market/internal/middleware"
	"campus-market/internal/models"
	"campus-market/internal/observability"
	"campus-market/internal/rabbitmq"
	"campus-market/internal/repositories"
	"campus-market/internal/telemetry"
	"campus-market/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and gRPC health servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.String(config.KeyHTTPAddr, ":8083", "HTTP listen address")
	flags.String(config.KeyGRPCAddr, ":9083", "gRPC health listen address")
	flags.String(config.KeyFeedMode, config.FeedLocal, "Change feed source: local or postgres")
	flags.String(config.KeyBroker, config.BrokerRabbitMQ, "Event broker: rabbitmq, kafka or none")
	flags.Bool(config.KeyDebugRoutes, false, "Expose /debug routes")
	bindLocal(serveCmd, config.KeyHTTPAddr, config.KeyGRPCAddr, config.KeyFeedMode, config.KeyBroker, config.KeyDebugRoutes)
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := observability.NewLogger(cfg.AppEnv)
	slog.SetDefault(logger)

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.AppEnv, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", "err", err)
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "err", err)
		}
	}()

	database, err := db.Connect(ctx, cfg.DBDSN, db.Options{
		MaxOpenConns:    cfg.DBMaxOpen,
		MaxIdleConns:    cfg.DBMaxOpen / 2,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer database.Close()

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	listingRepo := repositories.NewListingRepo(database)

	hub := ws.NewHub()

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()
	emitter := telemetry.NewAuditEmitter(publisher, serviceName, cfg.AppEnv, logger)

	var notifier chat.Notifier = hub
	if cfg.FeedMode == config.FeedPostgres {
		notifier = startedOnly{hub: hub}
		listener := feed.NewPGListener(cfg.DBDSN, messageRepo, convRepo, hub, logger)
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Error("change feed stopped", "err", err)
			}
		}()
	}

	engine := chat.NewService(convRepo, messageRepo, listingRepo, chat.Options{
		Notifier: notifier,
		Events:   emitter,
		Logger:   logger,
		Locker:   repositories.NewAdvisoryLocker(database),
	})

	marks, closeMarks, err := openReadMarks(ctx, cfg.ReadMarksPath, logger)
	if err != nil {
		return err
	}
	defer closeMarks()
	inboxModel := inbox.NewModel(convRepo, marks)

	router := newRouter(cfg, database, logger)
	api := router.Group("/", middleware.Identity())
	handlers.NewConversationHandler(engine, inboxModel, logger).Register(api)
	api.GET("/ws/conversations/:id", ws.NewConversationWebSocketHandler(hub, engine, messageRepo, inboxModel, emitter, logger).Handle)
	api.GET("/ws/inbox", ws.NewInboxWebSocketHandler(hub, inboxModel, emitter, logger).Handle)
	handlers.RegisterDebugRoutes(api, emitter, hub, cfg.DebugRoutes)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	health := grpcserver.New(database, logger)
	go health.Watch(ctx)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- health.Serve(grpcLis)
	}()
	go func() {
		logger.Info("http server starting", "addr", cfg.HTTPAddr, "env", cfg.AppEnv, "feed_mode", cfg.FeedMode, "broker", cfg.Broker)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		if err != nil {
			logger.Error("server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	health.Stop()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown failed", "err", shutdownErr)
	}
	return err
}

func newRouter(cfg config.Config, database *sqlx.DB, logger *slog.Logger) *gin.Engine {
	if cfg.AppEnv != "dev" && cfg.AppEnv != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.Logger(logger),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/livez", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func newPublisher(cfg config.Config, logger *slog.Logger) (telemetry.Publisher, error) {
	switch cfg.Broker {
	case config.BrokerKafka:
		sc := sarama.NewConfig()
		sc.ClientID = serviceName
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, sc)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		logger.Info("kafka publisher ready", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return producer, nil
	case config.BrokerNone:
		return rabbitmq.NewNoop("broker disabled", logger), nil
	default:
		return rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger), nil
	}
}

func openReadMarks(ctx context.Context, path string, logger *slog.Logger) (inbox.ReadMarks, func(), error) {
	if path == "" {
		logger.Info("read marks kept in memory")
		return inbox.NewMemoryStore(), func() {}, nil
	}
	store, err := inbox.OpenSQLiteStore(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open read marks: %w", err)
	}
	return store, func() { store.Close() }, nil
}

// startedOnly forwards conversation starts to the local hub. Messages reach
// the hub through the Postgres change feed instead.
type startedOnly struct {
	hub *ws.Hub
}

func (s startedOnly) MessageCreated(models.Conversation, models.Message) {}

func (s startedOnly) ConversationStarted(conv models.Conversation) {
	s.hub.ConversationStarted(conv)
}
