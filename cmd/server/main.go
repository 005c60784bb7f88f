package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scanquest/scanquest-server-go/internal/cache"
	"github.com/scanquest/scanquest-server-go/internal/catalog"
	"github.com/scanquest/scanquest-server-go/internal/config"
	"github.com/scanquest/scanquest-server-go/internal/fallback"
	"github.com/scanquest/scanquest-server-go/internal/game/events"
	"github.com/scanquest/scanquest-server-go/internal/game/lifecycle"
	"github.com/scanquest/scanquest-server-go/internal/game/resolve"
	"github.com/scanquest/scanquest-server-go/internal/server"
	"github.com/scanquest/scanquest-server-go/internal/session"
	"github.com/scanquest/scanquest-server-go/internal/store"
	"github.com/scanquest/scanquest-server-go/internal/store/httpstore"
	"github.com/scanquest/scanquest-server-go/internal/store/memstore"
	"github.com/scanquest/scanquest-server-go/internal/store/pgstore"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting scanquest server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if cfg.Auth.AdminPasswordHash == "" {
		logger.Warn("admin password hash not configured; admin access disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Remote document store
	st, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()
	logger.Info("store initialized", zap.String("driver", cfg.Store.Driver))

	// Durable local cache
	var localCache cache.Cache = cache.Nop{}
	if cfg.Cache.Path != "" {
		sqlite, err := cache.OpenSQLite(cfg.Cache.Path)
		if err != nil {
			logger.Fatal("failed to open cache", zap.String("path", cfg.Cache.Path), zap.Error(err))
		}
		defer sqlite.Close()
		localCache = sqlite
		logger.Info("cache initialized", zap.String("path", cfg.Cache.Path))
	}

	// Master catalog
	seed, err := catalog.LoadSeed(cfg.Catalog.SeedPath)
	if err != nil {
		logger.Fatal("failed to load seed catalog", zap.Error(err))
	}
	cat := catalog.New(st, localCache, logger.Named("catalog"))
	source := cat.Load(ctx, seed)
	logger.Info("catalog loaded", zap.String("source", string(source)), zap.Int("cards", cat.Snapshot().Len()))
	go cat.Run(ctx, cfg.Catalog.RefreshInterval)

	// Unknown-code interpreter
	var interpreter fallback.Interpreter
	if cfg.Fallback.Provider == config.FallbackOpenAI {
		oa, err := fallback.NewOpenAI(fallback.OpenAIConfig{
			APIKey:  cfg.Fallback.APIKey,
			Model:   cfg.Fallback.Model,
			BaseURL: cfg.Fallback.BaseURL,
			Timeout: cfg.Fallback.Timeout,
		}, logger.Named("fallback"))
		if err != nil {
			logger.Warn("openai interpreter disabled", zap.Error(err))
		} else {
			interpreter = fallback.NewMemo(oa)
			logger.Info("openai interpreter initialized", zap.String("model", cfg.Fallback.Model))
		}
	}

	bus := events.NewBus(logger.Named("events"))
	pipeline := resolve.New(resolve.Config{
		Catalog:     cat,
		Store:       st,
		AdminScope:  cfg.Store.AdminScope,
		Interpreter: interpreter,
	}, logger.Named("resolve"))
	lc := lifecycle.New(lifecycle.Config{
		Store:     st,
		Cache:     localCache,
		Templates: cat,
		Bus:       bus,
	}, logger.Named("lifecycle"))

	// Initialize session manager
	sessionMgr := session.NewManager(cfg.Server.LeasePeriod, session.Deps{
		Store:     st,
		Cache:     localCache,
		Catalog:   cat,
		Pipeline:  pipeline,
		Lifecycle: lc,
	}, logger.Named("session"))
	logger.Info("session manager initialized",
		zap.Duration("lease_period", cfg.Server.LeasePeriod),
	)
	go sessionMgr.CleanupExpiredSessions(ctx)

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.ChainUnaryInterceptors(
			server.RecoveryInterceptor(logger),
			server.LoggingInterceptor(logger),
			server.SessionValidationInterceptor(sessionMgr, server.PublicMethods()...),
			server.AdminInterceptor(server.AdminMethods()...),
		)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.GRPC.MaxConcurrentStreams)),
	)
	server.NewScanner(sessionMgr, cat, cfg.Auth.AdminPasswordHash, logger.Named("scanner")).Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	// Player-state push
	hub := server.NewHub(sessionMgr, cfg.Server.WebSocket.AllowedOrigins, logger.Named("websocket"))
	hub.Attach(bus)
	go hub.Run(ctx)
	go func() {
		if wsErr := server.StartWebSocketServer(ctx, cfg.Server.WebSocket, hub, logger); wsErr != nil {
			logger.Error("WebSocket server error", zap.Error(wsErr))
		}
	}()

	logger.Info("scanquest server initialized",
		zap.String("version", version),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("websocket_address", cfg.Server.WebSocket.Address),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	healthServer.Shutdown()

	// Flush sessions before the cache closes.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	sessionMgr.CloseAll(flushCtx)
	flushCancel()

	cancel()
	grpcServer.GracefulStop()

	logger.Info("scanquest server stopped")
}

// openStore builds the configured remote store and its closer.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case config.StoreHTTP:
		return httpstore.New(cfg.BaseURL, cfg.Timeout, logger.Named("httpstore")), func() {}, nil
	case config.StorePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, pool, err := pgstore.Connect(connectCtx, cfg.DatabaseURL, logger.Named("pgstore"))
		if err != nil {
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
