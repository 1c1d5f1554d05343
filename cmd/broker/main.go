// cmd/broker/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/corvidstream/broker/internal/auth"
	"github.com/corvidstream/broker/internal/config"
	"github.com/corvidstream/broker/internal/rbac"
	"github.com/corvidstream/broker/internal/retention"
	"github.com/corvidstream/broker/internal/streaming"
	binarytransport "github.com/corvidstream/broker/internal/transport/binary"
	httptransport "github.com/corvidstream/broker/internal/transport/http"
)

func main() {
	configPath := flag.String("config", "broker.yaml", "path to the broker's YAML config file")
	flag.Parse()

	mgr, err := config.NewManager(*configPath, zap.NewNop())
	if err != nil {
		// The logger isn't built yet; config load failures go straight to stderr.
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	cfg := mgr.Current()

	logger := newLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()

	db := openDatabase(cfg.Database.DSN, logger)
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	compressor, err := streaming.NewCompressor(streaming.CompressionAlgorithm(cfg.Live.CompressionAlgorithm), 3)
	if err != nil {
		logger.Fatal("building compressor", zap.Error(err))
	}

	system := streaming.NewSystem(streaming.SystemConfig{
		DataDir: cfg.Storage.DataDir,
		DefaultTopic: streaming.TopicConfig{
			PartitionCount: cfg.Storage.PartitionCount,
			PartitionConfig: streaming.PartitionConfig{
				MaxSegmentSize:       cfg.Live.MaxSegmentSize,
				MaxSegmentAge:        cfg.Live.MaxSegmentAge,
				MaxInFlightBytesPerS: cfg.Live.MaxInFlightBytesPerS,
				CompressionThreshold: cfg.Live.CompressionThreshold,
			},
		},
		CompressionAlg: streaming.CompressionAlgorithm(cfg.Live.CompressionAlgorithm),
	}, compressor, logger)

	if err := system.Start(); err != nil {
		logger.Fatal("reconstructing streams from data directory", zap.Error(err))
	}

	authz := rbac.NewPermissioner()
	authSvc := auth.NewService([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTokenTTL)

	policies := retention.NewPolicyService(db, logger)
	holds := retention.NewHoldService(db, logger)
	retentionLoop := retention.NewLoop(system, policies, holds, cfg.Live.RetentionInterval, logger)

	binaryServer := binarytransport.NewServer(system, authz, authSvc, logger)
	httpServer := httptransport.NewServer(system, authz, authSvc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go retentionLoop.Run(ctx)

	configWatchStop := make(chan struct{})
	go func() {
		if err := mgr.Watch(configWatchStop); err != nil {
			logger.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("binary transport listening", zap.String("addr", cfg.Server.BinaryAddr))
		if err := binaryServer.ListenAndServe(cfg.Server.BinaryAddr); err != nil {
			logger.Error("binary transport stopped", zap.Error(err))
		}
	}()

	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: httpServer}
	go func() {
		logger.Info("http transport listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http transport stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	close(configWatchStop)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http transport shutdown", zap.Error(err))
	}
	if err := system.Shutdown(); err != nil {
		logger.Warn("closing streams", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if l, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = l
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

// openDatabase connects to Postgres when a DSN is configured. A nil
// return is valid: retention runs with every policy/hold lookup a no-op.
func openDatabase(dsn string, logger *zap.Logger) *sql.DB {
	if dsn == "" {
		logger.Info("no database configured, retention policies/holds disabled")
		return nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Warn("connecting to database, running without retention policies", zap.Error(err))
		return nil
	}
	if err := db.Ping(); err != nil {
		logger.Warn("pinging database, running without retention policies", zap.Error(err))
		_ = db.Close()
		return nil
	}
	return db
}
