package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/routebeacon/bmp-collector/internal/collector"
	"github.com/routebeacon/bmp-collector/internal/config"
	"github.com/routebeacon/bmp-collector/internal/httpapi"
	"github.com/routebeacon/bmp-collector/internal/listener"
	"github.com/routebeacon/bmp-collector/internal/metrics"
	"github.com/routebeacon/bmp-collector/internal/publisher"
	"github.com/routebeacon/bmp-collector/internal/rib"
	"github.com/routebeacon/bmp-collector/internal/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "snapshot-inspect":
		runSnapshotInspect(os.Args[2:])
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bmp-collector <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve             Start the BMP collector service")
	fmt.Println("  snapshot-inspect  Print a summary of an on-disk RIB snapshot")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting bmp-collector",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.String("bmp_listen", cfg.BMP.ListenAddress),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view := rib.NewView()

	var snap *snapshot.Snapshotter
	if cfg.Snapshot.Enable {
		snap = snapshot.New(cfg.Snapshot.Path, logger.Named("snapshot"))
		if err := snap.Load(view); err != nil {
			logger.Fatal("failed to load RIB snapshot", zap.Error(err))
		}
	}
	view.MarkReady()

	emit := make(chan collector.Update, cfg.Ingest.ChannelBufferSize)

	pub, err := publisher.New(cfg.Kafka, logger.Named("publisher"))
	if err != nil {
		logger.Fatal("failed to create Kafka publisher", zap.Error(err))
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() { defer wg.Done(); pub.Run(ctx, emit) }()

	bmpListener := listener.New(cfg.BMP.ListenAddress, view, emit, logger.Named("bmp"), cfg.BMP.MaxMessageBytes)
	listenerDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bmpListener.Run(listenerDone); err != nil {
			if !bmpListener.Bound() {
				logger.Fatal("failed to bind BMP listener", zap.Error(err))
			}
			logger.Error("bmp listener stopped", zap.Error(err))
		}
	}()

	var snapDone chan struct{}
	if snap != nil {
		snapDone = make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap.Run(snapDone, view, time.Duration(cfg.Snapshot.IntervalSeconds)*time.Second)
		}()
	}

	httpServer := httpapi.NewServer(cfg.Service.HTTPListen, view, bmpListener, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("bmp-collector started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	close(listenerDone)
	if snap != nil {
		close(snapDone)
		if err := snap.Dump(view); err != nil {
			logger.Error("final snapshot dump failed", zap.Error(err))
		}
	}
	cancel()
	close(emit)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all subsystems stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("bmp-collector stopped")
}

