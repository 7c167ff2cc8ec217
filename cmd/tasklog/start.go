package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/tasklog/internal/api"
	"github.com/mattjoyce/tasklog/internal/audit"
	"github.com/mattjoyce/tasklog/internal/auth"
	"github.com/mattjoyce/tasklog/internal/config"
	"github.com/mattjoyce/tasklog/internal/events"
	"github.com/mattjoyce/tasklog/internal/lock"
	"github.com/mattjoyce/tasklog/internal/log"
	"github.com/mattjoyce/tasklog/internal/logclient"
	"github.com/mattjoyce/tasklog/internal/pool"
	"github.com/mattjoyce/tasklog/internal/processor"
	"github.com/mattjoyce/tasklog/internal/storage"
	"github.com/mattjoyce/tasklog/internal/transport"
)

const auditPruneInterval = time.Hour

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("tasklog starting", "version", version, "name", cfg.Service.Name)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", cfg.Service.LockPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("tasklog stopped")
	return 0
}

// serve runs the command server, and the API when enabled, until ctx ends.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := events.NewHub(256)
	opts := []processor.Option{processor.WithRecorder(hub)}

	var store *audit.Store
	if cfg.Audit.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit database %s: %w", cfg.Audit.Path, err)
		}
		defer db.Close()
		logger.Info("audit database opened", "path", cfg.Audit.Path)

		store = audit.NewStore(db)
		opts = append(opts, processor.WithRecorder(store))
		go pruneLoop(ctx, store, cfg.Audit.Retention, logger)
	}

	codec, err := transport.NewCodec(cfg.Server.MaxFrameSize, cfg.Server.CompressThreshold)
	if err != nil {
		return err
	}
	defer codec.Close()

	// A decoded body may never exceed the frame limit, compressed or not.
	opts = append(opts, processor.WithMaxBody(codec.MaxFrameSize))

	wp := pool.New(pool.DefaultSize(), 4*pool.DefaultSize())
	defer wp.Close()
	proc := processor.New(wp, opts...)
	logger.Info("worker pool ready", "size", wp.Size())

	srv := transport.NewServer(codec)
	srv.Register(proc, proc.Types()...)

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(ctx, cfg.Server.Listen); err != nil {
			errCh <- fmt.Errorf("command server: %w", err)
			return
		}
		errCh <- nil
	}()
	running := 1

	if cfg.API.Enabled {
		clients := logclient.NewPool(logclient.TransportDialer(codec))
		defer clients.Close()

		var reader api.AuditReader
		if store != nil {
			reader = store
		}
		apiServer := api.New(apiConfig(cfg), clients, reader, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
				return
			}
			errCh <- nil
		}()
		running++
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("tasklog running (press Ctrl+C to stop)", "listen", cfg.Server.Listen)

	var first error
	for i := 0; i < running; i++ {
		err := <-errCh
		if err != nil && first == nil {
			first = err
			// One component failing takes the others down.
			cancel()
		}
	}
	return first
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.Config{
		Listen:      cfg.API.Listen,
		APIKey:      cfg.API.Auth.APIKey,
		Tokens:      tokens,
		Timeout:     cfg.Client.Timeout,
		CORSOrigins: cfg.API.CORSOrigins,
	}
}

func pruneLoop(ctx context.Context, store *audit.Store, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	prune := func() {
		n, err := store.Prune(ctx, retention)
		if err != nil {
			logger.Warn("audit prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("audit entries pruned", "count", n, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
