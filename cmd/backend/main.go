// Package main provides the simulated capture backend entry point.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/cantovox/internal/api/connect"
	voicev1 "github.com/osa030/cantovox/internal/api/voicev1"
	"github.com/osa030/cantovox/internal/app/backend"
	"github.com/osa030/cantovox/internal/app/notification"
	"github.com/osa030/cantovox/internal/infra/config"
	"github.com/osa030/cantovox/internal/infra/logger"
)

var (
	app        = kingpin.New("cantovox-backend", "Simulated voice capture and training backend")
	configPath = app.Flag("config", "Path to config file").Default("config/backend.yaml").String()
	addr       = app.Flag("addr", "Listen address (overrides config)").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	notifier := notification.NewManager()
	defer notifier.Close()

	svc := backend.NewService(backend.Config{
		RecordingsDir:    cfg.Server.RecordingsDir,
		CaptureSpeedup:   cfg.Server.CaptureSpeedup,
		StopDelay:        cfg.Server.StopDelay(),
		TrainingDelay:    cfg.Server.TrainingDelay(),
		ProgressInterval: cfg.Server.ProgressInterval(),
		FailCapture:      cfg.Server.FailCapture,
		FailTraining:     cfg.Server.FailTraining,
		Topic:            cfg.Session.ProgressTopic,
	}, notifier)

	// Closed on shutdown to end open progress streams
	done := make(chan struct{})
	captureService := apiconnect.NewCaptureService(svc, notifier, done)

	if cfg.Server.Token == "" {
		zlog.Warn().Msg("No API token configured, RPCs are unauthenticated")
	}
	mux := http.NewServeMux()
	path, handler := voicev1.NewCaptureServiceHandler(
		captureService,
		connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.Token)),
	)
	mux.Handle(path, handler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", cfg.Server.Addr)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s recordings_dir=%s speedup=%v", listener.Addr(), cfg.Server.RecordingsDir, cfg.Server.CaptureSpeedup)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		close(done)
		return errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End progress streams first so Shutdown does not wait on them
	close(done)

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}
	zlog.Info().Msgf("Server stopped: recordings=%d", svc.Recordings().Count())

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
