// Package main provides the recording studio client entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cantovox/internal/app/progress"
	"github.com/osa030/cantovox/internal/app/session"
	"github.com/osa030/cantovox/internal/app/session/state"
	"github.com/osa030/cantovox/internal/infra/config"
	"github.com/osa030/cantovox/internal/infra/logger"
	"github.com/osa030/cantovox/internal/infra/voiceapi"
	"github.com/osa030/cantovox/internal/ui/studio"
)

var (
	app        = kingpin.New("cantovox-studio", "Cantonese voice sample recording studio")
	configPath = app.Flag("config", "Path to config file").Default("config/studio.yaml").String()
	backendURL = app.Flag("backend", "Backend URL (overrides config)").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file").String()

	tuiCmd = app.Command("tui", "Interactive recording studio (default)").Default()

	// auto command
	autoCmd       = app.Command("auto", "Record one sample and train a model without interaction")
	autoStopAfter = autoCmd.Flag("stop-after", "Stop recording after this long (0 lets the capture run its full length)").Default("0s").Duration()
	autoNoTrain   = autoCmd.Flag("no-train", "Skip training after capture").Bool()

	// models command
	modelsCmd  = app.Command("models", "List trained voice models")
	modelsUser = modelsCmd.Flag("user", "User ID whose models are listed").Default("1").Int64()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// The TUI owns the terminal, so it always logs to a file.
	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if command == tuiCmd.FullCommand() {
		loggerConfig.Output = "file"
		loggerConfig.File = "studio.log"
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

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *backendURL != "" {
		cfg.Backend.URL = *backendURL
	}

	if err := run(command, cfg); err != nil {
		zlog.Error().Msgf("Studio error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the controller and executes the command. Using a separate
// function ensures the controller is closed on every exit path.
func run(command string, cfg *config.Config) error {
	client := voiceapi.New(voiceapi.Config{
		BaseURL: cfg.Backend.URL,
		Token:   cfg.Backend.Token,
	})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if command == modelsCmd.FullCommand() {
		return runModels(ctx, client, *modelsUser)
	}

	subscriber := progress.NewSubscriber(client, cfg.Session.ProgressTopic, progress.NewLogSink(cfg.Session.ProgressLogPerSec))
	controller := session.NewController(client, subscriber, session.Config{
		TickInterval: cfg.Session.TickInterval(),
	})

	zlog.Info().Msgf("Connecting to backend: url=%s", cfg.Backend.URL)
	if err := controller.Open(ctx); err != nil {
		// progress is observation only; the session works without it
		zlog.Warn().Msgf("Progress events unavailable: %v", err)
	}
	defer func() {
		if err := controller.Close(); err != nil {
			zlog.Warn().Msgf("Failed to close session: %v", err)
		}
		controller.Wait()
	}()

	switch command {
	case autoCmd.FullCommand():
		return runAuto(ctx, controller, *autoStopAfter, !*autoNoTrain)
	default:
		_, err := tea.NewProgram(studio.New(controller, subscriber), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// runModels prints the models trained for userID.
func runModels(ctx context.Context, client *voiceapi.Client, userID int64) error {
	models, err := client.ListModels(ctx, userID)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Printf("No models for user %d\n", userID)
		return nil
	}
	for _, m := range models {
		fmt.Printf("%s  %s  %s  %s  %s\n", m.Handle, m.Dialect, m.Status, m.TrainedAt.Local().Format(time.DateTime), m.Audio)
	}
	return nil
}

// runAuto records one sample and optionally trains a model from it.
func runAuto(ctx context.Context, controller *session.Controller, stopAfter time.Duration, train bool) error {
	if err := controller.BeginRecording(); err != nil {
		return err
	}
	fmt.Println("Recording...")

	if stopAfter > 0 {
		select {
		case <-time.After(stopAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
		if controller.Snapshot().Phase == state.PhaseRecording {
			if err := controller.StopRecording(); err != nil {
				return err
			}
			fmt.Println("Stopping...")
		}
	}

	snap, err := waitFor(ctx, controller, func(s state.Snapshot) bool {
		return s.Phase != state.PhaseRecording
	})
	if err != nil {
		return err
	}
	printSnapshot(snap)
	if snap.Phase == state.PhaseFailed {
		return errors.Newf("recording failed: %s", snap.ErrorDetail)
	}
	if !train || !snap.CanTrain() {
		return nil
	}

	if err := controller.TrainModel(); err != nil {
		return err
	}
	fmt.Println("Training...")
	snap, err = waitFor(ctx, controller, func(s state.Snapshot) bool {
		return s.Phase != state.PhaseTraining
	})
	if err != nil {
		return err
	}
	printSnapshot(snap)
	if snap.Phase == state.PhaseFailed {
		return errors.Newf("training failed: %s", snap.ErrorDetail)
	}
	return nil
}

// waitFor blocks until done reports true for the current snapshot.
// Updates may be dropped, so the snapshot is also polled.
func waitFor(ctx context.Context, controller *session.Controller, done func(state.Snapshot) bool) (state.Snapshot, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if snap := controller.Snapshot(); done(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return controller.Snapshot(), ctx.Err()
		case <-controller.Updates():
		case <-ticker.C:
		}
	}
}

func printSnapshot(s state.Snapshot) {
	fmt.Printf("Phase: %s\n", s.Phase)
	if s.AudioHandle != "" {
		fmt.Printf("  Sample: %s\n", s.AudioHandle)
	}
	if s.ModelHandle != "" {
		fmt.Printf("  Model: %s\n", s.ModelHandle)
	}
	if s.ErrorDetail != "" {
		fmt.Printf("  Error: %s (%s)\n", s.ErrorDetail, s.Failure)
	}
}
