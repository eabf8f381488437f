// Package backend simulates the processing backend: sample capture and voice
// model training, with progress published on the event topic.
package backend

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cantovox/internal/domain/voice"
)

var (
	ErrCaptureInProgress     = errors.New("a recording is already in progress")
	ErrNoActiveRecording     = errors.New("no active recording")
	ErrUnsupportedFormat     = errors.New("unsupported capture format")
	ErrUnsupportedDuration   = errors.New("unsupported capture duration")
	ErrUnsupportedDialect    = errors.New("unsupported dialect")
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	ErrTrainingFailed        = errors.New("voice training failed")
)

// Publisher publishes progress payloads to a topic.
type Publisher interface {
	Publish(topic string, payload map[string]any) int
}

// Config holds simulator configuration.
type Config struct {
	RecordingsDir    string
	CaptureSpeedup   float64       // Capture runs for duration/speedup
	StopDelay        time.Duration // Delay before end-capture acknowledges
	TrainingDelay    time.Duration // Simulated training time
	ProgressInterval time.Duration // Period of progress events
	FailCapture      bool          // Reject every begin-capture
	FailTraining     bool          // Reject every begin-training
	Topic            string
}

// activeCapture is the capture currently running.
type activeCapture struct {
	handle  voice.AudioHandle
	format  string
	started time.Time
	ended   chan struct{}
	endOnce sync.Once
}

func (a *activeCapture) end() {
	a.endOnce.Do(func() { close(a.ended) })
}

// Service is the simulated backend.
type Service struct {
	cfg        Config
	publisher  Publisher
	recordings *RecordingRegistry
	now        func() time.Time

	mu     sync.Mutex
	active *activeCapture
}

// NewService creates a simulated backend.
func NewService(cfg Config, publisher Publisher) *Service {
	if cfg.CaptureSpeedup <= 0 {
		cfg.CaptureSpeedup = 1
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.Topic == "" {
		cfg.Topic = voice.ProgressTopic
	}
	return &Service{
		cfg:        cfg,
		publisher:  publisher,
		recordings: NewRecordingRegistry(),
		now:        time.Now,
	}
}

// Recordings returns the recording registry.
func (s *Service) Recordings() *RecordingRegistry {
	return s.recordings
}

// BeginCapture records a sample. It returns once the fixed duration has
// elapsed or EndCapture is called, whichever comes first.
func (s *Service) BeginCapture(ctx context.Context, opts voice.CaptureOptions) (voice.AudioHandle, error) {
	if opts.Format != voice.CaptureFormat {
		return "", errors.Mark(errors.Newf("unsupported capture format %q", opts.Format), ErrUnsupportedFormat)
	}
	if opts.Duration != voice.CaptureDuration {
		return "", errors.Mark(errors.Newf("unsupported capture duration %s", opts.Duration), ErrUnsupportedDuration)
	}
	task := uuid.NewString()
	if s.cfg.FailCapture {
		s.fail(task, voice.StageCapture, ErrMicrophoneUnavailable)
		return "", ErrMicrophoneUnavailable
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return "", ErrCaptureInProgress
	}
	capture := &activeCapture{
		handle:  s.newHandleLocked(opts.Format),
		format:  opts.Format,
		started: s.now(),
		ended:   make(chan struct{}),
	}
	s.active = capture
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.active == capture {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	zlog.Info().Msgf("capture started: handle=%s task_id=%s", capture.handle, task)

	length := time.Duration(float64(opts.Duration) / s.cfg.CaptureSpeedup)
	if err := s.runWithProgress(ctx, task, voice.StageCapture, "recording", length, capture.ended); err != nil {
		zlog.Warn().Msgf("capture aborted: handle=%s err=%v", capture.handle, err)
		s.fail(task, voice.StageCapture, err)
		return "", err
	}

	captured := s.now().Sub(capture.started)
	s.recordings.Add(Recording{
		Handle:     capture.handle,
		Format:     capture.format,
		Duration:   captured,
		CapturedAt: s.now(),
	})
	s.complete(task, voice.StageCapture, "capture complete", string(capture.handle))
	zlog.Info().Msgf("capture finished: handle=%s duration=%v", capture.handle, captured)
	return capture.handle, nil
}

// EndCapture ends the active capture early. The acknowledgement is held for
// StopDelay so the pending BeginCapture reply reaches the client first; a
// client that settles on the acknowledgement alone would otherwise drop the
// sample.
func (s *Service) EndCapture(ctx context.Context) error {
	s.mu.Lock()
	capture := s.active
	s.mu.Unlock()

	if capture == nil {
		return ErrNoActiveRecording
	}
	capture.end()
	zlog.Info().Msgf("capture end requested: handle=%s", capture.handle)

	return sleep(ctx, s.cfg.StopDelay)
}

// BeginTraining trains a voice model from a registered sample.
func (s *Service) BeginTraining(ctx context.Context, opts voice.TrainingOptions) (voice.ModelHandle, error) {
	if opts.Dialect != voice.DialectCantonese {
		return "", errors.Mark(errors.Newf("unsupported dialect %q", opts.Dialect), ErrUnsupportedDialect)
	}
	if !s.recordings.Has(opts.Audio) {
		return "", errors.Mark(errors.Newf("unknown audio handle %q", opts.Audio), ErrUnknownRecording)
	}

	task := uuid.NewString()
	zlog.Info().Msgf("training started: audio=%s user_id=%d dialect=%s task_id=%s", opts.Audio, opts.UserID, opts.Dialect, task)
	if err := s.runWithProgress(ctx, task, voice.StageTraining, "training voice model", s.cfg.TrainingDelay, nil); err != nil {
		s.fail(task, voice.StageTraining, err)
		return "", err
	}
	if s.cfg.FailTraining {
		s.fail(task, voice.StageTraining, ErrTrainingFailed)
		return "", ErrTrainingFailed
	}

	trainedAt := s.now()
	model := voice.ModelHandle(fmt.Sprintf("%s_model_%d_%d", opts.Dialect, opts.UserID, trainedAt.Unix()))
	err := s.recordings.AttachModel(voice.ModelInfo{
		Handle:    model,
		Audio:     opts.Audio,
		UserID:    opts.UserID,
		Dialect:   opts.Dialect,
		Status:    voice.ModelStatusActive,
		TrainedAt: trainedAt,
	})
	if err != nil {
		s.fail(task, voice.StageTraining, err)
		return "", err
	}
	s.complete(task, voice.StageTraining, "training complete", string(model))
	zlog.Info().Msgf("training finished: model=%s", model)
	return model, nil
}

// ListModels returns the models trained for userID, oldest first.
func (s *Service) ListModels(ctx context.Context, userID int64) ([]voice.ModelInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.recordings.ModelsFor(userID), nil
}

// runWithProgress waits for length, publishing progress periodically.
// A nil or closed early channel ends the wait without error.
func (s *Service) runWithProgress(ctx context.Context, task, stage, message string, length time.Duration, early <-chan struct{}) error {
	start := s.now()
	deadline := time.NewTimer(length)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.ProgressInterval)
	defer ticker.Stop()

	s.publish(task, stage, voice.StatusProcessing, 0, message, nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-early:
			return nil
		case <-deadline.C:
			return nil
		case <-ticker.C:
			percent := 100.0
			if length > 0 {
				percent = min(100, float64(s.now().Sub(start))/float64(length)*100)
			}
			s.publish(task, stage, voice.StatusProcessing, percent, message, nil)
		}
	}
}

func (s *Service) complete(task, stage, message, result string) {
	s.publish(task, stage, voice.StatusCompleted, 100, message, map[string]any{"result": result})
}

func (s *Service) fail(task, stage string, err error) {
	s.publish(task, stage, voice.StatusFailed, 0, stage+" failed", map[string]any{"error": err.Error()})
}

func (s *Service) publish(task, stage, status string, percent float64, message string, extra map[string]any) {
	if s.publisher == nil {
		return
	}
	payload := map[string]any{
		"task_id": task,
		"stage":   stage,
		"status":  status,
		"percent": percent,
		"message": message,
	}
	maps.Copy(payload, extra)
	s.publisher.Publish(s.cfg.Topic, payload)
}

// newHandleLocked returns a unique sample path. Must be called with s.mu held.
func (s *Service) newHandleLocked(format string) voice.AudioHandle {
	stamp := s.now().Format("20060102_150405")
	name := fmt.Sprintf("recording_%s.%s", stamp, format)
	handle := voice.AudioHandle(filepath.Join(s.cfg.RecordingsDir, name))
	for i := 2; s.recordings.Has(handle); i++ {
		name = fmt.Sprintf("recording_%s_%d.%s", stamp, i, format)
		handle = voice.AudioHandle(filepath.Join(s.cfg.RecordingsDir, name))
	}
	return handle
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
