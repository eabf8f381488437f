// Package voice provides the voice-sample domain types shared by the client and the backend.
package voice

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// Fixed capture parameters. No other duration or format is accepted.
const (
	CaptureDuration = 30 * time.Second
	CaptureFormat   = "wav"
)

// Fixed training parameters.
const (
	PlaceholderUserID int64 = 1
	DialectCantonese        = "cantonese"
)

// ProgressTopic is the default event topic for in-flight progress.
const ProgressTopic = "recording-progress"

// Progress stages and statuses carried in event payloads.
const (
	StageCapture  = "capture"
	StageTraining = "training"

	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ModelStatusActive marks a trained model available for use.
const ModelStatusActive = "active"

// AudioHandle references a captured sample owned by the backend.
type AudioHandle string

// ModelHandle references a trained voice model owned by the backend.
type ModelHandle string

// CaptureOptions describes a begin-capture request.
type CaptureOptions struct {
	Duration time.Duration
	Format   string
}

// DefaultCaptureOptions returns the only supported capture configuration.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		Duration: CaptureDuration,
		Format:   CaptureFormat,
	}
}

// TrainingOptions describes a begin-training request.
type TrainingOptions struct {
	Audio   AudioHandle
	UserID  int64
	Dialect string
}

// NewTrainingOptions returns training options for the given sample with the fixed
// identity and dialect.
func NewTrainingOptions(audio AudioHandle) TrainingOptions {
	return TrainingOptions{
		Audio:   audio,
		UserID:  PlaceholderUserID,
		Dialect: DialectCantonese,
	}
}

// ProgressEvent is a backend-originated progress notification.
// Payload is opaque to the session controller.
type ProgressEvent struct {
	Topic      string
	SequenceNo uint64
	Payload    map[string]any
	ReceivedAt time.Time
}

// ModelInfo describes a model trained by the backend.
type ModelInfo struct {
	Handle    ModelHandle
	Audio     AudioHandle
	UserID    int64
	Dialect   string
	Status    string
	TrainedAt time.Time
}

// ProgressReport is the decoded form of a progress payload.
// Result is set on completion and Error on failure.
type ProgressReport struct {
	TaskID  string  `mapstructure:"task_id"`
	Stage   string  `mapstructure:"stage"`
	Status  string  `mapstructure:"status"`
	Percent float64 `mapstructure:"percent"`
	Message string  `mapstructure:"message"`
	Result  string  `mapstructure:"result"`
	Error   string  `mapstructure:"error"`
}

// Done reports whether the event ends its task.
func (r ProgressReport) Done() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Report decodes the known progress fields from the payload.
// Unknown fields are ignored; an undecodable payload yields a zero report.
func (e ProgressEvent) Report() ProgressReport {
	var r ProgressReport
	if len(e.Payload) == 0 {
		return r
	}
	cfg := &mapstructure.DecoderConfig{
		Result:           &r,
		WeaklyTypedInput: true,
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return ProgressReport{}
	}
	if err := dec.Decode(e.Payload); err != nil {
		return ProgressReport{}
	}
	return r
}
