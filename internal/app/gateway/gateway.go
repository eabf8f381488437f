// Package gateway defines the remote commands the session controller issues.
package gateway

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/cantovox/internal/domain/voice"
)

// Op names a remote command.
type Op string

const (
	OpBeginCapture  Op = "begin-capture"
	OpEndCapture    Op = "end-capture"
	OpBeginTraining Op = "begin-training"
	OpListModels    Op = "list-models"
)

// Gateway issues the backend commands. Each call is a single attempt with no
// retry and no timeout of its own; it resolves to a handle or a failure.
type Gateway interface {
	BeginCapture(ctx context.Context, opts voice.CaptureOptions) (voice.AudioHandle, error)
	EndCapture(ctx context.Context) error
	BeginTraining(ctx context.Context, opts voice.TrainingOptions) (voice.ModelHandle, error)
}

// Failure is a backend rejection carrying its descriptive reason.
type Failure struct {
	Op     Op
	Reason string
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Reason == "" {
		return string(f.Op) + " failed"
	}
	return string(f.Op) + ": " + f.Reason
}

// NewFailure creates a Failure for op.
func NewFailure(op Op, reason string) error {
	return &Failure{Op: op, Reason: reason}
}

// Reason extracts the human-readable reason from err.
// It returns an empty string when err carries none.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce.Message()
	}
	return err.Error()
}
