package state

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/cantovox/internal/domain/voice"
)

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Phase          Phase
	Stopping       bool // end-capture in flight; phase is still Recording
	AudioHandle    voice.AudioHandle
	ModelHandle    voice.ModelHandle
	ErrorDetail    string
	Failure        FailureKind
	ElapsedSeconds int
	Generation     Token
}

// Busy reports whether an operation is in flight that blocks new intents.
func (s Snapshot) Busy() bool {
	return s.Phase == PhaseTraining || s.Stopping
}

// CanRecord reports whether a new recording may begin.
func (s Snapshot) CanRecord() bool {
	switch s.Phase {
	case PhaseIdle, PhaseCaptured, PhaseCompleted, PhaseFailed:
		return true
	default:
		return false
	}
}

// CanStop reports whether the active recording may be stopped.
func (s Snapshot) CanStop() bool {
	return s.Phase == PhaseRecording && !s.Stopping
}

// CanTrain reports whether training may begin.
func (s Snapshot) CanTrain() bool {
	return s.AudioHandle != "" && (s.Phase == PhaseCaptured || s.Phase == PhaseCompleted)
}

// CheckInvariants returns an error describing the first violated invariant.
func (s Snapshot) CheckInvariants() error {
	if !s.Phase.Valid() {
		return errors.Newf("invalid phase %d", int(s.Phase))
	}
	if s.AudioHandle != "" {
		switch s.Phase {
		case PhaseCaptured, PhaseTraining, PhaseCompleted:
		default:
			return errors.Newf("audio handle set in phase %s", s.Phase)
		}
	}
	if s.ModelHandle != "" {
		if s.Phase != PhaseCompleted {
			return errors.Newf("model handle set in phase %s", s.Phase)
		}
		if s.AudioHandle == "" {
			return errors.New("model handle set without audio handle")
		}
	}
	if s.Phase == PhaseCaptured && s.AudioHandle == "" {
		return errors.New("captured phase without audio handle")
	}
	if s.Phase == PhaseCompleted && s.ModelHandle == "" {
		return errors.New("completed phase without model handle")
	}
	if (s.ErrorDetail != "") != (s.Phase == PhaseFailed) {
		return errors.Newf("error detail %q inconsistent with phase %s", s.ErrorDetail, s.Phase)
	}
	if (s.Failure != FailureNone) != (s.Phase == PhaseFailed) {
		return errors.Newf("failure kind %s inconsistent with phase %s", s.Failure, s.Phase)
	}
	if s.ElapsedSeconds < 0 {
		return errors.Newf("negative elapsed seconds %d", s.ElapsedSeconds)
	}
	if s.Phase != PhaseRecording && s.ElapsedSeconds != 0 {
		return errors.Newf("elapsed seconds %d outside recording", s.ElapsedSeconds)
	}
	if s.Stopping && s.Phase != PhaseRecording {
		return errors.Newf("stopping flag set in phase %s", s.Phase)
	}
	return nil
}
