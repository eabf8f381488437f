// Package state provides session state management.
package state

// Phase represents the session lifecycle phase.
type Phase int

const (
	PhaseIdle      Phase = iota // No session in progress
	PhaseRecording              // Capture requested or running
	PhaseCaptured               // Sample captured, ready for training
	PhaseTraining               // Training in progress
	PhaseCompleted              // Model trained
	PhaseFailed                 // Last operation failed
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseIdle,
	PhaseRecording,
	PhaseCaptured,
	PhaseTraining,
	PhaseCompleted,
	PhaseFailed,
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRecording:
		return "recording"
	case PhaseCaptured:
		return "captured"
	case PhaseTraining:
		return "training"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	return p >= PhaseIdle && p <= PhaseFailed
}

// FailureKind identifies which operation produced a failure.
type FailureKind int

const (
	FailureNone         FailureKind = iota // No failure
	FailureCaptureStart                    // begin-capture failed
	FailureCaptureStop                     // end-capture failed
	FailureTraining                        // begin-training failed
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureCaptureStart:
		return "capture_start"
	case FailureCaptureStop:
		return "capture_stop"
	case FailureTraining:
		return "training"
	default:
		return "unknown"
	}
}

// Token is the generation marker handed out when an intent starts.
// Outcomes carrying an outdated token are discarded.
type Token uint64
