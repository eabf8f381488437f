package state

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/cantovox/internal/domain/voice"
)

var (
	ErrSessionBusy  = errors.New("session is busy")
	ErrNotRecording = errors.New("no recording in progress")
)

// PhaseObserver is notified of every phase change.
// It is called with the manager lock held and must not call back into the manager.
type PhaseObserver func(token Token, from, to Phase)

// Manager manages session state with thread-safe access.
//
// Every intent that starts a new lineage (a new recording or a reset) advances
// the generation. Outcomes are applied only when they carry the current
// generation and the phase still expects them.
type Manager struct {
	mu sync.RWMutex

	phase       Phase
	stopping    bool
	audio       voice.AudioHandle
	model       voice.ModelHandle
	errorDetail string
	failure     FailureKind
	elapsed     int

	// Handle returned by begin-capture while end-capture was in flight.
	pendingAudio voice.AudioHandle

	generation Token
	observer   PhaseObserver
}

// New creates a new state manager in the idle phase.
func New() *Manager {
	return &Manager{
		phase: PhaseIdle,
	}
}

// SetPhaseObserver registers the phase observer.
func (m *Manager) SetPhaseObserver(o PhaseObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Phase:          m.phase,
		Stopping:       m.stopping,
		AudioHandle:    m.audio,
		ModelHandle:    m.model,
		ErrorDetail:    m.errorDetail,
		Failure:        m.failure,
		ElapsedSeconds: m.elapsed,
		Generation:     m.generation,
	}
}

// GetPhase returns the current session phase.
func (m *Manager) GetPhase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Generation returns the current generation token.
func (m *Manager) Generation() Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// StartRecording discards any prior session and enters the recording phase.
func (m *Manager) StartRecording() (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseIdle, PhaseCaptured, PhaseCompleted, PhaseFailed:
	default:
		return m.generation, errors.Wrapf(ErrSessionBusy, "cannot start recording while %s", m.phase)
	}

	m.generation++
	m.clearLocked()
	m.elapsed = 0
	m.setPhaseLocked(PhaseRecording)
	return m.generation, nil
}

// StartStopping marks the active recording as stopping.
func (m *Manager) StartStopping() (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseRecording {
		return m.generation, errors.Wrapf(ErrNotRecording, "cannot stop while %s", m.phase)
	}
	if m.stopping {
		return m.generation, errors.Wrap(ErrSessionBusy, "stop already in progress")
	}
	m.stopping = true
	return m.generation, nil
}

// StartTraining enters the training phase using the stored sample.
// ok is false when no sample is stored; nothing changes in that case.
func (m *Manager) StartTraining() (token Token, audio voice.AudioHandle, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.audio == "" {
		return m.generation, "", false, nil
	}
	if m.phase == PhaseTraining {
		return m.generation, "", false, errors.Wrap(ErrSessionBusy, "training already in progress")
	}

	m.model = ""
	m.errorDetail = ""
	m.failure = FailureNone
	m.setPhaseLocked(PhaseTraining)
	return m.generation, m.audio, true, nil
}

// Reset returns to idle, discarding handles and any in-flight outcome.
func (m *Manager) Reset() (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseRecording {
		return m.generation, errors.Wrap(ErrSessionBusy, "cannot reset while recording")
	}
	m.generation++
	m.clearLocked()
	m.setPhaseLocked(PhaseIdle)
	return m.generation, nil
}

// Discard invalidates every in-flight outcome and returns to idle regardless of phase.
// It reports the phase that was left.
func (m *Manager) Discard() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.phase
	m.generation++
	m.clearLocked()
	m.setPhaseLocked(PhaseIdle)
	return prev
}

// CompleteCapture applies a successful begin-capture outcome.
func (m *Manager) CompleteCapture(token Token, audio voice.AudioHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.generation || m.phase != PhaseRecording {
		return false
	}
	if m.stopping {
		// end-capture decides where the session settles
		m.pendingAudio = audio
		return true
	}
	m.audio = audio
	m.setPhaseLocked(PhaseCaptured)
	return true
}

// FailCapture applies a failed begin-capture outcome.
// A failure arriving while end-capture is in flight is dropped.
func (m *Manager) FailCapture(token Token, detail string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.generation || m.phase != PhaseRecording || m.stopping {
		return false
	}
	m.failLocked(FailureCaptureStart, detail)
	return true
}

// CompleteStop applies a successful end-capture outcome.
func (m *Manager) CompleteStop(token Token) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.generation || m.phase != PhaseRecording || !m.stopping {
		return false
	}
	audio := m.pendingAudio
	m.stopping = false
	m.pendingAudio = ""
	if audio != "" {
		m.audio = audio
		m.setPhaseLocked(PhaseCaptured)
	} else {
		m.setPhaseLocked(PhaseIdle)
	}
	return true
}

// FailStop applies a failed end-capture outcome. The recording is still over.
func (m *Manager) FailStop(token Token, detail string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.generation || m.phase != PhaseRecording || !m.stopping {
		return false
	}
	m.failLocked(FailureCaptureStop, detail)
	return true
}

// CompleteTraining applies a successful begin-training outcome.
func (m *Manager) CompleteTraining(token Token, model voice.ModelHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.generation || m.phase != PhaseTraining {
		return false
	}
	m.model = model
	m.setPhaseLocked(PhaseCompleted)
	return true
}

// FailTraining applies a failed begin-training outcome.
func (m *Manager) FailTraining(token Token, detail string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.generation || m.phase != PhaseTraining {
		return false
	}
	m.failLocked(FailureTraining, detail)
	return true
}

// SetElapsed records the elapsed recording time reported by the tracker.
func (m *Manager) SetElapsed(token Token, seconds int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.generation || m.phase != PhaseRecording || seconds < 0 {
		return false
	}
	m.elapsed = seconds
	return true
}

// failLocked enters the failed phase. Must be called with m.mu held.
func (m *Manager) failLocked(kind FailureKind, detail string) {
	m.clearLocked()
	m.errorDetail = detail
	m.failure = kind
	m.setPhaseLocked(PhaseFailed)
}

// clearLocked drops handles, error and transient flags. Must be called with m.mu held.
func (m *Manager) clearLocked() {
	m.audio = ""
	m.model = ""
	m.pendingAudio = ""
	m.errorDetail = ""
	m.failure = FailureNone
	m.stopping = false
}

// setPhaseLocked changes the phase and notifies the observer. Must be called with m.mu held.
func (m *Manager) setPhaseLocked(p Phase) {
	from := m.phase
	m.phase = p
	if p != PhaseRecording {
		m.elapsed = 0
	}
	if m.observer != nil {
		m.observer(m.generation, from, p)
	}
}
