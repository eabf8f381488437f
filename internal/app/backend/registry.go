package backend

import (
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/cantovox/internal/domain/voice"
)

var ErrUnknownRecording = errors.New("unknown audio handle")

// Recording is a captured sample held by the backend.
type Recording struct {
	Handle     voice.AudioHandle
	Format     string
	Duration   time.Duration // Actual captured length
	CapturedAt time.Time
	Models     []voice.ModelHandle // Models trained from this sample
}

// RecordingRegistry manages captured samples with thread-safe access.
type RecordingRegistry struct {
	mu         sync.RWMutex
	recordings map[voice.AudioHandle]*Recording
	models     []voice.ModelInfo // Trained models in training order
}

// NewRecordingRegistry creates a new recording registry.
func NewRecordingRegistry() *RecordingRegistry {
	return &RecordingRegistry{
		recordings: make(map[voice.AudioHandle]*Recording),
	}
}

// Add registers a recording, replacing any previous entry with the same handle.
func (r *RecordingRegistry) Add(rec Recording) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordings[rec.Handle] = &rec
}

// Has reports whether handle is registered.
func (r *RecordingRegistry) Has(handle voice.AudioHandle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.recordings[handle]
	return ok
}

// Get retrieves a copy of a recording by handle.
func (r *RecordingRegistry) Get(handle voice.AudioHandle) (Recording, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.recordings[handle]
	if !ok {
		return Recording{}, ErrUnknownRecording
	}
	out := *rec
	out.Models = append([]voice.ModelHandle(nil), rec.Models...)
	return out, nil
}

// AttachModel records a model trained from the sample named by info.Audio.
func (r *RecordingRegistry) AttachModel(info voice.ModelInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.recordings[info.Audio]
	if !ok {
		return ErrUnknownRecording
	}
	rec.Models = append(rec.Models, info.Handle)
	r.models = append(r.models, info)
	return nil
}

// ModelsFor returns the models trained for userID, oldest first.
func (r *RecordingRegistry) ModelsFor(userID int64) []voice.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]voice.ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b voice.ModelInfo) int {
		return a.TrainedAt.Compare(b.TrainedAt)
	})
	return out
}

// Count returns the number of recordings.
func (r *RecordingRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recordings)
}
