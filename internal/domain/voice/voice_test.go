package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCaptureOptions(t *testing.T) {
	opts := DefaultCaptureOptions()

	assert.Equal(t, 30*time.Second, opts.Duration)
	assert.Equal(t, "wav", opts.Format)
}

func TestNewTrainingOptions(t *testing.T) {
	opts := NewTrainingOptions("sample_001.wav")

	assert.Equal(t, AudioHandle("sample_001.wav"), opts.Audio)
	assert.Equal(t, int64(1), opts.UserID)
	assert.Equal(t, "cantonese", opts.Dialect)
}

func TestProgressEvent_Report(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		expected ProgressReport
	}{
		{
			name:     "nil payload",
			payload:  nil,
			expected: ProgressReport{},
		},
		{
			name: "all fields",
			payload: map[string]any{
				"stage":   "capture",
				"percent": 42.5,
				"message": "recording",
			},
			expected: ProgressReport{Stage: "capture", Percent: 42.5, Message: "recording"},
		},
		{
			name: "completed with result",
			payload: map[string]any{
				"task_id": "t-1",
				"stage":   StageTraining,
				"status":  StatusCompleted,
				"percent": 100.0,
				"result":  "cantonese_model_1_1",
			},
			expected: ProgressReport{TaskID: "t-1", Stage: StageTraining, Status: StatusCompleted, Percent: 100, Result: "cantonese_model_1_1"},
		},
		{
			name: "failed with error",
			payload: map[string]any{
				"stage":  StageCapture,
				"status": StatusFailed,
				"error":  "microphone unavailable",
			},
			expected: ProgressReport{Stage: StageCapture, Status: StatusFailed, Error: "microphone unavailable"},
		},
		{
			name: "weakly typed percent",
			payload: map[string]any{
				"stage":   "training",
				"percent": "80",
			},
			expected: ProgressReport{Stage: "training", Percent: 80},
		},
		{
			name: "unknown fields ignored",
			payload: map[string]any{
				"stage": "capture",
				"extra": []int{1, 2},
			},
			expected: ProgressReport{Stage: "capture"},
		},
		{
			name: "undecodable payload",
			payload: map[string]any{
				"percent": map[string]any{"nested": true},
			},
			expected: ProgressReport{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ProgressEvent{Topic: ProgressTopic, Payload: tt.payload}
			assert.Equal(t, tt.expected, e.Report())
		})
	}
}

func TestProgressReport_Done(t *testing.T) {
	tests := []struct {
		status   string
		expected bool
	}{
		{status: StatusProcessing, expected: false},
		{status: StatusCompleted, expected: true},
		{status: StatusFailed, expected: true},
		{status: "", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.expected, ProgressReport{Status: tt.status}.Done())
		})
	}
}
