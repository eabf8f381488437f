// Package voicev1 defines the capture service wire contract.
//
// Request and response envelopes are plain Go structs. Timestamps, the
// opaque progress payload and empty messages use the protobuf well-known
// types, encoded with their canonical JSON mapping.
package voicev1

import (
	"encoding/json"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// BeginCaptureRequest asks the backend to start capturing a sample.
type BeginCaptureRequest struct {
	DurationSeconds int32  `json:"duration_seconds"`
	Format          string `json:"format"`
}

// BeginCaptureResponse carries the captured sample reference.
type BeginCaptureResponse struct {
	AudioHandle string `json:"audio_handle"`
}

// EndCaptureResponse acknowledges the end of capture.
type EndCaptureResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// BeginTrainingRequest asks the backend to train a model from a sample.
type BeginTrainingRequest struct {
	AudioHandle string `json:"audio_handle"`
	UserID      int64  `json:"user_id"`
	Dialect     string `json:"dialect"`
}

// BeginTrainingResponse carries the trained model reference.
type BeginTrainingResponse struct {
	ModelHandle string `json:"model_handle"`
}

// ListModelsRequest asks for the models trained for a user.
type ListModelsRequest struct {
	UserID int64 `json:"user_id"`
}

// ListModelsResponse lists trained models, oldest first.
type ListModelsResponse struct {
	Models []*ModelInfo `json:"models"`
}

// ModelInfo describes a trained voice model.
type ModelInfo struct {
	ModelHandle string                 `json:"model_handle"`
	AudioHandle string                 `json:"audio_handle"`
	UserID      int64                  `json:"user_id"`
	Dialect     string                 `json:"dialect"`
	Status      string                 `json:"status"`
	TrainedAt   *timestamppb.Timestamp `json:"-"`
}

type modelInfoJSON struct {
	ModelHandle string          `json:"model_handle"`
	AudioHandle string          `json:"audio_handle"`
	UserID      int64           `json:"user_id"`
	Dialect     string          `json:"dialect"`
	Status      string          `json:"status"`
	TrainedAt   json.RawMessage `json:"trained_at,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m *ModelInfo) MarshalJSON() ([]byte, error) {
	trainedAt, err := marshalProto(m.TrainedAt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(modelInfoJSON{
		ModelHandle: m.ModelHandle,
		AudioHandle: m.AudioHandle,
		UserID:      m.UserID,
		Dialect:     m.Dialect,
		Status:      m.Status,
		TrainedAt:   trainedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *ModelInfo) UnmarshalJSON(data []byte) error {
	var raw modelInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = ModelInfo{
		ModelHandle: raw.ModelHandle,
		AudioHandle: raw.AudioHandle,
		UserID:      raw.UserID,
		Dialect:     raw.Dialect,
		Status:      raw.Status,
	}
	if len(raw.TrainedAt) > 0 {
		m.TrainedAt = &timestamppb.Timestamp{}
		return unmarshalProto(raw.TrainedAt, m.TrainedAt)
	}
	return nil
}

// SubscribeProgressRequest opens a progress event stream for a topic.
type SubscribeProgressRequest struct {
	Topic string `json:"topic"`
}

// ProgressEvent is a single progress notification.
type ProgressEvent struct {
	Topic      string                 `json:"topic"`
	SequenceNo uint64                 `json:"sequence_no"`
	Payload    *structpb.Struct       `json:"-"`
	Timestamp  *timestamppb.Timestamp `json:"-"`
}

type progressEventJSON struct {
	Topic      string          `json:"topic"`
	SequenceNo uint64          `json:"sequence_no"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *ProgressEvent) MarshalJSON() ([]byte, error) {
	payload, err := marshalProto(e.Payload)
	if err != nil {
		return nil, err
	}
	ts, err := marshalProto(e.Timestamp)
	if err != nil {
		return nil, err
	}
	return json.Marshal(progressEventJSON{
		Topic:      e.Topic,
		SequenceNo: e.SequenceNo,
		Payload:    payload,
		Timestamp:  ts,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *ProgressEvent) UnmarshalJSON(data []byte) error {
	var raw progressEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ProgressEvent{
		Topic:      raw.Topic,
		SequenceNo: raw.SequenceNo,
	}
	if len(raw.Payload) > 0 {
		e.Payload = &structpb.Struct{}
		if err := unmarshalProto(raw.Payload, e.Payload); err != nil {
			return err
		}
	}
	if len(raw.Timestamp) > 0 {
		e.Timestamp = &timestamppb.Timestamp{}
		if err := unmarshalProto(raw.Timestamp, e.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// PayloadMap returns the payload as plain Go values.
func (e *ProgressEvent) PayloadMap() map[string]any {
	if e.Payload == nil {
		return nil
	}
	return e.Payload.AsMap()
}
