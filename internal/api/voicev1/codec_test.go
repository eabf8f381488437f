package voicev1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestJSONCodec_ProgressEvent(t *testing.T) {
	codec := jsonCodec{}
	payload, err := structpb.NewStruct(map[string]any{"stage": "capture", "percent": 40, "status": "processing"})
	require.NoError(t, err)
	sent := &ProgressEvent{
		Topic:      "recording-progress",
		SequenceNo: 7,
		Payload:    payload,
		Timestamp:  timestamppb.New(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	}

	data, err := codec.Marshal(sent)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"topic": "recording-progress",
		"sequence_no": 7,
		"payload": {"stage": "capture", "percent": 40, "status": "processing"},
		"timestamp": "2026-01-02T03:04:05Z"
	}`, string(data))

	var got ProgressEvent
	require.NoError(t, codec.Unmarshal(data, &got))
	assert.Equal(t, "recording-progress", got.Topic)
	assert.Equal(t, uint64(7), got.SequenceNo)
	assert.Equal(t, map[string]any{"stage": "capture", "percent": 40.0, "status": "processing"}, got.PayloadMap())
	assert.True(t, got.Timestamp.AsTime().Equal(sent.Timestamp.AsTime()))
}

func TestJSONCodec_EmptyFields(t *testing.T) {
	codec := jsonCodec{}

	data, err := codec.Marshal(&ProgressEvent{Topic: "t"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"t","sequence_no":0}`, string(data))

	var got ProgressEvent
	require.NoError(t, codec.Unmarshal(data, &got))
	assert.Nil(t, got.PayloadMap())
	assert.Nil(t, got.Timestamp)

	data, err = codec.Marshal(&emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
	require.NoError(t, codec.Unmarshal(data, &emptypb.Empty{}))
}

func TestJSONCodec_ModelList(t *testing.T) {
	codec := jsonCodec{}
	trainedAt := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	sent := &ListModelsResponse{Models: []*ModelInfo{{
		ModelHandle: "cantonese_model_1_1773500966",
		AudioHandle: "recordings/recording_20260314_150926.wav",
		UserID:      1,
		Dialect:     "cantonese",
		Status:      "active",
		TrainedAt:   timestamppb.New(trainedAt),
	}}}

	data, err := codec.Marshal(sent)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"trained_at":"2026-03-14T15:09:26Z"`)

	var got ListModelsResponse
	require.NoError(t, codec.Unmarshal(data, &got))
	require.Len(t, got.Models, 1)
	assert.Equal(t, sent.Models[0].ModelHandle, got.Models[0].ModelHandle)
	assert.Equal(t, "active", got.Models[0].Status)
	assert.True(t, trainedAt.Equal(got.Models[0].TrainedAt.AsTime()))
}
