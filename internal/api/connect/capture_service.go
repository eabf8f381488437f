// Package connect provides Connect RPC service implementations.
package connect

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"

	voicev1 "github.com/osa030/cantovox/internal/api/voicev1"
	"github.com/osa030/cantovox/internal/app/backend"
	"github.com/osa030/cantovox/internal/app/notification"
	"github.com/osa030/cantovox/internal/domain/voice"
)

// CaptureService implements the CaptureService RPC over the simulated backend.
type CaptureService struct {
	backend  *backend.Service
	notifier *notification.Manager
	done     <-chan struct{}
}

// NewCaptureService creates a new CaptureService. Progress streams end when
// done is closed.
func NewCaptureService(svc *backend.Service, notifier *notification.Manager, done <-chan struct{}) *CaptureService {
	return &CaptureService{
		backend:  svc,
		notifier: notifier,
		done:     done,
	}
}

// Ensure CaptureService implements the interface.
var _ voicev1.CaptureServiceHandler = (*CaptureService)(nil)

// BeginCapture handles sample capture requests.
func (s *CaptureService) BeginCapture(
	ctx context.Context,
	req *connect.Request[voicev1.BeginCaptureRequest],
) (*connect.Response[voicev1.BeginCaptureResponse], error) {
	opts := voice.CaptureOptions{
		Duration: time.Duration(req.Msg.DurationSeconds) * time.Second,
		Format:   req.Msg.Format,
	}
	audio, err := s.backend.BeginCapture(ctx, opts)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&voicev1.BeginCaptureResponse{
		AudioHandle: string(audio),
	}), nil
}

// EndCapture handles early stop requests.
func (s *CaptureService) EndCapture(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[voicev1.EndCaptureResponse], error) {
	if err := s.backend.EndCapture(ctx); err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&voicev1.EndCaptureResponse{
		Acknowledged: true,
	}), nil
}

// BeginTraining handles voice model training requests.
func (s *CaptureService) BeginTraining(
	ctx context.Context,
	req *connect.Request[voicev1.BeginTrainingRequest],
) (*connect.Response[voicev1.BeginTrainingResponse], error) {
	model, err := s.backend.BeginTraining(ctx, voice.TrainingOptions{
		Audio:   voice.AudioHandle(req.Msg.AudioHandle),
		UserID:  req.Msg.UserID,
		Dialect: req.Msg.Dialect,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&voicev1.BeginTrainingResponse{
		ModelHandle: string(model),
	}), nil
}

// ListModels returns the models trained for a user.
func (s *CaptureService) ListModels(
	ctx context.Context,
	req *connect.Request[voicev1.ListModelsRequest],
) (*connect.Response[voicev1.ListModelsResponse], error) {
	models, err := s.backend.ListModels(ctx, req.Msg.UserID)
	if err != nil {
		return nil, toConnectError(err)
	}

	res := &voicev1.ListModelsResponse{Models: make([]*voicev1.ModelInfo, 0, len(models))}
	for _, m := range models {
		res.Models = append(res.Models, &voicev1.ModelInfo{
			ModelHandle: string(m.Handle),
			AudioHandle: string(m.Audio),
			UserID:      m.UserID,
			Dialect:     m.Dialect,
			Status:      m.Status,
			TrainedAt:   timestamppb.New(m.TrainedAt),
		})
	}
	return connect.NewResponse(res), nil
}

// SubscribeProgress streams progress events for a topic until the client
// goes away or the server shuts down.
func (s *CaptureService) SubscribeProgress(
	ctx context.Context,
	req *connect.Request[voicev1.SubscribeProgressRequest],
	stream *connect.ServerStream[voicev1.ProgressEvent],
) error {
	topic := req.Msg.Topic
	if topic == "" {
		topic = voice.ProgressTopic
	}

	// Flush response headers so the client's call returns before the
	// first event is published.
	if err := stream.Send(nil); err != nil {
		return err
	}

	subscriptionID := s.notifier.Subscribe(topic, stream)
	defer s.notifier.Unsubscribe(subscriptionID)
	zlog.Info().Msgf("progress stream opened: topic=%s request_id=%s", topic, req.Header().Get(voicev1.RequestIDHeader))

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	zlog.Info().Msgf("progress stream closed: topic=%s", topic)
	return nil
}

// toConnectError maps backend errors to Connect codes. The error text becomes
// the message clients surface as the failure reason.
func toConnectError(err error) *connect.Error {
	var code connect.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, backend.ErrUnsupportedFormat),
		errors.Is(err, backend.ErrUnsupportedDuration),
		errors.Is(err, backend.ErrUnsupportedDialect):
		code = connect.CodeInvalidArgument
	case errors.Is(err, backend.ErrUnknownRecording):
		code = connect.CodeNotFound
	case errors.Is(err, backend.ErrCaptureInProgress),
		errors.Is(err, backend.ErrNoActiveRecording):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, backend.ErrMicrophoneUnavailable):
		code = connect.CodeUnavailable
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
