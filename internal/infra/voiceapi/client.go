// Package voiceapi is the Connect client for the capture backend. It serves
// both as the session command gateway and as the progress event source.
package voiceapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"

	voicev1 "github.com/osa030/cantovox/internal/api/voicev1"
	"github.com/osa030/cantovox/internal/app/gateway"
	"github.com/osa030/cantovox/internal/app/progress"
	"github.com/osa030/cantovox/internal/domain/voice"
)

// Config holds client settings.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient connect.HTTPClient // defaults to http.DefaultClient
}

// Client talks to the capture backend.
type Client struct {
	rpc voicev1.CaptureServiceClient
	now func() time.Time
}

var (
	_ gateway.Gateway = (*Client)(nil)
	_ progress.Source = (*Client)(nil)
)

// New creates a backend client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		rpc: voicev1.NewCaptureServiceClient(
			httpClient,
			cfg.BaseURL,
			connect.WithInterceptors(newHeaderInterceptor(cfg.Token)),
		),
		now: time.Now,
	}
}

// BeginCapture starts a capture and waits for its audio handle.
func (c *Client) BeginCapture(ctx context.Context, opts voice.CaptureOptions) (voice.AudioHandle, error) {
	resp, err := c.rpc.BeginCapture(ctx, connect.NewRequest(&voicev1.BeginCaptureRequest{
		DurationSeconds: int32(opts.Duration / time.Second),
		Format:          opts.Format,
	}))
	if err != nil {
		return "", failure(gateway.OpBeginCapture, err)
	}
	if resp.Msg.AudioHandle == "" {
		return "", gateway.NewFailure(gateway.OpBeginCapture, "backend returned no audio handle")
	}
	return voice.AudioHandle(resp.Msg.AudioHandle), nil
}

// EndCapture ends the active capture.
func (c *Client) EndCapture(ctx context.Context) error {
	resp, err := c.rpc.EndCapture(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return failure(gateway.OpEndCapture, err)
	}
	if !resp.Msg.Acknowledged {
		return gateway.NewFailure(gateway.OpEndCapture, "backend did not acknowledge end of capture")
	}
	return nil
}

// BeginTraining trains a model and waits for its handle.
func (c *Client) BeginTraining(ctx context.Context, opts voice.TrainingOptions) (voice.ModelHandle, error) {
	resp, err := c.rpc.BeginTraining(ctx, connect.NewRequest(&voicev1.BeginTrainingRequest{
		AudioHandle: string(opts.Audio),
		UserID:      opts.UserID,
		Dialect:     opts.Dialect,
	}))
	if err != nil {
		return "", failure(gateway.OpBeginTraining, err)
	}
	if resp.Msg.ModelHandle == "" {
		return "", gateway.NewFailure(gateway.OpBeginTraining, "backend returned no model handle")
	}
	return voice.ModelHandle(resp.Msg.ModelHandle), nil
}

// ListModels returns the models the backend has trained for userID.
func (c *Client) ListModels(ctx context.Context, userID int64) ([]voice.ModelInfo, error) {
	resp, err := c.rpc.ListModels(ctx, connect.NewRequest(&voicev1.ListModelsRequest{UserID: userID}))
	if err != nil {
		return nil, failure(gateway.OpListModels, err)
	}

	models := make([]voice.ModelInfo, 0, len(resp.Msg.Models))
	for _, m := range resp.Msg.Models {
		if m == nil {
			continue
		}
		info := voice.ModelInfo{
			Handle:  voice.ModelHandle(m.ModelHandle),
			Audio:   voice.AudioHandle(m.AudioHandle),
			UserID:  m.UserID,
			Dialect: m.Dialect,
			Status:  m.Status,
		}
		if m.TrainedAt != nil {
			info.TrainedAt = m.TrainedAt.AsTime()
		}
		models = append(models, info)
	}
	return models, nil
}

// Subscribe opens a progress stream for topic. Events are delivered to handler
// from a dedicated goroutine until the subscription is released.
func (c *Client) Subscribe(ctx context.Context, topic string, handler progress.Handler) (progress.Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := c.rpc.SubscribeProgress(streamCtx, connect.NewRequest(&voicev1.SubscribeProgressRequest{
		Topic: topic,
	}))
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "failed to open progress stream for %s", topic)
	}

	sub := &subscription{
		topic:  topic,
		cancel: cancel,
		done:   make(chan struct{}),
		stream: stream,
	}
	go sub.receive(streamCtx, handler, c.now)
	return sub, nil
}

type subscription struct {
	topic  string
	cancel context.CancelFunc
	done   chan struct{}
	stream *connect.ServerStreamForClient[voicev1.ProgressEvent]
	once   sync.Once
}

func (s *subscription) receive(ctx context.Context, handler progress.Handler, now func() time.Time) {
	defer close(s.done)
	for s.stream.Receive() {
		msg := s.stream.Msg()
		handler(voice.ProgressEvent{
			Topic:      msg.Topic,
			SequenceNo: msg.SequenceNo,
			Payload:    msg.PayloadMap(),
			ReceivedAt: now(),
		})
	}
	if err := s.stream.Err(); err != nil && ctx.Err() == nil {
		zlog.Warn().Err(err).Msgf("progress stream for %s ended", s.topic)
	}
}

// Unsubscribe cancels the stream and waits for the receive loop to exit.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		if err := s.stream.Close(); err != nil {
			zlog.Debug().Msgf("progress stream close: topic=%s err=%v", s.topic, err)
		}
	})
	return nil
}

// failure converts a transport error into a gateway failure carrying the
// backend's reason.
func failure(op gateway.Op, err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return gateway.NewFailure(op, ce.Message())
	}
	return gateway.NewFailure(op, err.Error())
}

// headerInterceptor stamps outgoing requests with the API token and a request ID.
type headerInterceptor struct {
	token string
}

func newHeaderInterceptor(token string) *headerInterceptor {
	return &headerInterceptor{token: token}
}

func (i *headerInterceptor) stamp(h http.Header) {
	if i.token != "" {
		h.Set(voicev1.APITokenHeader, i.token)
	}
	h.Set(voicev1.RequestIDHeader, uuid.NewString())
}

func (i *headerInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			i.stamp(req.Header())
		}
		return next(ctx, req)
	}
}

func (i *headerInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		i.stamp(conn.RequestHeader())
		return conn
	}
}

func (i *headerInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
