package voicev1

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
)

// CaptureServiceName is the fully-qualified name of the capture service.
const CaptureServiceName = "cantovox.voice.v1.CaptureService"

// Procedure paths of the capture service.
const (
	CaptureServiceBeginCaptureProcedure      = "/cantovox.voice.v1.CaptureService/BeginCapture"
	CaptureServiceEndCaptureProcedure        = "/cantovox.voice.v1.CaptureService/EndCapture"
	CaptureServiceBeginTrainingProcedure     = "/cantovox.voice.v1.CaptureService/BeginTraining"
	CaptureServiceListModelsProcedure        = "/cantovox.voice.v1.CaptureService/ListModels"
	CaptureServiceSubscribeProgressProcedure = "/cantovox.voice.v1.CaptureService/SubscribeProgress"
)

// Header names shared by clients and handlers.
const (
	APITokenHeader  = "X-Api-Token"
	RequestIDHeader = "X-Request-Id"
)

// CaptureServiceClient is a client for the capture service.
type CaptureServiceClient interface {
	BeginCapture(context.Context, *connect.Request[BeginCaptureRequest]) (*connect.Response[BeginCaptureResponse], error)
	EndCapture(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[EndCaptureResponse], error)
	BeginTraining(context.Context, *connect.Request[BeginTrainingRequest]) (*connect.Response[BeginTrainingResponse], error)
	ListModels(context.Context, *connect.Request[ListModelsRequest]) (*connect.Response[ListModelsResponse], error)
	SubscribeProgress(context.Context, *connect.Request[SubscribeProgressRequest]) (*connect.ServerStreamForClient[ProgressEvent], error)
}

// NewCaptureServiceClient constructs a client for the capture service at baseURL.
// The JSON codec is always used.
func NewCaptureServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) CaptureServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSON()}, opts...)
	return &captureServiceClient{
		beginCapture:      connect.NewClient[BeginCaptureRequest, BeginCaptureResponse](httpClient, baseURL+CaptureServiceBeginCaptureProcedure, opts...),
		endCapture:        connect.NewClient[emptypb.Empty, EndCaptureResponse](httpClient, baseURL+CaptureServiceEndCaptureProcedure, opts...),
		beginTraining:     connect.NewClient[BeginTrainingRequest, BeginTrainingResponse](httpClient, baseURL+CaptureServiceBeginTrainingProcedure, opts...),
		listModels:        connect.NewClient[ListModelsRequest, ListModelsResponse](httpClient, baseURL+CaptureServiceListModelsProcedure, opts...),
		subscribeProgress: connect.NewClient[SubscribeProgressRequest, ProgressEvent](httpClient, baseURL+CaptureServiceSubscribeProgressProcedure, opts...),
	}
}

type captureServiceClient struct {
	beginCapture      *connect.Client[BeginCaptureRequest, BeginCaptureResponse]
	endCapture        *connect.Client[emptypb.Empty, EndCaptureResponse]
	beginTraining     *connect.Client[BeginTrainingRequest, BeginTrainingResponse]
	listModels        *connect.Client[ListModelsRequest, ListModelsResponse]
	subscribeProgress *connect.Client[SubscribeProgressRequest, ProgressEvent]
}

func (c *captureServiceClient) BeginCapture(ctx context.Context, req *connect.Request[BeginCaptureRequest]) (*connect.Response[BeginCaptureResponse], error) {
	return c.beginCapture.CallUnary(ctx, req)
}

func (c *captureServiceClient) EndCapture(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[EndCaptureResponse], error) {
	return c.endCapture.CallUnary(ctx, req)
}

func (c *captureServiceClient) BeginTraining(ctx context.Context, req *connect.Request[BeginTrainingRequest]) (*connect.Response[BeginTrainingResponse], error) {
	return c.beginTraining.CallUnary(ctx, req)
}

func (c *captureServiceClient) ListModels(ctx context.Context, req *connect.Request[ListModelsRequest]) (*connect.Response[ListModelsResponse], error) {
	return c.listModels.CallUnary(ctx, req)
}

func (c *captureServiceClient) SubscribeProgress(ctx context.Context, req *connect.Request[SubscribeProgressRequest]) (*connect.ServerStreamForClient[ProgressEvent], error) {
	return c.subscribeProgress.CallServerStream(ctx, req)
}

// CaptureServiceHandler is implemented by the capture service backend.
type CaptureServiceHandler interface {
	BeginCapture(context.Context, *connect.Request[BeginCaptureRequest]) (*connect.Response[BeginCaptureResponse], error)
	EndCapture(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[EndCaptureResponse], error)
	BeginTraining(context.Context, *connect.Request[BeginTrainingRequest]) (*connect.Response[BeginTrainingResponse], error)
	ListModels(context.Context, *connect.Request[ListModelsRequest]) (*connect.Response[ListModelsResponse], error)
	SubscribeProgress(context.Context, *connect.Request[SubscribeProgressRequest], *connect.ServerStream[ProgressEvent]) error
}

// NewCaptureServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler.
func NewCaptureServiceHandler(svc CaptureServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CaptureServiceBeginCaptureProcedure, connect.NewUnaryHandler(CaptureServiceBeginCaptureProcedure, svc.BeginCapture, opts...))
	mux.Handle(CaptureServiceEndCaptureProcedure, connect.NewUnaryHandler(CaptureServiceEndCaptureProcedure, svc.EndCapture, opts...))
	mux.Handle(CaptureServiceBeginTrainingProcedure, connect.NewUnaryHandler(CaptureServiceBeginTrainingProcedure, svc.BeginTraining, opts...))
	mux.Handle(CaptureServiceListModelsProcedure, connect.NewUnaryHandler(CaptureServiceListModelsProcedure, svc.ListModels, opts...))
	mux.Handle(CaptureServiceSubscribeProgressProcedure, connect.NewServerStreamHandler(CaptureServiceSubscribeProgressProcedure, svc.SubscribeProgress, opts...))

	return "/" + CaptureServiceName + "/", mux
}
