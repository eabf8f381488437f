package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/cantovox/internal/app/gateway"
	"github.com/osa030/cantovox/internal/app/progress"
	"github.com/osa030/cantovox/internal/app/session/state"
	"github.com/osa030/cantovox/internal/domain/voice"
)

type fakeGateway struct {
	mu sync.Mutex

	captureHandle voice.AudioHandle
	captureErr    error
	stopErr       error
	modelHandle   voice.ModelHandle
	trainErr      error

	captures  []voice.CaptureOptions
	stops     int
	trainings []voice.TrainingOptions
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		captureHandle: "sample_001.wav",
		modelHandle:   "model_42",
	}
}

func (g *fakeGateway) BeginCapture(_ context.Context, opts voice.CaptureOptions) (voice.AudioHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures = append(g.captures, opts)
	if g.captureErr != nil {
		return "", g.captureErr
	}
	return g.captureHandle, nil
}

func (g *fakeGateway) EndCapture(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stops++
	return g.stopErr
}

func (g *fakeGateway) BeginTraining(_ context.Context, opts voice.TrainingOptions) (voice.ModelHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trainings = append(g.trainings, opts)
	if g.trainErr != nil {
		return "", g.trainErr
	}
	return g.modelHandle, nil
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) counts() (captures, stops, trainings int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.captures), g.stops, len(g.trainings)
}

// callQueue holds dispatched backend calls until the test resolves them.
type callQueue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *callQueue) spawn(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fns = append(q.fns, fn)
}

func (q *callQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

// resolve runs the i-th pending call synchronously.
func (q *callQueue) resolve(t *testing.T, i int) {
	t.Helper()
	q.mu.Lock()
	require.Less(t, i, len(q.fns), "no pending call at index %d", i)
	fn := q.fns[i]
	q.fns = append(q.fns[:i], q.fns[i+1:]...)
	q.mu.Unlock()
	fn()
}

func newQueuedController(gw gateway.Gateway) (*Controller, *callQueue) {
	c := NewController(gw, nil, Config{TickInterval: time.Hour})
	q := &callQueue{}
	c.spawn = q.spawn
	return c, q
}

func TestController_CaptureThenTrain(t *testing.T) {
	gw := newFakeGateway()
	c, q := newQueuedController(gw)

	require.NoError(t, c.BeginRecording())
	snap := c.Snapshot()
	assert.Equal(t, state.PhaseRecording, snap.Phase, "recording is entered before the backend answers")
	assert.Equal(t, 1, q.len())

	q.resolve(t, 0)
	snap = c.Snapshot()
	assert.Equal(t, state.PhaseCaptured, snap.Phase)
	assert.Equal(t, voice.AudioHandle("sample_001.wav"), snap.AudioHandle)
	assert.Equal(t, 0, snap.ElapsedSeconds)

	require.NoError(t, c.TrainModel())
	assert.Equal(t, state.PhaseTraining, c.Snapshot().Phase)

	q.resolve(t, 0)
	snap = c.Snapshot()
	assert.Equal(t, state.PhaseCompleted, snap.Phase)
	assert.Equal(t, voice.ModelHandle("model_42"), snap.ModelHandle)
	assert.Equal(t, voice.AudioHandle("sample_001.wav"), snap.AudioHandle)
	assert.NoError(t, snap.CheckInvariants())

	require.Len(t, gw.captures, 1)
	assert.Equal(t, 30*time.Second, gw.captures[0].Duration)
	assert.Equal(t, "wav", gw.captures[0].Format)
	require.Len(t, gw.trainings, 1)
	assert.Equal(t, voice.TrainingOptions{Audio: "sample_001.wav", UserID: 1, Dialect: "cantonese"}, gw.trainings[0])
}

func TestController_BeginRecordingFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.captureErr = gateway.NewFailure(gateway.OpBeginCapture, "microphone unavailable")
	c, q := newQueuedController(gw)

	require.NoError(t, c.BeginRecording())
	q.resolve(t, 0)

	snap := c.Snapshot()
	assert.Equal(t, state.PhaseFailed, snap.Phase)
	assert.Equal(t, "microphone unavailable", snap.ErrorDetail)
	assert.Equal(t, state.FailureCaptureStart, snap.Failure)
	assert.Equal(t, 0, snap.ElapsedSeconds)
	assert.Empty(t, snap.AudioHandle)
}

func TestController_FallbackReasons(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, c *Controller, q *callQueue, gw *fakeGateway)
		expected string
		kind     state.FailureKind
	}{
		{
			name: "capture start",
			setup: func(t *testing.T, c *Controller, q *callQueue, gw *fakeGateway) {
				gw.set(func(g *fakeGateway) { g.captureErr = gateway.NewFailure(gateway.OpBeginCapture, "") })
				require.NoError(t, c.BeginRecording())
				q.resolve(t, 0)
			},
			expected: FallbackCaptureStart,
			kind:     state.FailureCaptureStart,
		},
		{
			name: "capture stop",
			setup: func(t *testing.T, c *Controller, q *callQueue, gw *fakeGateway) {
				gw.set(func(g *fakeGateway) { g.stopErr = gateway.NewFailure(gateway.OpEndCapture, "") })
				require.NoError(t, c.BeginRecording())
				require.NoError(t, c.StopRecording())
				q.resolve(t, 1)
			},
			expected: FallbackCaptureStop,
			kind:     state.FailureCaptureStop,
		},
		{
			name: "training",
			setup: func(t *testing.T, c *Controller, q *callQueue, gw *fakeGateway) {
				gw.set(func(g *fakeGateway) { g.trainErr = gateway.NewFailure(gateway.OpBeginTraining, "") })
				require.NoError(t, c.BeginRecording())
				q.resolve(t, 0)
				require.NoError(t, c.TrainModel())
				q.resolve(t, 0)
			},
			expected: FallbackTraining,
			kind:     state.FailureTraining,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			c, q := newQueuedController(gw)
			tt.setup(t, c, q, gw)

			snap := c.Snapshot()
			assert.Equal(t, state.PhaseFailed, snap.Phase)
			assert.Equal(t, tt.expected, snap.ErrorDetail)
			assert.Equal(t, tt.kind, snap.Failure)
		})
	}
}

func TestController_RejectsSecondRecording(t *testing.T) {
	gw := newFakeGateway()
	c, q := newQueuedController(gw)

	require.NoError(t, c.BeginRecording())
	err := c.BeginRecording()
	assert.True(t, errors.Is(err, ErrSessionBusy))
	assert.Equal(t, 1, q.len(), "rejected intent issues no backend call")
}

func TestController_TrainWithoutAudioIsNoop(t *testing.T) {
	gw := newFakeGateway()
	c, q := newQueuedController(gw)
	before := c.Snapshot()

	require.NoError(t, c.TrainModel())

	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, 0, q.len())
	_, _, trainings := gw.counts()
	assert.Equal(t, 0, trainings)
}

func TestController_TrainWhileTrainingIsBusy(t *testing.T) {
	gw := newFakeGateway()
	c, q := newQueuedController(gw)

	require.NoError(t, c.BeginRecording())
	q.resolve(t, 0)
	require.NoError(t, c.TrainModel())

	err := c.TrainModel()
	assert.True(t, errors.Is(err, ErrSessionBusy))
	assert.Equal(t, 1, q.len())
}

func TestController_StopRecording(t *testing.T) {
	t.Run("stop resolves before capture", func(t *testing.T) {
		gw := newFakeGateway()
		c, q := newQueuedController(gw)

		require.NoError(t, c.BeginRecording())
		require.NoError(t, c.StopRecording())
		snap := c.Snapshot()
		assert.Equal(t, state.PhaseRecording, snap.Phase)
		assert.True(t, snap.Stopping)
		assert.True(t, snap.Busy())

		q.resolve(t, 1) // end-capture
		assert.Equal(t, state.PhaseIdle, c.Snapshot().Phase)

		q.resolve(t, 0) // begin-capture arrives after the session settled
		snap = c.Snapshot()
		assert.Equal(t, state.PhaseIdle, snap.Phase)
		assert.Empty(t, snap.AudioHandle)
	})

	t.Run("capture resolves while stopping", func(t *testing.T) {
		gw := newFakeGateway()
		c, q := newQueuedController(gw)

		require.NoError(t, c.BeginRecording())
		require.NoError(t, c.StopRecording())

		q.resolve(t, 0)
		assert.Equal(t, state.PhaseRecording, c.Snapshot().Phase)
		q.resolve(t, 0)

		snap := c.Snapshot()
		assert.Equal(t, state.PhaseCaptured, snap.Phase)
		assert.Equal(t, voice.AudioHandle("sample_001.wav"), snap.AudioHandle)
	})

	t.Run("stop failure ends recording", func(t *testing.T) {
		gw := newFakeGateway()
		gw.stopErr = gateway.NewFailure(gateway.OpEndCapture, "device lost")
		c, q := newQueuedController(gw)

		require.NoError(t, c.BeginRecording())
		require.NoError(t, c.StopRecording())
		q.resolve(t, 1)

		snap := c.Snapshot()
		assert.Equal(t, state.PhaseFailed, snap.Phase)
		assert.Equal(t, "device lost", snap.ErrorDetail)
		assert.False(t, snap.Stopping)
	})

	t.Run("stop without recording", func(t *testing.T) {
		c, q := newQueuedController(newFakeGateway())
		err := c.StopRecording()
		assert.True(t, errors.Is(err, ErrNotRecording))
		assert.Equal(t, 0, q.len())
	})

	t.Run("second stop while stopping", func(t *testing.T) {
		c, q := newQueuedController(newFakeGateway())
		require.NoError(t, c.BeginRecording())
		require.NoError(t, c.StopRecording())
		err := c.StopRecording()
		assert.True(t, errors.Is(err, ErrSessionBusy))
		assert.Equal(t, 2, q.len())
	})
}

func TestController_DiscardsSupersededCapture(t *testing.T) {
	tests := []struct {
		name       string
		staleErr   error
		stopErr    error
		wantBefore state.Phase
	}{
		{name: "stale success after stop", wantBefore: state.PhaseIdle},
		{name: "stale failure after stop", staleErr: errors.New("late failure"), wantBefore: state.PhaseIdle},
		{name: "stale success after failed stop", stopErr: errors.New("device lost"), wantBefore: state.PhaseFailed},
		{
			name:       "stale failure after failed stop",
			staleErr:   errors.New("late failure"),
			stopErr:    errors.New("device lost"),
			wantBefore: state.PhaseFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.stopErr = tt.stopErr
			c, q := newQueuedController(gw)

			// call A
			require.NoError(t, c.BeginRecording())
			require.NoError(t, c.StopRecording())
			q.resolve(t, 1)
			require.Equal(t, tt.wantBefore, c.Snapshot().Phase)

			// call B
			require.NoError(t, c.BeginRecording())
			current := c.Snapshot()
			require.Equal(t, state.PhaseRecording, current.Phase)

			gw.set(func(g *fakeGateway) {
				g.captureHandle = "stale.wav"
				g.captureErr = tt.staleErr
			})
			q.resolve(t, 0) // A resolves late
			assert.Equal(t, current, c.Snapshot(), "A must not touch B's session")

			gw.set(func(g *fakeGateway) {
				g.captureHandle = "fresh.wav"
				g.captureErr = nil
			})
			q.resolve(t, 0)
			snap := c.Snapshot()
			assert.Equal(t, state.PhaseCaptured, snap.Phase)
			assert.Equal(t, voice.AudioHandle("fresh.wav"), snap.AudioHandle)
		})
	}
}

func TestController_ResetDiscardsTraining(t *testing.T) {
	gw := newFakeGateway()
	c, q := newQueuedController(gw)

	require.NoError(t, c.BeginRecording())
	q.resolve(t, 0)
	require.NoError(t, c.TrainModel())

	require.NoError(t, c.Reset())
	assert.Equal(t, state.PhaseIdle, c.Snapshot().Phase)

	q.resolve(t, 0)
	snap := c.Snapshot()
	assert.Equal(t, state.PhaseIdle, snap.Phase)
	assert.Empty(t, snap.ModelHandle)
	assert.Empty(t, snap.AudioHandle)
}

func TestController_NewRecordingDiscardsModel(t *testing.T) {
	gw := newFakeGateway()
	c, q := newQueuedController(gw)

	require.NoError(t, c.BeginRecording())
	q.resolve(t, 0)
	require.NoError(t, c.TrainModel())
	q.resolve(t, 0)
	require.Equal(t, state.PhaseCompleted, c.Snapshot().Phase)

	require.NoError(t, c.BeginRecording())
	snap := c.Snapshot()
	assert.Equal(t, state.PhaseRecording, snap.Phase)
	assert.Empty(t, snap.AudioHandle)
	assert.Empty(t, snap.ModelHandle)
}

func TestController_ResetWhileRecordingIsBusy(t *testing.T) {
	c, _ := newQueuedController(newFakeGateway())
	require.NoError(t, c.BeginRecording())

	err := c.Reset()
	assert.True(t, errors.Is(err, ErrSessionBusy))
	assert.Equal(t, state.PhaseRecording, c.Snapshot().Phase)
}

func TestController_ElapsedTicksOnlyWhileRecording(t *testing.T) {
	gw := newFakeGateway()
	c := NewController(gw, nil, Config{TickInterval: 5 * time.Millisecond})
	q := &callQueue{}
	c.spawn = q.spawn

	assert.Equal(t, 0, c.Snapshot().ElapsedSeconds)
	require.NoError(t, c.BeginRecording())
	require.Eventually(t, func() bool {
		return c.Snapshot().ElapsedSeconds >= 2
	}, time.Second, time.Millisecond)

	q.resolve(t, 0)
	assert.Equal(t, 0, c.Snapshot().ElapsedSeconds)
	assert.Never(t, func() bool {
		return c.Snapshot().ElapsedSeconds != 0
	}, 40*time.Millisecond, 5*time.Millisecond)

	// a new recording counts from zero again
	require.NoError(t, c.BeginRecording())
	require.Eventually(t, func() bool {
		return c.Snapshot().ElapsedSeconds >= 1
	}, time.Second, time.Millisecond)
	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Snapshot().ElapsedSeconds)
}

func TestController_Updates(t *testing.T) {
	c, q := newQueuedController(newFakeGateway())

	require.NoError(t, c.BeginRecording())
	q.resolve(t, 0)

	var phases []state.Phase
	for len(phases) < 2 {
		select {
		case s := <-c.Updates():
			phases = append(phases, s.Phase)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for updates")
		}
	}
	assert.Equal(t, []state.Phase{state.PhaseRecording, state.PhaseCaptured}, phases)
}

type countingSource struct {
	mu           sync.Mutex
	subscribed   int
	unsubscribed int
}

type countingSubscription struct {
	source *countingSource
}

func (s *countingSubscription) Unsubscribe() error {
	s.source.mu.Lock()
	defer s.source.mu.Unlock()
	s.source.unsubscribed++
	return nil
}

func (s *countingSource) Subscribe(context.Context, string, progress.Handler) (progress.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed++
	return &countingSubscription{source: s}, nil
}

func (s *countingSource) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed - s.unsubscribed
}

func TestController_OpenCloseReleasesSubscription(t *testing.T) {
	source := &countingSource{}
	sub := progress.NewSubscriber(source, voice.ProgressTopic, nil)
	c := NewController(newFakeGateway(), sub, Config{})

	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, 1, source.active())

	require.NoError(t, c.Close())
	assert.Equal(t, 0, source.active())
	assert.Equal(t, 1, source.unsubscribed)

	require.NoError(t, c.Close())
	assert.True(t, errors.Is(c.Open(context.Background()), ErrClosed))
}

func TestController_CloseWhileRecording(t *testing.T) {
	gw := newFakeGateway()
	c, q := newQueuedController(gw)

	require.NoError(t, c.BeginRecording())
	require.NoError(t, c.Close())
	assert.Equal(t, state.PhaseIdle, c.Snapshot().Phase)
	require.Equal(t, 2, q.len())

	q.resolve(t, 1) // end-capture issued by Close
	q.resolve(t, 0) // begin-capture outcome is stale
	_, stops, _ := gw.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, state.PhaseIdle, c.Snapshot().Phase)
	assert.Empty(t, c.Snapshot().AudioHandle)

	assert.True(t, errors.Is(c.BeginRecording(), ErrClosed))
	assert.True(t, errors.Is(c.StopRecording(), ErrClosed))
	assert.True(t, errors.Is(c.TrainModel(), ErrClosed))
	assert.True(t, errors.Is(c.Reset(), ErrClosed))
}

// blockingSource holds Subscribe until released or, when honorCtx is set,
// until its context ends.
type blockingSource struct {
	countingSource
	honorCtx bool
	entered  chan struct{}
	release  chan struct{}
}

func newBlockingSource(honorCtx bool) *blockingSource {
	return &blockingSource{
		honorCtx: honorCtx,
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
}

func (s *blockingSource) Subscribe(ctx context.Context, topic string, h progress.Handler) (progress.Subscription, error) {
	s.entered <- struct{}{}
	if s.honorCtx {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.release:
		}
	} else {
		<-s.release
	}
	return s.countingSource.Subscribe(ctx, topic, h)
}

func TestController_CloseDuringOpen(t *testing.T) {
	tests := []struct {
		name     string
		honorCtx bool
	}{
		{name: "subscribe honors cancellation", honorCtx: true},
		{name: "subscribe ignores cancellation", honorCtx: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newBlockingSource(tt.honorCtx)
			sub := progress.NewSubscriber(source, voice.ProgressTopic, nil)
			c := NewController(newFakeGateway(), sub, Config{TickInterval: time.Hour})

			opened := make(chan error, 1)
			go func() { opened <- c.Open(context.Background()) }()
			<-source.entered

			closed := make(chan error, 1)
			go func() { closed <- c.Close() }()
			select {
			case err := <-closed:
				require.NoError(t, err)
			case <-time.After(time.Second):
				t.Fatal("Close blocked behind the subscribe call")
			}

			close(source.release)
			select {
			case err := <-opened:
				assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
			case <-time.After(time.Second):
				t.Fatal("Open did not return")
			}
			assert.Equal(t, 0, source.active())
			assert.False(t, sub.Active())
		})
	}
}

// blockingGateway holds begin calls until their context ends.
type blockingGateway struct {
	entered chan struct{}

	mu         sync.Mutex
	endCtxErrs []error
}

func (g *blockingGateway) BeginCapture(ctx context.Context, _ voice.CaptureOptions) (voice.AudioHandle, error) {
	g.entered <- struct{}{}
	<-ctx.Done()
	return "", ctx.Err()
}

func (g *blockingGateway) EndCapture(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endCtxErrs = append(g.endCtxErrs, ctx.Err())
	return nil
}

func (g *blockingGateway) BeginTraining(ctx context.Context, _ voice.TrainingOptions) (voice.ModelHandle, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestController_CloseCancelsInFlightCalls(t *testing.T) {
	gw := &blockingGateway{entered: make(chan struct{}, 1)}
	c := NewController(gw, nil, Config{TickInterval: time.Hour})

	require.NoError(t, c.BeginRecording())
	<-gw.entered
	require.NoError(t, c.Close())

	waited := make(chan struct{})
	go func() {
		c.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight capture outlived Close")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.endCtxErrs, 1)
	assert.NoError(t, gw.endCtxErrs[0], "end-capture on close must get a live context")
	assert.Equal(t, state.PhaseIdle, c.Snapshot().Phase)
}

func TestController_ConcurrentIntents(t *testing.T) {
	gw := newFakeGateway()
	c := NewController(gw, nil, Config{TickInterval: time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch (i + j) % 4 {
				case 0:
					_ = c.BeginRecording()
				case 1:
					_ = c.StopRecording()
				case 2:
					_ = c.TrainModel()
				case 3:
					_ = c.Reset()
				}
				assert.NoError(t, c.Snapshot().CheckInvariants())
			}
		}(i)
	}
	wg.Wait()
	c.Wait()

	assert.NoError(t, c.Snapshot().CheckInvariants())
	require.NoError(t, c.Close())
}
