// Package session provides the session state controller.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cantovox/internal/app/elapsed"
	"github.com/osa030/cantovox/internal/app/gateway"
	"github.com/osa030/cantovox/internal/app/progress"
	"github.com/osa030/cantovox/internal/app/session/state"
	"github.com/osa030/cantovox/internal/domain/voice"
)

var (
	ErrSessionBusy  = state.ErrSessionBusy
	ErrNotRecording = state.ErrNotRecording
	ErrClosed       = errors.New("session controller is closed")
)

// Messages used when the backend supplies no reason.
const (
	FallbackCaptureStart = "recording failed"
	FallbackCaptureStop  = "failed to stop recording"
	FallbackTraining     = "voice training failed"
)

const (
	updatesBuffer = 32

	// closeEndCaptureTimeout bounds the end-capture sent when the view closes
	// mid-recording.
	closeEndCaptureTimeout = 5 * time.Second
)

// Config holds controller configuration.
type Config struct {
	TickInterval time.Duration // Elapsed-time tick period (one second when zero)
}

// Controller owns the session state and sequences backend commands.
//
// Public operations return as soon as the optimistic transition is applied;
// backend outcomes are applied later and only if their generation is current.
type Controller struct {
	mu sync.Mutex

	gateway  gateway.Gateway
	stateMgr *state.Manager
	tracker  *elapsed.Tracker
	progress *progress.Subscriber

	open    bool
	opening bool
	closed  bool

	ctx     context.Context // Cancelled by Close
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	spawn   func(func())
	updates chan state.Snapshot
}

// NewController creates a controller in the idle phase.
// subscriber may be nil when progress events are not observed.
func NewController(gw gateway.Gateway, subscriber *progress.Subscriber, cfg Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		gateway:  gw,
		stateMgr: state.New(),
		progress: subscriber,
		ctx:      ctx,
		cancel:   cancel,
		spawn:    func(fn func()) { go fn() },
		updates:  make(chan state.Snapshot, updatesBuffer),
	}
	c.tracker = elapsed.NewTracker(cfg.TickInterval, c.onTick)
	c.stateMgr.SetPhaseObserver(c.onPhaseChange)
	return c
}

// Open activates the session view: the progress subscription is established.
// Open pairs with Close. The subscribe call runs without the controller lock,
// and a Close issued meanwhile cancels it and makes Open return ErrClosed.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.open || c.opening {
		c.mu.Unlock()
		return nil
	}
	c.opening = true
	c.mu.Unlock()

	var err error
	if c.progress != nil {
		// the subscription lives until ctx ends or the controller closes
		actx, cancel := context.WithCancel(ctx)
		context.AfterFunc(c.ctx, cancel)
		if err = c.progress.Activate(actx); err != nil {
			cancel()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opening = false
	if c.closed {
		// the subscriber releases a subscription that outlived Close
		return ErrClosed
	}
	if err != nil {
		return errors.Wrap(err, "failed to activate progress subscription")
	}
	c.open = true
	zlog.Debug().Msg("session view opened")
	return nil
}

// Close deactivates the session view. In-flight outcomes are discarded and
// their backend calls cancelled. The tracker stops and the progress
// subscription is released.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	prev := c.stateMgr.Discard()
	if prev == state.PhaseRecording {
		// end the backend capture; the outcome is discarded with the generation
		c.dispatchDetached(closeEndCaptureTimeout, func(ctx context.Context) {
			if err := c.gateway.EndCapture(ctx); err != nil {
				zlog.Warn().Msgf("failed to end capture on close: %v", gateway.Reason(err))
			}
		})
	}
	c.cancel()
	c.mu.Unlock()

	c.tracker.Stop()
	c.publish()

	var err error
	if c.progress != nil {
		err = c.progress.Deactivate()
	}
	zlog.Debug().Msg("session view closed")
	return err
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() state.Snapshot {
	return c.stateMgr.Snapshot()
}

// Updates delivers a snapshot after each state change. Snapshots are dropped
// when the consumer falls behind; Snapshot always returns the latest.
func (c *Controller) Updates() <-chan state.Snapshot {
	return c.updates
}

// Wait blocks until all in-flight backend calls have returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// BeginRecording starts a new session, discarding any prior sample or model.
// The recording phase is entered before the backend answers.
func (c *Controller) BeginRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	token, err := c.stateMgr.StartRecording()
	if err != nil {
		return err
	}
	zlog.Info().Msgf("recording started: generation=%d", token)
	c.publish()

	opts := voice.DefaultCaptureOptions()
	c.dispatch(func(ctx context.Context) {
		audio, err := c.gateway.BeginCapture(ctx, opts)
		if err != nil {
			detail := reasonOr(err, FallbackCaptureStart)
			c.settle(c.stateMgr.FailCapture(token, detail), gateway.OpBeginCapture, token, detail)
			return
		}
		c.settle(c.stateMgr.CompleteCapture(token, audio), gateway.OpBeginCapture, token, "")
	})
	return nil
}

// StopRecording ends the active recording. Whatever the backend answers, the
// session leaves the recording phase.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	token, err := c.stateMgr.StartStopping()
	if err != nil {
		return err
	}
	zlog.Info().Msgf("stopping recording: generation=%d", token)
	c.publish()

	c.dispatch(func(ctx context.Context) {
		if err := c.gateway.EndCapture(ctx); err != nil {
			detail := reasonOr(err, FallbackCaptureStop)
			c.settle(c.stateMgr.FailStop(token, detail), gateway.OpEndCapture, token, detail)
			return
		}
		c.settle(c.stateMgr.CompleteStop(token), gateway.OpEndCapture, token, "")
	})
	return nil
}

// TrainModel trains a voice model from the captured sample. It is a no-op
// when no sample is stored.
func (c *Controller) TrainModel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	token, audio, ok, err := c.stateMgr.StartTraining()
	if err != nil {
		return err
	}
	if !ok {
		zlog.Debug().Msg("train requested without a captured sample, ignoring")
		return nil
	}
	zlog.Info().Msgf("training started: generation=%d audio=%s", token, audio)
	c.publish()

	opts := voice.NewTrainingOptions(audio)
	c.dispatch(func(ctx context.Context) {
		model, err := c.gateway.BeginTraining(ctx, opts)
		if err != nil {
			detail := reasonOr(err, FallbackTraining)
			c.settle(c.stateMgr.FailTraining(token, detail), gateway.OpBeginTraining, token, detail)
			return
		}
		c.settle(c.stateMgr.CompleteTraining(token, model), gateway.OpBeginTraining, token, "")
	})
	return nil
}

// Reset returns to idle without recording, discarding handles and any
// outstanding training outcome. It is rejected while recording.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	token, err := c.stateMgr.Reset()
	if err != nil {
		return err
	}
	zlog.Info().Msgf("session reset: generation=%d", token)
	c.publish()
	return nil
}

// dispatch runs fn on its own goroutine and tracks it for Wait.
func (c *Controller) dispatch(fn func(ctx context.Context)) {
	c.wg.Add(1)
	c.spawn(func() {
		defer c.wg.Done()
		fn(c.ctx)
	})
}

// dispatchDetached is dispatch with a fresh context bounded by timeout, for
// calls that must outlive Close.
func (c *Controller) dispatchDetached(timeout time.Duration, fn func(ctx context.Context)) {
	c.wg.Add(1)
	c.spawn(func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
	})
}

// settle logs and publishes the outcome of a backend call.
func (c *Controller) settle(applied bool, op gateway.Op, token state.Token, detail string) {
	if !applied {
		zlog.Debug().Msgf("discarded stale %s outcome: generation=%d current=%d", op, token, c.stateMgr.Generation())
		return
	}
	snap := c.stateMgr.Snapshot()
	if detail != "" {
		zlog.Warn().Msgf("%s failed: generation=%d reason=%s", op, token, detail)
	} else {
		zlog.Info().Msgf("%s succeeded: generation=%d phase=%s", op, token, snap.Phase)
	}
	c.send(snap)
}

func (c *Controller) publish() {
	c.send(c.stateMgr.Snapshot())
}

// send delivers a snapshot without blocking.
func (c *Controller) send(s state.Snapshot) {
	select {
	case c.updates <- s:
	default:
	}
}

// onPhaseChange keeps the tracker running exactly while recording.
// Called with the state lock held.
func (c *Controller) onPhaseChange(token state.Token, from, to state.Phase) {
	if to == state.PhaseRecording {
		c.tracker.Start(uint64(token))
		return
	}
	if from == state.PhaseRecording {
		c.tracker.Stop()
	}
}

func (c *Controller) onTick(token uint64, seconds int) {
	if c.stateMgr.SetElapsed(state.Token(token), seconds) {
		c.publish()
	}
}

// reasonOr returns the failure reason carried by err, or fallback when none.
func reasonOr(err error, fallback string) string {
	if r := gateway.Reason(err); r != "" {
		return r
	}
	return fallback
}
