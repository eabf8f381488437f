package progress

import (
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/cantovox/internal/domain/voice"
)

// LogSink logs progress events, dropping events beyond the configured rate.
type LogSink struct {
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// NewLogSink creates a sink logging at most perSecond events per second.
// A non-positive perSecond disables throttling.
func NewLogSink(perSecond float64) *LogSink {
	limit := rate.Inf
	burst := 0
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &LogSink{
		limiter: rate.NewLimiter(limit, burst),
		logger:  &zlog.Logger,
	}
}

// WithLogger sets the logger used by the sink.
func (s *LogSink) WithLogger(l *zerolog.Logger) *LogSink {
	s.logger = l
	return s
}

// Observe implements Sink.
func (s *LogSink) Observe(e voice.ProgressEvent) {
	if !s.limiter.Allow() {
		return
	}
	r := e.Report()
	s.logger.Info().
		Str("topic", e.Topic).
		Uint64("seq", e.SequenceNo).
		Str("stage", r.Stage).
		Float64("percent", r.Percent).
		Msgf("progress: %s", r.Message)
}
