// Package wdd receives waggle records from dance decoders over WebSocket
// sessions or NATS and pushes them into the bridge's inbound queue.
package wdd

import (
	"context"
	"errors"
	"time"

	"github.com/okian/wddbridge/internal/domain/dedupe"
	"github.com/okian/wddbridge/internal/domain/model"
	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/metrics"
	"github.com/okian/wddbridge/pkg/stats"
)

// Sink accepts decoded waggles. The inbound queue implements it.
type Sink interface {
	Enqueue(ctx context.Context, ev model.WaggleEvent) error
}

// Option configures a Listener or Subscriber.
type Option func(*intake)

// WithDeduper drops records whose (cam_id, waggle_id) was already accepted.
func WithDeduper(d dedupe.Deduper) Option {
	return func(in *intake) {
		if d != nil {
			in.dedupe = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(in *intake) {
		if l != nil {
			in.log = l
		}
	}
}

// WithRecorder sets the statistics sink.
func WithRecorder(r stats.Recorder) Option {
	return func(in *intake) {
		if r != nil {
			in.stats = r
		}
	}
}

// WithClock overrides the time source used for latency.
func WithClock(now func() time.Time) Option {
	return func(in *intake) {
		if now != nil {
			in.now = now
		}
	}
}

// intake is shared by all sources: decode, de-duplicate, enqueue.
type intake struct {
	sink   Sink
	dedupe dedupe.Deduper
	log    logger.Logger
	stats  stats.Recorder
	now    func() time.Time
}

func newIntake(sink Sink, name string, opts []Option) *intake {
	in := &intake{
		sink:  sink,
		stats: stats.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.log == nil {
		in.log = logger.Named("wdd")
	}
	in.log = in.log.Named(name)
	return in
}

// accept handles one frame. It returns closed=true when the peer asked to
// end the session.
func (in *intake) accept(ctx context.Context, f Format, data []byte, peer string) (closed bool) {
	ev, closed, err := Decode(f, data)
	if closed {
		in.log.Info(ctx, "closing session on request", logger.String("peer", peer))
		return true
	}
	if err != nil {
		in.log.Warn(ctx, "received invalid record", logger.String("peer", peer), logger.Error(err))
		metrics.RecordWaggleDropped("malformed")
		return false
	}

	var key string
	if in.dedupe != nil {
		key = dedupe.Key(ev.CameraID, ev.EventID)
		if in.dedupe.SeenAndRecord(ctx, key) {
			in.log.Debug(ctx, "duplicate waggle dropped",
				logger.String("cam_id", ev.CameraID), logger.String("waggle_id", ev.EventID))
			metrics.RecordWaggleDropped("duplicate")
			return false
		}
	}

	if err := in.sink.Enqueue(ctx, ev); err != nil {
		if in.dedupe != nil {
			in.dedupe.Unrecord(ctx, key)
		}
		reason := "queue_full"
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			in.log.Warn(ctx, "inbound queue rejected waggle", logger.String("cam_id", ev.CameraID), logger.Error(err))
		} else {
			reason = "canceled"
		}
		metrics.RecordWaggleDropped(reason)
		return false
	}

	var ago time.Duration
	if !ev.SystemTimestamp.IsZero() {
		ago = in.now().Sub(ev.SystemTimestamp)
		metrics.RecordEventLatency(ago.Seconds())
	}
	metrics.RecordWaggleReceived(ev.CameraID)
	in.log.Debug(ctx, "received waggle",
		logger.String("cam_id", ev.CameraID),
		logger.String("peer", peer),
		logger.Duration("detected_ago", ago))
	fields := []logger.Field{
		logger.String("cam_id", ev.CameraID),
		logger.Time("waggle_timestamp", ev.Timestamp),
		logger.String("waggle_id", ev.EventID),
	}
	if ev.Angle != nil {
		fields = append(fields, logger.Float64("waggle_angle", *ev.Angle))
	}
	in.stats.Log(ctx, "received waggle", fields...)
	return false
}
