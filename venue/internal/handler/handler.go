package handler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/pkg/model"
	"github.com/Checker-Finance/bond-venue/venue/internal/venue"
)

// sweepInterval paces the staleness sweep job. The sweep itself is a noop
// unless the venue is configured with an indication TTL.
const sweepInterval = 1 * time.Second

// Loop consumes NATS commands addressed to the venue and drives the facade
// from a single goroutine. Every inbound message, timer expiry and sweep is
// posted to the jobs channel as a closure; the loop drains it serially, so
// the facade never needs a lock.
type Loop struct {
	logger   *zap.Logger
	nc       *nats.Conn
	identity model.Identity
	subject  string
	jobs     chan func() []venue.Outbound
	sub      *nats.Subscription
}

// NewLoop constructs the event loop. The venue facade is built by the caller
// against Scheduler() so its deadlines run on this loop.
func NewLoop(logger *zap.Logger, nc *nats.Conn, identity model.Identity, subject string) *Loop {
	return &Loop{
		logger:   logger,
		nc:       nc,
		identity: identity,
		subject:  subject,
		jobs:     make(chan func() []venue.Outbound, 1024),
	}
}

// Scheduler returns a venue.Scheduler whose tasks run on this loop.
func (l *Loop) Scheduler() venue.Scheduler {
	return &loopScheduler{loop: l}
}

// Start subscribes to the venue's command subject and runs the loop until
// the context is cancelled. Blocks; run it as the service's main goroutine.
func (l *Loop) Start(ctx context.Context, v *venue.Venue) error {
	sub, err := l.nc.Subscribe(l.subject, func(msg *nats.Msg) {
		var env model.Envelope
		if err := env.UnmarshalFrom(msg.Data); err != nil {
			l.logger.Warn("venue.invalid_envelope", zap.Error(err))
			return
		}
		replyTo := msg.Reply
		l.post(func() []venue.Outbound {
			return v.HandleEnvelope(env, replyTo)
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.subject, err)
	}
	l.sub = sub
	l.logger.Info("venue.listening", zap.String("subject", l.subject))

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-l.jobs:
			l.send(job())
		case <-sweep.C:
			l.send(v.OnSweep())
		}
	}
}

// Drain unsubscribes and lets in-flight NATS callbacks finish.
func (l *Loop) Drain() error {
	if l.sub == nil {
		return nil
	}
	return l.sub.Drain()
}

// post enqueues a job. Dropping under backpressure would corrupt protocol
// state, so a full queue blocks the producer instead.
func (l *Loop) post(job func() []venue.Outbound) {
	l.jobs <- job
}

// send publishes each outbound as a fresh envelope from the venue identity.
func (l *Loop) send(outs []venue.Outbound) {
	for _, out := range outs {
		if out.Subject == "" {
			continue
		}
		env, err := model.NewEnvelope(out.Kind, l.identity, out.Payload)
		if err != nil {
			l.logger.Error("venue.encode_outbound", zap.String("kind", out.Kind), zap.Error(err))
			continue
		}
		data, err := env.Marshal()
		if err != nil {
			l.logger.Error("venue.marshal_outbound", zap.String("kind", out.Kind), zap.Error(err))
			continue
		}
		if err := l.nc.Publish(out.Subject, data); err != nil {
			l.logger.Warn("venue.publish_failed",
				zap.String("subject", out.Subject),
				zap.String("kind", out.Kind),
				zap.Error(err),
			)
		}
	}
}

// loopScheduler arms wall-clock timers that fire back into the loop, so the
// expiry handler runs serialized with message dispatch.
type loopScheduler struct {
	loop *Loop
}

func (s *loopScheduler) Schedule(d time.Duration, task func() []venue.Outbound) func() {
	var cancelled atomic.Bool
	t := time.AfterFunc(d, func() {
		s.loop.post(func() []venue.Outbound {
			if cancelled.Load() {
				// Cancelled after the timer fired but before the loop
				// drained the job.
				return nil
			}
			return task()
		})
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
	}
}
