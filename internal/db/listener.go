package db

import (
	"context"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"gitlab.com/ranfdev/pollvote/internal/pubsub"
)

// ProjectionChannel is notified by the vote count trigger with the id of
// the poll whose counts changed.
const ProjectionChannel = "poll_votes_projected"

const (
	listenMinBackoff = 500 * time.Millisecond
	listenMaxBackoff = 30 * time.Second
)

// Listener turns postgres notifications about projected vote counts into
// per poll signals.
type Listener struct {
	sdb    *SharedDB
	hub    *pubsub.Hub
	clock  clockwork.Clock
	logger zerolog.Logger
	ready  chan struct{}
}

func NewListener(sdb *SharedDB, logger zerolog.Logger) *Listener {
	return &Listener{
		sdb:    sdb,
		hub:    pubsub.NewHub(),
		clock:  clockwork.NewRealClock(),
		logger: logger,
		ready:  make(chan struct{}),
	}
}

func (l *Listener) Subscribe(pollID int64) (<-chan struct{}, func()) {
	return l.hub.Subscribe(pollID)
}

// Ready is closed once the first LISTEN succeeded.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Run listens until ctx is done, reconnecting with exponential backoff.
func (l *Listener) Run(ctx context.Context) {
	backoff := listenMinBackoff
	for {
		err := l.listen(ctx, func() { backoff = listenMinBackoff })
		if ctx.Err() != nil {
			return
		}
		l.logger.Error().Err(err).Dur("retry_in", backoff).Msg("Projection listener disconnected")

		select {
		case <-l.clock.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > listenMaxBackoff {
			backoff = listenMaxBackoff
		}
	}
}

func (l *Listener) listen(ctx context.Context, connected func()) error {
	pooled, err := l.sdb.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// A listening connection must not go back to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.WithoutCancel(ctx))

	if _, err := conn.Exec(ctx, "LISTEN "+ProjectionChannel); err != nil {
		return err
	}
	connected()
	select {
	case <-l.ready:
	default:
		close(l.ready)
	}
	l.logger.Debug().Str("channel", ProjectionChannel).Msg("Listening for projected vote counts")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		pollID, err := strconv.ParseInt(n.Payload, 10, 64)
		if err != nil {
			l.logger.Warn().Str("payload", n.Payload).Msg("Ignoring malformed projection notification")
			continue
		}
		l.hub.Publish(pollID)
	}
}
