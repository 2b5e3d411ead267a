package voting

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"gitlab.com/ranfdev/pollvote/internal/domain"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

const (
	DefaultPropagationTimeout      = 2 * time.Second
	DefaultPropagationPollInterval = 100 * time.Millisecond
)

// Waiter waits, for a bounded time, until the projected counts of a poll
// agree with the vote facts. It wakes up on projection signals when they
// are available and re-checks every poll interval otherwise.
type Waiter struct {
	reporter *Reporter
	store    domain.VoteStore
	signals  domain.ProjectionSignals
	clock    clockwork.Clock
	timeout  time.Duration
	interval time.Duration
}

func NewWaiter(reporter *Reporter, store domain.VoteStore, signals domain.ProjectionSignals, clock clockwork.Clock, timeout, interval time.Duration) *Waiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = DefaultPropagationTimeout
	}
	if interval <= 0 {
		interval = DefaultPropagationPollInterval
	}
	return &Waiter{
		reporter: reporter,
		store:    store,
		signals:  signals,
		clock:    clock,
		timeout:  timeout,
		interval: interval,
	}
}

// Await returns the counts of the poll and whether they are known to be
// fresh. When the timeout expires or ctx is done, the last counts read are
// returned with fresh set to false.
func (w *Waiter) Await(ctx context.Context, pollID int64) ([]models.OptionCount, bool, error) {
	var signals <-chan struct{}
	if w.signals != nil {
		ch, cancel := w.signals.Subscribe(pollID)
		defer cancel()
		signals = ch
	}
	timeout := w.clock.After(w.timeout)
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		counts, fresh, err := w.check(ctx, pollID)
		if err != nil || fresh {
			return counts, fresh, err
		}

		select {
		case <-signals:
		case <-ticker.Chan():
		case <-timeout:
			return w.check(ctx, pollID)
		case <-ctx.Done():
			return counts, false, nil
		}
	}
}

func (w *Waiter) check(ctx context.Context, pollID int64) ([]models.OptionCount, bool, error) {
	counts, err := w.reporter.BuildReport(ctx, pollID)
	if err != nil {
		return nil, false, err
	}
	if len(counts) == 0 {
		return counts, true, nil
	}

	optionIDs := make([]int64, len(counts))
	for i, c := range counts {
		optionIDs[i] = c.OptionID
	}
	facts, err := w.store.CountVotes(ctx, optionIDs)
	if err != nil {
		return nil, false, err
	}
	for _, c := range counts {
		if facts[c.OptionID] != c.VotesCount {
			return counts, false, nil
		}
	}
	return counts, true, nil
}
