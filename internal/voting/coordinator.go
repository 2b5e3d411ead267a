package voting

// Toggle protocol
// ----
// A toggle on option X by user U does one of three things:
// - U already voted X: the vote is removed.
// - X belongs to a multiple choice poll: a vote on X is added, other
//   votes of U in the poll are left alone.
// - X belongs to a single choice poll: every vote of U on the sibling
//   options is removed, then a vote on X is added.
//
// The last case spans several rows, so it must not interleave with another
// toggle of the same user in the same poll. Stores implementing
// domain.Transactor run it in one transaction under a (poll, user) lock and
// failures simply roll back. Other stores are serialised with an in-process
// lock and a failed insert after a switch is compensated by re-inserting the
// removed votes.
//
// Vote counts are never written here. They are a projection of the vote rows
// maintained elsewhere; after the toggle we only wait, for a bounded time,
// until the projection catches up.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"gitlab.com/ranfdev/pollvote/internal/domain"
	"gitlab.com/ranfdev/pollvote/internal/metrics"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

type Options struct {
	Catalog domain.PollCatalog
	Store   domain.VoteStore

	// Optional collaborators.
	Signals   domain.ProjectionSignals
	Publisher domain.VoteEventPublisher
	Metrics   *metrics.VoteMetrics
	Clock     clockwork.Clock
	Logger    zerolog.Logger

	PropagationTimeout      time.Duration
	PropagationPollInterval time.Duration

	// LegacySingleChoiceFallback treats polls without a valid type as
	// single choice instead of failing the toggle.
	LegacySingleChoiceFallback bool
}

type Coordinator struct {
	catalog   domain.PollCatalog
	store     domain.VoteStore
	waiter    *Waiter
	publisher domain.VoteEventPublisher
	metrics   *metrics.VoteMetrics
	clock     clockwork.Clock
	logger    zerolog.Logger
	locks     *keyedLocks

	legacySingleChoice bool
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	reporter := NewReporter(opts.Catalog)
	return &Coordinator{
		catalog:            opts.Catalog,
		store:              opts.Store,
		waiter:             NewWaiter(reporter, opts.Store, opts.Signals, opts.Clock, opts.PropagationTimeout, opts.PropagationPollInterval),
		publisher:          opts.Publisher,
		metrics:            opts.Metrics,
		clock:              opts.Clock,
		logger:             opts.Logger,
		locks:              newKeyedLocks(),
		legacySingleChoice: opts.LegacySingleChoiceFallback,
	}
}

type toggleOutcome struct {
	action   models.ToggleAction
	previous *int64
	events   []models.VoteEvent
}

// Toggle adds, removes or switches the vote of userID on optionID and
// returns the fresh counts of the poll.
//
// Errors: models.ErrOptionNotFound, models.ErrUnknownPollType,
// models.ErrStoreUnavailable (nothing changed, safe to retry) and
// models.ErrSwitchPartiallyFailed (a previous vote was lost).
func (c *Coordinator) Toggle(ctx context.Context, optionID int64, userID string) (*models.ToggleResult, error) {
	start := c.clock.Now()
	res, err := c.toggle(ctx, optionID, userID)

	action, result := "none", "ok"
	if res != nil {
		action = string(res.Action)
	}
	switch {
	case err == nil:
	case errors.Is(err, models.ErrSwitchPartiallyFailed):
		result = "partial"
	case errors.Is(err, models.ErrOptionNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	c.metrics.ObserveToggle(action, result, c.clock.Since(start))
	return res, err
}

func (c *Coordinator) toggle(ctx context.Context, optionID int64, userID string) (*models.ToggleResult, error) {
	pollID, pollType, err := c.resolvePoll(ctx, optionID)
	if err != nil {
		return nil, err
	}

	var siblings []int64
	if pollType == models.PollTypeSingleChoice {
		siblings, err = c.catalog.GetSiblingOptionIDs(ctx, pollID)
		if err != nil {
			return nil, unavailable(fmt.Errorf("listing sibling options: %w", err))
		}
	}

	var out toggleOutcome
	err = c.withVoteLock(ctx, pollID, userID, func(ctx context.Context, store domain.VoteStore, compensate bool) error {
		var err error
		out, err = c.apply(ctx, store, pollID, siblings, optionID, userID, compensate)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrSwitchPartiallyFailed) {
			return nil, err
		}
		return nil, unavailable(err)
	}

	log := c.logger.With().Int64("poll_id", pollID).Int64("option_id", optionID).Str("user_id", userID).Logger()
	if out.previous != nil {
		log.Debug().Int64("previous_option_id", *out.previous).Msg("Vote switched")
	}
	c.publish(ctx, log, out.events)

	waitStart := c.clock.Now()
	counts, fresh, err := c.waiter.Await(ctx, pollID)
	c.metrics.ObserveProjection(c.clock.Since(waitStart), fresh)
	if err != nil {
		return nil, unavailable(fmt.Errorf("reading vote counts: %w", err))
	}
	if !fresh {
		log.Warn().Msg("Vote counts did not catch up before the propagation timeout")
	}

	return &models.ToggleResult{
		Action:           out.action,
		PreviousOptionID: out.previous,
		Options:          counts,
		Stale:            !fresh,
	}, nil
}

func (c *Coordinator) resolvePoll(ctx context.Context, optionID int64) (int64, models.PollType, error) {
	pollID, pollType, err := c.catalog.GetPollType(ctx, optionID)
	if errors.Is(err, models.ErrOptionNotFound) || errors.Is(err, models.ErrPollNotFound) {
		return 0, "", fmt.Errorf("option %d: %w", optionID, models.ErrOptionNotFound)
	}
	if err != nil {
		return 0, "", unavailable(fmt.Errorf("resolving poll of option %d: %w", optionID, err))
	}

	switch pollType {
	case models.PollTypeSingleChoice, models.PollTypeMultipleChoice:
		return pollID, pollType, nil
	}
	if !c.legacySingleChoice {
		return 0, "", fmt.Errorf("poll %d: %w", pollID, models.ErrUnknownPollType)
	}
	c.logger.Warn().
		Int64("poll_id", pollID).
		Str("poll_type", string(pollType)).
		Msg("Poll has no valid type, treating it as single choice")
	return pollID, models.PollTypeSingleChoice, nil
}

func (c *Coordinator) withVoteLock(ctx context.Context, pollID int64, userID string, fn func(ctx context.Context, store domain.VoteStore, compensate bool) error) error {
	if tx, ok := c.store.(domain.Transactor); ok {
		return tx.WithinVoteLock(ctx, pollID, userID, func(ctx context.Context, store domain.VoteStore) error {
			return fn(ctx, store, false)
		})
	}
	unlock := c.locks.Lock(voteLockKey(pollID, userID))
	defer unlock()
	return fn(ctx, c.store, true)
}

// apply runs the state transition. siblings is only set for single choice
// polls. With compensate set, a failed insert after removing previous votes
// restores them before returning.
func (c *Coordinator) apply(ctx context.Context, store domain.VoteStore, pollID int64, siblings []int64, optionID int64, userID string, compensate bool) (toggleOutcome, error) {
	var out toggleOutcome

	existing, err := store.FindVote(ctx, optionID, userID)
	if err != nil {
		return out, fmt.Errorf("finding vote: %w", err)
	}
	if existing != nil {
		out.action = models.ToggleRemoved
		err := store.DeleteVote(ctx, existing.ID)
		if errors.Is(err, models.ErrVoteNotFound) {
			// Removed concurrently, the wanted state is reached anyway.
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("removing vote: %w", err)
		}
		out.events = append(out.events, c.event(models.VoteEventRemoved, pollID, *existing))
		return out, nil
	}

	var removed []models.Vote
	if others := without(siblings, optionID); len(others) > 0 {
		held, err := store.FindVotesByUserAcrossOptions(ctx, userID, others)
		if err != nil {
			return out, fmt.Errorf("finding sibling votes: %w", err)
		}
		for _, v := range orderByOptions(held, others) {
			err := store.DeleteVote(ctx, v.ID)
			if errors.Is(err, models.ErrVoteNotFound) {
				continue
			}
			if err != nil {
				return out, c.failSwitch(ctx, store, removed, fmt.Errorf("removing previous vote: %w", err), compensate)
			}
			removed = append(removed, v)
		}
	}

	vote, err := store.InsertVote(ctx, optionID, userID)
	switch {
	case errors.Is(err, models.ErrVoteConflict):
		// A concurrent toggle already added this exact vote.
	case err != nil:
		return out, c.failSwitch(ctx, store, removed, fmt.Errorf("inserting vote: %w", err), compensate)
	default:
		out.events = append(out.events, c.event(models.VoteEventAdded, pollID, *vote))
	}

	out.action = models.ToggleAdded
	if len(removed) > 0 {
		previous := removed[0].OptionID
		out.previous = &previous
	}
	for _, v := range removed {
		out.events = append(out.events, c.event(models.VoteEventRemoved, pollID, v))
	}
	return out, nil
}

// failSwitch tries to put back the votes removed by a switch that could not
// complete.
func (c *Coordinator) failSwitch(ctx context.Context, store domain.VoteStore, removed []models.Vote, cause error, compensate bool) error {
	if !compensate || len(removed) == 0 {
		return cause
	}

	// The request may be gone already, the restore must still run.
	ctx = context.WithoutCancel(ctx)
	for _, v := range removed {
		_, err := store.InsertVote(ctx, v.OptionID, v.UserID)
		if err != nil && !errors.Is(err, models.ErrVoteConflict) {
			c.metrics.Compensation("failed")
			c.logger.Error().
				Err(err).
				AnErr("cause", cause).
				Int64("option_id", v.OptionID).
				Str("user_id", v.UserID).
				Msg("Could not restore previous vote after a failed switch")
			return fmt.Errorf("%w: restoring vote on option %d: %v (switch failed: %v)",
				models.ErrSwitchPartiallyFailed, v.OptionID, err, cause)
		}
	}
	c.metrics.Compensation("restored")
	c.logger.Warn().Err(cause).Int("restored", len(removed)).Msg("Switch failed, previous vote restored")
	return cause
}

func (c *Coordinator) publish(ctx context.Context, log zerolog.Logger, events []models.VoteEvent) {
	if c.publisher == nil || len(events) == 0 {
		return
	}
	if err := c.publisher.PublishVoteEvents(ctx, events); err != nil {
		log.Error().Err(err).Int("events", len(events)).Msg("Publishing vote events")
	}
}

func (c *Coordinator) event(t models.VoteEventType, pollID int64, v models.Vote) models.VoteEvent {
	return models.VoteEvent{
		Type:       t,
		PollID:     pollID,
		OptionID:   v.OptionID,
		UserID:     v.UserID,
		VoteID:     v.ID,
		OccurredAt: c.clock.Now(),
	}
}

func unavailable(err error) error {
	if errors.Is(err, models.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
}

func without(ids []int64, id int64) []int64 {
	res := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			res = append(res, v)
		}
	}
	return res
}

// orderByOptions sorts votes following the order of optionIDs.
func orderByOptions(votes []models.Vote, optionIDs []int64) []models.Vote {
	byOption := make(map[int64][]models.Vote, len(votes))
	for _, v := range votes {
		byOption[v.OptionID] = append(byOption[v.OptionID], v)
	}
	res := make([]models.Vote, 0, len(votes))
	for _, id := range optionIDs {
		res = append(res, byOption[id]...)
	}
	return res
}
