package voting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/ranfdev/pollvote/internal/domain"
	"gitlab.com/ranfdev/pollvote/internal/memstore"
	"gitlab.com/ranfdev/pollvote/internal/metrics"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

var errOutage = errors.New("connection reset by peer")

func newCoordinator(t *testing.T, store domain.VoteStore, catalog domain.PollCatalog) (*Coordinator, *metrics.VoteMetrics) {
	t.Helper()
	m := metrics.NewVoteMetrics(prometheus.NewRegistry())
	c := NewCoordinator(Options{
		Catalog: catalog,
		Store:   store,
		Metrics: m,
		Clock:   clockwork.NewFakeClock(),
		Logger:  zerolog.Nop(),
	})
	return c, m
}

func countsOf(res *models.ToggleResult) map[int64]int {
	counts := map[int64]int{}
	for _, o := range res.Options {
		counts[o.OptionID] = o.VotesCount
	}
	return counts
}

func TestToggleSingleChoiceSwitch(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := memstore.New(nil)
	_, opts := store.AddPoll(models.PollTypeSingleChoice, "A", "B")
	a, b := opts[0], opts[1]
	c, _ := newCoordinator(t, store, store)

	res, err := c.Toggle(ctx, a, "u1")
	require.NoError(err)
	require.Equal(models.ToggleAdded, res.Action)
	require.Nil(res.PreviousOptionID)
	require.False(res.Stale)
	require.Equal(map[int64]int{a: 1, b: 0}, countsOf(res))

	res, err = c.Toggle(ctx, b, "u1")
	require.NoError(err)
	require.Equal(models.ToggleAdded, res.Action)
	require.NotNil(res.PreviousOptionID)
	require.Equal(a, *res.PreviousOptionID)
	require.Equal([]models.OptionCount{{OptionID: a, VotesCount: 0}, {OptionID: b, VotesCount: 1}}, res.Options)
}

func TestToggleSameOptionTwiceRemoves(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := memstore.New(nil)
	_, opts := store.AddPoll(models.PollTypeSingleChoice, "A", "B")
	c, _ := newCoordinator(t, store, store)

	_, err := c.Toggle(ctx, opts[0], "u1")
	require.NoError(err)
	res, err := c.Toggle(ctx, opts[0], "u1")
	require.NoError(err)
	require.Equal(models.ToggleRemoved, res.Action)
	require.Nil(res.PreviousOptionID)
	require.Equal(0, countsOf(res)[opts[0]])
}

func TestToggleMultipleChoiceIndependence(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := memstore.New(nil)
	_, opts := store.AddPoll(models.PollTypeMultipleChoice, "A", "B")
	a, b := opts[0], opts[1]
	c, _ := newCoordinator(t, store, store)

	res, err := c.Toggle(ctx, a, "u1")
	require.NoError(err)
	require.Equal(models.ToggleAdded, res.Action)
	require.Nil(res.PreviousOptionID)

	res, err = c.Toggle(ctx, b, "u1")
	require.NoError(err)
	require.Equal(models.ToggleAdded, res.Action)
	require.Nil(res.PreviousOptionID)
	require.Equal(map[int64]int{a: 1, b: 1}, countsOf(res))

	// Removing B leaves A alone.
	res, err = c.Toggle(ctx, b, "u1")
	require.NoError(err)
	require.Equal(models.ToggleRemoved, res.Action)
	require.Equal(map[int64]int{a: 1, b: 0}, countsOf(res))
}

func TestToggleConvergence(t *testing.T) {
	ctx := context.Background()
	for _, pollType := range []models.PollType{models.PollTypeSingleChoice, models.PollTypeMultipleChoice} {
		for n := 1; n <= 6; n++ {
			t.Run(fmt.Sprintf("%s/%d", pollType, n), func(t *testing.T) {
				store := memstore.New(nil)
				_, opts := store.AddPoll(pollType, "A", "B", "C")
				c, _ := newCoordinator(t, store, store)

				for i := 0; i < n; i++ {
					_, err := c.Toggle(ctx, opts[1], "u1")
					require.NoError(t, err)
				}
				v, err := store.FindVote(ctx, opts[1], "u1")
				require.NoError(t, err)
				if n%2 == 0 {
					assert.Nil(t, v)
				} else {
					assert.NotNil(t, v)
				}
			})
		}
	}
}

func TestToggleCountConservation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := memstore.New(nil)
	pollID, opts := store.AddPoll(models.PollTypeSingleChoice, "A", "B", "C")
	c, _ := newCoordinator(t, store, store)

	sequence := []struct {
		user   string
		option int
	}{
		{"u1", 0}, {"u2", 0}, {"u3", 2}, {"u1", 1}, {"u2", 0}, {"u3", 2}, {"u4", 1}, {"u1", 2},
	}
	for _, step := range sequence {
		_, err := c.Toggle(ctx, opts[step.option], step.user)
		require.NoError(err)
	}

	counts, err := store.ListOptionCounts(ctx, pollID)
	require.NoError(err)
	facts, err := store.CountVotes(ctx, opts)
	require.NoError(err)
	for _, oc := range counts {
		require.GreaterOrEqual(oc.VotesCount, 0)
		require.Equal(facts[oc.OptionID], oc.VotesCount)
	}
	require.Equal(map[int64]int{opts[0]: 0, opts[1]: 1, opts[2]: 1}, facts)
}

func TestToggleSingleChoiceExclusivityUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	_, opts := store.AddPoll(models.PollTypeSingleChoice, "A", "B", "C", "D")
	c, _ := newCoordinator(t, store, store)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Toggle(ctx, opts[i%len(opts)], "u1")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	votes, err := store.FindVotesByUserAcrossOptions(ctx, "u1", opts)
	require.NoError(t, err)
	require.LessOrEqual(t, len(votes), 1)
	require.Equal(t, 0, c.locks.size())
}

func TestToggleOptionNotFound(t *testing.T) {
	store := memstore.New(nil)
	c, m := newCoordinator(t, store, store)

	_, err := c.Toggle(context.Background(), 42, "u1")
	require.ErrorIs(t, err, models.ErrOptionNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Toggles.WithLabelValues("none", "not_found")))
}

func TestAwaitZeroOptionPoll(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := memstore.New(nil)
	pollID, _ := store.AddPoll(models.PollTypeSingleChoice)

	w := NewWaiter(NewReporter(store), store, nil, clockwork.NewFakeClock(), 0, 0)
	counts, fresh, err := w.Await(ctx, pollID)
	require.NoError(err)
	require.True(fresh)
	require.NotNil(counts)
	require.Empty(counts)
}

func TestToggleUnknownPollType(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	_, opts := store.AddPoll(models.PollTypeUnknown, "A", "B")

	t.Run("hard error", func(t *testing.T) {
		c, _ := newCoordinator(t, store, store)
		_, err := c.Toggle(ctx, opts[0], "u1")
		require.ErrorIs(t, err, models.ErrUnknownPollType)
	})
	t.Run("legacy fallback", func(t *testing.T) {
		require := require.New(t)
		c := NewCoordinator(Options{
			Catalog:                    store,
			Store:                      store,
			Clock:                      clockwork.NewFakeClock(),
			Logger:                     zerolog.Nop(),
			LegacySingleChoiceFallback: true,
		})
		_, err := c.Toggle(ctx, opts[0], "u1")
		require.NoError(err)
		res, err := c.Toggle(ctx, opts[1], "u1")
		require.NoError(err)
		require.NotNil(res.PreviousOptionID)
		require.Equal(opts[0], *res.PreviousOptionID)
	})
}

// faultyStore fails inserts chosen by failInsert.
type faultyStore struct {
	*memstore.Store
	mu         sync.Mutex
	failInsert func(optionID int64, attempt int) error
	attempts   int
}

func (f *faultyStore) InsertVote(ctx context.Context, optionID int64, userID string) (*models.Vote, error) {
	f.mu.Lock()
	f.attempts++
	attempt := f.attempts
	fail := f.failInsert
	f.mu.Unlock()
	if fail != nil {
		if err := fail(optionID, attempt); err != nil {
			return nil, err
		}
	}
	return f.Store.InsertVote(ctx, optionID, userID)
}

func (f *faultyStore) setFailInsert(fn func(optionID int64, attempt int) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = 0
	f.failInsert = fn
}

func TestToggleSwitchCompensated(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	mem := memstore.New(nil)
	_, opts := mem.AddPoll(models.PollTypeSingleChoice, "A", "B")
	a, b := opts[0], opts[1]
	store := &faultyStore{Store: mem}
	c, m := newCoordinator(t, store, mem)

	_, err := c.Toggle(ctx, a, "u1")
	require.NoError(err)

	store.setFailInsert(func(optionID int64, _ int) error {
		if optionID == b {
			return errOutage
		}
		return nil
	})
	res, err := c.Toggle(ctx, b, "u1")
	require.Nil(res)
	require.ErrorIs(err, models.ErrStoreUnavailable)
	require.NotErrorIs(err, models.ErrSwitchPartiallyFailed)
	require.ErrorIs(err, errOutage)

	// Back to the state before the call.
	v, err := mem.FindVote(ctx, a, "u1")
	require.NoError(err)
	require.NotNil(v)
	v, err = mem.FindVote(ctx, b, "u1")
	require.NoError(err)
	require.Nil(v)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compensations.WithLabelValues("restored")))
}

func TestToggleSwitchPartiallyFailed(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	mem := memstore.New(nil)
	_, opts := mem.AddPoll(models.PollTypeSingleChoice, "A", "B")
	a, b := opts[0], opts[1]
	store := &faultyStore{Store: mem}
	c, m := newCoordinator(t, store, mem)

	_, err := c.Toggle(ctx, a, "u1")
	require.NoError(err)

	store.setFailInsert(func(int64, int) error { return errOutage })
	_, err = c.Toggle(ctx, b, "u1")
	require.ErrorIs(err, models.ErrSwitchPartiallyFailed)

	votes, err := mem.FindVotesByUserAcrossOptions(ctx, "u1", opts)
	require.NoError(err)
	require.Empty(votes)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compensations.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Toggles.WithLabelValues("none", "partial")))
}

func TestToggleSwitchRestoreOptionGone(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	mem := memstore.New(nil)
	_, opts := mem.AddPoll(models.PollTypeSingleChoice, "A", "B")
	a, b := opts[0], opts[1]
	store := &faultyStore{Store: mem}
	c, m := newCoordinator(t, store, mem)

	_, err := c.Toggle(ctx, a, "u1")
	require.NoError(err)

	store.setFailInsert(func(optionID int64, _ int) error {
		if optionID == b {
			return errOutage
		}
		return models.ErrOptionNotFound
	})
	_, err = c.Toggle(ctx, b, "u1")
	require.ErrorIs(err, models.ErrSwitchPartiallyFailed)
	require.NotErrorIs(err, models.ErrOptionNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Toggles.WithLabelValues("none", "partial")))
}

func TestToggleInsertFailureWithoutSwitch(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New(nil)
	_, opts := mem.AddPoll(models.PollTypeMultipleChoice, "A", "B")
	store := &faultyStore{Store: mem}
	store.setFailInsert(func(int64, int) error { return errOutage })
	c, m := newCoordinator(t, store, mem)

	_, err := c.Toggle(ctx, opts[0], "u1")
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Compensations.WithLabelValues("restored")))
}

// conflictStore reports a conflict the first time, as if a concurrent
// request inserted the same vote.
type conflictStore struct {
	*memstore.Store
	once sync.Once
}

func (s *conflictStore) InsertVote(ctx context.Context, optionID int64, userID string) (*models.Vote, error) {
	var conflict bool
	s.once.Do(func() { conflict = true })
	if conflict {
		if _, err := s.Store.InsertVote(ctx, optionID, userID); err != nil {
			return nil, err
		}
		return nil, models.ErrVoteConflict
	}
	return s.Store.InsertVote(ctx, optionID, userID)
}

func TestToggleConflictIsIdempotent(t *testing.T) {
	require := require.New(t)
	mem := memstore.New(nil)
	_, opts := mem.AddPoll(models.PollTypeSingleChoice, "A")
	c, _ := newCoordinator(t, &conflictStore{Store: mem}, mem)

	res, err := c.Toggle(context.Background(), opts[0], "u1")
	require.NoError(err)
	require.Equal(models.ToggleAdded, res.Action)
	require.Equal(1, countsOf(res)[opts[0]])
}

// txStore runs toggles atomically by undoing the writes of a failed group.
type txStore struct {
	*memstore.Store
	failInsert bool
	txs        int
}

func (s *txStore) WithinVoteLock(ctx context.Context, pollID int64, userID string, fn func(context.Context, domain.VoteStore) error) error {
	s.txs++
	tx := &undoStore{Store: s.Store, failInsert: s.failInsert}
	if err := fn(ctx, tx); err != nil {
		tx.rollback(ctx)
		return err
	}
	return nil
}

type undoStore struct {
	*memstore.Store
	failInsert bool
	inserted   []uuid.UUID
	deleted    []models.Vote
}

func (s *undoStore) InsertVote(ctx context.Context, optionID int64, userID string) (*models.Vote, error) {
	if s.failInsert {
		return nil, errOutage
	}
	v, err := s.Store.InsertVote(ctx, optionID, userID)
	if err == nil {
		s.inserted = append(s.inserted, v.ID)
	}
	return v, err
}

func (s *undoStore) DeleteVote(ctx context.Context, voteID uuid.UUID) error {
	if v, ok := s.Store.Vote(voteID); ok {
		s.deleted = append(s.deleted, v)
	}
	return s.Store.DeleteVote(ctx, voteID)
}

func (s *undoStore) rollback(ctx context.Context) {
	for _, id := range s.inserted {
		_ = s.Store.DeleteVote(ctx, id)
	}
	for _, v := range s.deleted {
		_, _ = s.Store.InsertVote(ctx, v.OptionID, v.UserID)
	}
}

func TestToggleTransactionalStore(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	mem := memstore.New(nil)
	_, opts := mem.AddPoll(models.PollTypeSingleChoice, "A", "B")
	a, b := opts[0], opts[1]
	store := &txStore{Store: mem}
	c, m := newCoordinator(t, store, mem)

	_, err := c.Toggle(ctx, a, "u1")
	require.NoError(err)
	res, err := c.Toggle(ctx, b, "u1")
	require.NoError(err)
	require.Equal(a, *res.PreviousOptionID)
	require.Equal(2, store.txs)

	// A failed switch rolls back without any compensation.
	store.failInsert = true
	_, err = c.Toggle(ctx, a, "u1")
	require.ErrorIs(err, models.ErrStoreUnavailable)
	require.NotErrorIs(err, models.ErrSwitchPartiallyFailed)

	v, err := mem.FindVote(ctx, b, "u1")
	require.NoError(err)
	require.NotNil(v)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Compensations.WithLabelValues("restored")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Compensations.WithLabelValues("failed")))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.VoteEvent
	err    error
}

func (p *recordingPublisher) PublishVoteEvents(ctx context.Context, events []models.VoteEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func TestTogglePublishesVoteEvents(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := memstore.New(nil)
	pollID, opts := store.AddPoll(models.PollTypeSingleChoice, "A", "B")
	publisher := &recordingPublisher{}
	c := NewCoordinator(Options{
		Catalog:   store,
		Store:     store,
		Publisher: publisher,
		Clock:     clockwork.NewFakeClock(),
		Logger:    zerolog.Nop(),
	})

	_, err := c.Toggle(ctx, opts[0], "u1")
	require.NoError(err)
	_, err = c.Toggle(ctx, opts[1], "u1")
	require.NoError(err)

	require.Len(publisher.events, 3)
	require.Equal(models.VoteEventAdded, publisher.events[0].Type)
	require.Equal(models.VoteEventAdded, publisher.events[1].Type)
	require.Equal(opts[1], publisher.events[1].OptionID)
	require.Equal(models.VoteEventRemoved, publisher.events[2].Type)
	require.Equal(opts[0], publisher.events[2].OptionID)
	for _, e := range publisher.events {
		require.Equal(pollID, e.PollID)
		require.Equal("u1", e.UserID)
	}

	// Publishing failures never fail the toggle.
	publisher.err = errOutage
	res, err := c.Toggle(ctx, opts[1], "u1")
	require.NoError(err)
	require.Equal(models.ToggleRemoved, res.Action)
}
