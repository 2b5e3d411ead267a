// Package memstore keeps polls and votes in memory. Vote counts are
// projected synchronously, so after every write the counts are exact.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gitlab.com/ranfdev/pollvote/internal/models"
	"gitlab.com/ranfdev/pollvote/internal/pubsub"
)

type Store struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	hub     *pubsub.Hub
	nextID  int64
	polls   map[int64]models.Poll
	options map[int64]*models.PollOption
	votes   map[uuid.UUID]models.Vote
	byPair  map[voteKey]uuid.UUID
}

type voteKey struct {
	optionID int64
	userID   string
}

func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:   clock,
		hub:     pubsub.NewHub(),
		polls:   make(map[int64]models.Poll),
		options: make(map[int64]*models.PollOption),
		votes:   make(map[uuid.UUID]models.Vote),
		byPair:  make(map[voteKey]uuid.UUID),
	}
}

// AddPoll creates a poll with one option per label, in order, and returns
// the poll id and the option ids.
func (s *Store) AddPoll(pollType models.PollType, labels ...string) (int64, []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	pollID := s.nextID
	s.polls[pollID] = models.Poll{ID: pollID, Type: pollType}

	optionIDs := make([]int64, 0, len(labels))
	for i, label := range labels {
		s.nextID++
		s.options[s.nextID] = &models.PollOption{
			ID:       s.nextID,
			PollID:   pollID,
			Label:    label,
			Position: i,
		}
		optionIDs = append(optionIDs, s.nextID)
	}
	return pollID, optionIDs
}

// DeletePoll removes a poll with its options and votes.
func (s *Store) DeletePoll(pollID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, opt := range s.options {
		if opt.PollID != pollID {
			continue
		}
		for key, voteID := range s.byPair {
			if key.optionID == id {
				delete(s.byPair, key)
				delete(s.votes, voteID)
			}
		}
		delete(s.options, id)
	}
	delete(s.polls, pollID)
}

func (s *Store) Subscribe(pollID int64) (<-chan struct{}, func()) {
	return s.hub.Subscribe(pollID)
}

func (s *Store) GetPollType(ctx context.Context, optionID int64) (int64, models.PollType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opt, ok := s.options[optionID]
	if !ok {
		return 0, "", models.ErrOptionNotFound
	}
	poll, ok := s.polls[opt.PollID]
	if !ok {
		return 0, "", models.ErrPollNotFound
	}
	return poll.ID, poll.Type, nil
}

func (s *Store) GetSiblingOptionIDs(ctx context.Context, pollID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.polls[pollID]; !ok {
		return nil, models.ErrPollNotFound
	}
	opts := s.pollOptions(pollID)
	ids := make([]int64, len(opts))
	for i, o := range opts {
		ids[i] = o.ID
	}
	return ids, nil
}

func (s *Store) ListOptionCounts(ctx context.Context, pollID int64) ([]models.OptionCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.polls[pollID]; !ok {
		return nil, models.ErrPollNotFound
	}
	opts := s.pollOptions(pollID)
	counts := make([]models.OptionCount, len(opts))
	for i, o := range opts {
		counts[i] = models.OptionCount{OptionID: o.ID, VotesCount: o.VotesCount}
	}
	return counts, nil
}

func (s *Store) FindVote(ctx context.Context, optionID int64, userID string) (*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPair[voteKey{optionID, userID}]
	if !ok {
		return nil, nil
	}
	v := s.votes[id]
	return &v, nil
}

// Vote returns a vote by id.
func (s *Store) Vote(voteID uuid.UUID) (models.Vote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[voteID]
	return v, ok
}

func (s *Store) FindVotesByUserAcrossOptions(ctx context.Context, userID string, optionIDs []int64) ([]models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var votes []models.Vote
	for _, optionID := range optionIDs {
		if id, ok := s.byPair[voteKey{optionID, userID}]; ok {
			votes = append(votes, s.votes[id])
		}
	}
	return votes, nil
}

func (s *Store) InsertVote(ctx context.Context, optionID int64, userID string) (*models.Vote, error) {
	s.mu.Lock()
	opt, ok := s.options[optionID]
	if !ok {
		s.mu.Unlock()
		return nil, models.ErrOptionNotFound
	}
	key := voteKey{optionID, userID}
	if _, exists := s.byPair[key]; exists {
		s.mu.Unlock()
		return nil, models.ErrVoteConflict
	}
	v := models.Vote{
		ID:        uuid.New(),
		OptionID:  optionID,
		UserID:    userID,
		CreatedAt: s.clock.Now(),
	}
	s.votes[v.ID] = v
	s.byPair[key] = v.ID
	opt.VotesCount++
	pollID := opt.PollID
	s.mu.Unlock()

	s.hub.Publish(pollID)
	return &v, nil
}

func (s *Store) DeleteVote(ctx context.Context, voteID uuid.UUID) error {
	s.mu.Lock()
	v, ok := s.votes[voteID]
	if !ok {
		s.mu.Unlock()
		return models.ErrVoteNotFound
	}
	delete(s.votes, voteID)
	delete(s.byPair, voteKey{v.OptionID, v.UserID})
	var pollID int64
	if opt, ok := s.options[v.OptionID]; ok {
		opt.VotesCount--
		pollID = opt.PollID
	}
	s.mu.Unlock()

	s.hub.Publish(pollID)
	return nil
}

func (s *Store) CountVotes(ctx context.Context, optionIDs []int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]bool, len(optionIDs))
	counts := make(map[int64]int, len(optionIDs))
	for _, id := range optionIDs {
		wanted[id] = true
		counts[id] = 0
	}
	for key := range s.byPair {
		if wanted[key.optionID] {
			counts[key.optionID]++
		}
	}
	return counts, nil
}

// pollOptions must be called with s.mu held.
func (s *Store) pollOptions(pollID int64) []*models.PollOption {
	var opts []*models.PollOption
	for _, o := range s.options {
		if o.PollID == pollID {
			opts = append(opts, o)
		}
	}
	sort.Slice(opts, func(i, j int) bool {
		if opts[i].Position == opts[j].Position {
			return opts[i].ID < opts[j].ID
		}
		return opts[i].Position < opts[j].Position
	})
	return opts
}
