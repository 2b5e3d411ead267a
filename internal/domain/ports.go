package domain

import (
	"context"

	"github.com/google/uuid"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

// PollCatalog is the read-only view over poll metadata and the
// projected vote counts.
type PollCatalog interface {
	GetPollType(ctx context.Context, optionID int64) (pollID int64, pollType models.PollType, err error)
	GetSiblingOptionIDs(ctx context.Context, pollID int64) ([]int64, error)
	ListOptionCounts(ctx context.Context, pollID int64) ([]models.OptionCount, error)
}

// VoteStore holds the vote facts. It has no way to write vote counts.
type VoteStore interface {
	FindVote(ctx context.Context, optionID int64, userID string) (*models.Vote, error)
	FindVotesByUserAcrossOptions(ctx context.Context, userID string, optionIDs []int64) ([]models.Vote, error)
	InsertVote(ctx context.Context, optionID int64, userID string) (*models.Vote, error)
	DeleteVote(ctx context.Context, voteID uuid.UUID) error
	CountVotes(ctx context.Context, optionIDs []int64) (map[int64]int, error)
}

// Transactor is implemented by vote stores able to run a group of
// operations atomically while holding a lock scoped to (pollID, userID).
// If fn returns an error, none of its writes are kept.
type Transactor interface {
	WithinVoteLock(ctx context.Context, pollID int64, userID string, fn func(ctx context.Context, store VoteStore) error) error
}

// ProjectionSignals notifies that the counter projection of a poll changed.
type ProjectionSignals interface {
	Subscribe(pollID int64) (signals <-chan struct{}, cancel func())
}

type VoteEventPublisher interface {
	PublishVoteEvents(ctx context.Context, events []models.VoteEvent) error
}

type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}
