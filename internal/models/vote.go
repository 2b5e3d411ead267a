package models

import (
	"time"

	"github.com/google/uuid"
)

type Vote struct {
	ID        uuid.UUID `db:"id"`
	OptionID  int64     `db:"option_id"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}

// ToggleAction is what a Toggle did to the vote on the requested option.
type ToggleAction string

const (
	ToggleAdded   ToggleAction = "added"
	ToggleRemoved ToggleAction = "removed"
)

type OptionCount struct {
	OptionID   int64 `db:"id" json:"optionId"`
	VotesCount int   `db:"votes_count" json:"votesCount"`
}

type ToggleResult struct {
	Action           ToggleAction  `json:"action"`
	PreviousOptionID *int64        `json:"previousOptionId"`
	Options          []OptionCount `json:"options"`
	// Stale is set when the counter projection did not catch up
	// before the propagation timeout.
	Stale bool `json:"stale"`
}

type VoteEventType string

const (
	VoteEventAdded   VoteEventType = "vote_added"
	VoteEventRemoved VoteEventType = "vote_removed"
)

type VoteEvent struct {
	Type       VoteEventType `json:"type"`
	PollID     int64         `json:"pollId"`
	OptionID   int64         `json:"optionId"`
	UserID     string        `json:"userId"`
	VoteID     uuid.UUID     `json:"voteId"`
	OccurredAt time.Time     `json:"occurredAt"`
}
