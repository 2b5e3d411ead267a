package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

func TestStoreProjectsCounts(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := New(nil)
	pollID, opts := s.AddPoll(models.PollTypeSingleChoice, "a", "b")

	signals, cancel := s.Subscribe(pollID)
	defer cancel()

	v, err := s.InsertVote(ctx, opts[0], "u1")
	require.NoError(err)
	require.Len(signals, 1)

	_, err = s.InsertVote(ctx, opts[0], "u1")
	require.ErrorIs(err, models.ErrVoteConflict)

	counts, err := s.ListOptionCounts(ctx, pollID)
	require.NoError(err)
	require.Equal([]models.OptionCount{{OptionID: opts[0], VotesCount: 1}, {OptionID: opts[1], VotesCount: 0}}, counts)

	require.NoError(s.DeleteVote(ctx, v.ID))
	require.ErrorIs(s.DeleteVote(ctx, v.ID), models.ErrVoteNotFound)

	facts, err := s.CountVotes(ctx, opts)
	require.NoError(err)
	require.Equal(map[int64]int{opts[0]: 0, opts[1]: 0}, facts)
}

func TestStoreLookups(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := New(nil)
	pollID, opts := s.AddPoll(models.PollTypeMultipleChoice, "a", "b", "c")

	gotPoll, pollType, err := s.GetPollType(ctx, opts[1])
	require.NoError(err)
	require.Equal(pollID, gotPoll)
	require.Equal(models.PollTypeMultipleChoice, pollType)

	_, _, err = s.GetPollType(ctx, 999)
	require.ErrorIs(err, models.ErrOptionNotFound)

	siblings, err := s.GetSiblingOptionIDs(ctx, pollID)
	require.NoError(err)
	require.Equal(opts, siblings)

	_, err = s.InsertVote(ctx, opts[0], "u1")
	require.NoError(err)
	_, err = s.InsertVote(ctx, opts[2], "u1")
	require.NoError(err)
	votes, err := s.FindVotesByUserAcrossOptions(ctx, "u1", opts[1:])
	require.NoError(err)
	require.Len(votes, 1)
	require.Equal(opts[2], votes[0].OptionID)

	s.DeletePoll(pollID)
	_, err = s.ListOptionCounts(ctx, pollID)
	require.ErrorIs(err, models.ErrPollNotFound)
	v, err := s.FindVote(ctx, opts[0], "u1")
	require.NoError(err)
	require.Nil(v)
}
