package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"gitlab.com/ranfdev/pollvote/internal/domain"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

var voteColumns = []string{"id", "option_id", "user_id", "created_at"}

// voteQueries implements domain.VoteStore on top of the pool or of a
// transaction.
type voteQueries struct {
	db DBTX
}

func (q voteQueries) FindVote(ctx context.Context, optionID int64, userID string) (*models.Vote, error) {
	sql, args, _ := psql.
		Select(voteColumns...).
		From("poll_votes").
		Where(sq.Eq{"option_id": optionID, "user_id": userID}).
		ToSql()

	var vote models.Vote
	err := pgxscan.Get(ctx, q.db, &vote, sql, args...)
	if pgxscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &vote, nil
}

func (q voteQueries) FindVotesByUserAcrossOptions(ctx context.Context, userID string, optionIDs []int64) ([]models.Vote, error) {
	if len(optionIDs) == 0 {
		return nil, nil
	}
	sql, args, _ := psql.
		Select(voteColumns...).
		From("poll_votes").
		Where(sq.Eq{"user_id": userID, "option_id": optionIDs}).
		ToSql()

	var votes []models.Vote
	if err := pgxscan.Select(ctx, q.db, &votes, sql, args...); err != nil {
		return nil, classify(err)
	}
	return votes, nil
}

// InsertVote reports an existing vote as models.ErrVoteConflict without
// failing the surrounding transaction.
func (q voteQueries) InsertVote(ctx context.Context, optionID int64, userID string) (*models.Vote, error) {
	sql, args, _ := psql.
		Insert("poll_votes").
		Columns("id", "option_id", "user_id").
		Values(uuid.New(), optionID, userID).
		Suffix("ON CONFLICT (option_id, user_id) DO NOTHING RETURNING id, option_id, user_id, created_at").
		ToSql()

	var vote models.Vote
	err := pgxscan.Get(ctx, q.db, &vote, sql, args...)
	if pgxscan.NotFound(err) {
		return nil, models.ErrVoteConflict
	}
	if err != nil {
		return nil, classify(err)
	}
	return &vote, nil
}

func (q voteQueries) DeleteVote(ctx context.Context, voteID uuid.UUID) error {
	sql, args, _ := psql.Delete("poll_votes").Where(sq.Eq{"id": voteID}).ToSql()
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrVoteNotFound
	}
	return nil
}

func (q voteQueries) CountVotes(ctx context.Context, optionIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(optionIDs))
	for _, id := range optionIDs {
		counts[id] = 0
	}
	if len(optionIDs) == 0 {
		return counts, nil
	}

	sql, args, _ := psql.
		Select("option_id", "count(*) AS votes").
		From("poll_votes").
		Where(sq.Eq{"option_id": optionIDs}).
		GroupBy("option_id").
		ToSql()

	var rows []struct {
		OptionID int64 `db:"option_id"`
		Votes    int   `db:"votes"`
	}
	if err := pgxscan.Select(ctx, q.db, &rows, sql, args...); err != nil {
		return nil, classify(err)
	}
	for _, r := range rows {
		counts[r.OptionID] = r.Votes
	}
	return counts, nil
}

// WithinVoteLock runs fn in a transaction holding an advisory lock on
// (pollID, userID). The lock is released at commit or rollback.
func (sdb *SharedDB) WithinVoteLock(ctx context.Context, pollID int64, userID string, fn func(ctx context.Context, store domain.VoteStore) error) error {
	err := execTx(ctx, sdb.pool, func(ctx context.Context, tx pgx.Tx) error {
		key := fmt.Sprintf("poll_vote:%d:%s", pollID, userID)
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
			return fmt.Errorf("acquiring vote lock: %w", err)
		}
		return fn(ctx, voteQueries{db: tx})
	})
	return classify(err)
}
