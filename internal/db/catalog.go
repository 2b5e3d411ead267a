package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

// CreatePoll stores a poll with one option per label, in order. It fills
// poll.ID and returns the option ids.
func (sdb *SharedDB) CreatePoll(ctx context.Context, poll *models.Poll, labels ...string) ([]int64, error) {
	optionIDs := make([]int64, 0, len(labels))
	err := execTx(ctx, sdb.pool, func(ctx context.Context, tx pgx.Tx) error {
		var pollType *string
		if poll.Type != models.PollTypeUnknown {
			t := string(poll.Type)
			pollType = &t
		}
		sql, args, _ := psql.
			Insert("polls").
			Columns("post_id", "poll_type").
			Values(poll.PostID, pollType).
			Suffix("RETURNING id").
			ToSql()
		if err := tx.QueryRow(ctx, sql, args...).Scan(&poll.ID); err != nil {
			return err
		}
		if len(labels) == 0 {
			return nil
		}

		insert := psql.Insert("poll_options").Columns("poll_id", "label", "position")
		for i, label := range labels {
			insert = insert.Values(poll.ID, label, i)
		}
		sql, args, _ = insert.Suffix("RETURNING id").ToSql()
		return pgxscan.Select(ctx, tx, &optionIDs, sql, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating poll: %w", classify(err))
	}
	return optionIDs, nil
}

func (sdb *SharedDB) DeletePoll(ctx context.Context, pollID int64) error {
	sql, args, _ := psql.Delete("polls").Where(sq.Eq{"id": pollID}).ToSql()
	tag, err := sdb.pool.Exec(ctx, sql, args...)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrPollNotFound
	}
	return nil
}

func (sdb *SharedDB) GetPollType(ctx context.Context, optionID int64) (int64, models.PollType, error) {
	sql, args, _ := psql.
		Select("p.id", "p.poll_type").
		From("poll_options o").
		Join("polls p ON p.id = o.poll_id").
		Where(sq.Eq{"o.id": optionID}).
		ToSql()

	var row struct {
		ID       int64   `db:"id"`
		PollType *string `db:"poll_type"`
	}
	err := pgxscan.Get(ctx, sdb.pool, &row, sql, args...)
	if pgxscan.NotFound(err) {
		return 0, "", models.ErrOptionNotFound
	}
	if err != nil {
		return 0, "", classify(err)
	}
	if row.PollType == nil {
		return row.ID, models.PollTypeUnknown, nil
	}
	return row.ID, models.ParsePollType(*row.PollType), nil
}

func (sdb *SharedDB) GetSiblingOptionIDs(ctx context.Context, pollID int64) ([]int64, error) {
	sql, args, _ := psql.
		Select("id").
		From("poll_options").
		Where(sq.Eq{"poll_id": pollID}).
		OrderBy("position", "id").
		ToSql()

	var ids []int64
	if err := pgxscan.Select(ctx, sdb.pool, &ids, sql, args...); err != nil {
		return nil, classify(err)
	}
	if len(ids) == 0 {
		if err := sdb.ensurePoll(ctx, pollID); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (sdb *SharedDB) ListOptionCounts(ctx context.Context, pollID int64) ([]models.OptionCount, error) {
	sql, args, _ := psql.
		Select("id", "votes_count").
		From("poll_options").
		Where(sq.Eq{"poll_id": pollID}).
		OrderBy("position", "id").
		ToSql()

	var counts []models.OptionCount
	if err := pgxscan.Select(ctx, sdb.pool, &counts, sql, args...); err != nil {
		return nil, classify(err)
	}
	if len(counts) == 0 {
		if err := sdb.ensurePoll(ctx, pollID); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

func (sdb *SharedDB) ensurePoll(ctx context.Context, pollID int64) error {
	var exists bool
	err := pgxscan.Get(ctx, sdb.pool, &exists, "SELECT exists(SELECT 1 FROM polls WHERE id = $1)", pollID)
	if err != nil {
		return classify(err)
	}
	if !exists {
		return models.ErrPollNotFound
	}
	return nil
}
