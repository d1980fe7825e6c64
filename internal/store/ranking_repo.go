package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/chapterquiz/internal/ranking"
)

// RankingRepo stores the materialized ranking, one row per user.
type RankingRepo struct {
	db *sql.DB
}

var _ ranking.Repo = (*RankingRepo)(nil)

var rankingColumns = []string{
	"user_id", "points", "total_marks", "quiz_time_hours",
	"learning_time_hours", "rank", "run_id", "computed_at",
}

// ReplaceAll deletes the previous ranking and inserts entries in one
// transaction, so readers see either the old or the new ranking.
func (r *RankingRepo) ReplaceAll(ctx context.Context, entries []ranking.Entry) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ranking tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	b := builder()
	query, args := b.Delete(tableRankings).Query()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear ranking: %w", err)
	}

	// Batch inserts to stay under SQLite's bound parameter limit.
	const batch = 100
	for start := 0; start < len(entries); start += batch {
		end := min(start+batch, len(entries))
		ins := b.Insert(tableRankings).Columns(rankingColumns...)
		for _, e := range entries[start:end] {
			ins.Values(e.UserID, e.Points, e.TotalMarksEarned, e.QuizTimeHours,
				e.LearningTimeHours, e.Rank, e.RunID, e.ComputedAt.UnixMilli())
		}
		query, args := ins.Query()
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert ranking: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ranking: %w", err)
	}
	return nil
}

func (r *RankingRepo) ByUser(ctx context.Context, userID string) (*ranking.Entry, error) {
	b := builder()
	query, args := b.Select(rankingColumns...).
		From(b.Table(tableRankings)).
		Where(entsql.EQ("user_id", userID)).
		Query()

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ranking entry: %w", err)
	}
	return e, nil
}

func (r *RankingRepo) ByRankRange(ctx context.Context, from, to int) ([]ranking.Entry, error) {
	b := builder()
	query, args := b.Select(rankingColumns...).
		From(b.Table(tableRankings)).
		Where(entsql.And(entsql.GTE("rank", from), entsql.LTE("rank", to))).
		OrderBy("rank").
		Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ranking range: %w", err)
	}
	defer rows.Close()

	var out []ranking.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ranking entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Count returns the number of ranked users.
func (r *RankingRepo) Count(ctx context.Context) (int, error) {
	b := builder()
	query, args := b.Select(entsql.Count("*")).From(b.Table(tableRankings)).Query()
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ranking: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ranking.Entry, error) {
	var (
		e          ranking.Entry
		computedAt int64
	)
	err := row.Scan(&e.UserID, &e.Points, &e.TotalMarksEarned, &e.QuizTimeHours,
		&e.LearningTimeHours, &e.Rank, &e.RunID, &computedAt)
	if err != nil {
		return nil, err
	}
	e.ComputedAt = time.UnixMilli(computedAt).UTC()
	return &e, nil
}
