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

// MaxActivityDuration caps a single activity so a forgotten stop does not
// count as days of learning.
const MaxActivityDuration = 12 * time.Hour

// Activity is a timed learning activity.
type Activity struct {
	ID              int64
	UserID          string
	ActivityType    string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationMinutes float64
}

// ActivityRepo stores timed learning activities.
type ActivityRepo struct {
	db *sql.DB
}

var _ ranking.LearningSource = (*ActivityRepo)(nil)

// Start closes any open activity of the same user and type at `at` and
// opens a new one.
func (r *ActivityRepo) Start(ctx context.Context, userID, activityType string, at time.Time) (int64, error) {
	open, err := r.openIDs(ctx, userID, activityType)
	if err != nil {
		return 0, err
	}
	for _, id := range open {
		if _, err := r.Finish(ctx, id, at); err != nil {
			return 0, err
		}
	}

	query, args := builder().Insert(tableActivities).
		Columns("user_id", "activity_type", "started_at", "duration_minutes").
		Values(userID, activityType, at.UnixMilli(), 0.0).
		Query()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert activity: %w", err)
	}
	return id, nil
}

func (r *ActivityRepo) openIDs(ctx context.Context, userID, activityType string) ([]int64, error) {
	b := builder()
	query, args := b.Select("id").
		From(b.Table(tableActivities)).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.EQ("activity_type", activityType),
			entsql.IsNull("ended_at"),
		)).
		Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open activities: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan activity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Finish closes the activity at `at`. Finishing a closed activity is a
// no-op that returns it unchanged. The duration is clamped to
// [0, MaxActivityDuration].
func (r *ActivityRepo) Finish(ctx context.Context, id int64, at time.Time) (*Activity, error) {
	act, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if act.EndedAt != nil {
		return act, nil
	}

	d := at.Sub(act.StartedAt)
	d = max(0, min(d, MaxActivityDuration))
	minutes := d.Minutes()

	query, args := builder().Update(tableActivities).
		Set("ended_at", at.UnixMilli()).
		Set("duration_minutes", minutes).
		Where(entsql.And(entsql.EQ("id", id), entsql.IsNull("ended_at"))).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("finish activity: %w", err)
	}

	ended := time.UnixMilli(at.UnixMilli()).UTC()
	act.EndedAt = &ended
	act.DurationMinutes = minutes
	return act, nil
}

// Get returns one activity.
func (r *ActivityRepo) Get(ctx context.Context, id int64) (*Activity, error) {
	b := builder()
	query, args := b.Select("id", "user_id", "activity_type", "started_at", "ended_at", "duration_minutes").
		From(b.Table(tableActivities)).
		Where(entsql.EQ("id", id)).
		Query()

	var (
		act       Activity
		startedAt int64
		endedAt   sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&act.ID, &act.UserID, &act.ActivityType, &startedAt, &endedAt, &act.DurationMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("activity %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	act.StartedAt = time.UnixMilli(startedAt).UTC()
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64).UTC()
		act.EndedAt = &t
	}
	return &act, nil
}

// LearningMinutes sums closed activity minutes of activityType per user.
func (r *ActivityRepo) LearningMinutes(ctx context.Context, activityType string) (map[string]float64, error) {
	b := builder()
	query, args := b.Select("user_id", entsql.As(entsql.Sum("duration_minutes"), "minutes")).
		From(b.Table(tableActivities)).
		Where(entsql.And(
			entsql.EQ("activity_type", activityType),
			entsql.NotNull("ended_at"),
		)).
		GroupBy("user_id").
		Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query learning minutes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			userID  string
			minutes float64
		)
		if err := rows.Scan(&userID, &minutes); err != nil {
			return nil, fmt.Errorf("scan learning minutes: %w", err)
		}
		out[userID] = minutes
	}
	return out, rows.Err()
}
