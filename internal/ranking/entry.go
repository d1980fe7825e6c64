package ranking

import (
	"context"
	"errors"
	"time"

	"github.com/abhisek/chapterquiz/internal/session"
)

var (
	// ErrNotRanked means the user has no entry in the current ranking.
	ErrNotRanked = errors.New("user not ranked")

	// ErrRunInProgress means another process holds the ranking run lock.
	ErrRunInProgress = errors.New("ranking run already in progress")
)

// Entry is one user's row of the ranking.
type Entry struct {
	UserID            string    `json:"user_id"`
	Points            float64   `json:"points"`
	TotalMarksEarned  float64   `json:"total_marks_earned"`
	QuizTimeHours     float64   `json:"quiz_time_hours"`
	LearningTimeHours float64   `json:"learning_time_hours"`
	Rank              int       `json:"rank"`
	RunID             string    `json:"run_id"`
	ComputedAt        time.Time `json:"computed_at"`
}

// Neighborhood is a user's entry with up to k entries on either side.
// Above is ordered from the better rank down to the user; Below continues
// from just after the user.
type Neighborhood struct {
	Self  Entry   `json:"self"`
	Above []Entry `json:"above"`
	Below []Entry `json:"below"`
}

// Repo is the authoritative ranking store.
type Repo interface {
	// ReplaceAll swaps the whole ranking for entries in one transaction.
	// Users absent from entries are removed.
	ReplaceAll(ctx context.Context, entries []Entry) error

	// ByUser returns the user's entry, or nil if the user is not ranked.
	ByUser(ctx context.Context, userID string) (*Entry, error)

	// ByRankRange returns entries with from <= rank <= to ordered by rank.
	ByRankRange(ctx context.Context, from, to int) ([]Entry, error)
}

// RecordSource iterates every session record in the system.
type RecordSource interface {
	EachRecord(ctx context.Context, fn func(studentID string, rec *session.Record, decodeErr error) error) error
}

// LearningSource reports closed learning time per user.
type LearningSource interface {
	// LearningMinutes sums the minutes of closed activities of the given
	// type, keyed by user.
	LearningMinutes(ctx context.Context, activityType string) (map[string]float64, error)
}

// Index is an optional fast copy of the ranking used for neighbor lookups.
type Index interface {
	Replace(ctx context.Context, entries []Entry) error
	// Neighborhood returns nil, nil when the user is not in the index.
	Neighborhood(ctx context.Context, userID string, k int) (*Neighborhood, error)
}

// Lock keeps runs from overlapping across processes.
type Lock interface {
	// Acquire returns ok=false when another holder has the lock. The
	// returned release func is only valid when ok is true.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
