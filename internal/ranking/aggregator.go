package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/abhisek/chapterquiz/internal/config"
	"github.com/abhisek/chapterquiz/internal/metrics"
	"github.com/abhisek/chapterquiz/internal/session"
)

// DefaultLockTTL bounds how long a crashed run can hold the shared lock.
const DefaultLockTTL = 10 * time.Minute

// RunSummary describes one completed ranking run.
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Ranked    int
	Skipped   []string
}

// Aggregator rebuilds the ranking from every session record and learning
// activity.
type Aggregator struct {
	records  RecordSource
	learning LearningSource
	repo     Repo
	index    Index
	lock     Lock
	lockTTL  time.Duration
	policy   config.Policy
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithIndex mirrors each run into idx and serves neighbor queries from it.
func WithIndex(idx Index) Option {
	return func(a *Aggregator) { a.index = idx }
}

// WithLock guards runs with a lock shared between processes.
func WithLock(l Lock, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.lock = l
		if ttl > 0 {
			a.lockTTL = ttl
		}
	}
}

// WithPolicy overrides the learning time policy.
func WithPolicy(p config.Policy) Option {
	return func(a *Aggregator) { a.policy = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator reading records and learning time and
// writing to repo.
func NewAggregator(records RecordSource, learning LearningSource, repo Repo, opts ...Option) *Aggregator {
	a := &Aggregator{
		records:  records,
		learning: learning,
		repo:     repo,
		lockTTL:  DefaultLockTTL,
		policy:   config.DefaultPolicy(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Refresh recomputes the whole ranking. Concurrent callers share one run,
// which is detached from the cancellation of whichever caller started it.
func (a *Aggregator) Refresh(ctx context.Context) (*RunSummary, error) {
	v, err, shared := a.group.Do("refresh", func() (any, error) {
		return a.run(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	if shared {
		a.logger.Debug("joined in-flight ranking run")
	}
	return v.(*RunSummary), nil
}

func (a *Aggregator) run(ctx context.Context) (summary *RunSummary, err error) {
	if a.lock != nil {
		release, ok, err := a.lock.Acquire(ctx, a.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire ranking lock: %w", err)
		}
		if !ok {
			metrics.RankingRuns.WithLabelValues("locked").Inc()
			return nil, ErrRunInProgress
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				a.logger.Warn("release ranking lock", "error", rerr)
			}
		}()
	}

	started := a.now()
	runID := uuid.NewString()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RankingRuns.WithLabelValues(status).Inc()
		metrics.RankingDuration.Observe(a.now().Sub(started).Seconds())
	}()

	stats := make(map[string]*userStats)
	failed := make(map[string]bool)

	err = a.records.EachRecord(ctx, func(studentID string, rec *session.Record, decodeErr error) error {
		if failed[studentID] {
			return nil
		}
		if decodeErr != nil {
			a.skipUser(failed, stats, studentID, decodeErr)
			return nil
		}
		st := stats[studentID]
		if st == nil {
			st = &userStats{}
			stats[studentID] = st
		}
		if err := safeAccumulate(st, rec); err != nil {
			a.skipUser(failed, stats, studentID, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read session records: %w", err)
	}

	minutes, err := a.learning.LearningMinutes(ctx, a.policy.LearningActivityType)
	if err != nil {
		return nil, fmt.Errorf("read learning time: %w", err)
	}
	for userID, m := range minutes {
		if failed[userID] {
			continue
		}
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			a.skipUser(failed, stats, userID, fmt.Errorf("invalid learning minutes %v", m))
			continue
		}
		if stats[userID] == nil {
			stats[userID] = &userStats{}
		}
	}

	entries := make([]Entry, 0, len(stats))
	for userID, st := range stats {
		quizHours := float64(st.quizMs) / msPerHour
		learningHours := minutes[userID] / 60
		entries = append(entries, Entry{
			UserID:            userID,
			Points:            points(st.marks, quizHours, learningHours, a.policy.LearningHoursDivisor),
			TotalMarksEarned:  st.marks,
			QuizTimeHours:     quizHours,
			LearningTimeHours: learningHours,
			RunID:             runID,
			ComputedAt:        started,
		})
	}
	assignRanks(entries)

	if err := a.repo.ReplaceAll(ctx, entries); err != nil {
		return nil, fmt.Errorf("store ranking: %w", err)
	}
	if a.index != nil {
		if err := a.index.Replace(ctx, entries); err != nil {
			a.logger.Warn("rank index update failed", "run", runID, "error", err)
		}
	}

	skipped := make([]string, 0, len(failed))
	for userID := range failed {
		skipped = append(skipped, userID)
	}
	sort.Strings(skipped)

	metrics.RankedUsers.Set(float64(len(entries)))
	summary = &RunSummary{
		RunID:     runID,
		StartedAt: started,
		Duration:  a.now().Sub(started),
		Ranked:    len(entries),
		Skipped:   skipped,
	}
	a.logger.Info("ranking refreshed",
		"run", runID, "ranked", summary.Ranked, "skipped", len(skipped))
	return summary, nil
}

// skipUser drops the user from this run.
func (a *Aggregator) skipUser(failed map[string]bool, stats map[string]*userStats, userID string, err error) {
	failed[userID] = true
	delete(stats, userID)
	metrics.RankingUsersSkipped.Inc()
	a.logger.Warn("skipping user in ranking run", "user", userID, "error", err)
}

// safeAccumulate turns a panic on malformed data into an error.
func safeAccumulate(st *userStats, rec *session.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return st.accumulate(rec)
}

// UserRanking returns the user's entry with up to k neighbors on each side.
// Reads are snapshots; a concurrent run may reorder between them.
func (a *Aggregator) UserRanking(ctx context.Context, userID string, k int) (*Neighborhood, error) {
	if k < 0 {
		k = 0
	}
	if a.index != nil {
		n, err := a.index.Neighborhood(ctx, userID, k)
		if err == nil && n != nil {
			return n, nil
		}
		if err != nil {
			a.logger.Warn("rank index lookup failed, using store", "user", userID, "error", err)
		}
	}

	self, err := a.repo.ByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load ranking entry: %w", err)
	}
	if self == nil {
		return nil, ErrNotRanked
	}

	n := &Neighborhood{Self: *self, Above: []Entry{}, Below: []Entry{}}
	if k == 0 {
		return n, nil
	}
	if self.Rank > 1 {
		above, err := a.repo.ByRankRange(ctx, max(1, self.Rank-k), self.Rank-1)
		if err != nil {
			return nil, fmt.Errorf("load ranks above: %w", err)
		}
		n.Above = append(n.Above, above...)
	}
	below, err := a.repo.ByRankRange(ctx, self.Rank+1, self.Rank+k)
	if err != nil {
		return nil, fmt.Errorf("load ranks below: %w", err)
	}
	n.Below = append(n.Below, below...)
	return n, nil
}
