package ranking

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/chapterquiz/internal/session"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// memRepo is an in-memory Repo.
type memRepo struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func newMemRepo() *memRepo { return &memRepo{entries: make(map[string]Entry)} }

func (r *memRepo) ReplaceAll(_ context.Context, entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		r.entries[e.UserID] = e
	}
	return nil
}

func (r *memRepo) ByUser(_ context.Context, userID string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *memRepo) ByRankRange(_ context.Context, from, to int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Rank >= from && e.Rank <= to {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (r *memRepo) ranks() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.Rank
	}
	return out
}

type learningMap map[string]float64

func (m learningMap) LearningMinutes(context.Context, string) (map[string]float64, error) {
	return m, nil
}

// quizRecord builds a record whose last session earned marks and spent
// answerAfter between one assistant question and the student's reply.
func quizRecord(student, chapter string, marks float64, answerAfter time.Duration) *session.Record {
	return &session.Record{
		StudentID: student,
		ChapterID: chapter,
		Sessions: []session.Session{{
			ID:     1,
			Status: session.StatusInProgress,
			Answers: []session.Answer{
				{QuestionID: "q1", QuestionMarks: int(math.Ceil(marks)), Score: marks},
			},
			Messages: []session.Message{
				{Role: session.RoleAssistant, Text: "q", At: t0},
				{Role: session.RoleStudent, Text: "a", At: t0.Add(answerAfter)},
			},
		}},
	}
}

func seed(t *testing.T, recs ...*session.Record) *session.MemoryRepo {
	t.Helper()
	repo := session.NewMemoryRepo()
	for _, r := range recs {
		require.NoError(t, repo.Save(context.Background(), r))
	}
	return repo
}

func newTestAggregator(records RecordSource, learning LearningSource, repo Repo, opts ...Option) *Aggregator {
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	return NewAggregator(records, learning, repo, opts...)
}

func TestRefresh_PointsAndTieBreak(t *testing.T) {
	records := seed(t,
		quizRecord("alice", "ch-1", 10, time.Hour),   // 10 pts, 1h
		quizRecord("bob", "ch-1", 5, 30*time.Minute), // 10 pts, 0.5h
		quizRecord("carol", "ch-1", 12, 2*time.Hour), // 6 pts
		quizRecord("dave", "ch-1", 0, -time.Minute),  // no quiz time
	)
	repo := newMemRepo()
	agg := newTestAggregator(records, learningMap{"dave": 120, "erin": 60}, repo)

	summary, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Ranked)
	assert.Empty(t, summary.Skipped)

	assert.Equal(t, map[string]int{"bob": 1, "alice": 2, "carol": 3, "dave": 4, "erin": 5}, repo.ranks())

	alice, _ := repo.ByUser(context.Background(), "alice")
	assert.InDelta(t, 10.0, alice.Points, 1e-9)
	assert.InDelta(t, 1.0, alice.QuizTimeHours, 1e-9)
	assert.Equal(t, 10.0, alice.TotalMarksEarned)
	assert.Equal(t, summary.RunID, alice.RunID)

	dave, _ := repo.ByUser(context.Background(), "dave")
	assert.Equal(t, 0.0, dave.QuizTimeHours)
	assert.InDelta(t, 2.0/100, dave.Points, 1e-9)
	assert.InDelta(t, 2.0, dave.LearningTimeHours, 1e-9)
}

func TestRefresh_FullTieOrderedByUserID(t *testing.T) {
	records := seed(t,
		quizRecord("zed", "ch-1", 4, time.Hour),
		quizRecord("amy", "ch-1", 4, time.Hour),
		quizRecord("kim", "ch-1", 4, time.Hour),
	)
	repo := newMemRepo()
	_, err := newTestAggregator(records, learningMap{}, repo).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"amy": 1, "kim": 2, "zed": 3}, repo.ranks())
}

func TestRefresh_SumsAcrossChapters(t *testing.T) {
	records := seed(t,
		quizRecord("alice", "ch-1", 3, 30*time.Minute),
		quizRecord("alice", "ch-2", 5, 30*time.Minute),
	)
	repo := newMemRepo()
	_, err := newTestAggregator(records, learningMap{}, repo).Refresh(context.Background())
	require.NoError(t, err)

	alice, _ := repo.ByUser(context.Background(), "alice")
	assert.Equal(t, 8.0, alice.TotalMarksEarned)
	assert.InDelta(t, 1.0, alice.QuizTimeHours, 1e-9)
	assert.InDelta(t, 8.0, alice.Points, 1e-9)
}

func TestRefresh_SkipsBrokenUsers(t *testing.T) {
	bad := quizRecord("bad", "ch-1", 1, time.Hour)
	bad.Sessions[0].Answers[0].Score = 7 // above its marks

	records := seed(t, quizRecord("alice", "ch-1", 10, time.Hour), bad)
	records.PutRaw("corrupt", "ch-1", []byte("{not json"))

	repo := newMemRepo()
	summary, err := newTestAggregator(records, learningMap{"corrupt": 600, "neg": -5}, repo).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bad", "corrupt", "neg"}, summary.Skipped)
	assert.Equal(t, map[string]int{"alice": 1}, repo.ranks())
}

func TestRefresh_PrunesUsersAbsentFromRun(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.ReplaceAll(context.Background(), []Entry{{UserID: "ghost", Rank: 1, Points: 99}}))

	records := seed(t, quizRecord("alice", "ch-1", 1, time.Hour))
	_, err := newTestAggregator(records, learningMap{}, repo).Refresh(context.Background())
	require.NoError(t, err)

	ghost, err := repo.ByUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, ghost)
	assert.Equal(t, map[string]int{"alice": 1}, repo.ranks())
}

func TestResponseMillis(t *testing.T) {
	at := func(m int) time.Time { return t0.Add(time.Duration(m) * time.Minute) }
	msgs := []session.Message{
		{Role: session.RoleStudent, At: at(0)},   // nothing asked yet
		{Role: session.RoleAssistant, At: at(1)}, // superseded
		{Role: session.RoleAssistant, At: at(2)},
		{Role: session.RoleStudent, At: at(5)}, // 3 min
		{Role: session.RoleStudent, At: at(6)}, // no question pending
		{Role: session.RoleAssistant, At: at(10)},
		{Role: session.RoleStudent, At: at(9)}, // clock skew, skipped
		{Role: session.RoleAssistant, At: at(20)},
		{Role: session.RoleStudent, At: at(22)}, // 2 min
	}
	assert.Equal(t, int64(5*60*1000), responseMillis(msgs))
}

func TestQuizTimeUsesLastSessionOnly(t *testing.T) {
	rec := quizRecord("alice", "ch-1", 2, time.Hour)
	rec.Sessions[0].Status = session.StatusClosed
	rec.Sessions = append(rec.Sessions, session.Session{
		ID:     2,
		Status: session.StatusInProgress,
		Messages: []session.Message{
			{Role: session.RoleAssistant, At: t0},
			{Role: session.RoleStudent, At: t0.Add(6 * time.Minute)},
		},
	})

	var st userStats
	require.NoError(t, st.accumulate(rec))
	assert.Equal(t, 2.0, st.marks)
	assert.Equal(t, int64(6*60*1000), st.quizMs)
}

func rankedRepo(t *testing.T, n int) *memRepo {
	t.Helper()
	repo := newMemRepo()
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{UserID: string(rune('a' + i)), Rank: i + 1, Points: float64(n - i)}
	}
	require.NoError(t, repo.ReplaceAll(context.Background(), entries))
	return repo
}

func userIDs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.UserID
	}
	return out
}

func TestUserRanking(t *testing.T) {
	agg := newTestAggregator(seed(t), learningMap{}, rankedRepo(t, 5))
	ctx := context.Background()

	tests := []struct {
		user      string
		k         int
		wantAbove []string
		wantBelow []string
	}{
		{"c", 1, []string{"b"}, []string{"d"}},
		{"c", 5, []string{"a", "b"}, []string{"d", "e"}},
		{"a", 2, []string{}, []string{"b", "c"}},
		{"e", 2, []string{"c", "d"}, []string{}},
		{"c", 0, []string{}, []string{}},
	}
	for _, tt := range tests {
		n, err := agg.UserRanking(ctx, tt.user, tt.k)
		require.NoError(t, err)
		assert.Equal(t, tt.user, n.Self.UserID)
		assert.Equal(t, tt.wantAbove, userIDs(n.Above), "above %s k=%d", tt.user, tt.k)
		assert.Equal(t, tt.wantBelow, userIDs(n.Below), "below %s k=%d", tt.user, tt.k)
	}

	_, err := agg.UserRanking(ctx, "nobody", 2)
	assert.ErrorIs(t, err, ErrNotRanked)
}

// heldLock is a Lock some other process already holds.
type heldLock struct{}

func (heldLock) Acquire(context.Context, time.Duration) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

// countingLock is a free Lock that counts releases.
type countingLock struct{ released atomic.Int32 }

func (l *countingLock) Acquire(context.Context, time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error {
		l.released.Add(1)
		return nil
	}, true, nil
}

func TestRefresh_Lock(t *testing.T) {
	records := seed(t, quizRecord("alice", "ch-1", 1, time.Hour))

	_, err := newTestAggregator(records, learningMap{}, newMemRepo(), WithLock(heldLock{}, 0)).Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	lock := &countingLock{}
	_, err = newTestAggregator(records, learningMap{}, newMemRepo(), WithLock(lock, time.Minute)).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), lock.released.Load())
}

// fakeIndex records replacements and answers lookups for known users.
type fakeIndex struct {
	replaced []Entry
	fail     bool
}

func (f *fakeIndex) Replace(_ context.Context, entries []Entry) error {
	f.replaced = append([]Entry(nil), entries...)
	return nil
}

func (f *fakeIndex) Neighborhood(_ context.Context, userID string, _ int) (*Neighborhood, error) {
	if f.fail {
		return nil, errors.New("index down")
	}
	for _, e := range f.replaced {
		if e.UserID == userID {
			return &Neighborhood{Self: e}, nil
		}
	}
	return nil, nil
}

func TestIndexMirrorsRunAndFallsBack(t *testing.T) {
	records := seed(t, quizRecord("alice", "ch-1", 1, time.Hour), quizRecord("bob", "ch-1", 2, time.Hour))
	idx := &fakeIndex{}
	agg := newTestAggregator(records, learningMap{}, newMemRepo(), WithIndex(idx))
	ctx := context.Background()

	_, err := agg.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice"}, userIDs(idx.replaced))

	n, err := agg.UserRanking(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n.Self.Rank)

	idx.fail = true
	n, err = agg.UserRanking(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, userIDs(n.Above))
}

// slowSource blocks the first iteration until released.
type slowSource struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *slowSource) EachRecord(ctx context.Context, _ func(string, *session.Record, error) error) error {
	if s.calls.Add(1) == 1 {
		close(s.entered)
	}
	<-s.release
	return ctx.Err()
}

func TestRefresh_SingleFlight(t *testing.T) {
	src := &slowSource{entered: make(chan struct{}), release: make(chan struct{})}
	agg := newTestAggregator(src, learningMap{}, newMemRepo())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*RunSummary, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = agg.Refresh(ctx)
	}()
	<-src.entered

	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = agg.Refresh(ctx)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, results[0].RunID, r.RunID)
	}
}

func TestRefresh_SurvivesFirstCallerCancel(t *testing.T) {
	src := &slowSource{entered: make(chan struct{}), release: make(chan struct{})}
	agg := newTestAggregator(src, learningMap{}, newMemRepo())
	first, cancel := context.WithCancel(context.Background())

	type result struct {
		summary *RunSummary
		err     error
	}
	results := make(chan result, 2)
	refresh := func(ctx context.Context) {
		s, err := agg.Refresh(ctx)
		results <- result{s, err}
	}

	go refresh(first)
	<-src.entered
	go refresh(context.Background())
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(src.release)

	for range 2 {
		r := <-results
		require.NoError(t, r.err)
		require.NotNil(t, r.summary)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestScheduler_RunsOnStartAndStops(t *testing.T) {
	records := seed(t, quizRecord("alice", "ch-1", 1, time.Hour))
	repo := newMemRepo()
	agg := newTestAggregator(records, learningMap{}, repo)

	s := NewScheduler(agg, time.Hour, nil)
	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(repo.ranks()) == 1
	}, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
}
