package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/abhisek/chapterquiz/internal/config"
	"github.com/abhisek/chapterquiz/internal/metrics"
	"github.com/abhisek/chapterquiz/internal/progression"
	"github.com/abhisek/chapterquiz/internal/questionbank"
)

// DefaultMaxAttempts bounds the read-modify-write retries after a version
// conflict.
const DefaultMaxAttempts = 5

// Service owns every state transition of session records. Each transition
// is a single read-modify-write serialized per (student, chapter).
type Service struct {
	repo        RecordRepo
	bank        questionbank.Provider
	selector    *progression.Selector
	policy      config.Policy
	now         func() time.Time
	logger      *slog.Logger
	maxAttempts int

	locks keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPolicy overrides the cooldown policy.
func WithPolicy(p config.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithSelector overrides the question selector.
func WithSelector(sel *progression.Selector) Option {
	return func(s *Service) { s.selector = sel }
}

// WithMaxAttempts bounds version-conflict retries.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService creates a session service backed by repo and bank.
func NewService(repo RecordRepo, bank questionbank.Provider, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		bank:        bank,
		selector:    progression.NewSelector(),
		policy:      config.DefaultPolicy(),
		now:         time.Now,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AnswerInput is one scored answer supplied by the orchestrator.
// RawScore may be NaN when the upstream score was not numeric.
type AnswerInput struct {
	StudentID  string
	ChapterID  string
	QuestionID string
	RawScore   float64
	MaxMarks   int
	AnswerText string

	// Provisional stores the score as a placeholder to be replaced later.
	Provisional bool
}

// mutate loads the record under the per-key lock, applies fn and saves the
// result when fn reports a change. A version conflict restarts the whole
// cycle from a fresh read. An error from fn aborts without saving.
func (s *Service) mutate(ctx context.Context, studentID, chapterID string, fn func(rec *Record, now time.Time) (bool, error)) (*Record, error) {
	unlock := s.locks.lock(recordKey(studentID, chapterID))
	defer unlock()

	var lastErr error
	for attempt := range s.maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := s.repo.Load(ctx, studentID, chapterID)
		if err != nil {
			return nil, fmt.Errorf("load record: %w", err)
		}
		now := s.now()
		if rec == nil {
			rec = newRecord(studentID, chapterID, now)
		}

		changed, err := fn(rec, now)
		if err != nil {
			return rec, err
		}
		if !changed {
			return rec, nil
		}

		rec.UpdatedAt = now
		err = s.repo.Save(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("save record: %w", err)
		}
		lastErr = err
		metrics.VersionConflicts.Inc()
		s.logger.Debug("record version conflict, retrying",
			"student", studentID, "chapter", chapterID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("save record after %d attempts: %w", s.maxAttempts, lastErr)
}

// openSession returns the current session, creating the next one when all
// are closed and the cooldown has elapsed.
func (s *Service) openSession(rec *Record, now time.Time) (*Session, bool, error) {
	if cur := rec.CurrentSession(); cur != nil {
		return cur, false, nil
	}
	if !CanStartNewSession(rec, now) {
		metrics.CooldownDenials.Inc()
		return nil, false, &CooldownError{HoursRemaining: HoursUntilNextSession(rec, now)}
	}
	cur := rec.appendSession(now)
	metrics.SessionsStarted.Inc()
	s.logger.Info("session started",
		"student", rec.StudentID, "chapter", rec.ChapterID, "session", cur.ID)
	return cur, true, nil
}

// GetOrCreateActiveSession returns the open session of the pair, creating
// the record or the next session as needed. A pending cooldown yields a
// *CooldownError.
func (s *Service) GetOrCreateActiveSession(ctx context.Context, studentID, chapterID string) (*Record, *Session, error) {
	rec, err := s.mutate(ctx, studentID, chapterID, func(rec *Record, now time.Time) (bool, error) {
		_, created, err := s.openSession(rec, now)
		return created, err
	})
	if err != nil {
		return nil, nil, err
	}
	return rec, rec.CurrentSession().clone(), nil
}

// AppendMessage adds a message to the open session and moves it from
// started to inProgress.
func (s *Service) AppendMessage(ctx context.Context, studentID, chapterID string, role Role, text string) (*Session, error) {
	var out *Session
	_, err := s.mutate(ctx, studentID, chapterID, func(rec *Record, now time.Time) (bool, error) {
		cur := rec.CurrentSession()
		if cur == nil {
			return false, ErrNoActiveSession
		}
		cur.Messages = append(cur.Messages, Message{Role: role, Text: text, At: now})
		cur.touch()
		out = cur.clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SelectNextQuestion serves the next question of the chapter and remembers
// it as the session's pending question. It returns ErrEmptyBank for a
// chapter without questions and progression.ErrExhausted once every
// question has been answered.
func (s *Service) SelectNextQuestion(ctx context.Context, studentID, chapterID string) (questionbank.Item, error) {
	items, err := s.bank.Items(ctx, chapterID)
	if err != nil {
		return questionbank.Item{}, fmt.Errorf("load question bank: %w", err)
	}
	if len(items) == 0 {
		return questionbank.Item{}, ErrEmptyBank
	}

	var picked questionbank.Item
	var exhausted bool
	_, err = s.mutate(ctx, studentID, chapterID, func(rec *Record, now time.Time) (bool, error) {
		cur, _, err := s.openSession(rec, now)
		if err != nil {
			return false, err
		}

		item, next, err := s.selector.Next(items, rec.Progression, rec.AnsweredIDs())
		rec.Progression = next
		if errors.Is(err, progression.ErrExhausted) {
			exhausted = true
			cur.PendingQuestionID = ""
			return true, nil
		}
		if err != nil {
			return false, err
		}
		picked = item
		cur.PendingQuestionID = item.ID
		return true, nil
	})
	if err != nil {
		return questionbank.Item{}, err
	}
	if exhausted {
		s.logger.Info("question bank exhausted", "student", studentID, "chapter", chapterID)
		return questionbank.Item{}, progression.ErrExhausted
	}

	metrics.QuestionsServed.WithLabelValues(string(picked.Difficulty)).Inc()
	s.logger.Debug("question served",
		"student", studentID, "chapter", chapterID,
		"question", picked.ID, "difficulty", picked.Difficulty, "subtopic", picked.Subtopic)
	return picked, nil
}

// RecordAnswer stores the score for one question in the open session,
// opening a new session (subject to cooldown) if none is open. Recording
// the same question again overwrites the previous entry.
func (s *Service) RecordAnswer(ctx context.Context, in AnswerInput) (*Answer, error) {
	if in.QuestionID == "" {
		return nil, fmt.Errorf("question id is required")
	}

	score, marks, anomaly := clampScore(in.RawScore, in.MaxMarks)
	if anomaly != "" {
		metrics.InvalidScoreInputs.Inc()
		s.logger.Warn("invalid score input",
			"student", in.StudentID, "chapter", in.ChapterID, "question", in.QuestionID,
			"raw_score", strconv.FormatFloat(in.RawScore, 'g', -1, 64),
			"max_marks", in.MaxMarks, "reason", anomaly)
	}

	var out Answer
	var updated bool
	_, err := s.mutate(ctx, in.StudentID, in.ChapterID, func(rec *Record, now time.Time) (bool, error) {
		cur, _, err := s.openSession(rec, now)
		if err != nil {
			return false, err
		}

		entry := Answer{
			QuestionID:    in.QuestionID,
			QuestionMarks: marks,
			Score:         score,
			AnsweredAt:    now,
			AnswerText:    in.AnswerText,
			Provisional:   in.Provisional,
		}
		if existing := cur.Answer(in.QuestionID); existing != nil {
			*existing = entry
			updated = true
		} else {
			cur.Answers = append(cur.Answers, entry)
			updated = false
		}
		if cur.PendingQuestionID == in.QuestionID {
			cur.PendingQuestionID = ""
		}
		cur.touch()
		out = entry
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	kind := "new"
	if updated {
		kind = "update"
	}
	metrics.AnswersRecorded.WithLabelValues(kind).Inc()
	return &out, nil
}

// clampScore bounds raw into [0, maxMarks]. Non-numeric or negative scores
// become 0 and a non-positive maxMarks becomes 1. The returned reason is
// empty when the input was already valid.
func clampScore(raw float64, maxMarks int) (score float64, marks int, reason string) {
	marks = maxMarks
	if marks <= 0 {
		marks = 1
		reason = "non-positive max marks"
	}
	switch {
	case math.IsNaN(raw) || math.IsInf(raw, 0):
		return 0, marks, "non-numeric score"
	case raw < 0:
		return 0, marks, "negative score"
	case raw > float64(marks):
		return float64(marks), marks, "score above max marks"
	}
	return raw, marks, reason
}

// CloseSession closes the open session, fixing its score percentage and
// cooldown. With nothing open it returns (nil, ErrNoActiveSession).
// Progression is left untouched.
func (s *Service) CloseSession(ctx context.Context, studentID, chapterID string) (*Session, error) {
	var out *Session
	_, err := s.mutate(ctx, studentID, chapterID, func(rec *Record, now time.Time) (bool, error) {
		cur := rec.CurrentSession()
		if cur == nil {
			return false, ErrNoActiveSession
		}

		earned, possible := cur.Totals()
		pct := 0.0
		if possible > 0 {
			pct = math.Round(100 * earned / possible)
		}
		hours := s.policy.CooldownFor(pct)
		closedAt := now

		cur.Status = StatusClosed
		cur.ScorePercentage = pct
		cur.ClosedAt = &closedAt
		cur.CooldownHours = &hours
		cur.PendingQuestionID = ""
		out = cur.clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SessionsClosed.WithLabelValues(strconv.Itoa(*out.CooldownHours)).Inc()
	s.logger.Info("session closed",
		"student", studentID, "chapter", chapterID, "session", out.ID,
		"score_percentage", out.ScorePercentage, "cooldown_hours", *out.CooldownHours)
	return out, nil
}

// CanStartNewSession reports whether the pair may open a new session now.
func (s *Service) CanStartNewSession(ctx context.Context, studentID, chapterID string) (bool, error) {
	rec, err := s.repo.Load(ctx, studentID, chapterID)
	if err != nil {
		return false, fmt.Errorf("load record: %w", err)
	}
	return CanStartNewSession(rec, s.now()), nil
}

// HoursUntilNextSession returns the hours left on the pair's cooldown.
func (s *Service) HoursUntilNextSession(ctx context.Context, studentID, chapterID string) (int, error) {
	rec, err := s.repo.Load(ctx, studentID, chapterID)
	if err != nil {
		return 0, fmt.Errorf("load record: %w", err)
	}
	return HoursUntilNextSession(rec, s.now()), nil
}

// ResetProgression puts the pair back at Easy with nothing completed.
// Session history is kept.
func (s *Service) ResetProgression(ctx context.Context, studentID, chapterID string) error {
	_, err := s.mutate(ctx, studentID, chapterID, func(rec *Record, _ time.Time) (bool, error) {
		if rec.Version == 0 {
			return false, nil
		}
		rec.Progression = progression.NewState()
		return true, nil
	})
	if err == nil {
		s.logger.Info("progression reset", "student", studentID, "chapter", chapterID)
	}
	return err
}

// Record returns the stored record of the pair, or nil if none exists.
func (s *Service) Record(ctx context.Context, studentID, chapterID string) (*Record, error) {
	rec, err := s.repo.Load(ctx, studentID, chapterID)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	return rec, nil
}
