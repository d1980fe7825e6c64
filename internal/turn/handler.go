// Package turn drives one inbound student message through the assessment
// flow: cooldown gate, session, answer recording, question selection and
// closure.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abhisek/chapterquiz/internal/progression"
	"github.com/abhisek/chapterquiz/internal/questionbank"
	"github.com/abhisek/chapterquiz/internal/session"
)

// Intent is the label an external classifier assigns to a student message.
type Intent string

const (
	IntentContinuingAnswer Intent = "continuing-answer"
	IntentNewSessionStart  Intent = "new-session-start"
	IntentEndSession       Intent = "end-session"
	IntentGeneralQuestion  Intent = "general-question"
)

// ParseIntent validates a classifier label.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(s); i {
	case IntentContinuingAnswer, IntentNewSessionStart, IntentEndSession, IntentGeneralQuestion:
		return i, nil
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// Action tells the orchestrator what to say next.
type Action string

const (
	// ActionAsk means Outcome.Question should be put to the student.
	ActionAsk Action = "ask"
	// ActionFreeForm means the chapter has no questions; explain instead.
	ActionFreeForm Action = "free-form"
	// ActionCooldown means no session can be opened yet.
	ActionCooldown Action = "cooldown"
	// ActionClosed means the session was closed on this turn.
	ActionClosed Action = "closed"
	// ActionExhausted means every question is answered but a placeholder
	// score is outstanding; the session closes with the last UpdateScore.
	ActionExhausted Action = "exhausted"
	// ActionAnswerGeneral means the message was a side question.
	ActionAnswerGeneral Action = "answer-general"
	// ActionNone means there was nothing to act on.
	ActionNone Action = "none"
)

// Score is an evaluated score for the pending question. Max of zero means
// the question's own marks.
type Score struct {
	Value float64
	Max   int
}

// Turn is one student message with its classified intent.
type Turn struct {
	StudentID string
	ChapterID string
	Intent    Intent
	Message   string

	// Score grades the pending question. When nil on a continuing answer a
	// zero placeholder is stored, to be corrected with UpdateScore.
	Score *Score
}

// Outcome is the result of handling a turn.
type Outcome struct {
	Action         Action
	SessionID      int
	Question       *questionbank.Item
	Recorded       *session.Answer
	Closed         *session.Session
	HoursRemaining int
}

// Handler applies turns to the session service.
type Handler struct {
	sessions *session.Service
	bank     questionbank.Provider
	logger   *slog.Logger
}

// NewHandler creates a handler. A nil logger means slog.Default().
func NewHandler(sessions *session.Service, bank questionbank.Provider, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, bank: bank, logger: logger}
}

// Handle processes one turn. Cooldown, exhaustion and a missing session are
// reported through Outcome.Action; only storage failures are errors.
func (h *Handler) Handle(ctx context.Context, t Turn) (*Outcome, error) {
	switch t.Intent {
	case IntentGeneralQuestion:
		return h.general(ctx, t)
	case IntentEndSession:
		return h.end(ctx, t)
	case IntentContinuingAnswer, IntentNewSessionStart:
		return h.advance(ctx, t)
	}
	return nil, fmt.Errorf("unknown intent %q", t.Intent)
}

func (h *Handler) general(ctx context.Context, t Turn) (*Outcome, error) {
	out := &Outcome{Action: ActionAnswerGeneral}
	sess, err := h.sessions.AppendMessage(ctx, t.StudentID, t.ChapterID, session.RoleStudent, t.Message)
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		return out, nil
	case err != nil:
		return nil, err
	}
	out.SessionID = sess.ID
	return out, nil
}

func (h *Handler) advance(ctx context.Context, t Turn) (*Outcome, error) {
	_, sess, err := h.sessions.GetOrCreateActiveSession(ctx, t.StudentID, t.ChapterID)
	if out, ok := cooldownOutcome(err); ok {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out := &Outcome{SessionID: sess.ID}

	if _, err := h.sessions.AppendMessage(ctx, t.StudentID, t.ChapterID, session.RoleStudent, t.Message); err != nil {
		return nil, err
	}

	switch {
	case t.Intent == IntentContinuingAnswer && sess.PendingQuestionID != "":
		ans, err := h.recordPending(ctx, t, sess.PendingQuestionID)
		if err != nil {
			return nil, err
		}
		out.Recorded = ans
	case sess.PendingQuestionID != "":
		// The question already served is still unanswered; ask it again
		// rather than moving the ladder on.
		item, ok, err := h.lookup(ctx, t.ChapterID, sess.PendingQuestionID)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Action = ActionAsk
			out.Question = &item
			return out, nil
		}
	}

	item, err := h.sessions.SelectNextQuestion(ctx, t.StudentID, t.ChapterID)
	switch {
	case errors.Is(err, session.ErrEmptyBank):
		out.Action = ActionFreeForm
		return out, nil
	case errors.Is(err, progression.ErrExhausted):
		return h.finish(ctx, t.StudentID, t.ChapterID, out)
	case err != nil:
		return nil, err
	}
	out.Action = ActionAsk
	out.Question = &item
	return out, nil
}

// finish closes the session of an exhausted chapter unless a placeholder
// score is still outstanding, in which case the close waits for UpdateScore.
func (h *Handler) finish(ctx context.Context, studentID, chapterID string, out *Outcome) (*Outcome, error) {
	rec, err := h.sessions.Record(ctx, studentID, chapterID)
	if err != nil {
		return nil, err
	}
	if cur := rec.CurrentSession(); cur != nil && cur.HasProvisional() {
		out.Action = ActionExhausted
		return out, nil
	}

	closed, err := h.sessions.CloseSession(ctx, studentID, chapterID)
	if err != nil {
		return nil, err
	}
	out.Action = ActionClosed
	out.Closed = closed
	return out, nil
}

func (h *Handler) end(ctx context.Context, t Turn) (*Outcome, error) {
	rec, err := h.sessions.Record(ctx, t.StudentID, t.ChapterID)
	if err != nil {
		return nil, err
	}
	var cur *session.Session
	if rec != nil {
		cur = rec.CurrentSession()
	}
	if cur == nil {
		return &Outcome{Action: ActionNone}, nil
	}

	out := &Outcome{SessionID: cur.ID}
	if _, err := h.sessions.AppendMessage(ctx, t.StudentID, t.ChapterID, session.RoleStudent, t.Message); err != nil {
		return nil, err
	}
	if cur.PendingQuestionID != "" && t.Score != nil {
		ans, err := h.recordPending(ctx, t, cur.PendingQuestionID)
		if err != nil {
			return nil, err
		}
		out.Recorded = ans
	}

	closed, err := h.sessions.CloseSession(ctx, t.StudentID, t.ChapterID)
	if errors.Is(err, session.ErrNoActiveSession) {
		return &Outcome{Action: ActionNone}, nil
	}
	if err != nil {
		return nil, err
	}
	out.Action = ActionClosed
	out.Closed = closed
	return out, nil
}

// recordPending stores the turn's score, or a provisional zero, for the
// pending question.
func (h *Handler) recordPending(ctx context.Context, t Turn, questionID string) (*session.Answer, error) {
	item, err := h.item(ctx, t.ChapterID, questionID)
	if err != nil {
		return nil, err
	}
	in := session.AnswerInput{
		StudentID:   t.StudentID,
		ChapterID:   t.ChapterID,
		QuestionID:  questionID,
		MaxMarks:    item.Marks,
		AnswerText:  t.Message,
		Provisional: t.Score == nil,
	}
	if t.Score != nil {
		in.RawScore = t.Score.Value
		if t.Score.Max > 0 {
			in.MaxMarks = t.Score.Max
		}
	}
	return h.sessions.RecordAnswer(ctx, in)
}

// UpdateScore replaces the score of an already recorded answer once its
// evaluation completes. When that was the last placeholder of an exhausted
// chapter the session is closed and reported as ActionClosed; otherwise the
// action is ActionNone.
func (h *Handler) UpdateScore(ctx context.Context, studentID, chapterID, questionID, answerText string, score Score) (*Outcome, error) {
	items, err := h.items(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if score.Max <= 0 {
		score.Max = h.resolve(items, chapterID, questionID).Marks
	}
	ans, err := h.sessions.RecordAnswer(ctx, session.AnswerInput{
		StudentID:  studentID,
		ChapterID:  chapterID,
		QuestionID: questionID,
		RawScore:   score.Value,
		MaxMarks:   score.Max,
		AnswerText: answerText,
	})
	if err != nil {
		return nil, err
	}

	rec, err := h.sessions.Record(ctx, studentID, chapterID)
	if err != nil {
		return nil, err
	}
	cur := rec.CurrentSession()
	out := &Outcome{Action: ActionNone, Recorded: ans}
	if cur == nil {
		return out, nil
	}
	out.SessionID = cur.ID
	if cur.PendingQuestionID != "" || cur.HasProvisional() || !exhausted(items, rec.AnsweredIDs()) {
		return out, nil
	}

	closed, err := h.sessions.CloseSession(ctx, studentID, chapterID)
	if errors.Is(err, session.ErrNoActiveSession) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.Action = ActionClosed
	out.Closed = closed
	return out, nil
}

// RecordReply stores the assistant's reply in the open session. With no
// open session the reply is dropped.
func (h *Handler) RecordReply(ctx context.Context, studentID, chapterID, text string) error {
	_, err := h.sessions.AppendMessage(ctx, studentID, chapterID, session.RoleAssistant, text)
	if errors.Is(err, session.ErrNoActiveSession) {
		h.logger.Debug("reply without open session", "student", studentID, "chapter", chapterID)
		return nil
	}
	return err
}

func (h *Handler) items(ctx context.Context, chapterID string) ([]questionbank.Item, error) {
	items, err := h.bank.Items(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("load question bank: %w", err)
	}
	return items, nil
}

func (h *Handler) lookup(ctx context.Context, chapterID, questionID string) (questionbank.Item, bool, error) {
	items, err := h.items(ctx, chapterID)
	if err != nil {
		return questionbank.Item{}, false, err
	}
	it, ok := questionbank.ByID(items)[questionID]
	return it, ok, nil
}

func (h *Handler) item(ctx context.Context, chapterID, questionID string) (questionbank.Item, error) {
	items, err := h.items(ctx, chapterID)
	if err != nil {
		return questionbank.Item{}, err
	}
	return h.resolve(items, chapterID, questionID), nil
}

func (h *Handler) resolve(items []questionbank.Item, chapterID, questionID string) questionbank.Item {
	if it, ok := questionbank.ByID(items)[questionID]; ok {
		return it
	}
	// The bank changed under an open session; score against a single mark.
	h.logger.Warn("pending question not in bank", "chapter", chapterID, "question", questionID)
	return questionbank.Item{ID: questionID, Marks: 1}
}

// exhausted reports whether every question of the bank has been answered.
func exhausted(items []questionbank.Item, answered map[string]bool) bool {
	for _, it := range items {
		if !answered[it.ID] {
			return false
		}
	}
	return len(items) > 0
}

func cooldownOutcome(err error) (*Outcome, bool) {
	var cd *session.CooldownError
	if errors.As(err, &cd) {
		return &Outcome{Action: ActionCooldown, HoursRemaining: cd.HoursRemaining}, true
	}
	return nil, false
}
