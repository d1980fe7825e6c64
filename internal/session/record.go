package session

import (
	"time"

	"github.com/abhisek/chapterquiz/internal/progression"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "inProgress"
	StatusClosed     Status = "closed"
)

// Role identifies who sent a message.
type Role string

const (
	RoleStudent   Role = "student"
	RoleAssistant Role = "assistant"
)

// Record is the assessment history of one student for one chapter.
type Record struct {
	StudentID string `json:"student_id"`
	ChapterID string `json:"chapter_id"`

	// Version is the stored revision the record was read at. Repositories
	// compare it on save and bump it on success.
	Version int64 `json:"-"`

	Sessions    []Session         `json:"sessions"`
	Progression progression.State `json:"progression"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is one bounded attempt at the chapter's questions.
type Session struct {
	ID              int        `json:"id"`
	Status          Status     `json:"status"`
	ScorePercentage float64    `json:"score_percentage"`
	CooldownHours   *int       `json:"cooldown_hours,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	Answers         []Answer   `json:"answers,omitempty"`
	Messages        []Message  `json:"messages,omitempty"`

	// PendingQuestionID is the last question served and not yet answered.
	PendingQuestionID string `json:"pending_question_id,omitempty"`
}

// Answer is the score of one question inside a session.
type Answer struct {
	QuestionID    string    `json:"question_id"`
	QuestionMarks int       `json:"question_marks"`
	Score         float64   `json:"score"`
	AnsweredAt    time.Time `json:"answered_at"`
	AnswerText    string    `json:"answer_text,omitempty"`

	// Provisional marks a placeholder score still awaiting evaluation.
	Provisional bool `json:"provisional,omitempty"`
}

// Message is one entry of the conversation held during a session.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// newRecord returns an empty record for the pair.
func newRecord(studentID, chapterID string, now time.Time) *Record {
	return &Record{
		StudentID:   studentID,
		ChapterID:   chapterID,
		Progression: progression.NewState(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CurrentSession returns the latest non-closed session, or nil when every
// session is closed.
func (r *Record) CurrentSession() *Session {
	if r == nil {
		return nil
	}
	for i := len(r.Sessions) - 1; i >= 0; i-- {
		if r.Sessions[i].Status != StatusClosed {
			return &r.Sessions[i]
		}
	}
	return nil
}

// LatestSession returns the most recent session regardless of status.
func (r *Record) LatestSession() *Session {
	if r == nil || len(r.Sessions) == 0 {
		return nil
	}
	return &r.Sessions[len(r.Sessions)-1]
}

// AnsweredIDs returns every question answered in any session of the record.
func (r *Record) AnsweredIDs() map[string]bool {
	out := make(map[string]bool)
	if r == nil {
		return out
	}
	for _, s := range r.Sessions {
		for _, a := range s.Answers {
			out[a.QuestionID] = true
		}
	}
	return out
}

// appendSession opens the next session and returns it.
func (r *Record) appendSession(now time.Time) *Session {
	id := 1
	if last := r.LatestSession(); last != nil {
		id = last.ID + 1
	}
	r.Sessions = append(r.Sessions, Session{
		ID:        id,
		Status:    StatusStarted,
		StartedAt: now,
	})
	return &r.Sessions[len(r.Sessions)-1]
}

// Totals returns the earned score and the available marks of the session.
func (s *Session) Totals() (earned float64, possible float64) {
	for _, a := range s.Answers {
		earned += a.Score
		possible += float64(a.QuestionMarks)
	}
	return earned, possible
}

// HasProvisional reports whether any answer still awaits its real score.
func (s *Session) HasProvisional() bool {
	for _, a := range s.Answers {
		if a.Provisional {
			return true
		}
	}
	return false
}

// Answer returns the entry for questionID, or nil.
func (s *Session) Answer(questionID string) *Answer {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == questionID {
			return &s.Answers[i]
		}
	}
	return nil
}

// touch moves a fresh session into progress. Closed sessions stay closed.
func (s *Session) touch() {
	if s.Status == StatusStarted {
		s.Status = StatusInProgress
	}
}

// clone returns a deep copy for handing out to callers.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.CooldownHours != nil {
		h := *s.CooldownHours
		out.CooldownHours = &h
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		out.ClosedAt = &t
	}
	out.Answers = append([]Answer(nil), s.Answers...)
	out.Messages = append([]Message(nil), s.Messages...)
	return &out
}
