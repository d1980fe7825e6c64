package progression

import (
	"sort"

	"github.com/abhisek/chapterquiz/internal/questionbank"
)

// State tracks how far a student has walked the difficulty ladder of one
// chapter. It lives on the session record and survives session closure.
type State struct {
	CurrentDifficulty questionbank.Difficulty              `json:"current_difficulty"`
	Completed         map[questionbank.Difficulty][]string `json:"completed_subtopics,omitempty"`
	LastSubtopic      string                               `json:"last_subtopic,omitempty"`
}

// NewState returns the initial state: Easy, nothing completed.
func NewState() State {
	return State{
		CurrentDifficulty: questionbank.Easy,
		Completed:         make(map[questionbank.Difficulty][]string),
	}
}

// Clone returns a deep copy so callers can mutate it without touching s.
func (s State) Clone() State {
	out := State{
		CurrentDifficulty: s.CurrentDifficulty,
		LastSubtopic:      s.LastSubtopic,
		Completed:         make(map[questionbank.Difficulty][]string, len(s.Completed)),
	}
	for d, subs := range s.Completed {
		out.Completed[d] = append([]string(nil), subs...)
	}
	if !out.CurrentDifficulty.Valid() {
		out.CurrentDifficulty = questionbank.Easy
	}
	return out
}

// IsCompleted reports whether subtopic is exhausted at difficulty d.
func (s State) IsCompleted(d questionbank.Difficulty, subtopic string) bool {
	for _, sub := range s.Completed[d] {
		if sub == subtopic {
			return true
		}
	}
	return false
}

// CompletedAt returns the completed subtopics at d in sorted order.
func (s State) CompletedAt(d questionbank.Difficulty) []string {
	return append([]string(nil), s.Completed[d]...)
}

func (s *State) markCompleted(d questionbank.Difficulty, subtopic string) {
	if s.IsCompleted(d, subtopic) {
		return
	}
	if s.Completed == nil {
		s.Completed = make(map[questionbank.Difficulty][]string)
	}
	subs := append(s.Completed[d], subtopic)
	sort.Strings(subs)
	s.Completed[d] = subs
}
