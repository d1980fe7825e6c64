package ranking

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/abhisek/chapterquiz/internal/session"
)

const msPerHour = 3_600_000.0

// userStats accumulates one user's raw totals across records.
type userStats struct {
	marks  float64
	quizMs int64
}

// accumulate folds one record into st. It rejects data that would poison
// the points formula.
func (st *userStats) accumulate(rec *session.Record) error {
	var marks float64
	for _, s := range rec.Sessions {
		for _, a := range s.Answers {
			if math.IsNaN(a.Score) || a.Score < 0 || a.Score > float64(a.QuestionMarks) {
				return fmt.Errorf("chapter %s session %d: score %v out of range for %s",
					rec.ChapterID, s.ID, a.Score, a.QuestionID)
			}
			marks += a.Score
		}
	}

	st.marks += marks
	if last := rec.LatestSession(); last != nil {
		st.quizMs += responseMillis(last.Messages)
	}
	return nil
}

// responseMillis sums the gaps between the latest assistant message and the
// student message that follows it. Non-positive gaps are skipped.
func responseMillis(msgs []session.Message) int64 {
	var total int64
	var asked *session.Message
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case session.RoleAssistant:
			asked = m
		case session.RoleStudent:
			if asked == nil {
				continue
			}
			if gap := m.At.UnixMilli() - asked.At.UnixMilli(); gap > 0 {
				total += gap
			}
			asked = nil
		}
	}
	return total
}

// points applies the ranking formula.
func points(marks, quizHours, learningHours, divisor float64) float64 {
	if quizHours > 0 {
		return marks/quizHours + learningHours/divisor
	}
	return learningHours / divisor
}

// assignRanks orders entries by points (desc), quiz time (asc) and user ID
// and numbers them 1..N without gaps.
func assignRanks(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		if c := cmp.Compare(a.QuizTimeHours, b.QuizTimeHours); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}
