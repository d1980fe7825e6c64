package progression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/chapterquiz/internal/questionbank"
)

// firstRand always picks index 0.
type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

func item(id, sub string, d questionbank.Difficulty) questionbank.Item {
	return questionbank.Item{ID: id, Text: id, Marks: 1, Subtopic: sub, Difficulty: d}
}

func TestNext_LadderEndToEnd(t *testing.T) {
	items := []questionbank.Item{
		item("q1", "A", questionbank.Easy),
		item("q2", "B", questionbank.Easy),
		item("q3", "A", questionbank.Medium),
		item("q4", "A", questionbank.Hard),
	}
	sel := NewSelector()
	st := NewState()
	answered := map[string]bool{}

	first, st, err := sel.Next(items, st, answered)
	require.NoError(t, err)
	assert.Equal(t, questionbank.Easy, first.Difficulty)
	answered[first.ID] = true

	second, st, err := sel.Next(items, st, answered)
	require.NoError(t, err)
	assert.Equal(t, questionbank.Easy, second.Difficulty)
	assert.NotEqual(t, first.Subtopic, second.Subtopic)
	answered[second.ID] = true

	third, st, err := sel.Next(items, st, answered)
	require.NoError(t, err)
	assert.Equal(t, "q3", third.ID)
	assert.Equal(t, questionbank.Medium, st.CurrentDifficulty)
	answered[third.ID] = true

	fourth, st, err := sel.Next(items, st, answered)
	require.NoError(t, err)
	assert.Equal(t, "q4", fourth.ID)
	assert.Equal(t, questionbank.Hard, st.CurrentDifficulty)
	answered[fourth.ID] = true

	_, _, err = sel.Next(items, st, answered)
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestNext_EasyOnlyBankExhausts(t *testing.T) {
	items := []questionbank.Item{
		item("e1", "A", questionbank.Easy),
		item("e2", "B", questionbank.Easy),
		item("e3", "A", questionbank.Easy),
	}
	sel := NewSelector()
	st := NewState()
	answered := map[string]bool{}

	served := map[string]bool{}
	for range items {
		it, next, err := sel.Next(items, st, answered)
		require.NoError(t, err)
		assert.False(t, served[it.ID], "item %s served twice", it.ID)
		served[it.ID] = true
		answered[it.ID] = true
		st = next
	}

	_, st, err := sel.Next(items, st, answered)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, questionbank.Hard, st.CurrentDifficulty)
}

// candidateSubtopics lists subtopics with unanswered items at d.
func candidateSubtopics(items []questionbank.Item, answered map[string]bool, d questionbank.Difficulty) map[string]bool {
	out := map[string]bool{}
	for _, it := range items {
		if it.Difficulty == d && !answered[it.ID] {
			out[it.Subtopic] = true
		}
	}
	return out
}

func TestNext_NoImmediateRepeatOfSubtopic(t *testing.T) {
	items := []questionbank.Item{
		item("a1", "A", questionbank.Easy),
		item("a2", "A", questionbank.Easy),
		item("b1", "B", questionbank.Easy),
		item("b2", "B", questionbank.Easy),
		item("c1", "C", questionbank.Easy),
		item("c2", "C", questionbank.Easy),
	}

	for run := 0; run < 50; run++ {
		sel := NewSelector()
		st := NewState()
		answered := map[string]bool{}
		prev := ""
		for i := 0; i < len(items); i++ {
			remaining := candidateSubtopics(items, answered, questionbank.Easy)
			it, next, err := sel.Next(items, st, answered)
			require.NoError(t, err)
			if prev != "" && it.Subtopic == prev {
				assert.Len(t, remaining, 1, "repeat of %s allowed only when it is the sole subtopic left", prev)
			}
			prev = it.Subtopic
			answered[it.ID] = true
			st = next
		}
	}
}

func TestNext_SubtopicCompletedAfterLastItem(t *testing.T) {
	items := []questionbank.Item{
		item("a1", "A", questionbank.Easy),
		item("b1", "B", questionbank.Easy),
		item("b2", "B", questionbank.Easy),
	}
	sel := NewSelectorWithRand(firstRand{})

	it, st, err := sel.Next(items, NewState(), map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, "a1", it.ID)
	assert.True(t, st.IsCompleted(questionbank.Easy, "A"))
	assert.False(t, st.IsCompleted(questionbank.Easy, "B"))
	assert.Equal(t, "A", st.LastSubtopic)
}

func TestNext_DoesNotMutateInput(t *testing.T) {
	items := []questionbank.Item{
		item("a1", "A", questionbank.Easy),
		item("b1", "B", questionbank.Medium),
	}
	st := NewState()
	_, next, err := NewSelectorWithRand(firstRand{}).Next(items, st, map[string]bool{})
	require.NoError(t, err)

	assert.Empty(t, st.CompletedAt(questionbank.Easy))
	assert.Empty(t, st.LastSubtopic)
	// B has nothing at Easy, so it is completed there as well.
	assert.Equal(t, []string{"A", "B"}, next.CompletedAt(questionbank.Easy))
}

func TestNext_SkipsEmptyDifficulty(t *testing.T) {
	items := []questionbank.Item{
		item("h1", "A", questionbank.Hard),
	}
	it, st, err := NewSelector().Next(items, NewState(), map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, "h1", it.ID)
	assert.Equal(t, questionbank.Hard, st.CurrentDifficulty)
}

func TestNext_FallbackServesUnansweredLeftovers(t *testing.T) {
	items := []questionbank.Item{
		item("a1", "A", questionbank.Easy),
		item("b1", "B", questionbank.Easy),
	}
	// Both subtopics were served at Easy but a1 was never answered.
	st := State{
		CurrentDifficulty: questionbank.Hard,
		Completed: map[questionbank.Difficulty][]string{
			questionbank.Easy: {"A", "B"},
		},
		LastSubtopic: "B",
	}
	it, next, err := NewSelector().Next(items, st, map[string]bool{"b1": true})
	require.NoError(t, err)
	assert.Equal(t, "a1", it.ID)
	assert.Equal(t, "A", next.LastSubtopic)
}

func TestNext_FallbackPrefersOtherSubtopic(t *testing.T) {
	items := []questionbank.Item{
		item("a1", "A", questionbank.Easy),
		item("b1", "B", questionbank.Easy),
	}
	st := State{
		CurrentDifficulty: questionbank.Hard,
		Completed: map[questionbank.Difficulty][]string{
			questionbank.Easy: {"A", "B"},
		},
		LastSubtopic: "A",
	}
	it, _, err := NewSelectorWithRand(firstRand{}).Next(items, st, map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, "b1", it.ID)
}

func TestNext_EmptyBank(t *testing.T) {
	_, st, err := NewSelector().Next(nil, NewState(), nil)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, questionbank.Hard, st.CurrentDifficulty)
}

func TestStateClone_DefaultsInvalidDifficulty(t *testing.T) {
	var st State
	c := st.Clone()
	assert.Equal(t, questionbank.Easy, c.CurrentDifficulty)
	assert.NotNil(t, c.Completed)
}
