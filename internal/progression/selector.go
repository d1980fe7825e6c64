package progression

import (
	"errors"
	"math/rand/v2"

	"github.com/samber/lo"

	"github.com/abhisek/chapterquiz/internal/questionbank"
)

// ErrExhausted is returned when no unanswered question remains in the chapter.
// Callers move the session toward closure instead of retrying.
var ErrExhausted = errors.New("question bank exhausted")

// Rand is the source of uniform picks.
type Rand interface {
	IntN(n int) int
}

// processRand uses the top-level math/rand/v2 generator, which is seeded
// once per process and safe for concurrent use.
type processRand struct{}

func (processRand) IntN(n int) int { return rand.IntN(n) }

// Selector picks the next question of a chapter.
type Selector struct {
	rng Rand
}

// NewSelector creates a selector backed by the process-wide generator.
func NewSelector() *Selector {
	return &Selector{rng: processRand{}}
}

// NewSelectorWithRand creates a selector with an explicit source (tests).
func NewSelectorWithRand(r Rand) *Selector {
	return &Selector{rng: r}
}

// Next chooses one unanswered item and returns it together with the updated
// progression. st is never modified. answered holds question IDs answered in
// any session of the record.
//
// The returned State is meaningful even with ErrExhausted: the ladder may have
// advanced before the bank ran dry.
func (s *Selector) Next(items []questionbank.Item, st State, answered map[string]bool) (questionbank.Item, State, error) {
	next := st.Clone()

	for {
		if item, ok := s.pickAtDifficulty(items, &next, answered); ok {
			return item, next, nil
		}
		d, more := next.CurrentDifficulty.Next()
		if !more {
			break
		}
		next.CurrentDifficulty = d
		next.LastSubtopic = ""
	}

	return s.fallback(items, next, answered)
}

// pickAtDifficulty runs one round of subtopic rotation at the current rung.
// It returns false when the rung has nothing left to offer.
func (s *Selector) pickAtDifficulty(items []questionbank.Item, st *State, answered map[string]bool) (questionbank.Item, bool) {
	d := st.CurrentDifficulty
	pool := lo.Filter(items, func(it questionbank.Item, _ int) bool {
		return it.Difficulty == d && !answered[it.ID]
	})
	if len(pool) == 0 {
		return questionbank.Item{}, false
	}

	available := lo.SliceToMap(pool, func(it questionbank.Item) (string, bool) {
		return it.Subtopic, true
	})

	var candidates []string
	for _, sub := range questionbank.Subtopics(items) {
		if st.IsCompleted(d, sub) {
			continue
		}
		if !available[sub] {
			// Nothing unanswered here at this rung.
			st.markCompleted(d, sub)
			continue
		}
		candidates = append(candidates, sub)
	}
	// Leftovers whose subtopic is already completed were served but never
	// answered; the Hard fallback picks them up.
	if len(candidates) == 0 {
		return questionbank.Item{}, false
	}

	if len(candidates) > 1 && st.LastSubtopic != "" {
		candidates = lo.Without(candidates, st.LastSubtopic)
	}

	sub := candidates[s.rng.IntN(len(candidates))]
	st.LastSubtopic = sub

	inSub := lo.Filter(pool, func(it questionbank.Item, _ int) bool { return it.Subtopic == sub })
	item := inSub[s.rng.IntN(len(inSub))]
	if len(inSub) == 1 {
		st.markCompleted(d, sub)
	}
	return item, true
}

// fallback serves any unanswered item in the chapter, preferring a subtopic
// other than the last one.
func (s *Selector) fallback(items []questionbank.Item, st State, answered map[string]bool) (questionbank.Item, State, error) {
	pool := lo.Filter(items, func(it questionbank.Item, _ int) bool { return !answered[it.ID] })
	if len(pool) == 0 {
		return questionbank.Item{}, st, ErrExhausted
	}

	fresh := lo.Filter(pool, func(it questionbank.Item, _ int) bool { return it.Subtopic != st.LastSubtopic })
	if len(fresh) > 0 {
		pool = fresh
	}

	item := pool[s.rng.IntN(len(pool))]
	st.LastSubtopic = item.Subtopic
	return item, st, nil
}
