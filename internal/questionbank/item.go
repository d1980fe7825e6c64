package questionbank

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Difficulty is a rung of the progression ladder.
type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// Difficulties lists the ladder in traversal order.
var Difficulties = []Difficulty{Easy, Medium, Hard}

// Valid reports whether d is one of the three known difficulties.
func (d Difficulty) Valid() bool {
	return d == Easy || d == Medium || d == Hard
}

// Next returns the following rung, or false when d is already Hard.
func (d Difficulty) Next() (Difficulty, bool) {
	switch d {
	case Easy:
		return Medium, true
	case Medium:
		return Hard, true
	}
	return Hard, false
}

// ParseDifficulty accepts any casing of easy/medium/hard.
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy, nil
	case "medium":
		return Medium, nil
	case "hard":
		return Hard, nil
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

// Item is one question of a chapter's bank. Items are immutable once loaded.
type Item struct {
	ID             string     `json:"id"`
	Text           string     `json:"text"`
	Marks          int        `json:"marks"`
	Subtopic       string     `json:"subtopic"`
	Difficulty     Difficulty `json:"difficulty"`
	ExpectedAnswer string     `json:"expected_answer,omitempty"`
}

// Validate checks the invariants the selector relies on.
func (it Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("question has empty id")
	}
	if it.Marks <= 0 {
		return fmt.Errorf("question %s: marks must be positive, got %d", it.ID, it.Marks)
	}
	if !it.Difficulty.Valid() {
		return fmt.Errorf("question %s: invalid difficulty %q", it.ID, it.Difficulty)
	}
	return nil
}

// Subtopics returns the distinct subtopics of items, sorted.
func Subtopics(items []Item) []string {
	subs := lo.Uniq(lo.Map(items, func(it Item, _ int) string { return it.Subtopic }))
	sort.Strings(subs)
	return subs
}

// ByID indexes items by question ID.
func ByID(items []Item) map[string]Item {
	return lo.KeyBy(items, func(it Item) string { return it.ID })
}
