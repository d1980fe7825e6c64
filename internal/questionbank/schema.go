package questionbank

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Bank is the on-disk representation of a chapter's questions.
type Bank struct {
	ChapterID string `json:"chapter_id"`
	Questions []Item `json:"questions"`
}

// ErrInvalidBank indicates a bank file that does not match the bank schema
// or breaks an item invariant.
type ErrInvalidBank struct {
	Path string
	Err  error
}

func (e *ErrInvalidBank) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid question bank: %v", e.Err)
	}
	return fmt.Sprintf("invalid question bank %s: %v", e.Path, e.Err)
}

func (e *ErrInvalidBank) Unwrap() error { return e.Err }

// bankSchema is the JSON schema every bank file must satisfy.
var bankSchema = map[string]any{
	"type":     "object",
	"required": []any{"questions"},
	"properties": map[string]any{
		"chapter_id": map[string]any{"type": "string"},
		"questions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "text", "marks", "subtopic", "difficulty"},
				"properties": map[string]any{
					"id":              map[string]any{"type": "string", "minLength": 1},
					"text":            map[string]any{"type": "string"},
					"marks":           map[string]any{"type": "integer", "minimum": 1},
					"subtopic":        map[string]any{"type": "string"},
					"difficulty":      map[string]any{"type": "string", "enum": []any{"Easy", "Medium", "Hard"}},
					"expected_answer": map[string]any{"type": "string"},
				},
			},
		},
	},
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		// Round-trip through JSON so the compiler sees plain decoded values.
		defBytes, err := json.Marshal(bankSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal bank schema: %w", err)
			return
		}
		var defParsed any
		if err := json.Unmarshal(defBytes, &defParsed); err != nil {
			compileErr = fmt.Errorf("parse bank schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		const schemaURL = "schema://question-bank.json"
		if err := c.AddResource(schemaURL, defParsed); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Parse validates raw against the bank schema and decodes it.
// Duplicate question IDs are rejected.
func Parse(raw []byte) (*Bank, error) {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if err := sch.Validate(parsed); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var bank Bank
	if err := json.Unmarshal(raw, &bank); err != nil {
		return nil, fmt.Errorf("decode bank: %w", err)
	}

	seen := make(map[string]bool, len(bank.Questions))
	for _, it := range bank.Questions {
		if err := it.Validate(); err != nil {
			return nil, err
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("duplicate question id %q", it.ID)
		}
		seen[it.ID] = true
	}
	return &bank, nil
}
