package questionbank

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Provider supplies the read-only question bank of a chapter.
// A chapter without questions yields an empty slice and a nil error.
type Provider interface {
	Items(ctx context.Context, chapterID string) ([]Item, error)
}

// StaticProvider serves banks held in memory, keyed by chapter ID.
type StaticProvider map[string][]Item

func (p StaticProvider) Items(_ context.Context, chapterID string) ([]Item, error) {
	items := p[chapterID]
	out := make([]Item, len(items))
	copy(out, items)
	return out, nil
}

// FileProvider loads banks from <Dir>/<chapterID>.json and caches them.
type FileProvider struct {
	Dir string

	mu    sync.RWMutex
	cache map[string][]Item
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir, cache: make(map[string][]Item)}
}

func (p *FileProvider) Items(_ context.Context, chapterID string) ([]Item, error) {
	p.mu.RLock()
	items, ok := p.cache[chapterID]
	p.mu.RUnlock()
	if ok {
		return items, nil
	}

	path := filepath.Join(p.Dir, filepath.Base(chapterID)+".json")
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}

	bank, err := Parse(raw)
	if err != nil {
		return nil, &ErrInvalidBank{Path: path, Err: err}
	}

	p.mu.Lock()
	p.cache[chapterID] = bank.Questions
	p.mu.Unlock()
	return bank.Questions, nil
}

// Invalidate drops the cached bank of a chapter so the next call rereads it.
func (p *FileProvider) Invalidate(chapterID string) {
	p.mu.Lock()
	delete(p.cache, chapterID)
	p.mu.Unlock()
}
