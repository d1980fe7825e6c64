package session

import (
	"context"
	"sync"
)

// RecordRepo persists session records keyed by (studentID, chapterID).
type RecordRepo interface {
	// Load returns the record, or nil if none exists.
	Load(ctx context.Context, studentID, chapterID string) (*Record, error)

	// Save writes rec if the stored version still equals rec.Version
	// (0 means the record must not exist yet). On success rec.Version is
	// advanced. A lost race yields ErrVersionConflict.
	Save(ctx context.Context, rec *Record) error

	// EachRecord calls fn for every stored record. A record whose payload
	// cannot be decoded is passed with a nil rec and a non-nil decodeErr.
	// Returning an error from fn stops the iteration.
	EachRecord(ctx context.Context, fn func(studentID string, rec *Record, decodeErr error) error) error
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until key is free and returns its release func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func recordKey(studentID, chapterID string) string {
	return studentID + "\x00" + chapterID
}
