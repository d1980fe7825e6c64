package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepo is an in-process RecordRepo. Records are stored encoded so
// callers never share memory with the stored copy.
type MemoryRepo struct {
	mu   sync.Mutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	studentID string
	chapterID string
	version   int64
	data      []byte
}

// NewMemoryRepo creates an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{docs: make(map[string]memoryDoc)}
}

func (m *MemoryRepo) Load(_ context.Context, studentID, chapterID string) (*Record, error) {
	m.mu.Lock()
	doc, ok := m.docs[recordKey(studentID, chapterID)]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeDoc(doc)
}

func (m *MemoryRepo) Save(_ context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(rec.StudentID, rec.ChapterID)
	stored, ok := m.docs[key]
	switch {
	case !ok && rec.Version != 0:
		return ErrVersionConflict
	case ok && stored.version != rec.Version:
		return ErrVersionConflict
	}

	m.docs[key] = memoryDoc{
		studentID: rec.StudentID,
		chapterID: rec.ChapterID,
		version:   rec.Version + 1,
		data:      data,
	}
	rec.Version++
	return nil
}

func (m *MemoryRepo) EachRecord(ctx context.Context, fn func(studentID string, rec *Record, decodeErr error) error) error {
	m.mu.Lock()
	docs := make([]memoryDoc, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	m.mu.Unlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].studentID != docs[j].studentID {
			return docs[i].studentID < docs[j].studentID
		}
		return docs[i].chapterID < docs[j].chapterID
	})

	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, decErr := decodeDoc(d)
		if err := fn(d.studentID, rec, decErr); err != nil {
			return err
		}
	}
	return nil
}

// PutRaw stores an undecoded payload. Tests use it to simulate corrupt data.
func (m *MemoryRepo) PutRaw(studentID, chapterID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(studentID, chapterID)
	m.docs[key] = memoryDoc{
		studentID: studentID,
		chapterID: chapterID,
		version:   m.docs[key].version + 1,
		data:      data,
	}
}

func decodeDoc(d memoryDoc) (*Record, error) {
	rec, err := DecodeRecord(d.data)
	if err != nil {
		return nil, err
	}
	rec.StudentID = d.studentID
	rec.ChapterID = d.chapterID
	rec.Version = d.version
	return rec, nil
}

// DecodeRecord parses a stored record payload. Version and key fields are
// left for the caller to fill from the row.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.Progression.Completed == nil {
		rec.Progression = rec.Progression.Clone()
	}
	return &rec, nil
}
