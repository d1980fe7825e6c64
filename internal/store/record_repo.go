package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/chapterquiz/internal/session"
)

// RecordRepo stores session records as JSON documents, one row per
// (student, chapter), guarded by a version column.
type RecordRepo struct {
	db *sql.DB
}

var _ session.RecordRepo = (*RecordRepo)(nil)

func (r *RecordRepo) Load(ctx context.Context, studentID, chapterID string) (*session.Record, error) {
	b := builder()
	query, args := b.Select("version", "data").
		From(b.Table(tableRecords)).
		Where(entsql.And(
			entsql.EQ("student_id", studentID),
			entsql.EQ("chapter_id", chapterID),
		)).
		Query()

	var (
		version int64
		data    string
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session record: %w", err)
	}

	rec, err := session.DecodeRecord([]byte(data))
	if err != nil {
		return nil, err
	}
	rec.StudentID = studentID
	rec.ChapterID = chapterID
	rec.Version = version
	return rec, nil
}

func (r *RecordRepo) Save(ctx context.Context, rec *session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	b := builder()
	var query string
	var args []any
	if rec.Version == 0 {
		query, args = b.Insert(tableRecords).
			Columns("student_id", "chapter_id", "version", "data", "created_at", "updated_at").
			Values(rec.StudentID, rec.ChapterID, int64(1), string(data),
				rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli()).
			OnConflict(
				entsql.ConflictColumns("student_id", "chapter_id"),
				entsql.DoNothing(),
			).
			Query()
	} else {
		query, args = b.Update(tableRecords).
			Set("version", rec.Version+1).
			Set("data", string(data)).
			Set("updated_at", rec.UpdatedAt.UnixMilli()).
			Where(entsql.And(
				entsql.EQ("student_id", rec.StudentID),
				entsql.EQ("chapter_id", rec.ChapterID),
				entsql.EQ("version", rec.Version),
			)).
			Query()
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	if n == 0 {
		return session.ErrVersionConflict
	}
	rec.Version++
	return nil
}

type storedRecord struct {
	studentID string
	chapterID string
	version   int64
	data      string
}

func (r *RecordRepo) EachRecord(ctx context.Context, fn func(studentID string, rec *session.Record, decodeErr error) error) error {
	b := builder()
	query, args := b.Select("student_id", "chapter_id", "version", "data").
		From(b.Table(tableRecords)).
		OrderBy("student_id", "chapter_id").
		Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query session records: %w", err)
	}
	// Drain before calling fn so the single connection is free again.
	var stored []storedRecord
	for rows.Next() {
		var s storedRecord
		if err := rows.Scan(&s.studentID, &s.chapterID, &s.version, &s.data); err != nil {
			rows.Close()
			return fmt.Errorf("scan session record: %w", err)
		}
		stored = append(stored, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate session records: %w", err)
	}
	rows.Close()

	for _, s := range stored {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, decErr := session.DecodeRecord([]byte(s.data))
		if decErr == nil {
			rec.StudentID = s.studentID
			rec.ChapterID = s.chapterID
			rec.Version = s.version
		}
		if err := fn(s.studentID, rec, decErr); err != nil {
			return err
		}
	}
	return nil
}
