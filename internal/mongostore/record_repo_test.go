package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/abhisek/chapterquiz/internal/questionbank"
	"github.com/abhisek/chapterquiz/internal/session"
)

func TestDocID(t *testing.T) {
	assert.Equal(t, "stu/ch", docID("stu", "ch"))
}

// openTestRepo connects to CHAPTERQUIZ_TEST_MONGO_URI and uses a throwaway
// database.
func openTestRepo(t *testing.T) *RecordRepo {
	t.Helper()
	uri := os.Getenv("CHAPTERQUIZ_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHAPTERQUIZ_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, uri)
	require.NoError(t, err)

	db := client.Database("chapterquiz_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})

	repo := NewRecordRepo(db, "")
	require.NoError(t, repo.InitializeIndexes(ctx))
	return repo
}

func TestRecordRepo_RoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rec, err := repo.Load(ctx, "stu", "ch")
	require.NoError(t, err)
	assert.Nil(t, rec)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec = &session.Record{
		StudentID: "stu",
		ChapterID: "ch",
		Sessions: []session.Session{{
			ID:        1,
			Status:    session.StatusStarted,
			StartedAt: now,
			Answers:   []session.Answer{{QuestionID: "q1", QuestionMarks: 3, Score: 1.5}},
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Save(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	got, err := repo.Load(ctx, "stu", "ch")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 1.5, got.Sessions[0].Answers[0].Score)
}

func TestRecordRepo_Conflicts(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &session.Record{StudentID: "stu", ChapterID: "ch"}))
	assert.ErrorIs(t, repo.Save(ctx, &session.Record{StudentID: "stu", ChapterID: "ch"}), session.ErrVersionConflict)

	a, err := repo.Load(ctx, "stu", "ch")
	require.NoError(t, err)
	b, err := repo.Load(ctx, "stu", "ch")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, a))
	assert.ErrorIs(t, repo.Save(ctx, b), session.ErrVersionConflict)
}

func TestRecordRepo_EachRecordReportsCorruptData(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &session.Record{StudentID: "a", ChapterID: "ch"}))
	_, err := repo.collection.InsertOne(ctx, bson.M{
		"_id": "b/ch", "student_id": "b", "chapter_id": "ch", "version": 1, "data": "{nope",
	})
	require.NoError(t, err)

	var seen []string
	var failed []string
	err = repo.EachRecord(ctx, func(studentID string, rec *session.Record, decodeErr error) error {
		seen = append(seen, studentID)
		if decodeErr != nil {
			failed = append(failed, studentID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, []string{"b"}, failed)
}

func TestServiceOverMongo(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	svc := session.NewService(repo, questionbank.StaticProvider{})
	_, sess, err := svc.GetOrCreateActiveSession(ctx, "stu", "ch")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.ID)

	closed, err := svc.CloseSession(ctx, "stu", "ch")
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, closed.Status)
}
