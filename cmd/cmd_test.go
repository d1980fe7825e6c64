package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/chapterquiz/internal/session"
	"github.com/abhisek/chapterquiz/internal/store"
)

const testBank = `{
  "chapter_id": "fractions",
  "questions": [
    {"id": "e1", "text": "1/2 + 1/2?", "marks": 2, "subtopic": "add", "difficulty": "Easy"},
    {"id": "m1", "text": "3/4 - 1/8?", "marks": 3, "subtopic": "sub", "difficulty": "Medium"}
  ]
}`

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func setup(t *testing.T) (dbPath string) {
	t.Helper()
	dir := t.TempDir()
	bankDir := filepath.Join(dir, "banks")
	require.NoError(t, os.MkdirAll(bankDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bankDir, "fractions.json"), []byte(testBank), 0o644))

	t.Setenv("CHAPTERQUIZ_BANK_DIR", bankDir)
	t.Setenv("CHAPTERQUIZ_BACKEND", "sqlite")
	t.Setenv("CHAPTERQUIZ_REDIS_URL", "")
	t.Setenv("CHAPTERQUIZ_LOG_LEVEL", "error")
	return filepath.Join(dir, "quiz.db")
}

func TestBankValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(testBank), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`{"questions": [{"id": "x"}]}`), 0o644))

	assert.NoError(t, run(t, "bank", "validate", good))
	assert.Error(t, run(t, "bank", "validate", bad))
	assert.Error(t, run(t, "bank", "validate", filepath.Join(dir, "missing.json")))
}

func TestTurnSessionAndRankCommands(t *testing.T) {
	db := setup(t)

	require.NoError(t, run(t, "--db", db, "turn", "stu", "fractions", "--intent", "new-session-start", "-m", "hi"))
	require.NoError(t, run(t, "--db", db, "session", "status", "stu", "fractions"))
	require.NoError(t, run(t, "--db", db, "session", "close", "stu", "fractions"))
	require.NoError(t, run(t, "--db", db, "session", "close", "stu", "fractions"), "closing twice is a no-op")
	require.NoError(t, run(t, "--db", db, "session", "reset-progression", "stu", "fractions"))
	require.NoError(t, run(t, "--db", db, "rank", "refresh"))
	require.NoError(t, run(t, "--db", db, "rank", "show", "stu"))

	assert.Error(t, run(t, "--db", db, "turn", "stu", "fractions", "--intent", "chit-chat"))

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Records().Load(context.Background(), "stu", "fractions")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Sessions, 1)
	assert.Equal(t, session.StatusClosed, rec.Sessions[0].Status)
	assert.Empty(t, rec.Sessions[0].PendingQuestionID)
	assert.Equal(t, "hi", rec.Sessions[0].Messages[0].Text)

	n, err := s.Rankings().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
