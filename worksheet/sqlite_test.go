package worksheet

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/chatrelay/observability"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	tempFile, err := os.CreateTemp("", "worksheet_test_*.db")
	require.NoError(t, err)
	tempFilePath := tempFile.Name()
	tempFile.Close()

	db, err := sql.Open("sqlite3", tempFilePath)
	require.NoError(t, err)

	storage, err := NewSQLiteStorage(db, observability.NewNullLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		storage.Close()
		os.Remove(tempFilePath)
	})

	return storage
}

func TestSQLiteStorage_TreeRoundTrip(t *testing.T) {
	storage := setupTestDB(t)
	problem := seedProblem(t, storage, true)

	lessons, err := storage.ListLessons(context.Background())
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	require.Len(t, lessons[0].Topics, 1)
	require.Len(t, lessons[0].Topics[0].Problems, 1)

	got := lessons[0].Topics[0].Problems[0]
	assert.Equal(t, problem.ID, got.ID)
	assert.Equal(t, "Half of ten", got.Title)
	assert.True(t, got.Published)
}

func TestSQLiteStorage_ProblemContext(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	published := seedProblem(t, storage, true)
	unpublished := seedProblem(t, storage, false)

	pc, err := storage.ProblemContext(ctx, published.ID)
	require.NoError(t, err)
	assert.Equal(t, "Only discuss fractions.", pc.SystemPrompt)
	assert.Equal(t, "What is half of 10?", pc.InitialQuestion)

	_, err = storage.ProblemContext(ctx, unpublished.ID)
	assert.ErrorIs(t, err, ErrNotPublished)

	_, err = storage.ProblemContext(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStorage_CreateUnderMissingParent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.CreateTopic(ctx, "missing-lesson", "Halves")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = storage.CreateProblem(ctx, "missing-topic", Problem{Title: "orphan"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStorage_UpdateProblem(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	problem := seedProblem(t, storage, false)

	problem.Published = true
	problem.Prompt = "Only discuss decimals."
	require.NoError(t, storage.UpdateProblem(ctx, *problem))

	got, err := storage.GetProblem(ctx, problem.ID)
	require.NoError(t, err)
	assert.True(t, got.Published)
	assert.Equal(t, "Only discuss decimals.", got.Prompt)

	assert.ErrorIs(t, storage.UpdateProblem(ctx, Problem{ID: "missing"}), ErrNotFound)
}

func TestSQLiteStorage_DeleteLessonRemovesChildren(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	problem := seedProblem(t, storage, true)

	lessons, err := storage.ListLessons(ctx)
	require.NoError(t, err)
	require.Len(t, lessons, 1)

	require.NoError(t, storage.DeleteLesson(ctx, lessons[0].ID))

	_, err = storage.GetProblem(ctx, problem.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	lessons, err = storage.ListLessons(ctx)
	require.NoError(t, err)
	assert.Empty(t, lessons)
}

func TestSQLiteStorage_ConcurrentReads(t *testing.T) {
	storage := setupTestDB(t)
	problem := seedProblem(t, storage, true)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := storage.GetProblem(context.Background(), problem.ID)
			assert.NoError(t, err)
			assert.Equal(t, problem.ID, got.ID)
		}()
	}
	wg.Wait()
}
