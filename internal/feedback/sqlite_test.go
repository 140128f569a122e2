package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admission-criteria-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "feedback.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	return store
}

func sampleFeedback(hash string) *Feedback {
	return &Feedback{
		NoteHash:       hash,
		SuggestedLevel: domain.STRONGLY_SUPPORTED,
		UserLevel:      domain.POSSIBLY_SUPPORTED,
		Score:          7,
		Notes:          "Lactate normalized before admission order",
	}
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)

	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
	assert.Equal(t, dbPath, store.Path())
}

func TestFeedback_Validate(t *testing.T) {
	tests := []struct {
		name     string
		feedback Feedback
		field    string
		agreed   bool
	}{
		{
			name:     "agreement derived",
			feedback: Feedback{NoteHash: "abc", SuggestedLevel: domain.OBSERVATION_LIKELY, UserLevel: domain.OBSERVATION_LIKELY},
			agreed:   true,
		},
		{
			name:     "disagreement derived",
			feedback: Feedback{NoteHash: "abc", SuggestedLevel: domain.OBSERVATION_LIKELY, UserLevel: domain.STRONGLY_SUPPORTED, UserAgreed: true},
			agreed:   false,
		},
		{
			name:     "missing hash",
			feedback: Feedback{SuggestedLevel: domain.OBSERVATION_LIKELY, UserLevel: domain.OBSERVATION_LIKELY},
			field:    "note_hash",
		},
		{
			name:     "unknown suggested level",
			feedback: Feedback{NoteHash: "abc", SuggestedLevel: "Admit", UserLevel: domain.OBSERVATION_LIKELY},
			field:    "suggested_level",
		},
		{
			name:     "unknown user level",
			feedback: Feedback{NoteHash: "abc", SuggestedLevel: domain.OBSERVATION_LIKELY, UserLevel: ""},
			field:    "user_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := tt.feedback
			err := fb.Validate()
			if tt.field != "" {
				var verr *domain.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.field, verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.agreed, fb.UserAgreed)
		})
	}
}

func TestSQLiteStore_Save(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	feedback := sampleFeedback("hash-1")

	err := store.Save(ctx, feedback)

	require.NoError(t, err)
	assert.NotZero(t, feedback.ID, "ID should be assigned")
	assert.False(t, feedback.CreatedAt.IsZero(), "CreatedAt should be set")
	assert.False(t, feedback.UpdatedAt.IsZero(), "UpdatedAt should be set")
	assert.False(t, feedback.UserAgreed)
}

func TestSQLiteStore_Save_Invalid(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	err := store.Save(context.Background(), &Feedback{NoteHash: "x", SuggestedLevel: "bogus", UserLevel: domain.OBSERVATION_LIKELY})

	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSQLiteStore_Save_Update(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	first := sampleFeedback("hash-1")
	require.NoError(t, store.Save(ctx, first))

	second := sampleFeedback("hash-1")
	second.UserLevel = domain.STRONGLY_SUPPORTED
	second.Notes = "Reviewed again"
	require.NoError(t, store.Save(ctx, second))

	assert.Equal(t, first.ID, second.ID, "same note should keep its row")

	got, err := store.Get(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, domain.STRONGLY_SUPPORTED, got.UserLevel)
	assert.True(t, got.UserAgreed)
	assert.Equal(t, "Reviewed again", got.Notes)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStore_Get(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	saved := sampleFeedback("hash-get")
	require.NoError(t, store.Save(ctx, saved))

	got, err := store.Get(ctx, "hash-get")

	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, domain.STRONGLY_SUPPORTED, got.SuggestedLevel)
	assert.Equal(t, domain.POSSIBLY_SUPPORTED, got.UserLevel)
	assert.Equal(t, 7, got.Score)
	assert.Equal(t, saved.Notes, got.Notes)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	got, err := store.Get(context.Background(), "missing")

	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrFeedbackNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_List(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, sampleFeedback(fmt.Sprintf("hash-%d", i))))
	}

	list, err := store.List(ctx, 10, 0)

	require.NoError(t, err)
	require.Len(t, list, 3)
	// Newest first
	assert.Equal(t, "hash-2", list[0].NoteHash)
	assert.Equal(t, "hash-0", list[2].NoteHash)
}

func TestSQLiteStore_List_Pagination(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(ctx, sampleFeedback(fmt.Sprintf("hash-%d", i))))
	}

	page1, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	page3, err := store.List(ctx, 2, 4)
	require.NoError(t, err)
	empty, err := store.List(ctx, 2, 10)
	require.NoError(t, err)

	assert.Len(t, page1, 2)
	assert.Len(t, page3, 1)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSQLiteStore_Count(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.Save(ctx, sampleFeedback("a")))
	require.NoError(t, store.Save(ctx, sampleFeedback("b")))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	fb := sampleFeedback("to-delete")
	require.NoError(t, store.Save(ctx, fb))

	require.NoError(t, store.Delete(ctx, fb.ID))

	_, err := store.Get(ctx, "to-delete")
	assert.ErrorIs(t, err, ErrFeedbackNotFound)
}

func TestSQLiteStore_ExportJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleFeedback("e1")))
	require.NoError(t, store.Save(ctx, sampleFeedback("e2")))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	var export FeedbackExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, 2, export.Count)
	assert.Len(t, export.Feedback, 2)
	assert.False(t, export.ExportedAt.IsZero())
	assert.NotContains(t, buf.String(), "note_text")
}

func TestSQLiteStore_ImportJSON(t *testing.T) {
	source := createTestStore(t)
	defer source.Close()
	ctx := context.Background()

	require.NoError(t, source.Save(ctx, sampleFeedback("i1")))
	require.NoError(t, source.Save(ctx, sampleFeedback("i2")))

	var buf bytes.Buffer
	require.NoError(t, source.ExportJSON(ctx, &buf))

	target := createTestStore(t)
	defer target.Close()

	imported, skipped, err := target.ImportJSON(ctx, &buf)

	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 0, skipped)

	got, err := target.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.POSSIBLY_SUPPORTED, got.UserLevel)
}

func TestSQLiteStore_ImportJSON_SkipDuplicates(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleFeedback("dup")))

	export := FeedbackExport{
		Version: "1.0",
		Count:   3,
		Feedback: []*Feedback{
			sampleFeedback("dup"),
			sampleFeedback("fresh"),
			{NoteHash: "bad", SuggestedLevel: "nope", UserLevel: domain.OBSERVATION_LIKELY},
		},
	}
	data, err := json.Marshal(export)
	require.NoError(t, err)

	imported, skipped, err := store.ImportJSON(ctx, bytes.NewReader(data))

	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 2, skipped)
}

func TestSQLiteStore_ImportJSON_InvalidJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	_, _, err := store.ImportJSON(context.Background(), bytes.NewReader([]byte("{not json")))

	assert.Error(t, err)
}
