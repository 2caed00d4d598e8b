package task

import (
	"context"
	"path/filepath"
	"testing"

	"taskmanager/internal/config"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "task.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.Migrate(db))
	return NewStore(db), db
}

func descriptions(tasks []model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Description)
	}
	return out
}

func TestStore_CreateValidates(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Create(context.Background(), 1, "   ", false)
	assert.ErrorIs(t, err, ErrInvalidDescription)

	tk, err := s.Create(context.Background(), 1, "  trim me ", false)
	require.NoError(t, err)
	assert.Equal(t, "trim me", tk.Description)
	assert.EqualValues(t, 1, tk.OwnerID)
	assert.False(t, tk.Completed)
}

func TestStore_OwnerIsolation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	mine, err := s.Create(ctx, 1, "mine", false)
	require.NoError(t, err)

	_, err = s.Get(ctx, 2, mine.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	done := true
	_, err = s.Update(ctx, 2, mine.ID, Changes{Completed: &done})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Delete(ctx, 2, mine.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, 2, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(ctx, 1, mine.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed, "foreign update must not apply")

	list, err := s.List(ctx, 2, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ListOptions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	for _, d := range []string{"b", "a", "c"} {
		_, err := s.Create(ctx, 1, d, d == "a")
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, 2, "other", false)
	require.NoError(t, err)

	all, err := s.List(ctx, 1, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, descriptions(all))

	open := false
	filtered, err := s.List(ctx, 1, ListOptions{Completed: &open, SortBy: "description"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, descriptions(filtered))

	desc, err := s.List(ctx, 1, ListOptions{SortBy: "description", Desc: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, descriptions(desc))

	skipped, err := s.List(ctx, 1, ListOptions{SortBy: "description", Limit: 10, Skip: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, descriptions(skipped))

	_, err = s.List(ctx, 1, ListOptions{SortBy: "owner_id"})
	assert.ErrorIs(t, err, ErrInvalidSort)
}

func TestStore_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	tk, err := s.Create(ctx, 1, "draft", false)
	require.NoError(t, err)

	desc := "final"
	done := true
	updated, err := s.Update(ctx, 1, tk.ID, Changes{Description: &desc, Completed: &done})
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Description)
	assert.True(t, updated.Completed)

	blank := " "
	_, err = s.Update(ctx, 1, tk.ID, Changes{Description: &blank})
	assert.ErrorIs(t, err, ErrInvalidDescription)

	unchanged, err := s.Update(ctx, 1, tk.ID, Changes{})
	require.NoError(t, err)
	assert.Equal(t, "final", unchanged.Description)

	deleted, err := s.Delete(ctx, 1, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, deleted.ID)

	_, err = s.Get(ctx, 1, tk.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteByOwnerAndOrphans(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore(t)

	acc := &model.Account{Name: "a", Email: "a@example.com", Password: "x"}
	require.NoError(t, db.Create(acc).Error)
	_, _ = s.Create(ctx, acc.ID, "kept", false)
	_, _ = s.Create(ctx, acc.ID+1, "orphan 1", false)
	_, _ = s.Create(ctx, acc.ID+1, "orphan 2", false)

	n, err := s.PurgeOrphans(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.DeleteByOwner(ctx, db, acc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var count int64
	db.Model(&model.Task{}).Count(&count)
	assert.Zero(t, count)
}
