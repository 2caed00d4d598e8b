package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"taskmanager/internal/config"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// plainHasher 用可读前缀代替 bcrypt，并记录调用次数。
type plainHasher struct {
	hashCalls int
}

func (h *plainHasher) Hash(plain string) (string, error) {
	h.hashCalls++
	return "hashed:" + plain, nil
}

func (h *plainHasher) Verify(plain, digest string) bool {
	return digest == "hashed:"+plain
}

type fakeDependent struct {
	deleted []uint
	err     error
}

func (d *fakeDependent) DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerID uint) (int64, error) {
	if d.err != nil {
		return 0, d.err
	}
	d.deleted = append(d.deleted, ownerID)
	return 1, nil
}

func newTestStore(t *testing.T, deps ...Dependent) (*Store, *plainHasher, *gorm.DB) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "account.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.Migrate(db))
	h := &plainHasher{}
	return NewStore(db, h, slog.New(slog.NewTextHandler(io.Discard, nil)), deps...), h, db
}

func validInput() NewAccount {
	return NewAccount{Name: " Alice ", Email: " Alice@Example.COM ", Age: 30, Password: " s3cret-pass "}
}

func fieldOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
	return verr.Fields
}

func TestCreate_NormalizesAndHashes(t *testing.T) {
	s, h, _ := newTestStore(t)
	acc, err := s.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "Alice", acc.Name)
	assert.Equal(t, "alice@example.com", acc.Email)
	assert.Equal(t, "hashed:s3cret-pass", acc.Password)
	assert.Equal(t, 1, h.hashCalls)

	found, err := s.FindByEmail(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)
}

func TestCreate_Validation(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, validInput())
	require.NoError(t, err)

	cases := map[string]struct {
		mutate func(*NewAccount)
		field  string
	}{
		"duplicate email":  {func(in *NewAccount) { in.Email = "alice@example.com" }, "email"},
		"invalid email":    {func(in *NewAccount) { in.Email = "nope" }, "email"},
		"empty name":       {func(in *NewAccount) { in.Name = "  " }, "name"},
		"negative age":     {func(in *NewAccount) { in.Age = -1 }, "age"},
		"short password":   {func(in *NewAccount) { in.Password = "abcdef" }, "password"},
		"password literal": {func(in *NewAccount) { in.Password = "MyPassword123" }, "password"},
		"password123":      {func(in *NewAccount) { in.Password = "password123" }, "password"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			in.Email = "other@example.com"
			tc.mutate(&in)
			_, err := s.Create(ctx, in)
			assert.Contains(t, fieldOf(t, err), tc.field)
		})
	}
}

func TestFind_NotFound(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.FindByEmail(context.Background(), "x@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	s, h, _ := newTestStore(t)
	ctx := context.Background()
	acc, err := s.Create(ctx, validInput())
	require.NoError(t, err)
	other := validInput()
	other.Email = "bob@example.com"
	_, err = s.Create(ctx, other)
	require.NoError(t, err)

	name := "Alicia"
	require.NoError(t, s.Update(ctx, acc, Changes{Name: &name}))
	assert.Equal(t, 2, h.hashCalls, "name change must not rehash")

	reloaded, err := s.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", reloaded.Name)

	same := "s3cret-pass"
	require.NoError(t, s.Update(ctx, acc, Changes{Password: &same}))
	assert.Equal(t, 2, h.hashCalls, "unchanged password must not rehash")

	newPass := "n3w-secret"
	require.NoError(t, s.Update(ctx, acc, Changes{Password: &newPass}))
	assert.Equal(t, 3, h.hashCalls)
	assert.Equal(t, "hashed:n3w-secret", acc.Password)

	taken := "BOB@example.com"
	assert.Contains(t, fieldOf(t, s.Update(ctx, acc, Changes{Email: &taken})), "email")

	bad := "password-x"
	assert.Contains(t, fieldOf(t, s.Update(ctx, acc, Changes{Password: &bad})), "password")

	neg := -5
	assert.Contains(t, fieldOf(t, s.Update(ctx, acc, Changes{Age: &neg})), "age")
}

func TestDelete_CascadesFirst(t *testing.T) {
	tasks := &fakeDependent{}
	sessions := &fakeDependent{}
	s, _, _ := newTestStore(t, tasks, sessions)
	ctx := context.Background()
	acc, err := s.Create(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, acc))
	assert.Equal(t, []uint{acc.ID}, tasks.deleted)
	assert.Equal(t, []uint{acc.ID}, sessions.deleted)

	_, err = s.FindByID(ctx, acc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, acc), ErrNotFound)
}

func TestDelete_CascadeFailureKeepsAccount(t *testing.T) {
	failing := &fakeDependent{err: errors.New("boom")}
	s, _, _ := newTestStore(t, failing)
	ctx := context.Background()
	acc, err := s.Create(ctx, validInput())
	require.NoError(t, err)

	require.Error(t, s.Delete(ctx, acc))
	_, err = s.FindByID(ctx, acc.ID)
	assert.NoError(t, err)
}

func TestDelete_RealDependentsRollBack(t *testing.T) {
	s, _, db := newTestStore(t)
	ctx := context.Background()
	acc, err := s.Create(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, db.Create(&model.Task{Description: "t", OwnerID: acc.ID}).Error)

	failing := &fakeDependent{err: errors.New("boom")}
	s.dependents = []Dependent{taskDeleter{}, failing}
	require.Error(t, s.Delete(ctx, acc))

	var n int64
	db.Model(&model.Task{}).Where("owner_id = ?", acc.ID).Count(&n)
	assert.EqualValues(t, 1, n, "task delete must roll back with the transaction")
}

// taskDeleter 在事务内删除任务，用于验证回滚。
type taskDeleter struct{}

func (taskDeleter) DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerID uint) (int64, error) {
	res := tx.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&model.Task{})
	return res.RowsAffected, res.Error
}

func TestSetAvatarFlag(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	acc, err := s.Create(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, s.SetAvatarFlag(ctx, acc.ID, true))
	reloaded, err := s.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.HasAvatar)
}

func TestToViewRedacts(t *testing.T) {
	v := ToView(&model.Account{ID: 1, Name: "A", Email: "a@example.com", Password: "hashed:x", HasAvatar: true})
	assert.Equal(t, uint(1), v.ID)
	assert.Nil(t, ToView(nil))
}
