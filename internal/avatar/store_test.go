package avatar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"taskmanager/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "avatar.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Account{}, &model.Avatar{}))
	return db
}

func TestDBStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	acc := &model.Account{Name: "a", Email: "a@example.com", Password: "x"}
	require.NoError(t, db.Create(acc).Error)

	store := NewDBStore(db)
	_, err := store.Get(ctx, acc.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, acc.ID, []byte("png-bytes")))
	got, err := store.Get(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), got)

	require.NoError(t, store.Delete(ctx, acc.ID))
	_, err = store.Get(ctx, acc.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, acc.ID+100)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDBStoreKeepsAccountRowSmall(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	acc := &model.Account{Name: "a", Email: "a@example.com", Password: "x"}
	require.NoError(t, db.Create(acc).Error)

	store := NewDBStore(db)
	require.NoError(t, store.Put(ctx, acc.ID, []byte("first")))
	require.NoError(t, store.Put(ctx, acc.ID, []byte("second")))

	var rows int64
	require.NoError(t, db.Model(&model.Avatar{}).Where("account_id = ?", acc.ID).Count(&rows).Error)
	require.Equal(t, int64(1), rows)
	got, err := store.Get(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)

	require.False(t, db.Migrator().HasColumn(&model.Account{}, "avatar"))

	n, err := store.DeleteByOwner(ctx, db, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = store.Get(ctx, acc.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	store := NewS3Store(fake, "bucket")

	require.NoError(t, store.Put(ctx, 7, []byte("img")))
	require.Contains(t, fake.objects, "bucket/avatars/7.png")

	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, []byte("img"), got)

	require.NoError(t, store.Delete(ctx, 7))
	_, err = store.Get(ctx, 7)
	require.True(t, errors.Is(err, ErrNotFound))
}

type fakeFlags struct {
	flags map[uint]bool
}

func (f *fakeFlags) SetAvatarFlag(_ context.Context, id uint, has bool) error {
	f.flags[id] = has
	return nil
}

func TestServiceUploadAndRemove(t *testing.T) {
	ctx := context.Background()
	blobs := NewS3Store(&fakeS3{objects: map[string][]byte{}}, "b")
	flags := &fakeFlags{flags: map[uint]bool{}}
	svc := NewService(blobs, flags, 1<<20)
	acc := &model.Account{ID: 3}

	err := svc.Upload(ctx, acc, "x.gif", bytes.NewReader(samplePNG(t, 5, 5)))
	require.ErrorIs(t, err, ErrUnsupportedType)

	require.NoError(t, svc.Upload(ctx, acc, "x.png", bytes.NewReader(samplePNG(t, 5, 5))))
	require.True(t, acc.HasAvatar)
	require.True(t, flags.flags[3])

	data, err := svc.Get(ctx, 3)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	require.NoError(t, svc.Remove(ctx, acc))
	require.False(t, acc.HasAvatar)
	require.False(t, flags.flags[3])
	_, err = svc.Get(ctx, 3)
	require.ErrorIs(t, err, ErrNotFound)
}

type failingDeleteStore struct {
	BlobStore
	deleteErr error
}

func (f *failingDeleteStore) Delete(context.Context, uint) error {
	return f.deleteErr
}

func TestServiceRemoveKeepsFlagWhenDeleteFails(t *testing.T) {
	ctx := context.Background()
	inner := NewS3Store(&fakeS3{objects: map[string][]byte{}}, "b")
	blobs := &failingDeleteStore{BlobStore: inner, deleteErr: errors.New("s3 unavailable")}
	flags := &fakeFlags{flags: map[uint]bool{}}
	svc := NewService(blobs, flags, 1<<20)
	acc := &model.Account{ID: 9}

	require.NoError(t, svc.Upload(ctx, acc, "x.png", bytes.NewReader(samplePNG(t, 5, 5))))

	err := svc.Remove(ctx, acc)
	require.ErrorIs(t, err, blobs.deleteErr)
	require.True(t, acc.HasAvatar)
	require.True(t, flags.flags[9])

	data, err := svc.Get(ctx, 9)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}
