package avatar

import (
	"context"
	"io"

	"taskmanager/internal/model"
)

// FlagSetter 维护账户的头像存在标记。
type FlagSetter interface {
	SetAvatarFlag(ctx context.Context, id uint, has bool) error
}

// Service 串联图片处理、存储与头像标记。
type Service struct {
	blobs    BlobStore
	flags    FlagSetter
	maxBytes int64
}

// NewService 创建头像服务。
func NewService(blobs BlobStore, flags FlagSetter, maxBytes int64) *Service {
	return &Service{blobs: blobs, flags: flags, maxBytes: maxBytes}
}

// Upload 处理并保存头像。
func (s *Service) Upload(ctx context.Context, acc *model.Account, filename string, r io.Reader) error {
	if err := AcceptFilename(filename); err != nil {
		return err
	}
	data, err := Process(r, s.maxBytes)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, acc.ID, data); err != nil {
		return err
	}
	if err := s.flags.SetAvatarFlag(ctx, acc.ID, true); err != nil {
		return err
	}
	acc.HasAvatar = true
	return nil
}

// Remove 删除头像，没有头像时同样成功。
// 先删数据再清标记：删除失败时标记保持不变。
func (s *Service) Remove(ctx context.Context, acc *model.Account) error {
	if err := s.blobs.Delete(ctx, acc.ID); err != nil {
		return err
	}
	if err := s.flags.SetAvatarFlag(ctx, acc.ID, false); err != nil {
		return err
	}
	acc.HasAvatar = false
	return nil
}

// Get 返回账户的头像 PNG。
func (s *Service) Get(ctx context.Context, accountID uint) ([]byte, error) {
	return s.blobs.Get(ctx, accountID)
}

// Purge 删除已注销账户遗留的头像数据。
func (s *Service) Purge(ctx context.Context, accountID uint) error {
	return s.blobs.Delete(ctx, accountID)
}
