package avatar

import (
	"context"
	"errors"
	"fmt"

	"taskmanager/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlobStore 保存处理后的头像 PNG。
type BlobStore interface {
	Put(ctx context.Context, accountID uint, data []byte) error
	Get(ctx context.Context, accountID uint) ([]byte, error)
	Delete(ctx context.Context, accountID uint) error
}

// DBStore 将头像保存在 avatars 表中，与 accounts 分开，账户查询不会带出图片数据。
type DBStore struct {
	db *gorm.DB
}

// NewDBStore 创建数据库头像存储。
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Put(ctx context.Context, accountID uint, data []byte) error {
	row := model.Avatar{AccountID: accountID, Data: data}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save avatar: %w", err)
	}
	return nil
}

func (s *DBStore) Get(ctx context.Context, accountID uint) ([]byte, error) {
	var row model.Avatar
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load avatar: %w", err)
	}
	if len(row.Data) == 0 {
		return nil, ErrNotFound
	}
	return row.Data, nil
}

func (s *DBStore) Delete(ctx context.Context, accountID uint) error {
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&model.Avatar{}).Error; err != nil {
		return fmt.Errorf("delete avatar: %w", err)
	}
	return nil
}

// DeleteByOwner 在账户删除事务中一并删除头像数据。
func (s *DBStore) DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerID uint) (int64, error) {
	res := tx.WithContext(ctx).Where("account_id = ?", ownerID).Delete(&model.Avatar{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
