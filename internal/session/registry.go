package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"taskmanager/internal/model"

	"gorm.io/gorm"
)

// Registry 记录每个账户当前有效的 token。
//
// 每次登记或撤销都是单行 INSERT / DELETE，同一账户的并发登录、注销互不覆盖。
// 表中只保存 token 的摘要。
type Registry struct {
	db *gorm.DB
}

// NewRegistry 创建会话登记。
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Digest 返回 token 的 SHA-256 十六进制摘要。
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Add 登记一个新签发的 token。
func (r *Registry) Add(ctx context.Context, accountID uint, token string) error {
	rec := &model.SessionToken{
		AccountID: accountID,
		TokenHash: Digest(token),
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// RemoveOne 撤销与 token 完全相等的会话；没有匹配时返回 false 且不报错。
func (r *Registry) RemoveOne(ctx context.Context, accountID uint, token string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("account_id = ? AND token_hash = ?", accountID, Digest(token)).
		Delete(&model.SessionToken{})
	if res.Error != nil {
		return false, fmt.Errorf("delete session: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RemoveAll 撤销账户的所有会话，返回撤销数量。
func (r *Registry) RemoveAll(ctx context.Context, accountID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&model.SessionToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// IsLive 判断 token 是否仍登记在账户下。
func (r *Registry) IsLive(ctx context.Context, accountID uint, token string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.SessionToken{}).
		Where("account_id = ? AND token_hash = ?", accountID, Digest(token)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count session: %w", err)
	}
	return n > 0, nil
}

// List 按签发顺序返回账户的会话。
func (r *Registry) List(ctx context.Context, accountID uint) ([]model.SessionToken, error) {
	var out []model.SessionToken
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// DeleteByOwner 在账户删除事务中清理其会话。
func (r *Registry) DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerID uint) (int64, error) {
	res := tx.WithContext(ctx).Where("account_id = ?", ownerID).Delete(&model.SessionToken{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// PurgeOrphans 删除账户已不存在的会话。
func (r *Registry) PurgeOrphans(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("account_id NOT IN (?)", r.db.Model(&model.Account{}).Select("id")).
		Delete(&model.SessionToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge orphan sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeIssuedBefore 删除早于 cutoff 签发的会话（对应的 token 已过期）。
func (r *Registry) PurgeIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.SessionToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
