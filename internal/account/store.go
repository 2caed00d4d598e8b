package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"taskmanager/internal/model"

	"gorm.io/gorm"
)

// PasswordHasher 计算与校验密码哈希。
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// Dependent 是随账户一起删除的数据（任务、会话），删除在同一事务内、账户记录之前执行。
type Dependent interface {
	DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerID uint) (int64, error)
}

// Changes 描述一次账户更新，nil 字段表示不修改。
type Changes struct {
	Name     *string
	Email    *string
	Age      *int
	Password *string
}

// Store 是账户凭据存储。
//
// 密码哈希只在 Create 与包含密码的 Update 中计算；删除时先级联清理 Dependent 再删除账户。
type Store struct {
	db         *gorm.DB
	hasher     PasswordHasher
	dependents []Dependent
	logger     *slog.Logger
}

// NewStore 创建账户存储。
func NewStore(db *gorm.DB, hasher PasswordHasher, logger *slog.Logger, dependents ...Dependent) *Store {
	return &Store{
		db:         db,
		hasher:     hasher,
		dependents: dependents,
		logger:     logger,
	}
}

// Create 校验输入、计算密码哈希并写入新账户。
func (s *Store) Create(ctx context.Context, in NewAccount) (*model.Account, error) {
	in.normalize()
	if err := in.validate(true); err != nil {
		return nil, err
	}

	if _, err := s.FindByEmail(ctx, in.Email); err == nil {
		return nil, fieldError("email", "already registered")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	acc := &model.Account{
		Name:     in.Name,
		Email:    in.Email,
		Age:      in.Age,
		Password: hash,
	}
	if err := s.db.WithContext(ctx).Create(acc).Error; err != nil {
		if isDuplicate(err) {
			return nil, fieldError("email", "already registered")
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return acc, nil
}

// FindByEmail 按邮箱（大小写不敏感）查找账户。
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	var acc model.Account
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&acc).Error
	return found(&acc, err)
}

// FindByID 按 ID 查找账户。
func (s *Store) FindByID(ctx context.Context, id uint) (*model.Account, error) {
	var acc model.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&acc).Error
	return found(&acc, err)
}

// Update 应用变更。密码只有在提交且与当前哈希不匹配时才重新计算。
func (s *Store) Update(ctx context.Context, acc *model.Account, ch Changes) error {
	merged := NewAccount{Name: acc.Name, Email: acc.Email, Age: acc.Age}
	if ch.Name != nil {
		merged.Name = *ch.Name
	}
	if ch.Email != nil {
		merged.Email = *ch.Email
	}
	if ch.Age != nil {
		merged.Age = *ch.Age
	}
	if ch.Password != nil {
		merged.Password = *ch.Password
	}
	merged.normalize()
	if err := merged.validate(ch.Password != nil); err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if merged.Name != acc.Name {
		updates["name"] = merged.Name
	}
	if merged.Age != acc.Age {
		updates["age"] = merged.Age
	}
	if merged.Email != acc.Email {
		other, err := s.FindByEmail(ctx, merged.Email)
		if err == nil && other.ID != acc.ID {
			return fieldError("email", "already registered")
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		updates["email"] = merged.Email
	}
	if ch.Password != nil && !s.hasher.Verify(merged.Password, acc.Password) {
		hash, err := s.hasher.Hash(merged.Password)
		if err != nil {
			return err
		}
		updates["password"] = hash
	}
	if len(updates) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(acc).Updates(updates).Error; err != nil {
		if isDuplicate(err) {
			return fieldError("email", "already registered")
		}
		return fmt.Errorf("update account: %w", err)
	}

	acc.Name = merged.Name
	acc.Email = merged.Email
	acc.Age = merged.Age
	if hash, ok := updates["password"].(string); ok {
		acc.Password = hash
	}
	return nil
}

// Delete 在一个事务中先删除所有 Dependent 的数据，再删除账户本身。
func (s *Store) Delete(ctx context.Context, acc *model.Account) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, dep := range s.dependents {
			n, err := dep.DeleteByOwner(ctx, tx, acc.ID)
			if err != nil {
				return fmt.Errorf("cascade %T: %w", dep, err)
			}
			s.logger.Debug("cascade delete",
				slog.Uint64("account_id", uint64(acc.ID)),
				slog.String("dependent", fmt.Sprintf("%T", dep)),
				slog.Int64("rows", n))
		}
		res := tx.Where("id = ?", acc.ID).Delete(&model.Account{})
		if res.Error != nil {
			return fmt.Errorf("delete account: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		s.logger.Error("delete account failed",
			slog.Uint64("account_id", uint64(acc.ID)),
			slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("account deleted", slog.Uint64("account_id", uint64(acc.ID)))
	return nil
}

// SetAvatarFlag 更新头像存在标记。
func (s *Store) SetAvatarFlag(ctx context.Context, id uint, has bool) error {
	if err := s.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).Update("has_avatar", has).Error; err != nil {
		return fmt.Errorf("update avatar flag: %w", err)
	}
	return nil
}

func found(acc *model.Account, err error) (*model.Account, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	return acc, nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
