package task

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskmanager/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 任务不存在或不属于当前用户，两种情况对外不可区分。
	ErrNotFound = errors.New("task not found")
	// ErrInvalidDescription 描述为空。
	ErrInvalidDescription = errors.New("description is required")
	// ErrInvalidSort 排序字段不受支持。
	ErrInvalidSort = errors.New("invalid sort field")
)

// 允许排序的字段（兼容 camelCase 写法）。
var sortColumns = map[string]string{
	"createdAt":   "created_at",
	"created_at":  "created_at",
	"updatedAt":   "updated_at",
	"updated_at":  "updated_at",
	"description": "description",
	"completed":   "completed",
}

// Scope 返回 owner_id = ownerID 的查询条件。Store 的每个查询都先套用它。
func Scope(ownerID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("owner_id = ?", ownerID)
	}
}

// ListOptions 列表查询的过滤、排序与分页参数。
type ListOptions struct {
	Completed *bool
	SortBy    string
	Desc      bool
	Limit     int
	Skip      int
}

// Changes 描述一次任务更新，nil 字段表示不修改。
type Changes struct {
	Description *string
	Completed   *bool
}

// Store 是按所有者隔离的任务存储。
type Store struct {
	db *gorm.DB
}

// NewStore 创建任务存储。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create 为 ownerID 创建任务。
func (s *Store) Create(ctx context.Context, ownerID uint, description string, completed bool) (*model.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ErrInvalidDescription
	}
	t := &model.Task{
		Description: description,
		Completed:   completed,
		OwnerID:     ownerID,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// List 返回 ownerID 的任务。调用方的过滤条件总是与所有者条件组合。
func (s *Store) List(ctx context.Context, ownerID uint, opts ListOptions) ([]model.Task, error) {
	query := s.db.WithContext(ctx).Model(&model.Task{}).Scopes(Scope(ownerID))
	if opts.Completed != nil {
		query = query.Where("completed = ?", *opts.Completed)
	}

	if opts.SortBy != "" {
		col, ok := sortColumns[opts.SortBy]
		if !ok {
			return nil, ErrInvalidSort
		}
		dir := "ASC"
		if opts.Desc {
			dir = "DESC"
		}
		query = query.Order(col + " " + dir)
	}
	query = query.Order("id ASC")

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Skip > 0 {
		query = query.Offset(opts.Skip)
	}

	tasks := []model.Task{}
	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Get 以 id 与所有者作为同一个条件查询任务。
func (s *Store) Get(ctx context.Context, ownerID, id uint) (*model.Task, error) {
	return s.first(s.db.WithContext(ctx), ownerID, id)
}

// Update 在所有者范围内更新任务。
func (s *Store) Update(ctx context.Context, ownerID, id uint, ch Changes) (*model.Task, error) {
	updates := map[string]interface{}{}
	if ch.Description != nil {
		desc := strings.TrimSpace(*ch.Description)
		if desc == "" {
			return nil, ErrInvalidDescription
		}
		updates["description"] = desc
	}
	if ch.Completed != nil {
		updates["completed"] = *ch.Completed
	}

	var out *model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.first(tx, ownerID, id)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := tx.Model(&model.Task{}).Scopes(Scope(ownerID)).Where("id = ?", id).Updates(updates).Error; err != nil {
				return fmt.Errorf("update task: %w", err)
			}
			if t, err = s.first(tx, ownerID, id); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete 在所有者范围内删除任务并返回被删除的记录。
func (s *Store) Delete(ctx context.Context, ownerID, id uint) (*model.Task, error) {
	var out *model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.first(tx, ownerID, id)
		if err != nil {
			return err
		}
		res := tx.Scopes(Scope(ownerID)).Where("id = ?", id).Delete(&model.Task{})
		if res.Error != nil {
			return fmt.Errorf("delete task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteByOwner 删除 ownerID 的全部任务，用于账户删除的级联。
func (s *Store) DeleteByOwner(ctx context.Context, tx *gorm.DB, ownerID uint) (int64, error) {
	res := tx.WithContext(ctx).Scopes(Scope(ownerID)).Delete(&model.Task{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// PurgeOrphans 删除所有者账户已不存在的任务。
func (s *Store) PurgeOrphans(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("owner_id NOT IN (?)", s.db.Model(&model.Account{}).Select("id")).
		Delete(&model.Task{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge orphan tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) first(db *gorm.DB, ownerID, id uint) (*model.Task, error) {
	var t model.Task
	if err := db.Scopes(Scope(ownerID)).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query task: %w", err)
	}
	return &t, nil
}
