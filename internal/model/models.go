package model

import "time"

// Task 表示一个用户的待办事项。
//
// OwnerID 始终来自已认证身份，不接受客户端传入。
type Task struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Description string `gorm:"type:text;not null" json:"description"`
	Completed   bool   `gorm:"not null;default:false" json:"completed"`
	OwnerID     uint   `gorm:"not null;index" json:"owner"`
}
