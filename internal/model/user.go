package model

import "time"

// Account 表示一个注册用户。
//
// Password 只保存 bcrypt 哈希，不参与 JSON 序列化；对外输出统一走 account.View。
// 头像数据单独存放在 avatars 表中，这里只保留存在标记。
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name      string `gorm:"type:varchar(191);not null" json:"name"`
	Email     string `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"` // 小写存储（唯一）
	Age       int    `gorm:"not null;default:0" json:"age"`
	Password  string `gorm:"not null" json:"-"` // bcrypt 哈希
	HasAvatar bool   `gorm:"not null;default:false" json:"has_avatar"`
}

// SessionToken 是会话登记表中的一条记录。
//
// 只保存 token 的 SHA-256 摘要；ID 自增，顺序即签发顺序。
type SessionToken struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	AccountID uint      `gorm:"not null;index"`
	TokenHash string    `gorm:"type:char(64);uniqueIndex;not null"`
}

// Avatar 是 db 后端保存的头像 PNG，按账户 ID 一对一存放。
type Avatar struct {
	AccountID uint `gorm:"primaryKey;autoIncrement:false"`
	UpdatedAt time.Time
	Data      []byte `gorm:"not null"`
}
