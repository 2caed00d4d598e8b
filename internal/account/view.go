package account

import (
	"time"

	"taskmanager/internal/model"
)

// View 是账户唯一的对外表示：只有身份字段，不含密码哈希、会话与头像数据。
type View struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Age       int       `json:"age"`
	HasAvatar bool      `json:"has_avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToView 生成脱敏视图，nil 账户返回 nil。
func ToView(acc *model.Account) *View {
	if acc == nil {
		return nil
	}
	return &View{
		ID:        acc.ID,
		Name:      acc.Name,
		Email:     acc.Email,
		Age:       acc.Age,
		HasAvatar: acc.HasAvatar,
		CreatedAt: acc.CreatedAt,
		UpdatedAt: acc.UpdatedAt,
	}
}
