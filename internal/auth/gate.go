package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskmanager/internal/account"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
)

// AccountLoader 按 ID 加载账户，不存在时返回 account.ErrNotFound。
type AccountLoader interface {
	FindByID(ctx context.Context, id uint) (*model.Account, error)
}

// SessionChecker 判断 token 是否仍在账户的会话登记中。
type SessionChecker interface {
	IsLive(ctx context.Context, accountID uint, token string) (bool, error)
}

// Gate 将 bearer token 解析为已登录的账户与会话。
type Gate struct {
	issuer   *Issuer
	accounts AccountLoader
	sessions SessionChecker
}

// NewGate 创建 Gate。
func NewGate(issuer *Issuer, accounts AccountLoader, sessions SessionChecker) *Gate {
	return &Gate{
		issuer:   issuer,
		accounts: accounts,
		sessions: sessions,
	}
}

// Authenticate 依次校验签名、账户存在性、会话登记，成功时返回账户与原始 token。
//
// 签名无效时不做任何查询。所有拒绝都包裹 ErrUnauthorized；存储故障以其他错误返回。
// 该方法不修改任何状态。
func (g *Gate) Authenticate(ctx context.Context, raw string) (*model.Account, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", reject("missing", "empty token")
	}

	accountID, err := g.issuer.Parse(raw)
	if err != nil {
		return nil, "", reject("signature", err.Error())
	}

	acc, err := g.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, "", reject("account", "account not found")
		}
		return nil, "", fmt.Errorf("load account: %w", err)
	}

	live, err := g.sessions.IsLive(ctx, acc.ID, raw)
	if err != nil {
		return nil, "", fmt.Errorf("check session: %w", err)
	}
	if !live {
		return nil, "", reject("session", "session revoked")
	}

	return acc, raw, nil
}

func reject(reason, detail string) error {
	metrics.AuthRejectedTotal.WithLabelValues(reason).Inc()
	return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
}
