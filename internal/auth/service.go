package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"taskmanager/internal/account"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
)

// Accounts 是 Service 依赖的凭据存储。
type Accounts interface {
	Create(ctx context.Context, in account.NewAccount) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
}

// Sessions 是 Service 依赖的会话登记。
type Sessions interface {
	Add(ctx context.Context, accountID uint, token string) error
	RemoveOne(ctx context.Context, accountID uint, token string) (bool, error)
	RemoveAll(ctx context.Context, accountID uint) (int64, error)
}

// Service 负责注册、登录与注销。
type Service struct {
	accounts Accounts
	sessions Sessions
	issuer   *Issuer
	hasher   *Hasher
	logger   *slog.Logger
}

// NewService 创建 Service。
func NewService(accounts Accounts, sessions Sessions, issuer *Issuer, hasher *Hasher, logger *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		sessions: sessions,
		issuer:   issuer,
		hasher:   hasher,
		logger:   logger,
	}
}

// Signup 创建账户并开启第一个会话。
//
// 账户创建成功但会话登记失败时，返回错误且不返回 token，用户可以之后正常登录。
func (s *Service) Signup(ctx context.Context, in account.NewAccount) (*model.Account, string, error) {
	acc, err := s.accounts.Create(ctx, in)
	if err != nil {
		var verr *account.ValidationError
		if errors.As(err, &verr) {
			metrics.SignupTotal.WithLabelValues("invalid").Inc()
		} else {
			metrics.SignupTotal.WithLabelValues("failure").Inc()
		}
		return nil, "", err
	}

	token, err := s.startSession(ctx, acc.ID)
	if err != nil {
		metrics.SignupTotal.WithLabelValues("failure").Inc()
		return acc, "", err
	}

	metrics.SignupTotal.WithLabelValues("success").Inc()
	s.logger.Info("account registered", slog.Uint64("account_id", uint64(acc.ID)))
	return acc, token, nil
}

// Login 校验邮箱与密码并签发新会话。
//
// 邮箱不存在与密码错误返回同一个 ErrUnauthorized。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Account, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	password = strings.TrimSpace(password)

	acc, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			return nil, "", fmt.Errorf("find account: %w", err)
		}
		s.hasher.Burn(password)
		metrics.LoginTotal.WithLabelValues("failure").Inc()
		return nil, "", ErrUnauthorized
	}
	if !s.hasher.Verify(password, acc.Password) {
		metrics.LoginTotal.WithLabelValues("failure").Inc()
		return nil, "", ErrUnauthorized
	}

	token, err := s.startSession(ctx, acc.ID)
	if err != nil {
		return nil, "", err
	}

	metrics.LoginTotal.WithLabelValues("success").Inc()
	s.logger.Info("account logged in", slog.Uint64("account_id", uint64(acc.ID)))
	return acc, token, nil
}

// Logout 撤销当前请求使用的 token，token 不存在时视为成功。
func (s *Service) Logout(ctx context.Context, accountID uint, token string) error {
	removed, err := s.sessions.RemoveOne(ctx, accountID, token)
	if err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	if removed {
		metrics.SessionsRevokedTotal.WithLabelValues("single").Add(1)
	}
	return nil
}

// LogoutAll 撤销账户的全部会话。
func (s *Service) LogoutAll(ctx context.Context, accountID uint) error {
	n, err := s.sessions.RemoveAll(ctx, accountID)
	if err != nil {
		return fmt.Errorf("remove sessions: %w", err)
	}
	metrics.SessionsRevokedTotal.WithLabelValues("all").Add(float64(n))
	s.logger.Info("all sessions revoked", slog.Uint64("account_id", uint64(accountID)), slog.Int64("count", n))
	return nil
}

func (s *Service) startSession(ctx context.Context, accountID uint) (string, error) {
	token, err := s.issuer.Issue(accountID)
	if err != nil {
		return "", err
	}
	if err := s.sessions.Add(ctx, accountID, token); err != nil {
		s.logger.Error("register session failed",
			slog.Uint64("account_id", uint64(accountID)),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("register session: %w", err)
	}
	return token, nil
}
