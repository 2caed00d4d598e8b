package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer 签发并校验 HS256 会话 token。
//
// token 只证明"这个 subject 曾被签发"，是否仍然有效由 session.Registry 决定。
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer 创建 Issuer。ttl 为 0 时 token 不带 exp。
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL 返回 token 有效期。
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue 为账户签发新 token。每个 token 带唯一 jti，同一秒内多次登录也不会得到相同 token。
func (i *Issuer) Issue(accountID uint) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatUint(uint64(accountID), 10),
		ID:       uuid.NewString(),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse 校验签名与过期时间并返回账户 ID，不做任何存储查询。
func (i *Issuer) Parse(raw string) (uint, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return 0, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return 0, ErrInvalidToken
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return 0, ErrInvalidToken
	}
	return uint(uid), nil
}
