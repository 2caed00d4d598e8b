package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"taskmanager/internal/auth"
	"taskmanager/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	accountKey = "account"
	tokenKey   = "token"
)

// Authenticator 将原始 bearer token 解析为账户。
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*model.Account, string, error)
}

// AuthMiddleware 校验 Authorization: Bearer <token>，并把账户与 token 写入上下文。
// 任何鉴权失败都返回同一个 401。
func AuthMiddleware(gate Authenticator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))

		acc, token, err := gate.Authenticate(c.Request.Context(), raw)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "please authenticate"})
				return
			}
			if logger != nil {
				logger.Error("authenticate request failed", slog.String("error", err.Error()))
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Set(accountKey, acc)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// CurrentAccount 返回已鉴权的账户，未经过 AuthMiddleware 时返回 nil。
func CurrentAccount(c *gin.Context) *model.Account {
	v, ok := c.Get(accountKey)
	if !ok {
		return nil
	}
	acc, _ := v.(*model.Account)
	return acc
}

// CurrentToken 返回本次请求使用的 token。
func CurrentToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
