package auth

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"taskmanager/internal/account"
	"taskmanager/internal/api/middleware"
	coreauth "taskmanager/internal/auth"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Service 是注册、登录与注销的业务接口。
type Service interface {
	Signup(ctx context.Context, in account.NewAccount) (*model.Account, string, error)
	Login(ctx context.Context, email, password string) (*model.Account, string, error)
	Logout(ctx context.Context, accountID uint, token string) error
	LogoutAll(ctx context.Context, accountID uint) error
}

// Welcomer 异步发送欢迎邮件。
type Welcomer interface {
	Welcome(email, name string)
}

// Limiter 按 key 限制登录频率。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// Handler 提供注册、登录与注销接口。
type Handler struct {
	svc     Service
	mailer  Welcomer
	limiter Limiter
	logger  *slog.Logger
}

// NewHandler 创建 Auth Handler；limiter 为 nil 时不限流。
func NewHandler(svc Service, mailer Welcomer, limiter Limiter, logger *slog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		mailer:  mailer,
		limiter: limiter,
		logger:  logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  *account.View `json:"user"`
	Token string        `json:"token"`
}

// Signup 创建账户并返回第一个 token。
func (h *Handler) Signup(c *gin.Context) {
	var req account.NewAccount
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	acc, token, err := h.svc.Signup(c.Request.Context(), req)
	if err != nil {
		var verr *account.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
			return
		}
		h.logger.Error("signup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	if h.mailer != nil {
		h.mailer.Welcome(acc.Email, acc.Name)
	}
	c.JSON(http.StatusCreated, sessionResponse{User: account.ToView(acc), Token: token})
}

// Login 校验凭据并签发新 token。邮箱不存在与密码错误返回同一个 401。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if h.limiter != nil {
		ok, retry, err := h.limiter.Allow(c.Request.Context(), req.Email)
		if err != nil {
			h.logger.Warn("login rate limit unavailable", slog.String("error", err.Error()))
		} else if !ok {
			metrics.LoginTotal.WithLabelValues("throttled").Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
			return
		}
	}

	acc, token, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, coreauth.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unable to login"})
			return
		}
		h.logger.Error("login failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, sessionResponse{User: account.ToView(acc), Token: token})
}

// Logout 撤销当前请求使用的 token。
func (h *Handler) Logout(c *gin.Context) {
	acc := middleware.CurrentAccount(c)
	if err := h.svc.Logout(c.Request.Context(), acc.ID, middleware.CurrentToken(c)); err != nil {
		h.logger.Error("logout failed", slog.Uint64("account_id", uint64(acc.ID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// LogoutAll 撤销账户的全部 token。
func (h *Handler) LogoutAll(c *gin.Context) {
	acc := middleware.CurrentAccount(c)
	if err := h.svc.LogoutAll(c.Request.Context(), acc.ID); err != nil {
		h.logger.Error("logout all failed", slog.Uint64("account_id", uint64(acc.ID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out of all sessions"})
}
