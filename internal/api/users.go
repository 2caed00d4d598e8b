package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"taskmanager/internal/account"
	"taskmanager/internal/api/middleware"
	"taskmanager/internal/avatar"

	"github.com/gin-gonic/gin"
)

// multipart 头部等额外开销。
const multipartOverhead = 64 << 10

var allowedAccountFields = map[string]bool{
	"name":     true,
	"email":    true,
	"age":      true,
	"password": true,
}

func (s *Server) handleGetMe(c *gin.Context) {
	c.JSON(http.StatusOK, account.ToView(middleware.CurrentAccount(c)))
}

// handleUpdateMe 只接受 name / email / age / password，出现其他字段时整个请求被拒绝。
func (s *Server) handleUpdateMe(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	for field := range body {
		if !allowedAccountFields[field] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid updates", "field": field})
			return
		}
	}

	var ch account.Changes
	if err := decodeField(body, "name", &ch.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := decodeField(body, "email", &ch.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := decodeField(body, "age", &ch.Age); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := decodeField(body, "password", &ch.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc := middleware.CurrentAccount(c)
	if err := s.accounts.Update(c.Request.Context(), acc, ch); err != nil {
		var verr *account.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
			return
		}
		s.logger.Error("update account failed", slog.Uint64("account_id", uint64(acc.ID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, account.ToView(acc))
}

// handleDeleteMe 删除账户（连同任务与会话），随后异步发送告别邮件。
func (s *Server) handleDeleteMe(c *gin.Context) {
	acc := middleware.CurrentAccount(c)
	ctx := c.Request.Context()

	if err := s.accounts.Delete(ctx, acc); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete account failed"})
		return
	}

	if acc.HasAvatar {
		if err := s.avatars.Purge(ctx, acc.ID); err != nil {
			s.logger.Warn("purge avatar failed", slog.Uint64("account_id", uint64(acc.ID)), slog.String("error", err.Error()))
		}
	}
	s.mailer.Goodbye(acc.Email, acc.Name)
	c.JSON(http.StatusOK, gin.H{"user": account.ToView(acc)})
}

func (s *Server) handleUploadAvatar(c *gin.Context) {
	acc := middleware.CurrentAccount(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Avatar.MaxUploadBytes+multipartOverhead)

	header, err := c.FormFile("avatar")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": avatar.ErrTooLarge.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar file is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read avatar failed"})
		return
	}
	defer f.Close()

	if err := s.avatars.Upload(c.Request.Context(), acc, header.Filename, f); err != nil {
		if errors.Is(err, avatar.ErrUnsupportedType) || errors.Is(err, avatar.ErrTooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("upload avatar failed", slog.Uint64("account_id", uint64(acc.ID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload avatar failed"})
		return
	}
	c.JSON(http.StatusOK, account.ToView(acc))
}

func (s *Server) handleDeleteAvatar(c *gin.Context) {
	acc := middleware.CurrentAccount(c)
	if err := s.avatars.Remove(c.Request.Context(), acc); err != nil {
		s.logger.Error("delete avatar failed", slog.Uint64("account_id", uint64(acc.ID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete avatar failed"})
		return
	}
	c.JSON(http.StatusOK, account.ToView(acc))
}

// handleGetAvatar 公开接口，按账户 ID 返回头像 PNG。
func (s *Server) handleGetAvatar(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "avatar not found"})
		return
	}
	data, err := s.avatars.Get(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, avatar.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "avatar not found"})
			return
		}
		s.logger.Error("load avatar failed", slog.Uint64("account_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load avatar failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

// decodeField 在字段存在时把它解码进 *dst；null 视为类型错误。
func decodeField[T any](body map[string]json.RawMessage, field string, dst **T) error {
	raw, ok := body[field]
	if !ok {
		return nil
	}
	var v *T
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return errors.New("invalid value for " + field)
	}
	*dst = v
	return nil
}
