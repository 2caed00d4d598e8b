package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"taskmanager/internal/api/middleware"
	"taskmanager/internal/task"

	"github.com/gin-gonic/gin"
)

var allowedTaskFields = map[string]bool{
	"description": true,
	"completed":   true,
}

type createTaskRequest struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	acc := middleware.CurrentAccount(c)
	t, err := s.tasks.Create(c.Request.Context(), acc.ID, req.Description, req.Completed)
	if err != nil {
		s.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// handleListTasks 支持 ?completed=true|false&sortBy=field:asc|desc&limit=N&skip=N。
func (s *Server) handleListTasks(c *gin.Context) {
	var opts task.ListOptions
	if v := c.Query("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "completed must be true or false"})
			return
		}
		opts.Completed = &completed
	}
	if v := c.Query("sortBy"); v != "" {
		field, dir, _ := strings.Cut(v, ":")
		opts.SortBy = field
		opts.Desc = strings.EqualFold(dir, "desc")
	}
	opts.Limit = parseQueryInt(c, "limit", 0)
	opts.Skip = parseQueryInt(c, "skip", 0)

	tasks, err := s.tasks.List(c.Request.Context(), middleware.CurrentAccount(c).ID, opts)
	if err != nil {
		s.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	t, err := s.tasks.Get(c.Request.Context(), middleware.CurrentAccount(c).ID, id)
	if err != nil {
		s.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	for field := range body {
		if !allowedTaskFields[field] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid updates", "field": field})
			return
		}
	}

	var ch task.Changes
	if err := decodeField(body, "description", &ch.Description); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := decodeField(body, "completed", &ch.Completed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := s.tasks.Update(c.Request.Context(), middleware.CurrentAccount(c).ID, id, ch)
	if err != nil {
		s.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	t, err := s.tasks.Delete(c.Request.Context(), middleware.CurrentAccount(c).ID, id)
	if err != nil {
		s.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}

func (s *Server) writeTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, task.ErrInvalidDescription), errors.Is(err, task.ErrInvalidSort):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("task operation failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// taskID 解析路径中的任务 ID。无法解析的 ID 与不存在的任务一样返回 404。
func taskID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return 0, false
	}
	return uint(id), true
}

// parseQueryInt 解析非负整数查询参数，缺失或非法时返回默认值。
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil || iv < 0 {
		return def
	}
	return iv
}
