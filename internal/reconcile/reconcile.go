package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskmanager/internal/pkg/metrics"

	"github.com/robfig/cron/v3"
)

// TaskPurger 清理所有者已不存在的任务。
type TaskPurger interface {
	PurgeOrphans(ctx context.Context) (int64, error)
}

// SessionPurger 清理孤立会话与过期会话。
type SessionPurger interface {
	PurgeOrphans(ctx context.Context) (int64, error)
	PurgeIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Report 一次清理的结果。
type Report struct {
	OrphanTasks     int64
	OrphanSessions  int64
	ExpiredSessions int64
}

// Janitor 清理账户删除中途失败或带外写入留下的孤立数据。
type Janitor struct {
	tasks    TaskPurger
	sessions SessionPurger
	tokenTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewJanitor 创建 Janitor；tokenTTL 为 0 时不清理过期会话。
func NewJanitor(tasks TaskPurger, sessions SessionPurger, tokenTTL time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		tasks:    tasks,
		sessions: sessions,
		tokenTTL: tokenTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// RunOnce 执行一次清理。某一步失败不影响其余步骤，错误合并返回。
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
	)

	n, err := j.tasks.PurgeOrphans(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	rep.OrphanTasks = n

	n, err = j.sessions.PurgeOrphans(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	rep.OrphanSessions = n

	if j.tokenTTL > 0 {
		n, err = j.sessions.PurgeIssuedBefore(ctx, j.now().Add(-j.tokenTTL))
		if err != nil {
			errs = append(errs, err)
		}
		rep.ExpiredSessions = n
	}

	metrics.ReconcileRemovedTotal.WithLabelValues("orphan_tasks").Add(float64(rep.OrphanTasks))
	metrics.ReconcileRemovedTotal.WithLabelValues("orphan_sessions").Add(float64(rep.OrphanSessions))
	metrics.ReconcileRemovedTotal.WithLabelValues("expired_sessions").Add(float64(rep.ExpiredSessions))
	metrics.SessionsRevokedTotal.WithLabelValues("expired").Add(float64(rep.ExpiredSessions))

	if rep.OrphanTasks > 0 || rep.OrphanSessions > 0 {
		j.logger.Warn("orphaned rows removed",
			slog.Int64("tasks", rep.OrphanTasks),
			slog.Int64("sessions", rep.OrphanSessions))
	}
	j.logger.Info("reconcile finished",
		slog.Int64("orphan_tasks", rep.OrphanTasks),
		slog.Int64("orphan_sessions", rep.OrphanSessions),
		slog.Int64("expired_sessions", rep.ExpiredSessions))

	return rep, errors.Join(errs...)
}

// Run 按 cron 表达式周期执行，直到 ctx 取消；schedule 为空时只执行一次。
func (j *Janitor) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		_, err := j.RunOnce(ctx)
		return err
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("reconcile failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", schedule, err)
	}

	c.Start()
	j.logger.Info("reconciler started", slog.String("schedule", schedule))
	<-ctx.Done()

	<-c.Stop().Done()
	j.logger.Info("reconciler stopped")
	return nil
}
