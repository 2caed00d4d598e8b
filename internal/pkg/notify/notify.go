package notify

import (
	"context"
	"log/slog"

	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/queue"
)

// Notifier 定义账户生命周期邮件。
type Notifier interface {
	SendWelcome(ctx context.Context, email, name string) error
	SendGoodbye(ctx context.Context, email, name string) error
}

// Async 把通知放进队列异步发送，调用方不等待结果，发送失败只记日志。
type Async struct {
	next   Notifier
	queue  *queue.Queue
	logger *slog.Logger
}

// NewAsync 创建异步通知分发器。
func NewAsync(next Notifier, q *queue.Queue, logger *slog.Logger) *Async {
	return &Async{next: next, queue: q, logger: logger}
}

// Welcome 异步发送欢迎邮件。
func (a *Async) Welcome(email, name string) {
	a.dispatch("welcome", email, func(ctx context.Context) error {
		return a.next.SendWelcome(ctx, email, name)
	})
}

// Goodbye 异步发送告别邮件。
func (a *Async) Goodbye(email, name string) {
	a.dispatch("goodbye", email, func(ctx context.Context) error {
		return a.next.SendGoodbye(ctx, email, name)
	})
}

func (a *Async) dispatch(kind, email string, send func(ctx context.Context) error) {
	err := a.queue.Enqueue(queue.Job{
		Name: "notify:" + kind,
		Run: func(ctx context.Context) error {
			if err := send(ctx); err != nil {
				metrics.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
				return err
			}
			metrics.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
			return nil
		},
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(kind, "dropped").Inc()
		a.logger.Warn("notification not queued",
			slog.String("kind", kind),
			slog.String("to", email),
			slog.String("error", err.Error()))
	}
}
