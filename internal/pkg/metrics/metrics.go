package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LoginTotal 登录结果计数（result: success / failure / throttled）。
	LoginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmanager",
		Name:      "auth_login_total",
		Help:      "Login attempts by outcome.",
	}, []string{"result"})

	// SignupTotal 注册结果计数（result: success / invalid / failure）。
	SignupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmanager",
		Name:      "auth_signup_total",
		Help:      "Signup attempts by outcome.",
	}, []string{"result"})

	// AuthRejectedTotal 鉴权拒绝计数（reason: missing / signature / account / session）。
	AuthRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmanager",
		Name:      "auth_rejected_total",
		Help:      "Requests rejected by the authentication gate.",
	}, []string{"reason"})

	// SessionsRevokedTotal 会话撤销计数（mode: single / all / expired）。
	SessionsRevokedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmanager",
		Name:      "sessions_revoked_total",
		Help:      "Session tokens revoked by mode.",
	}, []string{"mode"})

	// NotificationsTotal 邮件通知计数（kind: welcome / goodbye，result: sent / skipped / failed / dropped）。
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmanager",
		Name:      "notifications_total",
		Help:      "Outbound notifications by kind and result.",
	}, []string{"kind", "result"})

	// ReconcileRemovedTotal reconciler 清理的记录数（kind: orphan_tasks / orphan_sessions / expired_sessions）。
	ReconcileRemovedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmanager",
		Name:      "reconcile_removed_total",
		Help:      "Rows removed by the reconciler.",
	}, []string{"kind"})

	// NotifyQueueDepth 邮件队列当前长度。
	NotifyQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskmanager",
		Name:      "notify_queue_depth",
		Help:      "Pending jobs in the notification queue.",
	})
)

var initOnce sync.Once

// InitMetrics 将所有指标注册到默认 registry，可重复调用。
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			LoginTotal,
			SignupTotal,
			AuthRejectedTotal,
			SessionsRevokedTotal,
			NotificationsTotal,
			ReconcileRemovedTotal,
			NotifyQueueDepth,
		)
	})
}
