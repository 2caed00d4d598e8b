package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskmanager/internal/config"
	"taskmanager/internal/pkg/database"
	"taskmanager/internal/pkg/logger"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/reconcile"
	"taskmanager/internal/session"
	"taskmanager/internal/task"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// main 是 reconciler 的入口函数。
//
// 它负责：
// 1. 加载配置并连接数据库
// 2. 启动 Metrics 服务
// 3. 按 app.reconcile_schedule 清理孤立任务、孤立会话与过期会话
func main() {
	cfg, err := config.Load(os.Getenv("APP_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	os.Exit(run(cfg, appLogger))
}

// run 返回进程退出码，保证所有 defer 在退出前执行。
func run(cfg *config.Config, appLogger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		appLogger.Error("open database failed", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := database.Close(db); err != nil {
			appLogger.Error("close database failed", slog.String("error", err.Error()))
		}
	}()
	if err := database.Migrate(db); err != nil {
		appLogger.Error("migrate failed", slog.String("error", err.Error()))
		return 1
	}

	metrics.InitMetrics()
	var metricsServer *http.Server
	if cfg.App.MetricsAddr != "" && cfg.App.ReconcileSchedule != "" {
		metricsServer = &http.Server{
			Addr:              cfg.App.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			appLogger.Info("metrics server listening", slog.String("addr", cfg.App.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	janitor := reconcile.NewJanitor(task.NewStore(db), session.NewRegistry(db), cfg.Security.TokenTTL, appLogger)
	runErr := janitor.Run(ctx, cfg.App.ReconcileSchedule)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if runErr != nil {
		appLogger.Error("reconcile failed", slog.String("error", runErr.Error()))
		return 1
	}
	return 0
}
