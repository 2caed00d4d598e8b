package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"taskmanager/internal/account"
	authapi "taskmanager/internal/api/auth"
	"taskmanager/internal/api/middleware"
	"taskmanager/internal/auth"
	"taskmanager/internal/avatar"
	"taskmanager/internal/config"
	"taskmanager/internal/pkg/database"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/notify"
	"taskmanager/internal/pkg/queue"
	"taskmanager/internal/pkg/ratelimit"
	"taskmanager/internal/session"
	"taskmanager/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Mailer 异步发送账户生命周期邮件。
type Mailer interface {
	Welcome(email, name string)
	Goodbye(email, name string)
}

// Server 封装 API 服务的依赖与路由。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	queue  *queue.Queue

	accounts *account.Store
	sessions *session.Registry
	tasks    *task.Store
	gate     *auth.Gate
	avatars  *avatar.Service
	mailer   Mailer
	auth     *authapi.Handler
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 打开数据库并执行自动迁移
// 2. 按需连接 Redis（登录限流）
// 3. 组装账户、会话、任务与头像服务
// 4. 启动邮件队列并注册 Gin 路由
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	hasher, err := auth.NewHasher(cfg.Security.BcryptCost)
	if err != nil {
		return nil, err
	}
	issuer, err := auth.NewIssuer(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	blobs, err := newAvatarStore(ctx, cfg.Avatar, db)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	metrics.InitMetrics()

	q := queue.New(logger, cfg.App.NotifyWorkers, cfg.App.NotifyQueueSize)
	q.SetDepthObserver(func(depth int) { metrics.NotifyQueueDepth.Set(float64(depth)) })
	q.Start(context.Background())

	sessions := session.NewRegistry(db)
	tasks := task.NewStore(db)
	dependents := []account.Dependent{tasks, sessions}
	if dep, ok := blobs.(account.Dependent); ok {
		dependents = append(dependents, dep)
	}
	accounts := account.NewStore(db, hasher, logger, dependents...)

	var limiter authapi.Limiter
	if rdb != nil {
		limiter = ratelimit.New(rdb, "taskmanager:login", cfg.App.LoginRateLimit, cfg.App.LoginRateBurst)
	}

	mailer := notify.NewAsync(notify.NewEmailNotifier(cfg.Email, logger), q, logger)
	svc := auth.NewService(accounts, sessions, issuer, hasher, logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		queue:    q,
		accounts: accounts,
		sessions: sessions,
		tasks:    tasks,
		gate:     auth.NewGate(issuer, accounts, sessions),
		avatars:  avatar.NewService(blobs, accounts, cfg.Avatar.MaxUploadBytes),
		mailer:   mailer,
		auth:     authapi.NewHandler(svc, mailer, limiter, logger),
	}
	s.router = s.newRouter()
	return s, nil
}

func newAvatarStore(ctx context.Context, cfg config.AvatarConfig, db *gorm.DB) (avatar.BlobStore, error) {
	switch cfg.Backend {
	case "", "db":
		return avatar.NewDBStore(db), nil
	case "s3":
		client, err := avatar.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return avatar.NewS3Store(client, cfg.S3Bucket), nil
	default:
		return nil, fmt.Errorf("unsupported avatar backend %q", cfg.Backend)
	}
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 等待邮件队列发送完毕，然后关闭数据库与 Redis 连接。
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.queue != nil {
		if err := s.queue.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notify queue: %w", err))
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := database.Close(s.db); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) newRouter() *gin.Engine {
	if s.cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.logger))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.handleHealthz)

	r.POST("/users", s.auth.Signup)
	r.POST("/users/login", s.auth.Login)
	r.GET("/users/:id/avatar", s.handleGetAvatar)

	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware(s.gate, s.logger))
	authed.POST("/users/logout", s.auth.Logout)
	authed.POST("/users/logout/all", s.auth.LogoutAll)
	authed.GET("/users/me", s.handleGetMe)
	authed.PATCH("/users/me", s.handleUpdateMe)
	authed.DELETE("/users/me", s.handleDeleteMe)
	authed.POST("/users/me/avatar", s.handleUploadAvatar)
	authed.DELETE("/users/me/avatar", s.handleDeleteAvatar)

	authed.POST("/tasks", s.handleCreateTask)
	authed.GET("/tasks", s.handleListTasks)
	authed.GET("/tasks/:id", s.handleGetTask)
	authed.PATCH("/tasks/:id", s.handleUpdateTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)
	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "database": err.Error()})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "redis": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
