package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// 默认开发密钥，生产环境必须覆盖。
const devJWTSecret = "dev_secret_change_me"

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Avatar   AvatarConfig   `json:"avatar"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env               string  `json:"env"`                // 运行环境: local / prod，必须显式设置
	LogLevel          string  `json:"log_level"`          // 日志级别: debug / info / warn / error
	HTTPAddr          string  `json:"http_addr"`          // API 服务监听地址
	MetricsAddr       string  `json:"metrics_addr"`       // reconciler 指标监听地址
	NotifyWorkers     int     `json:"notify_workers"`     // 邮件发送 worker 数
	NotifyQueueSize   int     `json:"notify_queue_size"`  // 邮件队列容量
	LoginRateLimit    float64 `json:"login_rate_limit"`   // 单邮箱登录限流速率（token/s）
	LoginRateBurst    float64 `json:"login_rate_burst"`   // 单邮箱登录限流桶容量
	ReconcileSchedule string  `json:"reconcile_schedule"` // cron 表达式，为空表示只执行一次
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Driver string `json:"driver"` // mysql / postgres / sqlite
	DSN    string `json:"dsn"`    // 数据库连接字符串
}

// RedisConfig Redis 配置（为空地址表示不启用登录限流）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret  string        `json:"jwt_secret"`  // JWT 签名密钥
	BcryptCost int           `json:"bcrypt_cost"` // bcrypt 成本因子
	TokenTTL   time.Duration `json:"token_ttl"`   // 会话 token 有效期，0 表示不过期
}

// AvatarConfig 头像存储配置。
type AvatarConfig struct {
	Backend        string `json:"backend"`          // db / s3
	MaxUploadBytes int64  `json:"max_upload_bytes"` // 上传大小上限
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3Endpoint     string `json:"s3_endpoint"` // MinIO 等兼容服务
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3UsePathStyle bool   `json:"s3_use_path_style"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值；
// 之后总是应用环境变量覆盖。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		applyDevSecret(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// 以默认值为底，文件中出现的字段覆盖默认值（"token_ttl": "0s" 表示不过期）。
	cfg := getDefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	applyDevSecret(cfg)

	return cfg, nil
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate 校验启动所需的配置，任何错误都应导致进程退出。
func (c *Config) Validate() error {
	var errs []error

	secret := strings.TrimSpace(c.Security.JWTSecret)
	if secret == "" {
		errs = append(errs, errors.New("security.jwt_secret is required"))
	} else if secret == devJWTSecret && c.App.Env != "local" {
		errs = append(errs, errors.New("security.jwt_secret must be set outside app.env=local"))
	}
	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("security.bcrypt_cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.Security.TokenTTL < 0 {
		errs = append(errs, errors.New("security.token_ttl must not be negative"))
	}

	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch c.Avatar.Backend {
	case "db":
	case "s3":
		if c.Avatar.S3Bucket == "" || c.Avatar.S3Region == "" {
			errs = append(errs, errors.New("avatar.s3_bucket and avatar.s3_region are required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("avatar.backend %q is not supported", c.Avatar.Backend))
	}

	return errors.Join(errs...)
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:               "",
			LogLevel:          "info",
			HTTPAddr:          ":8080",
			MetricsAddr:       ":9091",
			NotifyWorkers:     2,
			NotifyQueueSize:   100,
			LoginRateLimit:    0.2,
			LoginRateBurst:    5,
			ReconcileSchedule: "@every 10m",
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			DSN:    "root:password@tcp(localhost:3306)/taskmanager?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret:  "",
			BcryptCost: 10,
			TokenTTL:   7 * 24 * time.Hour,
		},
		Avatar: AvatarConfig{
			Backend:        "db",
			MaxUploadBytes: 1_000_000,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.NotifyWorkers == 0 {
		cfg.App.NotifyWorkers = defaults.App.NotifyWorkers
	}
	if cfg.App.NotifyQueueSize == 0 {
		cfg.App.NotifyQueueSize = defaults.App.NotifyQueueSize
	}
	if cfg.App.LoginRateLimit == 0 {
		cfg.App.LoginRateLimit = defaults.App.LoginRateLimit
	}
	if cfg.App.LoginRateBurst == 0 {
		cfg.App.LoginRateBurst = defaults.App.LoginRateBurst
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.BcryptCost == 0 {
		cfg.Security.BcryptCost = defaults.Security.BcryptCost
	}
	if cfg.Avatar.Backend == "" {
		cfg.Avatar.Backend = defaults.Avatar.Backend
	}
	if cfg.Avatar.MaxUploadBytes == 0 {
		cfg.Avatar.MaxUploadBytes = defaults.Avatar.MaxUploadBytes
	}
}

// applyDevSecret 仅在显式声明 app.env=local 时补上开发用密钥，其余环境缺少密钥由 Validate 拒绝。
func applyDevSecret(cfg *Config) {
	if cfg.App.Env == "local" && strings.TrimSpace(cfg.Security.JWTSecret) == "" {
		cfg.Security.JWTSecret = devJWTSecret
	}
}

func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.AutomaticEnv()

	_ = v.BindEnv("db_host", "DB_HOST")
	_ = v.BindEnv("db_password", "DB_PASSWORD")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("smtp_pass", "SMTP_PASS")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("s3_secret_key", "AVATAR_S3_SECRET_KEY")

	if val := os.Getenv("APP_ENV"); val != "" {
		cfg.App.Env = val
	}
	if val := os.Getenv("APP_LOG_LEVEL"); val != "" {
		cfg.App.LogLevel = val
	}
	if val := os.Getenv("APP_HTTP_ADDR"); val != "" {
		cfg.App.HTTPAddr = val
	} else if val := os.Getenv("PORT"); val != "" {
		cfg.App.HTTPAddr = ":" + val
	}
	if val := os.Getenv("APP_METRICS_ADDR"); val != "" {
		cfg.App.MetricsAddr = val
	}
	if val := os.Getenv("APP_NOTIFY_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.App.NotifyWorkers = i
		}
	}
	if val := os.Getenv("APP_NOTIFY_QUEUE_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.App.NotifyQueueSize = i
		}
	}
	if val := os.Getenv("APP_LOGIN_RATE_LIMIT"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.App.LoginRateLimit = f
		}
	}
	if val := os.Getenv("APP_LOGIN_RATE_BURST"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.App.LoginRateBurst = f
		}
	}
	if val, ok := os.LookupEnv("APP_RECONCILE_SCHEDULE"); ok {
		cfg.App.ReconcileSchedule = val
	}

	if val := v.GetString("jwt_secret"); val != "" {
		cfg.Security.JWTSecret = val
	}
	if val := os.Getenv("BCRYPT_COST"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Security.BcryptCost = i
		}
	}
	if val := os.Getenv("TOKEN_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Security.TokenTTL = d
		}
	}

	if val := os.Getenv("DB_DRIVER"); val != "" {
		cfg.Database.Driver = val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		cfg.Database.DSN = val
	} else if cfg.Database.Driver == "mysql" && (hasAnyEnv("DB_PORT", "DB_USER", "DB_NAME") || v.GetString("db_host") != "" || v.GetString("db_password") != "") {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if val := v.GetString("db_host"); val != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = val + ":" + port
		} else if val := os.Getenv("DB_PORT"); val != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + val
		}
		if val := os.Getenv("DB_USER"); val != "" {
			parsed.User = val
		}
		if val := v.GetString("db_password"); val != "" {
			parsed.Passwd = val
		}
		if val := os.Getenv("DB_NAME"); val != "" {
			parsed.DBName = val
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if val := v.GetString("redis_addr"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := v.GetString("redis_password"); val != "" {
		cfg.Redis.Password = val
	}

	if val := os.Getenv("SMTP_HOST"); val != "" {
		cfg.Email.SMTPHost = val
	}
	if val := os.Getenv("SMTP_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if val := os.Getenv("SMTP_USER"); val != "" {
		cfg.Email.SMTPUser = val
	}
	if val := v.GetString("smtp_pass"); val != "" {
		cfg.Email.SMTPPass = val
	}
	if val := os.Getenv("SMTP_FROM"); val != "" {
		cfg.Email.FromEmail = val
	}

	if val := os.Getenv("AVATAR_BACKEND"); val != "" {
		cfg.Avatar.Backend = val
	}
	if val := os.Getenv("AVATAR_S3_BUCKET"); val != "" {
		cfg.Avatar.S3Bucket = val
	}
	if val := os.Getenv("AVATAR_S3_REGION"); val != "" {
		cfg.Avatar.S3Region = val
	}
	if val := os.Getenv("AVATAR_S3_ENDPOINT"); val != "" {
		cfg.Avatar.S3Endpoint = val
	}
	if val := os.Getenv("AVATAR_S3_ACCESS_KEY"); val != "" {
		cfg.Avatar.S3AccessKey = val
	}
	if val := v.GetString("s3_secret_key"); val != "" {
		cfg.Avatar.S3SecretKey = val
	}
	if val := os.Getenv("AVATAR_S3_USE_PATH_STYLE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Avatar.S3UsePathStyle = b
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	parsed, err := mysql.ParseDSN(dsn)
	if dsn == "" || err != nil {
		fallback := mysql.NewConfig()
		fallback.User = "root"
		fallback.Net = "tcp"
		fallback.Addr = "localhost:3306"
		fallback.DBName = "taskmanager"
		fallback.ParseTime = true
		return fallback
	}
	return parsed
}

// UnmarshalJSON 支持 Duration 字符串（如 "168h"）。
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		TokenTTL string `json:"token_ttl"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TokenTTL != "" {
		duration, err := time.ParseDuration(aux.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl format: %w", err)
		}
		s.TokenTTL = duration
	}

	return nil
}

// MarshalJSON 将 Duration 序列化为字符串。
func (s SecurityConfig) MarshalJSON() ([]byte, error) {
	type Alias SecurityConfig
	return json.Marshal(&struct {
		TokenTTL string `json:"token_ttl"`
		*Alias
	}{
		TokenTTL: s.TokenTTL.String(),
		Alias:    (*Alias)(&s),
	})
}
