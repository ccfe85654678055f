// 包 config：进程启动时一次性构建的配置结构，组件通过构造参数获取，不做隐式环境读取
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrInvalid：配置错误的哨兵值，启动阶段遇到即终止
var ErrInvalid = errors.New("invalid configuration")

// Error：携带出错的配置项与取值
type Error struct {
	Key   string
	Value string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s=%q: unsupported value", e.Key, e.Value)
}

func (e *Error) Unwrap() error { return ErrInvalid }

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config：全部可调参数
type Config struct {
	Parse   Parse
	Webhook Webhook
	Storage Storage
	Redis   Redis
	Log     Log
	Cleanup Cleanup
	China   bool   `env:"CHINA" envDefault:"false"`
	Metrics string `env:"METRICS_ADDR" envDefault:":9100"`

	// 物种元数据文件，缺失时名称与稀有度为空
	Species string `env:"SPECIES_PATH" envDefault:"data/pokemon.json"`
}

// Parse：按实体类型开关解析，关闭时跳过原始结构中对应部分
type Parse struct {
	Pokemon   bool `env:"PARSE_POKEMON" envDefault:"true"`
	Pokestops bool `env:"PARSE_POKESTOPS" envDefault:"true"`
	Gyms      bool `env:"PARSE_GYMS" envDefault:"true"`
}

// Webhook：通知投递参数；UpdatesOnly 仅影响补给站事件
type Webhook struct {
	UpdatesOnly bool          `env:"WEBHOOK_UPDATES_ONLY" envDefault:"false"`
	URLs        []string      `env:"WEBHOOK_URLS" envSeparator:","`
	QueueSize   int           `env:"WEBHOOK_QUEUE_SIZE" envDefault:"1024"`
	Workers     int           `env:"WEBHOOK_WORKERS" envDefault:"2"`
	Timeout     time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
}

// Storage：存储后端选择与连接参数，PG_* 沿用既有命名
type Storage struct {
	Backend      string        `env:"DB_TYPE" envDefault:"sqlite"`
	Path         string        `env:"DB_PATH" envDefault:"data/pogom.db"`
	PGHost       string        `env:"PG_HOST" envDefault:"localhost"`
	PGPort       string        `env:"PG_PORT" envDefault:"5432"`
	PGUser       string        `env:"PG_USER" envDefault:"postgres"`
	PGPassword   string        `env:"PG_PASSWORD"`
	PGDatabase   string        `env:"PG_DB" envDefault:"pogom"`
	PGSSLMode    string        `env:"PG_SSLMODE" envDefault:"disable"`
	MaxOpenConns int           `env:"PG_MAX_OPEN_CONNS" envDefault:"50"`
	MaxIdleConns int           `env:"PG_MAX_IDLE_CONNS" envDefault:"25"`
	RetryDelay   time.Duration `env:"UPSERT_RETRY_DELAY" envDefault:"1s"`

	// 0 表示不设上限，瞬时错误会一直重试直到 ctx 结束
	RetryMaxElapsed time.Duration `env:"UPSERT_MAX_ELAPSED" envDefault:"0s"`
}

// Redis：可选的事件发布通道
type Redis struct {
	Enable  bool   `env:"REDIS_ENABLE" envDefault:"false"`
	Host    string `env:"REDIS_HOST" envDefault:"127.0.0.1"`
	Port    string `env:"REDIS_PORT" envDefault:"6379"`
	Pass    string `env:"REDIS_PASS"`
	DB      int    `env:"REDIS_DB" envDefault:"0"`
	Channel string `env:"REDIS_CHANNEL" envDefault:"pogom:events"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Cleanup：PurgeHours<=0 时不清理精灵记录；Cron 为空则不启动定时清理
type Cleanup struct {
	PurgeHours int    `env:"PURGE_DATA" envDefault:"0"`
	Cron       string `env:"CLEANUP_CRON"`
}

// Load：先加载 .env 文件（缺失忽略），再从进程环境解析
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFrom：使用给定键值而非进程环境，供测试与嵌入场景
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case BackendSQLite, BackendPostgres:
	default:
		return &Error{Key: "DB_TYPE", Value: c.Storage.Backend}
	}
	if c.Webhook.QueueSize < 0 {
		return &Error{Key: "WEBHOOK_QUEUE_SIZE", Value: fmt.Sprint(c.Webhook.QueueSize)}
	}
	if c.Webhook.Workers < 0 {
		return &Error{Key: "WEBHOOK_WORKERS", Value: fmt.Sprint(c.Webhook.Workers)}
	}
	return nil
}

// PostgresDSN：按连接参数拼接 DSN，密码为空时省略
func (s Storage) PostgresDSN() string {
	dsn := "postgres://" + s.PGUser
	if s.PGPassword != "" {
		dsn += ":" + s.PGPassword
	}
	dsn += "@" + s.PGHost + ":" + s.PGPort + "/" + s.PGDatabase + "?sslmode=" + s.PGSSLMode
	return dsn
}

func (r Redis) Addr() string { return r.Host + ":" + r.Port }
