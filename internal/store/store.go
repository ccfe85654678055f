// 包 store: 实体存储层，按实体类型提供范围查询、批量 UPSERT 与过期清理
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"pogomap/internal/config"
	"pogomap/internal/logger"
)

// Store: 数据库访问入口，持有连接池、后端能力与重试策略
type Store struct {
	db         *sql.DB
	dialect    Dialect
	distinct   distinctFunc
	retryDelay time.Duration
	maxElapsed time.Duration
}

// Open: 按 DB_TYPE 打开后端连接；不支持的后端返回配置错误
func Open(cfg config.Storage) (*Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendSQLite:
		db, err := openSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return Attach(db, SQLite, cfg), nil
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		return Attach(db, Postgres, cfg), nil
	default:
		return nil, &config.Error{Key: "DB_TYPE", Value: cfg.Backend}
	}
}

// openSQLite: 单连接写入，避免 SQLITE_BUSY；":memory:" 不落盘
func openSQLite(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// Attach: 包装已打开的连接；查询去重策略在此一次确定
func Attach(db *sql.DB, d Dialect, cfg config.Storage) *Store {
	s := &Store{db: db, dialect: d, retryDelay: cfg.RetryDelay, maxElapsed: cfg.RetryMaxElapsed}
	if d.DistinctOn {
		s.distinct = distinctOn
	} else {
		s.distinct = groupBy
	}
	logger.L().Debug("store_attach", "backend", d.Name, "distinct_on", d.DistinctOn)
	return s
}

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

// retryPolicy: 固定间隔重试；maxElapsed 为 0 时不设上限，仅由 ctx 终止
func (s *Store) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.retryDelay,
		RandomizationFactor: 0,
		Multiplier:          1,
		MaxInterval:         s.retryDelay,
		MaxElapsedTime:      s.maxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Acquire: 每轮写入前确认连接可用；瞬时错误重试，其余错误（路径、认证等）立即返回
func (s *Store) Acquire(ctx context.Context) error {
	op := func() error {
		err := s.db.PingContext(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.L().Warn("db_connect_retry", "err", err, "next", next)
	}
	return backoff.RetryNotify(op, s.retryPolicy(ctx), notify)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(q), args...)
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(q), args...)
}
