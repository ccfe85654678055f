// 包 migrate：按版本号管理表结构演进，仅覆盖本系统定义的固定版本集合
package migrate

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"pogomap/internal/logger"
	"pogomap/internal/store"
)

// CurrentVersion：当前代码支持的表结构版本
const CurrentVersion = 5

const versionKey = "schema_version"

// ErrIncompatibleSchema：库中版本高于代码支持的版本，禁止启动
var ErrIncompatibleSchema = errors.New("database schema newer than supported")

type IncompatibleError struct {
	Stored    int
	Supported int
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("database version %d is newer than supported version %d; upgrade the code or drop all tables", e.Stored, e.Supported)
}

func (e *IncompatibleError) Unwrap() error { return ErrIncompatibleSchema }

// Step：单个版本的结构变更或一次性数据清理，在迁移事务内执行
type Step struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx, d store.Dialect, now time.Time) error
}

// Steps：版本 2..5 的变更；版本 1 无操作
var Steps = []Step{
	{Version: 2, Name: "pokestop_add_encounter_id", Apply: func(ctx context.Context, tx *sql.Tx, d store.Dialect, _ time.Time) error {
		return addColumn(ctx, tx, d, "pokestop", "encounter_id", d.Varchar+" NULL")
	}},
	{Version: 3, Name: "pokestop_fort_modifier", Apply: func(ctx context.Context, tx *sql.Tx, d store.Dialect, _ time.Time) error {
		if err := addColumn(ctx, tx, d, "pokestop", "active_fort_modifier", d.Varchar+" NULL"); err != nil {
			return err
		}
		if err := dropColumn(ctx, tx, d, "pokestop", "encounter_id"); err != nil {
			return err
		}
		return dropColumn(ctx, tx, d, "pokestop", "active_pokemon_id")
	}},
	{Version: 4, Name: "scannedlocation_recreate", Apply: func(ctx context.Context, tx *sql.Tx, _ store.Dialect, _ time.Time) error {
		_, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS scannedlocation")
		return err
	}},
	{Version: 5, Name: "pokemon_purge_corrupt_batch", Apply: func(ctx context.Context, tx *sql.Tx, d store.Dialect, now time.Time) error {
		ok, err := tableExists(ctx, tx, d, "pokemon")
		if err != nil || !ok {
			return err
		}
		_, err = tx.ExecContext(ctx, d.Rebind("DELETE FROM pokemon WHERE disappear_time > ?"), now.Add(-24*time.Hour).UnixMilli())
		return err
	}},
}

// Result：本次启动的版本判定结果
type Result struct {
	From     int
	To       int
	Fresh    bool
	Migrated bool
}

// Manager：版本状态机
type Manager struct {
	db      *sql.DB
	dialect store.Dialect
	target  int
	steps   []Step
	now     func() time.Time
}

func NewManager(db *sql.DB, d store.Dialect) *Manager {
	return &Manager{db: db, dialect: d, target: CurrentVersion, steps: Steps, now: time.Now}
}

// Run：校验/迁移版本后创建缺失的表
func Run(ctx context.Context, db *sql.DB, d store.Dialect) (Result, error) {
	res, err := NewManager(db, d).Verify(ctx)
	if err != nil {
		return res, err
	}
	return res, EnsureSchema(ctx, db, d)
}

// Verify：
//   - 无版本表且无数据表：视为全新安装，直接记为当前版本
//   - 无版本表但存在 scannedlocation：视为版本 0，执行全部步骤
//   - 版本低于当前：执行 (stored, target] 区间内的步骤
//   - 版本高于当前：返回 IncompatibleError，不执行任何步骤
//
// 步骤与版本写入在同一事务中提交，失败时版本保持不变。
func (m *Manager) Verify(ctx context.Context) (Result, error) {
	l := logger.L()
	hasVersions, err := tableExists(ctx, m.db, m.dialect, "versions")
	if err != nil {
		return Result{}, err
	}
	if !hasVersions {
		legacy, err := tableExists(ctx, m.db, m.dialect, "scannedlocation")
		if err != nil {
			return Result{}, err
		}
		if !legacy {
			if err := m.stampFresh(ctx); err != nil {
				return Result{}, err
			}
			l.Info("schema_fresh", "version", m.target)
			return Result{From: m.target, To: m.target, Fresh: true}, nil
		}
		l.Info("schema_untracked", "assume_version", 0)
		return m.migrate(ctx, 0, true)
	}

	var stored int
	err = m.db.QueryRowContext(ctx, m.dialect.Rebind("SELECT val FROM versions WHERE key = ?"), versionKey).Scan(&stored)
	if err != nil {
		return Result{}, fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case stored > m.target:
		l.Error("schema_incompatible", "stored", stored, "supported", m.target)
		return Result{From: stored, To: stored}, &IncompatibleError{Stored: stored, Supported: m.target}
	case stored < m.target:
		return m.migrate(ctx, stored, false)
	}
	l.Debug("schema_current", "version", stored)
	return Result{From: stored, To: stored}, nil
}

func createVersions(ctx context.Context, q querier, d store.Dialect) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS versions (key %s NOT NULL, val %s NOT NULL)", d.Varchar, d.Int))
	return err
}

func (m *Manager) stampFresh(ctx context.Context) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := createVersions(ctx, tx, m.dialect); err != nil {
		return fmt.Errorf("create versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, m.dialect.Rebind("INSERT INTO versions (key, val) VALUES (?, ?)"), versionKey, m.target); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return tx.Commit()
}

// migrate：按版本升序执行 (from, target] 内的步骤，随后写入目标版本
func (m *Manager) migrate(ctx context.Context, from int, untracked bool) (Result, error) {
	l := logger.L()
	l.Info("schema_migrate", "from", from, "to", m.target)
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()
	if untracked {
		if err := createVersions(ctx, tx, m.dialect); err != nil {
			return Result{}, fmt.Errorf("create versions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.dialect.Rebind("INSERT INTO versions (key, val) VALUES (?, ?)"), versionKey, 0); err != nil {
			return Result{}, fmt.Errorf("stamp schema version: %w", err)
		}
	}
	now := m.now().UTC()
	for _, s := range m.ordered() {
		if s.Version <= from || s.Version > m.target {
			continue
		}
		l.Info("schema_step", "version", s.Version, "name", s.Name)
		if err := s.Apply(ctx, tx, m.dialect, now); err != nil {
			return Result{From: from, To: from}, fmt.Errorf("migration step %d (%s): %w", s.Version, s.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, m.dialect.Rebind("UPDATE versions SET val = ? WHERE key = ?"), m.target, versionKey); err != nil {
		return Result{From: from, To: from}, fmt.Errorf("update schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{From: from, To: from}, fmt.Errorf("commit migration: %w", err)
	}
	l.Info("schema_migrated", "from", from, "to", m.target)
	return Result{From: from, To: m.target, Migrated: true}, nil
}

func (m *Manager) ordered() []Step {
	out := slices.Clone(m.steps)
	slices.SortStableFunc(out, func(a, b Step) int { return cmp.Compare(a.Version, b.Version) })
	return out
}
