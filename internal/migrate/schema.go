package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"pogomap/internal/logger"
	"pogomap/internal/store"
)

// 背景：首次运行及迁移完成后创建所需表与索引，保障后续写入与查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；时间列统一为毫秒时间戳
func schemaStmts(d store.Dialect) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pokemon (
            encounter_id %[1]s PRIMARY KEY,
            spawnpoint_id VARCHAR(255) NOT NULL,
            pokemon_id %[2]s NOT NULL,
            latitude %[3]s NOT NULL,
            longitude %[3]s NOT NULL,
            disappear_time %[4]s NOT NULL
        )`, d.Varchar, d.Int, d.Float, d.BigInt),
		`CREATE INDEX IF NOT EXISTS pokemon_spawnpoint_id ON pokemon(spawnpoint_id)`,
		`CREATE INDEX IF NOT EXISTS pokemon_pokemon_id ON pokemon(pokemon_id)`,
		`CREATE INDEX IF NOT EXISTS pokemon_disappear_time ON pokemon(disappear_time)`,
		`CREATE INDEX IF NOT EXISTS pokemon_latitude_longitude ON pokemon(latitude, longitude)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pokestop (
            pokestop_id %[1]s PRIMARY KEY,
            enabled %[2]s NOT NULL,
            latitude %[3]s NOT NULL,
            longitude %[3]s NOT NULL,
            last_modified %[4]s NOT NULL,
            lure_expiration %[4]s NULL,
            active_fort_modifier %[1]s NULL
        )`, d.Varchar, d.Bool, d.Float, d.BigInt),
		`CREATE INDEX IF NOT EXISTS pokestop_last_modified ON pokestop(last_modified)`,
		`CREATE INDEX IF NOT EXISTS pokestop_lure_expiration ON pokestop(lure_expiration)`,
		`CREATE INDEX IF NOT EXISTS pokestop_latitude_longitude ON pokestop(latitude, longitude)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS gym (
            gym_id %[1]s PRIMARY KEY,
            team_id %[2]s NOT NULL,
            guard_pokemon_id %[2]s NOT NULL,
            gym_points %[2]s NOT NULL,
            enabled %[3]s NOT NULL,
            latitude %[4]s NOT NULL,
            longitude %[4]s NOT NULL,
            last_modified %[5]s NOT NULL
        )`, d.Varchar, d.Int, d.Bool, d.Float, d.BigInt),
		`CREATE INDEX IF NOT EXISTS gym_last_modified ON gym(last_modified)`,
		`CREATE INDEX IF NOT EXISTS gym_latitude_longitude ON gym(latitude, longitude)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS scannedlocation (
            latitude %[1]s NOT NULL,
            longitude %[1]s NOT NULL,
            last_modified %[2]s NOT NULL,
            PRIMARY KEY (latitude, longitude)
        )`, d.Float, d.BigInt),
		`CREATE INDEX IF NOT EXISTS scannedlocation_last_modified ON scannedlocation(last_modified)`,
	}
}

// EnsureSchema：创建全部数据表与索引
func EnsureSchema(ctx context.Context, db *sql.DB, d store.Dialect) error {
	for i, s := range schemaStmts(d) {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	logger.L().Debug("schema_done")
	return nil
}

// querier：*sql.DB 与 *sql.Tx 的公共子集，迁移步骤在事务内执行
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tableExists(ctx context.Context, q querier, d store.Dialect, name string) (bool, error) {
	var n int
	var err error
	if d.Numbered {
		err = q.QueryRowContext(ctx, `SELECT COUNT(1) FROM information_schema.tables
            WHERE table_schema = current_schema() AND table_name = $1`, name).Scan(&n)
	} else {
		err = q.QueryRowContext(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	}
	if err != nil {
		return false, fmt.Errorf("inspect table %s: %w", name, err)
	}
	return n > 0, nil
}

func columnExists(ctx context.Context, q querier, d store.Dialect, table, column string) (bool, error) {
	var n int
	var err error
	if d.Numbered {
		err = q.QueryRowContext(ctx, `SELECT COUNT(1) FROM information_schema.columns
            WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`, table, column).Scan(&n)
	} else {
		err = q.QueryRowContext(ctx, `SELECT COUNT(1) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	}
	if err != nil {
		return false, fmt.Errorf("inspect column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

// addColumn：表不存在或列已存在时跳过
func addColumn(ctx context.Context, q querier, d store.Dialect, table, column, typ string) error {
	ok, err := tableExists(ctx, q, d, table)
	if err != nil || !ok {
		return err
	}
	if ok, err = columnExists(ctx, q, d, table, column); err != nil || ok {
		return err
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ))
	return err
}

// dropColumn：表或列不存在时跳过
func dropColumn(ctx context.Context, q querier, d store.Dialect, table, column string) error {
	ok, err := tableExists(ctx, q, d, table)
	if err != nil || !ok {
		return err
	}
	if ok, err = columnExists(ctx, q, d, table, column); err != nil || !ok {
		return err
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, column))
	return err
}
