package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pogomap/internal/logger"
	"pogomap/internal/metrics"
)

// BatchSize：单条 UPSERT 语句的最大行数，限制语句长度与参数个数
const BatchSize = 120

type table struct {
	name string
	cols []string
	key  []string
}

var (
	pokemonTable = table{
		name: "pokemon",
		cols: []string{"encounter_id", "spawnpoint_id", "pokemon_id", "latitude", "longitude", "disappear_time"},
		key:  []string{"encounter_id"},
	}
	pokestopTable = table{
		name: "pokestop",
		cols: []string{"pokestop_id", "enabled", "latitude", "longitude", "last_modified", "lure_expiration", "active_fort_modifier"},
		key:  []string{"pokestop_id"},
	}
	gymTable = table{
		name: "gym",
		cols: []string{"gym_id", "team_id", "guard_pokemon_id", "gym_points", "enabled", "latitude", "longitude", "last_modified"},
		key:  []string{"gym_id"},
	}
	scannedTable = table{
		name: "scannedlocation",
		cols: []string{"latitude", "longitude", "last_modified"},
		key:  []string{"latitude", "longitude"},
	}
)

// upsertSQL：多行 INSERT ... ON CONFLICT DO UPDATE，两种后端语法一致
func (t table) upsertSQL(rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.name)
	b.WriteString(" (")
	b.WriteString(strings.Join(t.cols, ", "))
	b.WriteString(") VALUES ")
	row := "(" + placeholders(len(t.cols)) + ")"
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
	}
	b.WriteString(" ON CONFLICT (")
	b.WriteString(strings.Join(t.key, ", "))
	b.WriteString(") DO UPDATE SET ")
	first := true
	for _, c := range t.cols {
		if slices.Contains(t.key, c) {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(c + "=excluded." + c)
	}
	return b.String()
}

// upsert：按 BatchSize 分批写入；瞬时错误原样重试同一批，不可恢复错误立即返回
// 返回：已成功写入的行数
func (s *Store) upsert(ctx context.Context, t table, rows [][]any) (int, error) {
	done := 0
	for i := 0; i < len(rows); i += BatchSize {
		end := min(i+BatchSize, len(rows))
		batch := rows[i:end]
		q := s.dialect.Rebind(t.upsertSQL(len(batch)))
		args := make([]any, 0, len(batch)*len(t.cols))
		for _, r := range batch {
			args = append(args, r...)
		}
		logger.L().Debug("upsert_batch", "table", t.name, "from", i, "to", end)
		op := func() error {
			_, err := s.db.ExecContext(ctx, q, args...)
			if err != nil && !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		notify := func(err error, next time.Duration) {
			metrics.UpsertRetriesTotal.WithLabelValues(t.name).Inc()
			logger.L().Warn("upsert_retry", "table", t.name, "from", i, "to", end, "err", err, "next", next)
		}
		if err := backoff.RetryNotify(op, s.retryPolicy(ctx), notify); err != nil {
			return done, fmt.Errorf("upsert %s rows %d-%d: %w", t.name, i, end, err)
		}
		done += len(batch)
		metrics.UpsertedTotal.WithLabelValues(t.name).Add(float64(len(batch)))
	}
	return done, nil
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// UpsertPokemon：以 encounter_id 为键写入或覆盖
func (s *Store) UpsertPokemon(ctx context.Context, m map[string]SpawnRecord) (int, error) {
	rows := make([][]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		p := m[k]
		rows = append(rows, []any{p.EncounterID, p.SpawnpointID, p.PokemonID, p.Latitude, p.Longitude, toMillis(p.DisappearTime)})
	}
	return s.upsert(ctx, pokemonTable, rows)
}

func (s *Store) UpsertPokestops(ctx context.Context, m map[string]Pokestop) (int, error) {
	rows := make([][]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		p := m[k]
		rows = append(rows, []any{p.PokestopID, p.Enabled, p.Latitude, p.Longitude, toMillis(p.LastModified), nullMillis(p.LureExpiration), nullString(p.ActiveFortModifier)})
	}
	return s.upsert(ctx, pokestopTable, rows)
}

func (s *Store) UpsertGyms(ctx context.Context, m map[string]Gym) (int, error) {
	rows := make([][]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		g := m[k]
		rows = append(rows, []any{g.GymID, g.TeamID, g.GuardPokemonID, g.GymPoints, g.Enabled, g.Latitude, g.Longitude, toMillis(g.LastModified)})
	}
	return s.upsert(ctx, gymTable, rows)
}

// UpsertScanned：键为调用方的哨兵值，落库主键是 (latitude, longitude)
func (s *Store) UpsertScanned(ctx context.Context, m map[int]ScannedLocation) (int, error) {
	rows := make([][]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		l := m[k]
		rows = append(rows, []any{l.Latitude, l.Longitude, toMillis(l.LastModified)})
	}
	return s.upsert(ctx, scannedTable, rows)
}
