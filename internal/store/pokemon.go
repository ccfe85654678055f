package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"pogomap/internal/geo"
)

const pokemonCols = "encounter_id, spawnpoint_id, pokemon_id, latitude, longitude, disappear_time"

// boundClause：范围条件，b 为空时返回空串
func boundClause(b *orb.Bound) (string, []any) {
	if b == nil {
		return "", nil
	}
	return "(latitude >= ? AND longitude >= ? AND latitude <= ? AND longitude <= ?)",
		[]any{b.Min.Lat(), b.Min.Lon(), b.Max.Lat(), b.Max.Lon()}
}

func intArgs(ids []int) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func scanPokemon(rows *sql.Rows) ([]SpawnRecord, error) {
	defer rows.Close()
	var out []SpawnRecord
	for rows.Next() {
		var p SpawnRecord
		var disappear int64
		if err := rows.Scan(&p.EncounterID, &p.SpawnpointID, &p.PokemonID, &p.Latitude, &p.Longitude, &disappear); err != nil {
			return nil, fmt.Errorf("scan pokemon: %w", err)
		}
		p.DisappearTime = fromMillis(disappear)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pokemon: %w", err)
	}
	return out, nil
}

// ActivePokemon：未消失的精灵；给定范围时额外包含稀有物种（不受范围限制，仍受时间过滤）
func (s *Store) ActivePokemon(ctx context.Context, now time.Time, b *orb.Bound) ([]SpawnRecord, error) {
	q := "SELECT " + pokemonCols + " FROM pokemon WHERE disappear_time > ?"
	args := []any{toMillis(now)}
	if bc, bargs := boundClause(b); bc != "" {
		q += " AND (" + bc + " OR pokemon_id IN (" + placeholders(len(RareSpecies)) + "))"
		args = append(args, bargs...)
		args = append(args, intArgs(RareSpecies)...)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query active pokemon: %w", err)
	}
	return scanPokemon(rows)
}

// ActivePokemonByID：限定物种集合的未消失精灵；ids 为空时直接返回空
func (s *Store) ActivePokemonByID(ctx context.Context, now time.Time, ids []int, b *orb.Bound) ([]SpawnRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := "SELECT " + pokemonCols + " FROM pokemon WHERE pokemon_id IN (" + placeholders(len(ids)) + ") AND disappear_time > ?"
	args := append(intArgs(ids), toMillis(now))
	if bc, bargs := boundClause(b); bc != "" {
		q += " AND " + bc
		args = append(args, bargs...)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query active pokemon by id: %w", err)
	}
	return scanPokemon(rows)
}

// SeenPokemon：since 之后每个物种的出现次数与最近一次出现位置
// 约束：同一物种最近时间相同的多行只保留一行
func (s *Store) SeenPokemon(ctx context.Context, since time.Time) ([]SeenRow, error) {
	rows, err := s.query(ctx, `SELECT p.pokemon_id, p.disappear_time, p.latitude, p.longitude, c.cnt
        FROM pokemon p
        JOIN (SELECT pokemon_id, COUNT(pokemon_id) AS cnt, MAX(disappear_time) AS lastappeared
              FROM pokemon WHERE disappear_time > ? GROUP BY pokemon_id) c
          ON p.pokemon_id = c.pokemon_id AND p.disappear_time = c.lastappeared
        ORDER BY p.pokemon_id, p.encounter_id`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("query seen pokemon: %w", err)
	}
	defer rows.Close()
	var out []SeenRow
	for rows.Next() {
		var r SeenRow
		var last int64
		if err := rows.Scan(&r.PokemonID, &last, &r.Latitude, &r.Longitude, &r.Count); err != nil {
			return nil, fmt.Errorf("scan seen pokemon: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].PokemonID == r.PokemonID {
			continue
		}
		r.LastAppeared = fromMillis(last)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen pokemon: %w", err)
	}
	return out, nil
}

// Appearances：某物种在 after 之后的出现记录，按消失时间升序
func (s *Store) Appearances(ctx context.Context, pokemonID int, after time.Time) ([]SpawnRecord, error) {
	rows, err := s.query(ctx, "SELECT "+pokemonCols+" FROM pokemon WHERE pokemon_id = ? AND disappear_time > ? ORDER BY disappear_time ASC",
		pokemonID, toMillis(after))
	if err != nil {
		return nil, fmt.Errorf("query appearances: %w", err)
	}
	return scanPokemon(rows)
}

// distinctFunc：按刷新点去重的查询构造，DISTINCT ON 与 GROUP BY 二选一
type distinctFunc func(cols, where string) string

func distinctOn(cols, where string) string {
	return "SELECT DISTINCT ON (spawnpoint_id) " + cols + " FROM pokemon" + where + " ORDER BY spawnpoint_id"
}

func groupBy(cols, where string) string {
	return "SELECT " + cols + " FROM pokemon" + where + " GROUP BY spawnpoint_id ORDER BY spawnpoint_id"
}

// SpawnPoints：范围内去重的刷新点，每个 spawnpoint_id 一行
func (s *Store) SpawnPoints(ctx context.Context, b *orb.Bound) ([]SpawnPoint, error) {
	where := ""
	bc, args := boundClause(b)
	if bc != "" {
		where = " WHERE " + bc
	}
	rows, err := s.query(ctx, s.distinct("spawnpoint_id, latitude, longitude", where), args...)
	if err != nil {
		return nil, fmt.Errorf("query spawnpoints: %w", err)
	}
	defer rows.Close()
	var out []SpawnPoint
	for rows.Next() {
		var sp SpawnPoint
		if err := rows.Scan(&sp.SpawnpointID, &sp.Latitude, &sp.Longitude); err != nil {
			return nil, fmt.Errorf("scan spawnpoint: %w", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spawnpoints: %w", err)
	}
	return out, nil
}

// SpawnPointTimes：范围内去重的刷新点，附带消失时间在小时内的秒数（UTC 分*60+秒）
func (s *Store) SpawnPointTimes(ctx context.Context, b orb.Bound) ([]geo.SpawnTime, error) {
	bc, args := boundClause(&b)
	rows, err := s.query(ctx, s.distinct("spawnpoint_id, latitude, longitude, disappear_time", " WHERE "+bc), args...)
	if err != nil {
		return nil, fmt.Errorf("query spawnpoint times: %w", err)
	}
	defer rows.Close()
	var out []geo.SpawnTime
	for rows.Next() {
		var (
			id        string
			lat, lng  float64
			disappear int64
		)
		if err := rows.Scan(&id, &lat, &lng, &disappear); err != nil {
			return nil, fmt.Errorf("scan spawnpoint time: %w", err)
		}
		t := fromMillis(disappear)
		out = append(out, geo.SpawnTime{
			SpawnpointID: id,
			Point:        orb.Point{lng, lat},
			Time:         t.Minute()*60 + t.Second(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spawnpoint times: %w", err)
	}
	return out, nil
}
