package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paulmach/orb"
)

// Pokestops：范围内的补给站，b 为空时返回全部
func (s *Store) Pokestops(ctx context.Context, b *orb.Bound) ([]Pokestop, error) {
	q := "SELECT pokestop_id, enabled, latitude, longitude, last_modified, lure_expiration, active_fort_modifier FROM pokestop"
	bc, args := boundClause(b)
	if bc != "" {
		q += " WHERE " + bc
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query pokestops: %w", err)
	}
	defer rows.Close()
	var out []Pokestop
	for rows.Next() {
		var (
			p        Pokestop
			modified int64
			lure     sql.NullInt64
			modifier sql.NullString
		)
		if err := rows.Scan(&p.PokestopID, &p.Enabled, &p.Latitude, &p.Longitude, &modified, &lure, &modifier); err != nil {
			return nil, fmt.Errorf("scan pokestop: %w", err)
		}
		p.LastModified = fromMillis(modified)
		if lure.Valid {
			t := fromMillis(lure.Int64)
			p.LureExpiration = &t
		}
		if modifier.Valid {
			m := modifier.String
			p.ActiveFortModifier = &m
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pokestops: %w", err)
	}
	return out, nil
}

// Gyms：范围内的道馆，b 为空时返回全部
func (s *Store) Gyms(ctx context.Context, b *orb.Bound) ([]Gym, error) {
	q := "SELECT gym_id, team_id, guard_pokemon_id, gym_points, enabled, latitude, longitude, last_modified FROM gym"
	bc, args := boundClause(b)
	if bc != "" {
		q += " WHERE " + bc
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query gyms: %w", err)
	}
	defer rows.Close()
	var out []Gym
	for rows.Next() {
		var g Gym
		var modified int64
		if err := rows.Scan(&g.GymID, &g.TeamID, &g.GuardPokemonID, &g.GymPoints, &g.Enabled, &g.Latitude, &g.Longitude, &modified); err != nil {
			return nil, fmt.Errorf("scan gym: %w", err)
		}
		g.LastModified = fromMillis(modified)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gyms: %w", err)
	}
	return out, nil
}
