package store

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// RecentWindow：近期扫描的展示窗口
const RecentWindow = 15 * time.Minute

// RecentScans：最近 15 分钟内的扫描坐标
func (s *Store) RecentScans(ctx context.Context, now time.Time, b *orb.Bound) ([]ScannedLocation, error) {
	q := "SELECT latitude, longitude, last_modified FROM scannedlocation WHERE last_modified >= ?"
	args := []any{toMillis(now.Add(-RecentWindow))}
	if bc, bargs := boundClause(b); bc != "" {
		q += " AND " + bc
		args = append(args, bargs...)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query scanned locations: %w", err)
	}
	defer rows.Close()
	var out []ScannedLocation
	for rows.Next() {
		var l ScannedLocation
		var modified int64
		if err := rows.Scan(&l.Latitude, &l.Longitude, &modified); err != nil {
			return nil, fmt.Errorf("scan scanned location: %w", err)
		}
		l.LastModified = fromMillis(modified)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scanned locations: %w", err)
	}
	return out, nil
}
