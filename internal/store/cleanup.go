package store

import (
	"context"
	"fmt"
	"time"

	"pogomap/internal/logger"
	"pogomap/internal/metrics"
)

// ScannedRetention：扫描记录固定保留 30 分钟
const ScannedRetention = 30 * time.Minute

// Cleanup：一次清理删除的行数
type Cleanup struct {
	Scanned int64
	Pokemon int64
}

// Clean：删除过期扫描记录；purgeHours>0 时删除消失早于 now-purgeHours 的精灵
// 约束：仅按时间删除，可与其他轮次的清理并发执行
func (s *Store) Clean(ctx context.Context, now time.Time, purgeHours int) (Cleanup, error) {
	var c Cleanup
	res, err := s.exec(ctx, "DELETE FROM scannedlocation WHERE last_modified < ?", toMillis(now.Add(-ScannedRetention)))
	if err != nil {
		return c, fmt.Errorf("clean scannedlocation: %w", err)
	}
	c.Scanned, _ = res.RowsAffected()
	metrics.CleanupDeletedTotal.WithLabelValues("scannedlocation").Add(float64(c.Scanned))

	if purgeHours > 0 {
		cutoff := now.Add(-time.Duration(purgeHours) * time.Hour)
		res, err := s.exec(ctx, "DELETE FROM pokemon WHERE disappear_time < ?", toMillis(cutoff))
		if err != nil {
			return c, fmt.Errorf("clean pokemon: %w", err)
		}
		c.Pokemon, _ = res.RowsAffected()
		metrics.CleanupDeletedTotal.WithLabelValues("pokemon").Add(float64(c.Pokemon))
	}
	logger.L().Debug("cleanup_done", "scanned", c.Scanned, "pokemon", c.Pokemon, "purge_hours", purgeHours)
	return c, nil
}
