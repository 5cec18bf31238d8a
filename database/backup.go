package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Backup writes a consistent copy of the sqlite database next to the live
// file as <name>_backup_YYYY-MM-DD.db, replacing a backup from the same day.
func (s *Store) Backup(ctx context.Context, now time.Time) (string, error) {
	if s.driver != "sqlite" || s.path == "" || s.path == ":memory:" {
		return "", ErrBackupNotAvail
	}

	dir := filepath.Dir(s.path)
	base := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	target := filepath.Join(dir, fmt.Sprintf("%s_backup_%s.db", base, now.Format("2006-01-02")))

	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove old backup: %w", err)
	}

	start := time.Now()
	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", target).Error; err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}

	s.log.WithField("file", target).Infof("Database backup finished in %s", time.Since(start).Round(time.Millisecond))
	return target, nil
}
