package database

import (
	"fmt"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
)

var dependentTables = []string{
	"daily_checkin_prefs",
	"notes_prefs",
	"notes_caches",
	"geetest_challenges",
}

// Migrate creates or updates every table and removes rows left behind by a
// user that no longer exists.
func (s *Store) Migrate() error {
	s.log.Info("Running migrations")

	err := s.db.AutoMigrate(
		&models.User{},
		&models.DailyCheckinPref{},
		&models.NotesPref{},
		&models.NotesCache{},
		&models.GeetestChallenge{},
		&models.CycleStatistics{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database tables: %w", err)
	}

	s.cleanupOrphans()
	return nil
}

func (s *Store) cleanupOrphans() {
	for _, table := range dependentTables {
		result := s.db.Exec(fmt.Sprintf(
			"DELETE FROM %s WHERE NOT EXISTS (SELECT 1 FROM users WHERE users.user_id = %s.user_id)", table, table))
		if result.Error != nil {
			s.log.WithError(result.Error).Errorf("Failed to clean up orphaned rows in %s", table)
			continue
		}
		if result.RowsAffected > 0 {
			s.log.Infof("Removed %d orphaned rows from %s", result.RowsAffected, table)
		}
	}
}
