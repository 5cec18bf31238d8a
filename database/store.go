package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
)

// DueCheckin is a daily preference together with the credential row that was
// read in the same transaction.
type DueCheckin struct {
	Pref models.DailyCheckinPref
	User models.User
}

// DueNotes is a notes preference together with its credential row.
type DueNotes struct {
	Pref models.NotesPref
	User models.User
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// PutUser inserts or replaces the user and refreshes last_used_time. A
// changed credential lifts a pause on the user's daily check-in.
func (s *Store) PutUser(ctx context.Context, user *models.User) error {
	if user.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.User
		err := tx.Where("user_id = ?", user.UserID).First(&existing).Error
		exists := err == nil
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}

		user.LastUsedTime = s.now().UTC()
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(user).Error; err != nil {
			return fmt.Errorf("failed to save user %s: %w", user.UserID, err)
		}

		if exists && credentialsChanged(&existing, user) {
			err := tx.Model(&models.DailyCheckinPref{}).
				Where("user_id = ? AND paused = ?", user.UserID, true).
				Updates(map[string]any{"paused": false, "pause_reason": ""}).Error
			if err != nil {
				return fmt.Errorf("failed to resume daily check-in for %s: %w", user.UserID, err)
			}
		}
		return nil
	})
}

func credentialsChanged(a, b *models.User) bool {
	return a.CookieDefault != b.CookieDefault ||
		a.CookieGenshin != b.CookieGenshin ||
		a.CookieStarrail != b.CookieStarrail ||
		a.UIDGenshin != b.UIDGenshin ||
		a.UIDStarrail != b.UIDStarrail
}

// TouchUser refreshes last_used_time without touching anything else.
func (s *Store) TouchUser(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ?", userID).
		Update("last_used_time", s.now().UTC()).Error
}

// DeleteUserCascade removes the user and every row that belongs to it.
func (s *Store) DeleteUserCascade(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteUsers(tx, []string{userID})
	})
}

func deleteUsers(tx *gorm.DB, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	for _, table := range dependentTables {
		if err := tx.Exec("DELETE FROM "+table+" WHERE user_id IN ?", userIDs).Error; err != nil {
			return fmt.Errorf("failed to delete rows from %s: %w", table, err)
		}
	}
	if err := tx.Where("user_id IN ?", userIDs).Delete(&models.User{}).Error; err != nil {
		return fmt.Errorf("failed to delete users: %w", err)
	}
	return nil
}

// PruneInactiveUsers deletes users not seen since cutoff that have no
// preference rows left.
func (s *Store) PruneInactiveUsers(ctx context.Context, cutoff time.Time) (int, error) {
	var pruned int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var userIDs []string
		err := tx.Model(&models.User{}).
			Where("last_used_time < ?", cutoff.UTC()).
			Where("NOT EXISTS (SELECT 1 FROM daily_checkin_prefs d WHERE d.user_id = users.user_id)").
			Where("NOT EXISTS (SELECT 1 FROM notes_prefs n WHERE n.user_id = users.user_id)").
			Pluck("user_id", &userIDs).Error
		if err != nil {
			return fmt.Errorf("failed to find inactive users: %w", err)
		}

		pruned = len(userIDs)
		return deleteUsers(tx, userIDs)
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

func (s *Store) GetDailyPref(ctx context.Context, userID string) (*models.DailyCheckinPref, error) {
	var pref models.DailyCheckinPref
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error; err != nil {
		return nil, notFound(err)
	}
	return &pref, nil
}

// UpsertDailyPref stores the preference. The user row must already exist.
func (s *Store) UpsertDailyPref(ctx context.Context, pref *models.DailyCheckinPref) error {
	if !pref.HasGenshin && !pref.HasStarrail {
		return fmt.Errorf("at least one game must be selected")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("user_id = ?", pref.UserID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}

		pref.NextCheckinTime = pref.NextCheckinTime.UTC()
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(pref).Error
	})
}

func (s *Store) DeleteDailyPref(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.DailyCheckinPref{}).Error
}

// ListDueCheckins returns every unpaused preference with
// next_checkin_time <= now, joined with its user in one transaction.
func (s *Store) ListDueCheckins(ctx context.Context, now time.Time) ([]DueCheckin, error) {
	var due []DueCheckin
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prefs []models.DailyCheckinPref
		err := tx.Where("next_checkin_time <= ? AND paused = ?", now.UTC(), false).
			Order("next_checkin_time ASC").
			Find(&prefs).Error
		if err != nil {
			return fmt.Errorf("failed to list due check-ins: %w", err)
		}
		if len(prefs) == 0 {
			return nil
		}

		users, err := usersByID(tx, dailyUserIDs(prefs))
		if err != nil {
			return err
		}

		for _, pref := range prefs {
			user, ok := users[pref.UserID]
			if !ok {
				s.log.Warnf("Daily check-in for %s has no user row, skipping", pref.UserID)
				continue
			}
			due = append(due, DueCheckin{Pref: pref, User: user})
		}
		return nil
	})
	return due, err
}

func dailyUserIDs(prefs []models.DailyCheckinPref) []string {
	ids := make([]string, 0, len(prefs))
	for _, p := range prefs {
		ids = append(ids, p.UserID)
	}
	return ids
}

func usersByID(tx *gorm.DB, ids []string) (map[string]models.User, error) {
	var users []models.User
	if err := tx.Where("user_id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}
	return byID, nil
}

// AdvanceCheckin moves next_checkin_time from `from` to exactly 24h later. It
// returns false without writing when the stored value is no longer `from`,
// so a time is never advanced twice.
func (s *Store) AdvanceCheckin(ctx context.Context, userID string, from time.Time) (bool, error) {
	advanced := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pref models.DailyCheckinPref
		if err := tx.Where("user_id = ?", userID).First(&pref).Error; err != nil {
			return notFound(err)
		}
		if !pref.NextCheckinTime.Equal(from) {
			return nil
		}

		next := from.Add(24 * time.Hour).UTC()
		if err := tx.Model(&models.DailyCheckinPref{}).
			Where("user_id = ?", userID).
			Update("next_checkin_time", next).Error; err != nil {
			return err
		}
		advanced = true
		return nil
	})
	return advanced, err
}

// PauseCheckin stops scheduling the user until PutUser sees new credentials.
func (s *Store) PauseCheckin(ctx context.Context, userID, reason string) error {
	return s.db.WithContext(ctx).Model(&models.DailyCheckinPref{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"paused": true, "pause_reason": reason}).Error
}

func (s *Store) ListNotesPrefs(ctx context.Context, game models.Game) ([]models.NotesPref, error) {
	var prefs []models.NotesPref
	if err := s.db.WithContext(ctx).Where("game = ?", game).Find(&prefs).Error; err != nil {
		return nil, fmt.Errorf("failed to list notes preferences: %w", err)
	}
	return prefs, nil
}

// ListDueNotesPrefs returns the preferences of game whose next_check_time <= now,
// joined with their users in one transaction.
func (s *Store) ListDueNotesPrefs(ctx context.Context, game models.Game, now time.Time) ([]DueNotes, error) {
	var due []DueNotes
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prefs []models.NotesPref
		err := tx.Where("game = ? AND next_check_time <= ?", game, now.UTC()).
			Order("next_check_time ASC").
			Find(&prefs).Error
		if err != nil {
			return fmt.Errorf("failed to list due notes: %w", err)
		}
		if len(prefs) == 0 {
			return nil
		}

		ids := make([]string, 0, len(prefs))
		for _, p := range prefs {
			ids = append(ids, p.UserID)
		}
		users, err := usersByID(tx, ids)
		if err != nil {
			return err
		}

		for _, pref := range prefs {
			user, ok := users[pref.UserID]
			if !ok {
				s.log.Warnf("Notes preference for %s has no user row, skipping", pref.UserID)
				continue
			}
			due = append(due, DueNotes{Pref: pref, User: user})
		}
		return nil
	})
	return due, err
}

func (s *Store) GetNotesPref(ctx context.Context, userID string, game models.Game) (*models.NotesPref, error) {
	var pref models.NotesPref
	err := s.db.WithContext(ctx).Where("user_id = ? AND game = ?", userID, game).First(&pref).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &pref, nil
}

// UpsertNotesPref validates and stores the preference. A zero
// NextCheckTime makes the preference due immediately.
func (s *Store) UpsertNotesPref(ctx context.Context, pref *models.NotesPref) error {
	if err := pref.Validate(); err != nil {
		return err
	}
	if pref.NextCheckTime.IsZero() {
		pref.NextCheckTime = s.now()
	}
	normalizeNotesTimes(pref)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("user_id = ?", pref.UserID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(pref).Error
	})
}

// SaveNotesPref persists the scheduler owned columns of pref.
func (s *Store) SaveNotesPref(ctx context.Context, pref *models.NotesPref) error {
	normalizeNotesTimes(pref)
	return s.db.WithContext(ctx).Model(&models.NotesPref{}).
		Where("user_id = ? AND game = ?", pref.UserID, pref.Game).
		Updates(map[string]any{
			"next_check_time":        pref.NextCheckTime,
			"daily_task_check_time":  pref.DailyTaskCheckTime,
			"weekly_task_check_time": pref.WeeklyTaskCheckTime,
		}).Error
}

func normalizeNotesTimes(pref *models.NotesPref) {
	pref.NextCheckTime = pref.NextCheckTime.UTC()
	if pref.DailyTaskCheckTime != nil {
		t := pref.DailyTaskCheckTime.UTC()
		pref.DailyTaskCheckTime = &t
	}
	if pref.WeeklyTaskCheckTime != nil {
		t := pref.WeeklyTaskCheckTime.UTC()
		pref.WeeklyTaskCheckTime = &t
	}
}

func (s *Store) DeleteNotesPref(ctx context.Context, userID string, game models.Game) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND game = ?", userID, game).
		Delete(&models.NotesPref{}).Error
}

func (s *Store) PutNotesCache(ctx context.Context, userID string, game models.Game, payload []byte, fetchedAt time.Time) error {
	cache := models.NotesCache{
		UserID:    userID,
		Game:      game,
		Payload:   models.CompressedBytes(payload),
		FetchedAt: fetchedAt.UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&cache).Error
}

// GetNotesCache returns the last raw notes payload and when it was fetched.
func (s *Store) GetNotesCache(ctx context.Context, userID string, game models.Game) ([]byte, time.Time, error) {
	var cache models.NotesCache
	err := s.db.WithContext(ctx).Where("user_id = ? AND game = ?", userID, game).First(&cache).Error
	if err != nil {
		return nil, time.Time{}, notFound(err)
	}
	return []byte(cache.Payload), cache.FetchedAt, nil
}

func (s *Store) PutGeetestChallenge(ctx context.Context, challenge *models.GeetestChallenge) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(challenge).Error
}

func (s *Store) GetGeetestChallenge(ctx context.Context, userID string) (*models.GeetestChallenge, error) {
	var challenge models.GeetestChallenge
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&challenge).Error; err != nil {
		return nil, notFound(err)
	}
	return &challenge, nil
}

func (s *Store) DeleteGeetestChallenge(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.GeetestChallenge{}).Error
}

func (s *Store) SaveCycleStatistics(ctx context.Context, stats *models.CycleStatistics) error {
	return s.db.WithContext(ctx).Create(stats).Error
}
