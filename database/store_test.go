package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/database"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/testutil"
)

func intPtr(v int) *int { return &v }

func seedUser(t *testing.T, store *database.Store, id string) *models.User {
	t.Helper()
	user := &models.User{UserID: id, CookieDefault: "ltuid_v2=1; ltoken_v2=abc", UIDGenshin: 812345678}
	require.NoError(t, store.PutUser(context.Background(), user))
	return user
}

func TestPutUser_RoundTripAndIdempotent(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()

	user := seedUser(t, store, "100")
	require.NoError(t, store.PutUser(ctx, user))

	got, err := store.GetUser(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, models.CompressedText("ltuid_v2=1; ltoken_v2=abc"), got.CookieDefault)
	assert.Equal(t, 812345678, got.UIDGenshin)
	assert.Equal(t, "ltuid_v2=1; ltoken_v2=abc", got.Cookie(models.GameStarrail))
	assert.False(t, got.LastUsedTime.IsZero())

	_, err = store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDeleteUserCascade(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()
	seedUser(t, store, "100")
	seedUser(t, store, "200")

	require.NoError(t, store.UpsertDailyPref(ctx, &models.DailyCheckinPref{UserID: "100", ChannelID: "c", HasGenshin: true, NextCheckinTime: time.Now()}))
	require.NoError(t, store.UpsertNotesPref(ctx, &models.NotesPref{UserID: "100", Game: models.GameGenshin, ChannelID: "c", ThresholdResource: intPtr(2)}))
	require.NoError(t, store.PutNotesCache(ctx, "100", models.GameGenshin, []byte(`{"x":1}`), time.Now()))
	require.NoError(t, store.PutGeetestChallenge(ctx, &models.GeetestChallenge{UserID: "100", GT: "gt", Challenge: "ch"}))
	require.NoError(t, store.UpsertDailyPref(ctx, &models.DailyCheckinPref{UserID: "200", ChannelID: "c", HasStarrail: true, NextCheckinTime: time.Now()}))

	require.NoError(t, store.DeleteUserCascade(ctx, "100"))

	_, err := store.GetUser(ctx, "100")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = store.GetDailyPref(ctx, "100")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = store.GetNotesPref(ctx, "100", models.GameGenshin)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, _, err = store.GetNotesCache(ctx, "100", models.GameGenshin)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = store.GetGeetestChallenge(ctx, "100")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = store.GetDailyPref(ctx, "200")
	assert.NoError(t, err)
}

func TestUpsertDailyPref_RequiresUser(t *testing.T) {
	store := testutil.SetupStore(t)
	err := store.UpsertDailyPref(context.Background(), &models.DailyCheckinPref{UserID: "nobody", HasGenshin: true})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestListDueCheckins(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"due", "future", "paused"} {
		seedUser(t, store, id)
	}
	require.NoError(t, store.UpsertDailyPref(ctx, &models.DailyCheckinPref{UserID: "due", HasGenshin: true, NextCheckinTime: now.Add(-time.Minute)}))
	require.NoError(t, store.UpsertDailyPref(ctx, &models.DailyCheckinPref{UserID: "future", HasGenshin: true, NextCheckinTime: now.Add(time.Minute)}))
	require.NoError(t, store.UpsertDailyPref(ctx, &models.DailyCheckinPref{UserID: "paused", HasGenshin: true, NextCheckinTime: now.Add(-time.Hour)}))
	require.NoError(t, store.PauseCheckin(ctx, "paused", "invalid cookie"))

	due, err := store.ListDueCheckins(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].Pref.UserID)
	assert.Equal(t, "due", due[0].User.UserID)

	// non-UTC query times compare the same instant
	due, err = store.ListDueCheckins(ctx, now.In(time.FixedZone("UTC+8", 8*3600)))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestPutUser_ResumesPausedCheckinOnNewCookie(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "100")
	require.NoError(t, store.UpsertDailyPref(ctx, &models.DailyCheckinPref{UserID: "100", HasGenshin: true, NextCheckinTime: time.Now()}))
	require.NoError(t, store.PauseCheckin(ctx, "100", "invalid cookie"))

	// same credentials keep the pause
	require.NoError(t, store.PutUser(ctx, user))
	pref, err := store.GetDailyPref(ctx, "100")
	require.NoError(t, err)
	assert.True(t, pref.Paused)

	user.CookieDefault = "ltuid_v2=1; ltoken_v2=new"
	require.NoError(t, store.PutUser(ctx, user))
	pref, err = store.GetDailyPref(ctx, "100")
	require.NoError(t, err)
	assert.False(t, pref.Paused)
	assert.Empty(t, pref.PauseReason)
}

func TestAdvanceCheckin_ExactlyOnce(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()
	seedUser(t, store, "100")
	from := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, store.UpsertDailyPref(ctx, &models.DailyCheckinPref{UserID: "100", HasGenshin: true, NextCheckinTime: from}))

	ok, err := store.AdvanceCheckin(ctx, "100", from)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AdvanceCheckin(ctx, "100", from)
	require.NoError(t, err)
	assert.False(t, ok)

	pref, err := store.GetDailyPref(ctx, "100")
	require.NoError(t, err)
	assert.True(t, pref.NextCheckinTime.Equal(from.Add(24*time.Hour)))
}

func TestUpsertNotesPref_Validation(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()
	seedUser(t, store, "100")

	err := store.UpsertNotesPref(ctx, &models.NotesPref{UserID: "100", Game: models.GameGenshin})
	assert.ErrorIs(t, err, models.ErrNoThreshold)

	err = store.UpsertNotesPref(ctx, &models.NotesPref{UserID: "100", Game: models.GameStarrail, ThresholdCurrency: intPtr(1)})
	assert.Error(t, err)

	err = store.UpsertNotesPref(ctx, &models.NotesPref{UserID: "100", Game: models.GameGenshin, ThresholdResource: intPtr(9)})
	assert.Error(t, err)
}

func TestListDueNotesPrefs(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedUser(t, store, "100")
	seedUser(t, store, "200")

	require.NoError(t, store.UpsertNotesPref(ctx, &models.NotesPref{UserID: "100", Game: models.GameGenshin, ThresholdResource: intPtr(2), NextCheckTime: now.Add(-time.Second)}))
	require.NoError(t, store.UpsertNotesPref(ctx, &models.NotesPref{UserID: "100", Game: models.GameStarrail, ThresholdResource: intPtr(2), NextCheckTime: now.Add(-time.Second)}))
	require.NoError(t, store.UpsertNotesPref(ctx, &models.NotesPref{UserID: "200", Game: models.GameGenshin, ThresholdResource: intPtr(2), NextCheckTime: now.Add(time.Hour)}))

	due, err := store.ListDueNotesPrefs(ctx, models.GameGenshin, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "100", due[0].Pref.UserID)

	pref := due[0].Pref
	pref.NextCheckTime = now.Add(3 * time.Hour)
	weekly := now.Add(7 * 24 * time.Hour)
	pref.WeeklyTaskCheckTime = &weekly
	require.NoError(t, store.SaveNotesPref(ctx, &pref))

	got, err := store.GetNotesPref(ctx, "100", models.GameGenshin)
	require.NoError(t, err)
	assert.True(t, got.NextCheckTime.Equal(now.Add(3*time.Hour)))
	require.NotNil(t, got.WeeklyTaskCheckTime)
	assert.True(t, got.WeeklyTaskCheckTime.Equal(weekly))

	all, err := store.ListNotesPrefs(ctx, models.GameGenshin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNotesCache_Compressed(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()
	seedUser(t, store, "100")
	fetched := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	payload := []byte(`{"current_resin":120,"max_resin":160}`)
	require.NoError(t, store.PutNotesCache(ctx, "100", models.GameGenshin, payload, fetched))
	require.NoError(t, store.PutNotesCache(ctx, "100", models.GameGenshin, payload, fetched))

	got, at, err := store.GetNotesCache(ctx, "100", models.GameGenshin)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.True(t, at.Equal(fetched))
}

func TestPruneInactiveUsers(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store.SetClock(clock.Now)

	seedUser(t, store, "idle")
	seedUser(t, store, "subscribed")
	require.NoError(t, store.UpsertDailyPref(ctx, &models.DailyCheckinPref{UserID: "subscribed", HasGenshin: true, NextCheckinTime: clock.Now()}))

	clock.Advance(90 * 24 * time.Hour)
	seedUser(t, store, "recent")

	pruned, err := store.PruneInactiveUsers(ctx, clock.Now().Add(-60*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = store.GetUser(ctx, "idle")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = store.GetUser(ctx, "subscribed")
	assert.NoError(t, err)
	_, err = store.GetUser(ctx, "recent")
	assert.NoError(t, err)
}

func TestGeetestChallenge(t *testing.T) {
	store := testutil.SetupStore(t)
	ctx := context.Background()
	seedUser(t, store, "100")

	require.NoError(t, store.PutGeetestChallenge(ctx, &models.GeetestChallenge{UserID: "100", GT: "gt", Challenge: "ch"}))
	got, err := store.GetGeetestChallenge(ctx, "100")
	require.NoError(t, err)
	assert.False(t, got.Solved())

	got.Validate = "v"
	got.Seccode = "v|jordan"
	require.NoError(t, store.PutGeetestChallenge(ctx, got))
	got, err = store.GetGeetestChallenge(ctx, "100")
	require.NoError(t, err)
	assert.True(t, got.Solved())

	require.NoError(t, store.DeleteGeetestChallenge(ctx, "100"))
	_, err = store.GetGeetestChallenge(ctx, "100")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBackup_NotAvailableInMemory(t *testing.T) {
	store := testutil.SetupStore(t)
	_, err := store.Backup(context.Background(), time.Now())
	assert.ErrorIs(t, err, database.ErrBackupNotAvail)
}

func TestBackup_SQLiteFile(t *testing.T) {
	log, _ := testutil.Logger()
	path := t.TempDir() + "/bot.db"
	store, err := database.Open(database.Options{Driver: "sqlite", Path: path}, log)
	require.NoError(t, err)
	defer store.Close()
	seedUser(t, store, "100")

	day := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	target, err := store.Backup(context.Background(), day)
	require.NoError(t, err)
	assert.FileExists(t, target)
	assert.Contains(t, target, "bot_backup_2024-05-01.db")

	// same day overwrites
	_, err = store.Backup(context.Background(), day)
	require.NoError(t, err)
}
