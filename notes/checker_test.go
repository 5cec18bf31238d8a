package notes_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/database"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/errorhandler"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/hoyolab"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/notes"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/testutil"
)

type notesResult struct {
	notes *hoyolab.Notes
	err   error
}

type fakeClient struct {
	mu      sync.Mutex
	results map[models.Game]notesResult
	calls   []models.Game
}

func (f *fakeClient) GetNotes(ctx context.Context, acct hoyolab.Account, game models.Game) (*hoyolab.Notes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, game)
	r := f.results[game]
	return r.notes, r.err
}

type fakeGate struct {
	pauses []time.Duration
}

func (g *fakeGate) Pause(d time.Duration) { g.pauses = append(g.pauses, d) }

var checkNow = time.Date(2025, 1, 10, 22, 1, 0, 0, time.UTC)

type fixture struct {
	store    *database.Store
	notifier *testutil.Notifier
	admin    *testutil.Notifier
	gate     *fakeGate
	client   *fakeClient
	checker  *notes.Checker
}

func setup(t *testing.T, results map[models.Game]notesResult) *fixture {
	t.Helper()
	f := &fixture{
		store:    testutil.SetupStore(t),
		notifier: testutil.NewNotifier(),
		admin:    testutil.NewNotifier(),
		gate:     &fakeGate{},
		client:   &fakeClient{results: results},
	}
	log, _ := testutil.Logger()
	reporter := errorhandler.NewReporter(f.admin, []string{"admin"}, time.Hour, log)
	f.checker = notes.NewChecker(f.store, f.client, f.notifier, f.gate, reporter, notes.Config{}, log)
	f.checker.SetClock(func() time.Time { return checkNow })
	f.checker.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return f
}

func hours(h int) *int { return &h }

func (f *fixture) addPref(t *testing.T, pref models.NotesPref) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.GetUser(ctx, pref.UserID); err != nil {
		require.NoError(t, f.store.PutUser(ctx, &models.User{
			UserID: pref.UserID, CookieDefault: "ltuid_v2=1", UIDGenshin: 812345678, UIDStarrail: 801234567,
		}))
	}
	if pref.NextCheckTime.IsZero() {
		pref.NextCheckTime = checkNow.Add(-time.Minute)
	}
	require.NoError(t, f.store.UpsertNotesPref(ctx, &pref))
}

func (f *fixture) pref(t *testing.T, userID string, game models.Game) *models.NotesPref {
	t.Helper()
	pref, err := f.store.GetNotesPref(context.Background(), userID, game)
	require.NoError(t, err)
	return pref
}

func resinNotes(recovery time.Duration) *hoyolab.Notes {
	return &hoyolab.Notes{
		Game:          models.GameGenshin,
		Stamina:       hoyolab.Resource{Current: 155, Max: 160, Recovery: recovery},
		DailyTaskDone: true,
		Raw:           json.RawMessage(`{"current_resin":155}`),
	}
}

func TestChecker_ThresholdCrossed(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{models.GameGenshin: {notes: resinNotes(59 * time.Minute)}})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})

	stats, err := f.checker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalUsers)
	assert.Equal(t, 1, stats.GenshinCount)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "chan", msgs[0].ChannelID)
	assert.Contains(t, msgs[0].Message.Content, "Original Resin almost full")
	assert.Equal(t, []string{"U"}, msgs[0].Message.AllowedMentions.Users)

	assert.True(t, f.pref(t, "U", models.GameGenshin).NextCheckTime.Equal(checkNow.Add(60*time.Minute)))

	payload, fetched, err := f.store.GetNotesCache(context.Background(), "U", models.GameGenshin)
	require.NoError(t, err)
	assert.JSONEq(t, `{"current_resin":155}`, string(payload))
	assert.True(t, fetched.Equal(checkNow))
}

func TestChecker_AlreadyFull(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{models.GameGenshin: {notes: resinNotes(0)}})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})

	_, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Message.Content, "Original Resin already full")
	assert.True(t, f.pref(t, "U", models.GameGenshin).NextCheckTime.Equal(checkNow.Add(6*time.Hour)))
}

func TestChecker_DailyTaskCheckFires(t *testing.T) {
	n := resinNotes(8 * time.Hour)
	n.DailyTaskDone = false
	f := setup(t, map[models.Game]notesResult{models.GameGenshin: {notes: n}})
	check := time.Date(2025, 1, 10, 22, 0, 0, 0, time.UTC)
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", DailyTaskCheckTime: &check})

	_, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Message.Content, "Daily task not complete")

	pref := f.pref(t, "U", models.GameGenshin)
	require.NotNil(t, pref.DailyTaskCheckTime)
	assert.True(t, pref.DailyTaskCheckTime.Equal(time.Date(2025, 1, 11, 22, 0, 0, 0, time.UTC)))
}

func TestChecker_OneMessagePerUserAndChannel(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{
		models.GameGenshin: {notes: resinNotes(0)},
		models.GameStarrail: {notes: &hoyolab.Notes{
			Game:    models.GameStarrail,
			Stamina: hoyolab.Resource{Current: 240, Max: 240},
		}},
	})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameStarrail, ChannelID: "chan", ThresholdResource: hours(1)})

	stats, err := f.checker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalUsers)
	assert.Equal(t, 1, stats.GenshinCount)
	assert.Equal(t, 1, stats.StarrailCount)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Message.Content, "Original Resin already full")
	assert.Contains(t, msgs[0].Message.Content, "Trailblaze Power already full")
}

func TestChecker_NotDueIsSkipped(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{models.GameGenshin: {notes: resinNotes(0)}})
	f.addPref(t, models.NotesPref{
		UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1),
		NextCheckTime: checkNow.Add(time.Hour),
	})

	stats, err := f.checker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalUsers)
	assert.Empty(t, f.client.calls)
	assert.Empty(t, f.notifier.Messages())
}

func TestChecker_TransientDatabaseRetriesInAnHour(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{
		models.GameGenshin: {err: &hoyolab.APIError{Retcode: -1, Kind: hoyolab.KindTransientDatabase}},
	})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})

	_, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.notifier.Messages())
	assert.True(t, f.pref(t, "U", models.GameGenshin).NextCheckTime.Equal(checkNow.Add(time.Hour)))
}

func TestChecker_OtherErrorSendsEmbed(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{
		models.GameGenshin: {err: &hoyolab.APIError{Retcode: -100, Kind: hoyolab.KindInvalidCredential}},
	})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})

	stats, err := f.checker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailureCount)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Message.Embeds, 1)
	assert.Contains(t, msgs[0].Message.Embeds[0].Description, "cookie is invalid")
	assert.True(t, f.pref(t, "U", models.GameGenshin).NextCheckTime.Equal(checkNow.Add(5*time.Hour)))
}

func TestChecker_MaintenanceTripsGate(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{
		models.GameGenshin: {err: &hoyolab.APIError{Retcode: -1, Message: "maintenance", Kind: hoyolab.KindMaintenance}},
	})
	f.addPref(t, models.NotesPref{UserID: "A", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})
	f.addPref(t, models.NotesPref{UserID: "B", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})

	stats, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Hour}, f.gate.pauses)
	assert.Len(t, f.client.calls, 1)
	assert.Empty(t, f.notifier.Messages())
	assert.Equal(t, 1, stats.SkippedCount)
}

func TestChecker_MaintenanceStillSendsCollectedReminders(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{
		models.GameGenshin:  {notes: resinNotes(0)},
		models.GameStarrail: {err: &hoyolab.APIError{Retcode: -1, Message: "maintenance", Kind: hoyolab.KindMaintenance}},
	})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameStarrail, ChannelID: "chan", ThresholdResource: hours(1)})

	_, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Hour}, f.gate.pauses)
	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Message.Content, "Original Resin already full")
	assert.NotContains(t, msgs[0].Message.Content, "Trailblaze Power")

	assert.True(t, f.pref(t, "U", models.GameGenshin).NextCheckTime.Equal(checkNow.Add(6*time.Hour)))
	assert.True(t, f.pref(t, "U", models.GameStarrail).NextCheckTime.Equal(checkNow.Add(time.Hour)))
}

func TestChecker_UnexpectedErrorAlertsAdmins(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{
		models.GameGenshin: {err: errors.New("boom")},
	})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})

	_, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Message.Embeds, 1)
	assert.Equal(t, "An unexpected error occurred.", msgs[0].Message.Embeds[0].Description)

	alerts := f.admin.Messages()
	require.Len(t, alerts, 1)
	assert.Equal(t, "admin", alerts[0].ChannelID)
	assert.Contains(t, alerts[0].Message.Embeds[0].Description, "boom")
}

func TestChecker_UserErrorDoesNotAlertAdmins(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{
		models.GameGenshin: {err: &hoyolab.APIError{Retcode: 10102, Kind: hoyolab.KindDataNotPublic}},
	})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})

	_, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.notifier.Messages(), 1)
	assert.Empty(t, f.admin.Messages())
}

func TestChecker_SendFailureAlertsAdmins(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{models.GameGenshin: {notes: resinNotes(0)}})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "flaky", ThresholdResource: hours(1)})
	f.notifier.Fail["flaky"] = &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"},
	}

	_, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	alerts := f.admin.Messages()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message.Embeds[0].Description, "Discord error: sending notes reminder")

	_, err = f.store.GetNotesPref(context.Background(), "U", models.GameGenshin)
	assert.NoError(t, err)
}

func TestChecker_RefreshesUserActivity(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{models.GameGenshin: {notes: resinNotes(8 * time.Hour)}})
	f.store.SetClock(func() time.Time { return checkNow.Add(-48 * time.Hour) })
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "chan", ThresholdResource: hours(1)})
	f.store.SetClock(func() time.Time { return checkNow })

	_, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	user, err := f.store.GetUser(context.Background(), "U")
	require.NoError(t, err)
	assert.True(t, user.LastUsedTime.Equal(checkNow), user.LastUsedTime)
}

func TestChecker_ChannelGoneDeletesPrefs(t *testing.T) {
	f := setup(t, map[models.Game]notesResult{models.GameGenshin: {notes: resinNotes(0)}})
	f.addPref(t, models.NotesPref{UserID: "U", Game: models.GameGenshin, ChannelID: "gone", ThresholdResource: hours(1)})
	f.notifier.Fail["gone"] = &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound, Status: "404 Not Found"},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel, Message: "Unknown Channel"},
	}

	_, err := f.checker.Run(context.Background())
	require.NoError(t, err)

	_, err = f.store.GetNotesPref(context.Background(), "U", models.GameGenshin)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
