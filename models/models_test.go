package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestCompressedText_RoundTrip(t *testing.T) {
	cookie := CompressedText("ltuid_v2=123; ltoken_v2=v2_abc")

	stored, err := cookie.Value()
	require.NoError(t, err)
	assert.NotEqual(t, []byte(cookie), stored)

	var loaded CompressedText
	require.NoError(t, loaded.Scan(stored))
	assert.Equal(t, cookie, loaded)
}

func TestCompressedText_EmptyIsNull(t *testing.T) {
	stored, err := CompressedText("").Value()
	require.NoError(t, err)
	assert.Nil(t, stored)

	var loaded CompressedText = "stale"
	require.NoError(t, loaded.Scan(nil))
	assert.Equal(t, CompressedText(""), loaded)
}

func TestCompressedBytes_RejectsGarbage(t *testing.T) {
	var loaded CompressedBytes
	assert.Error(t, loaded.Scan([]byte("not zlib")))
	assert.Error(t, loaded.Scan(42))
}

func TestUser_CookieFallsBackToDefault(t *testing.T) {
	u := &User{CookieDefault: "default", CookieStarrail: "hsr", UIDGenshin: 8, UIDStarrail: 7}

	assert.Equal(t, "default", u.Cookie(GameGenshin))
	assert.Equal(t, "hsr", u.Cookie(GameStarrail))
	assert.Equal(t, 8, u.UID(GameGenshin))
	assert.Equal(t, 7, u.UID(GameStarrail))
}

func TestDailyCheckinPref_Games(t *testing.T) {
	assert.Equal(t, []Game{GameGenshin, GameStarrail}, (&DailyCheckinPref{HasGenshin: true, HasStarrail: true}).Games())
	assert.Empty(t, (&DailyCheckinPref{}).Games())
}

func TestNotesPref_Validate(t *testing.T) {
	check := time.Date(2025, 1, 10, 22, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		pref    NotesPref
		wantErr bool
	}{
		{"resource only", NotesPref{Game: GameGenshin, ThresholdResource: intPtr(2)}, false},
		{"daily task only", NotesPref{Game: GameStarrail, DailyTaskCheckTime: &check}, false},
		{"nothing set", NotesPref{Game: GameGenshin}, true},
		{"unknown game", NotesPref{Game: "zzz", ThresholdResource: intPtr(1)}, true},
		{"resource too high", NotesPref{Game: GameGenshin, ThresholdResource: intPtr(MaxResourceThreshold + 1)}, true},
		{"negative", NotesPref{Game: GameGenshin, ThresholdExpedition: intPtr(-1)}, true},
		{"currency on star rail", NotesPref{Game: GameStarrail, ThresholdCurrency: intPtr(1)}, true},
		{"transformer limit", NotesPref{Game: GameGenshin, ThresholdTransformer: intPtr(MaxTransformerThreshold)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pref.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.ErrorIs(t, (&NotesPref{Game: GameGenshin}).Validate(), ErrNoThreshold)
}

func TestCycleStats_String(t *testing.T) {
	s := &CycleStats{
		Task:          "daily_reward",
		Duration:      10 * time.Second,
		TotalUsers:    4,
		GenshinCount:  3,
		StarrailCount: 2,
		PerWorker:     map[string]int{"local": 3, "http://w1": 1},
	}

	assert.InDelta(t, 2.5, s.AvgSecondsPerUser(), 0.001)
	text := s.String()
	assert.Contains(t, text, "4 users")
	assert.Contains(t, text, "\nhttp://w1: 1\nlocal: 3")

	row := s.Record()
	assert.Equal(t, 10.0, row.DurationSeconds)
	assert.Equal(t, 2.5, row.AvgSecondsPerUser)
}
