package models

import (
	"errors"
	"fmt"
	"time"
)

type Game string

const (
	GameGenshin  Game = "genshin"  // Genshin Impact
	GameStarrail Game = "starrail" // Honkai: Star Rail
)

// Games lists every supported game in a stable order.
var Games = []Game{GameGenshin, GameStarrail}

func (g Game) DisplayName() string {
	switch g {
	case GameGenshin:
		return "Genshin Impact"
	case GameStarrail:
		return "Honkai: Star Rail"
	default:
		return string(g)
	}
}

func (g Game) Valid() bool {
	return g == GameGenshin || g == GameStarrail
}

type User struct {
	UserID         string         `gorm:"primaryKey;size:32"` // The Discord ID of the user.
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedTime   time.Time      `gorm:"index"` // Last time the user interacted with the bot.
	CookieDefault  CompressedText // Cookie used for every game without an override.
	CookieGenshin  CompressedText // Optional Genshin Impact override.
	CookieStarrail CompressedText // Optional Honkai: Star Rail override.
	UIDGenshin     int            `gorm:"default:0"`
	UIDStarrail    int            `gorm:"default:0"`
}

// Cookie returns the credential to use for game, falling back to the default.
func (u *User) Cookie(game Game) string {
	switch game {
	case GameGenshin:
		if u.CookieGenshin != "" {
			return string(u.CookieGenshin)
		}
	case GameStarrail:
		if u.CookieStarrail != "" {
			return string(u.CookieStarrail)
		}
	}
	return string(u.CookieDefault)
}

func (u *User) UID(game Game) int {
	switch game {
	case GameGenshin:
		return u.UIDGenshin
	case GameStarrail:
		return u.UIDStarrail
	}
	return 0
}

type DailyCheckinPref struct {
	UserID          string    `gorm:"primaryKey;size:32"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ChannelID       string    `gorm:"size:32"` // Channel the result message is sent to.
	IsMention       bool      `gorm:"default:false"`
	NextCheckinTime time.Time `gorm:"index"` // Always carries the user's chosen time of day.
	HasGenshin      bool      `gorm:"default:false"`
	HasStarrail     bool      `gorm:"default:false"`
	Paused          bool      `gorm:"default:false;index"` // Set on invalid credentials until the user fixes them.
	PauseReason     string
}

// Games returns the games the user opted in to.
func (p *DailyCheckinPref) Games() []Game {
	var games []Game
	if p.HasGenshin {
		games = append(games, GameGenshin)
	}
	if p.HasStarrail {
		games = append(games, GameStarrail)
	}
	return games
}

const (
	MaxResourceThreshold    = 8
	MaxCurrencyThreshold    = 8
	MaxTransformerThreshold = 5
	MaxExpeditionThreshold  = 5
)

var ErrNoThreshold = errors.New("at least one reminder must be set")

// NotesPref holds the reminder thresholds of one user for one game.
// Thresholds are in hours before the resource is full or the task completes.
type NotesPref struct {
	UserID               string     `gorm:"primaryKey;size:32"`
	Game                 Game       `gorm:"primaryKey;size:16"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ChannelID            string     `gorm:"size:32"`
	NextCheckTime        time.Time  `gorm:"index"`
	ThresholdResource    *int       // Original resin or trailblaze power.
	ThresholdCurrency    *int       // Realm currency, Genshin Impact only.
	ThresholdTransformer *int       // Parametric transformer, Genshin Impact only.
	ThresholdExpedition  *int       // Longest running expedition.
	DailyTaskCheckTime   *time.Time // Commissions or daily training; rolls forward a day after firing.
	WeeklyTaskCheckTime  *time.Time // Weekly bosses or echo of war; rolls forward a week after firing.
}

func (p *NotesPref) Validate() error {
	if !p.Game.Valid() {
		return fmt.Errorf("unsupported game %q", p.Game)
	}
	if p.ThresholdResource == nil && p.ThresholdCurrency == nil && p.ThresholdTransformer == nil &&
		p.ThresholdExpedition == nil && p.DailyTaskCheckTime == nil && p.WeeklyTaskCheckTime == nil {
		return ErrNoThreshold
	}

	if p.Game == GameStarrail && (p.ThresholdCurrency != nil || p.ThresholdTransformer != nil) {
		return fmt.Errorf("realm currency and transformer reminders are only available for %s", GameGenshin.DisplayName())
	}

	checks := []struct {
		name  string
		value *int
		max   int
	}{
		{"resource", p.ThresholdResource, MaxResourceThreshold},
		{"currency", p.ThresholdCurrency, MaxCurrencyThreshold},
		{"transformer", p.ThresholdTransformer, MaxTransformerThreshold},
		{"expedition", p.ThresholdExpedition, MaxExpeditionThreshold},
	}
	for _, c := range checks {
		if c.value != nil && (*c.value < 0 || *c.value > c.max) {
			return fmt.Errorf("%s threshold must be between 0 and %d hours", c.name, c.max)
		}
	}
	return nil
}

// NotesCache keeps the last raw notes payload for rendering.
type NotesCache struct {
	UserID    string          `gorm:"primaryKey;size:32"`
	Game      Game            `gorm:"primaryKey;size:16"`
	Payload   CompressedBytes
	FetchedAt time.Time
}

// GeetestChallenge is a captcha the vendor asked the user to solve.
type GeetestChallenge struct {
	UserID    string `gorm:"primaryKey;size:32"`
	CreatedAt time.Time
	UpdatedAt time.Time
	GT        string
	Challenge string
	Validate  string // Filled in once the user solved it.
	Seccode   string
}

func (g *GeetestChallenge) Solved() bool {
	return g.Validate != ""
}
