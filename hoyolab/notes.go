package hoyolab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
)

// Resource is a capacity that refills over time.
type Resource struct {
	Current  int
	Max      int
	Recovery time.Duration // until full; zero when full
}

// Full reports whether nothing more can accumulate.
func (r Resource) Full() bool {
	return r.Recovery <= 0
}

type Expedition struct {
	Remaining time.Duration
	Finished  bool
}

// Notes is the real-time notes payload of either game in one shape.
type Notes struct {
	Game    models.Game
	Stamina Resource // original resin or trailblaze power

	// Genshin Impact only.
	RealmCurrency *Resource
	Transformer   *Resource // nil when the gadget is not obtained

	Expeditions    []Expedition
	MaxExpeditions int

	DailyTaskDone   bool
	DailyScore      int
	MaxDailyScore   int
	WeeklyRemaining int // weekly boss discounts or echo of war runs left

	Raw json.RawMessage
}

// LongestExpedition returns the remaining time of the expedition that
// finishes last. ok is false when no expedition is running.
func (n *Notes) LongestExpedition() (remaining time.Duration, ok bool) {
	for _, e := range n.Expeditions {
		ok = true
		r := e.Remaining
		if e.Finished {
			r = 0
		}
		if r > remaining {
			remaining = r
		}
	}
	return remaining, ok
}

// GetNotes fetches the real-time notes of the account's character in game.
func (c *Client) GetNotes(ctx context.Context, acct Account, game models.Game) (*Notes, error) {
	if !game.Valid() {
		return nil, fmt.Errorf("unsupported game %q", game)
	}
	if acct.UID <= 0 {
		return nil, ErrMissingUID
	}

	var notes *Notes
	err := c.withRetry(ctx, "notes", func() error {
		var err error
		notes, err = c.notesOnce(ctx, acct, game)
		return err
	})
	return notes, err
}

func (c *Client) notesOnce(ctx context.Context, acct Account, game models.Game) (*Notes, error) {
	region := RegionForUID(acct.UID)
	base := c.endpoints.RecordOverseas
	if region == RegionChina {
		base = c.endpoints.RecordChina
	}

	path := "/genshin/api/dailyNote"
	if game == models.GameStarrail {
		path = "/hkrpg/api/note"
	}

	query := url.Values{
		"role_id": {strconv.Itoa(acct.UID)},
		"server":  {ServerForUID(game, acct.UID)},
	}
	data, err := c.do(ctx, request{
		method:  http.MethodGet,
		url:     base + path,
		query:   query,
		headers: generateHeaders(acct.Cookie, region),
		region:  region,
	})
	if err != nil {
		return nil, err
	}

	if game == models.GameStarrail {
		return parseStarrailNotes(data)
	}
	return parseGenshinNotes(data)
}

// flexInt accepts both 123 and "123"; the vendor is not consistent.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(string(b))
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

func seconds(v flexInt) time.Duration {
	return time.Duration(v) * time.Second
}

type genshinNotes struct {
	CurrentResin         int     `json:"current_resin"`
	MaxResin             int     `json:"max_resin"`
	ResinRecoveryTime    flexInt `json:"resin_recovery_time"`
	CurrentHomeCoin      int     `json:"current_home_coin"`
	MaxHomeCoin          int     `json:"max_home_coin"`
	HomeCoinRecoveryTime flexInt `json:"home_coin_recovery_time"`
	FinishedTaskNum      int     `json:"finished_task_num"`
	TotalTaskNum         int     `json:"total_task_num"`
	ExtraTaskReceived    *bool   `json:"is_extra_task_reward_received"`
	DailyTask            *struct {
		FinishedNum       int  `json:"finished_num"`
		TotalNum          int  `json:"total_num"`
		ExtraTaskReceived bool `json:"is_extra_task_reward_received"`
	} `json:"daily_task"`
	RemainResinDiscountNum int `json:"remain_resin_discount_num"`
	Transformer            *struct {
		Obtained     bool `json:"obtained"`
		RecoveryTime struct {
			Day     int  `json:"Day"`
			Hour    int  `json:"Hour"`
			Minute  int  `json:"Minute"`
			Second  int  `json:"Second"`
			Reached bool `json:"reached"`
		} `json:"recovery_time"`
	} `json:"transformer"`
	MaxExpeditionNum int `json:"max_expedition_num"`
	Expeditions      []struct {
		Status       string  `json:"status"`
		RemainedTime flexInt `json:"remained_time"`
	} `json:"expeditions"`
}

func parseGenshinNotes(data json.RawMessage) (*Notes, error) {
	var raw genshinNotes
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode genshin notes: %w", err)
	}

	notes := &Notes{
		Game:            models.GameGenshin,
		Stamina:         Resource{Current: raw.CurrentResin, Max: raw.MaxResin, Recovery: seconds(raw.ResinRecoveryTime)},
		RealmCurrency:   &Resource{Current: raw.CurrentHomeCoin, Max: raw.MaxHomeCoin, Recovery: seconds(raw.HomeCoinRecoveryTime)},
		MaxExpeditions:  raw.MaxExpeditionNum,
		WeeklyRemaining: raw.RemainResinDiscountNum,
		Raw:             data,
	}

	// Older payloads only carry the top-level fields.
	if raw.DailyTask != nil {
		notes.DailyTaskDone = raw.DailyTask.ExtraTaskReceived
		notes.DailyScore = raw.DailyTask.FinishedNum
		notes.MaxDailyScore = raw.DailyTask.TotalNum
	} else {
		notes.DailyTaskDone = raw.ExtraTaskReceived != nil && *raw.ExtraTaskReceived
		notes.DailyScore = raw.FinishedTaskNum
		notes.MaxDailyScore = raw.TotalTaskNum
	}

	if raw.Transformer != nil && raw.Transformer.Obtained {
		rt := raw.Transformer.RecoveryTime
		recovery := time.Duration(rt.Day)*24*time.Hour + time.Duration(rt.Hour)*time.Hour +
			time.Duration(rt.Minute)*time.Minute + time.Duration(rt.Second)*time.Second
		if rt.Reached {
			recovery = 0
		}
		notes.Transformer = &Resource{Current: boolToInt(rt.Reached), Max: 1, Recovery: recovery}
	}

	for _, e := range raw.Expeditions {
		notes.Expeditions = append(notes.Expeditions, Expedition{
			Remaining: seconds(e.RemainedTime),
			Finished:  e.Status == "Finished",
		})
	}
	return notes, nil
}

type starrailNotes struct {
	CurrentStamina     int     `json:"current_stamina"`
	MaxStamina         int     `json:"max_stamina"`
	StaminaRecoverTime flexInt `json:"stamina_recover_time"`
	TotalExpeditionNum int     `json:"total_expedition_num"`
	Expeditions        []struct {
		Status        string  `json:"status"`
		RemainingTime flexInt `json:"remaining_time"`
	} `json:"expeditions"`
	CurrentTrainScore int `json:"current_train_score"`
	MaxTrainScore     int `json:"max_train_score"`
	WeeklyCocoonCnt   int `json:"weekly_cocoon_cnt"`
}

func parseStarrailNotes(data json.RawMessage) (*Notes, error) {
	var raw starrailNotes
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode star rail notes: %w", err)
	}

	notes := &Notes{
		Game:            models.GameStarrail,
		Stamina:         Resource{Current: raw.CurrentStamina, Max: raw.MaxStamina, Recovery: seconds(raw.StaminaRecoverTime)},
		MaxExpeditions:  raw.TotalExpeditionNum,
		DailyTaskDone:   raw.MaxTrainScore > 0 && raw.CurrentTrainScore >= raw.MaxTrainScore,
		DailyScore:      raw.CurrentTrainScore,
		MaxDailyScore:   raw.MaxTrainScore,
		WeeklyRemaining: raw.WeeklyCocoonCnt,
		Raw:             data,
	}
	for _, e := range raw.Expeditions {
		notes.Expeditions = append(notes.Expeditions, Expedition{
			Remaining: seconds(e.RemainingTime),
			Finished:  e.Status == "Finished",
		})
	}
	return notes, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
