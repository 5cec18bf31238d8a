package notes

import (
	"fmt"
	"time"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/hoyolab"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
)

const (
	// MinNotifyInterval is the shortest gap after a reminder was sent.
	MinNotifyInterval = 60 * time.Minute
	fullRecheck       = 6 * time.Hour
	idleRecheck       = 24 * time.Hour
	transientRecheck  = time.Hour
	errorRecheck      = 5 * time.Hour
)

// Evaluation is the result of checking one preference against fresh notes.
type Evaluation struct {
	Lines []string
	Next  time.Time
}

type capacity struct {
	threshold *int
	resource  *hoyolab.Resource
	almost    string
	full      string
}

// Evaluate compares notes against pref's thresholds at now. It rolls the
// task check times that fired forward on pref and returns the reminders and
// the next check time.
func Evaluate(pref *models.NotesPref, n *hoyolab.Notes, now time.Time) Evaluation {
	var ev Evaluation
	next := now.Add(idleRecheck)
	candidate := func(t time.Time) {
		if t.Before(next) {
			next = t
		}
	}

	for _, c := range capacities(pref, n) {
		if c.threshold == nil || c.resource == nil {
			continue
		}
		h := time.Duration(*c.threshold) * time.Hour
		remaining := c.resource.Recovery

		switch {
		case remaining <= 0:
			ev.Lines = append(ev.Lines, c.full)
			candidate(now.Add(fullRecheck))
		case remaining <= h:
			ev.Lines = append(ev.Lines, fmt.Sprintf("%s (%s left)", c.almost, formatDuration(remaining)))
			candidate(now.Add(remaining - h))
		default:
			candidate(now.Add(remaining - h))
		}
	}

	if pref.DailyTaskCheckTime != nil {
		t := *pref.DailyTaskCheckTime
		if !now.Before(t) {
			if !n.DailyTaskDone {
				ev.Lines = append(ev.Lines, dailyTaskLine(n))
			}
			t = rollForward(t, now, 24*time.Hour)
			pref.DailyTaskCheckTime = &t
		}
		candidate(t)
	}

	if pref.WeeklyTaskCheckTime != nil {
		t := *pref.WeeklyTaskCheckTime
		if !now.Before(t) {
			if n.WeeklyRemaining > 0 {
				ev.Lines = append(ev.Lines, weeklyTaskLine(n))
			}
			t = rollForward(t, now, 7*24*time.Hour)
			pref.WeeklyTaskCheckTime = &t
		}
		candidate(t)
	}

	if len(ev.Lines) > 0 && next.Before(now.Add(MinNotifyInterval)) {
		next = now.Add(MinNotifyInterval)
	}
	if !next.After(now) {
		next = now.Add(MinNotifyInterval)
	}
	ev.Next = next
	return ev
}

func capacities(pref *models.NotesPref, n *hoyolab.Notes) []capacity {
	stamina := "Original Resin"
	if n.Game == models.GameStarrail {
		stamina = "Trailblaze Power"
	}
	caps := []capacity{{
		threshold: pref.ThresholdResource,
		resource:  &n.Stamina,
		almost:    stamina + " almost full",
		full:      stamina + " already full",
	}}

	if n.RealmCurrency != nil && n.RealmCurrency.Max > 0 {
		caps = append(caps, capacity{
			threshold: pref.ThresholdCurrency,
			resource:  n.RealmCurrency,
			almost:    "Realm Currency almost full",
			full:      "Realm Currency already full",
		})
	}
	caps = append(caps, capacity{
		threshold: pref.ThresholdTransformer,
		resource:  n.Transformer,
		almost:    "Parametric Transformer almost ready",
		full:      "Parametric Transformer ready",
	})

	if longest, ok := n.LongestExpedition(); ok {
		caps = append(caps, capacity{
			threshold: pref.ThresholdExpedition,
			resource:  &hoyolab.Resource{Recovery: longest},
			almost:    "Expeditions almost complete",
			full:      "Expeditions complete",
		})
	}
	return caps
}

func dailyTaskLine(n *hoyolab.Notes) string {
	if n.MaxDailyScore > 0 {
		return fmt.Sprintf("Daily task not complete (%d/%d)", n.DailyScore, n.MaxDailyScore)
	}
	return "Daily task not complete"
}

func weeklyTaskLine(n *hoyolab.Notes) string {
	if n.Game == models.GameStarrail {
		return fmt.Sprintf("Echo of War not complete (%d left)", n.WeeklyRemaining)
	}
	return fmt.Sprintf("Weekly bosses not complete (%d discounts left)", n.WeeklyRemaining)
}

// rollForward adds step to t until it is after now. The time of day never
// changes.
func rollForward(t, now time.Time, step time.Duration) time.Time {
	for !t.After(now) {
		t = t.Add(step)
	}
	return t
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
