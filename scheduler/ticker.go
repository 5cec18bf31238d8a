package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/checkin"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/notes"
)

// Task is one scheduled cycle. Run must refuse to overlap with itself.
type Task interface {
	Run(ctx context.Context) (*models.CycleStats, error)
}

// Housekeeper is the daily database upkeep.
type Housekeeper interface {
	Backup(ctx context.Context, now time.Time) (string, error)
	PruneInactiveUsers(ctx context.Context, cutoff time.Time) (int, error)
}

// Publisher reaches the admin channels.
type Publisher interface {
	Publish(ctx context.Context, msg *discordgo.MessageSend)
	NotifyAdminWithCooldown(ctx context.Context, message string)
}

type Window interface {
	Contains(t time.Time) bool
}

type Config struct {
	Tick            time.Duration
	DailyInterval   time.Duration
	NotesInterval   time.Duration
	BackupHour      int
	ExpiredUserDays int
	Window          Window
}

// Ticker starts the daily reward and notes cycles on their intervals and
// runs the daily database upkeep.
type Ticker struct {
	daily     Task
	notes     Task
	house     Housekeeper
	gate      *Gate
	publisher Publisher
	cfg       Config
	log       logrus.FieldLogger
	now       func() time.Time

	lastDaily time.Time
	lastNotes time.Time
	lastHouse string

	tasks sync.WaitGroup
}

func NewTicker(daily, notes Task, house Housekeeper, gate *Gate, publisher Publisher, cfg Config, log logrus.FieldLogger) *Ticker {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	return &Ticker{
		daily:     daily,
		notes:     notes,
		house:     house,
		gate:      gate,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (t *Ticker) SetClock(now func() time.Time) { t.now = now }

// Run ticks until ctx is done, then waits for running tasks to finish their
// current job.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Tick)
	defer ticker.Stop()

	t.log.Info("Scheduler started")
	t.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			t.log.Info("Scheduler stopping, waiting for running tasks")
			t.tasks.Wait()
			t.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Ticker) tick(ctx context.Context) {
	now := t.now()

	if t.cfg.Window != nil && t.cfg.Window.Contains(now) {
		t.log.Debug("Inside maintenance window, skipping tick")
		return
	}
	if t.gate != nil && t.gate.Paused(now) {
		t.log.Debugf("Vendor maintenance, paused until %s", t.gate.Until().Format(time.RFC3339))
		return
	}

	if t.daily != nil && now.Sub(t.lastDaily) >= t.cfg.DailyInterval {
		t.lastDaily = now
		t.launch(ctx, checkin.TaskName, t.daily)
	}
	if t.notes != nil && now.Sub(t.lastNotes) >= t.cfg.NotesInterval {
		t.lastNotes = now
		t.launch(ctx, notes.TaskName, t.notes)
	}

	local := now.Local()
	day := local.Format("2006-01-02")
	if t.house != nil && local.Hour() == t.cfg.BackupHour && day != t.lastHouse {
		t.lastHouse = day
		t.tasks.Add(1)
		go func() {
			defer t.tasks.Done()
			t.housekeeping(ctx, now)
		}()
	}
}

func (t *Ticker) launch(ctx context.Context, name string, task Task) {
	t.tasks.Add(1)
	go func() {
		defer t.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				t.log.Errorf("Recovered from panic in %s: %v", name, r)
			}
		}()

		stats, err := task.Run(ctx)
		if errors.Is(err, checkin.ErrAlreadyRunning) || errors.Is(err, notes.ErrAlreadyRunning) {
			t.log.WithField("task", name).Debug("Previous cycle still running, skipping")
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			t.log.WithError(err).WithField("task", name).Error("Scheduled task failed")
			if t.publisher != nil {
				t.publisher.NotifyAdminWithCooldown(context.WithoutCancel(ctx), fmt.Sprintf("Scheduled %s failed: %v", name, err))
			}
			return
		}
		if stats != nil && stats.TotalUsers > 0 && t.publisher != nil {
			t.publisher.Publish(context.WithoutCancel(ctx), summaryMessage(stats))
		}
	}()
}

func (t *Ticker) housekeeping(ctx context.Context, now time.Time) {
	log := t.log.WithField("task", "housekeeping")

	path, err := t.house.Backup(ctx, now)
	if err != nil {
		log.WithError(err).Warn("Database backup skipped")
	} else {
		log.WithField("path", path).Info("Database backup written")
	}

	if t.cfg.ExpiredUserDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -t.cfg.ExpiredUserDays)
	removed, err := t.house.PruneInactiveUsers(ctx, cutoff)
	if err != nil {
		log.WithError(err).Error("Failed to prune inactive users")
		return
	}
	log.Infof("Removed %d users inactive since %s", removed, cutoff.Format("2006-01-02"))
}

func summaryMessage(stats *models.CycleStats) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Scheduled " + stats.Task + " finished",
			Description: "```\n" + stats.String() + "\n```",
			Color:       0x00ff00,
			Timestamp:   stats.StartedAt.UTC().Format(time.RFC3339),
		}},
	}
}
