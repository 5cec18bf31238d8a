package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/database"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/errorhandler"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/hoyolab"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/notifier"
)

const TaskName = "notes"

var ErrAlreadyRunning = errors.New("notes check is already running")

type Store interface {
	ListDueNotesPrefs(ctx context.Context, game models.Game, now time.Time) ([]database.DueNotes, error)
	SaveNotesPref(ctx context.Context, pref *models.NotesPref) error
	DeleteNotesPref(ctx context.Context, userID string, game models.Game) error
	PutNotesCache(ctx context.Context, userID string, game models.Game, payload []byte, fetchedAt time.Time) error
	TouchUser(ctx context.Context, userID string) error
	SaveCycleStatistics(ctx context.Context, stats *models.CycleStatistics) error
}

type Client interface {
	GetNotes(ctx context.Context, acct hoyolab.Account, game models.Game) (*hoyolab.Notes, error)
}

// Gate is tripped when the vendor reports maintenance.
type Gate interface {
	Pause(d time.Duration)
}

// Reporter turns fetch errors into user text and forwards the ones a user
// cannot fix to the admins.
type Reporter interface {
	HandleError(ctx context.Context, err error) (string, bool)
	NotifyAdminWithCooldown(ctx context.Context, message string)
}

type Config struct {
	InterUserDelay   time.Duration
	MaintenancePause time.Duration
}

// CheckResult is what one preference contributes to the user's message.
type CheckResult struct {
	Game    models.Game
	Message string
	Embed   *discordgo.MessageEmbed
}

// Checker polls real-time notes of every due preference and reminds users
// when a threshold is crossed.
type Checker struct {
	store    Store
	client   Client
	notifier notifier.Notifier
	gate     Gate
	reporter Reporter
	cfg      Config
	log      logrus.FieldLogger

	running sync.Mutex
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewChecker(store Store, client Client, n notifier.Notifier, gate Gate, reporter Reporter, cfg Config, log logrus.FieldLogger) *Checker {
	if cfg.MaintenancePause <= 0 {
		cfg.MaintenancePause = time.Hour
	}
	return &Checker{
		store:    store,
		client:   client,
		notifier: n,
		gate:     gate,
		reporter: reporter,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (c *Checker) SetClock(now func() time.Time) { c.now = now }

func (c *Checker) SetSleep(sleep func(ctx context.Context, d time.Duration) error) { c.sleep = sleep }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// recipient groups the due preferences that end up in one message.
type recipient struct {
	userID    string
	channelID string
	items     []database.DueNotes
}

// Run checks every due preference once and returns the cycle summary.
func (c *Checker) Run(ctx context.Context) (*models.CycleStats, error) {
	if !c.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer c.running.Unlock()

	start := c.now()
	id := xid.New().String()
	log := c.log.WithField("cycle", id).WithField("task", TaskName)
	stats := models.CycleStats{CycleID: id, Task: TaskName, StartedAt: start, PerWorker: make(map[string]int)}

	var recipients []*recipient
	index := make(map[string]*recipient)
	for _, game := range models.Games {
		due, err := c.store.ListDueNotesPrefs(ctx, game, start)
		if err != nil {
			return nil, fmt.Errorf("failed to list due notes: %w", err)
		}
		for _, item := range due {
			key := item.Pref.UserID + "/" + item.Pref.ChannelID
			r, ok := index[key]
			if !ok {
				r = &recipient{userID: item.Pref.UserID, channelID: item.Pref.ChannelID}
				index[key] = r
				recipients = append(recipients, r)
			}
			r.items = append(r.items, item)
		}
	}
	stats.TotalUsers = len(recipients)
	if len(recipients) == 0 {
		return &stats, nil
	}
	log.Infof("Checking real-time notes for %d users", len(recipients))

	for i, r := range recipients {
		if ctx.Err() != nil {
			break
		}
		jobCtx := context.WithoutCancel(ctx)
		maintenance := c.checkRecipient(jobCtx, r, &stats, log)
		if maintenance {
			log.Warn("Vendor maintenance detected, pausing scheduled tasks")
			if c.gate != nil {
				c.gate.Pause(c.cfg.MaintenancePause)
			}
			stats.SkippedCount += len(recipients) - i - 1
			break
		}
		if i < len(recipients)-1 {
			if err := c.sleep(ctx, c.cfg.InterUserDelay); err != nil {
				break
			}
		}
	}

	stats.Duration = c.now().Sub(start)
	if err := c.store.SaveCycleStatistics(context.WithoutCancel(ctx), stats.Record()); err != nil {
		log.WithError(err).Error("Failed to save cycle statistics")
	}
	log.Info(stats.String())
	return &stats, ctx.Err()
}

// checkRecipient evaluates and reschedules every preference of r and sends
// the combined message. It reports whether the vendor is in maintenance, in
// which case the preferences after the failing one stay due.
func (c *Checker) checkRecipient(ctx context.Context, r *recipient, stats *models.CycleStats, log logrus.FieldLogger) bool {
	log = log.WithField("user", r.userID)
	var (
		results     []CheckResult
		maintenance bool
	)

	for _, item := range r.items {
		pref := item.Pref
		now := c.now()
		result, down := c.check(ctx, &pref, &item.User, now, log)
		if down {
			maintenance = true
			break
		}
		if err := c.store.SaveNotesPref(ctx, &pref); err != nil {
			log.WithError(err).Error("Failed to save notes schedule")
			c.alert(ctx, errorhandler.NewDatabaseError(err, "saving notes schedule"))
			stats.FailureCount++
			continue
		}

		switch pref.Game {
		case models.GameGenshin:
			stats.GenshinCount++
		case models.GameStarrail:
			stats.StarrailCount++
		}
		stats.PerWorker["local"]++
		if result.Embed != nil {
			stats.FailureCount++
		}
		if result.Message != "" || result.Embed != nil {
			results = append(results, result)
		}
	}

	if len(results) > 0 {
		c.send(ctx, r, results, log)
	}
	return maintenance
}

func (c *Checker) send(ctx context.Context, r *recipient, results []CheckResult, log logrus.FieldLogger) {
	err := c.notifier.Send(ctx, r.channelID, buildMessage(r.userID, results))
	if err == nil {
		return
	}
	if notifier.IsPermanent(err) {
		log.WithError(err).Warn("Channel is gone, removing notes reminders")
		for _, item := range r.items {
			if err := c.store.DeleteNotesPref(ctx, item.Pref.UserID, item.Pref.Game); err != nil {
				log.WithError(err).Error("Failed to remove notes reminder")
			}
		}
		return
	}
	log.WithError(err).Error("Failed to send notes reminder")
	c.alert(ctx, errorhandler.NewDiscordError(err, "sending notes reminder"))
}

func (c *Checker) alert(ctx context.Context, err *errorhandler.CustomError) {
	if c.reporter != nil {
		c.reporter.NotifyAdminWithCooldown(ctx, err.AdminMessage)
	}
}

// check fetches the notes of one preference and sets its next check time.
func (c *Checker) check(ctx context.Context, pref *models.NotesPref, user *models.User, now time.Time, log logrus.FieldLogger) (CheckResult, bool) {
	result := CheckResult{Game: pref.Game}
	acct := hoyolab.Account{Cookie: user.Cookie(pref.Game), UID: user.UID(pref.Game)}

	n, err := c.client.GetNotes(ctx, acct, pref.Game)
	if err != nil {
		switch hoyolab.KindOf(err) {
		case hoyolab.KindMaintenance:
			pref.NextCheckTime = now.Add(transientRecheck)
			if err := c.store.SaveNotesPref(ctx, pref); err != nil {
				log.WithError(err).Error("Failed to save notes schedule")
			}
			return result, true
		case hoyolab.KindTransientDatabase:
			log.WithError(err).Debug("Vendor database busy, checking again in an hour")
			pref.NextCheckTime = now.Add(transientRecheck)
			return result, false
		}
		pref.NextCheckTime = now.Add(errorRecheck)
		result.Embed = &discordgo.MessageEmbed{
			Title:       pref.Game.DisplayName() + " real-time notes check failed",
			Description: c.describe(ctx, pref.Game, err, log),
			Color:       0xff0000,
			Timestamp:   now.UTC().Format(time.RFC3339),
		}
		return result, false
	}

	if err := c.store.TouchUser(ctx, pref.UserID); err != nil {
		log.WithError(err).Warn("Failed to refresh user activity")
	}
	if len(n.Raw) > 0 {
		if err := c.store.PutNotesCache(ctx, pref.UserID, pref.Game, n.Raw, now); err != nil {
			log.WithError(err).Warn("Failed to cache notes")
		}
	}

	ev := Evaluate(pref, n, now)
	pref.NextCheckTime = ev.Next
	if len(ev.Lines) > 0 {
		result.Message = fmt.Sprintf("**%s**\n- %s", pref.Game.DisplayName(), strings.Join(ev.Lines, "\n- "))
	}
	return result, false
}

func (c *Checker) describe(ctx context.Context, game models.Game, err error, log logrus.FieldLogger) string {
	if c.reporter == nil {
		log.WithError(err).Warnf("Failed to fetch %s notes", game)
		return errorhandler.UserMessage(err)
	}
	msg, _ := c.reporter.HandleError(ctx, err)
	return msg
}

func buildMessage(userID string, results []CheckResult) *discordgo.MessageSend {
	var lines []string
	var embeds []*discordgo.MessageEmbed
	for _, r := range results {
		if r.Message != "" {
			lines = append(lines, r.Message)
		}
		if r.Embed != nil {
			embeds = append(embeds, r.Embed)
		}
	}
	content := fmt.Sprintf("<@%s>", userID)
	if len(lines) > 0 {
		content += " Real-time notes reminder\n" + strings.Join(lines, "\n")
	}
	return &discordgo.MessageSend{
		Content:         content,
		Embeds:          embeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{userID}},
	}
}
