package checkin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/patrickmn/go-cache"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/database"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/errorhandler"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/hoyolab"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/notifier"
)

const TaskName = "daily_reward"

// Store is the persistence the daily reward cycle needs.
type Store interface {
	ListDueCheckins(ctx context.Context, now time.Time) ([]database.DueCheckin, error)
	AdvanceCheckin(ctx context.Context, userID string, from time.Time) (bool, error)
	TouchUser(ctx context.Context, userID string) error
	PauseCheckin(ctx context.Context, userID, reason string) error
	DeleteDailyPref(ctx context.Context, userID string) error
	GetGeetestChallenge(ctx context.Context, userID string) (*models.GeetestChallenge, error)
	PutGeetestChallenge(ctx context.Context, challenge *models.GeetestChallenge) error
	DeleteGeetestChallenge(ctx context.Context, userID string) error
	SaveCycleStatistics(ctx context.Context, stats *models.CycleStatistics) error
}

// Gate is tripped when the vendor reports maintenance.
type Gate interface {
	Pause(d time.Duration)
}

// Reporter receives failures an admin has to look at.
type Reporter interface {
	NotifyAdminWithCooldown(ctx context.Context, message string)
}

type Config struct {
	QueueSize        int
	InterUserDelay   time.Duration
	RemoteMaxErrors  int
	JobTimeout       time.Duration
	MaintenancePause time.Duration
	CaptchaSolverURL string
}

// DailyReward runs one claim cycle over every due user. Runs never overlap.
type DailyReward struct {
	store    Store
	local    Worker
	remotes  []*RemoteWorker
	notifier notifier.Notifier
	gate     Gate
	reporter Reporter
	cfg      Config
	log      logrus.FieldLogger

	running     sync.Mutex
	captchaSent *cache.Cache
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewDailyReward(store Store, local Worker, remotes []*RemoteWorker, n notifier.Notifier, gate Gate, reporter Reporter, cfg Config, log logrus.FieldLogger) *DailyReward {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 3 * time.Minute
	}
	if cfg.MaintenancePause <= 0 {
		cfg.MaintenancePause = time.Hour
	}
	if cfg.RemoteMaxErrors <= 0 {
		cfg.RemoteMaxErrors = 20
	}
	return &DailyReward{
		store:       store,
		local:       local,
		remotes:     remotes,
		notifier:    n,
		gate:        gate,
		reporter:    reporter,
		cfg:         cfg,
		log:         log,
		captchaSent: cache.New(24*time.Hour, time.Hour),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// SetClock replaces the time source, for tests.
func (d *DailyReward) SetClock(now func() time.Time) { d.now = now }

// SetSleep replaces the inter-user delay, for tests.
func (d *DailyReward) SetSleep(sleep func(ctx context.Context, d time.Duration) error) { d.sleep = sleep }

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

type cycle struct {
	id          string
	log         logrus.FieldLogger
	queue       *Queue
	maintenance atomic.Bool

	mu    sync.Mutex
	stats models.CycleStats
}

// completed counts a finished job. Only games that were actually claimed go
// into the per-game counts.
func (c *cycle) completed(worker string, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if outcome.Maintenance {
		c.stats.SkippedCount++
		return
	}
	c.stats.PerWorker[worker]++
	if outcome.Pause || outcome.Failed {
		c.stats.FailureCount++
	}
	for _, g := range outcome.Claimed {
		switch g {
		case models.GameGenshin:
			c.stats.GenshinCount++
		case models.GameStarrail:
			c.stats.StarrailCount++
		}
	}
}

func (c *cycle) failed() {
	c.mu.Lock()
	c.stats.FailureCount++
	c.mu.Unlock()
}

func (c *cycle) skipped() {
	c.mu.Lock()
	c.stats.SkippedCount++
	c.mu.Unlock()
}

// Run claims the reward of every due user once and returns the cycle
// summary. It returns ErrAlreadyRunning when a cycle is in progress.
func (d *DailyReward) Run(ctx context.Context) (*models.CycleStats, error) {
	if !d.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer d.running.Unlock()

	start := d.now()
	c := &cycle{id: xid.New().String()}
	c.log = d.log.WithField("cycle", c.id).WithField("task", TaskName)
	c.stats = models.CycleStats{CycleID: c.id, Task: TaskName, StartedAt: start, PerWorker: make(map[string]int)}

	due, err := d.store.ListDueCheckins(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to list due check-ins: %w", err)
	}
	c.stats.TotalUsers = len(due)
	if len(due) == 0 {
		return &c.stats, nil
	}
	c.log.Infof("Starting daily reward cycle for %d users", len(due))

	c.queue = NewQueue(d.cfg.QueueSize)
	defer c.queue.Close()

	workerCtx, cancel := context.WithCancel(ctx)
	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		d.consume(workerCtx, c, d.local, 0)
	}()

	for _, remote := range d.remotes {
		remote := remote
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := remote.Healthy(workerCtx); err != nil {
				c.log.WithError(err).Warnf("Remote worker %s is unavailable, skipping", remote.Name())
				return
			}
			d.consume(workerCtx, c, remote, d.cfg.RemoteMaxErrors)
		}()
	}

	var runErr error
	for _, item := range due {
		if err := c.queue.Put(ctx, jobFromDue(item)); err != nil {
			runErr = err
			break
		}
	}
	if runErr == nil {
		runErr = c.queue.Join(ctx)
	}

	cancel()
	workers.Wait()

	c.stats.Duration = d.now().Sub(start)
	if runErr != nil {
		return &c.stats, runErr
	}

	if err := d.store.SaveCycleStatistics(context.WithoutCancel(ctx), c.stats.Record()); err != nil {
		c.log.WithError(err).Error("Failed to save cycle statistics")
	}
	c.log.Info(c.stats.String())
	return &c.stats, nil
}

// consume runs jobs until the queue is drained and the cycle ends. A worker
// with maxErrors > 0 gives up once it has failed more than maxErrors
// hand-offs in this cycle.
func (d *DailyReward) consume(ctx context.Context, c *cycle, w Worker, maxErrors int) {
	log := c.log.WithField("worker", w.Name())
	errorCount := 0

	for {
		job, ok := c.queue.Get(ctx)
		if !ok {
			return
		}

		if c.maintenance.Load() {
			c.skipped()
			c.queue.Done()
			continue
		}

		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.JobTimeout)
		d.attachGeetest(jobCtx, &job, log)

		outcome, err := w.Execute(jobCtx, job)
		if err != nil {
			cancel()
			errorCount++
			log.WithError(err).WithField("user", job.UserID).Warn("Worker failed to run job, requeueing")
			c.queue.Requeue(job)
			if maxErrors > 0 && errorCount > maxErrors {
				log.Errorf("Worker exceeded %d errors, stopping", maxErrors)
				return
			}
			continue
		}

		if err := d.finish(jobCtx, c, job, outcome, log); err != nil {
			cancel()
			job.Attempts++
			if job.Attempts < maxJobAttempts {
				log.WithError(err).WithField("user", job.UserID).Warnf("Failed to record check-in, retrying (%d/%d)", job.Attempts, maxJobAttempts)
				c.queue.Requeue(job)
			} else {
				log.WithError(err).WithField("user", job.UserID).Error("Failed to record check-in, dropping job")
				d.alert(ctx, errorhandler.NewDatabaseError(err, "recording daily check-in"))
				c.failed()
				c.queue.Done()
			}
			continue
		}
		cancel()

		c.completed(w.Name(), outcome)
		c.queue.Done()

		if err := d.sleep(ctx, d.cfg.InterUserDelay); err != nil {
			return
		}
	}
}

func (d *DailyReward) attachGeetest(ctx context.Context, job *Job, log logrus.FieldLogger) {
	if job.Geetest != nil {
		return
	}
	challenge, err := d.store.GetGeetestChallenge(ctx, job.UserID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.WithError(err).Warn("Failed to load captcha challenge")
		}
		return
	}
	if challenge.Solved() {
		job.Geetest = &hoyolab.GeetestResult{
			Challenge: challenge.Challenge,
			Validate:  challenge.Validate,
			Seccode:   challenge.Seccode,
		}
	}
}

// finish commits the outcome: the schedule first, then the message. An error
// means nothing user-visible happened yet and the job can be retried.
func (d *DailyReward) finish(ctx context.Context, c *cycle, job Job, outcome Outcome, log logrus.FieldLogger) error {
	if outcome.Maintenance {
		if !c.maintenance.Swap(true) {
			log.Warn("Vendor maintenance detected, pausing scheduled tasks")
			if d.gate != nil {
				d.gate.Pause(d.cfg.MaintenancePause)
			}
		}
		return nil
	}

	if outcome.Pause {
		if err := d.store.PauseCheckin(ctx, job.UserID, outcome.PauseReason); err != nil {
			return fmt.Errorf("failed to pause check-in: %w", err)
		}
	} else {
		advanced, err := d.store.AdvanceCheckin(ctx, job.UserID, job.From)
		if errors.Is(err, database.ErrNotFound) {
			log.WithField("user", job.UserID).Info("Daily check-in was removed during the cycle")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to advance check-in: %w", err)
		}
		if !advanced {
			log.WithField("user", job.UserID).Debug("Check-in already advanced, not sending again")
			return nil
		}
		if err := d.store.TouchUser(ctx, job.UserID); err != nil {
			log.WithError(err).Warn("Failed to refresh user activity")
		}
	}

	if outcome.Captcha != nil {
		err := d.store.PutGeetestChallenge(ctx, &models.GeetestChallenge{
			UserID:    job.UserID,
			GT:        outcome.Captcha.GT,
			Challenge: outcome.Captcha.Challenge,
		})
		if err != nil {
			log.WithError(err).Error("Failed to save captcha challenge")
		}
	} else if job.Geetest != nil {
		if err := d.store.DeleteGeetestChallenge(ctx, job.UserID); err != nil {
			log.WithError(err).Warn("Failed to clear used captcha challenge")
		}
	}

	if outcome.Message == "" {
		return nil
	}

	if err := d.notifier.Send(ctx, job.ChannelID, d.buildMessage(job, outcome)); err != nil {
		if notifier.IsPermanent(err) {
			log.WithError(err).WithField("user", job.UserID).Warn("Channel is gone, removing daily check-in")
			if err := d.store.DeleteDailyPref(ctx, job.UserID); err != nil {
				log.WithError(err).Error("Failed to remove daily check-in")
			}
			return nil
		}
		log.WithError(err).WithField("user", job.UserID).Error("Failed to send daily reward message")
		d.alert(ctx, errorhandler.NewDiscordError(err, "sending daily reward message"))
	}
	return nil
}

func (d *DailyReward) alert(ctx context.Context, err *errorhandler.CustomError) {
	if d.reporter != nil {
		d.reporter.NotifyAdminWithCooldown(ctx, err.AdminMessage)
	}
}

func (d *DailyReward) buildMessage(job Job, outcome Outcome) *discordgo.MessageSend {
	content := fmt.Sprintf("[auto] <@%s>: %s", job.UserID, outcome.Message)

	if outcome.Captcha != nil && d.cfg.CaptchaSolverURL != "" {
		key := job.UserID + "/" + outcome.Captcha.Challenge
		if _, sent := d.captchaSent.Get(key); !sent {
			d.captchaSent.Set(key, true, cache.DefaultExpiration)
			content += "\n" + captchaLink(d.cfg.CaptchaSolverURL, job.UserID, outcome.Captcha)
		}
	}

	mentions := &discordgo.MessageAllowedMentions{}
	if job.IsMention {
		mentions.Users = []string{job.UserID}
	}
	return &discordgo.MessageSend{Content: content, AllowedMentions: mentions}
}

func captchaLink(base, userID string, captcha *hoyolab.CaptchaError) string {
	q := url.Values{"user_id": {userID}, "gt": {captcha.GT}, "challenge": {captcha.Challenge}}
	return base + "?" + q.Encode()
}
