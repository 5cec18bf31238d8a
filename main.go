package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/bot"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/checkin"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/configuration"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/database"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/errorhandler"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/hoyolab"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/logger"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/notes"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/notifier"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/scheduler"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/webserver"
)

const (
	adminCooldown  = time.Hour
	remoteTimeout  = 3 * time.Minute
	dbHealthPeriod = 5 * time.Minute
)

func main() {
	mode := flag.String("mode", "bot", "bot runs the scheduler, worker serves remote check-ins")
	configPath := flag.String("config", "config.yaml", "path to the optional config file")
	flag.Parse()

	bootLog := logrus.New()
	cfg, err := configuration.Load(*configPath, bootLog)
	if err != nil {
		bootLog.WithError(err).Fatal("Failed to load configuration")
	}

	log, rotator, err := logger.New(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		bootLog.WithError(err).Fatal("Failed to set up logging")
	}
	defer rotator.Close()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Recovered from panic: %v\n%s", r, debug.Stack())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	switch *mode {
	case "bot":
		err = runBot(ctx, cfg, log)
	case "worker":
		err = runWorker(ctx, cfg, log)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.WithError(err).Error("Bot encountered an error and is shutting down")
		rotator.Close()
		os.Exit(1)
	}
}

func vendorClient(cfg *configuration.Config, log logrus.FieldLogger) *hoyolab.Client {
	return hoyolab.New(hoyolab.Options{
		RatePerSec: cfg.Vendor.RatePerSec,
		Burst:      cfg.Vendor.Burst,
		Timeout:    cfg.Vendor.Timeout,
	}, log.WithField("component", "hoyolab"))
}

func runBot(ctx context.Context, cfg *configuration.Config, log *logrus.Logger) error {
	log.Info("Bot starting...")
	if err := cfg.ValidateBot(); err != nil {
		return err
	}
	cfg.LogValues(log)

	store, err := database.Open(database.Options{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		Name:         cfg.Database.Name,
		Var:          cfg.Database.Var,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, log.WithField("component", "database"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()
	log.Info("Database connection established successfully")
	go store.MonitorHealth(ctx, dbHealthPeriod)

	session, err := bot.Start(cfg.Discord.Token, log.WithField("component", "discord"))
	if err != nil {
		return fmt.Errorf("failed to start Discord bot: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Error("Error closing Discord session")
		}
	}()
	log.Info("Discord bot started successfully")

	discord := notifier.NewDiscord(session)
	reporter := errorhandler.NewReporter(discord, cfg.AdminChannelIDs, adminCooldown, log.WithField("component", "admin"))
	client := vendorClient(cfg, log)
	gate := scheduler.NewGate(nil)

	remotes := make([]*checkin.RemoteWorker, 0, len(cfg.RemoteWorkerURLs))
	for _, u := range cfg.RemoteWorkerURLs {
		remotes = append(remotes, checkin.NewRemoteWorker(u, remoteTimeout))
	}

	daily := checkin.NewDailyReward(store, checkin.NewLocalWorker(client), remotes, discord, gate, reporter, checkin.Config{
		QueueSize:        cfg.Queue.Size,
		InterUserDelay:   cfg.Intervals.InterUserDelay,
		RemoteMaxErrors:  cfg.Queue.RemoteMaxErrors,
		CaptchaSolverURL: cfg.CaptchaSolverURL,
	}, log)
	checker := notes.NewChecker(store, client, discord, gate, reporter, notes.Config{
		InterUserDelay: cfg.Intervals.InterUserDelay,
	}, log)

	sched := scheduler.Config{
		Tick:            cfg.Intervals.Tick,
		DailyInterval:   cfg.Intervals.DailyReward,
		NotesInterval:   cfg.Intervals.Notes,
		BackupHour:      cfg.Intervals.BackupHour,
		ExpiredUserDays: cfg.Users.ExpiredUserDays,
	}
	if cfg.MaintenanceWindow != nil {
		sched.Window = cfg.MaintenanceWindow
	}
	ticker := scheduler.NewTicker(daily, checker, store, gate, reporter, sched, log.WithField("component", "scheduler"))

	log.Info("Bot is running")
	ticker.Run(ctx)
	return nil
}

func runWorker(ctx context.Context, cfg *configuration.Config, log *logrus.Logger) error {
	server := webserver.New(cfg.Worker.ListenAddr, vendorClient(cfg, log), cfg.Worker.RateLimit, log.WithField("component", "worker"))
	server.Start()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down worker: %w", err)
	}
	log.Info("Check-in worker stopped")
	return nil
}
