package configuration

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside [Start, End].
func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return false
	}
	return !t.Before(w.Start) && !t.After(w.End)
}

type Config struct {
	Environment string

	Discord struct {
		Token string
	}

	Database struct {
		Driver       string // sqlite or mysql
		Path         string // sqlite file
		User         string
		Password     string
		Host         string
		Port         string
		Name         string
		Var          string
		MaxIdleConns int
		MaxOpenConns int
	}

	Log struct {
		Dir   string
		Level string
	}

	Intervals struct {
		Tick           time.Duration
		DailyReward    time.Duration
		Notes          time.Duration
		InterUserDelay time.Duration
		BackupHour     int
	}

	Users struct {
		ExpiredUserDays int
	}

	Vendor struct {
		RatePerSec float64
		Burst      int
		Timeout    time.Duration
	}

	Queue struct {
		Size            int
		RemoteMaxErrors int
	}

	Worker struct {
		ListenAddr string
		RateLimit  float64
	}

	MaintenanceWindow *Window
	RemoteWorkerURLs  []string
	AdminChannelIDs   []string
	CaptchaSolverURL  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/bot.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)

	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")

	v.SetDefault("tick_interval_sec", 60)
	v.SetDefault("daily_interval_min", 10)
	v.SetDefault("notes_interval_min", 5)
	v.SetDefault("inter_user_delay_sec", 2.0)
	v.SetDefault("backup_hour", 1)
	v.SetDefault("expired_user_days", 60)

	v.SetDefault("vendor.rate_per_sec", 2.0)
	v.SetDefault("vendor.burst", 2)
	v.SetDefault("vendor.timeout_sec", 30)

	v.SetDefault("queue_size", 100)
	v.SetDefault("remote_max_errors", 20)

	v.SetDefault("worker.listen_addr", ":8081")
	v.SetDefault("worker.rate_limit", 5.0)
}

// Load reads .env, an optional config file and the environment, in that
// order of increasing precedence. Keys map to env vars by upper-casing and
// replacing dots with underscores (database.path -> DATABASE_PATH).
func Load(configPath string, log logrus.FieldLogger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("Failed to load .env file")
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			log.WithField("path", configPath).Info("Config file not found, using defaults and environment")
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	cfg.Environment = v.GetString("environment")
	cfg.Discord.Token = v.GetString("discord_token")

	cfg.Database.Driver = v.GetString("database.driver")
	cfg.Database.Path = v.GetString("database.path")
	cfg.Database.User = v.GetString("database.user")
	cfg.Database.Password = v.GetString("database.password")
	cfg.Database.Host = v.GetString("database.host")
	cfg.Database.Port = v.GetString("database.port")
	cfg.Database.Name = v.GetString("database.name")
	cfg.Database.Var = v.GetString("database.var")
	cfg.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")
	cfg.Database.MaxOpenConns = v.GetInt("database.max_open_conns")

	cfg.Log.Dir = v.GetString("log.dir")
	cfg.Log.Level = v.GetString("log.level")

	cfg.Intervals.Tick = time.Duration(v.GetInt("tick_interval_sec")) * time.Second
	cfg.Intervals.DailyReward = time.Duration(v.GetInt("daily_interval_min")) * time.Minute
	cfg.Intervals.Notes = time.Duration(v.GetInt("notes_interval_min")) * time.Minute
	cfg.Intervals.InterUserDelay = time.Duration(v.GetFloat64("inter_user_delay_sec") * float64(time.Second))
	cfg.Intervals.BackupHour = v.GetInt("backup_hour")
	cfg.Users.ExpiredUserDays = v.GetInt("expired_user_days")

	cfg.Vendor.RatePerSec = v.GetFloat64("vendor.rate_per_sec")
	cfg.Vendor.Burst = v.GetInt("vendor.burst")
	cfg.Vendor.Timeout = time.Duration(v.GetInt("vendor.timeout_sec")) * time.Second

	cfg.Queue.Size = v.GetInt("queue_size")
	cfg.Queue.RemoteMaxErrors = v.GetInt("remote_max_errors")

	cfg.Worker.ListenAddr = v.GetString("worker.listen_addr")
	cfg.Worker.RateLimit = v.GetFloat64("worker.rate_limit")

	cfg.RemoteWorkerURLs = splitList(v.GetStringSlice("remote_worker_urls"))
	cfg.AdminChannelIDs = splitList(v.GetStringSlice("admin_channel_ids"))
	cfg.CaptchaSolverURL = v.GetString("captcha_solver_url")

	window, err := parseWindow(splitList(v.GetStringSlice("maintenance_window")))
	if err != nil {
		return nil, err
	}
	cfg.MaintenanceWindow = window

	return cfg, nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseWindow(values []string) (*Window, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("maintenance_window needs exactly two timestamps, got %d", len(values))
	}

	start, err := time.Parse(time.RFC3339, values[0])
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance_window start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, values[1])
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance_window end: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("maintenance_window end %s is before start %s", values[1], values[0])
	}
	return &Window{Start: start, End: end}, nil
}

// ValidateBot checks the keys needed by the scheduler process.
func (c *Config) ValidateBot() error {
	var missing []string

	if c.Discord.Token == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			missing = append(missing, "DATABASE_PATH")
		}
	case "mysql":
		required := map[string]string{
			"DATABASE_USER": c.Database.User,
			"DATABASE_HOST": c.Database.Host,
			"DATABASE_PORT": c.Database.Port,
			"DATABASE_NAME": c.Database.Name,
		}
		for key, value := range required {
			if value == "" {
				missing = append(missing, key)
			}
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}

	if c.Intervals.DailyReward <= 0 || c.Intervals.Notes <= 0 || c.Intervals.Tick <= 0 {
		return fmt.Errorf("intervals must be positive")
	}

	return nil
}

// LogValues writes the effective scheduling configuration to the log.
func (c *Config) LogValues(log logrus.FieldLogger) {
	log.WithFields(logrus.Fields{
		"daily_interval":       c.Intervals.DailyReward,
		"notes_interval":       c.Intervals.Notes,
		"inter_user_delay":     c.Intervals.InterUserDelay,
		"expired_user_days":    c.Users.ExpiredUserDays,
		"remote_workers":       len(c.RemoteWorkerURLs),
		"admin_channels":       len(c.AdminChannelIDs),
		"database_driver":      c.Database.Driver,
		"maintenance_window":   c.MaintenanceWindow != nil,
		"vendor_rate_per_sec":  c.Vendor.RatePerSec,
		"captcha_solver_known": c.CaptchaSolverURL != "",
	}).Info("Loaded configuration")
}
