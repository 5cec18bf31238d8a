package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Rotator writes to stdout and to a per-day file under dir, switching files
// when the calendar day changes.
type Rotator struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	day     string
	log     *logrus.Logger
	stopped chan struct{}
}

// New builds the process logger. An empty dir logs to stdout only.
func New(dir, level string) (*logrus.Logger, *Rotator, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if dir == "" {
		log.SetOutput(os.Stdout)
		return log, nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &Rotator{dir: dir, log: log, stopped: make(chan struct{})}
	if err := r.rotate(time.Now()); err != nil {
		return nil, nil, err
	}
	go r.checkRotation()

	return log, r, nil
}

func (r *Rotator) rotate(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	day := now.Format("2006-01-02")
	if day == r.day {
		return nil
	}

	name := filepath.Join(r.dir, day+".txt")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if r.file != nil {
		r.file.Close()
	}
	r.file = f
	r.day = day
	r.log.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

func (r *Rotator) checkRotation() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopped:
			return
		case now := <-ticker.C:
			if err := r.rotate(now); err != nil {
				r.log.WithError(err).Error("Failed to rotate log file")
			}
		}
	}
}

// Close stops rotation and closes the current file.
func (r *Rotator) Close() error {
	if r == nil {
		return nil
	}
	close(r.stopped)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.SetOutput(os.Stdout)
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
