package models

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// CycleStatistics is one finished scheduler cycle.
type CycleStatistics struct {
	gorm.Model
	CycleID           string    `gorm:"size:32;index"`
	Task              string    `gorm:"size:16;index"` // daily_reward or notes
	StartedAt         time.Time `gorm:"index"`
	DurationSeconds   float64
	TotalUsers        int
	GenshinCount      int
	StarrailCount     int
	FailureCount      int
	SkippedCount      int
	AvgSecondsPerUser float64
}

// CycleStats summarizes one run of a scheduled task.
type CycleStats struct {
	CycleID       string
	Task          string
	StartedAt     time.Time
	Duration      time.Duration
	TotalUsers    int
	GenshinCount  int
	StarrailCount int
	FailureCount  int
	SkippedCount  int // left due, e.g. during vendor maintenance
	PerWorker     map[string]int
}

func (s *CycleStats) AvgSecondsPerUser() float64 {
	if s.TotalUsers == 0 {
		return 0
	}
	return s.Duration.Seconds() / float64(s.TotalUsers)
}

// Record converts the summary into its persisted row.
func (s *CycleStats) Record() *CycleStatistics {
	return &CycleStatistics{
		CycleID:           s.CycleID,
		Task:              s.Task,
		StartedAt:         s.StartedAt.UTC(),
		DurationSeconds:   s.Duration.Seconds(),
		TotalUsers:        s.TotalUsers,
		GenshinCount:      s.GenshinCount,
		StarrailCount:     s.StarrailCount,
		FailureCount:      s.FailureCount,
		SkippedCount:      s.SkippedCount,
		AvgSecondsPerUser: s.AvgSecondsPerUser(),
	}
}

func (s *CycleStats) String() string {
	text := fmt.Sprintf("%s finished in %s: %d users (%s %d, %s %d), %d failures, %.2fs per user",
		s.Task, s.Duration.Round(time.Second), s.TotalUsers,
		GameGenshin.DisplayName(), s.GenshinCount, GameStarrail.DisplayName(), s.StarrailCount,
		s.FailureCount, s.AvgSecondsPerUser())
	if s.SkippedCount > 0 {
		text += fmt.Sprintf(", %d skipped", s.SkippedCount)
	}
	if len(s.PerWorker) > 0 {
		names := make([]string, 0, len(s.PerWorker))
		for name := range s.PerWorker {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			text += fmt.Sprintf("\n%s: %d", name, s.PerWorker[name])
		}
	}
	return text
}
