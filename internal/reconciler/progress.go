package reconciler

import (
	"time"

	"digwatch/internal/taskstatus"
)

type LevelStatus string

const LevelCompleted LevelStatus = "completed"

type LevelProgress struct {
	Level      int         `json:"level"`
	Resolution string      `json:"resolution"`
	Status     LevelStatus `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Progress is derived from one snapshot discovery pass. It is rebuilt on
// every poll and must not be mutated once handed out.
type Progress struct {
	TaskID                string            `json:"task_id"`
	Levels                []LevelProgress   `json:"levels"`
	HighestLevelCompleted int               `json:"highest_level_completed"`
	LastUpdated           time.Time         `json:"last_updated"`
	Status                taskstatus.Status `json:"status"`
	CompletionPercentage  float64           `json:"completion_percentage"`
}

// Running reports whether live tile polling is warranted.
func (p *Progress) Running() bool {
	return p != nil && p.Status == taskstatus.StatusRunning
}

// Completed reports whether the task is known to be finished.
func (p *Progress) Completed() bool {
	return p != nil && p.Status == taskstatus.StatusCompleted
}

// levelTimestamp returns the timestamp of level, zero when not completed.
func (p *Progress) levelTimestamp(level int) time.Time {
	for _, l := range p.Levels {
		if l.Level == level {
			return l.Timestamp
		}
	}
	return time.Time{}
}
