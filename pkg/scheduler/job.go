package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

// ScheduledBackup is one persisted recurring job. The on-disk form is a
// JSON array of these records, rewritten on every mutation.
type ScheduledBackup struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// IntervalMinutes drives the schedule unless CronExpression is set.
	IntervalMinutes int    `json:"intervalMinutes,omitempty"`
	CronExpression  string `json:"cronExpression,omitempty"`

	Enabled bool `json:"enabled"`

	AdapterType   string            `json:"adapterType"`
	AdapterConfig map[string]string `json:"adapterConfig,omitempty"`

	Connections ConnectionSelector `json:"connections"`

	// RetentionDays > 0 prunes older backups on the destination after
	// each run.
	RetentionDays int `json:"retentionDays,omitempty"`

	LastRun *time.Time `json:"lastRun,omitempty"`
	NextRun *time.Time `json:"nextRun,omitempty"`
}

// validate rejects jobs the loop could never dispatch sensibly.
func (j *ScheduledBackup) validate() error {
	if j.Name == "" {
		return fmt.Errorf("scheduled backup needs a name")
	}
	if j.AdapterType == "" {
		return fmt.Errorf("scheduled backup %q needs an adapter type", j.Name)
	}
	if j.CronExpression != "" {
		if _, err := cron.ParseStandard(j.CronExpression); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", j.CronExpression, err)
		}
		return nil
	}
	if j.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduled backup %q needs a positive interval or a cron expression", j.Name)
	}
	return nil
}

// nextAfter computes the run following from. Cron expressions win over
// the minute interval.
func (j *ScheduledBackup) nextAfter(from time.Time) time.Time {
	if j.CronExpression != "" {
		if sched, err := cron.ParseStandard(j.CronExpression); err == nil {
			return sched.Next(from)
		}
	}
	return from.Add(time.Duration(j.IntervalMinutes) * time.Minute)
}

// due reports whether the job should dispatch at now.
func (j *ScheduledBackup) due(now time.Time) bool {
	return j.Enabled && j.NextRun != nil && !now.Before(*j.NextRun)
}

// ConnectionSelector names the connections a job backs up: either every
// stored connection (the JSON string "all") or an explicit id list (a
// JSON array).
type ConnectionSelector struct {
	All bool
	IDs []string
}

// AllConnections is the selector matching every stored connection.
func AllConnections() ConnectionSelector { return ConnectionSelector{All: true} }

// SelectConnections builds a selector for an explicit id list.
func SelectConnections(ids ...string) ConnectionSelector { return ConnectionSelector{IDs: ids} }

// Resolve filters the stored connections down to the selected ones.
func (s ConnectionSelector) Resolve(configs []common.ConnectionConfig) []common.ConnectionConfig {
	if s.All {
		return configs
	}
	selected := make([]common.ConnectionConfig, 0, len(s.IDs))
	for _, id := range s.IDs {
		for _, cfg := range configs {
			if cfg.ID == id {
				selected = append(selected, cfg)
				break
			}
		}
	}
	return selected
}

func (s ConnectionSelector) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal("all")
	}
	if s.IDs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.IDs)
}

func (s *ConnectionSelector) UnmarshalJSON(data []byte) error {
	var sentinel string
	if err := json.Unmarshal(data, &sentinel); err == nil {
		if sentinel != "all" {
			return fmt.Errorf("unknown connection selector %q", sentinel)
		}
		*s = ConnectionSelector{All: true}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("connection selector must be \"all\" or an id array: %w", err)
	}
	*s = ConnectionSelector{IDs: ids}
	return nil
}
