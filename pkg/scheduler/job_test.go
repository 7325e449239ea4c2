package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

func TestConnectionSelectorJSON(t *testing.T) {
	data, err := json.Marshal(AllConnections())
	require.NoError(t, err)
	assert.JSONEq(t, `"all"`, string(data))

	data, err = json.Marshal(SelectConnections("c1", "c2"))
	require.NoError(t, err)
	assert.JSONEq(t, `["c1","c2"]`, string(data))

	var s ConnectionSelector
	require.NoError(t, json.Unmarshal([]byte(`"all"`), &s))
	assert.True(t, s.All)

	require.NoError(t, json.Unmarshal([]byte(`["c3"]`), &s))
	assert.False(t, s.All)
	assert.Equal(t, []string{"c3"}, s.IDs)

	assert.Error(t, json.Unmarshal([]byte(`"some"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`42`), &s))
}

func TestConnectionSelectorResolve(t *testing.T) {
	configs := []common.ConnectionConfig{
		{ID: "c1", Name: "orders"},
		{ID: "c2", Name: "users"},
		{ID: "c3", Name: "events"},
	}

	assert.Len(t, AllConnections().Resolve(configs), 3)

	selected := SelectConnections("c3", "c1", "ghost").Resolve(configs)
	require.Len(t, selected, 2, "unknown ids resolve to nothing")
	assert.Equal(t, "c3", selected[0].ID)
	assert.Equal(t, "c1", selected[1].ID)
}

func TestNextAfter(t *testing.T) {
	from := time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC)

	interval := ScheduledBackup{IntervalMinutes: 30}
	assert.Equal(t, from.Add(30*time.Minute), interval.nextAfter(from))

	nightly := ScheduledBackup{CronExpression: "0 3 * * *"}
	assert.Equal(t, time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC), nightly.nextAfter(from))

	// A cron expression wins over a configured interval.
	both := ScheduledBackup{IntervalMinutes: 5, CronExpression: "0 3 * * *"}
	assert.Equal(t, time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC), both.nextAfter(from))
}

func TestValidate(t *testing.T) {
	valid := ScheduledBackup{Name: "nightly", AdapterType: "local", IntervalMinutes: 60}
	assert.NoError(t, valid.validate())

	cronOnly := ScheduledBackup{Name: "nightly", AdapterType: "local", CronExpression: "*/15 * * * *"}
	assert.NoError(t, cronOnly.validate())

	tests := []struct {
		name string
		job  ScheduledBackup
	}{
		{"no name", ScheduledBackup{AdapterType: "local", IntervalMinutes: 60}},
		{"no adapter", ScheduledBackup{Name: "nightly", IntervalMinutes: 60}},
		{"no schedule", ScheduledBackup{Name: "nightly", AdapterType: "local"}},
		{"bad cron", ScheduledBackup{Name: "nightly", AdapterType: "local", CronExpression: "every day"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.job.validate())
		})
	}
}
