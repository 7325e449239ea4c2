// Package scheduler runs persisted backup jobs on their intervals. One
// goroutine polls for due jobs and runs them sequentially; the job list
// is the JSON file, reloaded at startup and rewritten on every mutation.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/backup"
	"github.com/supporttools/GoDBVault/pkg/backup/adapters"
	"github.com/supporttools/GoDBVault/pkg/connstore"
	"github.com/supporttools/GoDBVault/pkg/metrics"
)

const (
	defaultPollInterval = time.Second
	stopTimeout         = 5 * time.Second
)

// Manager owns the scheduled-job list and the loop that dispatches it.
// All mutations go through Create/Update/SetEnabled/Delete, which persist
// before returning; a run already in flight is never interrupted.
type Manager struct {
	store   *Store
	conns   connstore.Store
	backups *backup.Manager
	logger  zerolog.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	jobs    []*ScheduledBackup
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewManager loads the persisted jobs and wires the manager. Start must
// be called before any job dispatches.
func NewManager(store *Store, conns connstore.Store, backups *backup.Manager, logger zerolog.Logger) (*Manager, error) {
	jobs, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:        store,
		conns:        conns,
		backups:      backups,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		pollInterval: defaultPollInterval,
		jobs:         jobs,
	}, nil
}

// Jobs returns a snapshot of every job.
func (m *Manager) Jobs() []ScheduledBackup {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ScheduledBackup, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	return out
}

// Job returns one job by id.
func (m *Manager) Job(id string) (ScheduledBackup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j := m.findLocked(id); j != nil {
		return *j, true
	}
	return ScheduledBackup{}, false
}

// CreateJob validates, assigns an id when absent, computes the first run
// and persists. Enabled jobs become eligible on the next poll tick.
func (m *Manager) CreateJob(job ScheduledBackup) (ScheduledBackup, error) {
	if err := job.validate(); err != nil {
		return ScheduledBackup{}, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.LastRun = nil
	job.NextRun = nil
	if job.Enabled {
		next := job.nextAfter(time.Now())
		job.NextRun = &next
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findLocked(job.ID) != nil {
		return ScheduledBackup{}, fmt.Errorf("scheduled backup %s already exists", job.ID)
	}
	m.jobs = append(m.jobs, &job)
	if err := m.persistLocked(); err != nil {
		m.jobs = m.jobs[:len(m.jobs)-1]
		return ScheduledBackup{}, err
	}

	m.logger.Info().Str("job", job.Name).Str("id", job.ID).Bool("enabled", job.Enabled).Msg("Created scheduled backup")
	return job, nil
}

// UpdateJob replaces a job's parameters. The next run is recomputed, so
// no later dispatch can fire with the old parameters.
func (m *Manager) UpdateJob(job ScheduledBackup) error {
	if err := job.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.findLocked(job.ID)
	if live == nil {
		return fmt.Errorf("scheduled backup not found: %s", job.ID)
	}

	job.LastRun = live.LastRun
	job.NextRun = nil
	if job.Enabled {
		next := job.nextAfter(time.Now())
		job.NextRun = &next
	}
	*live = job

	if err := m.persistLocked(); err != nil {
		return err
	}
	m.logger.Info().Str("job", job.Name).Str("id", job.ID).Msg("Updated scheduled backup")
	return nil
}

// SetEnabled flips a job between enabled and disabled.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.findLocked(id)
	if live == nil {
		return fmt.Errorf("scheduled backup not found: %s", id)
	}

	live.Enabled = enabled
	live.NextRun = nil
	if enabled {
		next := live.nextAfter(time.Now())
		live.NextRun = &next
	}

	if err := m.persistLocked(); err != nil {
		return err
	}
	m.logger.Info().Str("job", live.Name).Bool("enabled", enabled).Msg("Updated scheduled backup")
	return nil
}

// DeleteJob removes a job permanently.
func (m *Manager) DeleteJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, j := range m.jobs {
		if j.ID != id {
			continue
		}
		name := j.Name
		m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
		if err := m.persistLocked(); err != nil {
			return err
		}
		m.logger.Info().Str("job", name).Str("id", id).Msg("Deleted scheduled backup")
		return nil
	}
	return fmt.Errorf("scheduled backup not found: %s", id)
}

// Start launches the poll loop. Enabled jobs without a next run get one
// computed; jobs whose next run passed while the process was down fire on
// the first tick.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	now := time.Now()
	changed := false
	for _, j := range m.jobs {
		if j.Enabled && j.NextRun == nil {
			next := j.nextAfter(now)
			j.NextRun = &next
			changed = true
		}
	}
	if changed {
		if err := m.persistLocked(); err != nil {
			m.logger.Error().Err(err).Msg("Failed to persist schedule state")
		}
	}
	stop, done := m.stop, m.done
	jobs := len(m.jobs)
	m.mu.Unlock()

	m.logger.Info().Int("jobs", jobs).Msg("Scheduler started")
	go m.loop(stop, done)
}

// Stop prevents future dispatch and waits, bounded, for the loop to
// drain. A job already executing keeps running; it finishes in the
// background if the bound is exceeded.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	select {
	case <-done:
		m.logger.Info().Msg("Scheduler stopped")
	case <-time.After(stopTimeout):
		m.logger.Warn().Msg("Scheduler stop timed out with a job still running")
	}
}

func (m *Manager) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.dispatchDue(time.Now())
		}
	}
}

// dispatchDue advances every due job's next run, persists, then runs the
// due jobs sequentially outside the lock.
func (m *Manager) dispatchDue(now time.Time) {
	m.mu.Lock()
	var due []string
	for _, j := range m.jobs {
		if j.due(now) {
			next := j.nextAfter(now)
			j.NextRun = &next
			due = append(due, j.ID)
		}
	}
	if len(due) > 0 {
		if err := m.persistLocked(); err != nil {
			m.logger.Error().Err(err).Msg("Failed to persist schedule state")
		}
	}
	m.mu.Unlock()

	for _, id := range due {
		m.runJob(id)
	}
}

// runJob re-reads the job under the lock at dispatch time, so an update
// or delete that landed since the poll wins over the stale snapshot.
func (m *Manager) runJob(id string) {
	m.mu.Lock()
	live := m.findLocked(id)
	if live == nil || !live.Enabled {
		m.mu.Unlock()
		return
	}
	job := *live
	m.mu.Unlock()

	m.logger.Info().Str("job", job.Name).Msg("Running scheduled backup")
	err := m.execute(context.Background(), job)
	finished := time.Now()

	if err != nil {
		jobErr := &SchedulerJobError{JobID: job.ID, JobName: job.Name, Err: err}
		m.logger.Error().Err(jobErr).Msg("Scheduled backup failed")
		metrics.ScheduledRunCount.WithLabelValues(job.Name, backup.StatusFailed).Inc()
		return
	}

	m.mu.Lock()
	if live := m.findLocked(id); live != nil {
		live.LastRun = &finished
		if perr := m.persistLocked(); perr != nil {
			m.logger.Error().Err(perr).Msg("Failed to persist schedule state")
		}
	}
	m.mu.Unlock()

	metrics.ScheduledRunCount.WithLabelValues(job.Name, backup.StatusCompleted).Inc()
}

// execute performs one scheduled run: resolve connections, resolve the
// adapter, delegate to the batch path, prune when configured. Individual
// connection failures stay inside the batch results; only failures out
// here abort the run.
func (m *Manager) execute(ctx context.Context, job ScheduledBackup) error {
	configs, err := m.conns.Connections()
	if err != nil {
		return fmt.Errorf("failed to load connections: %w", err)
	}
	targets := job.Connections.Resolve(configs)
	if len(targets) == 0 {
		m.logger.Info().Str("job", job.Name).Msg("No connections resolved, nothing to back up")
		return nil
	}

	adapter, err := adapters.New(ctx, job.AdapterType, job.AdapterConfig, m.logger)
	if err != nil {
		return err
	}
	if err := adapter.ValidateOptions(ctx); err != nil {
		return err
	}

	opts, err := jobBackupOptions(job.AdapterConfig)
	if err != nil {
		return err
	}

	results := m.backups.CreateBatchBackups(ctx, targets, adapter, opts, nil)
	completed, failed := 0, 0
	for _, r := range results {
		if r.Status == backup.StatusCompleted {
			completed++
		} else {
			failed++
		}
	}
	m.logger.Info().
		Str("job", job.Name).
		Int("completed", completed).
		Int("failed", failed).
		Msg("Scheduled backup finished")

	if job.RetentionDays > 0 {
		pruned, err := m.backups.PruneBackups(ctx, adapter, time.Duration(job.RetentionDays)*24*time.Hour)
		if err != nil {
			m.logger.Warn().Err(err).Str("job", job.Name).Msg("Retention pruning failed")
		} else if pruned > 0 {
			m.logger.Info().Str("job", job.Name).Int("pruned", pruned).Msg("Retention pruning complete")
		}
	}
	return nil
}

// jobBackupOptions lifts compression and encryption settings out of the
// job's adapter config map.
func jobBackupOptions(config map[string]string) (backup.BackupOptions, error) {
	comp, err := backup.ParseCompression(config["compression"])
	if err != nil {
		return backup.BackupOptions{}, err
	}
	return backup.BackupOptions{
		Compression:   comp,
		Encrypt:       strings.EqualFold(config["encrypt"], "true"),
		EncryptionKey: config["encryptionKey"],
	}, nil
}

func (m *Manager) findLocked(id string) *ScheduledBackup {
	for _, j := range m.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (m *Manager) persistLocked() error {
	return m.store.Save(m.jobs)
}
