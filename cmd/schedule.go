package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoDBVault/pkg/metrics"
	"github.com/supporttools/GoDBVault/pkg/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring backup jobs",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a recurring backup job",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		m, err := a.scheduleManager()
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		interval, _ := cmd.Flags().GetInt("interval")
		cronExpr, _ := cmd.Flags().GetString("cron")
		retention, _ := cmd.Flags().GetInt("retention-days")
		disabled, _ := cmd.Flags().GetBool("disabled")

		adapterType := a.cfg.Backup.AdapterType
		if v, _ := cmd.Flags().GetString("adapter"); v != "" {
			adapterType = v
		}
		adapterCfg := make(map[string]string, len(a.cfg.Backup.AdapterConfig))
		for k, v := range a.cfg.Backup.AdapterConfig {
			adapterCfg[k] = v
		}
		if v, _ := cmd.Flags().GetString("directory"); v != "" {
			adapterCfg["directory"] = v
		}
		if v, _ := cmd.Flags().GetString("compression"); v != "" {
			adapterCfg["compression"] = v
		}
		if v, _ := cmd.Flags().GetBool("encrypt"); v {
			adapterCfg["encrypt"] = "true"
		}
		if v, _ := cmd.Flags().GetString("encryption-key"); v != "" {
			adapterCfg["encryptionKey"] = v
		}

		selector, err := parseSelector(cmd)
		if err != nil {
			return err
		}

		job, err := m.CreateJob(scheduler.ScheduledBackup{
			ID:              uuid.NewString(),
			Name:            name,
			IntervalMinutes: interval,
			CronExpression:  cronExpr,
			Enabled:         !disabled,
			AdapterType:     adapterType,
			AdapterConfig:   adapterCfg,
			Connections:     selector,
			RetentionDays:   retention,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Created scheduled backup %s (%s)\n", job.Name, job.ID)
		if job.NextRun != nil {
			fmt.Printf("Next run: %s\n", job.NextRun.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recurring backup jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		m, err := a.scheduleManager()
		if err != nil {
			return err
		}

		jobs := m.Jobs()
		if len(jobs) == 0 {
			fmt.Println("No scheduled backups. Use 'godbvault schedule add' to create one.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("NAME", "SCHEDULE", "CONNECTIONS", "ADAPTER", "ENABLED", "LAST RUN", "NEXT RUN", "ID")
		for _, job := range jobs {
			schedule := job.CronExpression
			if schedule == "" {
				schedule = fmt.Sprintf("every %dm", job.IntervalMinutes)
			}
			conns := "all"
			if !job.Connections.All {
				conns = strings.Join(job.Connections.IDs, ",")
			}
			lastRun := "never"
			if job.LastRun != nil {
				lastRun = humanize.Time(*job.LastRun)
			}
			nextRun := "-"
			if job.Enabled && job.NextRun != nil {
				nextRun = humanize.Time(*job.NextRun)
			}
			table.Append(job.Name, schedule, conns, job.AdapterType, fmt.Sprintf("%t", job.Enabled), lastRun, nextRun, job.ID)
		}
		table.Render()
		return nil
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable [job]",
	Short: "Enable a recurring backup job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setJobEnabled(cmd, args[0], true) },
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable [job]",
	Short: "Disable a recurring backup job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setJobEnabled(cmd, args[0], false) },
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove [job]",
	Short: "Delete a recurring backup job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		m, err := a.scheduleManager()
		if err != nil {
			return err
		}
		job, err := findJob(m, args[0])
		if err != nil {
			return err
		}
		if err := m.DeleteJob(job.ID); err != nil {
			return err
		}
		fmt.Printf("Removed scheduled backup %s\n", job.Name)
		return nil
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler until interrupted",
	Long: `Run the scheduler daemon. Due jobs are dispatched until the process
receives SIGINT or SIGTERM, then the loop drains and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		m, err := a.scheduleManager()
		if err != nil {
			return err
		}

		if a.cfg.Metrics.Enabled {
			go func() {
				if err := metrics.StartMetricsServer(a.cfg.Metrics.Port, a.logger); err != nil {
					a.logger.Error().Err(err).Msg("Metrics server stopped")
				}
			}()
		}

		m.Start()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		sig := <-sigCh

		a.logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		m.Stop()
		return nil
	},
}

func setJobEnabled(cmd *cobra.Command, key string, enabled bool) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	m, err := a.scheduleManager()
	if err != nil {
		return err
	}
	job, err := findJob(m, key)
	if err != nil {
		return err
	}
	if err := m.SetEnabled(job.ID, enabled); err != nil {
		return err
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("Scheduled backup %s is now %s\n", job.Name, state)
	return nil
}

// findJob resolves a job by ID first, then by name.
func findJob(m *scheduler.Manager, key string) (scheduler.ScheduledBackup, error) {
	if job, ok := m.Job(key); ok {
		return job, nil
	}
	for _, job := range m.Jobs() {
		if strings.EqualFold(job.Name, key) {
			return job, nil
		}
	}
	return scheduler.ScheduledBackup{}, fmt.Errorf("scheduled backup %q not found. Use 'godbvault schedule list' to see jobs", key)
}

// parseSelector reads --connections: the sentinel "all" or a comma
// separated id list.
func parseSelector(cmd *cobra.Command) (scheduler.ConnectionSelector, error) {
	raw, _ := cmd.Flags().GetString("connections")
	if raw == "" || strings.EqualFold(raw, "all") {
		return scheduler.AllConnections(), nil
	}
	ids := make([]string, 0)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return scheduler.ConnectionSelector{}, fmt.Errorf("--connections must be \"all\" or a comma separated id list")
	}
	return scheduler.SelectConnections(ids...), nil
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleAddCmd.Flags().String("name", "", "Job name (required)")
	scheduleAddCmd.Flags().Int("interval", 0, "Run every N minutes")
	scheduleAddCmd.Flags().String("cron", "", "Cron expression, wins over --interval")
	scheduleAddCmd.Flags().String("connections", "all", "Connection ids to back up, or \"all\"")
	scheduleAddCmd.Flags().Int("retention-days", 0, "Prune destination backups older than N days after each run")
	scheduleAddCmd.Flags().Bool("disabled", false, "Create the job disabled")
	scheduleAddCmd.Flags().String("compression", "", "Compression: none, gzip or zstd")
	scheduleAddCmd.Flags().Bool("encrypt", false, "Encrypt artifacts at rest")
	scheduleAddCmd.Flags().String("encryption-key", "", "Key for artifact encryption")
	addDestinationFlags(scheduleAddCmd)
	_ = scheduleAddCmd.MarkFlagRequired("name")

	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)
}
