package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoDBVault/pkg/backup"
	"github.com/supporttools/GoDBVault/pkg/backup/adapters"
	"github.com/supporttools/GoDBVault/pkg/database/common"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, restore, delete and prune backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create [connection...]",
	Short: "Back up one or more connections to the configured destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if len(args) == 0 && !all {
			return fmt.Errorf("name at least one connection or pass --all")
		}

		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		adapter, err := destinationAdapter(cmd, a)
		if err != nil {
			return err
		}
		if err := adapter.ValidateOptions(cmd.Context()); err != nil {
			return err
		}
		opts, err := backupOptions(cmd, a)
		if err != nil {
			return err
		}

		targets, err := resolveTargets(a, args, all)
		if err != nil {
			return err
		}

		if len(targets) == 1 {
			info, err := a.backups.CreateBackup(cmd.Context(), adapter, targets[0], opts)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s (%s)\n", info.Name, humanize.IBytes(uint64(info.Size)))
			return nil
		}

		names := make(map[string]string, len(targets))
		for _, t := range targets {
			names[t.ID] = t.Name
		}
		onProgress := func(p backup.BatchProgress) {
			if p.Status == backup.StatusInProgress {
				fmt.Printf("Backing up %s...\n", names[p.ConnectionID])
			}
		}

		results := a.backups.CreateBatchBackups(cmd.Context(), targets, adapter, opts, onProgress)

		failed := 0
		for _, r := range results {
			switch r.Status {
			case backup.StatusCompleted:
				fmt.Printf("  %s: %s (%s)\n", names[r.ConnectionID], r.BackupInfo.Name, humanize.IBytes(uint64(r.BackupInfo.Size)))
			default:
				failed++
				fmt.Printf("  %s: failed: %s\n", names[r.ConnectionID], r.Error)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d backups failed", failed, len(results))
		}
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups at the configured destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		adapter, err := destinationAdapter(cmd, a)
		if err != nil {
			return err
		}

		infos, err := adapter.ListBackups(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No backups found.")
			return nil
		}

		sort.Slice(infos, func(i, j int) bool {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		})

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("NAME", "SIZE", "CREATED", "COMPRESSION", "ENCRYPTED", "ID")
		for _, info := range infos {
			table.Append(
				info.Name,
				humanize.IBytes(uint64(info.Size)),
				humanize.Time(info.CreatedAt),
				string(info.Compression()),
				fmt.Sprintf("%t", info.Encrypted()),
				info.ID,
			)
		}
		table.Render()
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [backup] [connection]",
	Short: "Restore a backup into a connection's database",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		adapter, err := destinationAdapter(cmd, a)
		if err != nil {
			return err
		}
		connCfg, err := a.connection(args[1])
		if err != nil {
			return err
		}
		info, err := findBackup(cmd, adapter, args[0])
		if err != nil {
			return err
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirm(fmt.Sprintf("Restoring %s will overwrite data on %q. Continue?", info.Name, connCfg.Name)) {
			fmt.Println("Aborted.")
			return nil
		}

		if err := a.backups.RestoreBackup(cmd.Context(), adapter, info, connCfg); err != nil {
			return err
		}
		fmt.Printf("Restored %s into %s\n", info.Name, connCfg.Name)
		return nil
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete [backup]",
	Short: "Delete a backup artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		adapter, err := destinationAdapter(cmd, a)
		if err != nil {
			return err
		}
		info, err := findBackup(cmd, adapter, args[0])
		if err != nil {
			return err
		}
		if err := adapter.DeleteBackup(cmd.Context(), info.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", info.Name)
		return nil
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete backups older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return fmt.Errorf("--days must be positive")
		}

		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		adapter, err := destinationAdapter(cmd, a)
		if err != nil {
			return err
		}

		deleted, err := a.backups.PruneBackups(cmd.Context(), adapter, time.Duration(days)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d backup(s) older than %d days\n", deleted, days)
		return nil
	},
}

// destinationAdapter builds the backup destination from config plus the
// per-command overrides.
func destinationAdapter(cmd *cobra.Command, a *app) (backup.Adapter, error) {
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

	return adapters.New(cmd.Context(), adapterType, adapterCfg, a.logger)
}

func backupOptions(cmd *cobra.Command, a *app) (backup.BackupOptions, error) {
	compression := a.cfg.Backup.Compression
	if v, _ := cmd.Flags().GetString("compression"); v != "" {
		compression = v
	}
	comp, err := backup.ParseCompression(compression)
	if err != nil {
		return backup.BackupOptions{}, err
	}

	encrypt := a.cfg.Backup.Encrypt
	if v, _ := cmd.Flags().GetBool("encrypt"); v {
		encrypt = true
	}
	key, _ := cmd.Flags().GetString("encryption-key")
	if key == "" {
		key = a.cfg.Backup.EncryptionKey
	}
	if key == "" {
		key = a.cfg.Backup.AdapterConfig["encryptionKey"]
	}
	if encrypt && key == "" {
		return backup.BackupOptions{}, fmt.Errorf("encryption requested but no encryption key is configured")
	}

	return backup.BackupOptions{
		Compression:   comp,
		Encrypt:       encrypt,
		EncryptionKey: key,
	}, nil
}

// resolveTargets turns command arguments into connection configs, or every
// stored profile when all is set.
func resolveTargets(a *app, args []string, all bool) ([]common.ConnectionConfig, error) {
	if all {
		configs, err := a.conns.Connections()
		if err != nil {
			return nil, err
		}
		if len(configs) == 0 {
			return nil, fmt.Errorf("no connections stored. Use 'godbvault connections add' first")
		}
		return configs, nil
	}

	targets := make([]common.ConnectionConfig, 0, len(args))
	for _, key := range args {
		cfg, err := a.connection(key)
		if err != nil {
			return nil, err
		}
		targets = append(targets, cfg)
	}
	return targets, nil
}

// findBackup resolves a stored artifact by ID first, then by name.
func findBackup(cmd *cobra.Command, adapter backup.Adapter, key string) (backup.BackupInfo, error) {
	infos, err := adapter.ListBackups(cmd.Context())
	if err != nil {
		return backup.BackupInfo{}, err
	}
	for _, info := range infos {
		if info.ID == key {
			return info, nil
		}
	}
	for _, info := range infos {
		if info.Name == key {
			return info, nil
		}
	}
	return backup.BackupInfo{}, fmt.Errorf("backup %q not found. Use 'godbvault backup list' to see stored artifacts", key)
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func addDestinationFlags(c *cobra.Command) {
	c.Flags().String("adapter", "", "Destination adapter: local, s3 or googledrive")
	c.Flags().String("directory", "", "Directory for the local adapter")
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(backupCreateCmd)
	addDestinationFlags(backupCreateCmd)
	backupCreateCmd.Flags().Bool("all", false, "Back up every stored connection")
	backupCreateCmd.Flags().String("compression", "", "Compression: none, gzip or zstd")
	backupCreateCmd.Flags().Bool("encrypt", false, "Encrypt the artifact at rest")
	backupCreateCmd.Flags().String("encryption-key", "", "Key for artifact encryption")

	backupCmd.AddCommand(backupListCmd)
	addDestinationFlags(backupListCmd)

	backupCmd.AddCommand(backupRestoreCmd)
	addDestinationFlags(backupRestoreCmd)
	backupRestoreCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	backupCmd.AddCommand(backupDeleteCmd)
	addDestinationFlags(backupDeleteCmd)

	backupCmd.AddCommand(backupPruneCmd)
	addDestinationFlags(backupPruneCmd)
	backupPruneCmd.Flags().Int("days", 0, "Delete backups older than this many days")
}
