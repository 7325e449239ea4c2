package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoDBVault/pkg/connstore"
	"github.com/supporttools/GoDBVault/pkg/database"
	"github.com/supporttools/GoDBVault/pkg/database/common"
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conn"},
	Short:   "Manage stored connection profiles",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored connection profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		configs, err := a.conns.Connections()
		if err != nil {
			return err
		}
		if len(configs) == 0 {
			fmt.Println("No connections stored. Use 'godbvault connections add' to create one.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("NAME", "TYPE", "HOST", "DATABASE", "ID")
		for _, cfg := range configs {
			host := cfg.Host
			if cfg.ConnectionString != "" {
				host = "(connection string)"
			} else if host != "" {
				host = fmt.Sprintf("%s:%d", cfg.Host, cfg.EffectivePort())
			}
			table.Append(cfg.Name, string(cfg.Type), host, cfg.Database, cfg.ID)
		}
		table.Render()
		return nil
	},
}

var connectionsTestCmd = &cobra.Command{
	Use:   "test [connection...]",
	Short: "Check reachability of stored connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}

		targets, err := resolveTargets(a, args, len(args) == 0)
		if err != nil {
			return err
		}

		failed := 0
		for _, cfg := range targets {
			conn, err := database.New(cfg, database.WithLogger(a.logger))
			if err != nil {
				failed++
				fmt.Printf("%s: %v\n", cfg.Name, err)
				continue
			}
			if conn.TestConnection(cmd.Context()) {
				fmt.Printf("%s: OK\n", cfg.Name)
			} else {
				failed++
				fmt.Printf("%s: UNREACHABLE\n", cfg.Name)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d connections failed", failed, len(targets))
		}
		return nil
	},
}

var connectionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a new connection profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		engineArg, _ := cmd.Flags().GetString("type")
		engine, err := common.ParseEngine(engineArg)
		if err != nil {
			return err
		}

		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		dbName, _ := cmd.Flags().GetString("database")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		connString, _ := cmd.Flags().GetString("connection-string")

		configs, err := a.conns.Connections()
		if err != nil {
			return err
		}
		if _, exists := connstore.Find(configs, name); exists {
			return fmt.Errorf("a connection named %q already exists", name)
		}

		cfg := common.ConnectionConfig{
			ID:               uuid.NewString(),
			Name:             name,
			Type:             engine,
			Host:             host,
			Port:             port,
			Database:         dbName,
			Username:         username,
			Password:         password,
			ConnectionString: connString,
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := a.conns.SaveConnections(append(configs, cfg)); err != nil {
			return err
		}
		fmt.Printf("Stored connection %s (%s)\n", cfg.Name, cfg.ID)
		return nil
	},
}

var connectionsRemoveCmd = &cobra.Command{
	Use:   "remove [connection]",
	Short: "Remove a stored connection profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		configs, err := a.conns.Connections()
		if err != nil {
			return err
		}
		target, ok := connstore.Find(configs, args[0])
		if !ok {
			return fmt.Errorf("connection %q not found", args[0])
		}

		kept := configs[:0]
		for _, cfg := range configs {
			if cfg.ID != target.ID {
				kept = append(kept, cfg)
			}
		}
		if err := a.conns.SaveConnections(kept); err != nil {
			return err
		}
		fmt.Printf("Removed connection %s\n", target.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectionsCmd)
	connectionsCmd.AddCommand(connectionsListCmd)
	connectionsCmd.AddCommand(connectionsTestCmd)

	connectionsCmd.AddCommand(connectionsAddCmd)
	connectionsAddCmd.Flags().String("name", "", "Profile name (required)")
	connectionsAddCmd.Flags().String("type", "", "Engine: postgresql, mysql, sqlite, mongodb, redis, oracle, sqlserver, clickhouse or influxdb")
	connectionsAddCmd.Flags().String("host", "", "Database host")
	connectionsAddCmd.Flags().Int("port", 0, "Database port (engine default when omitted)")
	connectionsAddCmd.Flags().String("database", "", "Database name, file path for sqlite, or bucket for influxdb")
	connectionsAddCmd.Flags().String("username", "", "Username")
	connectionsAddCmd.Flags().String("password", "", "Password")
	connectionsAddCmd.Flags().String("connection-string", "", "Full DSN, used verbatim instead of host/port")
	_ = connectionsAddCmd.MarkFlagRequired("name")
	_ = connectionsAddCmd.MarkFlagRequired("type")

	connectionsCmd.AddCommand(connectionsRemoveCmd)
}
