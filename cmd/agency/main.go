package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agencyhub/internal/app"
	"agencyhub/internal/config"
	"agencyhub/internal/db"
	"agencyhub/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "agency",
	Short: "Agency CRM CLI",
	Long: `agency manages agency users, their daily cadence events and the rhythm
state derived from them.
- Users: agents, recruits, managers and admins. Only eligible roles and
  statuses (see agency.yml) get a rhythm state.
- Cadence events: one per user per day (ACTION_COMPLETED, MILESTONE, MISSED
  or RESET).
- Rhythm state: NOT_STARTED, OFF_RHYTHM, STARTING_TO_FLOW, ON_CADENCE or
  FLOWING_IN_RHYTHM, recomputed from the last 30 days on every read.
- Audit log: every write is recorded; view it with 'agency audit tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGENCY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("db", "", "database file (defaults to the workspace database)")
	flags.String("config", "", "config file (defaults to <workspace>/agency.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier recorded in the audit log")
	flags.String("timezone", "", "IANA timezone that defines today (overrides config)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")
	for _, name := range []string{"workspace", "db", "config", "json", "actor-id", "timezone", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(cadenceCmd())
	rootCmd.AddCommand(rhythmCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func overrides() app.Overrides {
	return app.Overrides{
		ConfigPath: viper.GetString("config"),
		Timezone:   viper.GetString("timezone"),
		LogLevel:   viper.GetString("log-level"),
		LogFormat:  viper.GetString("log-format"),
	}
}

func resolveConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), overrides())
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withEngineLogger(ctx, func(ctx context.Context, e engine.Engine, _ *bolt.Logger) error {
		return fn(ctx, e)
	})
}

func withEngineLogger(ctx context.Context, fn func(context.Context, engine.Engine, *bolt.Logger) error) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	logger := app.InitLogging(cfg)
	conn, err := app.OpenWorkspace(ctx, viper.GetString("workspace"), viper.GetString("db"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, app.NewEngine(conn, cfg, logger), logger)
}

func actor() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func optionalString(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}
