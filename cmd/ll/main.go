package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/app"
	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/logging"
	"leadline/internal/repo"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ll",
	Short: "Leadline CLI",
	Long: `Leadline tracks sales leads and tells each salesperson what needs attention.
- Leads carry a state; the overdue policy says which states go stale.
- A lead is stale after a whole day without activity in a tracked state.
- Follow-ups are append-only notes; a scheduled date makes them due or missed.
- Non-admins only ever see leads assigned to them.
- Everything is stored in a single SQLite file in the workspace.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	_ = godotenv.Load()
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
	viper.SetEnvPrefix("LEADLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("admin-id", "admin")
	// Workspace-local values apply unless the environment already sets them.
	_ = godotenv.Load(envPath(viper.GetString("workspace")))
}

func defaultWorkspace() string {
	return filepath.Join(xdg.DataHome, "leadline")
}

func envPath(workspace string) string {
	return filepath.Join(workspace, ".env")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", defaultWorkspace(), "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "admin", "actor identifier")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/leadline.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(followUpCmd())
	rootCmd.AddCommand(overdueCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var orgID, adminID, timezone string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config, database and the admin actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if timezone != "" {
				cfg.Organization.Timezone = timezone
				if _, err := cfg.Location(); err != nil {
					return fmt.Errorf("invalid timezone %q: %w", timezone, err)
				}
			}
			conn, err := app.OpenWorkspace(cmd.Context(), workspace, cfg, adminID)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := writeEnv(envPath(workspace), map[string]string{
				"LEADLINE_ADMIN_ID": adminID,
				"LEADLINE_ACTOR_ID": adminID,
			}); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace %s (config %s, admin %s)\n", workspace, path, adminID)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org-id", "default-org", "organization id")
	cmd.Flags().StringVar(&adminID, "admin-id", "admin", "id of the first admin actor")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA zone that defines today; overrides config for this run")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Activity log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func openWorkspace(ctx context.Context) (*sql.DB, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	conn, err := app.OpenWorkspace(ctx, viper.GetString("workspace"), cfg, viper.GetString("admin-id"))
	if err != nil {
		return nil, nil, err
	}
	return conn, cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, cfg, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, _, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func newLogger(cfg *config.Config) *logrus.Logger {
	return logging.New(cfg.Logging, os.Stderr)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

// printJSONOrTable prints v as JSON under --json and otherwise as a two
// column field table. Values that are not JSON objects fall back to JSON.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	rows, ok, err := recordRows(v)
	if err != nil {
		return err
	}
	if !ok {
		return printJSON(v)
	}
	tw := newTable("Field", "Value")
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

// recordRows flattens the JSON form of v into field/value rows in key order.
func recordRows(v any) ([]table.Row, bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, false, nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		raw := fields[k]
		var str string
		switch {
		case string(raw) == "null":
		case json.Unmarshal(raw, &str) == nil:
		default:
			str = string(raw)
		}
		rows = append(rows, table.Row{k, str})
	}
	return rows, true, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeEnv merges values into a dotenv file, keeping unrelated keys.
func writeEnv(path string, values map[string]string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	for k, v := range values {
		env[k] = v
	}
	return godotenv.Write(env, path)
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func leadRow(l domain.Lead) table.Row {
	return table.Row{l.ID, l.Name, l.Phone, l.State, stringOrEmpty(l.AssigneeID), l.FollowUpCount, formatTime(l.LastActivityAt)}
}
