package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"bops/internal/app"
	"bops/internal/config"
	"bops/internal/db"
	"bops/internal/domain"
	"bops/internal/engine"
	"bops/internal/migrate"
	"bops/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "bops",
	Short: "Back office planning system",
	Long: `bops runs the case workflow of a local planning authority.
- Tenants: one local authority each, with its own request deadlines, holidays and application types.
- Cases: planning applications, pre-applications and enforcement cases moving through stages.
- Tasks: the validation, assessment and review checklist derived from each case.
- Requests: validation and change requests sent to the applicant, answered, cancelled or auto-closed.
- Items: ordered conditions, considerations, heads of terms and informatives.
- Review: the officer's recommendation, the reviewer's verdict and the determination.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "acting user id")
	flags.String("tenant", "", "tenant id (defaults to the only tenant)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "tenant", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(recommendationCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(serveCmd())
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	cmd.AddCommand(tenantCreateCmd())
	cmd.AddCommand(tenantListCmd())
	cmd.AddCommand(tenantConfigCmd())
	return cmd
}

func tenantCreateCmd() *cobra.Command {
	var id, name, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if file != "" {
				loaded, err := config.FromFile(file)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, config.Default(id))
				e.Logger = newLogger()
				t, err := e.CreateTenant(ctx, id, name, cfg)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&file, "config", "", "config YAML (defaults to the built-in template)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.Name, t.CreatedAt})
				}
				printTable(table.Row{"ID", "Name", "Created"}, rows)
				return nil
			})
		},
	}
}

func tenantConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage tenant config"}
	cmd.AddCommand(tenantConfigShowCmd())
	cmd.AddCommand(tenantConfigImportCmd())
	cmd.AddCommand(tenantConfigInitCmd())
	cmd.AddCommand(tenantConfigValidateCmd())
	return cmd
}

func tenantConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				_, cfg, err := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), r)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func tenantConfigImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored config with a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tenantID, _, err := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), r)
				if err != nil {
					return err
				}
				if cfg.Tenant.ID != tenantID {
					return fmt.Errorf("config belongs to tenant %s, not %s", cfg.Tenant.ID, tenantID)
				}
				if err := r.UpsertTenantConfig(ctx, tenantID, cfg); err != nil {
					return err
				}
				fmt.Printf("Imported config for tenant %s\n", tenantID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config YAML path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func tenantConfigInitCmd() *cobra.Command {
	var id string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config template to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": true, "tenant": cfg.Tenant.ID})
			}
			fmt.Printf("Config for tenant %s is valid\n", cfg.Tenant.ID)
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userRoleCmd())
	cmd.AddCommand(userAPIKeyCmd())
	cmd.AddCommand(userKeysCmd())
	cmd.AddCommand(userRevokeKeyCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				u, err := e.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&opts.Role, "role", "assessor", "assessor, reviewer or administrator")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users of the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx, e.Config.Tenant.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				rows := make([]table.Row, 0, len(users))
				for _, u := range users {
					rows = append(rows, table.Row{u.ID, u.Name, u.Email, u.Role})
				}
				printTable(table.Row{"ID", "Name", "Email", "Role"}, rows)
				return nil
			})
		},
	}
}

func userRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <user-id> <role>",
		Short: "Change a user's role (administrators only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.SetUserRole(ctx, args[0], args[1], actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func userAPIKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "apikey <user-id>",
		Short: "Issue an API key; the key is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "user_id": key.ActorID, "key": plain})
				}
				fmt.Printf("API key for %s: %s\n", key.ActorID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "cli", "key label")
	return cmd
}

func userKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys <user-id>",
		Short: "List a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.ID, k.Name, k.CreatedAt})
				}
				printTable(table.Row{"ID", "Name", "Created"}, rows)
				return nil
			})
		},
	}
}

func userRevokeKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-key <user-id> <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], args[1], actorID); err != nil {
					return err
				}
				fmt.Printf("Revoked key %s\n", args[1])
				return nil
			})
		},
	}
}

// --- helpers ---

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = zapcore.WarnLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func requireActor() (string, error) {
	actorID := strings.TrimSpace(viper.GetString("actor-id"))
	if actorID == "" {
		return "", fmt.Errorf("--actor-id (or BOPS_ACTOR_ID) is required")
	}
	return actorID, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		_, cfg, err := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), r)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg)
		e.Logger = newLogger()
		defer e.Logger.Sync()
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// findCase resolves a case id or reference inside the active tenant.
func findCase(ctx context.Context, e engine.Engine, idOrReference string) (domain.Case, error) {
	c, err := e.FindCase(ctx, e.Config.Tenant.ID, idOrReference)
	if err != nil {
		return domain.Case{}, fmt.Errorf("case %s: %w", idOrReference, err)
	}
	if c.TenantID != e.Config.Tenant.ID {
		return domain.Case{}, fmt.Errorf("case %s: %w", idOrReference, repo.ErrNotFound)
	}
	return c, nil
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

func printTable(header table.Row, rows []table.Row) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
}

func optionalString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
