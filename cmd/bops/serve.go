package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bops/internal/app"
	"bops/internal/config"
	"bops/internal/db"
	"bops/internal/engine"
	"bops/internal/migrate"
	"bops/internal/notify"
	"bops/internal/repo"
	"bops/internal/scheduler"
	"bops/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath, configFile string
	var devLogin, actorHeader, noWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API with the notification dispatcher and deadline sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			defer logger.Sync()

			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("BOPS_JWT_SECRET is required for bearer auth")
			}
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(ctx, conn); err != nil {
				return err
			}
			cfg, err := processConfig(ctx, repo.Repo{DB: conn}, configFile)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Logger = logger

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Logger:   logger,
				Auth: server.AuthConfig{
					JWTSecret:        secret,
					DevLogin:         devLogin,
					AllowActorHeader: actorHeader,
					Logger:           logger,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			if !noWorkers {
				dispatcher, closeNotifier, err := newDispatcher(e, cfg, logger)
				if err != nil {
					return err
				}
				defer closeNotifier()
				runner, closeLocker, err := newSweepRunner(gctx, e, cfg, logger)
				if err != nil {
					return err
				}
				defer closeLocker()
				g.Go(func() error { return ignoreCanceled(dispatcher.Run(gctx)) })
				g.Go(func() error { return ignoreCanceled(runner.Run(gctx)) })
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdown)
			})
			g.Go(func() error {
				logger.Info("serving bops api", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving bops API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&configFile, "config", "", "process config YAML for notifications and sweep")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose the dev login endpoint")
	cmd.Flags().BoolVar(&actorHeader, "allow-actor-header", false, "trust X-Actor-Id for local development")
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve the API only")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func sweepCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Auto-close requests whose deadline has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := processConfig(ctx, r, configFile)
				if err != nil {
					return err
				}
				e := engine.New(r.DB, cfg)
				e.Logger = newLogger()
				defer e.Logger.Sync()
				runner, closeLocker, err := newSweepRunner(ctx, e, cfg, e.Logger)
				if err != nil {
					return err
				}
				defer closeLocker()
				closed, ran, err := runner.RunOnce(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ran": ran, "closed": closed})
				}
				if !ran {
					fmt.Println("Another sweep holds the lock; nothing done")
					return nil
				}
				fmt.Printf("Auto-closed %d request(s)\n", closed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "process config YAML")
	return cmd
}

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Short: "Inspect and deliver queued notifications"}
	cmd.AddCommand(notificationsListCmd())
	cmd.AddCommand(notificationsFlushCmd())
	return cmd
}

func notificationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <case>",
		Short: "List notifications queued for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				jobs, err := e.Outbox.ListForCase(ctx, e.DB, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				rows := make([]table.Row, 0, len(jobs))
				for _, j := range jobs {
					rows = append(rows, table.Row{j.CreatedAt, j.Message.Template, j.Message.Channel, j.Message.Recipient, j.Status, j.Attempts, j.LastError})
				}
				printTable(table.Row{"Queued", "Template", "Channel", "Recipient", "Status", "Attempts", "Last error"}, rows)
				return nil
			})
		},
	}
}

func notificationsFlushCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Deliver due notifications once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := processConfig(ctx, r, configFile)
				if err != nil {
					return err
				}
				e := engine.New(r.DB, cfg)
				e.Logger = newLogger()
				defer e.Logger.Sync()
				dispatcher, closeNotifier, err := newDispatcher(e, cfg, e.Logger)
				if err != nil {
					return err
				}
				defer closeNotifier()
				n, err := dispatcher.DispatchOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Processed %d notification(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "process config YAML")
	return cmd
}

// processConfig picks the settings for process-wide workers: an explicit
// file, then bops.yml in the workspace, then the active tenant's stored
// config, then the defaults.
func processConfig(ctx context.Context, r repo.Repo, file string) (*config.Config, error) {
	if file != "" {
		return config.FromFile(file)
	}
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	if _, cfg, err := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), r); err == nil {
		return cfg, nil
	}
	return config.Default("default"), nil
}

func newDispatcher(e engine.Engine, cfg *config.Config, logger *zap.Logger) (*notify.Dispatcher, func() error, error) {
	notifier, closeFn, err := notify.FromConfig(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	d := notify.NewDispatcher(e.DB, cfg, notifier, e.Audit, logger)
	d.Outbox = e.Outbox
	return d, closeFn, nil
}

func newSweepRunner(ctx context.Context, e engine.Engine, cfg *config.Config, logger *zap.Logger) (*scheduler.Runner, func() error, error) {
	runner := &scheduler.Runner{Sweeper: e, Logger: logger}
	if cfg.Sweep.IntervalSeconds > 0 {
		runner.Interval = time.Duration(cfg.Sweep.IntervalSeconds) * time.Second
	}
	if cfg.Sweep.LockTTLSeconds > 0 {
		runner.LockTTL = time.Duration(cfg.Sweep.LockTTLSeconds) * time.Second
	}
	if cfg.Sweep.RedisAddr == "" {
		runner.Locker = &scheduler.LocalLocker{}
		return runner, func() error { return nil }, nil
	}
	client, err := scheduler.Connect(ctx, cfg.Sweep.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	runner.Locker = scheduler.RedisLocker{Client: client}
	return runner, client.Close, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
