package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"followmail/config"
	"followmail/handlers"
	"followmail/mailer"
	"followmail/metrics"
	"followmail/scheduler"
	"followmail/secret"
	"followmail/storage"
	"followmail/utils"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "followmail",
		Short:         "Schedules one follow-up email per client, sent from each user's own mail relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to the TOML config file (optional)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web application (and the in-process scheduler when SCHEDULER_CRON is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	schedulerCmd := &cobra.Command{
		Use:   "run-scheduler",
		Short: "Send every follow-up due today, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd.Context(), configPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(configPath)
			if err != nil {
				return err
			}
			db, err := storage.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return storage.Migrate(cmd.Context(), db)
		},
	}

	genKeyCmd := &cobra.Command{
		Use:   "gen-key",
		Short: "Print a new random SMTP_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secret.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	root.AddCommand(serveCmd, schedulerCmd, migrateCmd, genKeyCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		utils.Log.Error("%v", err)
		_ = utils.Log.Sync()
		stop()
		os.Exit(1)
	}
	_ = utils.Log.Sync()
}

// setup loads and validates configuration and initializes logging and i18n.
func setup(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	utils.ConfigureLogger(cfg.Log.Env, cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := utils.InitI18n(); err != nil {
		utils.Log.Warn("Failed to initialize i18n: %v", err)
	}
	return cfg, nil
}

type runtime struct {
	cfg     *config.Config
	db      *sql.DB
	users   *storage.UserStorage
	clients *storage.ClientStorage
	cipher  *secret.Cipher
	mailer  *mailer.Sender
}

func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := setup(configPath)
	if err != nil {
		return nil, err
	}

	cipher, err := secret.New(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("SMTP_ENCRYPTION_KEY: %w", err)
	}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &runtime{
		cfg:     cfg,
		db:      db,
		users:   storage.NewUserStorage(db),
		clients: storage.NewClientStorage(db),
		cipher:  cipher,
		mailer:  mailer.New(cipher, mailer.WithLogger(utils.Log.WithField("component", "mailer"))),
	}, nil
}

// newJob builds the scheduler job. The returned close func releases the
// Redis connection when one was opened.
func (rt *runtime) newJob(ctx context.Context) (*scheduler.Job, func() error, error) {
	loc, err := rt.cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	opts := []scheduler.Option{
		scheduler.WithLocation(loc),
		scheduler.WithLogger(utils.Log.WithField("component", "scheduler")),
	}
	closeLock := func() error { return nil }
	if rt.cfg.Redis.URL != "" {
		locker, closeFn, err := scheduler.DialRedisLocker(ctx, rt.cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, scheduler.WithLocker(locker, rt.cfg.Scheduler.LockTTL.Duration))
		closeLock = closeFn
	}
	return scheduler.New(rt.clients, rt.mailer, opts...), closeLock, nil
}

func serve(ctx context.Context, configPath string) error {
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.db.Close()
	cfg := rt.cfg

	sessions, err := storage.NewSessionStorage(cfg.Session.Path, 10*time.Minute)
	if err != nil {
		return fmt.Errorf("session storage: %w", err)
	}
	defer sessions.Close()

	app := handlers.NewApp(cfg)
	handlers.Register(app, handlers.Deps{
		Config:   cfg,
		Sessions: handlers.NewSessionStore(cfg, sessions),
		Users:    rt.users,
		Clients:  rt.clients,
		Cipher:   rt.cipher,
		Mailer:   rt.mailer,
		DB:       rt.db,
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Cron != "" {
		job, closeLock, err := rt.newJob(gctx)
		if err != nil {
			return err
		}
		defer closeLock()

		loc, _ := cfg.Location()
		c, err := scheduler.NewCron(gctx, cfg.Scheduler.Cron, loc, job)
		if err != nil {
			return err
		}
		c.Start()
		utils.Log.Info("Scheduler running on %q (%s)", cfg.Scheduler.Cron, loc)

		g.Go(func() error {
			<-gctx.Done()
			<-c.Stop().Done()
			return nil
		})
	}

	g.Go(func() error {
		utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
		return app.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
	})

	g.Go(func() error {
		<-gctx.Done()
		utils.Log.Info("Shutting down...")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}

func runScheduler(ctx context.Context, configPath string) error {
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	job, closeLock, err := rt.newJob(ctx)
	if err != nil {
		return err
	}
	defer closeLock()

	res, runErr := job.Run(ctx)
	utils.Log.Info("Run for %s: %d due, %d sent, %d failed",
		res.Today.Format("2006-01-02"), res.Due, res.Sent, res.Failed)

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := metrics.Push(pushCtx, rt.cfg.Metrics.PushgatewayURL); err != nil {
		utils.Log.Warn("Failed to push metrics: %v", err)
	}

	if runErr != nil {
		return fmt.Errorf("scheduler run failed: %w", runErr)
	}
	return nil
}
