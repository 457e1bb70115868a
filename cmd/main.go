package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"meetslot/internal/aggregator"
	"meetslot/internal/config"
	"meetslot/internal/google"
	"meetslot/internal/icloud"
	"meetslot/internal/ics"
	"meetslot/internal/metrics"
	"meetslot/internal/models"
	"meetslot/internal/sources"
	"meetslot/internal/store"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "meetslot",
		Usage: "Find meeting windows when every participant is free.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "meetslot.yaml", EnvVars: []string{"MEETSLOT_CONFIG"}, Usage: "Path to the YAML configuration file."},
		},
		Commands: []*cli.Command{
			initCommand(),
			authCommand(),
			calendarsCommand(),
			windowsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write an example configuration file.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			path := c.String("config")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config %s already exists", path)
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			logger.Info("Wrote example configuration.", "file", path)
			return nil
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token-dir", Value: ".", Usage: "Directory for token files."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			tokenFile := google.TokenPath(c.String("token-dir"), accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the Google calendars visible to each authenticated account.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(envLogLevel())
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			accounts, err := google.GetTokenAccounts(cfg.TokenDir)
			if err != nil {
				return fmt.Errorf("could not find any google accounts, did you run auth command? %w", err)
			}
			if len(accounts) == 0 {
				return fmt.Errorf("no google accounts found. Run the 'auth' command first")
			}

			for _, acc := range accounts {
				client, err := google.NewClient(c.Context, logger, os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"), cfg.TokenDir, acc)
				if err != nil {
					return fmt.Errorf("failed to create google client for account %s: %w", acc, err)
				}
				ids, err := client.DiscoverGoogleCalendars(c.Context)
				if err != nil {
					logger.Error("Failed to list calendars", "account", acc, "error", err)
					continue
				}
				fmt.Printf("%s:\n", acc)
				for _, id := range ids {
					fmt.Printf("  %s\n", id)
				}
			}
			return nil
		},
	}
}

func windowsCommand() *cli.Command {
	return &cli.Command{
		Name:  "windows",
		Usage: "Compute candidate meeting windows for configured events.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "event", Aliases: []string{"e"}, Usage: "Event id to compute. Repeatable; defaults to every configured event."},
			&cli.IntFlag{Name: "threshold", Usage: "How many participants may be busy during a window. Overrides the event setting."},
			&cli.BoolFlag{Name: "force", Usage: "Recompute even when the cached proposal is fresh."},
			&cli.DurationFlag{Name: "timeout", Usage: "Bound on busy-data fetching. Overrides fetch.timeout."},
			&cli.BoolFlag{Name: "allow-partial", Usage: "Return degraded results when some calendars fail."},
			&cli.StringFlag{Name: "format", Value: "text", Usage: "Output format: text, json or ics."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Recompute every N seconds."},
			&cli.StringFlag{Name: "schedule", Usage: "Recompute on a cron schedule, e.g. \"*/15 * * * *\". Overrides --watch."},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address, e.g. :9090."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(envLogLevel()).With("run_id", uuid.NewString())

			format := strings.ToLower(c.String("format"))
			switch format {
			case formatText, formatJSON, formatICS:
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			configPath := c.String("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := store.OpenSQLite(cfg.Database, store.DefaultSQLiteConfig())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			var proposals aggregator.ProposalStore = db
			if cfg.Redis != nil {
				rp, err := store.NewRedisProposals(ctx, store.RedisConfig{
					Addr:      cfg.Redis.Addr,
					Password:  os.Getenv(cfg.Redis.PasswordEnv),
					DB:        cfg.Redis.DB,
					KeyPrefix: cfg.Redis.KeyPrefix,
					TTL:       cfg.Redis.TTL,
				}, logger)
				if err != nil {
					return err
				}
				defer rp.Close()
				proposals = rp
			}

			router := buildRouter(ctx, logger, cfg)
			router.SetRateLimit(cfg.Fetch.RatePerSecond, cfg.Fetch.Concurrency)

			r := &runner{
				logger: logger,
				events: db,
				agg:    aggregator.NewAggregator(logger, db, router, proposals, cfg.Fetch.Concurrency),
				out:    os.Stdout,
				format: format,
				flags:  flagsFrom(c),
			}
			if err := r.seed(ctx, cfg); err != nil {
				return err
			}

			if addr := c.String("metrics-addr"); addr != "" {
				srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("Metrics server failed", "error", err)
					}
				}()
				defer srv.Close()
				logger.Info("Serving metrics.", "addr", addr)
			}

			cycle := func() {
				if err := r.runOnce(ctx); err != nil {
					logger.Error("Computation cycle failed", "error", err)
				}
			}

			switch {
			case c.IsSet("schedule"):
				sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
				if _, err := sched.AddFunc(c.String("schedule"), cycle); err != nil {
					return fmt.Errorf("invalid schedule %q: %w", c.String("schedule"), err)
				}
				go watchConfig(ctx, logger, configPath, r)
				logger.Info("Starting scheduler.", "schedule", c.String("schedule"))
				cycle()
				sched.Start()
				<-ctx.Done()
				<-sched.Stop().Done()
				logger.Info("Scheduler stopped.")
				return nil

			case c.IsSet("watch"):
				interval := time.Duration(c.Int("watch")) * time.Second
				go watchConfig(ctx, logger, configPath, r)
				logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					cycle()
					select {
					case <-ctx.Done():
						logger.Info("Watcher stopped.")
						return nil
					case <-ticker.C:
					}
				}
			}

			logger.Info("Running a single computation cycle.")
			return r.runOnce(ctx)
		},
	}
}

func flagsFrom(c *cli.Context) runFlags {
	f := runFlags{
		events:       c.StringSlice("event"),
		force:        c.Bool("force"),
		allowPartial: c.Bool("allow-partial"),
	}
	if c.IsSet("threshold") {
		v := c.Int("threshold")
		f.threshold = &v
	}
	if c.IsSet("timeout") {
		v := c.Duration("timeout")
		f.timeout = &v
	}
	return f
}

// watchConfig re-seeds events whenever the config file changes. Calendar
// sources are built once, so source edits need a restart.
func watchConfig(ctx context.Context, logger *slog.Logger, path string, r *runner) {
	err := config.Watch(ctx, logger, path, func(cfg *config.Config) {
		if err := r.seed(ctx, cfg); err != nil {
			logger.Error("Failed to apply reloaded configuration", "error", err)
			return
		}
		logger.Info("Event changes applied; calendar source changes take effect after restart.")
	})
	if err != nil {
		logger.Error("Config watcher failed", "error", err)
	}
}

// buildRouter registers every configured participant with its calendars. A
// calendar that cannot be set up is registered as unavailable so only its
// participant is affected.
func buildRouter(ctx context.Context, logger *slog.Logger, cfg *config.Config) *sources.Router {
	router := sources.NewRouter(logger)
	googleClients := make(map[string]*google.CalendarClient)

	for _, p := range cfg.Participants {
		var named []sources.Named
		for _, sc := range p.Sources {
			src, err := buildSource(ctx, logger, cfg, sc, googleClients)
			if err != nil {
				logger.Error("Calendar source unavailable", "participant", p.ID, "source", sc.Label(), "error", err)
				src = sources.Unavailable{Err: err}
			}
			named = append(named, sources.Named{Name: sc.Label(), Source: src})
		}
		router.Register(p.ID, named...)
	}
	logger.Info("Initialized calendar sources for all participants.", "participants", len(cfg.Participants))
	return router
}

func buildSource(ctx context.Context, logger *slog.Logger, cfg *config.Config, sc config.SourceConfig, googleClients map[string]*google.CalendarClient) (sources.Source, error) {
	loc := time.UTC
	if sc.Timezone != "" {
		l, err := time.LoadLocation(sc.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone '%s': %w", sc.Timezone, err)
		}
		loc = l
	}

	switch sc.Type {
	case config.SourceGoogle:
		client, ok := googleClients[sc.Account]
		if !ok {
			var err error
			client, err = google.NewClient(ctx, logger, os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"), cfg.TokenDir, sc.Account)
			if err != nil {
				return nil, fmt.Errorf("failed to create google client for account %s: %w", sc.Account, err)
			}
			googleClients[sc.Account] = client
		}
		return google.FreeBusySource{Client: client, CalendarIDs: sc.Calendars}, nil
	case config.SourceCalDAV:
		client, err := icloud.NewClient(ctx, logger, icloud.Config{
			Endpoint:     sc.Endpoint,
			Username:     sc.Username,
			Password:     sc.Password(),
			CalendarName: sc.Calendar,
			Location:     loc,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		return client, nil
	case config.SourceICS:
		return ics.NewFeed(logger, nil, sc.URL, loc), nil
	}
	return nil, &models.ValidationError{Field: "sources.type", Reason: fmt.Sprintf("unknown source type %q", sc.Type)}
}

func envLogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	return level
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
