package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/routinesense/ai/proactive"
	"github.com/hrygo/routinesense/internal/profile"
	"github.com/hrygo/routinesense/server"
)

const shutdownTimeout = 10 * time.Second

var (
	rootCmd = &cobra.Command{
		Use:   "routinesense",
		Short: `Detects recurring routines in reminder and task history, offers to automate them, and nudges when one is skipped.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units provide their environment through EnvironmentFile.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			if cfgFile := viper.GetString("config"); cfgFile != "" {
				viper.SetConfigFile(cfgFile)
				if err := viper.ReadInConfig(); err != nil {
					return errors.Wrapf(err, "failed to read config file %s", cfgFile)
				}
			}
			return nil
		},
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the detection and sweep scheduler with the ops server (default)",
		RunE:  runServe,
	}
)

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	detector, monitor, err := a.engine()
	if err != nil {
		return err
	}
	scheduler := proactive.NewScheduler(detector, monitor, a.store, a.store, a.config, a.options()...)
	s := server.NewServer(a.profile, scheduler, a.exporter.Handler(), a.logger)

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	signal.Notify(c, terminationSignals...)

	scheduler.Start(ctx)
	if a.telegram != nil {
		go a.telegram.ListenCallbacks(ctx, a.responder(), a.logger)
	}
	go func() {
		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start ops server", "error", err)
			cancel()
		}
	}()

	printGreetings(a.profile)

	select {
	case <-c:
	case <-ctx.Done():
	}

	scheduler.Stop()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ops server shutdown", "error", err)
	}
	return nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	def := proactive.DefaultConfig()
	grace := proactive.DefaultGracePeriods()
	for priority, d := range grace {
		viper.SetDefault("grace."+string(priority), d)
	}
	viper.SetDefault("notify.queue-size", 256)
	viper.SetDefault("notify.rate", 5.0)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("mode", "dev", `mode of the worker, can be "prod" or "dev" or "demo"`)
	flags.String("addr", "", "address of the ops server")
	flags.Int("port", 28090, "port of the ops server")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "database driver (sqlite, postgres)")
	flags.String("dsn", "", "database source name(aka. DSN)")
	flags.String("timezone", "", `IANA timezone for calendar days, e.g. "Europe/Berlin" (default local)`)
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	flags.Int("lookback-days", def.Analysis.LookbackDays, "days of activity history scanned per detection pass")
	flags.Int("min-occurrences", def.Analysis.MinOccurrences, "occurrences required before a routine is classified")
	flags.Float64("create-threshold", def.CreateThreshold, "minimum consistency for a new pattern")
	flags.Float64("offer-threshold", def.OfferThreshold, "minimum consistency for the automation offer")
	flags.Duration("stale-after", def.StaleAfter, "age of the last occurrence after which a pattern is stale")
	flags.Duration("detect-interval", def.DetectInterval, "interval between detection passes")
	flags.Duration("sweep-interval", def.SweepInterval, "interval between forgotten-activity sweeps")
	flags.Int("concurrency", def.Concurrency, "users processed concurrently")
	flags.Duration("user-timeout", def.UserTimeout, "time budget for one user's pass")

	for _, name := range []string{
		"config", "mode", "addr", "port", "data", "driver", "dsn", "timezone", "log-level", "log-format",
		"lookback-days", "min-occurrences", "create-threshold", "offer-threshold", "stale-after",
		"detect-interval", "sweep-interval", "concurrency", "user-timeout",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("routinesense")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(serveCmd, detectCmd, sweepCmd, patternsCmd, activityCmd, notificationsCmd, versionCmd)
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("RoutineSense %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	fmt.Printf("Timezone: %s\n", profile.Location())

	if len(profile.Addr) == 0 {
		fmt.Printf("Ops server running on port %d\n", profile.Port)
		fmt.Printf("Health: http://localhost:%d/healthz\n", profile.Port)
	} else {
		fmt.Printf("Ops server running on %s:%d\n", profile.Addr, profile.Port)
		fmt.Printf("Health: http://%s:%d/healthz\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides user-friendly error messages for database connection issues
func printDatabaseError(err error, profile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "cannot connect"):
		fmt.Fprintln(os.Stderr, "\n  PostgreSQL is not reachable.")
		if profile.Driver == "postgres" {
			fmt.Fprintf(os.Stderr, "  Start it with: sudo systemctl start postgresql\n")
		}
		fmt.Fprintf(os.Stderr, "\n  Or use SQLite: ROUTINESENSE_DRIVER=sqlite or --driver=sqlite --data=./data\n")

	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "\n  PostgreSQL SSL configuration mismatch.")
		fmt.Fprintf(os.Stderr, "  Add ?sslmode=disable to your DSN.\n")

	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "\n  PostgreSQL authentication failed.")
		fmt.Fprintf(os.Stderr, "  Check your credentials in the DSN or .env file.\n")

	case strings.Contains(errMsg, "permission denied"):
		fmt.Fprintln(os.Stderr, "\n  Permission denied.")
		fmt.Fprintf(os.Stderr, "  Check that the data directory %s is writable.\n", profile.Data)

	default:
		fmt.Fprintln(os.Stderr, "\n  Error:", errMsg)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
