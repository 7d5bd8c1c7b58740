package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/logging"
	"github.com/andresmejia3/visage/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Cfg is the merged configuration (file, .env, environment, flags)
	Cfg config.Config
	// Log is the process logger
	Log zerolog.Logger
	// DB is the audit journal. Nil when no database is configured.
	DB *store.Store

	cfgPath  string
	dbURL    string
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "visage",
	Short:   "Face-verified lock for your browser profile",
	Long:    "Watches the camera, verifies the owner's face, and moves the browser profile out of reach while they are away.",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbURL != "" {
			Cfg.Database.URL = dbURL
		}
		if logLevel != "" {
			Cfg.Log.Level = logLevel
		}

		Log = logging.New(logging.Options{App: "visage", Level: Cfg.Log.Level})
		Log.Debug().Str("config", cfgPath).Msg("configuration loaded")

		if err := Cfg.EnsureDirs(); err != nil {
			return fmt.Errorf("failed to create data directories: %w", err)
		}

		if Cfg.Database.URL == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		Log.Debug().Str("session", DB.Session().String()).Msg("journal connected")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "Path to the TOML config file (created with defaults if missing)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the audit journal (default: database.url)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (default: log.level)")
}
