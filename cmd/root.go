package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/warden/internal/config"
	"github.com/andresmejia3/warden/internal/store"
)

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// Cfg is the environment configuration loaded before every command
	Cfg *config.Config
	// Logger is the structured logger built from Cfg
	Logger *slog.Logger
	// dbURL overrides DATABASE_URL
	dbURL string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "warden",
	Short:   "Unattended equipment handoff kiosk",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load()
		if err != nil {
			return err
		}
		Logger = config.NewLogger(Cfg.Environment)
		slog.SetDefault(Logger)

		if dbURL == "" {
			dbURL = Cfg.DatabaseURL
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.Open(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled by Ctrl+C.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $DATABASE_URL)")
}
