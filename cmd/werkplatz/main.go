package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/werkplatz/werkplatz-api/internal/api"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/config"
	"github.com/werkplatz/werkplatz-api/internal/logging"
	"github.com/werkplatz/werkplatz-api/internal/store"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "werkplatz",
	Short:         "Werkplatz marketplace API",
	Long:          `Werkplatz serves the subscription, entitlement and moderation API of the Werkplatz marketplace.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending store migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := store.Open(cmd.Context(), storeConfig(cfg))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		applied, err := s.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Store is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Werkplatz %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

var issueTokenTTL time.Duration

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token <user-id>",
	Short: "Print a session token for an existing user",
	Long: `Print a signed session token for an existing user.

Operators use this to bootstrap the first administrator session. The token is
revoked like any other session by a forced logout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := strings.TrimSpace(args[0])
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := api.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		row, err := s.Get(cmd.Context(), store.TableProfiles, store.Eq{"id": userID})
		if errors.Is(err, store.ErrNoRows) {
			return fmt.Errorf("user %q not found", userID)
		}
		if err != nil {
			return fmt.Errorf("load user %q: %w", userID, err)
		}
		principal := auth.PrincipalFromRow(row)
		if principal.Blocked() {
			return fmt.Errorf("user %q is banned or deleted", userID)
		}

		token, err := auth.NewIssuer(cfg.JWTSecret).Issue(userID, issueTokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Token for %s (role %s), valid for %s:\n", userID, principal.Role, issueTokenTTL)
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	issueTokenCmd.Flags().DurationVar(&issueTokenTTL, "ttl", time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(issueTokenCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "werkplatz",
	})
	return cfg, nil
}

func storeConfig(cfg *config.Config) store.Config {
	return store.Config{
		Driver:  store.Driver(cfg.StoreDriver),
		DataDir: cfg.DataDir,
		DSN:     cfg.DatabaseURL,
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return api.Run(ctx, cfg, Version)
}
