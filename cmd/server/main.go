package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/startuppulse/pulsesync/internal/config"
	"github.com/startuppulse/pulsesync/internal/server"
	"github.com/startuppulse/pulsesync/internal/server/handlers"
	"github.com/startuppulse/pulsesync/internal/server/jwt"
	"github.com/startuppulse/pulsesync/internal/validation"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "pulsesync-server",
		Short:         "Reference document service for pulsesync clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (YAML)")

	load := func(c *cobra.Command) (*config.ServerConfig, error) {
		return config.NewLoader(configPath, c.Flags()).WithDotenv(".env").LoadServer()
	}

	cmd.AddCommand(serveCmd(load), tokenCmd(load), keygenCmd(), versionCmd())
	return cmd
}

type loadFunc func(c *cobra.Command) (*config.ServerConfig, error)

func serveCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the document service",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := load(c)
			if err != nil {
				return err
			}
			logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			handlers.Version = Version

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := srv.Close(); err != nil {
					logger.Error("Failed to close server", "error", err)
				}
			}()

			logger.Info("Starting pulsesync server", "version", Version, "addr", cfg.ListenAddr, "db", cfg.DBPath)
			return srv.Run(ctx)
		},
	}
	config.BindFlags(cmd.Flags(), config.DefaultServer())
	return cmd
}

func tokenCmd(load loadFunc) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		RunE: func(c *cobra.Command, _ []string) error {
			if err := validation.ValidateID("user id", userID); err != nil {
				return err
			}
			cfg, err := load(c)
			if err != nil {
				return err
			}
			token, expiresAt, err := jwt.NewService(cfg.JWTSecret, cfg.AccessTokenTTL).GenerateAccessToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), token)
			fmt.Fprintf(c.ErrOrStderr(), "expires at %s\n", time.Unix(expiresAt, 0).UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id of the token subject")
	_ = cmd.MarkFlagRequired("user")
	config.BindFlags(cmd.Flags(), config.DefaultServer())
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key pair for entitlement tokens",
		RunE: func(c *cobra.Command, _ []string) error {
			seed := make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)

			out := c.OutOrStdout()
			fmt.Fprintf(out, "%sENTITLEMENT_PRIVATE_KEY=%s\n", config.EnvPrefix, base64.StdEncoding.EncodeToString(seed))
			fmt.Fprintf(out, "%sENTITLEMENT_PUBLIC_KEY=%s\n", config.EnvPrefix, base64.StdEncoding.EncodeToString(pub))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(c *cobra.Command, _ []string) {
			out := c.OutOrStdout()
			fmt.Fprintf(out, "pulsesync server\n")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	}
}
