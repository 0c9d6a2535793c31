package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/app"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/auth"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/config"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/database"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "streetteam-api",
		Short: "Street team progression backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newReconcileCommand(), newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for the leaderboard; empty disables it")
	cmd.PersistentFlags().Duration("reconcile-interval", defaults.GetDuration("reconcile.interval"), "Background reconcile interval; 0 disables it")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "reconcile.interval", "reconcile-interval")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// bootstrap loads configuration and opens the database shared by every command.
func bootstrap(ctx context.Context) (*app.App, *gorm.DB, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	application, err := app.New(ctx, app.Options{
		Config:   appConfig,
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		closeDatabase(db)
		return nil, nil, nil, err
	}
	return application, db, logger, nil
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func runServer(ctx context.Context) error {
	application, db, logger, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer closeDatabase(db)
	defer application.Close() //nolint:errcheck

	handler, err := application.Handler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              application.Config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if application.Reconcile != nil {
		if err := application.Reconcile.Start(signalCtx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", application.Config.HTTPAddress),
			zap.Bool("leaderboard", application.Leaderboard != nil))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild every agent's cached XP, points and rank from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, db, logger, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer closeDatabase(db)
			defer application.Close() //nolint:errcheck

			repaired, err := application.Ledger.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("reconcile finished", zap.Int("repaired", repaired))
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d agent(s)\n", repaired)
			return nil
		},
	}
}

func newIssueTokenCommand() *cobra.Command {
	var claims auth.SessionClaims
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a session token for local testing or operator access",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      appConfig.AuthTokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&claims.UserID, "user-id", "", "Agent user id")
	cmd.Flags().StringVar(&claims.UserEmail, "email", "", "Agent email")
	cmd.Flags().StringVar(&claims.UserDisplayName, "name", "", "Agent display name")
	cmd.Flags().StringVar(&claims.UserCity, "city", "", "Agent home city")
	cmd.Flags().StringSliceVar(&claims.UserRoles, "role", []string{auth.RoleAgent}, "Roles to grant (repeatable)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
