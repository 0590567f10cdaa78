package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atopypass/backend/internal/ai"
	"github.com/atopypass/backend/internal/config"
	"github.com/atopypass/backend/internal/consent"
	"github.com/atopypass/backend/internal/database"
	"github.com/atopypass/backend/internal/ledger"
	"github.com/atopypass/backend/internal/logging"
	"github.com/atopypass/backend/internal/records"
	"github.com/atopypass/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "atopypass-api",
		Short: "AtopyPass consent and record backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("ledger-rpc-url", defaults.GetString("ledger.rpc_url"), "Ledger JSON-RPC endpoint")
	cmd.PersistentFlags().String("ledger-commitment", defaults.GetString("ledger.commitment"), "Commitment level for transaction lookups")
	cmd.PersistentFlags().String("ai-base-url", defaults.GetString("ai.base_url"), "OpenAI-compatible API base URL")
	cmd.PersistentFlags().String("ai-model", defaults.GetString("ai.model"), "Model used for note structuring")
	cmd.PersistentFlags().String("ai-api-key", "", "API key for note structuring (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "ledger.rpc_url", "ledger-rpc-url")
	bindFlag(cmd, "ledger.commitment", "ledger-commitment")
	bindFlag(cmd, "ai.base_url", "ai-base-url")
	bindFlag(cmd, "ai.model", "ai-model")
	bindFlag(cmd, "ai.api_key", "ai-api-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	rpcClient, err := ledger.NewRPCClient(ledger.RPCClientConfig{
		Endpoint:   appConfig.RPCEndpoint,
		Commitment: appConfig.RPCCommitment,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	memoReader, err := ledger.NewReader(ledger.ReaderConfig{
		Client: rpcClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	structurer := ai.Disabled()
	if appConfig.AIAPIKey != "" {
		structurer = ai.NewChatStructurer(ai.ChatStructurerConfig{
			BaseURL: appConfig.AIBaseURL,
			APIKey:  appConfig.AIAPIKey,
			Model:   appConfig.AIModel,
			Logger:  logger,
		})
	} else {
		logger.Info("note structuring disabled, no API key configured")
	}

	recordsService, err := records.NewService(records.ServiceConfig{
		Database:   db,
		Reader:     memoReader,
		Structurer: structurer,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	consentService, err := consent.NewService(consent.ServiceConfig{
		Database: db,
		Reader:   memoReader,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		RecordsService: recordsService,
		ConsentService: consentService,
		Logger:         logger,
		Clock:          time.Now,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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
