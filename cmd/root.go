package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	globalConfig "github.com/AzielCF/az-hub/config"
	domainHealth "github.com/AzielCF/az-hub/domains/health"
	domainMessage "github.com/AzielCF/az-hub/domains/message"
	domainSession "github.com/AzielCF/az-hub/domains/session"
	"github.com/AzielCF/az-hub/infrastructure"
	"github.com/AzielCF/az-hub/pkg/msgmux"
	"github.com/AzielCF/az-hub/pkg/msgpipeline"
	"github.com/AzielCF/az-hub/pkg/utils"
	"github.com/AzielCF/az-hub/repository"
	"github.com/AzielCF/az-hub/ui/websocket"
	"github.com/AzielCF/az-hub/usecase"
)

var (
	accountDB *gorm.DB

	// Usecase
	sessionUsecase   domainSession.ISessionUsecase
	reconnectUsecase domainHealth.IReconnectUsecase

	// Message plumbing
	messageMux      *msgmux.Multiplexer
	messagePipeline *msgpipeline.Pipeline
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Short: "Multi-account chat provider gateway",
	Long: `az-hub manages chat provider sessions over an http api: QR pairing,
account finalization, reconnection and a prioritized message pipeline.`,
}

func init() {
	// Load environment variables first
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initEnvConfig, initApp)
}

// initEnvConfig loads configuration from environment variables
func initEnvConfig() {
	if envPort := viper.GetString("app_port"); envPort != "" {
		globalConfig.AppPort = envPort
	}
	if envDebug := viper.GetBool("app_debug"); envDebug {
		globalConfig.AppDebug = envDebug
	}
	envBasicAuth := viper.GetString("app_basic_auth")
	if envBasicAuth == "" {
		envBasicAuth = os.Getenv("APP_BASIC_AUTH")
	}
	if envBasicAuth != "" {
		globalConfig.AppBasicAuthCredential = strings.Split(envBasicAuth, ",")
	}
	if envBasePath := viper.GetString("app_base_path"); envBasePath != "" {
		globalConfig.AppBasePath = envBasePath
	}
	if envDBURI := viper.GetString("account_db_uri"); envDBURI != "" {
		globalConfig.AccountDBURI = envDBURI
	}
}

func initFlags() {
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AppPort,
		"port", "p",
		globalConfig.AppPort,
		"change port number with --port <number> | example: --port=8080",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&globalConfig.AppDebug,
		"debug", "d",
		globalConfig.AppDebug,
		"hide or displaying log with --debug <true/false> | example: --debug=true",
	)
	rootCmd.PersistentFlags().StringSliceVarP(
		&globalConfig.AppBasicAuthCredential,
		"basic-auth", "b",
		globalConfig.AppBasicAuthCredential,
		"basic auth credential | -b=yourUsername:yourPassword",
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AppBasePath,
		"base-path", "",
		globalConfig.AppBasePath,
		`base path for subpath deployment --base-path <string> | example: --base-path="/hub"`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AccountDBURI,
		"db-uri", "",
		globalConfig.AccountDBURI,
		`the database uri for finalized accounts --db-uri <string> | example: --db-uri="file:storages/accounts.db?_foreign_keys=on" or a postgres dsn`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.PathStorages,
		"storages", "",
		globalConfig.PathStorages,
		`root directory for session storage --storages <path>`,
	)
}

func initApp() {
	if globalConfig.AppDebug {
		globalConfig.WhatsappLogLevel = "DEBUG"
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := os.MkdirAll(globalConfig.PathStorages, 0o755); err != nil {
		logrus.Fatalf("failed to create storage directory: %v", err)
	}

	ctx := context.Background()

	var err error
	accountDB, err = repository.OpenDatabase(globalConfig.AccountDBURI)
	if err != nil {
		logrus.Fatalf("failed to open account database: %v", err)
	}

	accountRepo := repository.NewAccountGormRepository(accountDB)
	if err := accountRepo.Init(ctx); err != nil {
		logrus.Fatalf("failed to migrate account schema: %v", err)
	}

	factory := infrastructure.NewProviderFactory()
	messageMux = msgmux.NewMultiplexer()
	messagePipeline = msgpipeline.NewPipeline(domainMessage.PipelineConfig{
		MaxQueueSize:         globalConfig.PipelineMaxQueueSize,
		BatchSize:            globalConfig.PipelineBatchSize,
		BatchInterval:        globalConfig.PipelineBatchInterval,
		MaxRetries:           globalConfig.PipelineMaxRetries,
		RetryDelay:           globalConfig.PipelineRetryDelay,
		DedupWindow:          globalConfig.PipelineDedupWindow,
		MaxMessagesPerSecond: globalConfig.PipelineMaxMessagesPerSecond,
		MaxMessagesPerMinute: globalConfig.PipelineMaxMessagesPerMinute,
	})

	// Everything the multiplexer tags flows into the pipeline.
	messageMux.Subscribe(messagePipeline.Ingest)

	sessionService := usecase.NewSessionService(
		accountRepo,
		factory,
		messageMux,
		globalConfig.PathStorages,
		usecase.SessionTimings(globalConfig.QRExpiry, globalConfig.QRRefresh, globalConfig.PairingTimeout),
	)
	sessionService.SetStateChangeListener(websocket.BroadcastStateChange)
	sessionUsecase = sessionService

	reconnectUsecase = usecase.NewReconnectService(
		accountRepo,
		factory,
		messageMux,
		globalConfig.PathStorages,
		usecase.ReconnectOptions{
			Concurrency:      globalConfig.ReconnectConcurrency,
			BatchPause:       globalConfig.ReconnectBatchPause,
			PollInterval:     globalConfig.ReconnectPollInterval,
			ConnectTimeout:   globalConfig.ReconnectTimeout,
			CheckInterval:    globalConfig.HealthCheckInterval,
			StalenessWindow:  globalConfig.HealthStalenessWindow,
			HistoryWindow:    globalConfig.HistorySyncWindow,
			HistoryChatLimit: globalConfig.HistorySyncChatLimit,
			MaxAutoRetries:   globalConfig.ReconnectMaxAutoRetries,
		},
	)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp performs a clean shutdown of the pipeline and database connections.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	if messagePipeline != nil {
		messagePipeline.Stop()
	}

	if accountDB != nil {
		if sqlDB, err := accountDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
