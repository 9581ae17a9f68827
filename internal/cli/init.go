// Package cli provides the initialization shared by cmd/calco and
// cmd/calco-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"calco/internal/aggregate"
	"calco/internal/amqp"
	"calco/internal/backend"
	"calco/internal/config"
	"calco/internal/ledger"
	"calco/internal/log"
	"calco/internal/services"
	"calco/internal/telemetry"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger and installs it as the slog default.
func SetupLogger(level string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.New(log.DefaultConfig()).Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// OpenStore opens the configured backend or exits the process.
func OpenStore(ctx context.Context, logger *log.Logger, cfg *config.Config) (ledger.Store, backend.CleanupFunc) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	return res.Store, res.Cleanup
}

// SetupTracing installs the OTLP exporter when enabled. Failure only
// disables tracing.
func SetupTracing(ctx context.Context, logger *log.Logger, cfg *config.Config, serviceName string) func(context.Context) error {
	shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		logger.Warn("Tracing disabled", log.FieldError, err)
		return func(context.Context) error { return nil }
	}
	if cfg.OTelEnabled {
		logger.Info("Tracing enabled", "endpoint", cfg.OTelEndpoint)
	}
	return shutdown
}

// ConnectAMQP returns nil when no broker is configured. A broker that is
// configured but unreachable is fatal only when required is set.
func ConnectAMQP(logger *log.Logger, cfg *config.Config, required bool) *amqp.Client {
	if cfg.AMQPURL == "" {
		if required {
			logger.Error("AMQP_URL is required")
			os.Exit(1)
		}
		logger.Info("AMQP disabled, ledger events will not be published")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		if required {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		return nil
	}
	logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// EngineOptions maps the propagation settings. Validate has already
// rejected unknown modes.
func EngineOptions(cfg *config.Config) aggregate.Options {
	mode, _ := aggregate.ParseMode(cfg.PropagationMode)
	return aggregate.Options{Mode: mode, MaxVisits: cfg.PropagationMaxVisits}
}

// BootstrapAdmin makes sure the configured admin can sign up and tells the
// operator where.
func BootstrapAdmin(ctx context.Context, logger *log.Logger, accounts *services.AccountService, cfg *config.Config) error {
	inv, created, err := accounts.BootstrapAdminInvitation(ctx, cfg.AdminHandle)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	url := services.SignupURL(inv)
	logger.Info("Admin invitation ready", log.FieldHandle, inv.Handle, "signup_url", url, "expires_at", inv.ExpiresAt)

	if cfg.InvitationFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.InvitationFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(cfg.InvitationFile, []byte(url+"\n"), 0o600)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
	}()
	return ctx, stop
}
