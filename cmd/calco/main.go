package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"calco/internal/aggregate"
	"calco/internal/cli"
	apphttp "calco/internal/http"
	"calco/internal/log"
	"calco/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentApp)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	shutdownTracing := cli.SetupTracing(ctx, logger, cfg, "calco")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", log.FieldError, err)
		}
	}()

	store, cleanup := cli.OpenStore(ctx, logger, cfg)
	defer func() {
		if err := cleanup(); err != nil {
			logger.Error("Failed to close store", log.FieldError, err)
		}
	}()

	var publisher services.EventPublisher
	if client := cli.ConnectAMQP(logger, cfg, false); client != nil {
		defer client.Close()
		publisher = client
	}

	engine := aggregate.NewEngine(store, cli.EngineOptions(cfg), logger)
	ledger := services.NewLedgerService(store, engine, publisher, services.LedgerOptions{
		CompensateSheetDelete: cfg.DeleteSheetCompensates,
	}, logger)
	accounts := services.NewAccountService(store, services.AccountOptions{
		PasswordSalt:  cfg.PasswordSalt,
		InvitationTTL: cfg.InvitationTTL,
		SessionTTL:    cfg.SessionTTL,
	}, logger)

	if err := cli.BootstrapAdmin(ctx, logger, accounts, cfg); err != nil {
		logger.Error("Failed to bootstrap admin invitation", log.FieldError, err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, ledger, accounts, store, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		SecureCookies:      cfg.SecureCookies,
		Logger:             logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting calco server", "port", cfg.Port, log.FieldBackend, cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
