package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"claimrails/internal/claims"
	"claimrails/internal/config"
	"claimrails/internal/idempotency"
	"claimrails/internal/ledger"
	"claimrails/internal/notify"
	"claimrails/internal/registry"
	"claimrails/internal/secret"
	"claimrails/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	var store registry.Store
	var idemStore idempotency.Store
	if cfg.Registry.PostgresDSN != "" {
		pgStore, err := registry.NewPostgresStore(ctx, cfg.Registry.PostgresDSN)
		if err != nil {
			log.Fatalf("registry store error: %v", err)
		}
		defer pgStore.Close()
		store = pgStore

		pgIdem, err := idempotency.NewPostgresStore(ctx, cfg.Registry.PostgresDSN)
		if err != nil {
			log.Fatalf("idempotency store error: %v", err)
		}
		defer pgIdem.Close()
		idemStore = pgIdem
	} else {
		log.Printf("REGISTRY_POSTGRES_DSN not set, using in-memory stores")
		store = registry.NewMemoryStore()
		idemStore = idempotency.NewMemoryStore()
	}

	var gw ledger.Gateway
	if cfg.Ledger.BridgeURL != "" {
		bridge, err := ledger.NewBridgeClient(ledger.BridgeConfig{
			BaseURL:   cfg.Ledger.BridgeURL,
			AuthToken: cfg.Ledger.BridgeToken,
			Timeout:   cfg.Ledger.Timeout,
		})
		if err != nil {
			log.Fatalf("ledger bridge error: %v", err)
		}
		gw = bridge
	} else {
		log.Printf("LEDGER_BRIDGE_URL not set, using in-memory fake ledger")
		gw = ledger.NewFakeGateway()
	}

	var notifier notify.Gateway
	if cfg.Notify.TwilioAccountSID != "" {
		twilioGw, err := notify.NewTwilioGateway(notify.TwilioConfig{
			AccountSID: cfg.Notify.TwilioAccountSID,
			AuthToken:  cfg.Notify.TwilioAuthToken,
			FromNumber: cfg.Notify.FromNumber,
		})
		if err != nil {
			log.Fatalf("twilio error: %v", err)
		}
		notifier = twilioGw
	} else {
		log.Printf("TWILIO_ACCOUNT_SID not set, notifications go to the process log")
		notifier = notify.LogGateway{}
	}

	secrets := secret.NewStore(store, cfg.Claims.MaxPinAttempts)
	service := claims.NewService(store, secrets, gw, notifier, cfg.Claims, cfg.Retry)

	sweeper, err := service.StartSweeper(cfg.Claims.SweepInterval)
	if err != nil {
		log.Fatalf("sweeper error: %v", err)
	}

	apiServer := server.NewServer(cfg, service, store, idemStore, gw)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = sweeper.Shutdown()
}
