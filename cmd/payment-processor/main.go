package main

import (
	"context"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/adapter/http/client"
	"ap2-payments/internal/adapter/http/handler"
	"ap2-payments/internal/adapter/storage/memory"
	pgStorage "ap2-payments/internal/adapter/storage/postgres"
	"ap2-payments/internal/app"
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/crypto"
	"ap2-payments/internal/service"
)

func main() {
	cfg, log := app.Load("payment-processor")
	ctx := context.Background()

	identity, err := app.SetupIdentity(cfg, "agent", "payment_processor", cfg.Services.PaymentProcessor.BaseURL(), log)
	if err != nil {
		app.Fatal(log, err, "identity setup failed")
	}

	stores, err := app.SetupStores(ctx, cfg, log)
	if err != nil {
		app.Fatal(log, err, "store setup failed")
	}
	defer stores.Close()

	// Transaction log: PostgreSQL when configured, process-local otherwise.
	var repo ports.TransactionRepository = memory.NewTransactionRepo()
	health := stores.Health
	if cfg.Database.URL != "" {
		pool, err := pgStorage.NewPool(ctx, cfg.Database.URL, log)
		if err != nil {
			app.Fatal(log, err, "database setup failed")
		}
		defer pool.Close()
		repo = pgStorage.NewTransactionRepo(pool)
		health = append(health, pgStorage.NewHealthCheck(pool))
	} else {
		log.Warn().Msg("no database configured; transaction log is process-local")
	}

	network := client.NewNetworkClient(cfg.Services.PaymentNetwork.BaseURL(), cfg.Timeouts.ChargeRPC)
	credentials := client.NewCredentialClient(cfg.Services.CredentialProvider.BaseURL(), cfg.Timeouts.HTTPRequest)

	processor := service.NewProcessorService(service.ProcessorDeps{
		MerchantJWT: crypto.NewMerchantJWTVerifier(identity.Resolver, stores.Replay),
		UserAuth:    crypto.NewUserAuthorizationVerifier(nil),
		Replay:      stores.Replay,
		Counters:    stores.Counters,
		Repo:        repo,
		Network:     network,
		Credentials: credentials,
		ReceiptBase: cfg.Services.PaymentProcessor.BaseURL(),
		RPID:        cfg.Services.CredentialProvider.Host,
		ChargeRPC:   cfg.Timeouts.ChargeRPC,
		Logger:      log,
	})

	dispatcher := a2a.NewDispatcher(identity.DID, identity.Signer,
		a2a.NewVerifier(identity.Resolver, stores.Replay), log)
	handler.RegisterProcessorHandlers(dispatcher, processor, identity.DID)

	router := handler.SetupProcessorRouter(handler.ProcessorRouterDeps{
		Processor:      processor,
		Dispatcher:     dispatcher,
		DIDDocument:    identity.Document,
		HealthCheckers: health,
		Logger:         log,
	})

	app.Run(cfg.Services.PaymentProcessor.Addr(), router, log)
}
