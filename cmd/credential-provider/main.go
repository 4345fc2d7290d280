package main

import (
	"context"

	"ap2-payments/internal/adapter/http/client"
	"ap2-payments/internal/adapter/http/handler"
	"ap2-payments/internal/app"
	"ap2-payments/internal/service"
)

func main() {
	cfg, log := app.Load("credential-provider")
	ctx := context.Background()

	identity, err := app.SetupIdentity(cfg, "cp", "credential_provider", cfg.Services.CredentialProvider.BaseURL(), log)
	if err != nil {
		app.Fatal(log, err, "identity setup failed")
	}

	stores, err := app.SetupStores(ctx, cfg, log)
	if err != nil {
		app.Fatal(log, err, "store setup failed")
	}
	defer stores.Close()

	network := client.NewNetworkClient(cfg.Services.PaymentNetwork.BaseURL(), cfg.Timeouts.HTTPRequest)
	credentials := service.NewCredentialService(stores.Challenges, stores.Sessions, network,
		cfg.Services.CredentialProvider.Host, log)

	router := handler.SetupCredentialRouter(handler.CredentialRouterDeps{
		Credentials:    credentials,
		DIDDocument:    identity.Document,
		HealthCheckers: stores.Health,
		Logger:         log,
	})

	app.Run(cfg.Services.CredentialProvider.Addr(), router, log)
}
