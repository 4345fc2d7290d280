package main

import (
	"context"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/adapter/http/client"
	"ap2-payments/internal/adapter/http/handler"
	"ap2-payments/internal/app"
	"ap2-payments/internal/service"
)

func main() {
	cfg, log := app.Load("merchant-agent")
	ctx := context.Background()

	identity, err := app.SetupIdentity(cfg, "agent", "merchant_agent", cfg.Services.MerchantAgent.BaseURL(), log)
	if err != nil {
		app.Fatal(log, err, "identity setup failed")
	}

	stores, err := app.SetupStores(ctx, cfg, log)
	if err != nil {
		app.Fatal(log, err, "store setup failed")
	}
	defer stores.Close()

	signing := client.NewSigningClient(cfg.Services.Merchant.BaseURL(), cfg.Timeouts.HTTPRequest)
	catalog := service.DefaultCatalog()
	agent := service.NewMerchantAgent(catalog, signing, cfg.Merchant.ID, cfg.Merchant.Name,
		cfg.Timeouts.CartExpiry, cfg.Timeouts.SignPoll, cfg.Timeouts.SignPollCap, log)

	dispatcher := a2a.NewDispatcher(identity.DID, identity.Signer,
		a2a.NewVerifier(identity.Resolver, stores.Replay), log)
	handler.RegisterMerchantAgentHandlers(dispatcher, agent, identity.DID)

	router := handler.SetupMerchantAgentRouter(handler.MerchantAgentRouterDeps{
		Agent:          agent,
		Catalog:        catalog,
		Dispatcher:     dispatcher,
		DIDDocument:    identity.Document,
		HealthCheckers: stores.Health,
		Logger:         log,
	})

	app.Run(cfg.Services.MerchantAgent.Addr(), router, log)
}
