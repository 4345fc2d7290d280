package main

import (
	"context"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/adapter/http/client"
	"ap2-payments/internal/adapter/http/handler"
	"ap2-payments/internal/app"
	"ap2-payments/internal/risk"
	"ap2-payments/internal/service"
)

func main() {
	cfg, log := app.Load("shopping-agent")
	ctx := context.Background()

	identity, err := app.SetupIdentity(cfg, "agent", "shopping_agent", cfg.Services.ShoppingAgent.BaseURL(), log)
	if err != nil {
		app.Fatal(log, err, "identity setup failed")
	}

	stores, err := app.SetupStores(ctx, cfg, log)
	if err != nil {
		app.Fatal(log, err, "store setup failed")
	}
	defer stores.Close()

	verifier := a2a.NewVerifier(identity.Resolver, stores.Replay)
	a2aClient := a2a.NewClient(identity.DID, identity.Signer, verifier,
		client.NewHTTPClient(cfg.Timeouts.CartWait))

	merchant := client.NewMerchantA2AClient(a2aClient, cfg.Services.MerchantAgent.BaseURL(),
		"did:ap2:agent:merchant_agent")
	processor := client.NewProcessorA2AClient(a2aClient, cfg.Services.PaymentProcessor.BaseURL(),
		"did:ap2:agent:payment_processor")
	credentials := client.NewCredentialClient(cfg.Services.CredentialProvider.BaseURL(), cfg.Timeouts.HTTPRequest)

	agent := service.NewShoppingAgent(service.ShoppingAgentDeps{
		Merchant:    merchant,
		Processor:   processor,
		Credentials: credentials,
		Risk:        risk.NewEngine(risk.NewMemoryHistory()),
		UserKeys:    identity.Keys,
		MerchantDID: cfg.Merchant.ID,
		CartWait:    cfg.Timeouts.CartWait,
		IntentTTL:   cfg.Timeouts.IntentExpiry,
		Logger:      log,
	})

	router := handler.SetupShoppingRouter(handler.ShoppingRouterDeps{
		Agent:          agent,
		DIDDocument:    identity.Document,
		HealthCheckers: stores.Health,
		Logger:         log,
	})

	app.Run(cfg.Services.ShoppingAgent.Addr(), router, log)
}
