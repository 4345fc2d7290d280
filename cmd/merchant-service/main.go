package main

import (
	"context"

	"ap2-payments/internal/adapter/http/handler"
	"ap2-payments/internal/app"
	"ap2-payments/internal/crypto"
	"ap2-payments/internal/did"
	"ap2-payments/internal/service"
)

func main() {
	cfg, log := app.Load("merchant-service")
	ctx := context.Background()

	_, name, err := did.Parse(cfg.Merchant.ID)
	if err != nil {
		app.Fatal(log, err, "merchant.id is not a valid DID")
	}
	identity, err := app.SetupIdentity(cfg, "merchant", name, cfg.Services.Merchant.BaseURL(), log)
	if err != nil {
		app.Fatal(log, err, "identity setup failed")
	}

	stores, err := app.SetupStores(ctx, cfg, log)
	if err != nil {
		app.Fatal(log, err, "store setup failed")
	}
	defer stores.Close()

	issuer := crypto.NewMerchantJWTIssuer(identity.Signer, identity.DID)
	signing := service.NewSigningService(identity.DID, service.SigningMode(cfg.Merchant.Mode), issuer, log)
	log.Info().Str("mode", cfg.Merchant.Mode).Msg("merchant signing service ready")

	router := handler.SetupSigningRouter(handler.SigningRouterDeps{
		Signing:        signing,
		DIDDocument:    identity.Document,
		HealthCheckers: stores.Health,
		Logger:         log,
	})

	app.Run(cfg.Services.Merchant.Addr(), router, log)
}
