package main

import (
	"context"

	"ap2-payments/internal/adapter/http/handler"
	"ap2-payments/internal/app"
	"ap2-payments/internal/service"
)

func main() {
	cfg, log := app.Load("payment-network")
	ctx := context.Background()

	stores, err := app.SetupStores(ctx, cfg, log)
	if err != nil {
		app.Fatal(log, err, "store setup failed")
	}
	defer stores.Close()

	network := service.NewNetworkService("apnet", stores.Tokens, log)

	router := handler.SetupNetworkRouter(handler.NetworkRouterDeps{
		Network:        network,
		HealthCheckers: stores.Health,
		Logger:         log,
	})

	app.Run(cfg.Services.PaymentNetwork.Addr(), router, log)
}
