// Package app holds the bootstrap shared by every service binary: config
// and logger setup, signing identity, DID document publication, shared
// stores, and the HTTP server lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ap2-payments/config"
	"ap2-payments/internal/adapter/storage/memory"
	redisStorage "ap2-payments/internal/adapter/storage/redis"
	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/crypto"
	"ap2-payments/internal/did"
	"ap2-payments/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Exit codes: 0 clean shutdown, 1 startup failure, 2 fatal runtime.
const (
	ExitStartupFailure = 1
	ExitFatalRuntime   = 2
)

// Identity is a service's signing identity plus the resolver seeded with
// its own document.
type Identity struct {
	DID      string
	Signer   *crypto.Signer
	Document *did.Document
	Resolver *did.Resolver
	Keys     *crypto.KeyStore
}

// Load reads config and builds the service logger. Config errors are
// startup failures.
func Load(serviceName string) (*config.Config, zerolog.Logger) {
	cfg, err := config.Load(os.Getenv("AP2_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(ExitStartupFailure)
	}
	log := logger.New(serviceName, cfg.Log.Level, cfg.Log.Pretty)
	return cfg, log
}

// SetupIdentity loads (or generates) the service key, publishes the DID
// document to the registry, and builds a resolver.
func SetupIdentity(cfg *config.Config, role, name, baseURL string, log zerolog.Logger) (*Identity, error) {
	didStr := fmt.Sprintf("did:ap2:%s:%s", role, name)

	ks := crypto.NewKeyStore(cfg.Keys.Directory, config.Passphrase(name))
	key, err := ks.LoadOrGenerate(didStr, crypto.AlgES256)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	signer := crypto.NewSigner(key, crypto.AlgES256, didStr+crypto.AlgES256.KeyFragment())

	doc, err := did.DocumentForKey(didStr, crypto.AlgES256, signer.Public(), baseURL)
	if err != nil {
		return nil, fmt.Errorf("building DID document: %w", err)
	}
	registry := cfg.Keys.DIDDocumentsDir()
	if err := did.WriteDocument(registry, doc); err != nil {
		return nil, fmt.Errorf("publishing DID document: %w", err)
	}

	resolver := did.NewResolver(registry, cfg.Services.EndpointMap(), log)
	resolver.Register(doc)

	log.Info().Str("did", didStr).Msg("signing identity ready")
	return &Identity{DID: didStr, Signer: signer, Document: doc, Resolver: resolver, Keys: ks}, nil
}

// Stores bundles the shared keyed stores a service wires up.
type Stores struct {
	Replay     ports.ReplayStore
	Challenges ports.ChallengeStore
	Tokens     ports.TokenStore
	Sessions   ports.SessionStore
	Counters   ports.CounterStore
	Health     []ports.HealthChecker
	redis      *goredis.Client
}

// Close releases the underlying connections.
func (s *Stores) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// SetupStores connects the Redis-backed stores. An empty Redis URL falls
// back to process-local stores; a configured but unreachable Redis is a
// startup failure.
func SetupStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Stores, error) {
	if cfg.Redis.URL == "" {
		log.Warn().Msg("no redis configured; using process-local stores")
		return memoryStores(), nil
	}
	client, err := redisStorage.NewClient(ctx, cfg.Redis.URL, log)
	if err != nil {
		return nil, fmt.Errorf("connecting redis: %w", err)
	}
	return &Stores{
		Replay:     redisStorage.NewReplayCache(client),
		Challenges: redisStorage.NewChallengeStore(client),
		Tokens:     redisStorage.NewTokenStore(client),
		Sessions:   redisStorage.NewSessionStore(client),
		Counters:   redisStorage.NewCounterStore(client),
		Health:     []ports.HealthChecker{redisStorage.NewHealthCheck(client)},
		redis:      client,
	}, nil
}

func memoryStores() *Stores {
	return &Stores{
		Replay:     memory.NewReplayCache(),
		Challenges: memory.NewChallengeStore(),
		Tokens:     memory.NewTokenStore(),
		Sessions:   memory.NewSessionStore(),
		Counters:   memory.NewCounterStore(),
	}
}

// Run serves the handler until SIGINT/SIGTERM, then shuts down
// gracefully. It only returns on clean shutdown; server failures exit
// with the fatal-runtime code.
func Run(addr string, h http.Handler, log zerolog.Logger) {
	srv := &http.Server{Addr: addr, Handler: h}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			os.Exit(ExitFatalRuntime)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
}

// Fatal logs a startup error and exits with the startup-failure code.
func Fatal(log zerolog.Logger, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(ExitStartupFailure)
}
