package client

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/adapter/http/handler"
	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/crypto"
	"ap2-payments/internal/did"
	"ap2-payments/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Spins up the merchant agent behind a real HTTP server and drives the
// mandate exchange end to end over signed A2A envelopes.
func TestMerchantA2AClient_IntentToSignedCandidates(t *testing.T) {
	log := testLog()
	resolver := did.NewResolver("", nil, log)

	newIdentity := func(didStr string) *crypto.Signer {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		signer := crypto.NewSigner(key, crypto.AlgES256, didStr+"#key-1")
		doc, err := did.DocumentForKey(didStr, crypto.AlgES256, signer.Public(), "")
		require.NoError(t, err)
		resolver.Register(doc)
		return signer
	}

	shoppingSigner := newIdentity("did:ap2:agent:shopping_agent")
	merchantAgentSigner := newIdentity("did:ap2:agent:merchant_agent")
	merchantSigner := newIdentity(merchantDID)

	// Merchant side: signing service + agent + dispatcher + router.
	signing := service.NewSigningService(merchantDID, service.SigningModeAuto,
		crypto.NewMerchantJWTIssuer(merchantSigner, merchantDID), log)
	catalog := service.DefaultCatalog()
	agent := service.NewMerchantAgent(catalog, signing, merchantDID, "Mugi Books & Goods",
		15*time.Minute, 10*time.Millisecond, time.Second, log)

	dispatcher := a2a.NewDispatcher("did:ap2:agent:merchant_agent", merchantAgentSigner,
		a2a.NewVerifier(resolver, nil), log)
	handler.RegisterMerchantAgentHandlers(dispatcher, agent, "did:ap2:agent:merchant_agent")

	doc, err := did.DocumentForKey("did:ap2:agent:merchant_agent", crypto.AlgES256,
		merchantAgentSigner.Public(), "")
	require.NoError(t, err)
	srv := httptest.NewServer(handler.SetupMerchantAgentRouter(handler.MerchantAgentRouterDeps{
		Agent:       agent,
		Catalog:     catalog,
		Dispatcher:  dispatcher,
		DIDDocument: doc,
		Logger:      log,
	}))
	t.Cleanup(srv.Close)

	// Shopping side: signed client, verified responses.
	a2aClient := a2a.NewClient("did:ap2:agent:shopping_agent", shoppingSigner,
		a2a.NewVerifier(resolver, nil), NewHTTPClient(5*time.Second))
	merchantClient := NewMerchantA2AClient(a2aClient, srv.URL, "did:ap2:agent:merchant_agent")

	intent := &domain.IntentMandate{
		ID:                           "intent_a2a",
		NaturalLanguageDescription:   "Buy a red basketball shoe",
		UserCartConfirmationRequired: true,
		IntentExpiry:                 time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	}

	artifacts, err := merchantClient.RequestCartCandidates(context.Background(), intent)
	require.NoError(t, err)
	require.NotEmpty(t, artifacts)

	for _, art := range artifacts {
		var cm domain.CartMandate
		require.NoError(t, json.Unmarshal(art.Payload, &cm))
		assert.True(t, cm.Signed())
		assert.Equal(t, art.ArtifactID, cm.Contents.ID)
	}
}

// An unsigned request must be rejected by the dispatcher with a typed
// error envelope.
func TestMerchantA2A_UnsignedRequestRejected(t *testing.T) {
	log := testLog()
	resolver := did.NewResolver("", nil, log)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	agentSigner := crypto.NewSigner(key, crypto.AlgES256, "did:ap2:agent:merchant_agent#key-1")
	dispatcher := a2a.NewDispatcher("did:ap2:agent:merchant_agent", agentSigner,
		a2a.NewVerifier(resolver, nil), log)

	msg, err := a2a.NewMessage("did:ap2:agent:shopping_agent", "did:ap2:agent:merchant_agent",
		a2a.TypeIntentMandate, "intent_x", nil)
	require.NoError(t, err)
	// No Sign call: proof is missing.

	resp := dispatcher.Dispatch(context.Background(), msg)
	require.NotNil(t, resp)
	assert.True(t, resp.IsError())
	assert.Equal(t, "ap2.errors.Authentication", resp.DataPart.Type)
}
