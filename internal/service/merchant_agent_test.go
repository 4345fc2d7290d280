package service

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/mandate"
	"ap2-payments/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeIntent_TokensAndRules(t *testing.T) {
	keywords := AnalyzeIntent("Buy a red basketball shoe!")
	assert.Contains(t, keywords, "red")
	assert.Contains(t, keywords, "basketball")
	assert.Contains(t, keywords, "shoe")
	assert.NotContains(t, keywords, "a", "single-letter tokens are dropped")

	keywords = AnalyzeIntent("some shop goods")
	assert.Contains(t, keywords, "goods")

	keywords = AnalyzeIntent("a tee and a cup")
	assert.Contains(t, keywords, "shirt", "generic nouns map to catalog terms")
	assert.Contains(t, keywords, "mug")
}

func TestCatalog_SearchRanking(t *testing.T) {
	c := DefaultCatalog()

	hits := c.Search([]string{"red", "basketball", "shoe"}, "", 20)
	require.NotEmpty(t, hits)
	assert.Equal(t, "SHOE-001", hits[0].SKU, "best keyword match ranks first")

	hits = c.Search([]string{"zebra"}, "", 20)
	assert.Empty(t, hits)

	hits = c.Search(nil, "shoes", 20)
	assert.Len(t, hits, 2, "category filter without keywords lists the category")
}

func TestCatalog_UpdateStock(t *testing.T) {
	c := DefaultCatalog()
	require.NoError(t, c.UpdateStock("prod_001", 0))

	p, err := c.GetByID("prod_001")
	require.NoError(t, err)
	assert.False(t, p.InStock(1))

	require.Error(t, c.UpdateStock("prod_001", -1))
	require.Error(t, c.UpdateStock("prod_999", 5))
}

func TestPlanCarts_ThreeShapes(t *testing.T) {
	products := DefaultCatalog().Search([]string{"goods", "shoe", "shirt"}, "", 20)
	require.GreaterOrEqual(t, len(products), 3)

	plans := PlanCarts(products, nil)
	require.NotEmpty(t, plans)
	assert.LessOrEqual(t, len(plans), 3)

	for _, p := range plans {
		assert.NotEmpty(t, p.Products)
	}
}

func TestPlanCarts_Empty(t *testing.T) {
	assert.Nil(t, PlanCarts(nil, nil))
}

func TestBuildCartMandate_Economics(t *testing.T) {
	// 8000 + 10% tax + 500 shipping = 9300.
	agent := testMerchantAgent(t, &directSigner{svc: mustAutoSigner(t)})
	shoe, err := agent.catalog.GetBySKU("SHOE-001")
	require.NoError(t, err)

	intent := &domain.IntentMandate{ID: "intent_1", UserCartConfirmationRequired: true}
	cart := agent.BuildCartMandate(CartPlan{Name: "single", Products: []domain.Product{*shoe}}, intent)

	assert.Equal(t, int64(9300), cart.Total().Value)
	assert.Equal(t, "JPY", cart.Total().Currency)
	require.NoError(t, mandate.ValidateCartMandate(cart), "display items must sum to the total")
	assert.Equal(t, testMerchantDID, cart.Metadata.MerchantID)
	assert.False(t, cart.Signed())
}

// directSigner adapts a SigningService as the agent's CartSigner.
type directSigner struct {
	svc *SigningService

	mu       sync.Mutex
	submits  int
	approves bool // auto-approve on first poll when the service is manual
}

func (d *directSigner) SubmitCart(ctx context.Context, cm *domain.CartMandate) (*SignResult, error) {
	d.mu.Lock()
	d.submits++
	d.mu.Unlock()
	return d.svc.SubmitCart(ctx, cm)
}

func (d *directSigner) Poll(ctx context.Context, id string) (*SignResult, error) {
	d.mu.Lock()
	approve := d.approves
	d.mu.Unlock()
	if approve {
		if _, err := d.svc.Approve(ctx, id); err != nil {
			// Already terminal is fine; the poll below reports it.
			_ = err
		}
	}
	return d.svc.Poll(ctx, id)
}

func mustAutoSigner(t *testing.T) *SigningService {
	t.Helper()
	svc, _ := testSigningService(t, SigningModeAuto)
	return svc
}

func testMerchantAgent(t *testing.T, signer CartSigner) *MerchantAgent {
	t.Helper()
	log := logger.NewWithWriter("merchant-agent-test", "error", io.Discard)
	return NewMerchantAgent(DefaultCatalog(), signer, testMerchantDID, "Mugi Books & Goods",
		15*time.Minute, 10*time.Millisecond, 500*time.Millisecond, log)
}

func TestHandleIntent_AutoMode_SignedCandidates(t *testing.T) {
	agent := testMerchantAgent(t, &directSigner{svc: mustAutoSigner(t)})

	intent := &domain.IntentMandate{
		ID:                           "intent_s1",
		NaturalLanguageDescription:   "Buy a red basketball shoe",
		UserCartConfirmationRequired: true,
		IntentExpiry:                 time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	}

	artifacts, err := agent.HandleIntent(context.Background(), intent)
	require.NoError(t, err)
	require.NotEmpty(t, artifacts)
	assert.LessOrEqual(t, len(artifacts), 3)

	sawTotal := false
	for _, art := range artifacts {
		var cm domain.CartMandate
		require.NoError(t, json.Unmarshal(art.Payload, &cm))
		assert.True(t, cm.Signed(), "only signed carts are returned")
		assert.Equal(t, art.ArtifactID, cm.Contents.ID)
		if cm.Total().Value == 9300 {
			sawTotal = true
		}
	}
	assert.True(t, sawTotal, "the single-shoe plan totals 9300 JPY")
}

func TestHandleIntent_SKUAllowlist(t *testing.T) {
	agent := testMerchantAgent(t, &directSigner{svc: mustAutoSigner(t)})

	intent := &domain.IntentMandate{
		ID:                         "intent_sku",
		NaturalLanguageDescription: "any shoe",
		SKUs:                       []string{"SHOE-002"},
	}

	artifacts, err := agent.HandleIntent(context.Background(), intent)
	require.NoError(t, err)
	for _, art := range artifacts {
		var cm domain.CartMandate
		require.NoError(t, json.Unmarshal(art.Payload, &cm))
		for _, item := range cm.Contents.PaymentRequest.Details.DisplayItems {
			assert.NotEqual(t, "Red basketball shoe", item.Label)
		}
	}
}

func TestHandleIntent_MerchantAllowlistExcludes(t *testing.T) {
	agent := testMerchantAgent(t, &directSigner{svc: mustAutoSigner(t)})

	intent := &domain.IntentMandate{
		ID:                         "intent_excl",
		NaturalLanguageDescription: "shoes",
		Merchants:                  []string{"did:ap2:merchant:someone_else"},
	}

	artifacts, err := agent.HandleIntent(context.Background(), intent)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestHandleIntent_NoMatchesReturnsEmptyList(t *testing.T) {
	agent := testMerchantAgent(t, &directSigner{svc: mustAutoSigner(t)})

	intent := &domain.IntentMandate{
		ID:                         "intent_none",
		NaturalLanguageDescription: "quantum flux capacitor",
	}

	artifacts, err := agent.HandleIntent(context.Background(), intent)
	require.NoError(t, err)
	assert.NotNil(t, artifacts)
	assert.Empty(t, artifacts)
}

func TestHandleIntent_ManualMode_ApprovedViaPolling(t *testing.T) {
	svc, _ := testSigningService(t, SigningModeManual)
	signer := &directSigner{svc: svc, approves: true}
	agent := testMerchantAgent(t, signer)

	intent := &domain.IntentMandate{
		ID:                         "intent_manual",
		NaturalLanguageDescription: "red basketball shoe",
	}

	artifacts, err := agent.HandleIntent(context.Background(), intent)
	require.NoError(t, err)
	require.NotEmpty(t, artifacts, "polling picks up operator approval")
	for _, art := range artifacts {
		var cm domain.CartMandate
		require.NoError(t, json.Unmarshal(art.Payload, &cm))
		assert.True(t, cm.Signed())
	}
}

func TestHandleIntent_ManualMode_TimeoutReturnsEmpty(t *testing.T) {
	// S5: the operator never approves; the poll budget elapses and the
	// affected carts are simply missing, not errors.
	svc, _ := testSigningService(t, SigningModeManual)
	agent := testMerchantAgent(t, &directSigner{svc: svc})

	intent := &domain.IntentMandate{
		ID:                         "intent_timeout",
		NaturalLanguageDescription: "red basketball shoe",
	}

	start := time.Now()
	artifacts, err := agent.HandleIntent(context.Background(), intent)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	assert.Less(t, time.Since(start), 5*time.Second, "test-scale poll cap bounds the wait")
}

func TestHandleIntent_CancellationReleasesPolls(t *testing.T) {
	svc, _ := testSigningService(t, SigningModeManual)
	agent := testMerchantAgent(t, &directSigner{svc: svc})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = agent.HandleIntent(ctx, &domain.IntentMandate{
			ID:                         "intent_cancel",
			NaturalLanguageDescription: "red basketball shoe",
		})
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loops did not release on cancellation")
	}
}
