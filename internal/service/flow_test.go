package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"time"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/adapter/storage/memory"
	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/crypto"
	"ap2-payments/internal/crypto/cryptotest"
	"ap2-payments/internal/risk"
	"ap2-payments/pkg/apperror"
	"ap2-payments/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directMerchant adapts the merchant agent as the shopping agent's
// candidate source.
type directMerchant struct{ agent *MerchantAgent }

func (d directMerchant) RequestCartCandidates(ctx context.Context, intent *domain.IntentMandate) ([]a2a.Artifact, error) {
	return d.agent.HandleIntent(ctx, intent)
}

// capturingProcessor adapts the processor and keeps the last payload so
// tests can replay it verbatim.
type capturingProcessor struct {
	svc  *ProcessorService
	last *domain.PaymentMandatePayload
}

func (c *capturingProcessor) SubmitPayment(ctx context.Context, payload *domain.PaymentMandatePayload) (*domain.PaymentResult, error) {
	c.last = payload
	return c.svc.Process(ctx, payload)
}

type harness struct {
	shopping  *ShoppingAgent
	processor *capturingProcessor
	creds     *CredentialService
	network   *NetworkService
	repo      *memory.TransactionRepo
	auth      *cryptotest.Authenticator
	userKeys  *crypto.KeyStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewWithWriter("flow-test", "error", io.Discard)

	merchantKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	merchantSigner := crypto.NewSigner(merchantKey, crypto.AlgES256, testMerchantDID+"#key-1")
	issuer := crypto.NewMerchantJWTIssuer(merchantSigner, testMerchantDID)

	signing := NewSigningService(testMerchantDID, SigningModeAuto, issuer, log)
	merchantAgent := NewMerchantAgent(DefaultCatalog(), &directSigner{svc: signing},
		testMerchantDID, "Mugi Books & Goods", 15*time.Minute, 10*time.Millisecond, time.Second, log)

	network := NewNetworkService("apnet", memory.NewTokenStore(), log)
	creds := NewCredentialService(memory.NewChallengeStore(), memory.NewSessionStore(), network, testRPID, log)

	repo := memory.NewTransactionRepo()
	processor := NewProcessorService(ProcessorDeps{
		MerchantJWT: crypto.NewMerchantJWTVerifier(staticRing{merchantSigner}, memory.NewReplayCache()),
		UserAuth:    crypto.NewUserAuthorizationVerifier(nil),
		Replay:      memory.NewReplayCache(),
		Counters:    memory.NewCounterStore(),
		Repo:        repo,
		Network:     network,
		Credentials: creds,
		ReceiptBase: "http://payment-processor:8004",
		RPID:        testRPID,
		Logger:      log,
	})
	capturing := &capturingProcessor{svc: processor}

	userKeys := crypto.NewKeyStore(t.TempDir(), "test-passphrase")
	shopping := NewShoppingAgent(ShoppingAgentDeps{
		Merchant:    directMerchant{agent: merchantAgent},
		Processor:   capturing,
		Credentials: creds,
		Risk:        risk.NewEngine(risk.NewMemoryHistory()),
		UserKeys:    userKeys,
		MerchantDID: testMerchantDID,
		CartWait:    5 * time.Second,
		Logger:      log,
	})

	h := &harness{
		shopping:  shopping,
		processor: capturing,
		creds:     creds,
		network:   network,
		repo:      repo,
		userKeys:  userKeys,
	}
	h.auth = registerUser(t, creds, "user_alice")
	return h
}

func toWireAssertion(auth *cryptotest.Authenticator, in crypto.AssertionInput) domain.WebAuthnAssertion {
	return domain.WebAuthnAssertion{
		CredentialID:      cryptotest.B64(auth.CredentialID),
		ClientDataJSON:    cryptotest.B64(in.ClientDataJSON),
		AuthenticatorData: cryptotest.B64(in.AuthenticatorData),
		Signature:         cryptotest.B64(in.Signature),
	}
}

// pickCart returns the candidate with the expected total, if any, else the
// first one.
func pickCart(session *Session, total int64) string {
	var first string
	for id, cm := range session.Candidates {
		if first == "" {
			first = id
		}
		if cm.Total().Value == total {
			return id
		}
	}
	return first
}

func TestFlow_HappyPathHumanPresent(t *testing.T) {
	// S1: "Buy a red basketball shoe" ends captured with a receipt.
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.shopping.Chat(ctx, "user_alice", "Buy a red basketball shoe", nil)
	require.NoError(t, err)
	require.NotEmpty(t, session.Candidates)
	require.LessOrEqual(t, len(session.Candidates), 3)

	cartID := pickCart(session, 9300)
	require.NotEmpty(t, cartID)
	assert.Equal(t, int64(9300), session.Candidates[cartID].Total().Value,
		"8000 + 800 tax + 500 shipping")

	challenge, err := h.shopping.ConfirmCart(ctx, session.ID, cartID)
	require.NoError(t, err)
	require.NotEmpty(t, challenge)

	// The user reads the cart for a couple of minutes before approving.
	h.shopping.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	assertion := toWireAssertion(h.auth, h.auth.Assert(challenge))
	result, err := h.shopping.AuthorizePayment(ctx, session.ID, assertion)
	require.NoError(t, err)

	assert.Equal(t, "captured", result.Status)
	assert.NotEmpty(t, result.TransactionID)
	assert.Contains(t, result.ReceiptURL, "/receipts/")

	// Risk stayed in the approve band.
	assert.Less(t, h.processor.last.RiskScore, risk.ApproveBelow)

	// The receipt renders as a non-empty PDF.
	tx, err := h.repo.GetByPaymentMandateID(ctx,
		h.processor.last.PaymentMandate.PaymentMandateContents.PaymentMandateID)
	require.NoError(t, err)
	require.NotNil(t, tx)
	pdf := BuildReceiptPDF(tx)
	assert.True(t, len(pdf) > 100)
	assert.Equal(t, "%PDF", string(pdf[:4]))

	// The credential provider was notified.
	receipts := h.creds.Receipts(ctx)
	require.Len(t, receipts, 1)
	assert.Equal(t, result.TransactionID, receipts[0].TransactionID)

	snapshot, err := h.shopping.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionStateCompleted, snapshot.State)
}

func TestFlow_CartTamperDetected(t *testing.T) {
	// S2: one byte of the committed total changes after signing; the
	// processor rejects with Authorization before any network contact.
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.shopping.Chat(ctx, "user_alice", "Buy a red basketball shoe", nil)
	require.NoError(t, err)
	cartID := pickCart(session, 9300)

	tampered := session.Candidates[cartID]
	tampered.Contents.PaymentRequest.Details.Total.Amount.Value = 1
	tampered.Contents.PaymentRequest.Details.DisplayItems = nil
	session.Candidates[cartID] = tampered

	challenge, err := h.shopping.ConfirmCart(ctx, session.ID, cartID)
	require.NoError(t, err)

	assertion := toWireAssertion(h.auth, h.auth.Assert(challenge))
	_, err = h.shopping.AuthorizePayment(ctx, session.ID, assertion)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindAuthorization, appErr.Kind)

	// Nothing was recorded: the chain broke before the charge step.
	list, err := h.repo.ListByPayerSince(ctx, "user_alice", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFlow_ReplayRejected(t *testing.T) {
	// S3: the identical PaymentMandate submitted twice captures once.
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.shopping.Chat(ctx, "user_alice", "Buy a red basketball shoe", nil)
	require.NoError(t, err)
	cartID := pickCart(session, 9300)

	challenge, err := h.shopping.ConfirmCart(ctx, session.ID, cartID)
	require.NoError(t, err)
	h.shopping.now = func() time.Time { return time.Now().Add(time.Minute) }

	assertion := toWireAssertion(h.auth, h.auth.Assert(challenge))
	result, err := h.shopping.AuthorizePayment(ctx, session.ID, assertion)
	require.NoError(t, err)
	require.Equal(t, "captured", result.Status)

	_, err = h.processor.svc.Process(ctx, h.processor.last)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindConflict, appErr.Kind)
}

func TestFlow_ConstraintViolationDeclined(t *testing.T) {
	// S4: max_amount 5000 vs cart total 9300 declines at the risk gate.
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.shopping.Chat(ctx, "user_alice", "Buy a red basketball shoe",
		&domain.Amount{Currency: "JPY", Value: 5000})
	require.NoError(t, err)
	cartID := pickCart(session, 9300)
	require.NotEmpty(t, cartID)

	challenge, err := h.shopping.ConfirmCart(ctx, session.ID, cartID)
	require.NoError(t, err)
	h.shopping.now = func() time.Time { return time.Now().Add(time.Minute) }

	assertion := toWireAssertion(h.auth, h.auth.Assert(challenge))
	result, err := h.shopping.AuthorizePayment(ctx, session.ID, assertion)
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "High risk", result.Error)
	require.GreaterOrEqual(t, h.processor.last.RiskScore, risk.DeclineAt)
	assert.Contains(t, h.processor.last.FraudIndicators, "intent_constraint_violated")

	// The decline is recorded, write-once, as a failed capture.
	list, err := h.repo.ListByPayerSince(ctx, "user_alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.TransactionStatusFailed, list[0].Status)
	assert.Equal(t, "High risk", list[0].FailureReason)
}

func TestFlow_CounterRegressionRejected(t *testing.T) {
	// S6: an assertion whose sign count is behind the stored counter is
	// rejected with Authentication.
	h := newHarness(t)
	ctx := context.Background()

	// First purchase stores a high sign counter for the credential.
	h.auth.SignCount = 10
	session, err := h.shopping.Chat(ctx, "user_alice", "Buy a red basketball shoe", nil)
	require.NoError(t, err)
	challenge, err := h.shopping.ConfirmCart(ctx, session.ID, pickCart(session, 9300))
	require.NoError(t, err)
	h.shopping.now = func() time.Time { return time.Now().Add(time.Minute) }

	result, err := h.shopping.AuthorizePayment(ctx, session.ID, toWireAssertion(h.auth, h.auth.Assert(challenge)))
	require.NoError(t, err)
	require.Equal(t, "captured", result.Status, "counter 11 is now stored")

	// A second purchase whose authenticator reports a lower counter is a
	// cloned-credential signal and must be rejected.
	h.auth.SignCount = 1
	session2, err := h.shopping.Chat(ctx, "user_alice", "Buy a red basketball shoe", nil)
	require.NoError(t, err)
	challenge2, err := h.shopping.ConfirmCart(ctx, session2.ID, pickCart(session2, 9300))
	require.NoError(t, err)

	_, err = h.shopping.AuthorizePayment(ctx, session2.ID, toWireAssertion(h.auth, h.auth.Assert(challenge2)))
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindAuthentication, appErr.Kind,
		"regressed sign counter must fail authentication")
}

func TestFlow_CancelLeavesNoState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.shopping.Chat(ctx, "user_alice", "Buy a red basketball shoe", nil)
	require.NoError(t, err)

	h.shopping.Cancel(session.ID)
	_, err = h.shopping.GetSession(session.ID)
	require.Error(t, err)

	list, err := h.repo.ListByPayerSince(ctx, "user_alice", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, list, "abandonment persists nothing")
}

func TestFlow_Refund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.shopping.Chat(ctx, "user_alice", "Buy a red basketball shoe", nil)
	require.NoError(t, err)
	cartID := pickCart(session, 9300)

	challenge, err := h.shopping.ConfirmCart(ctx, session.ID, cartID)
	require.NoError(t, err)
	h.shopping.now = func() time.Time { return time.Now().Add(time.Minute) }

	assertion := toWireAssertion(h.auth, h.auth.Assert(challenge))
	result, err := h.shopping.AuthorizePayment(ctx, session.ID, assertion)
	require.NoError(t, err)
	require.Equal(t, "captured", result.Status)

	tx, err := h.repo.GetByPaymentMandateID(ctx,
		h.processor.last.PaymentMandate.PaymentMandateContents.PaymentMandateID)
	require.NoError(t, err)

	partial := int64(4000)
	refund1, err := h.processor.svc.Refund(ctx, tx.ID, &partial)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), refund1.Amount.Value)
	assert.Equal(t, domain.TransactionTypeRefund, refund1.TransactionType)

	// Remaining balance refunds in full by default.
	refund2, err := h.processor.svc.Refund(ctx, tx.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5300), refund2.Amount.Value)

	// Over-refunding is rejected.
	one := int64(1)
	_, err = h.processor.svc.Refund(ctx, tx.ID, &one)
	require.Error(t, err)
}
