package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/crypto"
	"ap2-payments/internal/service"
	"ap2-payments/pkg/apperror"
)

// SigningClient reaches the merchant signing service; it satisfies
// service.CartSigner.
type SigningClient struct {
	rest
}

// NewSigningClient creates a client for the signing service at base.
func NewSigningClient(base string, timeout time.Duration) *SigningClient {
	return &SigningClient{rest: newREST(base, timeout)}
}

// SubmitCart posts a cart for signing.
func (c *SigningClient) SubmitCart(ctx context.Context, cm *domain.CartMandate) (*service.SignResult, error) {
	var out service.SignResult
	err := c.post(ctx, "/sign/cart", map[string]any{"cart_mandate": cm}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Poll reports a queued cart's state.
func (c *SigningClient) Poll(ctx context.Context, cartMandateID string) (*service.SignResult, error) {
	var out service.SignResult
	err := c.post(ctx, "/poll/cart", map[string]string{"cart_mandate_id": cartMandateID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// NetworkClient reaches the payment network; it satisfies both
// service.NetworkTokenizer and service.NetworkCharger.
type NetworkClient struct {
	rest
}

// NewNetworkClient creates a client for the network at base.
func NewNetworkClient(base string, timeout time.Duration) *NetworkClient {
	return &NetworkClient{rest: newREST(base, timeout)}
}

// Tokenize issues an agent token.
func (c *NetworkClient) Tokenize(ctx context.Context, req service.TokenizeRequest) (*service.TokenizeResult, error) {
	var out service.TokenizeResult
	if err := c.post(ctx, "/network/tokenize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyToken reports token validity.
func (c *NetworkClient) VerifyToken(ctx context.Context, token string) (*service.VerifyTokenResult, error) {
	var out service.VerifyTokenResult
	if err := c.post(ctx, "/network/verify-token", map[string]string{"agent_token": token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Charge captures against an agent token.
func (c *NetworkClient) Charge(ctx context.Context, req service.ChargeRequest) (*service.ChargeResult, error) {
	var out service.ChargeResult
	if err := c.post(ctx, "/network/charge", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CredentialClient reaches the credential provider; it satisfies
// service.CredentialVerifier and service.ShoppingCredentialClient.
type CredentialClient struct {
	rest
}

// NewCredentialClient creates a client for the credential provider.
func NewCredentialClient(base string, timeout time.Duration) *CredentialClient {
	return &CredentialClient{rest: newREST(base, timeout)}
}

// Verify resolves a payment-method token into an agent token.
func (c *CredentialClient) Verify(ctx context.Context, req service.CredentialVerifyRequest) (*service.CredentialVerifyResult, error) {
	var out service.CredentialVerifyResult
	if err := c.post(ctx, "/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NotifyReceipt posts a capture notice.
func (c *CredentialClient) NotifyReceipt(ctx context.Context, notice service.ReceiptNotice) error {
	return c.post(ctx, "/receipt", notice, nil)
}

// IssueChallenge starts a payment ceremony.
func (c *CredentialClient) IssueChallenge(ctx context.Context, userID string) (string, error) {
	var out struct {
		Challenge string `json:"challenge"`
	}
	if err := c.post(ctx, "/challenge", map[string]string{"user_id": userID}, &out); err != nil {
		return "", err
	}
	return out.Challenge, nil
}

// DeviceKey fetches the user's registered passkey public key.
func (c *CredentialClient) DeviceKey(ctx context.Context, userID string) (crypto.ECJWK, error) {
	var out struct {
		JWK crypto.ECJWK `json:"jwk"`
	}
	if err := c.get(ctx, "/device-key/"+userID, &out); err != nil {
		return crypto.ECJWK{}, err
	}
	return out.JWK, nil
}

// TokenizedMethod issues a tokenized payment method.
func (c *CredentialClient) TokenizedMethod(ctx context.Context, userID string) (*domain.TokenizedCard, error) {
	var out domain.TokenizedCard
	if err := c.post(ctx, "/payment-method", map[string]string{"user_id": userID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MerchantA2AClient requests cart candidates over the A2A envelope; it
// satisfies service.CartCandidateRequester.
type MerchantA2AClient struct {
	a2a         *a2a.Client
	base        string
	merchantDID string
}

// NewMerchantA2AClient creates the client. a2aClient carries the sender's
// signing identity.
func NewMerchantA2AClient(a2aClient *a2a.Client, base, merchantDID string) *MerchantA2AClient {
	return &MerchantA2AClient{a2a: a2aClient, base: base, merchantDID: merchantDID}
}

// RequestCartCandidates sends the intent and decodes the artifact bag.
func (c *MerchantA2AClient) RequestCartCandidates(ctx context.Context, intent *domain.IntentMandate) ([]a2a.Artifact, error) {
	resp, err := c.a2a.Send(ctx, c.base, c.merchantDID, a2a.TypeIntentMandate, intent.ID, intent)
	if err != nil {
		return nil, err
	}
	if resp.DataPart.Type != a2a.TypeCartCandidates {
		return nil, apperror.InternalError(fmt.Errorf("unexpected response type %q", resp.DataPart.Type))
	}
	var payload struct {
		CartCandidates []a2a.Artifact `json:"cart_candidates"`
	}
	if err := json.Unmarshal(resp.DataPart.Payload, &payload); err != nil {
		return nil, apperror.InternalError(err)
	}
	return payload.CartCandidates, nil
}

// ProcessorA2AClient submits payment mandates over the A2A envelope; it
// satisfies service.PaymentSubmitter.
type ProcessorA2AClient struct {
	a2a          *a2a.Client
	base         string
	processorDID string
}

// NewProcessorA2AClient creates the client.
func NewProcessorA2AClient(a2aClient *a2a.Client, base, processorDID string) *ProcessorA2AClient {
	return &ProcessorA2AClient{a2a: a2aClient, base: base, processorDID: processorDID}
}

// SubmitPayment sends the payload and decodes the payment result.
func (c *ProcessorA2AClient) SubmitPayment(ctx context.Context, payload *domain.PaymentMandatePayload) (*domain.PaymentResult, error) {
	id := payload.PaymentMandate.PaymentMandateContents.PaymentMandateID
	resp, err := c.a2a.Send(ctx, c.base, c.processorDID, a2a.TypePaymentMandate, id, payload)
	if err != nil {
		return nil, err
	}
	if resp.DataPart.Type != a2a.TypePaymentResult {
		return nil, apperror.InternalError(fmt.Errorf("unexpected response type %q", resp.DataPart.Type))
	}
	var result domain.PaymentResult
	if err := json.Unmarshal(resp.DataPart.Payload, &result); err != nil {
		return nil, apperror.InternalError(err)
	}
	return &result, nil
}

// NewHTTPClient builds the http.Client used by A2A senders, carrying the
// caller's overall wait budget.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
