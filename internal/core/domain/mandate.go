package domain

import "time"

// Data keys used as A2A dataPart types for mandate exchange.
const (
	IntentMandateDataKey  = "ap2.mandates.IntentMandate"
	CartMandateDataKey    = "ap2.mandates.CartMandate"
	PaymentMandateDataKey = "ap2.mandates.PaymentMandate"
)

// IntentMandate captures what a user wants to buy. Created by the shopping
// agent at user request and immutable thereafter.
type IntentMandate struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`

	NaturalLanguageDescription   string             `json:"natural_language_description"`
	UserCartConfirmationRequired bool               `json:"user_cart_confirmation_required"`
	Merchants                    []string           `json:"merchants,omitempty"`
	SKUs                         []string           `json:"skus,omitempty"`
	RequiresRefundability        bool               `json:"requires_refundability"`
	IntentExpiry                 string             `json:"intent_expiry"`
	Constraints                  *IntentConstraints `json:"constraints,omitempty"`
}

// IntentConstraints bound what the merchant agent may propose.
type IntentConstraints struct {
	MaxAmount *Amount `json:"max_amount,omitempty"`
}

// AllowsMerchant reports whether the given merchant DID may fulfil this
// intent. An empty allowlist permits any merchant.
func (m *IntentMandate) AllowsMerchant(did string) bool {
	if len(m.Merchants) == 0 {
		return true
	}
	for _, allowed := range m.Merchants {
		if allowed == did {
			return true
		}
	}
	return false
}

// AllowsSKU reports whether a SKU is permitted by this intent.
func (m *IntentMandate) AllowsSKU(sku string) bool {
	if len(m.SKUs) == 0 {
		return true
	}
	for _, allowed := range m.SKUs {
		if allowed == sku {
			return true
		}
	}
	return false
}

// CartContents is what a merchant commits to sell.
type CartContents struct {
	ID                           string         `json:"id"`
	UserCartConfirmationRequired bool           `json:"user_cart_confirmation_required"`
	PaymentRequest               PaymentRequest `json:"payment_request"`
	CartExpiry                   string         `json:"cart_expiry"`
	MerchantName                 string         `json:"merchant_name"`
}

// CartMetadata is routing/ownership metadata carried with a cart mandate.
// It is covered by the cart hash but is not part of the W3C contents shape.
type CartMetadata struct {
	MerchantID      string `json:"merchant_id"`
	IntentMandateID string `json:"intent_mandate_id,omitempty"`
	PlanName        string `json:"plan_name,omitempty"`
	PlanDescription string `json:"plan_description,omitempty"`
}

// CartMandate is a cart plus the merchant's authorization JWT. The JWT is
// empty until the merchant signing service signs; once set, contents are
// frozen.
type CartMandate struct {
	Contents              CartContents `json:"contents"`
	MerchantAuthorization string       `json:"merchant_authorization,omitempty"`
	Metadata              CartMetadata `json:"_metadata"`
}

// Signed reports whether the merchant has authorized this cart.
func (c CartMandate) Signed() bool {
	return c.MerchantAuthorization != ""
}

// Total returns the committed cart total.
func (c CartMandate) Total() Amount {
	return c.Contents.PaymentRequest.Details.Total.Amount
}

// Expired reports whether the cart expiry has passed at the given instant.
// A cart with an unparseable expiry is treated as expired.
func (c CartMandate) Expired(now time.Time) bool {
	exp, err := time.Parse(time.RFC3339, c.Contents.CartExpiry)
	if err != nil {
		return true
	}
	return exp.Before(now)
}

// PaymentMandateContents is what is about to be charged. Its canonical hash
// (with no further field stripping — it carries no signature fields) is the
// payment_hash bound into the user authorization.
type PaymentMandateContents struct {
	PaymentMandateID    string          `json:"payment_mandate_id"`
	PaymentDetailsID    string          `json:"payment_details_id"`
	PaymentDetailsTotal PaymentItem     `json:"payment_details_total"`
	PaymentResponse     PaymentResponse `json:"payment_response"`
	MerchantAgent       string          `json:"merchant_agent"`
	Timestamp           string          `json:"timestamp"`
}

// MandateReferences binds a payment mandate to the upstream chain.
type MandateReferences struct {
	CartMandateID   string `json:"cart_mandate_id"`
	IntentMandateID string `json:"intent_mandate_id,omitempty"`
}

// PaymentMandate is the payment instruction plus the user's SD-JWT+KB
// authorization. risk_score and fraud indicators ride on the A2A payload
// envelope, never inside the hashed contents.
type PaymentMandate struct {
	PaymentMandateContents PaymentMandateContents `json:"payment_mandate_contents"`
	References             MandateReferences      `json:"references"`
	UserAuthorization      string                 `json:"user_authorization,omitempty"`
}

// WebAuthnAssertion carries the raw passkey assertion alongside the
// user authorization so a verifier can reconstruct the signed input.
// All byte fields are base64url without padding.
type WebAuthnAssertion struct {
	CredentialID      string `json:"credential_id"`
	ClientDataJSON    string `json:"client_data_json"`
	AuthenticatorData string `json:"authenticator_data"`
	Signature         string `json:"signature"`
}

// PaymentMandatePayload is the A2A payload for ap2.mandates.PaymentMandate:
// the mandate, the signed cart it references, and envelope metadata the
// processor's risk gate inspects.
type PaymentMandatePayload struct {
	PaymentMandate    PaymentMandate     `json:"payment_mandate"`
	CartMandate       CartMandate        `json:"cart_mandate"`
	IntentMandate     *IntentMandate     `json:"intent_mandate,omitempty"`
	WebAuthnAssertion *WebAuthnAssertion `json:"webauthn_assertion,omitempty"`
	WebAuthnChallenge string             `json:"webauthn_challenge,omitempty"`
	RiskScore         int                `json:"risk_score"`
	FraudIndicators   []string           `json:"fraud_indicators,omitempty"`
}

// PaymentResult is the processor's answer to a payment mandate.
type PaymentResult struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	ReceiptURL    string `json:"receipt_url,omitempty"`
	Error         string `json:"error,omitempty"`
}
