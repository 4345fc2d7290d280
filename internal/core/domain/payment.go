package domain

import (
	"encoding/json"
	"fmt"
)

// Amount is a monetary value in integer minor units with an ISO-4217
// currency code. JPY has exponent 0, so Value is whole yen. Decimal-string
// amounts are rejected at the JSON boundary; there is exactly one money
// representation on the wire.
type Amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

// UnmarshalJSON rejects fractional or string-typed values.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw struct {
		Currency string          `json:"currency"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var v int64
	if err := json.Unmarshal(raw.Value, &v); err != nil {
		return fmt.Errorf("amount value must be integer minor units: %w", err)
	}
	a.Currency = raw.Currency
	a.Value = v
	return nil
}

// PaymentItem is a W3C PaymentItem: a labelled amount.
type PaymentItem struct {
	Label  string `json:"label"`
	Amount Amount `json:"amount"`
}

// PaymentMethodData declares a payment method a merchant accepts.
type PaymentMethodData struct {
	SupportedMethods string            `json:"supported_methods"`
	Data             map[string]string `json:"data,omitempty"`
}

// PaymentDetailsModifier adjusts details for a particular payment method.
type PaymentDetailsModifier struct {
	SupportedMethods      string        `json:"supported_methods"`
	Total                 *PaymentItem  `json:"total,omitempty"`
	AdditionalDisplayItems []PaymentItem `json:"additional_display_items,omitempty"`
}

// PaymentDetails carries the items, total and optional modifiers of a cart.
type PaymentDetails struct {
	ID           string                   `json:"id"`
	DisplayItems []PaymentItem            `json:"display_items"`
	Total        PaymentItem              `json:"total"`
	Modifiers    []PaymentDetailsModifier `json:"modifiers,omitempty"`
	ShippingType string                   `json:"shipping_type,omitempty"`
}

// PaymentRequest is the W3C Payment Request shape a merchant commits to.
type PaymentRequest struct {
	MethodData []PaymentMethodData `json:"method_data"`
	Details    PaymentDetails      `json:"details"`
}

// TokenizedCard is a payment-method reference standing in for a card
// number. Raw PANs and CVVs never appear in any mandate (PCI DSS 3.2.2).
type TokenizedCard struct {
	CardBrand string `json:"cardBrand"`
	Token     string `json:"token"`
	Tokenized bool   `json:"tokenized"`
	ExpiryMonth int  `json:"expiry_month,omitempty"`
	ExpiryYear  int  `json:"expiry_year,omitempty"`
}

// PaymentResponse is the W3C-like response naming the selected tokenized
// method.
type PaymentResponse struct {
	RequestID       string        `json:"request_id"`
	MethodName      string        `json:"methodName"`
	Details         TokenizedCard `json:"details"`
	ShippingAddress *Address      `json:"shipping_address,omitempty"`
	ShippingOption  string        `json:"shipping_option,omitempty"`
	PayerName       string        `json:"payer_name,omitempty"`
}

// Address is a minimal shipping address; the risk engine inspects it.
type Address struct {
	Country      string `json:"country,omitempty"`
	Region       string `json:"region,omitempty"`
	City         string `json:"city,omitempty"`
	AddressLine  string `json:"address_line,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
}
