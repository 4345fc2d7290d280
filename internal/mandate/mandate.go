// Package mandate derives content addresses for the mandate chain and
// validates its links.
package mandate

import (
	"fmt"
	"time"

	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/crypto"
	"ap2-payments/pkg/apperror"
)

// CartHash returns the base64url content address of a cart mandate,
// identical before and after the merchant authorization is attached.
func CartHash(cm *domain.CartMandate) (string, error) {
	return crypto.MandateHashB64(cm)
}

// CartHashHex returns the hex form used where the hash travels as data.
func CartHashHex(cm *domain.CartMandate) (string, error) {
	return crypto.MandateHashHex(cm)
}

// PaymentHash returns the base64url content address of the payment mandate
// contents. user_authorization lives outside the contents, so no stripping
// is needed, but the same derivation keeps the two hashes symmetric.
func PaymentHash(pmc *domain.PaymentMandateContents) (string, error) {
	return crypto.MandateHashB64(pmc)
}

// ValidateCartMandate checks a cart's internal consistency: non-negative
// totals, itemised lines summing to the total, and a well-formed expiry.
func ValidateCartMandate(cm *domain.CartMandate) error {
	details := cm.Contents.PaymentRequest.Details
	total := details.Total.Amount

	if cm.Contents.ID == "" {
		return apperror.ErrMalformedCart("cart id is empty")
	}
	if total.Currency == "" {
		return apperror.ErrMalformedCart("total has no currency")
	}
	if total.Value < 0 {
		return apperror.ErrMalformedCart("total is negative")
	}

	if len(details.DisplayItems) > 0 {
		var sum int64
		for _, item := range details.DisplayItems {
			if item.Amount.Value < 0 {
				return apperror.ErrMalformedCart(fmt.Sprintf("line %q is negative", item.Label))
			}
			if item.Amount.Currency != total.Currency {
				return apperror.ErrMalformedCart(fmt.Sprintf("line %q currency differs from total", item.Label))
			}
			sum += item.Amount.Value
		}
		if sum != total.Value {
			return apperror.ErrMalformedCart(
				fmt.Sprintf("display items sum %d does not match total %d", sum, total.Value))
		}
	}

	if _, err := time.Parse(time.RFC3339, cm.Contents.CartExpiry); err != nil {
		return apperror.ErrMalformedCart("cart_expiry is not RFC 3339")
	}
	return nil
}

// ValidateMandateChain enforces the links between a payment mandate and the
// signed cart it charges: id reference, structural total equality, and cart
// freshness at verification time.
func ValidateMandateChain(pm *domain.PaymentMandate, cm *domain.CartMandate, now time.Time) error {
	if pm.References.CartMandateID != cm.Contents.ID {
		return apperror.ErrChainBroken(fmt.Sprintf(
			"payment references cart %q, got cart %q", pm.References.CartMandateID, cm.Contents.ID))
	}

	cartTotal := cm.Total()
	payTotal := pm.PaymentMandateContents.PaymentDetailsTotal.Amount
	if payTotal.Currency != cartTotal.Currency || payTotal.Value != cartTotal.Value {
		return apperror.ErrChainBroken(fmt.Sprintf(
			"payment total %d %s does not equal cart total %d %s",
			payTotal.Value, payTotal.Currency, cartTotal.Value, cartTotal.Currency))
	}

	if cm.Expired(now) {
		return apperror.ErrExpired("cart")
	}
	return nil
}
