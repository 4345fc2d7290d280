package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Cart economics applied by the merchant agent.
const (
	taxRatePercent  = 10
	shippingFlatJPY = 500
	maxSearchHits   = 20
)

// CartSigner is how the agent reaches the merchant signing service.
// *SigningService satisfies it directly; deployments use the HTTP client.
type CartSigner interface {
	SubmitCart(ctx context.Context, cm *domain.CartMandate) (*SignResult, error)
	Poll(ctx context.Context, cartMandateID string) (*SignResult, error)
}

// CartPlan is an intermediate cart proposal before mandate assembly.
type CartPlan struct {
	Name        string
	Description string
	Products    []domain.Product
}

// MerchantAgent turns intent mandates into signed cart candidates.
type MerchantAgent struct {
	catalog      *Catalog
	signer       CartSigner
	merchantDID  string
	merchantName string
	cartExpiry   time.Duration
	pollInterval time.Duration
	pollCap      time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// NewMerchantAgent wires the agent. pollInterval/pollCap default to the
// normative 5s/270s when zero.
func NewMerchantAgent(catalog *Catalog, signer CartSigner, merchantDID, merchantName string,
	cartExpiry, pollInterval, pollCap time.Duration, log zerolog.Logger) *MerchantAgent {
	if cartExpiry <= 0 {
		cartExpiry = 15 * time.Minute
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if pollCap <= 0 {
		pollCap = 270 * time.Second
	}
	return &MerchantAgent{
		catalog:      catalog,
		signer:       signer,
		merchantDID:  merchantDID,
		merchantName: merchantName,
		cartExpiry:   cartExpiry,
		pollInterval: pollInterval,
		pollCap:      pollCap,
		now:          time.Now,
		log:          log,
	}
}

// genericTerms maps vague nouns to catalog-friendly search terms.
var genericTerms = map[string][]string{
	"goods":    {"goods"},
	"merch":    {"goods"},
	"item":     {"goods"},
	"items":    {"goods"},
	"sneaker":  {"shoe"},
	"sneakers": {"shoe"},
	"tee":      {"shirt"},
	"cup":      {"mug"},
}

// AnalyzeIntent extracts ordered search keywords from the intent's natural
// language description: punctuation-stripped tokens of length >= 2, plus
// the generic-noun rule list.
func AnalyzeIntent(description string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ':
			return r
		default:
			return ' '
		}
	}, strings.ToLower(description))

	seen := map[string]bool{}
	var keywords []string
	add := func(kw string) {
		if !seen[kw] {
			seen[kw] = true
			keywords = append(keywords, kw)
		}
	}

	for _, tok := range strings.Fields(cleaned) {
		if len(tok) < 2 {
			continue
		}
		add(tok)
		for _, mapped := range genericTerms[tok] {
			add(mapped)
		}
	}
	return keywords
}

// PlanCarts builds up to three rule-based plans: cheapest pair, balanced
// pair, and top-ranked single item. maxAmount, when set, orders plans so
// those within budget come first; it never fabricates an empty result.
func PlanCarts(products []domain.Product, maxAmount *domain.Amount) []CartPlan {
	if len(products) == 0 {
		return nil
	}

	var plans []CartPlan

	byPrice := make([]domain.Product, len(products))
	copy(byPrice, products)
	sort.SliceStable(byPrice, func(i, j int) bool { return byPrice[i].Price.Value < byPrice[j].Price.Value })

	cheapest := byPrice[:min(2, len(byPrice))]
	plans = append(plans, CartPlan{
		Name:        "budget",
		Description: "lowest-priced combination",
		Products:    append([]domain.Product{}, cheapest...),
	})

	if len(products) >= 3 {
		mid := len(products) / 2
		balanced := products[mid:min(mid+2, len(products))]
		plans = append(plans, CartPlan{
			Name:        "balanced",
			Description: "mid-range quality and price",
			Products:    append([]domain.Product{}, balanced...),
		})
	}

	plans = append(plans, CartPlan{
		Name:        "single",
		Description: "top match only",
		Products:    []domain.Product{products[0]},
	})

	plans = dedupePlans(plans)

	if maxAmount != nil {
		sort.SliceStable(plans, func(i, j int) bool {
			return planWithinBudget(plans[i], maxAmount) && !planWithinBudget(plans[j], maxAmount)
		})
	}
	return plans
}

func planWithinBudget(p CartPlan, max *domain.Amount) bool {
	var subtotal int64
	for _, prod := range p.Products {
		subtotal += prod.Price.Value
	}
	total := subtotal + subtotal*taxRatePercent/100 + shippingFlatJPY
	return total <= max.Value
}

func dedupePlans(plans []CartPlan) []CartPlan {
	seen := map[string]bool{}
	var out []CartPlan
	for _, p := range plans {
		ids := make([]string, len(p.Products))
		for i, prod := range p.Products {
			ids[i] = prod.ID
		}
		sort.Strings(ids)
		key := strings.Join(ids, ",")
		if !seen[key] {
			seen[key] = true
			out = append(out, p)
		}
	}
	return out
}

// BuildCartMandate assembles the unsigned cart for a plan: one line per
// product, 10% tax, flat 500 JPY shipping.
func (m *MerchantAgent) BuildCartMandate(plan CartPlan, intent *domain.IntentMandate) *domain.CartMandate {
	var items []domain.PaymentItem
	var subtotal int64
	currency := "JPY"

	for _, p := range plan.Products {
		items = append(items, domain.PaymentItem{
			Label:  p.Name,
			Amount: p.Price,
		})
		subtotal += p.Price.Value
		currency = p.Price.Currency
	}

	tax := subtotal * taxRatePercent / 100
	items = append(items,
		domain.PaymentItem{Label: fmt.Sprintf("Tax (%d%%)", taxRatePercent), Amount: domain.Amount{Currency: currency, Value: tax}},
		domain.PaymentItem{Label: "Shipping", Amount: domain.Amount{Currency: currency, Value: shippingFlatJPY}},
	)
	total := subtotal + tax + shippingFlatJPY

	cartID := "cart_" + uuid.NewString()
	return &domain.CartMandate{
		Contents: domain.CartContents{
			ID:                           cartID,
			UserCartConfirmationRequired: intent.UserCartConfirmationRequired,
			PaymentRequest: domain.PaymentRequest{
				MethodData: []domain.PaymentMethodData{{SupportedMethods: "basic-card"}},
				Details: domain.PaymentDetails{
					ID:           "details_" + cartID,
					DisplayItems: items,
					Total:        domain.PaymentItem{Label: "Total", Amount: domain.Amount{Currency: currency, Value: total}},
				},
			},
			CartExpiry:   m.now().UTC().Add(m.cartExpiry).Format(time.RFC3339),
			MerchantName: m.merchantName,
		},
		Metadata: domain.CartMetadata{
			MerchantID:      m.merchantDID,
			IntentMandateID: intent.ID,
			PlanName:        plan.Name,
			PlanDescription: plan.Description,
		},
	}
}

// HandleIntent runs the full pipeline: analyse, search, check inventory,
// plan, build, and await signatures concurrently. Signed carts come back
// as artifacts in the order they finished signing; zero signed carts at
// the deadline yields an empty list, never a partial unsigned cart.
func (m *MerchantAgent) HandleIntent(ctx context.Context, intent *domain.IntentMandate) ([]a2a.Artifact, error) {
	if intent.NaturalLanguageDescription == "" {
		return nil, fmt.Errorf("intent has no description")
	}
	if !intent.AllowsMerchant(m.merchantDID) {
		m.log.Info().Str("intent_id", intent.ID).Msg("intent excludes this merchant")
		return []a2a.Artifact{}, nil
	}

	keywords := AnalyzeIntent(intent.NaturalLanguageDescription)
	products := m.catalog.Search(keywords, "", maxSearchHits)

	// Inventory and SKU allowlist filter.
	var available []domain.Product
	for _, p := range products {
		if p.InStock(1) && intent.AllowsSKU(p.SKU) {
			available = append(available, p)
		}
	}

	var maxAmount *domain.Amount
	if intent.Constraints != nil {
		maxAmount = intent.Constraints.MaxAmount
	}
	plans := PlanCarts(available, maxAmount)
	if len(plans) == 0 {
		m.log.Info().Str("intent_id", intent.ID).Strs("keywords", keywords).Msg("no products matched intent")
		return []a2a.Artifact{}, nil
	}

	results := make(chan *domain.CartMandate, len(plans))
	for _, plan := range plans {
		cart := m.BuildCartMandate(plan, intent)
		go m.signCart(ctx, cart, results)
	}

	var artifacts []a2a.Artifact
	for range plans {
		signed := <-results
		if signed == nil {
			continue
		}
		raw, err := json.Marshal(signed)
		if err != nil {
			m.log.Error().Err(err).Msg("encoding signed cart")
			continue
		}
		artifacts = append(artifacts, a2a.Artifact{
			ArtifactID: signed.Contents.ID,
			Name:       signed.Metadata.PlanName,
			Payload:    raw,
		})
	}
	if artifacts == nil {
		artifacts = []a2a.Artifact{}
	}
	return artifacts, nil
}

// signCart submits one cart and, when pending, polls until signed,
// rejected, or the poll budget elapses. Exactly one value is sent on out:
// the signed cart or nil.
func (m *MerchantAgent) signCart(ctx context.Context, cart *domain.CartMandate, out chan<- *domain.CartMandate) {
	cartID := cart.Contents.ID

	res, err := m.signer.SubmitCart(ctx, cart)
	if err != nil {
		m.log.Warn().Err(err).Str("cart_id", cartID).Msg("cart submission failed")
		out <- nil
		return
	}

	switch res.Status {
	case CartStateSigned:
		out <- res.SignedCart
		return
	case CartStatePending:
		// fall through to the poll loop
	default:
		m.log.Info().Str("cart_id", cartID).Str("status", string(res.Status)).Msg("cart not signable")
		out <- nil
		return
	}

	deadline := m.now().Add(m.pollCap)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Str("cart_id", cartID).Msg("sign wait cancelled")
			out <- nil
			return
		case <-ticker.C:
			if m.now().After(deadline) {
				m.log.Info().Str("cart_id", cartID).Msg("sign poll budget elapsed")
				out <- nil
				return
			}
			res, err := m.signer.Poll(ctx, cartID)
			if err != nil {
				m.log.Warn().Err(err).Str("cart_id", cartID).Msg("sign poll failed")
				out <- nil
				return
			}
			switch res.Status {
			case CartStateSigned:
				out <- res.SignedCart
				return
			case CartStatePending:
				// keep polling
			default:
				m.log.Info().Str("cart_id", cartID).Str("status", string(res.Status)).
					Str("reason", res.Reason).Msg("cart reached terminal state unsigned")
				out <- nil
				return
			}
		}
	}
}
