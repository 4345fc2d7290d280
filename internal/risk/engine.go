// Package risk implements the deterministic risk model applied to payment
// mandates, both by the shopping agent before submission and by the
// processor as a defence-in-depth gate.
package risk

import (
	"context"
	"strings"
	"sync"
	"time"

	"ap2-payments/internal/core/domain"
)

// Score thresholds for the recommendation bands.
const (
	ApproveBelow = 30
	DeclineAt    = 80
)

// Factor caps. Each factor contributes at most its cap to the weighted sum.
const (
	capAmount   = 80
	capMethod   = 25
	capPattern  = 30
	capShipping = 20
	capTemporal = 15
)

// Recommendation bands.
const (
	RecommendApprove = "approve"
	RecommendReview  = "review"
	RecommendDecline = "decline"
)

// Assessment is the engine's verdict on one payment mandate.
type Assessment struct {
	RiskScore       int            `json:"risk_score"`
	Recommendation  string         `json:"recommendation"`
	Factors         map[string]int `json:"factors"`
	FraudIndicators []string       `json:"fraud_indicators,omitempty"`
}

// HistoryRecord is one past transaction of a payer.
type HistoryRecord struct {
	Amount    int64
	Timestamp time.Time
}

// HistoryStore feeds the pattern factor's velocity window.
type HistoryStore interface {
	Record(ctx context.Context, payerID string, rec HistoryRecord) error
	Window(ctx context.Context, payerID string, since time.Time) ([]HistoryRecord, error)
}

// MemoryHistory is a process-local HistoryStore guarded by a lock.
type MemoryHistory struct {
	mu      sync.Mutex
	byPayer map[string][]HistoryRecord
}

// NewMemoryHistory creates an empty history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{byPayer: make(map[string][]HistoryRecord)}
}

// Record appends a transaction record for a payer.
func (m *MemoryHistory) Record(_ context.Context, payerID string, rec HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPayer[payerID] = append(m.byPayer[payerID], rec)
	return nil
}

// Window returns records at or after since.
func (m *MemoryHistory) Window(_ context.Context, payerID string, since time.Time) ([]HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryRecord
	for _, rec := range m.byPayer[payerID] {
		if !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Input bundles what the engine inspects.
type Input struct {
	PayerID        string
	Amount         domain.Amount
	Intent         *domain.IntentMandate // optional; constraint compliance
	Method         domain.TokenizedCard
	Shipping       *domain.Address
	ShippingOption string
	HumanPresent   bool
	AgentInvolved  bool
	// CartCreatedAt and AuthorizedAt drive the temporal factor: how long
	// the user took between seeing the cart and approving it.
	CartCreatedAt time.Time
	AuthorizedAt  time.Time
}

// Engine scores payment mandates.
type Engine struct {
	history HistoryStore
	now     func() time.Time
}

// NewEngine creates an engine over the given history store.
func NewEngine(history HistoryStore) *Engine {
	return &Engine{history: history, now: time.Now}
}

// Assess computes the clamped weighted score and recommendation. The final
// score rises monotonically with the amount, all other factors fixed.
func (e *Engine) Assess(ctx context.Context, in Input) Assessment {
	factors := map[string]int{}
	var indicators []string

	factors["amount"] = capAt(amountRisk(in.Amount.Value), capAmount)

	constraint := constraintRisk(in)
	factors["constraint"] = constraint
	if constraint > 0 {
		indicators = append(indicators, "intent_constraint_violated")
	}

	if in.AgentInvolved {
		factors["agent_involvement"] = 5
	}
	if in.HumanPresent {
		factors["transaction_type"] = 5
	} else {
		factors["transaction_type"] = 15
	}

	method := methodRisk(in.Method, e.now())
	factors["payment_method"] = capAt(method, capMethod)
	if method > 0 {
		indicators = append(indicators, "payment_method_anomaly")
	}

	pattern := e.patternRisk(ctx, in)
	factors["pattern"] = capAt(pattern, capPattern)
	if pattern >= capPattern {
		indicators = append(indicators, "velocity_spike")
	}

	factors["shipping"] = capAt(shippingRisk(in.Shipping, in.ShippingOption), capShipping)
	factors["temporal"] = capAt(temporalRisk(in.CartCreatedAt, in.AuthorizedAt), capTemporal)

	total := 0
	for _, v := range factors {
		total += v
	}
	score := clamp(total, 0, 100)

	// Exceeding the user-authorized maximum is a hard violation, not a
	// weighted signal: it floors the score into the decline band.
	if constraint > 0 && score < DeclineAt {
		score = DeclineAt
	}

	_ = e.history.Record(ctx, in.PayerID, HistoryRecord{Amount: in.Amount.Value, Timestamp: e.now()})

	return Assessment{
		RiskScore:       score,
		Recommendation:  recommend(score),
		Factors:         factors,
		FraudIndicators: indicators,
	}
}

// amountRisk steps through the JPY value thresholds.
func amountRisk(value int64) int {
	switch {
	case value >= 1_000_000:
		return 60
	case value >= 500_000:
		return 45
	case value >= 100_000:
		return 35
	case value >= 50_000:
		return 25
	case value >= 10_000:
		return 10
	default:
		return 0
	}
}

// constraintRisk flags totals exceeding the intent's max_amount or a
// currency mismatch.
func constraintRisk(in Input) int {
	if in.Intent == nil || in.Intent.Constraints == nil || in.Intent.Constraints.MaxAmount == nil {
		return 0
	}
	max := in.Intent.Constraints.MaxAmount
	if max.Currency != in.Amount.Currency {
		return 50
	}
	if in.Amount.Value > max.Value {
		return 50
	}
	return 0
}

func methodRisk(m domain.TokenizedCard, now time.Time) int {
	risk := 0
	if m.Tokenized && m.Token == "" {
		risk += 15
	}
	if !m.Tokenized && m.ExpiryYear > 0 {
		expired := m.ExpiryYear < now.Year() ||
			(m.ExpiryYear == now.Year() && m.ExpiryMonth > 0 && m.ExpiryMonth < int(now.Month()))
		if expired {
			risk += 50
		}
	}
	return risk
}

func (e *Engine) patternRisk(ctx context.Context, in Input) int {
	window, err := e.history.Window(ctx, in.PayerID, e.now().Add(-24*time.Hour))
	if err != nil {
		return 0
	}
	risk := 0
	if len(window) == 0 {
		risk += 15 // first-time payer
	}
	if len(window) >= 5 {
		risk += 30
	}
	if len(window) > 0 {
		var sum int64
		for _, rec := range window {
			sum += rec.Amount
		}
		avg := sum / int64(len(window))
		if avg > 0 && in.Amount.Value >= avg*3 {
			risk += 15
		}
	}
	return risk
}

func shippingRisk(addr *domain.Address, option string) int {
	risk := 0
	if addr != nil {
		line := strings.ToLower(addr.AddressLine)
		if strings.Contains(line, "p.o. box") || strings.Contains(line, "po box") {
			risk += 15
		}
	}
	if strings.EqualFold(option, "express") {
		risk += 5
	}
	return risk
}

func temporalRisk(created, authorized time.Time) int {
	if created.IsZero() || authorized.IsZero() {
		return 0
	}
	dt := authorized.Sub(created)
	switch {
	case dt < 5*time.Second:
		return 15
	case dt < 30*time.Second:
		return 10
	case dt > time.Hour:
		return 5
	default:
		return 0
	}
}

func recommend(score int) string {
	switch {
	case score < ApproveBelow:
		return RecommendApprove
	case score < DeclineAt:
		return RecommendReview
	default:
		return RecommendDecline
	}
}

func capAt(v, max int) int {
	if v > max {
		return max
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
