package handler

import (
	"context"
	"encoding/json"

	"ap2-payments/internal/a2a"
	"ap2-payments/internal/core/domain"
	"ap2-payments/internal/service"
	"ap2-payments/pkg/apperror"
)

// RegisterMerchantAgentHandlers wires the merchant agent's A2A types.
func RegisterMerchantAgentHandlers(d *a2a.Dispatcher, agent *service.MerchantAgent, selfDID string) {
	handleIntent := func(ctx context.Context, m *a2a.Message) (*a2a.Message, error) {
		var intent domain.IntentMandate
		if err := json.Unmarshal(m.DataPart.Payload, &intent); err != nil {
			return nil, apperror.Validation("malformed intent mandate")
		}
		artifacts, err := agent.HandleIntent(ctx, &intent)
		if err != nil {
			return nil, err
		}
		return a2a.NewMessage(selfDID, m.Header.Sender, a2a.TypeCartCandidates, m.DataPart.ID,
			map[string]any{"cart_candidates": artifacts})
	}

	d.Register(a2a.TypeIntentMandate, handleIntent)
	d.Register(a2a.TypeCartRequest, handleIntent)
}

// RegisterProcessorHandlers wires the processor's A2A types.
func RegisterProcessorHandlers(d *a2a.Dispatcher, proc *service.ProcessorService, selfDID string) {
	d.Register(a2a.TypePaymentMandate, func(ctx context.Context, m *a2a.Message) (*a2a.Message, error) {
		var payload domain.PaymentMandatePayload
		if err := json.Unmarshal(m.DataPart.Payload, &payload); err != nil {
			return nil, apperror.Validation("malformed payment mandate payload")
		}
		result, err := proc.Process(ctx, &payload)
		if err != nil {
			return nil, err
		}
		return a2a.NewMessage(selfDID, m.Header.Sender, a2a.TypePaymentResult, m.DataPart.ID, result)
	})
}
