package service

import (
	"context"
	"io"
	"strings"
	"testing"

	"ap2-payments/internal/adapter/storage/memory"
	"ap2-payments/internal/core/domain"
	"ap2-payments/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNetwork() *NetworkService {
	log := logger.NewWithWriter("network-test", "error", io.Discard)
	return NewNetworkService("apnet", memory.NewTokenStore(), log)
}

func TestNetwork_TokenizeShape(t *testing.T) {
	n := testNetwork()

	res, err := n.Tokenize(context.Background(), TokenizeRequest{
		PaymentMandateID: "pm_1",
		PayerID:          "user_alice",
		Amount:           domain.Amount{Currency: "JPY", Value: 9300},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.AgentToken, "agent_tok_apnet_"), res.AgentToken)
	assert.NotEmpty(t, res.ExpiresAt)

	parts := strings.SplitN(res.AgentToken, "_", 5)
	require.Len(t, parts, 5)
	assert.Len(t, parts[3], 8, "uuid8 segment")
}

func TestNetwork_TokenizeRequiresIdentity(t *testing.T) {
	n := testNetwork()
	_, err := n.Tokenize(context.Background(), TokenizeRequest{})
	require.Error(t, err)
}

func TestNetwork_VerifyToken(t *testing.T) {
	n := testNetwork()
	ctx := context.Background()

	res, err := n.Tokenize(ctx, TokenizeRequest{
		PaymentMandateID: "pm_1", PayerID: "user_alice",
		Amount: domain.Amount{Currency: "JPY", Value: 9300},
	})
	require.NoError(t, err)

	v, err := n.VerifyToken(ctx, res.AgentToken)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "pm_1", v.PaymentMandateID)
	assert.Equal(t, int64(9300), v.Amount.Value)

	v, err = n.VerifyToken(ctx, "agent_tok_apnet_deadbeef_nope")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.Error)
}

func TestNetwork_ChargeHappyPath(t *testing.T) {
	n := testNetwork()
	ctx := context.Background()

	res, err := n.Tokenize(ctx, TokenizeRequest{
		PaymentMandateID: "pm_1", PayerID: "user_alice",
		Amount: domain.Amount{Currency: "JPY", Value: 9300},
	})
	require.NoError(t, err)

	charge, err := n.Charge(ctx, ChargeRequest{
		AgentToken: res.AgentToken,
		Amount:     domain.Amount{Currency: "JPY", Value: 9300},
	})
	require.NoError(t, err)
	assert.Equal(t, "captured", charge.Status)
	assert.NotEmpty(t, charge.NetworkTransactionID)
	assert.NotEmpty(t, charge.AuthorizationCode)
}

func TestNetwork_ChargeInvalidTokenFailsSoftly(t *testing.T) {
	// Token failures are status "failed", not transport errors.
	n := testNetwork()

	charge, err := n.Charge(context.Background(), ChargeRequest{
		AgentToken: "agent_tok_apnet_unknown_x",
		Amount:     domain.Amount{Currency: "JPY", Value: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", charge.Status)
	assert.NotEmpty(t, charge.Error)
}

func TestNetwork_ChargeAmountMismatchFails(t *testing.T) {
	n := testNetwork()
	ctx := context.Background()

	res, err := n.Tokenize(ctx, TokenizeRequest{
		PaymentMandateID: "pm_1", PayerID: "user_alice",
		Amount: domain.Amount{Currency: "JPY", Value: 9300},
	})
	require.NoError(t, err)

	charge, err := n.Charge(ctx, ChargeRequest{
		AgentToken: res.AgentToken,
		Amount:     domain.Amount{Currency: "JPY", Value: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", charge.Status)
}

func TestNetwork_TokenIsSingleUse(t *testing.T) {
	n := testNetwork()
	ctx := context.Background()

	res, err := n.Tokenize(ctx, TokenizeRequest{
		PaymentMandateID: "pm_1", PayerID: "user_alice",
		Amount: domain.Amount{Currency: "JPY", Value: 9300},
	})
	require.NoError(t, err)

	amount := domain.Amount{Currency: "JPY", Value: 9300}
	first, err := n.Charge(ctx, ChargeRequest{AgentToken: res.AgentToken, Amount: amount})
	require.NoError(t, err)
	assert.Equal(t, "captured", first.Status)

	second, err := n.Charge(ctx, ChargeRequest{AgentToken: res.AgentToken, Amount: amount})
	require.NoError(t, err)
	assert.Equal(t, "failed", second.Status, "a token charges exactly once")
}
