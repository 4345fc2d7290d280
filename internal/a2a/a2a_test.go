package a2a

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ap2-payments/internal/crypto"
	"ap2-payments/pkg/apperror"
	"ap2-payments/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyRing map[string]crypto.PublicKey

func (k keyRing) ResolvePublicKey(_ context.Context, kid string) (crypto.PublicKey, error) {
	pub, ok := k[kid]
	if !ok {
		return nil, apperror.ErrKeyNotFound(kid)
	}
	return pub, nil
}

type memReplay struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemReplay() *memReplay { return &memReplay{seen: map[string]bool{}} }

func (m *memReplay) Consume(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func newTestSigner(t *testing.T, kid string) *crypto.Signer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return crypto.NewSigner(key, crypto.AlgES256, kid)
}

func TestMessage_SignAndVerify(t *testing.T) {
	signer := newTestSigner(t, "did:ap2:agent:shopping_agent#key-1")
	ring := keyRing{signer.KeyID(): signer.Public()}

	msg, err := NewMessage("did:ap2:agent:shopping_agent", "did:ap2:agent:merchant_agent",
		TypeIntentMandate, "intent_001", map[string]string{"hello": "world"})
	require.NoError(t, err)
	require.NoError(t, msg.Sign(signer))

	assert.Regexp(t, `^msg_[0-9a-f]{24}$`, msg.Header.MessageID)

	v := NewVerifier(ring, newMemReplay())
	require.NoError(t, v.Verify(context.Background(), msg))
}

func TestVerifier_TamperedPayloadRejected(t *testing.T) {
	signer := newTestSigner(t, "did:ap2:agent:shopping_agent#key-1")
	ring := keyRing{signer.KeyID(): signer.Public()}

	msg, err := NewMessage("did:ap2:agent:shopping_agent", "did:ap2:agent:merchant_agent",
		TypeIntentMandate, "intent_001", map[string]int{"value": 9300})
	require.NoError(t, err)
	require.NoError(t, msg.Sign(signer))

	msg.DataPart.Payload = json.RawMessage(`{"value":1}`)

	v := NewVerifier(ring, nil)
	err = v.Verify(context.Background(), msg)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindAuthentication, appErr.Kind)
}

func TestVerifier_MessageIDReplay(t *testing.T) {
	signer := newTestSigner(t, "did:ap2:agent:shopping_agent#key-1")
	ring := keyRing{signer.KeyID(): signer.Public()}
	replay := newMemReplay()

	msg, err := NewMessage("did:ap2:agent:shopping_agent", "did:ap2:agent:merchant_agent",
		TypeCartRequest, "c1", nil)
	require.NoError(t, err)
	require.NoError(t, msg.Sign(signer))

	v := NewVerifier(ring, replay)
	require.NoError(t, v.Verify(context.Background(), msg))

	err = v.Verify(context.Background(), msg)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "MessageReplay", appErr.Code)
	assert.Equal(t, apperror.KindConflict, appErr.Kind)
}

func TestVerifier_StaleTimestamp(t *testing.T) {
	signer := newTestSigner(t, "did:ap2:agent:shopping_agent#key-1")
	ring := keyRing{signer.KeyID(): signer.Public()}

	msg, err := NewMessage("did:ap2:agent:shopping_agent", "did:ap2:agent:merchant_agent",
		TypeCartRequest, "c1", nil)
	require.NoError(t, err)
	msg.Header.Timestamp = time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	require.NoError(t, msg.Sign(signer))

	v := NewVerifier(ring, nil)
	require.Error(t, v.Verify(context.Background(), msg))
}

func TestVerifier_ForeignKeyRejected(t *testing.T) {
	// A valid signature by a key not owned by the claimed sender must fail.
	attacker := newTestSigner(t, "did:ap2:agent:attacker#key-1")
	ring := keyRing{attacker.KeyID(): attacker.Public()}

	msg, err := NewMessage("did:ap2:agent:shopping_agent", "did:ap2:agent:merchant_agent",
		TypeCartRequest, "c1", nil)
	require.NoError(t, err)
	require.NoError(t, msg.Sign(attacker))

	v := NewVerifier(ring, nil)
	require.Error(t, v.Verify(context.Background(), msg))
}

func TestDispatcher_RoutesAndSignsResponse(t *testing.T) {
	client := newTestSigner(t, "did:ap2:agent:shopping_agent#key-1")
	server := newTestSigner(t, "did:ap2:agent:merchant_agent#key-1")
	ring := keyRing{client.KeyID(): client.Public(), server.KeyID(): server.Public()}
	log := logger.NewWithWriter("a2a-test", "error", io.Discard)

	d := NewDispatcher("did:ap2:agent:merchant_agent", server, NewVerifier(ring, newMemReplay()), log)
	d.Register(TypeIntentMandate, func(_ context.Context, m *Message) (*Message, error) {
		return NewMessage("did:ap2:agent:merchant_agent", m.Header.Sender,
			TypeCartCandidates, m.DataPart.ID, map[string]any{"cart_candidates": []any{}})
	})

	msg, err := NewMessage("did:ap2:agent:shopping_agent", "did:ap2:agent:merchant_agent",
		TypeIntentMandate, "intent_001", map[string]string{"q": "shoes"})
	require.NoError(t, err)
	require.NoError(t, msg.Sign(client))

	resp := d.Dispatch(context.Background(), msg)
	require.NotNil(t, resp)
	assert.Equal(t, TypeCartCandidates, resp.DataPart.Type)
	assert.False(t, resp.IsError())

	// The response proof verifies against the server's key.
	respVerifier := NewVerifier(ring, nil)
	require.NoError(t, respVerifier.Verify(context.Background(), resp))
}

func TestDispatcher_ErrorsBecomeTypedResponses(t *testing.T) {
	client := newTestSigner(t, "did:ap2:agent:shopping_agent#key-1")
	server := newTestSigner(t, "did:ap2:agent:merchant_agent#key-1")
	ring := keyRing{client.KeyID(): client.Public(), server.KeyID(): server.Public()}
	log := logger.NewWithWriter("a2a-test", "error", io.Discard)

	d := NewDispatcher("did:ap2:agent:merchant_agent", server, NewVerifier(ring, nil), log)
	d.Register(TypePaymentMandate, func(_ context.Context, _ *Message) (*Message, error) {
		return nil, apperror.ErrHashMismatch()
	})

	msg, err := NewMessage("did:ap2:agent:shopping_agent", "did:ap2:agent:merchant_agent",
		TypePaymentMandate, "pm_001", nil)
	require.NoError(t, err)
	require.NoError(t, msg.Sign(client))

	resp := d.Dispatch(context.Background(), msg)
	require.NotNil(t, resp)
	assert.True(t, resp.IsError())
	assert.Equal(t, "ap2.errors.Authorization", resp.DataPart.Type)

	decoded := resp.DecodeError()
	assert.Equal(t, "HashMismatch", decoded.Code)
	assert.Equal(t, "authorization failed", decoded.Message, "details must not leak")
}

func TestDispatcher_UnknownTypeRejected(t *testing.T) {
	client := newTestSigner(t, "did:ap2:agent:shopping_agent#key-1")
	server := newTestSigner(t, "did:ap2:agent:merchant_agent#key-1")
	ring := keyRing{client.KeyID(): client.Public(), server.KeyID(): server.Public()}
	log := logger.NewWithWriter("a2a-test", "error", io.Discard)

	d := NewDispatcher("did:ap2:agent:merchant_agent", server, NewVerifier(ring, nil), log)

	msg, err := NewMessage("did:ap2:agent:shopping_agent", "did:ap2:agent:merchant_agent",
		"ap2.unknown.Type", "x", nil)
	require.NoError(t, err)
	require.NoError(t, msg.Sign(client))

	resp := d.Dispatch(context.Background(), msg)
	require.NotNil(t, resp)
	assert.True(t, resp.IsError())
	assert.Equal(t, "ap2.errors.Validation", resp.DataPart.Type)
}
