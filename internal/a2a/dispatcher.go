package a2a

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ap2-payments/internal/core/ports"
	"ap2-payments/internal/crypto"
	"ap2-payments/pkg/apperror"

	"github.com/rs/zerolog"
)

// ClockSkew is the accepted window around a message timestamp.
const ClockSkew = 300 * time.Second

// Verifier validates inbound envelopes: sender key resolution, timestamp
// freshness, message-id replay, and proof signature — in that order.
type Verifier struct {
	resolver crypto.KeyResolver
	replay   ports.ReplayStore
	now      func() time.Time
}

// NewVerifier creates a verifier. replay may be nil to skip message-id
// tracking (tests only).
func NewVerifier(resolver crypto.KeyResolver, replay ports.ReplayStore) *Verifier {
	return &Verifier{resolver: resolver, replay: replay, now: time.Now}
}

// Verify checks a message per the envelope rules and returns an AppError on
// any failure.
func (v *Verifier) Verify(ctx context.Context, m *Message) error {
	if m.Header.Proof == nil {
		return apperror.ErrSignatureInvalid(fmt.Errorf("message %s has no proof", m.Header.MessageID))
	}
	if !strings.HasPrefix(m.Header.Proof.KeyID, m.Header.Sender+"#") {
		return apperror.ErrSignatureInvalid(
			fmt.Errorf("proof key %q does not belong to sender %q", m.Header.Proof.KeyID, m.Header.Sender))
	}

	pub, err := v.resolver.ResolvePublicKey(ctx, m.Header.Proof.KeyID)
	if err != nil {
		return err
	}

	ts, err := time.Parse(time.RFC3339, m.Header.Timestamp)
	if err != nil {
		return apperror.Validation(fmt.Sprintf("malformed timestamp %q", m.Header.Timestamp))
	}
	now := v.now().UTC()
	if ts.After(now.Add(ClockSkew)) || now.Sub(ts) > ClockSkew {
		return apperror.ErrSignatureInvalid(fmt.Errorf("timestamp outside %s window", ClockSkew))
	}

	if v.replay != nil {
		fresh, err := v.replay.Consume(ctx, "a2a:"+m.Header.MessageID, ports.ReplayTTL)
		if err != nil {
			return apperror.InternalError(err)
		}
		if !fresh {
			return apperror.ErrMessageReplay()
		}
	}

	data, err := m.SigningBytes()
	if err != nil {
		return err
	}
	return crypto.VerifySignature(pub, m.Header.Proof, data)
}

// HandlerFunc processes a verified message and returns the response payload
// message (unsigned; the dispatcher signs it).
type HandlerFunc func(ctx context.Context, m *Message) (*Message, error)

// Dispatcher routes verified messages to handlers by dataPart.type and
// signs every response. Handlers must be re-entrant; the dispatcher itself
// holds no cross-request state.
type Dispatcher struct {
	identity string
	signer   *crypto.Signer
	verifier *Verifier
	handlers map[string]HandlerFunc
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher for the service identified by
// identity (a DID).
func NewDispatcher(identity string, signer *crypto.Signer, verifier *Verifier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		identity: identity,
		signer:   signer,
		verifier: verifier,
		handlers: make(map[string]HandlerFunc),
		log:      log,
	}
}

// Register maps a dataPart type to a handler. Registration happens during
// startup wiring, before any dispatch.
func (d *Dispatcher) Register(dataType string, h HandlerFunc) {
	d.handlers[dataType] = h
}

// Dispatch verifies a message, invokes its handler, and returns a signed
// response. Failures become signed ap2.errors.* responses.
func (d *Dispatcher) Dispatch(ctx context.Context, m *Message) *Message {
	resp, err := d.dispatch(ctx, m)
	if err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			appErr = apperror.InternalError(err)
		}
		d.log.Warn().
			Str("message_id", m.Header.MessageID).
			Str("type", m.DataPart.Type).
			Str("code", appErr.Code).
			Err(appErr.Err).
			Msg("a2a request failed")
		resp, err = ErrorMessage(d.identity, m, appErr)
		if err != nil {
			d.log.Error().Err(err).Msg("building a2a error response")
			return nil
		}
	}
	if err := resp.Sign(d.signer); err != nil {
		d.log.Error().Err(err).Msg("signing a2a response")
		return nil
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, m *Message) (*Message, error) {
	if err := d.verifier.Verify(ctx, m); err != nil {
		return nil, err
	}
	h, ok := d.handlers[m.DataPart.Type]
	if !ok {
		return nil, apperror.Validation(fmt.Sprintf("no handler for %q", m.DataPart.Type))
	}
	return h(ctx, m)
}
