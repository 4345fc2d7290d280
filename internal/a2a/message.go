// Package a2a implements the signed agent-to-agent message frame used
// between AP2 services: envelope construction, proof signing and
// verification, a typed handler registry, and an HTTP client.
package a2a

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"ap2-payments/internal/crypto"
	"ap2-payments/pkg/apperror"
)

// DataPart types carried between agents.
const (
	TypeIntentMandate  = "ap2.mandates.IntentMandate"
	TypeCartMandate    = "ap2.mandates.CartMandate"
	TypePaymentMandate = "ap2.mandates.PaymentMandate"
	TypeCartRequest    = "ap2.requests.CartRequest"
	TypeCartSelection  = "ap2.requests.CartSelection"
	TypeCartCandidates = "ap2.responses.CartCandidates"
	TypePaymentResult  = "ap2.responses.PaymentResult"

	errorTypePrefix = "ap2.errors."
)

// Header identifies and authenticates a message.
type Header struct {
	MessageID string            `json:"message_id"`
	Sender    string            `json:"sender"`
	Recipient string            `json:"recipient"`
	Timestamp string            `json:"timestamp"`
	Proof     *crypto.Signature `json:"proof,omitempty"`
}

// DataPart is the typed payload of a message.
type DataPart struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Message is the A2A envelope.
type Message struct {
	Header   Header   `json:"header"`
	DataPart DataPart `json:"dataPart"`
}

// Artifact is an addressable result returned by an agent. Callers treat
// artifact lists as unordered bags keyed by artifactId.
type Artifact struct {
	ArtifactID string          `json:"artifactId"`
	Name       string          `json:"name,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// ErrorPayload is the body of an ap2.errors.* response.
type ErrorPayload struct {
	Kind   string `json:"kind"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// NewMessage builds an unsigned envelope around payload.
func NewMessage(sender, recipient, dataType, dataID string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshaling payload: %w", err))
	}
	return &Message{
		Header: Header{
			MessageID: newMessageID(),
			Sender:    sender,
			Recipient: recipient,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		DataPart: DataPart{Type: dataType, ID: dataID, Payload: raw},
	}, nil
}

// ErrorMessage builds the error response for a failed request. Only the
// error's kind, code and safe message cross the wire.
func ErrorMessage(sender string, req *Message, appErr *apperror.AppError) (*Message, error) {
	return NewMessage(sender, req.Header.Sender,
		errorTypePrefix+string(appErr.Kind), req.DataPart.ID,
		ErrorPayload{Kind: string(appErr.Kind), Code: appErr.Code, Detail: appErr.Message})
}

// IsError reports whether a message carries an ap2.errors.* payload.
func (m *Message) IsError() bool {
	return len(m.DataPart.Type) > len(errorTypePrefix) &&
		m.DataPart.Type[:len(errorTypePrefix)] == errorTypePrefix
}

// DecodeError unpacks an error message back into an AppError.
func (m *Message) DecodeError() *apperror.AppError {
	var p ErrorPayload
	if err := json.Unmarshal(m.DataPart.Payload, &p); err != nil {
		return apperror.InternalError(fmt.Errorf("malformed error payload: %w", err))
	}
	return apperror.New(apperror.Kind(p.Kind), p.Code, p.Detail)
}

// SigningBytes returns the canonical form of the message with header.proof
// removed — the input both signing and verification operate on.
func (m *Message) SigningBytes() ([]byte, error) {
	unsigned := *m
	unsigned.Header.Proof = nil
	return crypto.Canonicalize(unsigned)
}

// Sign attaches a proof over the canonical form.
func (m *Message) Sign(signer *crypto.Signer) error {
	data, err := m.SigningBytes()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return err
	}
	m.Header.Proof = sig
	return nil
}

func newMessageID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("a2a: reading random bytes: %v", err))
	}
	return "msg_" + hex.EncodeToString(b[:])
}
