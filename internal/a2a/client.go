package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ap2-payments/internal/crypto"
	"ap2-payments/pkg/apperror"
)

// Client sends signed envelopes to other agents' /a2a/message endpoints.
type Client struct {
	identity string
	signer   *crypto.Signer
	verifier *Verifier // optional; verifies response proofs when set
	http     *http.Client
}

// NewClient creates an A2A client for the given identity. httpClient may
// carry the caller's timeout policy; pass nil for the default.
func NewClient(identity string, signer *crypto.Signer, verifier *Verifier, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{identity: identity, signer: signer, verifier: verifier, http: httpClient}
}

// Send builds, signs and posts an envelope, returning the decoded response
// message. Error responses come back as AppErrors; context deadlines map to
// Unavailable.
func (c *Client) Send(ctx context.Context, baseURL, recipient, dataType, dataID string, payload any) (*Message, error) {
	msg, err := NewMessage(c.identity, recipient, dataType, dataID, payload)
	if err != nil {
		return nil, err
	}
	if err := msg.Sign(c.signer); err != nil {
		return nil, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/a2a/message", bytes.NewReader(body))
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.ErrUnavailable(recipient, err)
	}
	defer resp.Body.Close()

	var out Message
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperror.Wrap(apperror.KindUnavailable, "Unavailable",
			fmt.Sprintf("malformed a2a response from %s", recipient), err)
	}

	if c.verifier != nil {
		if err := c.verifier.Verify(ctx, &out); err != nil {
			return nil, err
		}
	}
	if out.IsError() {
		return nil, out.DecodeError()
	}
	return &out, nil
}
