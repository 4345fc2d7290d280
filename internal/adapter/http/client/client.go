// Package client holds the HTTP clients services use to reach each other:
// plain JSON for internal ops (merchant signing, network tokenization,
// credential resolution) and A2A envelopes for mandate exchange.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ap2-payments/pkg/apperror"
)

// rest is the shared plain-JSON caller. It unwraps the standard success
// envelope and converts error envelopes back into AppErrors.
type rest struct {
	base string
	http *http.Client
}

func newREST(base string, timeout time.Duration) rest {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return rest{base: base, http: &http.Client{Timeout: timeout}}
}

type successEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Kind      string `json:"kind"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (r rest) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return apperror.InternalError(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(raw))
	if err != nil {
		return apperror.InternalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, out)
}

func (r rest) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+path, nil)
	if err != nil {
		return apperror.InternalError(err)
	}
	return r.do(req, out)
}

func (r rest) do(req *http.Request, out any) error {
	resp, err := r.http.Do(req)
	if err != nil {
		return apperror.ErrUnavailable(req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.ErrorCode == "" {
			return apperror.Wrap(apperror.KindUnavailable, "Unavailable",
				fmt.Sprintf("%s returned %d", req.URL.Host, resp.StatusCode), err)
		}
		return apperror.New(apperror.Kind(envelope.Kind), envelope.ErrorCode, envelope.Message)
	}

	if out == nil {
		return nil
	}
	var envelope successEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperror.InternalError(fmt.Errorf("decoding response from %s: %w", req.URL.Host, err))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return apperror.InternalError(fmt.Errorf("decoding response data from %s: %w", req.URL.Host, err))
	}
	return nil
}
