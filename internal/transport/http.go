package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// HTTPTransport delivers batches over the request/response fallback API.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates an HTTP transport against the given base URL.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name identifies the channel in logs and the operational log.
func (t *HTTPTransport) Name() string { return NameHTTP }

// Deliver posts the batch to /v1/ingest/{kind}. A 200 carries per-record acks
// (partial acceptance included); a 400 is a whole-batch rejection and is
// terminal; anything else is a transport failure and will be retried.
func (t *HTTPTransport) Deliver(ctx context.Context, batch *wire.Batch) ([]wire.Ack, error) {
	if len(batch.Messages) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode batch")
	}

	url := fmt.Sprintf("%s/v1/ingest/%s", t.baseURL, batch.Messages[0].Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		var response struct {
			Acks []wire.Ack `json:"acks"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return nil, fmt.Errorf("%w: malformed ack response: %v", apperrors.ErrTransport, err)
		}
		return response.Acks, nil
	case resp.StatusCode == http.StatusBadRequest:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %s", apperrors.ErrRejected, string(detail))
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", apperrors.ErrTransport, resp.StatusCode)
	}
}

// Probe checks server reachability via GET /v1/ping.
func (t *HTTPTransport) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v1/ping", nil)
	if err != nil {
		return apperrors.Wrap(err, "failed to build ping request")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ping status %d", apperrors.ErrTransport, resp.StatusCode)
	}
	return nil
}

// Close is a no-op: the underlying client pools connections itself.
func (t *HTTPTransport) Close() error { return nil }
