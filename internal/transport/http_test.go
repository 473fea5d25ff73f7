package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

func TestHTTPTransport_Deliver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ingest/detection", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var batch wire.Batch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))

		acks := make([]wire.Ack, 0, len(batch.Messages))
		for _, m := range batch.Messages {
			acks = append(acks, wire.Ack{MessageID: m.MessageID, Outcome: wire.OutcomeAccepted})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"acks": acks}) //nolint:errcheck
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, 5*time.Second)
	acks, err := tr.Deliver(context.Background(), testBatch())
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Accepted())
}

func TestHTTPTransport_Deliver_BadRequestIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "schema validation failed", http.StatusBadRequest)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, 5*time.Second)
	_, err := tr.Deliver(context.Background(), testBatch())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRejected))
	assert.False(t, apperrors.Is(err, apperrors.ErrTransport))
}

func TestHTTPTransport_Deliver_ServerErrorIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusInternalServerError)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, 5*time.Second)
	_, err := tr.Deliver(context.Background(), testBatch())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransport))
}

func TestHTTPTransport_Deliver_ConnectRefused(t *testing.T) {
	tr := NewHTTPTransport("http://127.0.0.1:1", time.Second)
	_, err := tr.Deliver(context.Background(), testBatch())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransport))
}

func TestHTTPTransport_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ping", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, 5*time.Second)
	assert.NoError(t, tr.Probe(context.Background()))

	server.Close()
	assert.Error(t, tr.Probe(context.Background()))
}
