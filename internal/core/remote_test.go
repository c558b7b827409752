package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteEncoder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/encode", r.URL.Path)

		var req encodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jvm internals", req.Text)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(encodeResponse{Vector: []float32{0.1, 0.2, 0.3}}); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}))
	defer server.Close()

	encoder := NewRemoteEncoder(server.URL)

	vector, err := encoder.Encode(context.Background(), "jvm internals")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
}

func TestRemoteEncoderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	encoder := NewRemoteEncoder(server.URL)

	_, err := encoder.Encode(context.Background(), "anything")
	assert.Error(t, err)
}

func TestRemoteEncoderEmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"vector": []}`)); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}))
	defer server.Close()

	encoder := NewRemoteEncoder(server.URL)

	_, err := encoder.Encode(context.Background(), "anything")
	assert.Error(t, err)
}

func TestRemoteEncoderUnreachable(t *testing.T) {
	encoder := NewRemoteEncoder("http://127.0.0.1:1")

	_, err := encoder.Encode(context.Background(), "anything")
	assert.Error(t, err)
}
