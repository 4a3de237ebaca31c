package signer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbot/internal/domain"
)

func TestSign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sign", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req signRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.Transaction)
		require.NoError(t, err)
		assert.Equal(t, "unsigned", string(raw))

		json.NewEncoder(w).Encode(signResponse{
			SignedTransaction: base64.StdEncoding.EncodeToString([]byte("signed")),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", time.Second)
	signed, err := c.Sign(context.Background(), domain.UnsignedTx("unsigned"))
	require.NoError(t, err)
	assert.Equal(t, []byte("signed"), []byte(signed))
}

func TestSignServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Sign(context.Background(), domain.UnsignedTx("x"))
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
}
