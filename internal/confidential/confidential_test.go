package confidential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offermesh/router/internal/model"
)

func TestIsOpaqueMatchesZeroSentinel(t *testing.T) {
	shim := NewHTTPShim("http://example.invalid", "key", "secret")
	opaque := &model.Intent{}
	plain := &model.Intent{ReceiveAmount: 10}
	require.True(t, shim.IsOpaque(opaque))
	require.False(t, shim.IsOpaque(plain))
}

func TestDecryptRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/decrypt", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"receive_amount": "1000000000",
			"min_price":      "1500000000",
			"max_price":      "1600000000",
		})
	}))
	defer srv.Close()

	shim := NewHTTPShim(srv.URL, "key", "secret")
	intent := &model.Intent{EncryptedPayload: []byte("blob")}
	params, err := shim.Decrypt(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000), params.ReceiveAmount)
	require.Equal(t, int64(1_500_000_000), params.MinPrice)
	require.Equal(t, int64(1_600_000_000), params.MaxPrice)
}

func TestDecryptDegradesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	shim := NewHTTPShim(srv.URL, "key", "secret")
	_, err := shim.Decrypt(context.Background(), &model.Intent{})
	require.Error(t, err)
	var rerr *model.RouterError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, model.KindConfidentialityMiss, rerr.Kind)
}

func TestSessionCredentialCachedAcrossCalls(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"receive_amount": "1", "min_price": "1", "max_price": "1",
		})
	}))
	defer srv.Close()

	shim := NewHTTPShim(srv.URL, "key", "secret")
	_, err := shim.Decrypt(context.Background(), &model.Intent{})
	require.NoError(t, err)
	_, err = shim.Decrypt(context.Background(), &model.Intent{})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	require.Equal(t, seen[0], seen[1], "the derived session credential must be reused within its TTL")
}
