package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

func embedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed_OrdersVectorsByIndex(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// Respond out of order; the client must reassemble by index.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{3, 4}},
				{"index": 0, "embedding": []float32{1, 2}},
			},
		})
	})

	c := New(srv.URL, "test-model", 2, 64)
	vectors, err := c.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 2}, vectors[0])
	assert.Equal(t, []float32{3, 4}, vectors[1])
}

func TestEmbed_DimensionMismatchIsSchemaDrift(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1, 2, 3}},
			},
		})
	})

	c := New(srv.URL, "test-model", 2, 64)
	_, err := c.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, errkind.SchemaDrift, errkind.KindOf(err))
}

func TestEmbed_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   errkind.Kind
	}{
		{http.StatusTooManyRequests, errkind.RateLimited},
		{http.StatusInternalServerError, errkind.UpstreamUnavailable},
		{http.StatusBadRequest, errkind.ValidationRejected},
	}
	for _, tc := range cases {
		srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		c := New(srv.URL, "test-model", 2, 64)
		_, err := c.Embed(context.Background(), []string{"text"})
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.kind, errkind.KindOf(err), "status %d", tc.status)
	}
}

func TestEmbed_DisabledAndOversizedBatch(t *testing.T) {
	disabled := New("", "m", 0, 4)
	assert.False(t, disabled.Enabled())
	_, err := disabled.Embed(context.Background(), []string{"x"})
	assert.Equal(t, errkind.ConfigError, errkind.KindOf(err))

	c := New("http://unused", "m", 0, 2)
	_, err = c.Embed(context.Background(), []string{"a", "b", "c"})
	assert.Equal(t, errkind.ValidationRejected, errkind.KindOf(err))
}
