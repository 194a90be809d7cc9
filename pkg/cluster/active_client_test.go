package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contentmesh/server/pkg/entity"
	"github.com/contentmesh/server/pkg/peerauth"
)

func TestActiveClientGetHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/history?from=100", r.URL.RequestURI())
		json.NewEncoder(w).Encode(map[string]any{
			"events": []map[string]any{
				{"serverName": "peer-a", "entityId": "bA", "entityType": "scene", "timestamp": 200},
			},
		})
	}))
	defer srv.Close()

	c := NewActiveClient("peer-a", srv.URL, srv.Client(), 100, 10)
	events, err := c.GetHistory(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "bA", events[0].EntityID)
}

func TestActiveClientGetContentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewActiveClient("peer-a", srv.URL, srv.Client(), 100, 10)
	_, err := c.GetContent(context.Background(), "bafyXYZ")
	require.Error(t, err)
}

func TestActiveClientGetEntityReparsesAndRederivesID(t *testing.T) {
	raw := []byte(`{"type":"scene","pointers":["0,0"],"timestamp":1000,"content":{}}`)
	want, err := entity.Parse(raw)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]json.RawMessage{raw})
	}))
	defer srv.Close()

	c := NewActiveClient("peer-a", srv.URL, srv.Client(), 100, 10)
	got, err := c.GetEntity(context.Background(), "scene", want.ID)
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
}

func TestActiveClientCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewActiveClient("peer-a", srv.URL, srv.Client(), 1000, 1000)
	for i := 0; i < 5; i++ {
		_, _, _ = c.get(context.Background(), "/status")
	}
	require.True(t, c.breaker.Open(), "breaker should be open after threshold consecutive failures")

	_, _, err := c.get(context.Background(), "/status")
	require.ErrorContains(t, err, "circuit open")
}

func TestActiveClientSetSignerAttachesBearerToken(t *testing.T) {
	verifier := peerauth.NewVerifier("shared-secret")
	var gotPeer string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		peerName, err := verifier.Verify(token)
		require.NoError(t, err)
		gotPeer = peerName
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewActiveClient("peer-a", srv.URL, srv.Client(), 100, 10)
	c.SetSigner(peerauth.NewSigner("shared-secret", "node-b"), "node-b")

	_, _, err := c.get(context.Background(), "/status")
	require.NoError(t, err)
	require.Equal(t, "node-b", gotPeer)
}

func TestActiveClientWithoutSignerSendsNoAuthorizationHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewActiveClient("peer-a", srv.URL, srv.Client(), 100, 10)
	_, _, err := c.get(context.Background(), "/status")
	require.NoError(t, err)
	require.Empty(t, gotHeader)
}

func TestActiveClientWatermarksArePerOrigin(t *testing.T) {
	c := NewActiveClient("peer-a", "http://example.invalid", nil, 100, 10)
	c.UpdateTimestamp("origin-1", 100)
	c.UpdateTimestamp("origin-2", 50)
	c.UpdateTimestamp("origin-1", 30) // older, must not regress

	require.EqualValues(t, 100, c.LastKnownTimestamp("origin-1"))
	require.EqualValues(t, 50, c.LastKnownTimestamp("origin-2"))
	require.EqualValues(t, 0, c.LastKnownTimestamp("origin-3"))
}
