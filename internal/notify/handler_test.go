package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestTopicsSnapshot(t *testing.T) {
	bus, _ := testBus(t)
	hub := NewSSEHub(testLogger())
	handler := NewHandler(testLogger(), bus, hub)

	r := chi.NewRouter()
	handler.MountRoutes(r)

	bus.Publish(context.Background(), TopicIntentRefresh, TopicUpcomingDeliveryRefresh)

	req := httptest.NewRequest(http.MethodGet, "/topics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Contains(t, out, string(TopicIntentRefresh))
	require.Contains(t, out, string(TopicUpcomingDeliveryRefresh))
	require.NotContains(t, out, string(TopicSiteTransferRefresh))
}
