package shipstation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printforge/printq-cli/internal/resilience"
)

const orderJSON = `{
	"orderId": 9000,
	"orderNumber": "111-2222222-3333333",
	"orderStatus": "awaiting_shipment",
	"internalNotes": "packed by station 2",
	"items": [
		{"orderItemId": 1, "lineItemKey": "li-1", "sku": "MUG-CUSTOM", "options": []},
		{"orderItemId": 2, "lineItemKey": "li-2", "sku": "COASTER", "options": []}
	]
}`

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("key", "secret",
		WithBaseURL(srv.URL),
		WithRateLimit(1000),
		WithRetryConfig(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, JitterFraction: -1}),
	)
}

func TestGetOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/9000", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		w.Write([]byte(orderJSON)) //nolint:errcheck
	}))

	o, err := c.GetOrder(context.Background(), "9000")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), o.OrderID)
	assert.Equal(t, "awaiting_shipment", o.OrderStatus)
	assert.False(t, o.IsFinalized())
	require.Len(t, o.Items, 2)
	assert.Equal(t, "li-1", o.Items[0].LineItemKey)
}

func TestGetOrder_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))

	_, err := c.GetOrder(context.Background(), "404404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestIsFinalized(t *testing.T) {
	for _, status := range []string{"shipped", "Shipped", "cancelled", "fulfilled"} {
		o := &Order{OrderStatus: status}
		assert.True(t, o.IsFinalized(), status)
	}
	for _, status := range []string{"awaiting_shipment", "on_hold", ""} {
		o := &Order{OrderStatus: status}
		assert.False(t, o.IsFinalized(), status)
	}
}

func TestPushItemOptions(t *testing.T) {
	var posted map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.Write([]byte(orderJSON)) //nolint:errcheck
		case r.Method == http.MethodPost:
			assert.Equal(t, "/orders/createorder", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.Write([]byte(`{"orderId": 9000}`)) //nolint:errcheck
		}
	}))

	ctx := context.Background()
	o, err := c.GetOrder(ctx, "9000")
	require.NoError(t, err)

	err = c.PushItemOptions(ctx, o, map[string][]ItemOption{
		"li-1": {{Name: "CustomText", Value: "Rex"}, {Name: "Colour 1", Value: "Red"}},
	}, "Automated Task Sync 2026-09-01T00:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, posted)

	items := posted["items"].([]any)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	opts := first["options"].([]any)
	require.Len(t, opts, 2)
	assert.Equal(t, "CustomText", opts[0].(map[string]any)["name"])
	assert.Equal(t, "Rex", opts[0].(map[string]any)["value"])

	// Unmatched item keeps its original (empty) options.
	second := items[1].(map[string]any)
	assert.Empty(t, second["options"])

	// Audit note appended to existing notes.
	assert.Equal(t, "packed by station 2\nAutomated Task Sync 2026-09-01T00:00:00Z", posted["internalNotes"])
}

func TestPushItemOptions_RequiresFetchedOrder(t *testing.T) {
	c := NewClient("key", "secret")
	err := c.PushItemOptions(context.Background(), &Order{OrderID: 1}, map[string][]ItemOption{"k": nil}, "")
	require.Error(t, err)
}

func TestDo_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(orderJSON)) //nolint:errcheck
	}))

	o, err := c.GetOrder(context.Background(), "9000")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), o.OrderID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := c.GetOrder(context.Background(), "9000")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
