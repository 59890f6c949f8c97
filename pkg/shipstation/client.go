// Package shipstation is a minimal client for the ShipStation v1 API,
// covering order status reads and per-line-item option pushes.
package shipstation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/printforge/printq-cli/internal/resilience"
)

const defaultBaseURL = "https://ssapi.shipstation.com"

// Client defines the fulfillment-platform operations used by the sync bridge.
type Client interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	PushItemOptions(ctx context.Context, order *Order, options map[string][]ItemOption, auditNote string) error
}

// ItemOption is one name/value display option on a line item.
type ItemOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OrderItem is the subset of a platform line item the sync bridge reads.
type OrderItem struct {
	OrderItemID int64        `json:"orderItemId"`
	LineItemKey string       `json:"lineItemKey"`
	SKU         string       `json:"sku"`
	Options     []ItemOption `json:"options"`
}

// Order carries the platform's current view of an order. The raw payload is
// retained because the update endpoint expects the full order object back.
type Order struct {
	OrderID       int64       `json:"orderId"`
	OrderNumber   string      `json:"orderNumber"`
	OrderStatus   string      `json:"orderStatus"`
	InternalNotes string      `json:"internalNotes"`
	Items         []OrderItem `json:"items"`

	raw map[string]any
}

// finalizedStatuses are platform states after which an order must not be
// mutated.
var finalizedStatuses = map[string]bool{
	"shipped":   true,
	"fulfilled": true,
	"cancelled": true,
}

// IsFinalized reports whether the platform considers the order closed.
func (o *Order) IsFinalized() bool {
	return finalizedStatuses[strings.ToLower(o.OrderStatus)]
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the request rate. ShipStation allows 40
// requests/minute, so the default stays just under that.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

// WithRetryConfig overrides the retry behavior.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
}

// NewClient creates a ShipStation API client authenticated with basic auth.
func NewClient(apiKey, apiSecret string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(0.65), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}

	var o Order
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, eris.Wrap(err, "shipstation: unmarshal order")
	}
	if err := json.Unmarshal(body, &o.raw); err != nil {
		return nil, eris.Wrap(err, "shipstation: unmarshal raw order")
	}
	return &o, nil
}

// PushItemOptions applies the given option sets to the order's line items,
// matched by line-item key, appends the audit note to the order's internal
// notes, and posts the full order object back. Items without a matching key
// in options are sent unchanged.
func (c *httpClient) PushItemOptions(ctx context.Context, order *Order, options map[string][]ItemOption, auditNote string) error {
	if order == nil || order.raw == nil {
		return eris.New("shipstation: push: order not fetched")
	}
	if len(options) == 0 {
		return nil
	}

	rawItems, _ := order.raw["items"].([]any)
	for _, ri := range rawItems {
		item, ok := ri.(map[string]any)
		if !ok {
			continue
		}
		key, _ := item["lineItemKey"].(string)
		opts, ok := options[key]
		if !ok {
			continue
		}
		pairs := make([]map[string]string, 0, len(opts))
		for _, o := range opts {
			pairs = append(pairs, map[string]string{"name": o.Name, "value": o.Value})
		}
		item["options"] = pairs
	}

	if auditNote != "" {
		notes, _ := order.raw["internalNotes"].(string)
		if notes != "" {
			notes += "\n"
		}
		order.raw["internalNotes"] = notes + auditNote
	}

	payload, err := json.Marshal(order.raw)
	if err != nil {
		return eris.Wrap(err, "shipstation: marshal order update")
	}

	// ShipStation updates orders through the same endpoint that creates them.
	_, err = c.do(ctx, http.MethodPost, "/orders/createorder", payload)
	return err
}

func (c *httpClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "shipstation: rate limit wait")
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, eris.Wrap(err, "shipstation: create request")
		}
		req.SetBasicAuth(c.apiKey, c.apiSecret)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "shipstation: %s %s", method, path)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "shipstation: read response")
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := eris.Errorf("shipstation: %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return respBody, nil
	})
}
