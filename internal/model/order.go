package model

import (
	"regexp"
	"strings"
	"time"
)

// OrderStatus mirrors the fulfillment status carried on ingested orders.
type OrderStatus string

const (
	OrderStatusAwaitingShipment OrderStatus = "awaiting_shipment"
	OrderStatusShipped          OrderStatus = "shipped"
	OrderStatusFulfilled        OrderStatus = "fulfilled"
	OrderStatusCancelled        OrderStatus = "cancelled"
	OrderStatusOnHold           OrderStatus = "on_hold"
)

// Product is read-only reference data for an order item.
type Product struct {
	ID   int64  `json:"id"`
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

// OrderItem is a single line item on an ingested order.
type OrderItem struct {
	ID                  int64         `json:"id"`
	OrderID             int64         `json:"order_id"`
	ProductID           int64         `json:"product_id"`
	Quantity            int           `json:"quantity"`
	PrintSettings       PrintSettings `json:"print_settings"`
	PlatformLineItemKey string        `json:"platform_line_item_key,omitempty"`
	Product             *Product      `json:"product,omitempty"`
}

// Order is an ingested marketplace order with its items. The pipeline reads
// orders but never mutates them.
type Order struct {
	ID            int64       `json:"id"`
	OrderNumber   string      `json:"order_number"`
	PlatformID    string      `json:"platform_order_id,omitempty"`
	Marketplace   string      `json:"marketplace"`
	CustomerNotes string      `json:"customer_notes,omitempty"`
	Status        OrderStatus `json:"status"`
	OrderDate     time.Time   `json:"order_date"`
	ShipByDate    *time.Time  `json:"ship_by_date,omitempty"`
	Items         []OrderItem `json:"items"`
}

// amazonOrderNumber matches Amazon's 3-7-7 order number shape.
var amazonOrderNumber = regexp.MustCompile(`^\d{3}-\d{7}-\d{7}$`)

// IsAmazon reports whether the order came from a marketplace capable of
// structured customization references, judged by the marketplace label or
// by the order number shape.
func (o *Order) IsAmazon() bool {
	if strings.Contains(strings.ToLower(o.Marketplace), "amazon") {
		return true
	}
	return amazonOrderNumber.MatchString(o.OrderNumber)
}
