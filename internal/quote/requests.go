package quote

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/budget-api/internal/pricing"
)

// CreateQuoteRequest is the body of POST /quotes.
type CreateQuoteRequest struct {
	CustomerID string           `json:"customerId" validate:"required,max=64"`
	Discount   *decimal.Decimal `json:"discount" validate:"omitempty,gte=0,lte=100"`
}

// AddItemRequest is the body of POST /quotes/{id}/items.
type AddItemRequest struct {
	ProductID *string          `json:"productId" validate:"required_without=ServiceID,excluded_with=ServiceID"`
	ServiceID *string          `json:"serviceId" validate:"required_without=ProductID,excluded_with=ProductID"`
	Quantity  int              `json:"quantity" validate:"required,gte=1"`
	Discount  *decimal.Decimal `json:"discount" validate:"omitempty,gte=0,lte=100"`
}

// UpdateItemRequest is the body of PATCH /quote-items/{itemId}.
type UpdateItemRequest struct {
	Quantity *int             `json:"quantity" validate:"omitempty,gte=1"`
	Discount *decimal.Decimal `json:"discount" validate:"omitempty,gte=0,lte=100"`
}

// DiscountRequest is the body of PUT /quotes/{id}/discount.
type DiscountRequest struct {
	Discount *decimal.Decimal `json:"discount" validate:"omitempty,gte=0,lte=100"`
}

// QuoteResponse is the wire form of a quote. Money and percentages are
// rendered as strings with two decimals.
type QuoteResponse struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"ownerId"`
	CustomerID string         `json:"customerId"`
	Discount   string         `json:"discount"`
	Status     Status         `json:"status"`
	Subtotal   string         `json:"subtotal"`
	TotalPrice string         `json:"totalPrice"`
	Currency   string         `json:"currency,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	Items      []ItemResponse `json:"items"`
}

// ItemResponse is the wire form of a line item.
type ItemResponse struct {
	ID        string  `json:"id"`
	QuoteID   string  `json:"quoteId"`
	ProductID *string `json:"productId"`
	ServiceID *string `json:"serviceId"`
	Quantity  int     `json:"quantity"`
	Discount  string  `json:"discount"`
	UnitPrice string  `json:"unitPrice"`
	LineTotal string  `json:"lineTotal"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(pricing.Scale)
}

// NewItemResponse renders a line item.
func NewItemResponse(it LineItem) ItemResponse {
	return ItemResponse{
		ID:        it.ID,
		QuoteID:   it.QuoteID,
		ProductID: it.Ref.ProductID(),
		ServiceID: it.Ref.ServiceID(),
		Quantity:  it.Quantity,
		Discount:  money(it.Discount),
		UnitPrice: money(it.UnitPrice),
		LineTotal: money(it.LineTotal),
	}
}

// NewQuoteResponse renders a quote. Subtotal is the sum of the persisted
// line totals before the quote discount.
func NewQuoteResponse(q Quote, currency string) QuoteResponse {
	items := make([]ItemResponse, 0, len(q.Items))
	subtotal := decimal.Zero
	for _, it := range q.Items {
		items = append(items, NewItemResponse(it))
		subtotal = subtotal.Add(it.LineTotal)
	}
	return QuoteResponse{
		ID:         q.ID,
		OwnerID:    q.OwnerID,
		CustomerID: q.CustomerID,
		Discount:   money(q.Discount),
		Status:     q.Status,
		Subtotal:   money(subtotal),
		TotalPrice: money(q.Total),
		Currency:   currency,
		CreatedAt:  q.CreatedAt,
		Items:      items,
	}
}
