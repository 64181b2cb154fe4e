package quote

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store persists quotes and their line items.
type Store interface {
	// WithTx runs fn in a single atomic unit. Nothing fn wrote is visible
	// if it returns an error.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Get returns a quote with its items.
	Get(ctx context.Context, id string) (Quote, error)
	// List returns quotes with their items, oldest first.
	List(ctx context.Context, filter Filter) ([]Quote, error)
	// QuoteIDForItem returns the quote owning a line item.
	QuoteIDForItem(ctx context.Context, itemID string) (string, error)
}

// Tx is the transactional view used by mutating operations.
type Tx interface {
	CreateQuote(ctx context.Context, q Quote) error
	// GetQuote loads a quote with its items and locks it until the unit ends.
	GetQuote(ctx context.Context, id string) (Quote, error)
	UpdateQuoteTotal(ctx context.Context, id string, total decimal.Decimal) error
	SetQuoteStatus(ctx context.Context, id string, status Status) error
	SetQuoteDiscount(ctx context.Context, id string, pct decimal.Decimal) error
	CreateLineItem(ctx context.Context, item LineItem) error
	UpdateLineItem(ctx context.Context, item LineItem) error
	DeleteLineItem(ctx context.Context, id string) error
}
