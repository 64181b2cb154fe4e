package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/budget-api/internal/common"
	"github.com/noah-isme/budget-api/internal/db"
	"github.com/noah-isme/budget-api/internal/pricing"
)

// Querier is the subset of pgxpool.Pool used by the catalog readers.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGCatalog reads unit prices from the products and services tables.
type PGCatalog struct {
	DB Querier
}

func (c *PGCatalog) UnitPrice(ctx context.Context, ref pricing.Reference) (pricing.Money, error) {
	id, err := uuid.Parse(ref.ID())
	if err != nil {
		return decimal.Zero, pricing.ErrReferenceNotFound
	}
	var table string
	switch ref.Kind() {
	case pricing.KindProduct:
		table = "products"
	case pricing.KindService:
		table = "services"
	default:
		return decimal.Zero, fmt.Errorf("catalog: unknown reference kind %q", ref.Kind())
	}

	var price pgtype.Numeric
	err = c.DB.QueryRow(ctx, "SELECT price FROM "+table+" WHERE id = $1", id).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, pricing.ErrReferenceNotFound
		}
		return decimal.Zero, common.Unavailable("catalog.price", err)
	}
	return db.Decimal(price)
}
