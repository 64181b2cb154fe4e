package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/budget-api/internal/common"
)

// Money represents a monetary value. Amounts keep full precision while they
// are being computed and are rounded with Round only when persisted.
type Money = decimal.Decimal

// Scale is the number of fractional digits kept for persisted amounts.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// ErrReferenceNotFound is returned when the catalog has no price for a reference.
var ErrReferenceNotFound = fmt.Errorf("pricing: reference %w", common.ErrNotFound)

// Catalog resolves the current unit price of a product or service.
type Catalog interface {
	UnitPrice(ctx context.Context, ref Reference) (Money, error)
}

// Line describes a line item used for quote total calculation.
type Line struct {
	UnitPrice Money
	Quantity  int
	Discount  Money
}

// Summary aggregates computed quote components.
type Summary struct {
	Subtotal Money
	Discount Money
	Total    Money
}

// Engine resolves unit prices and computes totals.
type Engine struct {
	Catalog Catalog
	// ZeroOnMissing prices unknown references at zero instead of failing.
	ZeroOnMissing bool
}

// UnitPrice looks up the current price of ref.
func (e Engine) UnitPrice(ctx context.Context, ref Reference) (Money, error) {
	if ref.IsZero() {
		return decimal.Zero, invalid("line item must reference a product or a service")
	}
	if e.Catalog == nil {
		return decimal.Zero, errors.New("pricing: catalog not configured")
	}
	price, err := e.Catalog.UnitPrice(ctx, ref)
	if err != nil {
		if e.ZeroOnMissing && errors.Is(err, common.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("pricing: negative price %s for %s: %w", price.String(), ref, common.ErrUnavailable)
	}
	return price, nil
}

// ValidatePercent checks that pct lies within [0, 100] with at most two decimals.
func ValidatePercent(pct Money) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return invalid("discount must be between 0 and 100, got %s", pct.String())
	}
	if !pct.Equal(pct.Round(Scale)) {
		return invalid("discount allows at most %d decimal places, got %s", Scale, pct.String())
	}
	return nil
}

// ValidateQuantity checks that qty is a positive whole number.
func ValidateQuantity(qty int) error {
	if qty < 1 {
		return invalid("quantity must be at least 1, got %d", qty)
	}
	return nil
}

// LineTotal returns unitPrice × quantity reduced by discountPct percent.
func LineTotal(unitPrice Money, quantity int, discountPct Money) (Money, error) {
	if unitPrice.IsNegative() {
		return decimal.Zero, invalid("unit price must not be negative")
	}
	if err := ValidateQuantity(quantity); err != nil {
		return decimal.Zero, err
	}
	if err := ValidatePercent(discountPct); err != nil {
		return decimal.Zero, err
	}
	gross := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	return applyPercent(gross, discountPct), nil
}

// Summarize sums the line totals and then applies the quote-level discount.
func Summarize(lines []Line, discountPct Money) (Summary, error) {
	if err := ValidatePercent(discountPct); err != nil {
		return Summary{}, err
	}
	subtotal := decimal.Zero
	for i, l := range lines {
		total, err := LineTotal(l.UnitPrice, l.Quantity, l.Discount)
		if err != nil {
			return Summary{}, fmt.Errorf("line %d: %w", i, err)
		}
		subtotal = subtotal.Add(total)
	}
	total := applyPercent(subtotal, discountPct)
	return Summary{
		Subtotal: subtotal,
		Discount: subtotal.Sub(total),
		Total:    total,
	}, nil
}

// QuoteTotal returns the discounted sum of lines.
func QuoteTotal(lines []Line, discountPct Money) (Money, error) {
	s, err := Summarize(lines, discountPct)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Total, nil
}

// Round rounds m half-up to the persisted scale.
func Round(m Money) Money {
	return m.Round(Scale)
}

func applyPercent(amount, pct Money) Money {
	if pct.IsZero() {
		return amount
	}
	return amount.Mul(hundred.Sub(pct)).Div(hundred)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{common.ErrValidation}, args...)...)
}
