package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/budget-api/internal/common"
)

func d(s string) Money { return decimal.RequireFromString(s) }

type mapCatalog map[Reference]Money

func (m mapCatalog) UnitPrice(_ context.Context, ref Reference) (Money, error) {
	p, ok := m[ref]
	if !ok {
		return decimal.Zero, ErrReferenceNotFound
	}
	return p, nil
}

func TestLineTotalAppliesItemDiscount(t *testing.T) {
	total, err := LineTotal(d("100"), 2, d("10"))
	require.NoError(t, err)
	require.True(t, total.Equal(d("180")), total.String())

	total, err = LineTotal(d("100"), 2, d("0"))
	require.NoError(t, err)
	require.True(t, total.Equal(d("200")))

	total, err = LineTotal(d("100"), 2, d("100"))
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestLineTotalRejectsBadInput(t *testing.T) {
	_, err := LineTotal(d("10"), 0, d("0"))
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = LineTotal(d("10"), 1, d("100.01"))
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = LineTotal(d("10"), 1, d("-1"))
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = LineTotal(d("10"), 1, d("12.345"))
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = LineTotal(d("-10"), 1, d("0"))
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestSummarizeSumsThenDiscounts(t *testing.T) {
	s, err := Summarize([]Line{{UnitPrice: d("100"), Quantity: 2, Discount: d("10")}}, d("20"))
	require.NoError(t, err)
	require.True(t, s.Subtotal.Equal(d("180")))
	require.True(t, s.Discount.Equal(d("36")))
	require.True(t, s.Total.Equal(d("144")))

	total, err := QuoteTotal(nil, d("50"))
	require.NoError(t, err)
	require.True(t, total.IsZero())

	total, err = QuoteTotal([]Line{{UnitPrice: d("9.99"), Quantity: 3, Discount: d("0")}}, d("100"))
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestSummarizeIsDeterministic(t *testing.T) {
	lines := []Line{
		{UnitPrice: d("19.99"), Quantity: 3, Discount: d("12.5")},
		{UnitPrice: d("0.33"), Quantity: 7, Discount: d("0")},
		{UnitPrice: d("1500"), Quantity: 1, Discount: d("33.33")},
	}
	first, err := QuoteTotal(lines, d("7"))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := QuoteTotal(lines, d("7"))
		require.NoError(t, err)
		require.True(t, first.Equal(again))
	}
}

func TestRoundHalfUp(t *testing.T) {
	require.Equal(t, "1.01", Round(d("1.005")).StringFixed(Scale))
	require.Equal(t, "1.00", Round(d("1.004")).StringFixed(Scale))
	require.Equal(t, "52.47", Round(d("52.4650")).StringFixed(Scale))
}

func TestEngineUnitPrice(t *testing.T) {
	known, _ := ProductRef("p-1")
	missing, _ := ServiceRef("s-404")
	cat := mapCatalog{known: d("12.50")}

	price, err := Engine{Catalog: cat}.UnitPrice(context.Background(), known)
	require.NoError(t, err)
	require.True(t, price.Equal(d("12.5")))

	_, err = Engine{Catalog: cat}.UnitPrice(context.Background(), missing)
	require.ErrorIs(t, err, common.ErrNotFound)

	price, err = Engine{Catalog: cat, ZeroOnMissing: true}.UnitPrice(context.Background(), missing)
	require.NoError(t, err)
	require.True(t, price.IsZero())
}

func TestEngineKeepsCatalogOutages(t *testing.T) {
	ref, _ := ProductRef("p-1")
	outage := common.Unavailable("catalog", errors.New("timeout"))
	_, err := Engine{Catalog: failingCatalog{outage}, ZeroOnMissing: true}.UnitPrice(context.Background(), ref)
	require.ErrorIs(t, err, common.ErrUnavailable)
}

func TestEngineRejectsNegativeCatalogPrice(t *testing.T) {
	ref, _ := ProductRef("p-neg")
	_, err := Engine{Catalog: mapCatalog{ref: d("-1.00")}}.UnitPrice(context.Background(), ref)
	require.ErrorIs(t, err, common.ErrUnavailable)
	require.Equal(t, "UNAVAILABLE", common.KindOf(err))
}

type failingCatalog struct{ err error }

func (f failingCatalog) UnitPrice(context.Context, Reference) (Money, error) {
	return decimal.Zero, f.err
}

func TestNewReference(t *testing.T) {
	p, s, blank := "p-1", "s-1", "  "

	ref, err := NewReference(&p, nil)
	require.NoError(t, err)
	require.Equal(t, KindProduct, ref.Kind())
	require.Equal(t, "p-1", *ref.ProductID())
	require.Nil(t, ref.ServiceID())

	ref, err = NewReference(&blank, &s)
	require.NoError(t, err)
	require.Equal(t, KindService, ref.Kind())

	_, err = NewReference(&p, &s)
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = NewReference(nil, nil)
	require.ErrorIs(t, err, common.ErrValidation)
}
