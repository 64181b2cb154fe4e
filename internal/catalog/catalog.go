package catalog

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/budget-api/internal/pricing"
)

var (
	_ pricing.Catalog = (*Static)(nil)
	_ pricing.Catalog = (*PGCatalog)(nil)
	_ pricing.Catalog = (*HTTPCatalog)(nil)
	_ pricing.Catalog = (*Cached)(nil)
)

// Static is an in-memory price list.
type Static struct {
	mu     sync.RWMutex
	prices map[pricing.Reference]pricing.Money
}

// NewStatic returns an empty price list.
func NewStatic() *Static {
	return &Static{prices: make(map[pricing.Reference]pricing.Money)}
}

// SetProduct sets the unit price of a product.
func (s *Static) SetProduct(id string, price pricing.Money) *Static {
	ref, err := pricing.ProductRef(id)
	if err == nil {
		s.set(ref, price)
	}
	return s
}

// SetService sets the unit price of a service.
func (s *Static) SetService(id string, price pricing.Money) *Static {
	ref, err := pricing.ServiceRef(id)
	if err == nil {
		s.set(ref, price)
	}
	return s
}

// Delete removes a reference so later lookups miss.
func (s *Static) Delete(ref pricing.Reference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, ref)
}

func (s *Static) set(ref pricing.Reference, price pricing.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prices == nil {
		s.prices = make(map[pricing.Reference]pricing.Money)
	}
	s.prices[ref] = price
}

func (s *Static) UnitPrice(_ context.Context, ref pricing.Reference) (pricing.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[ref]
	if !ok {
		return decimal.Zero, pricing.ErrReferenceNotFound
	}
	return price, nil
}
