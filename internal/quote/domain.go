package quote

import (
	"time"

	"github.com/noah-isme/budget-api/internal/pricing"
)

// Status is the lifecycle state of a quote.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
)

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// The only transition is draft to approved.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusDraft && next == StatusApproved
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusApproved
}

// Quote is a priced collection of line items offered to a customer.
type Quote struct {
	ID         string
	OwnerID    string
	CustomerID string
	Discount   pricing.Money
	Status     Status
	Total      pricing.Money
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Items      []LineItem
}

// LineItem is one entry of a quote. UnitPrice and LineTotal are the
// snapshot taken at the last recomputation.
type LineItem struct {
	ID        string
	QuoteID   string
	Ref       pricing.Reference
	Quantity  int
	Discount  pricing.Money
	UnitPrice pricing.Money
	LineTotal pricing.Money
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter narrows FindAll.
type Filter struct {
	OwnerID string
	Status  Status
}

func (f Filter) match(q Quote) bool {
	if f.OwnerID != "" && q.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && q.Status != f.Status {
		return false
	}
	return true
}

func (q Quote) clone() Quote {
	out := q
	if q.Items != nil {
		out.Items = append([]LineItem(nil), q.Items...)
	}
	return out
}

func (q Quote) item(id string) (LineItem, bool) {
	for _, it := range q.Items {
		if it.ID == id {
			return it, true
		}
	}
	return LineItem{}, false
}
