package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/budget-api/internal/common"
	"github.com/noah-isme/budget-api/internal/events"
	"github.com/noah-isme/budget-api/internal/lock"
	"github.com/noah-isme/budget-api/internal/obs"
	"github.com/noah-isme/budget-api/internal/pricing"
)

var tracer = otel.Tracer("budget-api/quote")

// Directory answers existence checks for quote owners and customers.
type Directory interface {
	UserExists(ctx context.Context, id string) (bool, error)
	CustomerExists(ctx context.Context, id string) (bool, error)
}

// Emitter publishes lifecycle events after a unit of work committed.
type Emitter interface {
	Emit(ctx context.Context, topic, quoteID string, payload any) error
}

// Options tune service behaviour.
type Options struct {
	// EnforceDraftGuard rejects item and discount changes on approved quotes.
	EnforceDraftGuard bool
	// ZeroPriceOnMissing prices references missing from the catalog at zero.
	ZeroPriceOnMissing bool
	// OpTimeout bounds every operation, lock wait included. It is capped at
	// LockTTL so the lease cannot expire under a running operation.
	OpTimeout time.Duration
	// LockTTL is the lease of the per-quote lock.
	LockTTL time.Duration
}

// DefaultOptions returns the strict behaviour.
func DefaultOptions() Options {
	return Options{EnforceDraftGuard: true, OpTimeout: 10 * time.Second, LockTTL: 30 * time.Second}
}

// Service orchestrates the quote lifecycle. Every mutation runs under the
// quote's lock inside one store transaction and persists the recomputed
// total before returning.
type Service struct {
	Store     Store
	Catalog   pricing.Catalog
	Directory Directory
	Locker    lock.Locker
	Events    Emitter
	Logger    zerolog.Logger
	Options   Options
	Now       func() time.Time
	NewID     func() string
}

// Topics emitted by the service.
const (
	TopicCreated         = events.TopicQuoteCreated
	TopicItemAdded       = events.TopicQuoteItemAdded
	TopicItemUpdated     = events.TopicQuoteItemUpdated
	TopicItemRemoved     = events.TopicQuoteItemRemoved
	TopicDiscountApplied = events.TopicQuoteDiscountApplied
	TopicRecalculated    = events.TopicQuoteRecalculated
	TopicApproved        = events.TopicQuoteApproved
)

// CreateInput carries createQuote arguments.
type CreateInput struct {
	OwnerID    string
	CustomerID string
	Discount   decimal.Decimal
}

// AddItemInput carries addItem arguments.
type AddItemInput struct {
	Ref      pricing.Reference
	Quantity int
	Discount decimal.Decimal
}

// ItemChange updates quantity and/or discount of a line item.
type ItemChange struct {
	Quantity *int
	Discount *decimal.Decimal
}

func (s *Service) configured() error {
	if s == nil || s.Store == nil || s.Catalog == nil || s.Locker == nil {
		return errors.New("quote service not configured")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) engine() pricing.Engine {
	return pricing.Engine{Catalog: s.Catalog, ZeroOnMissing: s.Options.ZeroPriceOnMissing}
}

func (s *Service) lockTTL() time.Duration {
	if s.Options.LockTTL <= 0 {
		return 30 * time.Second
	}
	return s.Options.LockTTL
}

func (s *Service) opTimeout() time.Duration {
	if s.Options.OpTimeout <= 0 {
		return s.lockTTL()
	}
	return min(s.Options.OpTimeout, s.lockTTL())
}

// Create opens a draft quote for an existing owner and customer.
func (s *Service) Create(ctx context.Context, in CreateInput) (q Quote, err error) {
	if err := s.configured(); err != nil {
		return Quote{}, err
	}
	ctx, done := s.begin(ctx, "create", "")
	defer func() { done(err) }()

	if err := pricing.ValidatePercent(in.Discount); err != nil {
		return Quote{}, err
	}
	if err := s.checkParties(ctx, in.OwnerID, in.CustomerID); err != nil {
		return Quote{}, err
	}
	now := s.now()
	q = Quote{
		ID:         s.newID(),
		OwnerID:    in.OwnerID,
		CustomerID: in.CustomerID,
		Discount:   in.Discount,
		Status:     StatusDraft,
		Total:      decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateQuote(ctx, q)
	})
	if err != nil {
		return Quote{}, s.unavailable("create", err)
	}
	s.emit(ctx, TopicCreated, q.ID, map[string]any{
		"ownerId":    q.OwnerID,
		"customerId": q.CustomerID,
		"discount":   q.Discount.StringFixed(pricing.Scale),
	})
	return q, nil
}

func (s *Service) checkParties(ctx context.Context, ownerID, customerID string) error {
	if ownerID == "" {
		return fmt.Errorf("owner id is required: %w", common.ErrValidation)
	}
	if customerID == "" {
		return fmt.Errorf("customer id is required: %w", common.ErrValidation)
	}
	if s.Directory == nil {
		return nil
	}
	ok, err := s.Directory.UserExists(ctx, ownerID)
	if err != nil {
		return common.Unavailable("directory.user", err)
	}
	if !ok {
		return ErrOwnerNotFound
	}
	ok, err = s.Directory.CustomerExists(ctx, customerID)
	if err != nil {
		return common.Unavailable("directory.customer", err)
	}
	if !ok {
		return ErrCustomerNotFound
	}
	return nil
}

// AddItem appends a line item and recomputes the quote total.
func (s *Service) AddItem(ctx context.Context, quoteID string, in AddItemInput) (item LineItem, err error) {
	if err := s.configured(); err != nil {
		return LineItem{}, err
	}
	if in.Ref.IsZero() {
		return LineItem{}, fmt.Errorf("line item must reference a product or a service: %w", common.ErrValidation)
	}
	if err := pricing.ValidateQuantity(in.Quantity); err != nil {
		return LineItem{}, err
	}
	if err := pricing.ValidatePercent(in.Discount); err != nil {
		return LineItem{}, err
	}

	itemID := s.newID()
	q, err := s.mutate(ctx, "add_item", quoteID, true, func(ctx context.Context, tx Tx, q *Quote) error {
		for _, it := range q.Items {
			if it.Ref == in.Ref {
				return ErrDuplicateItem
			}
		}
		now := s.now()
		return tx.CreateLineItem(ctx, LineItem{
			ID:        itemID,
			QuoteID:   q.ID,
			Ref:       in.Ref,
			Quantity:  in.Quantity,
			Discount:  in.Discount,
			UnitPrice: decimal.Zero,
			LineTotal: decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return LineItem{}, err
	}
	item, _ = q.item(itemID)
	s.emit(ctx, TopicItemAdded, q.ID, itemPayload(item, q))
	return item, nil
}

// RemoveItem deletes a line item and recomputes its quote total.
func (s *Service) RemoveItem(ctx context.Context, itemID string) (Quote, error) {
	if err := s.configured(); err != nil {
		return Quote{}, err
	}
	quoteID, err := s.Store.QuoteIDForItem(ctx, itemID)
	if err != nil {
		return Quote{}, s.unavailable("remove_item", err)
	}
	q, err := s.mutate(ctx, "remove_item", quoteID, true, func(ctx context.Context, tx Tx, q *Quote) error {
		if _, ok := q.item(itemID); !ok {
			return ErrItemNotFound
		}
		return tx.DeleteLineItem(ctx, itemID)
	})
	if err != nil {
		return Quote{}, err
	}
	s.emit(ctx, TopicItemRemoved, q.ID, map[string]any{
		"itemId":     itemID,
		"totalPrice": q.Total.StringFixed(pricing.Scale),
	})
	return q, nil
}

// UpdateItemQuantity changes the quantity of a line item.
func (s *Service) UpdateItemQuantity(ctx context.Context, itemID string, quantity int) (LineItem, error) {
	return s.UpdateItem(ctx, itemID, ItemChange{Quantity: &quantity})
}

// UpdateItemDiscount changes the discount percentage of a line item.
func (s *Service) UpdateItemDiscount(ctx context.Context, itemID string, pct decimal.Decimal) (LineItem, error) {
	return s.UpdateItem(ctx, itemID, ItemChange{Discount: &pct})
}

// UpdateItem applies a quantity and/or discount change to a line item.
func (s *Service) UpdateItem(ctx context.Context, itemID string, change ItemChange) (LineItem, error) {
	if err := s.configured(); err != nil {
		return LineItem{}, err
	}
	if change.Quantity == nil && change.Discount == nil {
		return LineItem{}, fmt.Errorf("nothing to update: %w", common.ErrValidation)
	}
	if change.Quantity != nil {
		if err := pricing.ValidateQuantity(*change.Quantity); err != nil {
			return LineItem{}, err
		}
	}
	if change.Discount != nil {
		if err := pricing.ValidatePercent(*change.Discount); err != nil {
			return LineItem{}, err
		}
	}
	quoteID, err := s.Store.QuoteIDForItem(ctx, itemID)
	if err != nil {
		return LineItem{}, s.unavailable("update_item", err)
	}
	q, err := s.mutate(ctx, "update_item", quoteID, true, func(ctx context.Context, tx Tx, q *Quote) error {
		it, ok := q.item(itemID)
		if !ok {
			return ErrItemNotFound
		}
		if change.Quantity != nil {
			it.Quantity = *change.Quantity
		}
		if change.Discount != nil {
			it.Discount = *change.Discount
		}
		it.UpdatedAt = s.now()
		return tx.UpdateLineItem(ctx, it)
	})
	if err != nil {
		return LineItem{}, err
	}
	item, _ := q.item(itemID)
	s.emit(ctx, TopicItemUpdated, q.ID, itemPayload(item, q))
	return item, nil
}

// ApplyDiscount sets the quote-level discount percentage.
func (s *Service) ApplyDiscount(ctx context.Context, quoteID string, pct decimal.Decimal) (Quote, error) {
	if err := s.configured(); err != nil {
		return Quote{}, err
	}
	if err := pricing.ValidatePercent(pct); err != nil {
		return Quote{}, err
	}
	q, err := s.mutate(ctx, "apply_discount", quoteID, true, func(ctx context.Context, tx Tx, q *Quote) error {
		return tx.SetQuoteDiscount(ctx, q.ID, pct)
	})
	if err != nil {
		return Quote{}, err
	}
	s.emit(ctx, TopicDiscountApplied, q.ID, map[string]any{
		"discount":   q.Discount.StringFixed(pricing.Scale),
		"totalPrice": q.Total.StringFixed(pricing.Scale),
	})
	return q, nil
}

// PriceInvalidator is implemented by catalogs that cache unit prices.
type PriceInvalidator interface {
	Invalidate(ctx context.Context, ref pricing.Reference) error
}

// Recalculate re-resolves current catalog prices and persists the new totals.
// Cached prices of the quote's items are dropped first so the recompute sees
// the catalog's current values.
func (s *Service) Recalculate(ctx context.Context, quoteID string) (Quote, error) {
	if err := s.configured(); err != nil {
		return Quote{}, err
	}
	q, err := s.mutate(ctx, "recalculate", quoteID, true, func(ctx context.Context, _ Tx, q *Quote) error {
		inv, ok := s.Catalog.(PriceInvalidator)
		if !ok {
			return nil
		}
		for _, it := range q.Items {
			if err := inv.Invalidate(ctx, it.Ref); err != nil {
				s.Logger.Warn().Err(err).Str("quote_id", q.ID).Str("ref", it.Ref.String()).Msg("invalidate cached price")
			}
		}
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	s.emit(ctx, TopicRecalculated, q.ID, map[string]any{"totalPrice": q.Total.StringFixed(pricing.Scale)})
	return q, nil
}

// Approve moves a draft quote to approved. Approval is one-way.
func (s *Service) Approve(ctx context.Context, quoteID string) (q Quote, err error) {
	if err := s.configured(); err != nil {
		return Quote{}, err
	}
	ctx, done := s.begin(ctx, "approve", quoteID)
	defer func() { done(err) }()

	err = s.Locker.WithLock(ctx, lock.QuoteKey(quoteID), s.lockTTL(), func(ctx context.Context) error {
		return s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			cur, err := tx.GetQuote(ctx, quoteID)
			if err != nil {
				return err
			}
			if !cur.Status.CanTransitionTo(StatusApproved) {
				return ErrAlreadyApproved
			}
			if err := tx.SetQuoteStatus(ctx, quoteID, StatusApproved); err != nil {
				return err
			}
			cur.Status = StatusApproved
			q = cur
			return nil
		})
	})
	if err != nil {
		return Quote{}, s.unavailable("approve", err)
	}
	s.emit(ctx, TopicApproved, q.ID, map[string]any{"totalPrice": q.Total.StringFixed(pricing.Scale)})
	return q, nil
}

// FindByID returns a quote with its items as last persisted.
func (s *Service) FindByID(ctx context.Context, quoteID string) (q Quote, err error) {
	if err := s.configured(); err != nil {
		return Quote{}, err
	}
	ctx, done := s.begin(ctx, "find_by_id", quoteID)
	defer func() { done(err) }()
	q, err = s.Store.Get(ctx, quoteID)
	if err != nil {
		return Quote{}, s.unavailable("find_by_id", err)
	}
	return q, nil
}

// FindAll lists quotes with their items. An empty filter returns every quote.
func (s *Service) FindAll(ctx context.Context, filter Filter) (quotes []Quote, err error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	ctx, done := s.begin(ctx, "find_all", "")
	defer func() { done(err) }()
	quotes, err = s.Store.List(ctx, filter)
	if err != nil {
		return nil, s.unavailable("find_all", err)
	}
	return quotes, nil
}

// FindByItem returns the quote owning a line item.
func (s *Service) FindByItem(ctx context.Context, itemID string) (Quote, error) {
	if err := s.configured(); err != nil {
		return Quote{}, err
	}
	quoteID, err := s.Store.QuoteIDForItem(ctx, itemID)
	if err != nil {
		return Quote{}, s.unavailable("find_by_item", err)
	}
	return s.FindByID(ctx, quoteID)
}

// mutate runs change and the recomputation of the quote total as one unit:
// lock, begin, load quote, change, recompute, persist, commit.
func (s *Service) mutate(ctx context.Context, op, quoteID string, draftOnly bool, change func(ctx context.Context, tx Tx, q *Quote) error) (q Quote, err error) {
	ctx, done := s.begin(ctx, op, quoteID)
	defer func() { done(err) }()

	err = s.Locker.WithLock(ctx, lock.QuoteKey(quoteID), s.lockTTL(), func(ctx context.Context) error {
		return s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			cur, err := tx.GetQuote(ctx, quoteID)
			if err != nil {
				return err
			}
			if draftOnly && s.Options.EnforceDraftGuard && cur.Status != StatusDraft {
				return ErrNotDraft
			}
			if err := change(ctx, tx, &cur); err != nil {
				return err
			}
			updated, err := s.recompute(ctx, tx, quoteID)
			if err != nil {
				s.Logger.Error().Err(err).Str("quote_id", quoteID).Str("operation", op).
					Str("kind", common.KindOf(err)).Msg("quote recalculation failed")
				return err
			}
			q = updated
			return nil
		})
	})
	if err != nil {
		return Quote{}, s.unavailable(op, err)
	}
	obs.IncQuoteRecalculations()
	s.Logger.Debug().Str("quote_id", q.ID).Str("operation", op).
		Str("total_price", q.Total.StringFixed(pricing.Scale)).Int("items", len(q.Items)).Msg("quote updated")
	return q, nil
}

// recompute re-resolves every unit price, refreshes the line snapshots and
// persists the quote total computed from the unrounded line totals.
func (s *Service) recompute(ctx context.Context, tx Tx, quoteID string) (Quote, error) {
	q, err := tx.GetQuote(ctx, quoteID)
	if err != nil {
		return Quote{}, err
	}
	engine := s.engine()
	lines := make([]pricing.Line, 0, len(q.Items))
	for i, it := range q.Items {
		unit, err := engine.UnitPrice(ctx, it.Ref)
		if err != nil {
			return Quote{}, fmt.Errorf("price %s: %w", it.Ref, err)
		}
		lineTotal, err := pricing.LineTotal(unit, it.Quantity, it.Discount)
		if err != nil {
			return Quote{}, err
		}
		lines = append(lines, pricing.Line{UnitPrice: unit, Quantity: it.Quantity, Discount: it.Discount})

		unitRounded, totalRounded := pricing.Round(unit), pricing.Round(lineTotal)
		if !it.UnitPrice.Equal(unitRounded) || !it.LineTotal.Equal(totalRounded) {
			it.UnitPrice = unitRounded
			it.LineTotal = totalRounded
			if err := tx.UpdateLineItem(ctx, it); err != nil {
				return Quote{}, err
			}
			q.Items[i] = it
		}
	}
	total, err := pricing.QuoteTotal(lines, q.Discount)
	if err != nil {
		return Quote{}, err
	}
	q.Total = pricing.Round(total)
	if err := tx.UpdateQuoteTotal(ctx, q.ID, q.Total); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// begin applies the operation deadline and opens a span. done records the
// outcome and must be called exactly once.
func (s *Service) begin(ctx context.Context, op, quoteID string) (context.Context, func(error)) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout())
	ctx, span := tracer.Start(ctx, "quote."+op)
	if quoteID != "" {
		span.SetAttributes(attribute.String("quote.id", quoteID))
	}
	return ctx, func(err error) {
		result := "ok"
		if err != nil {
			result = common.KindOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
		cancel()
		obs.ObserveQuoteOperation(op, result, time.Since(started))
	}
}

// unavailable makes deadline and cancellation errors surface as Unavailable.
func (s *Service) unavailable(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.Unavailable("quote."+op, err)
	}
	return err
}

func (s *Service) emit(ctx context.Context, topic, quoteID string, payload any) {
	if s.Events == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.Events.Emit(ctx, topic, quoteID, payload); err != nil {
		obs.IncQuoteEventEmitted(topic, "error")
		s.Logger.Warn().Err(err).Str("topic", topic).Str("quote_id", quoteID).Msg("quote event emit failed")
		return
	}
	obs.IncQuoteEventEmitted(topic, "ok")
}

func itemPayload(item LineItem, q Quote) map[string]any {
	payload := map[string]any{
		"itemId":     item.ID,
		"kind":       string(item.Ref.Kind()),
		"refId":      item.Ref.ID(),
		"quantity":   item.Quantity,
		"discount":   item.Discount.StringFixed(pricing.Scale),
		"lineTotal":  item.LineTotal.StringFixed(pricing.Scale),
		"totalPrice": q.Total.StringFixed(pricing.Scale),
	}
	return payload
}
