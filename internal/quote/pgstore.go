package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/budget-api/internal/common"
	"github.com/noah-isme/budget-api/internal/db"
	"github.com/noah-isme/budget-api/internal/pricing"
)

var _ Store = (*PGStore)(nil)

// PGStore persists quotes in Postgres. Units of work lock the quote row
// with SELECT ... FOR UPDATE, so concurrent writers serialise even without
// the distributed lock.
type PGStore struct {
	Pool *pgxpool.Pool
}

const quoteColumns = `id::text, owner_id::text, customer_id::text, discount, status, total_price, created_at, updated_at`

func itemColumns(alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	return p + "id::text, " + p + "quote_id::text, " + p + "product_id::text, " + p + "service_id::text, " +
		p + "quantity, " + p + "discount, " + p + "unit_price, " + p + "line_total, " + p + "created_at, " + p + "updated_at"
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PGStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if s == nil || s.Pool == nil {
		return errors.New("quote: postgres pool not configured")
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return common.Unavailable("quote.begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return db.Classify("quote.commit", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Quote, error) {
	qid, ok := parseID(id)
	if !ok {
		return Quote{}, ErrQuoteNotFound
	}
	return getQuote(ctx, s.Pool, qid, false)
}

func (s *PGStore) List(ctx context.Context, filter Filter) ([]Quote, error) {
	owner := pgtype.UUID{}
	if filter.OwnerID != "" {
		oid, ok := parseID(filter.OwnerID)
		if !ok {
			return []Quote{}, nil
		}
		owner = pgtype.UUID{Bytes: oid, Valid: true}
	}
	status := pgtype.Text{String: string(filter.Status), Valid: filter.Status != ""}

	rows, err := s.Pool.Query(ctx, `SELECT `+quoteColumns+` FROM quotes
		WHERE ($1::uuid IS NULL OR owner_id = $1) AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at, id`, owner, status)
	if err != nil {
		return nil, db.Classify("quote.list", err)
	}
	quotes, err := pgx.CollectRows(rows, scanQuote)
	if err != nil {
		return nil, db.Classify("quote.list", err)
	}

	rows, err = s.Pool.Query(ctx, `SELECT `+itemColumns("i")+` FROM quote_items i
		JOIN quotes q ON q.id = i.quote_id
		WHERE ($1::uuid IS NULL OR q.owner_id = $1) AND ($2::text IS NULL OR q.status = $2)
		ORDER BY i.created_at, i.id`, owner, status)
	if err != nil {
		return nil, db.Classify("quote.list_items", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, db.Classify("quote.list_items", err)
	}
	byQuote := make(map[string][]LineItem, len(quotes))
	for _, it := range items {
		byQuote[it.QuoteID] = append(byQuote[it.QuoteID], it)
	}
	for i := range quotes {
		quotes[i].Items = byQuote[quotes[i].ID]
	}
	return quotes, nil
}

func (s *PGStore) QuoteIDForItem(ctx context.Context, itemID string) (string, error) {
	iid, ok := parseID(itemID)
	if !ok {
		return "", ErrItemNotFound
	}
	var quoteID string
	err := s.Pool.QueryRow(ctx, `SELECT quote_id::text FROM quote_items WHERE id = $1`, iid).Scan(&quoteID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrItemNotFound
		}
		return "", db.Classify("quote.item_owner", err)
	}
	return quoteID, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateQuote(ctx context.Context, q Quote) error {
	qid, err := uuid.Parse(q.ID)
	if err != nil {
		return fmt.Errorf("quote id: %w", common.ErrValidation)
	}
	owner, ok := parseID(q.OwnerID)
	if !ok {
		return ErrOwnerNotFound
	}
	customer, ok := parseID(q.CustomerID)
	if !ok {
		return ErrCustomerNotFound
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO quotes (id, owner_id, customer_id, discount, status, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		qid, owner, customer, db.Numeric(q.Discount), string(q.Status), db.Numeric(q.Total), q.CreatedAt, q.UpdatedAt)
	return db.Classify("quote.create", err)
}

func (t *pgTx) GetQuote(ctx context.Context, id string) (Quote, error) {
	qid, ok := parseID(id)
	if !ok {
		return Quote{}, ErrQuoteNotFound
	}
	return getQuote(ctx, t.tx, qid, true)
}

func (t *pgTx) UpdateQuoteTotal(ctx context.Context, id string, total decimal.Decimal) error {
	return t.updateQuote(ctx, "quote.update_total", `UPDATE quotes SET total_price = $2, updated_at = now() WHERE id = $1`, id, db.Numeric(total))
}

func (t *pgTx) SetQuoteStatus(ctx context.Context, id string, status Status) error {
	return t.updateQuote(ctx, "quote.set_status", `UPDATE quotes SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

func (t *pgTx) SetQuoteDiscount(ctx context.Context, id string, pct decimal.Decimal) error {
	return t.updateQuote(ctx, "quote.set_discount", `UPDATE quotes SET discount = $2, updated_at = now() WHERE id = $1`, id, db.Numeric(pct))
}

func (t *pgTx) updateQuote(ctx context.Context, op, sql, id string, value any) error {
	qid, ok := parseID(id)
	if !ok {
		return ErrQuoteNotFound
	}
	tag, err := t.tx.Exec(ctx, sql, qid, value)
	if err != nil {
		return db.Classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuoteNotFound
	}
	return nil
}

func (t *pgTx) CreateLineItem(ctx context.Context, item LineItem) error {
	iid, err := uuid.Parse(item.ID)
	if err != nil {
		return fmt.Errorf("line item id: %w", common.ErrValidation)
	}
	qid, ok := parseID(item.QuoteID)
	if !ok {
		return ErrQuoteNotFound
	}
	refID, ok := parseID(item.Ref.ID())
	if !ok {
		return pricing.ErrReferenceNotFound
	}
	product, service := pgtype.UUID{}, pgtype.UUID{}
	switch item.Ref.Kind() {
	case pricing.KindProduct:
		product = pgtype.UUID{Bytes: refID, Valid: true}
	case pricing.KindService:
		service = pgtype.UUID{Bytes: refID, Valid: true}
	default:
		return fmt.Errorf("line item reference: %w", common.ErrValidation)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO quote_items
		(id, quote_id, product_id, service_id, quantity, discount, unit_price, line_total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		iid, qid, product, service, item.Quantity, db.Numeric(item.Discount),
		db.Numeric(item.UnitPrice), db.Numeric(item.LineTotal), item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "quote_items_quote_product_key") || db.IsUniqueViolation(err, "quote_items_quote_service_key") {
			return ErrDuplicateItem
		}
		if db.IsForeignKeyViolation(err, "quote_items_product_id_fkey") || db.IsForeignKeyViolation(err, "quote_items_service_id_fkey") {
			return pricing.ErrReferenceNotFound
		}
		return db.Classify("quote.create_item", err)
	}
	return nil
}

func (t *pgTx) UpdateLineItem(ctx context.Context, item LineItem) error {
	iid, ok := parseID(item.ID)
	if !ok {
		return ErrItemNotFound
	}
	tag, err := t.tx.Exec(ctx, `UPDATE quote_items
		SET quantity = $2, discount = $3, unit_price = $4, line_total = $5, updated_at = now()
		WHERE id = $1`,
		iid, item.Quantity, db.Numeric(item.Discount), db.Numeric(item.UnitPrice), db.Numeric(item.LineTotal))
	if err != nil {
		return db.Classify("quote.update_item", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *pgTx) DeleteLineItem(ctx context.Context, id string) error {
	iid, ok := parseID(id)
	if !ok {
		return ErrItemNotFound
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM quote_items WHERE id = $1`, iid)
	if err != nil {
		return db.Classify("quote.delete_item", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func getQuote(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Quote, error) {
	sql := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return Quote{}, db.Classify("quote.get", err)
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanQuote)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrQuoteNotFound
		}
		return Quote{}, db.Classify("quote.get", err)
	}

	rows, err = q.Query(ctx, `SELECT `+itemColumns("")+` FROM quote_items WHERE quote_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return Quote{}, db.Classify("quote.get_items", err)
	}
	out.Items, err = pgx.CollectRows(rows, scanItem)
	if err != nil {
		return Quote{}, db.Classify("quote.get_items", err)
	}
	return out, nil
}

func scanQuote(row pgx.CollectableRow) (Quote, error) {
	var (
		q                Quote
		status           string
		discount, total  pgtype.Numeric
		created, updated time.Time
	)
	if err := row.Scan(&q.ID, &q.OwnerID, &q.CustomerID, &discount, &status, &total, &created, &updated); err != nil {
		return Quote{}, err
	}
	var err error
	if q.Discount, err = db.Decimal(discount); err != nil {
		return Quote{}, err
	}
	if q.Total, err = db.Decimal(total); err != nil {
		return Quote{}, err
	}
	q.Status = Status(status)
	q.CreatedAt, q.UpdatedAt = created.UTC(), updated.UTC()
	return q, nil
}

func scanItem(row pgx.CollectableRow) (LineItem, error) {
	var (
		it                        LineItem
		productID, serviceID      *string
		discount, unit, lineTotal pgtype.Numeric
		created, updated          time.Time
	)
	if err := row.Scan(&it.ID, &it.QuoteID, &productID, &serviceID, &it.Quantity, &discount, &unit, &lineTotal, &created, &updated); err != nil {
		return LineItem{}, err
	}
	ref, err := pricing.NewReference(productID, serviceID)
	if err != nil {
		return LineItem{}, fmt.Errorf("line item %s: %w", it.ID, err)
	}
	it.Ref = ref
	if it.Discount, err = db.Decimal(discount); err != nil {
		return LineItem{}, err
	}
	if it.UnitPrice, err = db.Decimal(unit); err != nil {
		return LineItem{}, err
	}
	if it.LineTotal, err = db.Decimal(lineTotal); err != nil {
		return LineItem{}, err
	}
	it.CreatedAt, it.UpdatedAt = created.UTC(), updated.UTC()
	return it, nil
}

func parseID(id string) (uuid.UUID, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, false
	}
	return parsed, true
}
