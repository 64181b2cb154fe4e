package quote_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/budget-api/internal/catalog"
	"github.com/noah-isme/budget-api/internal/common"
	"github.com/noah-isme/budget-api/internal/db"
	"github.com/noah-isme/budget-api/internal/lock"
	"github.com/noah-isme/budget-api/internal/migrations"
	"github.com/noah-isme/budget-api/internal/pricing"
	"github.com/noah-isme/budget-api/internal/quote"
)

// pgFixture runs the service against a migrated Postgres database named by
// DATABASE_URL. Rows are keyed by fresh UUIDs and removed on cleanup.
type pgFixture struct {
	pool     *pgxpool.Pool
	store    *quote.PGStore
	ownerID  string
	custID   string
	products []string
	services []string
	quotes   []string
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	m, err := migrations.New(url, zerolog.Nop())
	require.NoError(t, err)
	err = m.Up()
	m.Close()
	require.NoError(t, err)

	ctx := context.Background()
	pool, err := db.Connect(ctx, url, "budget-test", nil)
	require.NoError(t, err)

	f := &pgFixture{pool: pool, store: &quote.PGStore{Pool: pool}, ownerID: uuid.NewString(), custID: uuid.NewString()}
	_, err = pool.Exec(ctx, `INSERT INTO users (id, email, name, password_hash) VALUES ($1, $2, 'Test Owner', 'x')`,
		f.ownerID, f.ownerID+"@example.test")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO customers (id, name) VALUES ($1, 'Test Customer')`, f.custID)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, id := range f.quotes {
			_, _ = pool.Exec(ctx, `DELETE FROM quotes WHERE id = $1`, id)
		}
		for _, id := range f.products {
			_, _ = pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
		}
		for _, id := range f.services {
			_, _ = pool.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
		}
		_, _ = pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, f.custID)
		_, _ = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, f.ownerID)
		pool.Close()
	})
	return f
}

func (f *pgFixture) addProduct(t *testing.T, price string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := f.pool.Exec(context.Background(), `INSERT INTO products (id, name, price) VALUES ($1, 'Product', $2)`,
		id, db.Numeric(dec(price)))
	require.NoError(t, err)
	f.products = append(f.products, id)
	return id
}

func (f *pgFixture) addService(t *testing.T, price string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := f.pool.Exec(context.Background(), `INSERT INTO services (id, name, price) VALUES ($1, 'Service', $2)`,
		id, db.Numeric(dec(price)))
	require.NoError(t, err)
	f.services = append(f.services, id)
	return id
}

// service builds a Service with its own in-process locker, so two services
// over the same pool behave like two API processes.
func (f *pgFixture) service(prices pricing.Catalog) *quote.Service {
	if prices == nil {
		prices = &catalog.PGCatalog{DB: f.pool}
	}
	return &quote.Service{
		Store:     f.store,
		Catalog:   prices,
		Directory: &catalog.PGDirectory{DB: f.pool},
		Locker:    lock.NewLocalLocker(),
		Logger:    zerolog.Nop(),
		Options:   quote.DefaultOptions(),
	}
}

func (f *pgFixture) create(t *testing.T, svc *quote.Service) quote.Quote {
	t.Helper()
	q, err := svc.Create(context.Background(), quote.CreateInput{OwnerID: f.ownerID, CustomerID: f.custID})
	require.NoError(t, err)
	f.quotes = append(f.quotes, q.ID)
	return q
}

func TestPGConcurrentAddItemAcrossProcesses(t *testing.T) {
	f := newPGFixture(t)
	a, b := f.service(nil), f.service(nil)
	q := f.create(t, a)

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = f.addProduct(t, "12.50")
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for i, id := range ids {
		svc := a
		if i%2 == 1 {
			svc = b
		}
		wg.Add(1)
		go func(svc *quote.Service, id string) {
			defer wg.Done()
			_, err := svc.AddItem(context.Background(), q.ID, quote.AddItemInput{Ref: product(t, id), Quantity: 2})
			errs <- err
		}(svc, id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := a.FindByID(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, len(ids))
	require.Equal(t, "200.00", got.Total.StringFixed(2))
}

func TestPGConcurrentDuplicateReferenceConflicts(t *testing.T) {
	f := newPGFixture(t)
	a, b := f.service(nil), f.service(nil)
	q := f.create(t, a)
	id := f.addProduct(t, "9.99")

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		svc := a
		if i%2 == 1 {
			svc = b
		}
		wg.Add(1)
		go func(svc *quote.Service) {
			defer wg.Done()
			_, err := svc.AddItem(context.Background(), q.ID, quote.AddItemInput{Ref: product(t, id), Quantity: 1})
			errs <- err
		}(svc)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, common.ErrConflict)
	}
	require.Equal(t, 1, ok)

	got, err := a.FindByID(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Equal(t, "9.99", got.Total.StringFixed(2))
}

func TestPGCreateLineItemMapsConstraints(t *testing.T) {
	f := newPGFixture(t)
	svc := f.service(nil)
	q := f.create(t, svc)
	id := f.addProduct(t, "5.00")
	ctx := context.Background()

	item := func(ref pricing.Reference) quote.LineItem {
		now := time.Now().UTC()
		return quote.LineItem{ID: uuid.NewString(), QuoteID: q.ID, Ref: ref, Quantity: 1, CreatedAt: now, UpdatedAt: now}
	}

	err := f.store.WithTx(ctx, func(ctx context.Context, tx quote.Tx) error {
		require.NoError(t, tx.CreateLineItem(ctx, item(product(t, id))))
		return tx.CreateLineItem(ctx, item(product(t, id)))
	})
	require.ErrorIs(t, err, quote.ErrDuplicateItem)
	require.ErrorIs(t, err, common.ErrConflict)

	err = f.store.WithTx(ctx, func(ctx context.Context, tx quote.Tx) error {
		return tx.CreateLineItem(ctx, item(product(t, uuid.NewString())))
	})
	require.ErrorIs(t, err, pricing.ErrReferenceNotFound)

	ref, err := pricing.ServiceRef(uuid.NewString())
	require.NoError(t, err)
	err = f.store.WithTx(ctx, func(ctx context.Context, tx quote.Tx) error {
		return tx.CreateLineItem(ctx, item(ref))
	})
	require.ErrorIs(t, err, pricing.ErrReferenceNotFound)

	got, err := svc.FindByID(ctx, q.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items)
}

func TestPGAddItemUnknownReferenceIsNotFound(t *testing.T) {
	f := newPGFixture(t)
	svc := f.service(nil)
	q := f.create(t, svc)

	_, err := svc.AddItem(context.Background(), q.ID, quote.AddItemInput{Ref: product(t, uuid.NewString()), Quantity: 1})
	require.ErrorIs(t, err, pricing.ErrReferenceNotFound)
	require.Equal(t, "NOT_FOUND", common.KindOf(err))
}

func TestPGMissingPriceRollsBackAddItem(t *testing.T) {
	f := newPGFixture(t)
	first := f.addProduct(t, "30.00")
	second := f.addProduct(t, "10.00")

	prices := catalog.NewStatic().SetProduct(first, dec("30.00"))
	svc := f.service(prices)
	q := f.create(t, svc)
	_, err := svc.AddItem(context.Background(), q.ID, quote.AddItemInput{Ref: product(t, first), Quantity: 1})
	require.NoError(t, err)

	// second exists in the database, so the insert succeeds and the
	// recompute is what fails.
	_, err = svc.AddItem(context.Background(), q.ID, quote.AddItemInput{Ref: product(t, second), Quantity: 3})
	require.ErrorIs(t, err, pricing.ErrReferenceNotFound)

	got, err := svc.FindByID(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Equal(t, first, got.Items[0].Ref.ID())
	require.Equal(t, "30.00", got.Total.StringFixed(2))
}

func TestPGApprovedQuoteRejectsItems(t *testing.T) {
	f := newPGFixture(t)
	svc := f.service(nil)
	q := f.create(t, svc)
	id := f.addProduct(t, "1.00")

	_, err := svc.Approve(context.Background(), q.ID)
	require.NoError(t, err)

	_, err = svc.AddItem(context.Background(), q.ID, quote.AddItemInput{Ref: product(t, id), Quantity: 1})
	require.ErrorIs(t, err, common.ErrInvalidState)

	got, err := svc.FindByID(context.Background(), q.ID)
	require.NoError(t, err)
	require.Equal(t, quote.StatusApproved, got.Status)
	require.Empty(t, got.Items)
}

func TestPGItemsReloadWithTheirReference(t *testing.T) {
	f := newPGFixture(t)
	svc := f.service(nil)
	q := f.create(t, svc)
	productID := f.addProduct(t, "20.00")
	serviceID := f.addService(t, "49.90")

	ref, err := pricing.ServiceRef(serviceID)
	require.NoError(t, err)
	_, err = svc.AddItem(context.Background(), q.ID, quote.AddItemInput{Ref: product(t, productID), Quantity: 1})
	require.NoError(t, err)
	_, err = svc.AddItem(context.Background(), q.ID, quote.AddItemInput{Ref: ref, Quantity: 2, Discount: dec("10")})
	require.NoError(t, err)

	got, err := svc.FindByID(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)

	byKind := map[pricing.Kind]quote.LineItem{}
	for _, it := range got.Items {
		byKind[it.Ref.Kind()] = it
	}
	require.Equal(t, productID, byKind[pricing.KindProduct].Ref.ID())
	require.Equal(t, serviceID, byKind[pricing.KindService].Ref.ID())
	require.Equal(t, "49.90", byKind[pricing.KindService].UnitPrice.StringFixed(2))
	require.Equal(t, "89.82", byKind[pricing.KindService].LineTotal.StringFixed(2))
	require.Equal(t, "109.82", got.Total.StringFixed(2))
}
