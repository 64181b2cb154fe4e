package quote

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/budget-api/internal/common"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps quotes in process memory. Each unit of work runs on a
// private copy that is published on success, so a failed unit leaves no trace.
type MemoryStore struct {
	mu       sync.RWMutex
	quotes   map[string]Quote
	versions map[string]int64
	itemIdx  map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:   make(map[string]Quote),
		versions: make(map[string]int64),
		itemIdx:  make(map[string]string),
	}
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return common.Unavailable("memstore.begin", err)
	}
	m.mu.RLock()
	tx := &memTx{
		quotes:   make(map[string]Quote, len(m.quotes)),
		itemIdx:  make(map[string]string, len(m.itemIdx)),
		versions: make(map[string]int64, len(m.versions)),
		touched:  make(map[string]int64),
	}
	for id, q := range m.quotes {
		tx.quotes[id] = q.clone()
	}
	for id, qid := range m.itemIdx {
		tx.itemIdx[id] = qid
	}
	for id, v := range m.versions {
		tx.versions[id] = v
	}
	m.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return common.Unavailable("memstore.commit", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, base := range tx.touched {
		if m.versions[id] != base {
			return ErrConcurrentUpdate
		}
	}
	for id := range tx.touched {
		if old, ok := m.quotes[id]; ok {
			for _, it := range old.Items {
				delete(m.itemIdx, it.ID)
			}
		}
		q, ok := tx.quotes[id]
		if !ok {
			delete(m.quotes, id)
			continue
		}
		m.quotes[id] = q.clone()
		for _, it := range q.Items {
			m.itemIdx[it.ID] = id
		}
		m.versions[id]++
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, common.Unavailable("memstore.get", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[id]
	if !ok {
		return Quote{}, ErrQuoteNotFound
	}
	return q.clone(), nil
}

func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Unavailable("memstore.list", err)
	}
	m.mu.RLock()
	out := make([]Quote, 0, len(m.quotes))
	for _, q := range m.quotes {
		if filter.match(q) {
			out = append(out, q.clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) QuoteIDForItem(ctx context.Context, itemID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", common.Unavailable("memstore.item", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.itemIdx[itemID]
	if !ok {
		return "", ErrItemNotFound
	}
	return id, nil
}

type memTx struct {
	quotes   map[string]Quote
	itemIdx  map[string]string
	versions map[string]int64
	touched  map[string]int64
}

func (t *memTx) touch(id string) {
	if _, ok := t.touched[id]; !ok {
		t.touched[id] = t.versions[id]
	}
}

func (t *memTx) load(id string) (Quote, error) {
	q, ok := t.quotes[id]
	if !ok {
		return Quote{}, ErrQuoteNotFound
	}
	t.touch(id)
	return q, nil
}

func (t *memTx) CreateQuote(_ context.Context, q Quote) error {
	if _, ok := t.quotes[q.ID]; ok {
		return ErrConcurrentUpdate
	}
	t.touch(q.ID)
	q.Items = nil
	t.quotes[q.ID] = q
	return nil
}

func (t *memTx) GetQuote(_ context.Context, id string) (Quote, error) {
	q, err := t.load(id)
	if err != nil {
		return Quote{}, err
	}
	return q.clone(), nil
}

func (t *memTx) UpdateQuoteTotal(_ context.Context, id string, total decimal.Decimal) error {
	q, err := t.load(id)
	if err != nil {
		return err
	}
	q.Total = total
	t.quotes[id] = q
	return nil
}

func (t *memTx) SetQuoteStatus(_ context.Context, id string, status Status) error {
	q, err := t.load(id)
	if err != nil {
		return err
	}
	q.Status = status
	t.quotes[id] = q
	return nil
}

func (t *memTx) SetQuoteDiscount(_ context.Context, id string, pct decimal.Decimal) error {
	q, err := t.load(id)
	if err != nil {
		return err
	}
	q.Discount = pct
	t.quotes[id] = q
	return nil
}

func (t *memTx) CreateLineItem(_ context.Context, item LineItem) error {
	q, err := t.load(item.QuoteID)
	if err != nil {
		return err
	}
	if _, ok := t.itemIdx[item.ID]; ok {
		return ErrConcurrentUpdate
	}
	for _, it := range q.Items {
		if it.Ref == item.Ref {
			return ErrDuplicateItem
		}
	}
	q.Items = append(q.Items, item)
	t.quotes[q.ID] = q
	t.itemIdx[item.ID] = q.ID
	return nil
}

func (t *memTx) UpdateLineItem(_ context.Context, item LineItem) error {
	qid, ok := t.itemIdx[item.ID]
	if !ok {
		return ErrItemNotFound
	}
	q, err := t.load(qid)
	if err != nil {
		return err
	}
	for i, it := range q.Items {
		if it.ID == item.ID {
			item.QuoteID = it.QuoteID
			item.Ref = it.Ref
			item.CreatedAt = it.CreatedAt
			q.Items[i] = item
			t.quotes[qid] = q
			return nil
		}
	}
	return ErrItemNotFound
}

func (t *memTx) DeleteLineItem(_ context.Context, id string) error {
	qid, ok := t.itemIdx[id]
	if !ok {
		return ErrItemNotFound
	}
	q, err := t.load(qid)
	if err != nil {
		return err
	}
	kept := q.Items[:0]
	for _, it := range q.Items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	q.Items = kept
	t.quotes[qid] = q
	delete(t.itemIdx, id)
	return nil
}
