package quote

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/budget-api/internal/common"
	"github.com/noah-isme/budget-api/internal/pricing"
	"github.com/noah-isme/budget-api/internal/validate"
)

// Handler wires the quote service to HTTP.
type Handler struct {
	Svc      *Service
	Currency string
}

// Routes mounts quote endpoints. Callers are expected to wrap r with
// authentication so every request carries a user id. mutating wraps the
// routes that change state, e.g. with the idempotency middleware.
func (h *Handler) Routes(r chi.Router, mutating func(http.Handler) http.Handler) {
	if mutating == nil {
		mutating = func(next http.Handler) http.Handler { return next }
	}
	r.Get("/quotes", h.List)
	r.Get("/quotes/{id}", h.Get)
	r.Group(func(r chi.Router) {
		r.Use(mutating)
		r.Post("/quotes", h.Create)
		r.Post("/quotes/{id}/items", h.AddItem)
		r.Put("/quotes/{id}/discount", h.ApplyDiscount)
		r.Post("/quotes/{id}/approve", h.Approve)
		r.Post("/quotes/{id}/recalculate", h.Recalculate)
		r.Patch("/quote-items/{itemId}", h.UpdateItem)
		r.Delete("/quote-items/{itemId}", h.DeleteItem)
	})
}

// Create handles POST /quotes.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, err := validate.Decode[CreateQuoteRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	discount := decimal.Zero
	if req.Discount != nil {
		discount = *req.Discount
	}
	q, err := h.Svc.Create(r.Context(), CreateInput{
		OwnerID:    owner,
		CustomerID: strings.TrimSpace(req.CustomerID),
		Discount:   discount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusCreated, NewQuoteResponse(q, h.Currency))
}

// List handles GET /quotes, optionally filtered by ?status=draft|approved.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.caller(w, r)
	if !ok {
		return
	}
	filter := Filter{OwnerID: owner}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := Status(strings.ToLower(raw))
		if !status.Valid() {
			h.writeError(w, r, common.Validation("invalid status filter", map[string]string{"status": "Must be one of: draft approved"}))
			return
		}
		filter.Status = status
	}
	quotes, err := h.Svc.FindAll(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]QuoteResponse, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, NewQuoteResponse(q, h.Currency))
	}
	common.Data(w, http.StatusOK, out)
}

// Get handles GET /quotes/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	q, ok := h.ownedQuote(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, NewQuoteResponse(q, h.Currency))
}

// AddItem handles POST /quotes/{id}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	q, ok := h.ownedQuote(w, r)
	if !ok {
		return
	}
	req, err := validate.Decode[AddItemRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ref, err := pricing.NewReference(req.ProductID, req.ServiceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	discount := decimal.Zero
	if req.Discount != nil {
		discount = *req.Discount
	}
	item, err := h.Svc.AddItem(r.Context(), q.ID, AddItemInput{Ref: ref, Quantity: req.Quantity, Discount: discount})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusCreated, NewItemResponse(item))
}

// UpdateItem handles PATCH /quote-items/{itemId}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.ownedItem(w, r)
	if !ok {
		return
	}
	req, err := validate.Decode[UpdateItemRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.Svc.UpdateItem(r.Context(), itemID, ItemChange{Quantity: req.Quantity, Discount: req.Discount})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, NewItemResponse(item))
}

// DeleteItem handles DELETE /quote-items/{itemId} and returns the recomputed quote.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.ownedItem(w, r)
	if !ok {
		return
	}
	q, err := h.Svc.RemoveItem(r.Context(), itemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, NewQuoteResponse(q, h.Currency))
}

// ApplyDiscount handles PUT /quotes/{id}/discount.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	q, ok := h.ownedQuote(w, r)
	if !ok {
		return
	}
	req, err := validate.Decode[DiscountRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Discount == nil {
		h.writeError(w, r, common.Validation("invalid payload", map[string]string{"discount": "This field is required"}))
		return
	}
	q, err = h.Svc.ApplyDiscount(r.Context(), q.ID, *req.Discount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, NewQuoteResponse(q, h.Currency))
}

// Approve handles POST /quotes/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	q, ok := h.ownedQuote(w, r)
	if !ok {
		return
	}
	q, err := h.Svc.Approve(r.Context(), q.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, NewQuoteResponse(q, h.Currency))
}

// Recalculate handles POST /quotes/{id}/recalculate.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	q, ok := h.ownedQuote(w, r)
	if !ok {
		return
	}
	q, err := h.Svc.Recalculate(r.Context(), q.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, NewQuoteResponse(q, h.Currency))
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote service not configured", nil)
		return "", false
	}
	owner, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return "", false
	}
	return owner, true
}

// ownedQuote loads the quote named in the path. Quotes of other owners are
// reported as not found.
func (h *Handler) ownedQuote(w http.ResponseWriter, r *http.Request) (Quote, bool) {
	owner, ok := h.caller(w, r)
	if !ok {
		return Quote{}, false
	}
	q, err := h.Svc.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err == nil && q.OwnerID != owner {
		err = ErrQuoteNotFound
	}
	if err != nil {
		h.writeError(w, r, err)
		return Quote{}, false
	}
	return q, true
}

func (h *Handler) ownedItem(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := h.caller(w, r)
	if !ok {
		return "", false
	}
	itemID := chi.URLParam(r, "itemId")
	q, err := h.Svc.FindByItem(r.Context(), itemID)
	if err == nil && q.OwnerID != owner {
		err = ErrItemNotFound
	}
	if err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return itemID, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if common.StatusFor(err) >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", common.KindOf(err)).Msg("quote request failed")
	}
	common.WriteError(w, err)
}
