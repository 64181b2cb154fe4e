package quote_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/budget-api/internal/common"
	"github.com/noah-isme/budget-api/internal/quote"
)

type apiClient struct {
	t      *testing.T
	router http.Handler
}

func newAPI(t *testing.T) (*apiClient, *fixture) {
	t.Helper()
	f := newFixture(t)
	f.svc.Directory.(interface{ AddUser(string) }).AddUser("intruder")

	h := &quote.Handler{Svc: f.svc, Currency: "BRL"}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := r.Header.Get("X-Test-User"); user != "" {
				r = r.WithContext(common.WithUserID(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.Routes(r, nil)
	return &apiClient{t: t, router: r}, f
}

func (c *apiClient) do(user, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rr := httptest.NewRecorder()
	c.router.ServeHTTP(rr, req)
	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(c.t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "missing data in %v", body)
	return d
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestQuoteHTTPFlow(t *testing.T) {
	api, f := newAPI(t)

	rr, body := api.do(f.ownerID, http.MethodPost, "/quotes", map[string]any{"customerId": f.custID})
	require.Equal(t, http.StatusCreated, rr.Code)
	created := data(t, body)
	quoteID := created["id"].(string)
	require.Equal(t, "0.00", created["totalPrice"])
	require.Equal(t, "draft", created["status"])

	rr, body = api.do(f.ownerID, http.MethodPost, "/quotes/"+quoteID+"/items",
		map[string]any{"productId": "p100", "quantity": 2, "discount": "10"})
	require.Equal(t, http.StatusCreated, rr.Code)
	item := data(t, body)
	require.Equal(t, "180.00", item["lineTotal"])
	require.Nil(t, item["serviceId"])
	itemID := item["id"].(string)

	rr, body = api.do(f.ownerID, http.MethodPut, "/quotes/"+quoteID+"/discount", map[string]any{"discount": 20})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "144.00", data(t, body)["totalPrice"])
	require.Equal(t, "180.00", data(t, body)["subtotal"])

	rr, body = api.do(f.ownerID, http.MethodPatch, "/quote-items/"+itemID, map[string]any{"quantity": 3})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "270.00", data(t, body)["lineTotal"])

	rr, body = api.do(f.ownerID, http.MethodGet, "/quotes/"+quoteID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "216.00", data(t, body)["totalPrice"])
	require.Equal(t, "BRL", data(t, body)["currency"])

	rr, body = api.do(f.ownerID, http.MethodPost, "/quotes/"+quoteID+"/approve", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "approved", data(t, body)["status"])

	rr, body = api.do(f.ownerID, http.MethodPost, "/quotes/"+quoteID+"/approve", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "INVALID_STATE", errorCode(body))

	rr, body = api.do(f.ownerID, http.MethodDelete, "/quote-items/"+itemID, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "INVALID_STATE", errorCode(body))

	rr, body = api.do(f.ownerID, http.MethodGet, "/quotes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, body["data"], 1)

	rr, body = api.do(f.ownerID, http.MethodGet, "/quotes?status=draft", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, body["data"], 0)
}

func TestQuoteHTTPValidation(t *testing.T) {
	api, f := newAPI(t)
	_, body := api.do(f.ownerID, http.MethodPost, "/quotes", map[string]any{"customerId": f.custID})
	quoteID := data(t, body)["id"].(string)

	cases := []struct {
		name    string
		payload map[string]any
		field   string
	}{
		{"both references", map[string]any{"productId": "p100", "serviceId": "s-install", "quantity": 1}, "productId"},
		{"no reference", map[string]any{"quantity": 1}, "productId"},
		{"zero quantity", map[string]any{"productId": "p100", "quantity": 0}, "quantity"},
		{"discount above 100", map[string]any{"productId": "p100", "quantity": 1, "discount": "150"}, "discount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, body := api.do(f.ownerID, http.MethodPost, "/quotes/"+quoteID+"/items", tc.payload)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			require.Equal(t, "VALIDATION_ERROR", errorCode(body))
			details := body["error"].(map[string]any)["details"].(map[string]any)
			require.Contains(t, details, tc.field)
		})
	}

	rr, body := api.do(f.ownerID, http.MethodPut, "/quotes/"+quoteID+"/discount", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION_ERROR", errorCode(body))

	rr, _ = api.do(f.ownerID, http.MethodPost, "/quotes/"+quoteID+"/items", map[string]any{"productId": "p100", "quantity": 1})
	require.Equal(t, http.StatusCreated, rr.Code)
	rr, body = api.do(f.ownerID, http.MethodPost, "/quotes/"+quoteID+"/items", map[string]any{"productId": "p100", "quantity": 1})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "CONFLICT", errorCode(body))

	rr, body = api.do(f.ownerID, http.MethodPost, "/quotes/"+quoteID+"/items", map[string]any{"serviceId": "ghost", "quantity": 1})
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestQuoteHTTPOwnership(t *testing.T) {
	api, f := newAPI(t)
	_, body := api.do(f.ownerID, http.MethodPost, "/quotes", map[string]any{"customerId": f.custID})
	quoteID := data(t, body)["id"].(string)
	_, body = api.do(f.ownerID, http.MethodPost, "/quotes/"+quoteID+"/items", map[string]any{"productId": "p100", "quantity": 1})
	itemID := data(t, body)["id"].(string)

	rr, _ := api.do("", http.MethodGet, "/quotes/"+quoteID, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, body = api.do("intruder", http.MethodGet, "/quotes/"+quoteID, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", errorCode(body))

	rr, _ = api.do("intruder", http.MethodDelete, "/quote-items/"+itemID, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, body = api.do("intruder", http.MethodGet, "/quotes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, body["data"], 0)

	rr, body = api.do(f.ownerID, http.MethodDelete, "/quote-items/"+itemID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "0.00", data(t, body)["totalPrice"])
}
