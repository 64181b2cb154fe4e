package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/budget-api/internal/common"
	"github.com/noah-isme/budget-api/internal/pricing"
	"github.com/noah-isme/budget-api/internal/resilience"
)

// HTTPCatalog resolves prices from a remote catalog service exposing
// GET {base}/products/{id} and GET {base}/services/{id}.
type HTTPCatalog struct {
	BaseURL string
	Client  resilience.HTTPClient
}

// HTTPConfig configures NewHTTPCatalog.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Retry   resilience.RetryPolicy
	Breaker *resilience.Breaker
}

type priceResponse struct {
	Price *decimal.Decimal `json:"price"`
}

// NewHTTPCatalog builds a catalog client whose transport is traced with otelhttp.
func NewHTTPCatalog(cfg HTTPConfig) *HTTPCatalog {
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return &HTTPCatalog{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		Client:  resilience.NewHTTPClient(client, cfg.Breaker, cfg.Retry, cfg.Timeout),
	}
}

func (c *HTTPCatalog) UnitPrice(ctx context.Context, ref pricing.Reference) (pricing.Money, error) {
	var collection string
	switch ref.Kind() {
	case pricing.KindProduct:
		collection = "products"
	case pricing.KindService:
		collection = "services"
	default:
		return decimal.Zero, fmt.Errorf("catalog: unknown reference kind %q", ref.Kind())
	}
	endpoint := c.BaseURL + "/" + collection + "/" + url.PathEscape(ref.ID())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(ctx, req)
	if err != nil {
		return decimal.Zero, common.Unavailable("catalog.http", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, pricing.ErrReferenceNotFound
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, common.Unavailable("catalog.http", fmt.Errorf("unexpected status %s", resp.Status))
	}

	var body priceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return decimal.Zero, common.Unavailable("catalog.http", fmt.Errorf("decode price: %w", err))
	}
	if body.Price == nil {
		return decimal.Zero, common.Unavailable("catalog.http", fmt.Errorf("price missing for %s", ref))
	}
	return *body.Price, nil
}
