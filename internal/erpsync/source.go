package erpsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pdvjgm/pos-backend/internal/catalog"
	"github.com/pdvjgm/pos-backend/pkg/config"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
)

// Source is the upstream ERP feed. A full sync drains all three stages; a
// fetch error anywhere aborts the cycle.
type Source interface {
	FetchProducts(ctx context.Context) ([]catalog.ProductUpdateDTO, error)
	FetchStocks(ctx context.Context) ([]catalog.StockUpdateDTO, error)
	FetchPrices(ctx context.Context) ([]catalog.PriceUpdateDTO, error)
}

// HTTPSource reads the feed over HTTP. The upstream contract is three JSON
// array endpoints under a common base URL.
type HTTPSource struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPSource(cfg config.SyncConfig) (*HTTPSource, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.FeedBaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("sync feed base url is required")
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}, nil
}

func (s *HTTPSource) FetchProducts(ctx context.Context) ([]catalog.ProductUpdateDTO, error) {
	var out []catalog.ProductUpdateDTO
	if err := s.fetch(ctx, "/products", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPSource) FetchStocks(ctx context.Context) ([]catalog.StockUpdateDTO, error) {
	var out []catalog.StockUpdateDTO
	if err := s.fetch(ctx, "/stocks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPSource) FetchPrices(ctx context.Context) ([]catalog.PriceUpdateDTO, error) {
	var out []catalog.PriceUpdateDTO
	if err := s.fetch(ctx, "/prices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPSource) fetch(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building feed request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("fetching %s feed", path))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("feed %s returned %d", path, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decoding %s feed", path))
	}
	return nil
}

// StaticSource serves a fixed in-memory feed. Used by tests and local dev
// when no upstream ERP is reachable.
type StaticSource struct {
	Products []catalog.ProductUpdateDTO
	Stocks   []catalog.StockUpdateDTO
	Prices   []catalog.PriceUpdateDTO
	Err      error
}

// NewSeededStaticSource returns a source preloaded with a small fixture
// catalog.
func NewSeededStaticSource() *StaticSource {
	now := time.Now().UTC()
	validFrom := now.AddDate(0, 0, -1)
	return &StaticSource{
		Products: []catalog.ProductUpdateDTO{
			{Code: "COC-350", Name: "Coca-Cola 350ml", UOM: "UN", IsActive: true},
			{Code: "AGU-500", Name: "Agua Mineral 500ml", UOM: "UN", IsActive: true},
		},
		Stocks: []catalog.StockUpdateDTO{
			{Code: "COC-350", WarehouseID: "1", Quantity: 120, UpdatedAt: now},
			{Code: "AGU-500", WarehouseID: "1", Quantity: 300, UpdatedAt: now},
		},
		Prices: []catalog.PriceUpdateDTO{
			{Code: "COC-350", PriceList: "LOJA_01", Rate: decimal.NewFromFloat(4.50), Currency: "BRL", ValidFrom: &validFrom},
			{Code: "AGU-500", PriceList: "LOJA_01", Rate: decimal.NewFromFloat(2.00), Currency: "BRL", ValidFrom: &validFrom},
		},
	}
}

func (s *StaticSource) FetchProducts(ctx context.Context) ([]catalog.ProductUpdateDTO, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Products, nil
}

func (s *StaticSource) FetchStocks(ctx context.Context) ([]catalog.StockUpdateDTO, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Stocks, nil
}

func (s *StaticSource) FetchPrices(ctx context.Context) ([]catalog.PriceUpdateDTO, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Prices, nil
}
