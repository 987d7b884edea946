package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pdvjgm/pos-backend/pkg/db"
	"github.com/pdvjgm/pos-backend/pkg/db/models"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

// Service reconciles upstream catalog records into local state. Stock and
// price writes are last-writer-wins on the source timestamp: a record older
// than what is stored is dropped without touching the row.
type Service interface {
	UpsertProduct(ctx context.Context, dto ProductUpdateDTO) (*models.Product, error)
	UpsertStock(ctx context.Context, dto StockUpdateDTO) (*models.Stock, error)
	UpsertPrice(ctx context.Context, dto PriceUpdateDTO) (*models.Price, error)
	GetPrice(ctx context.Context, code, priceList string) (*PriceQuote, error)
}

type service struct {
	repo     *Repository
	dbClient *db.Client
	logg     *logger.Logger
}

// NewService constructs the reconciler.
func NewService(repo *Repository, dbClient *db.Client, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, dbClient: dbClient, logg: logg}, nil
}

// UpsertProduct overwrites the product identified by code, creating it when
// absent. The product master carries no source timestamp upstream, so the
// write is unconditional.
func (s *service) UpsertProduct(ctx context.Context, dto ProductUpdateDTO) (*models.Product, error) {
	code := strings.TrimSpace(dto.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product code is required")
	}
	if strings.TrimSpace(dto.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
	}

	product := &models.Product{
		Code:        code,
		Name:        dto.Name,
		Description: dto.Description,
		UOM:         dto.UOM,
		Barcode:     dto.Barcode,
		IsActive:    dto.IsActive,
	}

	updated, err := s.repo.OverwriteProductByCode(ctx, product)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating product")
	}
	if updated == 0 {
		if err := s.repo.InsertProduct(ctx, product); err != nil {
			// Lost the insert race: the row exists now, overwrite it.
			if db.IsUniqueViolation(err, "") {
				if _, err := s.repo.OverwriteProductByCode(ctx, product); err != nil {
					return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating product after insert race")
				}
			} else {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "inserting product")
			}
		}
	}

	stored, err := s.repo.FindProductByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading product")
	}
	s.logg.Debug(s.logg.WithField(ctx, "product_code", code), "product reconciled")
	return stored, nil
}

// UpsertStock applies a warehouse quantity when the record is newer than
// the stored row. Stale records return the stored row untouched.
func (s *service) UpsertStock(ctx context.Context, dto StockUpdateDTO) (*models.Stock, error) {
	code := strings.TrimSpace(dto.Code)
	if code == "" || strings.TrimSpace(dto.WarehouseID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product code and warehouse id are required")
	}
	if dto.UpdatedAt.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock record is missing its source timestamp")
	}

	exists, err := s.repo.ProductExists(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking product existence")
	}
	if !exists {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s is not known locally", code)).
			WithDetails(map[string]any{"code": code})
	}

	for attempt := 0; attempt < 2; attempt++ {
		updated, err := s.repo.UpdateStockIfNewer(ctx, code, dto.WarehouseID, dto.Quantity, dto.UpdatedAt)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating stock")
		}
		if updated > 0 {
			break
		}

		stored, err := s.repo.FindStock(ctx, code, dto.WarehouseID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock")
		}
		if stored != nil {
			// Stored row is same age or newer: drop the stale record.
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"product_code": code,
				"warehouse_id": dto.WarehouseID,
			})
			s.logg.Debug(logCtx, "stale stock record ignored")
			return stored, nil
		}

		err = s.repo.InsertStock(ctx, &models.Stock{
			ProductCode:     code,
			WarehouseID:     dto.WarehouseID,
			Quantity:        dto.Quantity,
			SourceUpdatedAt: dto.UpdatedAt,
		})
		if err == nil {
			break
		}
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "inserting stock")
		}
		// Concurrent insert won; loop back through the guarded update.
	}

	stored, err := s.repo.FindStock(ctx, code, dto.WarehouseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading stock")
	}
	return stored, nil
}

// UpsertPrice applies a price-list entry under the same timestamp guard as
// stock, keyed on (code, priceList). ValidFrom doubles as the source
// timestamp; records without one are effective immediately.
func (s *service) UpsertPrice(ctx context.Context, dto PriceUpdateDTO) (*models.Price, error) {
	code := strings.TrimSpace(dto.Code)
	if code == "" || strings.TrimSpace(dto.PriceList) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product code and price list are required")
	}
	if dto.Rate.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price rate cannot be negative")
	}

	exists, err := s.repo.ProductExists(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking product existence")
	}
	if !exists {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s is not known locally", code)).
			WithDetails(map[string]any{"code": code})
	}

	sourceUpdatedAt := time.Now().UTC()
	if dto.ValidFrom != nil {
		sourceUpdatedAt = *dto.ValidFrom
	}

	for attempt := 0; attempt < 2; attempt++ {
		updated, err := s.repo.UpdatePriceIfNewer(ctx, code, dto.PriceList, dto.Rate, dto.Currency, dto.ValidFrom, sourceUpdatedAt)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating price")
		}
		if updated > 0 {
			break
		}

		stored, err := s.repo.FindPrice(ctx, code, dto.PriceList)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading price")
		}
		if stored != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"product_code": code,
				"price_list":   dto.PriceList,
			})
			s.logg.Debug(logCtx, "stale price record ignored")
			return stored, nil
		}

		err = s.repo.InsertPrice(ctx, &models.Price{
			ProductCode:     code,
			PriceList:       dto.PriceList,
			Rate:            dto.Rate,
			Currency:        dto.Currency,
			ValidFrom:       dto.ValidFrom,
			SourceUpdatedAt: sourceUpdatedAt,
		})
		if err == nil {
			break
		}
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "inserting price")
		}
	}

	stored, err := s.repo.FindPrice(ctx, code, dto.PriceList)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading price")
	}
	return stored, nil
}

// GetPrice resolves the current rate for a product on a price list.
func (s *service) GetPrice(ctx context.Context, code, priceList string) (*PriceQuote, error) {
	product, err := s.repo.FindProductByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	if product == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", code))
	}

	price, err := s.repo.FindPrice(ctx, code, priceList)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading price")
	}
	if price == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no %s price for product %s", priceList, code))
	}

	return &PriceQuote{
		ProductCode: code,
		ProductName: product.Name,
		PriceList:   priceList,
		Rate:        price.Rate,
		Currency:    price.Currency,
	}, nil
}
