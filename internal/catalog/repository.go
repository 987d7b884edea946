package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pdvjgm/pos-backend/pkg/db/models"
)

// Repository persists the reconciled catalog. Timestamp guards are
// expressed as conditional UPDATEs so two workers applying records for the
// same row never interleave a read-then-write.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindProductByCode loads a product by its upstream business key.
func (r *Repository) FindProductByCode(ctx context.Context, code string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// ProductExists reports whether the code is present without loading the row.
func (r *Repository) ProductExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("code = ?", code).
		Count(&count).Error
	return count > 0, err
}

// OverwriteProductByCode applies the feed record onto the row with the same
// code. It reports the number of rows updated; zero means the code is new.
func (r *Repository) OverwriteProductByCode(ctx context.Context, product *models.Product) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("code = ?", product.Code).
		Updates(map[string]any{
			"name":        product.Name,
			"description": product.Description,
			"uom":         product.UOM,
			"barcode":     product.Barcode,
			"is_active":   product.IsActive,
		})
	return res.RowsAffected, res.Error
}

// InsertProduct creates the product row.
func (r *Repository) InsertProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

// FindStock loads one warehouse stock row.
func (r *Repository) FindStock(ctx context.Context, code, warehouseID string) (*models.Stock, error) {
	var stock models.Stock
	err := r.db.WithContext(ctx).
		Where("product_code = ? AND warehouse_id = ?", code, warehouseID).
		First(&stock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stock, nil
}

// UpdateStockIfNewer overwrites quantity and source timestamp only when the
// incoming timestamp is strictly newer than the stored one.
func (r *Repository) UpdateStockIfNewer(ctx context.Context, code, warehouseID string, quantity float64, sourceUpdatedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Stock{}).
		Where("product_code = ? AND warehouse_id = ? AND source_updated_at < ?", code, warehouseID, sourceUpdatedAt).
		Updates(map[string]any{
			"quantity":          quantity,
			"source_updated_at": sourceUpdatedAt,
		})
	return res.RowsAffected, res.Error
}

// InsertStock creates the stock row.
func (r *Repository) InsertStock(ctx context.Context, stock *models.Stock) error {
	return r.db.WithContext(ctx).Create(stock).Error
}

// FindPrice loads one price-list entry.
func (r *Repository) FindPrice(ctx context.Context, code, priceList string) (*models.Price, error) {
	var price models.Price
	err := r.db.WithContext(ctx).
		Where("product_code = ? AND price_list = ?", code, priceList).
		First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &price, nil
}

// UpdatePriceIfNewer overwrites the rate only when the incoming source
// timestamp is strictly newer than the stored one.
func (r *Repository) UpdatePriceIfNewer(ctx context.Context, code, priceList string, rate decimal.Decimal, currency string, validFrom *time.Time, sourceUpdatedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Price{}).
		Where("product_code = ? AND price_list = ? AND source_updated_at < ?", code, priceList, sourceUpdatedAt).
		Updates(map[string]any{
			"rate":              rate,
			"currency":          currency,
			"valid_from":        validFrom,
			"source_updated_at": sourceUpdatedAt,
		})
	return res.RowsAffected, res.Error
}

// InsertPrice creates the price row.
func (r *Repository) InsertPrice(ctx context.Context, price *models.Price) error {
	return r.db.WithContext(ctx).Create(price).Error
}
