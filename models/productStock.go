package models

import (
	"context"
	"time"

	"bitbucket.org/kivumarket/fishstock_backend/config"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductStock is the materialized stock view per product. Boxed stock and
// loose weight are independent pools; both are only ever mutated inside a
// transaction that also appends the matching StockMovement rows.
type ProductStock struct {
	ID                     int             `gorm:"primary_key" json:"id"`
	Name                   string          `gorm:"size:100;not null;uniqueIndex" json:"name"`
	QuantityBox            int             `gorm:"not null;default:0" json:"quantity_box"`
	QuantityKg             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_kg"`
	BoxToKgRatio           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"box_to_kg_ratio"`
	CostPerBox             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_per_box"`
	CostPerKg              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_per_kg"`
	PricePerBox            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price_per_box"`
	PricePerKg             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price_per_kg"`
	BoxedLowStockThreshold int             `gorm:"not null;default:0" json:"boxed_low_stock_threshold"`
	// LedgerBlocked is set when ledger replay stops reconciling with this row.
	// All mutating operations refuse the product until an operator clears it.
	LedgerBlocked bool      `gorm:"not null;default:false" json:"ledger_blocked"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductStock struct {
	Name                   string          `json:"name" binding:"required"`
	BoxToKgRatio           decimal.Decimal `json:"box_to_kg_ratio" binding:"required"`
	CostPerBox             decimal.Decimal `json:"cost_per_box"`
	CostPerKg              decimal.Decimal `json:"cost_per_kg"`
	PricePerBox            decimal.Decimal `json:"price_per_box"`
	PricePerKg             decimal.Decimal `json:"price_per_kg"`
	BoxedLowStockThreshold int             `json:"boxed_low_stock_threshold"`
	OpeningBoxes           int             `json:"opening_boxes"`
	OpeningKg              decimal.Decimal `json:"opening_kg"`
}

type ProductStockUpdate struct {
	CostPerBox             *decimal.Decimal `json:"cost_per_box"`
	CostPerKg              *decimal.Decimal `json:"cost_per_kg"`
	PricePerBox            *decimal.Decimal `json:"price_per_box"`
	PricePerKg             *decimal.Decimal `json:"price_per_kg"`
	BoxedLowStockThreshold *int             `json:"boxed_low_stock_threshold"`
}

func (input *NewProductStock) Validate() error {
	input.BoxToKgRatio = utils.Quantize(input.BoxToKgRatio)
	input.OpeningKg = utils.Quantize(input.OpeningKg)
	input.CostPerBox = utils.Quantize(input.CostPerBox)
	input.CostPerKg = utils.Quantize(input.CostPerKg)
	input.PricePerBox = utils.Quantize(input.PricePerBox)
	input.PricePerKg = utils.Quantize(input.PricePerKg)

	if input.BoxToKgRatio.LessThanOrEqual(decimal.Zero) {
		return utils.NewValidationError("box_to_kg_ratio", "must be greater than zero")
	}
	if input.OpeningBoxes < 0 {
		return utils.NewValidationError("opening_boxes", "must not be negative")
	}
	if input.OpeningKg.IsNegative() {
		return utils.NewValidationError("opening_kg", "must not be negative")
	}
	for field, v := range map[string]decimal.Decimal{
		"cost_per_box":  input.CostPerBox,
		"cost_per_kg":   input.CostPerKg,
		"price_per_box": input.PricePerBox,
		"price_per_kg":  input.PricePerKg,
	} {
		if v.IsNegative() {
			return utils.NewValidationError(field, "must not be negative")
		}
	}
	if input.BoxedLowStockThreshold < 0 {
		return utils.NewValidationError("boxed_low_stock_threshold", "must not be negative")
	}
	return nil
}

// BoxEquivalent collapses boxed and loose stock into a single scalar for
// low-stock comparisons: boxes + floor(kg / ratio).
func (p *ProductStock) BoxEquivalent() int {
	if p.BoxToKgRatio.LessThanOrEqual(decimal.Zero) {
		return p.QuantityBox
	}
	loose := p.QuantityKg.Div(p.BoxToKgRatio).Floor().IntPart()
	return p.QuantityBox + int(loose)
}

func (p *ProductStock) IsLowStock() bool {
	return p.BoxEquivalent() <= p.BoxedLowStockThreshold
}

// CreateProductStock creates the product and, when opening stock is supplied,
// the opening new_stock ledger row in the same transaction, so the replay
// invariant holds from the first movement.
func CreateProductStock(ctx context.Context, input *NewProductStock) (*ProductStock, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	product := ProductStock{
		Name:                   input.Name,
		QuantityBox:            input.OpeningBoxes,
		QuantityKg:             input.OpeningKg,
		BoxToKgRatio:           input.BoxToKgRatio,
		CostPerBox:             input.CostPerBox,
		CostPerKg:              input.CostPerKg,
		PricePerBox:            input.PricePerBox,
		PricePerKg:             input.PricePerKg,
		BoxedLowStockThreshold: input.BoxedLowStockThreshold,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			if utils.IsDuplicateKeyError(err) {
				return utils.NewValidationError("name", "product already exists")
			}
			return err
		}
		if input.OpeningBoxes > 0 || input.OpeningKg.IsPositive() {
			movement := StockMovement{
				ProductId:    product.ID,
				MovementType: MovementTypeNewStock,
				BoxChange:    input.OpeningBoxes,
				KgChange:     input.OpeningKg,
				Reason:       "opening stock",
			}
			if err := InsertStockMovement(tx, &movement); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProductStock(ctx context.Context, id int) (*ProductStock, error) {
	db := config.GetDB()
	var product ProductStock
	if err := db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &product, nil
}

func ListProductStocks(ctx context.Context) ([]*ProductStock, error) {
	db := config.GetDB()
	var products []*ProductStock
	if err := db.WithContext(ctx).Order("name").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// LockProductStock fetches the row FOR UPDATE inside tx, serializing every
// ledger-producing operation per product. Returns a conflict if the product is
// blocked pending ledger reconciliation.
func LockProductStock(tx *gorm.DB, id int) (*ProductStock, error) {
	var product ProductStock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if product.LedgerBlocked {
		return nil, utils.NewConflictError("product %d is blocked pending ledger reconciliation", id)
	}
	return &product, nil
}

func UpdateProductStock(ctx context.Context, id int, input *ProductStockUpdate) (*ProductStock, error) {
	db := config.GetDB()
	product, err := GetProductStock(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.CostPerBox != nil {
		if input.CostPerBox.IsNegative() {
			return nil, utils.NewValidationError("cost_per_box", "must not be negative")
		}
		updates["cost_per_box"] = utils.Quantize(*input.CostPerBox)
	}
	if input.CostPerKg != nil {
		if input.CostPerKg.IsNegative() {
			return nil, utils.NewValidationError("cost_per_kg", "must not be negative")
		}
		updates["cost_per_kg"] = utils.Quantize(*input.CostPerKg)
	}
	if input.PricePerBox != nil {
		if input.PricePerBox.IsNegative() {
			return nil, utils.NewValidationError("price_per_box", "must not be negative")
		}
		updates["price_per_box"] = utils.Quantize(*input.PricePerBox)
	}
	if input.PricePerKg != nil {
		if input.PricePerKg.IsNegative() {
			return nil, utils.NewValidationError("price_per_kg", "must not be negative")
		}
		updates["price_per_kg"] = utils.Quantize(*input.PricePerKg)
	}
	if input.BoxedLowStockThreshold != nil {
		if *input.BoxedLowStockThreshold < 0 {
			return nil, utils.NewValidationError("boxed_low_stock_threshold", "must not be negative")
		}
		updates["boxed_low_stock_threshold"] = *input.BoxedLowStockThreshold
	}
	if len(updates) == 0 {
		return product, nil
	}

	if err := db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
		return nil, err
	}
	return product, nil
}
