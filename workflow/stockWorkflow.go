package workflow

import (
	"context"

	"bitbucket.org/kivumarket/fishstock_backend/config"
	"bitbucket.org/kivumarket/fishstock_backend/models"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NewStockEntry records an arrival of boxed and/or loose stock.
type NewStockEntry struct {
	ProductId int             `json:"product_id" binding:"required"`
	Boxes     int             `json:"boxes"`
	Kg        decimal.Decimal `json:"kg"`
	Reason    string          `json:"reason"`
}

// DamageEntry removes stock that was spoiled or destroyed.
type DamageEntry struct {
	ProductId int             `json:"product_id" binding:"required"`
	Boxes     int             `json:"boxes"`
	Kg        decimal.Decimal `json:"kg"`
	Reason    string          `json:"reason" binding:"required"`
}

// CorrectionEntry applies a signed manual adjustment, e.g. after a physical
// count.
type CorrectionEntry struct {
	ProductId int             `json:"product_id" binding:"required"`
	BoxChange int             `json:"box_change"`
	KgChange  decimal.Decimal `json:"kg_change"`
	Reason    string          `json:"reason" binding:"required"`
}

func RecordNewStock(ctx context.Context, input *NewStockEntry) (*models.StockMovement, error) {
	input.Kg = utils.Quantize(input.Kg)
	if input.Boxes < 0 || input.Kg.IsNegative() {
		return nil, utils.NewValidationError("quantity", "must not be negative")
	}
	if input.Boxes == 0 && !input.Kg.IsPositive() {
		return nil, utils.NewValidationError("quantity", "at least one of boxes or kg must be greater than zero")
	}
	return postMovement(ctx, input.ProductId, &models.StockMovement{
		MovementType: models.MovementTypeNewStock,
		BoxChange:    input.Boxes,
		KgChange:     input.Kg,
		Reason:       input.Reason,
	})
}

func RecordDamage(ctx context.Context, input *DamageEntry) (*models.StockMovement, error) {
	input.Kg = utils.Quantize(input.Kg)
	if input.Boxes < 0 || input.Kg.IsNegative() {
		return nil, utils.NewValidationError("quantity", "must not be negative")
	}
	if input.Boxes == 0 && !input.Kg.IsPositive() {
		return nil, utils.NewValidationError("quantity", "at least one of boxes or kg must be greater than zero")
	}
	return postMovement(ctx, input.ProductId, &models.StockMovement{
		MovementType: models.MovementTypeDamaged,
		BoxChange:    -input.Boxes,
		KgChange:     input.Kg.Neg(),
		Reason:       input.Reason,
	})
}

func RecordCorrection(ctx context.Context, input *CorrectionEntry) (*models.StockMovement, error) {
	input.KgChange = utils.Quantize(input.KgChange)
	if input.BoxChange == 0 && input.KgChange.IsZero() {
		return nil, utils.NewValidationError("quantity", "at least one of box_change or kg_change must be non-zero")
	}
	return postMovement(ctx, input.ProductId, &models.StockMovement{
		MovementType: models.MovementTypeStockCorrection,
		BoxChange:    input.BoxChange,
		KgChange:     input.KgChange,
		Reason:       input.Reason,
	})
}

// postMovement appends one ledger row and moves the materialized view by the
// same delta, in a single transaction serialized per product. The resulting
// stock must stay non-negative.
func postMovement(ctx context.Context, productId int, movement *models.StockMovement) (*models.StockMovement, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireProductPostingLock(tx, productId); err != nil {
			return err
		}
		defer ReleaseProductPostingLock(tx, productId)

		product, err := models.LockProductStock(tx, productId)
		if err != nil {
			return err
		}

		newBoxes := product.QuantityBox + movement.BoxChange
		newKg := product.QuantityKg.Add(movement.KgChange)
		if newKg.Abs().LessThan(KgEpsilon) {
			newKg = decimal.Zero
		}
		if newBoxes < 0 {
			return utils.NewValidationError("boxes", "movement would drive boxed stock negative")
		}
		if newKg.IsNegative() {
			return utils.NewValidationError("kg", "movement would drive loose stock negative")
		}

		movement.ProductId = productId
		if err := models.InsertStockMovement(tx, movement); err != nil {
			config.LogError(logger, "stockWorkflow.go", "postMovement", "InsertStockMovement", movement, err)
			return err
		}

		return tx.Model(product).Updates(map[string]interface{}{
			"quantity_box": newBoxes,
			"quantity_kg":  newKg,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}
