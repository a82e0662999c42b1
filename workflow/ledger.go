package workflow

import (
	"context"

	"bitbucket.org/kivumarket/fishstock_backend/config"
	"bitbucket.org/kivumarket/fishstock_backend/models"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReplayMovements folds the ledger rows in creation order and returns the
// reconstructed (boxes, kg). Only completed movements count; pending and
// cancelled rows carry no stock effect.
func ReplayMovements(movements []*models.StockMovement) (int, decimal.Decimal) {
	boxes := 0
	kg := decimal.Zero
	for _, m := range movements {
		if m == nil || m.Status != models.MovementStatusCompleted {
			continue
		}
		boxes += m.BoxChange
		kg = kg.Add(m.KgChange)
	}
	return boxes, kg
}

type LedgerReport struct {
	ProductId   int             `json:"product_id"`
	LedgerBoxes int             `json:"ledger_boxes"`
	LedgerKg    decimal.Decimal `json:"ledger_kg"`
	StockBoxes  int             `json:"stock_boxes"`
	StockKg     decimal.Decimal `json:"stock_kg"`
	Movements   int             `json:"movements"`
	Consistent  bool            `json:"consistent"`
}

// VerifyProductLedger replays the full ledger for a product and compares the
// result with the materialized ProductStock row. On divergence the product is
// flagged ledger_blocked so further mutations are refused until an operator
// reconciles it, and an InvariantViolationError is returned.
func VerifyProductLedger(ctx context.Context, productId int) (*LedgerReport, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	var report *LedgerReport
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Fetch directly: verification must run on blocked products too.
		var product models.ProductStock
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, productId).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.ErrorRecordNotFound
			}
			return err
		}

		movements, err := models.FetchMovementsForReplay(tx, productId)
		if err != nil {
			return err
		}
		boxes, kg := ReplayMovements(movements)

		report = &LedgerReport{
			ProductId:   productId,
			LedgerBoxes: boxes,
			LedgerKg:    kg,
			StockBoxes:  product.QuantityBox,
			StockKg:     product.QuantityKg,
			Movements:   len(movements),
			Consistent:  boxes == product.QuantityBox && kg.Equal(product.QuantityKg),
		}

		// The block flag is written inside this transaction so it commits
		// together with the snapshot it was computed from.
		if report.Consistent && product.LedgerBlocked {
			// Reconciled: lift the block.
			return tx.Model(&product).Update("ledger_blocked", false).Error
		}
		if !report.Consistent && !product.LedgerBlocked {
			return tx.Model(&product).Update("ledger_blocked", true).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent {
		violation := &utils.InvariantViolationError{
			ProductId:   productId,
			ExpectedBox: report.LedgerBoxes,
			ActualBox:   report.StockBoxes,
			ExpectedKg:  report.LedgerKg,
			ActualKg:    report.StockKg,
		}
		config.LogError(logger, "ledger.go", "VerifyProductLedger", "ReplayMismatch", report, violation)
		return report, violation
	}
	return report, nil
}

// VerifyAllLedgers runs VerifyProductLedger for every product and returns the
// reports; invariant violations are collected, not fatal to the sweep.
func VerifyAllLedgers(ctx context.Context) ([]*LedgerReport, error) {
	products, err := models.ListProductStocks(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]*LedgerReport, 0, len(products))
	for _, p := range products {
		report, err := VerifyProductLedger(ctx, p.ID)
		if err != nil {
			if _, ok := err.(*utils.InvariantViolationError); !ok {
				return reports, err
			}
		}
		if report != nil {
			reports = append(reports, report)
		}
	}
	return reports, nil
}
