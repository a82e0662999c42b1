package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"bitbucket.org/kivumarket/fishstock_backend/config"
	"bitbucket.org/kivumarket/fishstock_backend/models"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// auditTransition validates a requested decision against the current status.
// A repeated identical decision is reported as idempotent rather than applied
// again; a conflicting decision on a decided audit is refused.
func auditTransition(current, requested models.ApprovalStatus) (apply bool, err error) {
	if requested != models.ApprovalStatusApproved && requested != models.ApprovalStatusRejected {
		return false, utils.NewValidationError("decision", "must be approved or rejected")
	}
	switch current {
	case models.ApprovalStatusPending:
		return true, nil
	case requested:
		return false, nil
	default:
		return false, utils.NewConflictError("audit already %s; cannot change to %s", current, requested)
	}
}

// validateApprovalReason bounds the decider's free-text reason. The limit is
// counted in runes so a reason written in a multibyte script gets the same
// 500 characters as one in ASCII.
func validateApprovalReason(reason string) error {
	if reason == "" {
		return utils.NewValidationError("approval_reason", "is required")
	}
	if utf8.RuneCountInString(reason) > 500 {
		return utils.NewValidationError("approval_reason", "must be at most 500 characters")
	}
	return nil
}

// DecideAudit applies an approve/reject decision to a pending audit record.
// Rejection leaves the sale, stock and ledger untouched. Approval applies the
// requested change, writes its ledger rows and stamps the decision, all in one
// transaction.
func DecideAudit(ctx context.Context, auditId int, decision models.ApprovalStatus, reason string) (*models.AuditRecord, error) {
	logger := config.GetLogger()

	if err := validateApprovalReason(reason); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var decided *models.AuditRecord

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		audit, err := models.LockAuditRecord(tx, auditId)
		if err != nil {
			return err
		}

		apply, err := auditTransition(audit.ApprovalStatus, decision)
		if err != nil {
			return err
		}
		if !apply {
			// Same decision twice; return the record as already stamped.
			decided = audit
			return nil
		}

		if decision == models.ApprovalStatusApproved {
			switch audit.AuditType {
			case models.AuditTypePaymentUpdate:
				err = applyPaymentUpdate(tx, audit)
			case models.AuditTypeQuantityChange:
				err = applyQuantityChange(tx, audit)
			case models.AuditTypeDeletion:
				err = applyDeletion(tx, audit)
			default:
				err = utils.NewValidationError("audit_type", fmt.Sprintf("unknown audit type %q", audit.AuditType))
			}
			if err != nil {
				config.LogError(logger, "auditWorkflow.go", "DecideAudit", "ApplyApproval", audit, err)
				return err
			}
		}

		now := time.Now()
		approver := ""
		if userName, ok := utils.GetUserNameFromContext(tx.Statement.Context); ok {
			approver = userName
		}

		// Conditional update: only the row still marked pending can be
		// decided, so a racing decision loses cleanly.
		res := tx.Model(&models.AuditRecord{}).
			Where("id = ? AND approval_status = ?", audit.ID, models.ApprovalStatusPending).
			Updates(map[string]interface{}{
				"approval_status":    decision,
				"approved_by":        approver,
				"approval_timestamp": now,
				"approval_reason":    reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.NewConflictError("audit %d was decided concurrently", audit.ID)
		}

		audit.ApprovalStatus = decision
		audit.ApprovedBy = &approver
		audit.ApprovalTimestamp = &now
		audit.ApprovalReason = &reason
		decided = audit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}

// applyPaymentUpdate overwrites the sale's payment fields with the approved
// snapshot. No stock or ledger rows are involved.
func applyPaymentUpdate(tx *gorm.DB, audit *models.AuditRecord) error {
	if audit.NewValues == nil {
		return utils.NewValidationError("new_values", "payment update audit is missing its proposed values")
	}
	var proposed saleSnapshot
	if err := json.Unmarshal([]byte(*audit.NewValues), &proposed); err != nil {
		return err
	}

	sale, err := models.LockSale(tx, audit.SaleId)
	if err != nil {
		return err
	}

	return tx.Model(&models.Sale{}).Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"payment_method":   proposed.PaymentMethod,
			"payment_status":   proposed.PaymentStatus,
			"amount_paid":      proposed.AmountPaid,
			"remaining_amount": proposed.TotalAmount.Sub(proposed.AmountPaid),
			"client_name":      proposed.ClientName,
		}).Error
}

// applyQuantityChange re-runs feasibility for the delta against current stock,
// then posts a stock_correction (and, if needed, an unboxing) movement and
// rewrites the sale's quantities and totals.
func applyQuantityChange(tx *gorm.DB, audit *models.AuditRecord) error {
	if audit.NewValues == nil {
		return utils.NewValidationError("new_values", "quantity change audit is missing its proposed values")
	}
	var proposed saleSnapshot
	if err := json.Unmarshal([]byte(*audit.NewValues), &proposed); err != nil {
		return err
	}

	sale, err := models.LockSale(tx, audit.SaleId)
	if err != nil {
		return err
	}

	if err := AcquireProductPostingLock(tx, sale.ProductId); err != nil {
		return err
	}
	defer ReleaseProductPostingLock(tx, sale.ProductId)

	product, err := models.LockProductStock(tx, sale.ProductId)
	if err != nil {
		return err
	}

	deltaBoxes := audit.BoxesChange
	deltaKg := audit.KgChange

	// Decreases return stock; only the increase portion needs an allocation
	// check. Credit the returns first so a mixed amendment is judged against
	// what stock would actually look like.
	adjusted := *product
	needBoxes := 0
	needKg := decimal.Zero
	if deltaBoxes < 0 {
		adjusted.QuantityBox += -deltaBoxes
	} else {
		needBoxes = deltaBoxes
	}
	if deltaKg.IsNegative() {
		adjusted.QuantityKg = adjusted.QuantityKg.Add(deltaKg.Neg())
	} else {
		needKg = deltaKg
	}

	unboxed := 0
	finalBoxes := adjusted.QuantityBox
	finalKg := adjusted.QuantityKg
	if needBoxes > 0 || needKg.IsPositive() {
		plan, err := PlanAllocation(&adjusted, AllocationRequest{BoxesRequested: needBoxes, KgRequested: needKg})
		if err != nil {
			return err
		}
		if !plan.Feasible {
			// An approved amendment must still be deliverable; surface the
			// shortage as a conflict so the approver can reject instead.
			return utils.NewConflictError("approving audit %d would oversell product %d: %s",
				audit.ID, product.ID, plan.Infeasibility.Error())
		}
		unboxed = plan.BoxesToUnbox
		finalBoxes = plan.FinalBoxes
		finalKg = plan.FinalKg
	}

	correction := models.StockMovement{
		ProductId:    product.ID,
		MovementType: models.MovementTypeStockCorrection,
		BoxChange:    -deltaBoxes,
		KgChange:     deltaKg.Neg(),
		SaleId:       &sale.ID,
		AuditId:      &audit.ID,
		Reason:       fmt.Sprintf("approved quantity change on sale %d", sale.ID),
	}
	if err := models.InsertStockMovement(tx, &correction); err != nil {
		return err
	}

	if unboxed > 0 {
		unboxMovement := models.StockMovement{
			ProductId:    product.ID,
			MovementType: models.MovementTypeUnboxing,
			BoxChange:    -unboxed,
			KgChange:     product.BoxToKgRatio.Mul(decimal.NewFromInt(int64(unboxed))),
			SaleId:       &sale.ID,
			AuditId:      &audit.ID,
			Reason:       "automatic unboxing for approved quantity change",
		}
		if err := models.InsertStockMovement(tx, &unboxMovement); err != nil {
			return err
		}
	}

	if err := tx.Model(&models.ProductStock{}).Where("id = ?", product.ID).
		Updates(map[string]interface{}{
			"quantity_box": finalBoxes,
			"quantity_kg":  finalKg,
		}).Error; err != nil {
		return err
	}

	remaining, paymentStatus := settleAmounts(proposed.TotalAmount, sale.AmountPaid, sale.PaymentStatus)
	return tx.Model(&models.Sale{}).Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"boxes_quantity":   proposed.BoxesQuantity,
			"kg_quantity":      proposed.KgQuantity,
			"total_amount":     proposed.TotalAmount,
			"remaining_amount": remaining,
			"payment_status":   paymentStatus,
			"boxes_unboxed":    sale.BoxesUnboxed + unboxed,
		}).Error
}

// applyDeletion soft-deletes the sale and returns its quantities to stock.
// Boxes unboxed for the original sale stay as loose kg; a box once opened is
// not resealed.
func applyDeletion(tx *gorm.DB, audit *models.AuditRecord) error {
	sale, err := models.LockSale(tx, audit.SaleId)
	if err != nil {
		return err
	}

	if err := AcquireProductPostingLock(tx, sale.ProductId); err != nil {
		return err
	}
	defer ReleaseProductPostingLock(tx, sale.ProductId)

	product, err := models.LockProductStock(tx, sale.ProductId)
	if err != nil {
		return err
	}

	restore := models.StockMovement{
		ProductId:    product.ID,
		MovementType: models.MovementTypeStockCorrection,
		BoxChange:    sale.BoxesQuantity,
		KgChange:     sale.KgQuantity,
		SaleId:       &sale.ID,
		AuditId:      &audit.ID,
		Reason:       fmt.Sprintf("approved deletion of sale %d", sale.ID),
	}
	if err := models.InsertStockMovement(tx, &restore); err != nil {
		return err
	}

	if err := tx.Model(&models.ProductStock{}).Where("id = ?", product.ID).
		Updates(map[string]interface{}{
			"quantity_box": product.QuantityBox + sale.BoxesQuantity,
			"quantity_kg":  product.QuantityKg.Add(sale.KgQuantity),
		}).Error; err != nil {
		return err
	}

	return tx.Delete(&models.Sale{}, sale.ID).Error
}
