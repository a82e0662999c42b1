package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/kivumarket/fishstock_backend/config"
	"bitbucket.org/kivumarket/fishstock_backend/models"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SalePreview is advisory only: it carries no reservation, and stock may move
// between preview and commit. Commit always re-validates.
type SalePreview struct {
	ProductId     int             `json:"product_id"`
	CurrentBoxes  int             `json:"current_boxes"`
	CurrentKg     decimal.Decimal `json:"current_kg"`
	Plan          *AllocationPlan `json:"plan"`
}

func PreviewSale(ctx context.Context, productId int, boxes int, kg decimal.Decimal) (*SalePreview, error) {
	product, err := models.GetProductStock(ctx, productId)
	if err != nil {
		return nil, err
	}
	plan, err := PlanAllocation(product, AllocationRequest{BoxesRequested: boxes, KgRequested: kg})
	if err != nil {
		return nil, err
	}
	return &SalePreview{
		ProductId:    productId,
		CurrentBoxes: product.QuantityBox,
		CurrentKg:    product.QuantityKg,
		Plan:         plan,
	}, nil
}

// CommitSale validates the request, re-runs the allocator against the locked
// stock row and, when feasible, persists the Sale plus its ledger rows and the
// stock update as one atomic unit. The returned plan carries the advisory
// warnings (unboxing notice, low stock).
func CommitSale(ctx context.Context, input *models.NewSale) (*models.Sale, *AllocationPlan, error) {
	logger := config.GetLogger()

	if err := input.Validate(); err != nil {
		return nil, nil, err
	}

	// Best-effort distributed lock; the row lock inside the transaction is the
	// actual guarantee.
	release := obtainBestEffortLock(ctx, logger, fmt.Sprintf("lock:product:%d", input.ProductId))
	defer release()

	db := config.GetDB()
	var sale *models.Sale
	var plan *AllocationPlan

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireProductPostingLock(tx, input.ProductId); err != nil {
			return err
		}
		defer ReleaseProductPostingLock(tx, input.ProductId)

		product, err := models.LockProductStock(tx, input.ProductId)
		if err != nil {
			return err
		}

		plan, err = PlanAllocation(product, AllocationRequest{
			BoxesRequested: input.BoxesQuantity,
			KgRequested:    input.KgQuantity,
		})
		if err != nil {
			return err
		}
		if !plan.Feasible {
			return plan.Infeasibility
		}

		total := input.TotalAmount()
		paid := input.PaidAmount()

		userId, _ := utils.GetUserIdFromContext(ctx)
		userName, _ := utils.GetUserNameFromContext(ctx)

		sale = &models.Sale{
			ProductId:       input.ProductId,
			BoxesQuantity:   input.BoxesQuantity,
			KgQuantity:      input.KgQuantity,
			BoxPrice:        input.BoxPrice,
			KgPrice:         input.KgPrice,
			TotalAmount:     total,
			AmountPaid:      paid,
			RemainingAmount: total.Sub(paid),
			PaymentMethod:   input.PaymentMethod,
			PaymentStatus:   input.PaymentStatus,
			ClientName:      input.ClientName,
			EmailAddress:    input.EmailAddress,
			Phone:           input.Phone,
			BoxesUnboxed:    plan.BoxesToUnbox,
			DateTime:        time.Now(),
			UserId:          userId,
			PerformedBy:     userName,
		}
		if err := tx.Create(sale).Error; err != nil {
			config.LogError(logger, "saleWorkflow.go", "CommitSale", "CreateSale", input, err)
			return err
		}

		// The sale row records fish leaving the building; unboxing is a
		// separate conversion row so the ledger can tell the two apart.
		saleMovement := models.StockMovement{
			ProductId:    input.ProductId,
			MovementType: models.MovementTypeSale,
			BoxChange:    -input.BoxesQuantity,
			KgChange:     input.KgQuantity.Neg(),
			SaleId:       &sale.ID,
			Reason:       "sale",
		}
		if err := models.InsertStockMovement(tx, &saleMovement); err != nil {
			config.LogError(logger, "saleWorkflow.go", "CommitSale", "InsertSaleMovement", saleMovement, err)
			return err
		}

		if plan.BoxesToUnbox > 0 {
			unboxedKg := product.BoxToKgRatio.Mul(decimal.NewFromInt(int64(plan.BoxesToUnbox)))
			unboxMovement := models.StockMovement{
				ProductId:    input.ProductId,
				MovementType: models.MovementTypeUnboxing,
				BoxChange:    -plan.BoxesToUnbox,
				KgChange:     unboxedKg,
				SaleId:       &sale.ID,
				Reason:       fmt.Sprintf("automatic unboxing to cover %s kg shortage", plan.KgShortage.String()),
			}
			if err := models.InsertStockMovement(tx, &unboxMovement); err != nil {
				config.LogError(logger, "saleWorkflow.go", "CommitSale", "InsertUnboxMovement", unboxMovement, err)
				return err
			}
		}

		return tx.Model(&models.ProductStock{}).Where("id = ?", product.ID).
			Updates(map[string]interface{}{
				"quantity_box": plan.FinalBoxes,
				"quantity_kg":  plan.FinalKg,
			}).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return sale, plan, nil
}

// saleSnapshot is the audited field set; both old_values and new_values on an
// AuditRecord are JSON of this shape.
type saleSnapshot struct {
	BoxesQuantity   int             `json:"boxes_quantity"`
	KgQuantity      decimal.Decimal `json:"kg_quantity"`
	BoxPrice        decimal.Decimal `json:"box_price"`
	KgPrice         decimal.Decimal `json:"kg_price"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	PaymentMethod   models.PaymentMethod `json:"payment_method"`
	PaymentStatus   models.PaymentStatus `json:"payment_status"`
	ClientName      string          `json:"client_name"`
}

func snapshotSale(sale *models.Sale) saleSnapshot {
	return saleSnapshot{
		BoxesQuantity:   sale.BoxesQuantity,
		KgQuantity:      sale.KgQuantity,
		BoxPrice:        sale.BoxPrice,
		KgPrice:         sale.KgPrice,
		TotalAmount:     sale.TotalAmount,
		AmountPaid:      sale.AmountPaid,
		RemainingAmount: sale.RemainingAmount,
		PaymentMethod:   sale.PaymentMethod,
		PaymentStatus:   sale.PaymentStatus,
		ClientName:      sale.ClientName,
	}
}

// SaleAmendment is a proposed change to a committed sale. Nothing is applied
// here; the request only produces a pending AuditRecord.
type SaleAmendment struct {
	AuditType        models.AuditType      `json:"audit_type" binding:"required"`
	NewBoxesQuantity *int                  `json:"new_boxes_quantity"`
	NewKgQuantity    *decimal.Decimal      `json:"new_kg_quantity"`
	NewPaymentMethod *models.PaymentMethod `json:"new_payment_method"`
	NewPaymentStatus *models.PaymentStatus `json:"new_payment_status"`
	NewAmountPaid    *decimal.Decimal      `json:"new_amount_paid"`
	NewClientName    *string               `json:"new_client_name"`
	Reason           string                `json:"reason" binding:"required"`
}

// settleAmounts recomputes what is still owed after a total or payment
// change. Overpayment clamps to zero owed and settles the status; money
// already taken above the new total is a refund handled outside the system.
func settleAmounts(total, paid decimal.Decimal, status models.PaymentStatus) (decimal.Decimal, models.PaymentStatus) {
	remaining := total.Sub(paid)
	if remaining.IsPositive() {
		return remaining, status
	}
	if paid.IsPositive() {
		status = models.PaymentStatusPaid
	}
	return decimal.Zero, status
}

// RequestSaleChange records an amendment or deletion request against a
// committed sale. The sale itself is untouched until the audit is approved.
// The pending-audit check and the insert share one transaction with the sale
// row locked, so concurrent requests on the same sale serialize and exactly
// one pending audit can exist at a time.
func RequestSaleChange(ctx context.Context, saleId int, input *SaleAmendment) (*models.AuditRecord, error) {
	if !input.AuditType.Valid() {
		return nil, utils.NewValidationError("audit_type", "must be one of quantity_change, payment_update, deletion")
	}
	if input.Reason == "" {
		return nil, utils.NewValidationError("reason", "is required")
	}
	if input.NewKgQuantity != nil {
		q := utils.Quantize(*input.NewKgQuantity)
		input.NewKgQuantity = &q
	}
	if input.NewAmountPaid != nil {
		q := utils.Quantize(*input.NewAmountPaid)
		input.NewAmountPaid = &q
	}

	db := config.GetDB()
	var audit models.AuditRecord

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sale, err := models.LockSale(tx, saleId)
		if err != nil {
			return err
		}

		pending, err := models.HasPendingAudit(tx, saleId)
		if err != nil {
			return err
		}
		if pending {
			return utils.NewConflictError("sale %d already has a pending audit", saleId)
		}

		old := snapshotSale(sale)
		oldJSON, err := json.Marshal(old)
		if err != nil {
			return err
		}

		audit = models.AuditRecord{
			SaleId:         saleId,
			AuditType:      input.AuditType,
			Reason:         input.Reason,
			OldValues:      string(oldJSON),
			ApprovalStatus: models.ApprovalStatusPending,
		}

		switch input.AuditType {
		case models.AuditTypeDeletion:
			audit.BoxesChange = -sale.BoxesQuantity
			audit.KgChange = sale.KgQuantity.Neg()

		case models.AuditTypeQuantityChange:
			if input.NewBoxesQuantity == nil && input.NewKgQuantity == nil {
				return utils.NewValidationError("quantity", "at least one of new_boxes_quantity or new_kg_quantity is required")
			}
			proposed := old
			if input.NewBoxesQuantity != nil {
				if *input.NewBoxesQuantity < 0 {
					return utils.NewValidationError("new_boxes_quantity", "must not be negative")
				}
				proposed.BoxesQuantity = *input.NewBoxesQuantity
			}
			if input.NewKgQuantity != nil {
				if input.NewKgQuantity.IsNegative() {
					return utils.NewValidationError("new_kg_quantity", "must not be negative")
				}
				proposed.KgQuantity = *input.NewKgQuantity
			}
			if proposed.BoxesQuantity == 0 && !proposed.KgQuantity.IsPositive() {
				return utils.NewValidationError("quantity", "amended sale must keep at least one of boxes or kg above zero")
			}
			proposed.TotalAmount = proposed.BoxPrice.Mul(decimal.NewFromInt(int64(proposed.BoxesQuantity))).
				Add(proposed.KgPrice.Mul(proposed.KgQuantity))
			proposed.RemainingAmount, proposed.PaymentStatus = settleAmounts(proposed.TotalAmount, proposed.AmountPaid, proposed.PaymentStatus)
			newJSON, err := json.Marshal(proposed)
			if err != nil {
				return err
			}
			s := string(newJSON)
			audit.NewValues = &s
			audit.BoxesChange = proposed.BoxesQuantity - sale.BoxesQuantity
			audit.KgChange = proposed.KgQuantity.Sub(sale.KgQuantity)

		case models.AuditTypePaymentUpdate:
			if input.NewPaymentMethod == nil && input.NewPaymentStatus == nil &&
				input.NewAmountPaid == nil && input.NewClientName == nil {
				return utils.NewValidationError("payment", "at least one payment field is required")
			}
			proposed := old
			if input.NewPaymentMethod != nil {
				if !input.NewPaymentMethod.Valid() {
					return utils.NewValidationError("new_payment_method", "must be one of momo_pay, cash, bank_transfer")
				}
				proposed.PaymentMethod = *input.NewPaymentMethod
			}
			if input.NewPaymentStatus != nil {
				if !input.NewPaymentStatus.Valid() {
					return utils.NewValidationError("new_payment_status", "must be one of paid, pending, partial")
				}
				proposed.PaymentStatus = *input.NewPaymentStatus
			}
			if input.NewClientName != nil {
				proposed.ClientName = *input.NewClientName
			}
			switch proposed.PaymentStatus {
			case models.PaymentStatusPaid:
				proposed.AmountPaid = proposed.TotalAmount
			case models.PaymentStatusPending:
				proposed.AmountPaid = decimal.Zero
			case models.PaymentStatusPartial:
				if input.NewAmountPaid != nil {
					proposed.AmountPaid = *input.NewAmountPaid
				}
				if !proposed.AmountPaid.IsPositive() || proposed.AmountPaid.GreaterThanOrEqual(proposed.TotalAmount) {
					return utils.NewValidationError("new_amount_paid", "must be greater than zero and less than the total for partial payment")
				}
			}
			if proposed.PaymentStatus.RequiresClientName() && proposed.ClientName == "" {
				return utils.NewValidationError("new_client_name", "is required for pending or partial payment")
			}
			proposed.RemainingAmount = proposed.TotalAmount.Sub(proposed.AmountPaid)
			newJSON, err := json.Marshal(proposed)
			if err != nil {
				return err
			}
			s := string(newJSON)
			audit.NewValues = &s
		}

		if userId, ok := utils.GetUserIdFromContext(ctx); ok {
			audit.UserId = userId
		}
		if userName, ok := utils.GetUserNameFromContext(ctx); ok {
			audit.PerformedBy = userName
		}

		return tx.Create(&audit).Error
	})
	if err != nil {
		return nil, err
	}
	return &audit, nil
}

// obtainBestEffortLock tries a short distributed lock and returns a release
// func. Redis being down or contended never blocks the operation; the database
// serializes posting regardless.
func obtainBestEffortLock(ctx context.Context, logger *logrus.Logger, key string) func() {
	redisLock := config.GetRedisLock()
	if redisLock == nil {
		return func() {}
	}
	lock, err := redisLock.Obtain(ctx, key, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		logger.WithFields(logrus.Fields{"key": key}).Warn("could not obtain redis lock; proceeding without it")
		return func() {}
	} else if err != nil {
		logger.WithFields(logrus.Fields{"key": key}).Warn("error obtaining redis lock; proceeding without it: " + err.Error())
		return func() {}
	}
	return func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
			logger.WithFields(logrus.Fields{"key": key}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}
