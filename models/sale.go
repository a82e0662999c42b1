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

// Sale is immutable once committed; quantity and payment fields change only
// through an approved AuditRecord, and deletion is a soft delete applied the
// same way.
type Sale struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ProductId       int             `gorm:"index;not null" json:"product_id"`
	Product         *ProductStock   `gorm:"foreignKey:ProductId" json:"product,omitempty"`
	BoxesQuantity   int             `gorm:"not null;default:0" json:"boxes_quantity"`
	KgQuantity      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"kg_quantity"`
	BoxPrice        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"box_price"`
	KgPrice         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"kg_price"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	AmountPaid      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_paid"`
	RemainingAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remaining_amount"`
	PaymentMethod   PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	PaymentStatus   PaymentStatus   `gorm:"size:20;index;not null" json:"payment_status"`
	ClientName      string          `gorm:"size:100" json:"client_name"`
	EmailAddress    string          `gorm:"size:100" json:"email_address"`
	Phone           string          `gorm:"size:30" json:"phone"`
	BoxesUnboxed    int             `gorm:"not null;default:0" json:"boxes_unboxed"`
	DateTime        time.Time       `gorm:"index;not null" json:"date_time"`
	UserId          int             `gorm:"index;not null" json:"user_id"`
	PerformedBy     string          `gorm:"size:100" json:"performed_by"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}

// NewSale is the ephemeral sale request; nothing is persisted until commit.
type NewSale struct {
	ProductId     int             `json:"product_id" binding:"required"`
	BoxesQuantity int             `json:"boxes_quantity"`
	KgQuantity    decimal.Decimal `json:"kg_quantity"`
	BoxPrice      decimal.Decimal `json:"box_price"`
	KgPrice       decimal.Decimal `json:"kg_price"`
	PaymentMethod PaymentMethod   `json:"payment_method" binding:"required"`
	PaymentStatus PaymentStatus   `json:"payment_status" binding:"required"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	ClientName    string          `json:"client_name"`
	EmailAddress  string          `json:"email_address"`
	Phone         string          `json:"phone"`
}

// TotalAmount prices the request: box price applies per box, kg price per kg.
func (input *NewSale) TotalAmount() decimal.Decimal {
	boxes := input.BoxPrice.Mul(decimal.NewFromInt(int64(input.BoxesQuantity)))
	return boxes.Add(input.KgPrice.Mul(input.KgQuantity))
}

func (input *NewSale) Validate() error {
	// Normalize to the storage scale first so every downstream figure (plan,
	// ledger deltas, totals) is exactly representable in decimal(20,4).
	input.KgQuantity = utils.Quantize(input.KgQuantity)
	input.BoxPrice = utils.Quantize(input.BoxPrice)
	input.KgPrice = utils.Quantize(input.KgPrice)
	input.AmountPaid = utils.Quantize(input.AmountPaid)

	if input.ProductId <= 0 {
		return utils.NewValidationError("product_id", "is required")
	}
	if input.BoxesQuantity < 0 {
		return utils.NewValidationError("boxes_quantity", "must not be negative")
	}
	if input.KgQuantity.IsNegative() {
		return utils.NewValidationError("kg_quantity", "must not be negative")
	}
	if input.BoxesQuantity == 0 && !input.KgQuantity.IsPositive() {
		return utils.NewValidationError("quantity", "at least one of boxes_quantity or kg_quantity must be greater than zero")
	}
	if input.BoxPrice.IsNegative() {
		return utils.NewValidationError("box_price", "must not be negative")
	}
	if input.KgPrice.IsNegative() {
		return utils.NewValidationError("kg_price", "must not be negative")
	}
	if !input.PaymentMethod.Valid() {
		return utils.NewValidationError("payment_method", "must be one of momo_pay, cash, bank_transfer")
	}
	if !input.PaymentStatus.Valid() {
		return utils.NewValidationError("payment_status", "must be one of paid, pending, partial")
	}
	if input.PaymentStatus.RequiresClientName() && input.ClientName == "" {
		return utils.NewValidationError("client_name", "is required for pending or partial payment")
	}
	if input.EmailAddress != "" && !utils.IsValidEmail(input.EmailAddress) {
		return utils.NewValidationError("email_address", "is not a valid email address")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.NewValidationError("phone", "is not a valid phone number")
		}
	}

	total := input.TotalAmount()
	switch input.PaymentStatus {
	case PaymentStatusPartial:
		if !input.AmountPaid.IsPositive() {
			return utils.NewValidationError("amount_paid", "must be greater than zero for partial payment")
		}
		if input.AmountPaid.GreaterThanOrEqual(total) {
			return utils.NewValidationError("amount_paid", "must be less than the total for partial payment")
		}
	default:
		if input.AmountPaid.IsNegative() {
			return utils.NewValidationError("amount_paid", "must not be negative")
		}
	}
	return nil
}

// PaidAmount normalizes amount_paid from the payment status: paid sales are
// settled in full, pending sales carry nothing, partial keeps the given value.
func (input *NewSale) PaidAmount() decimal.Decimal {
	switch input.PaymentStatus {
	case PaymentStatusPaid:
		return input.TotalAmount()
	case PaymentStatusPending:
		return decimal.Zero
	default:
		return input.AmountPaid
	}
}

// notFoundOr translates a missing row into the shared not-found error and
// passes every other database error through untouched.
func notFoundOr(err error) error {
	if err == gorm.ErrRecordNotFound {
		return utils.ErrorRecordNotFound
	}
	return err
}

func GetSale(ctx context.Context, id int) (*Sale, error) {
	db := config.GetDB()
	var sale Sale
	if err := db.WithContext(ctx).Preload("Product").First(&sale, id).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &sale, nil
}

type SaleFilter struct {
	ProductId     int           `form:"product_id"`
	PaymentStatus PaymentStatus `form:"payment_status"`
	Limit         int           `form:"limit"`
	Offset        int           `form:"offset"`
}

func ListSales(ctx context.Context, filter *SaleFilter) ([]*Sale, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Sale{})
	if filter.ProductId > 0 {
		dbCtx = dbCtx.Where("product_id = ?", filter.ProductId)
	}
	if filter.PaymentStatus != "" {
		dbCtx = dbCtx.Where("payment_status = ?", filter.PaymentStatus)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var sales []*Sale
	err := dbCtx.Order("date_time DESC").Limit(limit).Offset(filter.Offset).Find(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}

// LockSale fetches the sale FOR UPDATE inside tx.
func LockSale(tx *gorm.DB, id int) (*Sale, error) {
	var sale Sale
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sale, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &sale, nil
}
