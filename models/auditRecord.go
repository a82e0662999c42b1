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

// AuditRecord gates every mutation of a committed sale. It transitions exactly
// once from pending to approved or rejected; only an approved record may cause
// the underlying Sale, ProductStock or ledger to change.
type AuditRecord struct {
	ID           int             `gorm:"primary_key" json:"audit_id"`
	SaleId       int             `gorm:"index;not null" json:"sale_id"`
	AuditType    AuditType       `gorm:"size:20;index;not null" json:"audit_type"`
	BoxesChange  int             `gorm:"not null;default:0" json:"boxes_change"`
	KgChange     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"kg_change"`
	Reason       string          `gorm:"type:text;not null" json:"reason"`
	OldValues    string          `gorm:"type:text" json:"old_values"`
	NewValues    *string         `gorm:"type:text" json:"new_values"` // nil for deletion requests
	ApprovalStatus ApprovalStatus `gorm:"size:20;index;not null;default:pending" json:"approval_status"`
	UserId       int             `gorm:"index;not null" json:"user_id"`
	PerformedBy  string          `gorm:"size:100" json:"performed_by"`
	ApprovedBy   *string         `gorm:"size:100" json:"approved_by,omitempty"`
	ApprovalTimestamp *time.Time `json:"approval_timestamp,omitempty"`
	ApprovalReason    *string    `gorm:"type:text" json:"approval_reason,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetAuditRecord(ctx context.Context, id int) (*AuditRecord, error) {
	db := config.GetDB()
	var audit AuditRecord
	if err := db.WithContext(ctx).First(&audit, id).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &audit, nil
}

type AuditFilter struct {
	SaleId         int            `form:"sale_id"`
	AuditType      AuditType      `form:"audit_type"`
	ApprovalStatus ApprovalStatus `form:"approval_status"`
	Limit          int            `form:"limit"`
	Offset         int            `form:"offset"`
}

// ListAuditRecords returns audits pending first, newest within each group.
func ListAuditRecords(ctx context.Context, filter *AuditFilter) ([]*AuditRecord, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&AuditRecord{})
	if filter.SaleId > 0 {
		dbCtx = dbCtx.Where("sale_id = ?", filter.SaleId)
	}
	if filter.AuditType != "" {
		dbCtx = dbCtx.Where("audit_type = ?", filter.AuditType)
	}
	if filter.ApprovalStatus != "" {
		dbCtx = dbCtx.Where("approval_status = ?", filter.ApprovalStatus)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var audits []*AuditRecord
	err := dbCtx.Order("approval_status = 'pending' DESC, created_at DESC").
		Limit(limit).Offset(filter.Offset).Find(&audits).Error
	if err != nil {
		return nil, err
	}
	return audits, nil
}

// LockAuditRecord fetches the row FOR UPDATE inside tx, serializing concurrent
// decisions on the same audit.
func LockAuditRecord(tx *gorm.DB, id int) (*AuditRecord, error) {
	var audit AuditRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&audit, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &audit, nil
}

// HasPendingAudit reports whether the sale already has an undecided audit.
// A second change request is refused until the first is decided. Callers run
// it inside the same transaction that holds the sale row lock and creates the
// audit, so two concurrent requests cannot both observe zero pending.
func HasPendingAudit(tx *gorm.DB, saleId int) (bool, error) {
	var count int64
	err := tx.Model(&AuditRecord{}).
		Where("sale_id = ? AND approval_status = ?", saleId, ApprovalStatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
