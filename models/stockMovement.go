package models

import (
	"context"
	"time"

	"bitbucket.org/kivumarket/fishstock_backend/config"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockMovement is the append-only ledger: one row per inventory delta, each
// traceable to its cause. Rows are never updated after creation; replaying all
// completed rows for a product in creation order reproduces ProductStock.
type StockMovement struct {
	ID           string          `gorm:"size:36;primary_key" json:"movement_id"` // uuid
	ProductId    int             `gorm:"index:idx_movement_product_created,priority:1;not null" json:"product_id"`
	MovementType MovementType    `gorm:"size:20;index;not null" json:"movement_type"`
	BoxChange    int             `gorm:"not null" json:"box_change"`
	KgChange     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"kg_change"`
	SaleId       *int            `gorm:"index" json:"sale_id,omitempty"`
	AuditId      *int            `gorm:"index" json:"audit_id,omitempty"`
	Reason       string          `gorm:"type:text" json:"reason"`
	Status       MovementStatus  `gorm:"size:20;index;not null" json:"status"`
	UserId       int             `gorm:"index;not null" json:"user_id"`
	PerformedBy  string          `gorm:"size:100" json:"performed_by"`
	// Seq orders replay deterministically even when CreatedAt collides.
	Seq           int       `gorm:"autoIncrement;uniqueIndex" json:"seq"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_movement_product_created,priority:2" json:"created_at"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
}

// InsertStockMovement appends a ledger row inside tx. The id and audit fields
// are filled here so callers only describe the delta and its cause.
func InsertStockMovement(tx *gorm.DB, m *StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MovementStatusCompleted
	}
	ctx := tx.Statement.Context
	if ctx != nil {
		if userId, ok := utils.GetUserIdFromContext(ctx); ok {
			m.UserId = userId
		}
		if userName, ok := utils.GetUserNameFromContext(ctx); ok && m.PerformedBy == "" {
			m.PerformedBy = userName
		}
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && m.CorrelationId == "" {
			m.CorrelationId = cid
		}
	}
	return tx.Create(m).Error
}

type MovementFilter struct {
	ProductId    int            `form:"product_id"`
	MovementType MovementType   `form:"movement_type"`
	Status       MovementStatus `form:"status"`
	Limit        int            `form:"limit"`
	Offset       int            `form:"offset"`
}

// ListStockMovements returns ledger rows newest first. The ledger is read-only
// through this surface; nothing is ever edited after creation.
func ListStockMovements(ctx context.Context, filter *MovementFilter) ([]*StockMovement, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&StockMovement{})
	if filter.ProductId > 0 {
		dbCtx = dbCtx.Where("product_id = ?", filter.ProductId)
	}
	if filter.MovementType != "" {
		dbCtx = dbCtx.Where("movement_type = ?", filter.MovementType)
	}
	if filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var movements []*StockMovement
	err := dbCtx.Order("seq DESC").Limit(limit).Offset(filter.Offset).Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// FetchMovementsForReplay returns every ledger row for a product in creation
// order, including cancelled rows (replay skips them itself).
func FetchMovementsForReplay(tx *gorm.DB, productId int) ([]*StockMovement, error) {
	var movements []*StockMovement
	err := tx.Where("product_id = ?", productId).Order("seq ASC").Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}
