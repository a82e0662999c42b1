package utils

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError is a client-correctable input error. It never reaches the
// allocator; handlers map it to 400.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

type InfeasibilityReason string

const (
	InfeasibilityInsufficientBoxes InfeasibilityReason = "insufficient_boxes"
	InfeasibilityInsufficientSpare InfeasibilityReason = "insufficient_spare_boxes"
)

// InfeasibleError is a business-rule outcome, not a fault: the requested sale
// cannot be covered by current stock. Carries the specific shortfall so the
// caller can suggest a remedy.
type InfeasibleError struct {
	Reason         InfeasibilityReason `json:"reason"`
	BoxesRequested int                 `json:"boxes_requested"`
	BoxesInStock   int                 `json:"boxes_in_stock"`
	BoxesToUnbox   int                 `json:"boxes_to_unbox"`
	SpareBoxes     int                 `json:"spare_boxes"`
	KgShortage     decimal.Decimal     `json:"kg_shortage"`
	Suggestion     string              `json:"suggestion"`
}

func (e *InfeasibleError) Error() string {
	switch e.Reason {
	case InfeasibilityInsufficientBoxes:
		return fmt.Sprintf("insufficient boxes: requested %d, in stock %d", e.BoxesRequested, e.BoxesInStock)
	case InfeasibilityInsufficientSpare:
		return fmt.Sprintf("insufficient spare boxes for unboxing: need %d, spare %d (kg shortage %s)",
			e.BoxesToUnbox, e.SpareBoxes, e.KgShortage.String())
	}
	return "sale is infeasible against current stock"
}

// ConflictError covers retryable races: stock changed between preview and
// commit, audit re-validation failed at approval time, or an already-decided
// audit received the opposite decision.
type ConflictError struct {
	Message string `json:"message"`
}

func (e *ConflictError) Error() string {
	return e.Message
}

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// InvariantViolationError indicates a bug: the ledger no longer reproduces the
// materialized stock. Mutations on the product are blocked until an operator
// reconciles it.
type InvariantViolationError struct {
	ProductId   int             `json:"product_id"`
	ExpectedBox int             `json:"expected_box"`
	ActualBox   int             `json:"actual_box"`
	ExpectedKg  decimal.Decimal `json:"expected_kg"`
	ActualKg    decimal.Decimal `json:"actual_kg"`
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger replay does not reconcile for product %d: ledger {box:%d kg:%s} vs stock {box:%d kg:%s}",
		e.ProductId, e.ExpectedBox, e.ExpectedKg.String(), e.ActualBox, e.ActualKg.String())
}

func IsDuplicateKeyError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
