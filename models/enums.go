package models

import "fmt"

type PaymentMethod string

const (
	PaymentMethodMomoPay      PaymentMethod = "momo_pay"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

var paymentMethods = map[string]PaymentMethod{
	"momo_pay":      PaymentMethodMomoPay,
	"cash":          PaymentMethodCash,
	"bank_transfer": PaymentMethodBankTransfer,
}

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m, ok := paymentMethods[s]
	if !ok {
		return "", fmt.Errorf("invalid payment method %q", s)
	}
	return m, nil
}

func (m PaymentMethod) Valid() bool {
	_, ok := paymentMethods[string(m)]
	return ok
}

type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPartial PaymentStatus = "partial"
)

var paymentStatuses = map[string]PaymentStatus{
	"paid":    PaymentStatusPaid,
	"pending": PaymentStatusPending,
	"partial": PaymentStatusPartial,
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	st, ok := paymentStatuses[s]
	if !ok {
		return "", fmt.Errorf("invalid payment status %q", s)
	}
	return st, nil
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentStatuses[string(s)]
	return ok
}

// RequiresClientName reports whether a sale with this payment status must carry
// a client name. Fully paid sales may be anonymous walk-ins.
func (s PaymentStatus) RequiresClientName() bool {
	return s == PaymentStatusPending || s == PaymentStatusPartial
}

type MovementType string

const (
	MovementTypeDamaged         MovementType = "damaged"
	MovementTypeNewStock        MovementType = "new_stock"
	MovementTypeStockCorrection MovementType = "stock_correction"
	MovementTypeSale            MovementType = "sale"
	MovementTypeUnboxing        MovementType = "unboxing"
)

var movementTypes = map[string]MovementType{
	"damaged":          MovementTypeDamaged,
	"new_stock":        MovementTypeNewStock,
	"stock_correction": MovementTypeStockCorrection,
	"sale":             MovementTypeSale,
	"unboxing":         MovementTypeUnboxing,
}

func ParseMovementType(s string) (MovementType, error) {
	t, ok := movementTypes[s]
	if !ok {
		return "", fmt.Errorf("invalid movement type %q", s)
	}
	return t, nil
}

func (t MovementType) Valid() bool {
	_, ok := movementTypes[string(t)]
	return ok
}

type MovementStatus string

const (
	MovementStatusPending   MovementStatus = "pending"
	MovementStatusCompleted MovementStatus = "completed"
	MovementStatusCancelled MovementStatus = "cancelled"
)

var movementStatuses = map[string]MovementStatus{
	"pending":   MovementStatusPending,
	"completed": MovementStatusCompleted,
	"cancelled": MovementStatusCancelled,
}

func ParseMovementStatus(s string) (MovementStatus, error) {
	st, ok := movementStatuses[s]
	if !ok {
		return "", fmt.Errorf("invalid movement status %q", s)
	}
	return st, nil
}

func (s MovementStatus) Valid() bool {
	_, ok := movementStatuses[string(s)]
	return ok
}

type AuditType string

const (
	AuditTypeQuantityChange AuditType = "quantity_change"
	AuditTypePaymentUpdate  AuditType = "payment_update"
	AuditTypeDeletion       AuditType = "deletion"
)

var auditTypes = map[string]AuditType{
	"quantity_change": AuditTypeQuantityChange,
	"payment_update":  AuditTypePaymentUpdate,
	"deletion":        AuditTypeDeletion,
}

func ParseAuditType(s string) (AuditType, error) {
	t, ok := auditTypes[s]
	if !ok {
		return "", fmt.Errorf("invalid audit type %q", s)
	}
	return t, nil
}

func (t AuditType) Valid() bool {
	_, ok := auditTypes[string(t)]
	return ok
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

var approvalStatuses = map[string]ApprovalStatus{
	"pending":  ApprovalStatusPending,
	"approved": ApprovalStatusApproved,
	"rejected": ApprovalStatusRejected,
}

func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	st, ok := approvalStatuses[s]
	if !ok {
		return "", fmt.Errorf("invalid approval status %q", s)
	}
	return st, nil
}

func (s ApprovalStatus) Valid() bool {
	_, ok := approvalStatuses[string(s)]
	return ok
}

// Decided reports whether the status is terminal.
func (s ApprovalStatus) Decided() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected
}
