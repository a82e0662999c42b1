package workflow

import (
	"errors"
	"strings"
	"testing"

	"bitbucket.org/kivumarket/fishstock_backend/models"
	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/shopspring/decimal"
)

func TestAuditTransition_PendingAcceptsEitherDecision(t *testing.T) {
	for _, decision := range []models.ApprovalStatus{models.ApprovalStatusApproved, models.ApprovalStatusRejected} {
		apply, err := auditTransition(models.ApprovalStatusPending, decision)
		if err != nil {
			t.Fatalf("pending -> %s: %v", decision, err)
		}
		if !apply {
			t.Fatalf("pending -> %s: expected apply", decision)
		}
	}
}

func TestAuditTransition_RepeatedDecisionIsIdempotent(t *testing.T) {
	apply, err := auditTransition(models.ApprovalStatusApproved, models.ApprovalStatusApproved)
	if err != nil {
		t.Fatalf("approved -> approved: %v", err)
	}
	if apply {
		t.Fatalf("repeated decision must be a no-op, not a re-apply")
	}
}

func TestAuditTransition_DecidedIsTerminal(t *testing.T) {
	cases := []struct {
		current, requested models.ApprovalStatus
	}{
		{models.ApprovalStatusApproved, models.ApprovalStatusRejected},
		{models.ApprovalStatusRejected, models.ApprovalStatusApproved},
	}
	for _, tc := range cases {
		_, err := auditTransition(tc.current, tc.requested)
		var conflict *utils.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("%s -> %s: expected conflict, got %v", tc.current, tc.requested, err)
		}
	}
}

func TestValidateApprovalReason_CountsRunesNotBytes(t *testing.T) {
	if err := validateApprovalReason(""); err == nil {
		t.Fatalf("expected error for empty reason")
	}

	// 500 three-byte runes is 1500 bytes but exactly the character limit.
	long := strings.Repeat("あ", 500)
	if err := validateApprovalReason(long); err != nil {
		t.Fatalf("500-character reason must pass: %v", err)
	}
	if err := validateApprovalReason(long + "あ"); err == nil {
		t.Fatalf("expected error for 501-character reason")
	}
	if err := validateApprovalReason(strings.Repeat("a", 500)); err != nil {
		t.Fatalf("500 ASCII characters must pass: %v", err)
	}
}

func TestSettleAmounts_ClampsOverpayment(t *testing.T) {
	total := decimal.RequireFromString("50000")

	// Normal case: paid below the new total keeps the status and the balance.
	remaining, status := settleAmounts(total, decimal.RequireFromString("20000"), models.PaymentStatusPartial)
	if !remaining.Equal(decimal.RequireFromString("30000")) {
		t.Fatalf("expected remaining 30000, got %s", remaining)
	}
	if status != models.PaymentStatusPartial {
		t.Fatalf("expected status partial, got %s", status)
	}

	// Quantity reduced below what was already paid: nothing further is owed
	// and the sale settles as paid.
	remaining, status = settleAmounts(total, decimal.RequireFromString("60000"), models.PaymentStatusPartial)
	if !remaining.IsZero() {
		t.Fatalf("expected zero remaining on overpayment, got %s", remaining)
	}
	if status != models.PaymentStatusPaid {
		t.Fatalf("expected status paid on overpayment, got %s", status)
	}

	// Exact settlement also closes the balance.
	remaining, status = settleAmounts(total, total, models.PaymentStatusPartial)
	if !remaining.IsZero() || status != models.PaymentStatusPaid {
		t.Fatalf("expected settled sale, got remaining=%s status=%s", remaining, status)
	}

	// Nothing paid on a pending sale stays pending with the full balance.
	remaining, status = settleAmounts(total, decimal.Zero, models.PaymentStatusPending)
	if !remaining.Equal(total) || status != models.PaymentStatusPending {
		t.Fatalf("expected untouched pending sale, got remaining=%s status=%s", remaining, status)
	}
}

func TestAuditTransition_RejectsInvalidDecision(t *testing.T) {
	_, err := auditTransition(models.ApprovalStatusPending, models.ApprovalStatusPending)
	var validation *utils.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for pending decision, got %v", err)
	}
	_, err = auditTransition(models.ApprovalStatusPending, models.ApprovalStatus("maybe"))
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for unknown decision, got %v", err)
	}
}
