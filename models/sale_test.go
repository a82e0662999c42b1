package models

import (
	"errors"
	"testing"

	"bitbucket.org/kivumarket/fishstock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func baseSale() *NewSale {
	return &NewSale{
		ProductId:     1,
		BoxesQuantity: 2,
		KgQuantity:    decimal.RequireFromString("5"),
		BoxPrice:      decimal.RequireFromString("30000"),
		KgPrice:       decimal.RequireFromString("2000"),
		PaymentMethod: PaymentMethodCash,
		PaymentStatus: PaymentStatusPaid,
	}
}

func wantFieldError(t *testing.T, err error, field string) {
	t.Helper()
	var validation *utils.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error on %q, got %v", field, err)
	}
	if validation.Field != field {
		t.Fatalf("expected error on field %q, got %q (%v)", field, validation.Field, err)
	}
}

func TestNewSaleValidate_AnonymousPaidSaleAllowed(t *testing.T) {
	input := baseSale()
	input.ClientName = ""
	if err := input.Validate(); err != nil {
		t.Fatalf("paid walk-in sale without client name must pass: %v", err)
	}
}

func TestNewSaleValidate_ClientNameRequiredForCredit(t *testing.T) {
	for _, status := range []PaymentStatus{PaymentStatusPending, PaymentStatusPartial} {
		input := baseSale()
		input.PaymentStatus = status
		input.ClientName = ""
		if status == PaymentStatusPartial {
			input.AmountPaid = decimal.RequireFromString("1000")
		}
		err := input.Validate()
		wantFieldError(t, err, "client_name")
	}
}

func TestNewSaleValidate_QuantityRules(t *testing.T) {
	input := baseSale()
	input.BoxesQuantity = 0
	input.KgQuantity = decimal.Zero
	wantFieldError(t, input.Validate(), "quantity")

	input = baseSale()
	input.BoxesQuantity = -1
	wantFieldError(t, input.Validate(), "boxes_quantity")

	input = baseSale()
	input.KgQuantity = decimal.RequireFromString("-0.5")
	wantFieldError(t, input.Validate(), "kg_quantity")
}

func TestNewSaleValidate_PartialPaymentBounds(t *testing.T) {
	input := baseSale()
	input.PaymentStatus = PaymentStatusPartial
	input.ClientName = "Mukamana"
	// total = 2*30000 + 5*2000 = 70000

	input.AmountPaid = decimal.Zero
	wantFieldError(t, input.Validate(), "amount_paid")

	input.AmountPaid = decimal.RequireFromString("70000")
	wantFieldError(t, input.Validate(), "amount_paid")

	input.AmountPaid = decimal.RequireFromString("30000")
	if err := input.Validate(); err != nil {
		t.Fatalf("partial payment within bounds must pass: %v", err)
	}
}

func TestNewSaleValidate_QuantizesToStorageScale(t *testing.T) {
	// Values finer than decimal(20,4) are rounded on validation so the stored
	// sale, its ledger deltas and the stock totals all share one scale.
	input := baseSale()
	input.KgQuantity = decimal.RequireFromString("19.99994")
	input.AmountPaid = decimal.RequireFromString("30000.00006")
	input.PaymentStatus = PaymentStatusPartial
	input.ClientName = "Mukamana"
	if err := input.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !input.KgQuantity.Equal(decimal.RequireFromString("19.9999")) {
		t.Fatalf("expected kg rounded to 19.9999, got %s", input.KgQuantity)
	}
	if !input.AmountPaid.Equal(decimal.RequireFromString("30000.0001")) {
		t.Fatalf("expected amount rounded to 30000.0001, got %s", input.AmountPaid)
	}
}

func TestNewSaleValidate_ContactFields(t *testing.T) {
	input := baseSale()
	input.EmailAddress = "not-an-email"
	wantFieldError(t, input.Validate(), "email_address")

	input = baseSale()
	input.Phone = "12"
	wantFieldError(t, input.Validate(), "phone")
}

func TestNotFoundOr_KeepsOtherErrors(t *testing.T) {
	if got := notFoundOr(gorm.ErrRecordNotFound); got != utils.ErrorRecordNotFound {
		t.Fatalf("missing row must map to the shared not-found error, got %v", got)
	}
	dbDown := errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")
	if got := notFoundOr(dbDown); got != dbDown {
		t.Fatalf("transient database error must pass through, got %v", got)
	}
}

func TestNewSalePaidAmount_Normalization(t *testing.T) {
	input := baseSale() // total 70000

	input.PaymentStatus = PaymentStatusPaid
	input.AmountPaid = decimal.RequireFromString("1")
	if !input.PaidAmount().Equal(decimal.RequireFromString("70000")) {
		t.Fatalf("paid sale must settle in full, got %s", input.PaidAmount())
	}

	input.PaymentStatus = PaymentStatusPending
	if !input.PaidAmount().IsZero() {
		t.Fatalf("pending sale must carry zero paid, got %s", input.PaidAmount())
	}

	input.PaymentStatus = PaymentStatusPartial
	input.AmountPaid = decimal.RequireFromString("25000")
	if !input.PaidAmount().Equal(decimal.RequireFromString("25000")) {
		t.Fatalf("partial sale must keep the given amount, got %s", input.PaidAmount())
	}
}
