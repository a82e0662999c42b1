package utils

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

// Default region for phone parsing when the number has no country prefix.
var CountryCode = "RW"

var validate = validator.New()

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func IsValidEmail(email string) bool {
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}
	return nil
}

// Quantize rounds to the storage scale of the decimal(20,4) columns. Every kg
// and money value is quantized on input so ledger deltas and materialized
// stock stay exactly comparable after replay.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(4)
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func TruncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
