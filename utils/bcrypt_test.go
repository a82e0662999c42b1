package utils

import "testing"

func TestHashPassword_RoundTrip(t *testing.T) {
	hashed, err := HashPassword("k1vu-fish!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hashed == "k1vu-fish!" {
		t.Fatalf("hash must not equal the plain password")
	}
	if err := ComparePassword(hashed, "k1vu-fish!"); err != nil {
		t.Fatalf("ComparePassword on matching password: %v", err)
	}
	if err := ComparePassword(hashed, "wrong"); err == nil {
		t.Fatalf("expected mismatch error for wrong password")
	}
}
