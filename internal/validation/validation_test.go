package validation

import "testing"

func TestIsValidAccountID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"1234567890", true},
		{"0000000001", true},
		{"123456789", false},   // too short
		{"12345678901", false}, // too long
		{"12345abcde", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidAccountID(tt.id); got != tt.want {
			t.Errorf("IsValidAccountID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestIsValidCurrencyCode(t *testing.T) {
	for code, want := range map[string]bool{
		"USD": true, "EUR": true, "GBP": true,
		"usd": false, "US": false, "USDX": false, "": false,
	} {
		if got := IsValidCurrencyCode(code); got != want {
			t.Errorf("IsValidCurrencyCode(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestIsValidOTP(t *testing.T) {
	for code, want := range map[string]bool{
		"123456": true, "000000": true,
		"12345": false, "1234567": false, "12345a": false, "": false,
	} {
		if got := IsValidOTP(code); got != want {
			t.Errorf("IsValidOTP(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("expected helloworld, got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("account_id", ""),
		ValidAccountID("recipient", "nope"),
		PositiveCents("amount_cents", -5),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestValidate_AllPass(t *testing.T) {
	errs := Validate(
		Required("account_id", "1234567890"),
		ValidAccountID("account_id", "1234567890"),
		PositiveCents("amount_cents", 1500),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}
