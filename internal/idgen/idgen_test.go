package idgen

import (
	"strings"
	"testing"
)

func TestNew_Format(t *testing.T) {
	id := New()
	if len(id) != 36 {
		t.Fatalf("expected 36 chars, got %d (%q)", len(id), id)
	}
	if strings.Count(id, "-") != 4 {
		t.Fatalf("expected 4 dashes in %q", id)
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("conf_")
	if !strings.HasPrefix(id, "conf_") {
		t.Fatalf("expected conf_ prefix, got %q", id)
	}
	if len(id) != len("conf_")+24 {
		t.Fatalf("expected 24 hex chars after prefix, got %q", id)
	}
}

func TestOTP_SixDigits(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := OTP()
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in OTP %q", code)
			}
		}
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
