package validation

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{
			name:  "uuid",
			id:    "7b0f2f3e-6c8d-4d1e-9a0b-2f0c5a3e8d11",
			valid: true,
		},
		{
			name:  "not a uuid",
			id:    "order-1",
			valid: false,
		},
		{
			name:  "empty string",
			id:    "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidID(tt.id)
			if got != tt.valid {
				t.Fatalf("IsValidID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestIsValidAmount(t *testing.T) {
	tests := []struct {
		amount string
		valid  bool
	}{
		{"100", true},
		{"0.01", true},
		{"12.345", false},
		{"0", false},
		{"-5", false},
	}

	for _, tt := range tests {
		got := IsValidAmount(decimal.RequireFromString(tt.amount))
		if got != tt.valid {
			t.Fatalf("IsValidAmount(%s) = %v, want %v", tt.amount, got, tt.valid)
		}
	}
}

func TestIsValidRating(t *testing.T) {
	for r := 0; r <= 6; r++ {
		want := r >= 1 && r <= 5
		if got := IsValidRating(r); got != want {
			t.Fatalf("IsValidRating(%d) = %v, want %v", r, got, want)
		}
	}
}

func TestIsValidText(t *testing.T) {
	if IsValidText("   ", 10) {
		t.Fatal("blank text must be invalid")
	}
	if !IsValidText("привет", 6) {
		t.Fatal("length must be counted in runes")
	}
	if IsValidText(strings.Repeat("a", 11), 10) {
		t.Fatal("too long text must be invalid")
	}
	if !IsValidOptionalText("", 10) {
		t.Fatal("empty optional text must be valid")
	}
}

func TestIsValidFilename(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"report.pdf", true},
		{"../etc/passwd", false},
		{`dir\file`, false},
		{"..", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidFilename(tt.name); got != tt.valid {
			t.Fatalf("IsValidFilename(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}
