package validation

import (
	"errors"
	"testing"

	"github.com/mmeshcher/holidayd/internal/model"
)

func TestIsValidPromoCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "letters and digits",
			code:  "AGENT2026",
			valid: true,
		},
		{
			name:  "with dash",
			code:  "HS-COLOMBO",
			valid: true,
		},
		{
			name:  "lowercase",
			code:  "agent2026",
			valid: false,
		},
		{
			name:  "too short",
			code:  "AB1",
			valid: false,
		},
		{
			name:  "leading dash",
			code:  "-AGENT",
			valid: false,
		},
		{
			name:  "empty string",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidPromoCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidPromoCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestIsValidEmail(t *testing.T) {
	if !IsValidEmail("guide@holidaysri.lk") {
		t.Fatalf("expected plain address to be valid")
	}
	if IsValidEmail("Guide <guide@holidaysri.lk>") {
		t.Fatalf("display-name form must be rejected")
	}
	if IsValidEmail("not-an-email") {
		t.Fatalf("expected invalid address")
	}
}

func TestPositiveTokens(t *testing.T) {
	if err := PositiveTokens(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range []model.Tokens{0, -100} {
		err := PositiveTokens(v)
		if !errors.Is(err, model.ErrInvalidAmount) {
			t.Fatalf("PositiveTokens(%d) error = %v, want ErrInvalidAmount", v, err)
		}
	}
}

func TestPage(t *testing.T) {
	limit, offset := Page(0, -5)
	if limit != defaultPageSize || offset != 0 {
		t.Fatalf("Page(0, -5) = %d, %d", limit, offset)
	}
	limit, _ = Page(1000, 0)
	if limit != maxPageSize {
		t.Fatalf("limit = %d, want %d", limit, maxPageSize)
	}
}

func TestUniqueIDs(t *testing.T) {
	ids, err := UniqueIDs([]int64{3, 1, 3, 2, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{3, 1, 2}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}

	if _, err := UniqueIDs([]int64{1, 0}); err == nil {
		t.Fatalf("expected error for zero id")
	}
}
