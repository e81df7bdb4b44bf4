package site

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"valid", "store-01.example.com", "store-01.example.com", false},
		{"uppercase normalized", "Store-01.Example.COM", "store-01.example.com", false},
		{"padded", "  store-01.example.com  ", "store-01.example.com", false},
		{"empty", "", "", true},
		{"255 chars", strings.Repeat("a", 255), strings.Repeat("a", 255), false},
		{"256 chars", strings.Repeat("a", 256), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateDomain(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDomain(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && tt.wantErr && !errors.Is(err, ErrDomainLength) {
				t.Errorf("ValidateDomain(%q) error = %v, want ErrDomainLength", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateDomain(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"valid", "Store 01", "Store 01", false},
		{"padded", "  Store 01  ", "Store 01", false},
		{"200 chars", strings.Repeat("a", 200), strings.Repeat("a", 200), false},
		{"201 chars", strings.Repeat("a", 201), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateDisplayName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && tt.wantErr && !errors.Is(err, ErrDisplayNameLen) {
				t.Errorf("ValidateDisplayName(%q) error = %v, want ErrDisplayNameLen", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateDisplayName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
