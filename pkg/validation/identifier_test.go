package validation

import (
	"testing"
)

func TestValidateProgramID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"simple", "fed-itc-energy", false},
		{"single char", "a", false},
		{"with digits", "ny-solar-2025", false},
		{"underscores", "low_income_bonus", false},

		// Invalid identifiers
		{"empty", "", true},
		{"uppercase", "Fed-ITC", true},
		{"leading hyphen", "-itc", true},
		{"spaces", "fed itc", true},
		{"path traversal", "../etc/passwd", true},
		{"too long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProgramID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProgramID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateGeoKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		// Valid keys
		{"state only", "NY", false},
		{"state and county", "NY|Kings", false},
		{"full key", "NY|Kings|36047", false},
		{"county with space", "CA|San Francisco", false},
		{"tract with dot", "NY|Kings|36047.02", false},

		// Invalid keys
		{"empty", "", true},
		{"path traversal", "NY/../admin", true},
		{"empty part", "NY||36047", true},
		{"leading pipe", "|NY", true},
		{"url metachars", "NY?x=1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeoKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGeoKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeGeoKey(t *testing.T) {
	got, err := SanitizeGeoKey("  NY|Kings  ")
	if err != nil {
		t.Fatalf("SanitizeGeoKey returned error: %v", err)
	}
	if got != "NY|Kings" {
		t.Errorf("SanitizeGeoKey = %q, want %q", got, "NY|Kings")
	}

	if _, err := SanitizeGeoKey("NY/../x"); err == nil {
		t.Error("SanitizeGeoKey accepted a traversal key")
	}
}
