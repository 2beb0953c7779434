package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "valid.csv")
	if err := os.WriteFile(validFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name        string
		filePath    string
		expectError bool
	}{
		{"valid file", validFile, false},
		{"empty path", "", true},
		{"non-existent file", "/non/existent/file.csv", true},
		{"directory instead of file", tmpDir, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "test file")

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateReconcileFlags(t *testing.T) {
	tmpDir := t.TempDir()
	gateway := filepath.Join(tmpDir, "payouts.csv")
	bank := filepath.Join(tmpDir, "statements.csv")

	header := "id,amount,currency,date,description,reference\n"
	if err := os.WriteFile(gateway, []byte(header+"gw-1,100.00,USD,2026-01-15,payout,REF-1"), 0644); err != nil {
		t.Fatalf("failed to create gateway file: %v", err)
	}
	if err := os.WriteFile(bank, []byte(header+"bk-1,100.00,USD,2026-01-15,deposit,REF-1"), 0644); err != nil {
		t.Fatalf("failed to create bank file: %v", err)
	}

	tests := []struct {
		name        string
		settings    map[string]interface{}
		expectError bool
	}{
		{
			name: "valid flags",
			settings: map[string]interface{}{
				"gateway-file": gateway, "bank-file": bank, "org": "acme",
				"output-format": "console",
			},
			expectError: false,
		},
		{
			name: "missing org",
			settings: map[string]interface{}{
				"gateway-file": gateway, "bank-file": bank,
				"output-format": "console",
			},
			expectError: true,
		},
		{
			name: "bad output format",
			settings: map[string]interface{}{
				"gateway-file": gateway, "bank-file": bank, "org": "acme",
				"output-format": "xml",
			},
			expectError: true,
		},
		{
			name: "amount tolerance out of range",
			settings: map[string]interface{}{
				"gateway-file": gateway, "bank-file": bank, "org": "acme",
				"output-format": "console", "amount-tolerance": 150.0,
			},
			expectError: true,
		},
		{
			name: "negative date window",
			settings: map[string]interface{}{
				"gateway-file": gateway, "bank-file": bank, "org": "acme",
				"output-format": "console", "date-window": -1,
			},
			expectError: true,
		},
		{
			name: "missing gateway file",
			settings: map[string]interface{}{
				"gateway-file": filepath.Join(tmpDir, "absent.csv"), "bank-file": bank,
				"org": "acme", "output-format": "console",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			for key, value := range tt.settings {
				viper.Set(key, value)
			}

			err := validateReconcileFlags(reconcileCmd, nil)

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
