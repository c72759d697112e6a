package mysql

import (
	"errors"
	"testing"
)

func TestSanitizeTableName(t *testing.T) {
	valid := []string{"beacon_buffer", "telemetry.beacon_buffer", "BUFFER_1"}
	for _, name := range valid {
		if _, err := sanitizeTableName(name); err != nil {
			t.Fatalf("expected valid name %q: %v", name, err)
		}
	}

	invalid := []string{"buffer;drop", "buffer-1", "schema..buffer", "schema.buffer;"}
	for _, name := range invalid {
		if _, err := sanitizeTableName(name); !errors.Is(err, ErrInvalidTableName) {
			t.Fatalf("expected invalid name %q, got %v", name, err)
		}
	}

	if _, err := sanitizeTableName(""); !errors.Is(err, ErrTableNameRequired) {
		t.Fatalf("expected ErrTableNameRequired, got %v", err)
	}
}
