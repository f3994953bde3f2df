package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewMigrationFromFile(t *testing.T) {
	m, err := NewMigrationFromFile("001_create_users.sql")
	if err != nil {
		t.Fatalf("NewMigrationFromFile failed: %v", err)
	}
	if m.Version != "001" || m.Name != "create_users" || m.FilePath != "001_create_users.sql" {
		t.Errorf("unexpected migration: %+v", m)
	}
	if m.IsApplied() || m.AppliedAt != nil {
		t.Error("want new migration pending")
	}

	at := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	m.MarkApplied(&at)
	if !m.IsApplied() || !m.AppliedAt.Equal(at) {
		t.Errorf("want applied at %v, got %+v", at, m)
	}
}

func TestNewMigrationFromFile_Invalid(t *testing.T) {
	for _, name := range []string{"001.sql", "_users.sql", "001_.sql", "001_users.txt"} {
		if _, err := NewMigrationFromFile(name); !errors.Is(err, ErrInvalidMigrationFile) {
			t.Errorf("%s: want ErrInvalidMigrationFile, got %v", name, err)
		}
	}
}
