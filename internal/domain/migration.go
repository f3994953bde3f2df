package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// MigrationStatus はマイグレーションの適用状態。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はusersとrepositoriesのスキーマに対する変更1件を表す。
// FilePathはマイグレーションファイル群のルートからの相対パス。
type Migration struct {
	Version   string
	Name      string
	FilePath  string
	Status    MigrationStatus
	AppliedAt *time.Time
}

// NewMigrationFromFile は {version}_{name}.sql 形式のファイル名から未適用のMigrationを生成する。
func NewMigrationFromFile(filePath string) (*Migration, error) {
	base := path.Base(filePath)
	version, name, ok := strings.Cut(strings.TrimSuffix(base, ".sql"), "_")
	if !ok || version == "" || name == "" || path.Ext(base) != ".sql" {
		return nil, fmt.Errorf("%w: %s (expected format: {version}_{name}.sql)", ErrInvalidMigrationFile, base)
	}
	return &Migration{
		Version:  version,
		Name:     name,
		FilePath: filePath,
		Status:   MigrationStatusPending,
	}, nil
}

// MarkApplied は適用済みとして記録する。
func (m *Migration) MarkApplied(at *time.Time) {
	m.Status = MigrationStatusApplied
	m.AppliedAt = at
}

// IsApplied は適用済みかどうかを返す。
func (m *Migration) IsApplied() bool {
	return m.Status == MigrationStatusApplied
}
