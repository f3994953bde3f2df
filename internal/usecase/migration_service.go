package usecase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"

	"charted-server/internal/domain"
)

// MigrationRepository はスキーマ適用と履歴のインターフェース。
type MigrationRepository interface {
	EnsureSchema(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	Apply(ctx context.Context, version, statements string) error
}

// MigrationService はusersとrepositoriesのスキーマを管理する。
type MigrationService struct {
	repo  MigrationRepository
	files fs.FS
}

// NewMigrationService は新しいMigrationServiceを生成する。filesのルートにある.sqlファイルを対象とする。
func NewMigrationService(repo MigrationRepository, files fs.FS) *MigrationService {
	return &MigrationService{repo: repo, files: files}
}

// scan はマイグレーションファイルをバージョン順に返す。
func (s *MigrationService) scan() ([]*domain.Migration, error) {
	entries, err := fs.ReadDir(s.files, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var migrations []*domain.Migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		m, err := domain.NewMigrationFromFile(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[m.Version]; ok {
			return nil, fmt.Errorf("%w: version %s used by %s and %s", domain.ErrInvalidMigrationFile, m.Version, prev, entry.Name())
		}
		seen[m.Version] = entry.Name()
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// status は各ファイルに適用状態を設定して返す。
func (s *MigrationService) status(ctx context.Context) ([]*domain.Migration, error) {
	migrations, err := s.scan()
	if err != nil {
		return nil, err
	}
	if err := s.repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("preparing schema_migrations: %w", err)
	}
	applied, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching applied migrations: %w", err)
	}

	byVersion := make(map[string]*domain.Migration, len(applied))
	for _, m := range applied {
		byVersion[m.Version] = m
	}
	for _, m := range migrations {
		if a, ok := byVersion[m.Version]; ok {
			m.MarkApplied(a.AppliedAt)
		}
	}
	return migrations, nil
}

// ApplyMigrations は未適用のマイグレーションをバージョン順に適用し、適用した件数を返す。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	migrations, err := s.status(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load migrations",
			"operation", "apply_migrations",
			"error", err,
		)
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.IsApplied() {
			continue
		}
		statements, err := fs.ReadFile(s.files, m.FilePath)
		if err != nil {
			return applied, fmt.Errorf("%w: %s", domain.ErrMigrationFileNotFound, m.FilePath)
		}
		if err := s.repo.Apply(ctx, m.Version, string(statements)); err != nil {
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, m.Version, err)
		}
		slog.InfoContext(ctx, "migration applied",
			"version", m.Version,
			"name", m.Name,
		)
		applied++
	}
	return applied, nil
}

// GetMigrationStatus は現在のマイグレーション状況を取得する。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	return s.status(ctx)
}
