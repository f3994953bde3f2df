package repository

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"charted-server/internal/domain"
)

// SchemaMigrationModel はschema_migrationsテーブルのモデル。
type SchemaMigrationModel struct {
	Version   string    `gorm:"column:version;primaryKey;type:varchar(14)"`
	AppliedAt time.Time `gorm:"column:applied_at;not null;autoCreateTime"`
}

// TableName はテーブル名を指定。
func (SchemaMigrationModel) TableName() string {
	return "schema_migrations"
}

// MigrationRepository はスキーマの適用と履歴を管理する。
type MigrationRepository struct {
	db *gorm.DB
}

// NewMigrationRepository は新しいMigrationRepositoryを生成する。
func NewMigrationRepository(db *gorm.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

// EnsureSchema は履歴テーブルが無ければ作成する。
func (r *MigrationRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&SchemaMigrationModel{}); err != nil {
		slog.ErrorContext(ctx, "failed to create schema_migrations",
			"operation", "ensure_schema",
			"error", err,
		)
		return err
	}
	return nil
}

// FindAllApplied は適用済みマイグレーション一覧を取得する。
func (r *MigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var models []SchemaMigrationModel
	if err := r.db.WithContext(ctx).Order("version ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find all applied migrations",
			"operation", "find_all_applied",
			"error", err,
		)
		return nil, err
	}

	migrations := make([]*domain.Migration, len(models))
	for i := range models {
		migrations[i] = &domain.Migration{Version: models[i].Version}
		migrations[i].MarkApplied(&models[i].AppliedAt)
	}
	return migrations, nil
}

// Apply はSQLを実行し、同じトランザクションで適用履歴を記録する。
func (r *MigrationRepository) Apply(ctx context.Context, version, statements string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(statements).Error; err != nil {
			return err
		}
		return tx.Create(&SchemaMigrationModel{Version: version}).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to apply migration",
			"operation", "apply",
			"version", version,
			"error", err,
		)
		return err
	}
	return nil
}
