// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"charted-server/internal/domain"
)

// UserModel はgorm用のモデル定義。
type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"type:varchar(32);not null;uniqueIndex:uk_username"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) toDomain() *domain.User {
	return &domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

// RepositoryModel はチャートリポジトリのgorm用モデル定義。
type RepositoryModel struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	OwnerID int64  `gorm:"not null;index:idx_owner_id"`
	Name    string `gorm:"type:varchar(64);not null"`
	Private bool   `gorm:"not null;default:false"`
}

// TableName はテーブル名を返す。
func (RepositoryModel) TableName() string {
	return "repositories"
}

// UserRepository はユーザーとリポジトリの参照を提供する。
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository は新しいUserRepositoryを生成する。
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsername はユーザー名でユーザーを取得する。存在しない場合はnilを返す。
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find user by username",
			"operation", "find_by_username",
			"username", username,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindByID はIDでユーザーを取得する。存在しない場合はnilを返す。
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find user by id",
			"operation", "find_by_id",
			"user_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindRepositoryOwner はリポジトリの所有者IDを取得する。
func (r *UserRepository) FindRepositoryOwner(ctx context.Context, repositoryID int64) (int64, error) {
	var model RepositoryModel
	err := r.db.WithContext(ctx).
		Select("id", "owner_id").
		First(&model, repositoryID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, domain.ErrRepositoryNotFound
		}
		slog.ErrorContext(ctx, "failed to find repository owner",
			"operation", "find_repository_owner",
			"repository_id", repositoryID,
			"error", err,
		)
		return 0, err
	}
	return model.OwnerID, nil
}
