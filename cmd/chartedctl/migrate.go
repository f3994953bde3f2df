package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"charted-server/config"
	"charted-server/internal/domain"
	"charted-server/internal/infra"
	"charted-server/internal/repository"
	"charted-server/internal/usecase"
	"charted-server/migrations"
)

// migrateCmd はデータベースマイグレーションを管理するコマンド。
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  "Manage the users and repositories schema used by charted-server",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

// newMigrationService は設定からMigrationServiceを組み立てる。
// MIGRATIONS_DIRが設定されていればそのディレクトリを、無ければ埋め込みのSQLを使う。
func newMigrationService() (*usecase.MigrationService, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// データベース接続
	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var files fs.FS = migrations.FS
	if cfg.MigrationsDir != "" {
		absPath, err := filepath.Abs(cfg.MigrationsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve migrations directory: %w", err)
		}
		files = os.DirFS(absPath)
	}

	return usecase.NewMigrationService(repository.NewMigrationRepository(db), files), nil
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Long:  "Apply all pending migrations to the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newMigrationService()
			if err != nil {
				return err
			}

			appliedCount, err := service.ApplyMigrations(context.Background())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			if appliedCount == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", appliedCount)
			}
			return nil
		},
	}
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long:  "Show the status of all migrations (applied/pending)",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newMigrationService()
			if err != nil {
				return err
			}

			list, err := service.GetMigrationStatus(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			return printMigrations(cmd.OutOrStdout(), list)
		},
	}
}

// printMigrations はマイグレーションの一覧をテーブル形式で出力する。
func printMigrations(out io.Writer, list []*domain.Migration) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	fmt.Fprintln(w, "-------\t----\t------\t----------")

	for _, migration := range list {
		appliedAt := "-"
		if migration.AppliedAt != nil {
			appliedAt = migration.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", migration.Version, migration.Name, migration.Status, appliedAt)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}
