package usecase

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"charted-server/internal/domain"
)

// mockMigrationRepository はテスト用のモック。
type mockMigrationRepository struct {
	appliedMigrations map[string]*domain.Migration
	executed          []string
	applyErr          map[string]error
	ensureErr         error
}

func newMockMigrationRepository() *mockMigrationRepository {
	return &mockMigrationRepository{
		appliedMigrations: make(map[string]*domain.Migration),
		applyErr:          make(map[string]error),
	}
}

func (m *mockMigrationRepository) EnsureSchema(ctx context.Context) error {
	return m.ensureErr
}

func (m *mockMigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var result []*domain.Migration
	for _, migration := range m.appliedMigrations {
		result = append(result, migration)
	}
	return result, nil
}

func (m *mockMigrationRepository) Apply(ctx context.Context, version, statements string) error {
	if err := m.applyErr[version]; err != nil {
		return err
	}
	now := time.Now()
	m.appliedMigrations[version] = &domain.Migration{
		Version:   version,
		AppliedAt: &now,
		Status:    domain.MigrationStatusApplied,
	}
	m.executed = append(m.executed, statements)
	return nil
}

func (m *mockMigrationRepository) markApplied(versions ...string) {
	now := time.Now()
	for _, v := range versions {
		m.appliedMigrations[v] = &domain.Migration{Version: v, AppliedAt: &now, Status: domain.MigrationStatusApplied}
	}
}

// testMigrationFiles はテスト用のマイグレーションファイル。
func testMigrationFiles() fstest.MapFS {
	return fstest.MapFS{
		"002_create_repositories.sql": {Data: []byte("CREATE TABLE repositories (id INT);")},
		"001_create_users.sql":        {Data: []byte("CREATE TABLE users (id INT);")},
		"003_add_index.sql":           {Data: []byte("CREATE INDEX idx ON repositories (id);")},
		"README.md":                   {Data: []byte("not a migration")},
	}
}

func TestMigrationService_ApplyMigrations(t *testing.T) {
	ctx := context.Background()
	repo := newMockMigrationRepository()
	service := NewMigrationService(repo, testMigrationFiles())

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 migrations applied, got %d", count)
	}

	// バージョン順に実行される
	want := []string{
		"CREATE TABLE users (id INT);",
		"CREATE TABLE repositories (id INT);",
		"CREATE INDEX idx ON repositories (id);",
	}
	for i, stmt := range want {
		if i >= len(repo.executed) || repo.executed[i] != stmt {
			t.Errorf("statement %d: want %q, got %v", i, stmt, repo.executed)
		}
	}

	// 2回目は何もしない
	count, err = service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected 0 migrations on second run, got %d", count)
	}
}

func TestMigrationService_ApplyMigrations_AlreadyApplied(t *testing.T) {
	repo := newMockMigrationRepository()
	repo.markApplied("001", "002")
	service := NewMigrationService(repo, testMigrationFiles())

	count, err := service.ApplyMigrations(context.Background())
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 migration applied, got %d", count)
	}
}

func TestMigrationService_ApplyMigrations_Error(t *testing.T) {
	repo := newMockMigrationRepository()
	repo.applyErr["002"] = errors.New("syntax error")
	service := NewMigrationService(repo, testMigrationFiles())

	count, err := service.ApplyMigrations(context.Background())
	if !errors.Is(err, domain.ErrMigrationFailed) {
		t.Errorf("want ErrMigrationFailed, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 migration applied before failure, got %d", count)
	}
	if _, ok := repo.appliedMigrations["003"]; ok {
		t.Error("expected later migrations to be skipped")
	}
}

func TestMigrationService_InvalidFileName(t *testing.T) {
	files := fstest.MapFS{"create_users.sql": {Data: []byte("SELECT 1;")}}
	service := NewMigrationService(newMockMigrationRepository(), files)

	if _, err := service.ApplyMigrations(context.Background()); !errors.Is(err, domain.ErrInvalidMigrationFile) {
		t.Errorf("want ErrInvalidMigrationFile, got %v", err)
	}
}

func TestMigrationService_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 2;")},
	}
	service := NewMigrationService(newMockMigrationRepository(), files)

	if _, err := service.GetMigrationStatus(context.Background()); !errors.Is(err, domain.ErrInvalidMigrationFile) {
		t.Errorf("want ErrInvalidMigrationFile, got %v", err)
	}
}

func TestMigrationService_GetMigrationStatus(t *testing.T) {
	repo := newMockMigrationRepository()
	repo.markApplied("001")
	service := NewMigrationService(repo, testMigrationFiles())

	migrations, err := service.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	expected := []struct {
		version string
		name    string
		status  domain.MigrationStatus
	}{
		{"001", "create_users", domain.MigrationStatusApplied},
		{"002", "create_repositories", domain.MigrationStatusPending},
		{"003", "add_index", domain.MigrationStatusPending},
	}
	for i, want := range expected {
		got := migrations[i]
		if got.Version != want.version || got.Name != want.name || got.Status != want.status {
			t.Errorf("migration %d: want %+v, got %+v", i, want, got)
		}
	}
	if migrations[0].AppliedAt == nil {
		t.Error("expected applied_at for applied migration")
	}
}
