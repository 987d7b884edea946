package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdvjgm/pos-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestCatalogMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_catalog_tables.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS products",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_products_code",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_stocks_product_warehouse ON stocks (product_code, warehouse_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_prices_product_list ON prices (product_code, price_list)",
		"source_updated_at TIMESTAMPTZ NOT NULL",
		"CHECK (quantity >= 0)",
		"DROP TABLE IF EXISTS products",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestSalesMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_sales_tables.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS sessions",
		"CREATE TABLE IF NOT EXISTS sales",
		"session_id UUID REFERENCES sessions(id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_sales_session_id",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_sales_offline_id",
		"DROP TABLE IF EXISTS sales",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestJobsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_jobs_table.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS jobs",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_jobs_dedupe_key",
		"CREATE INDEX IF NOT EXISTS ix_jobs_state_run_at ON jobs (state, run_at)",
		"state TEXT NOT NULL DEFAULT 'pending'",
		"DROP TABLE IF EXISTS jobs",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationFilenamesValidate(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}
