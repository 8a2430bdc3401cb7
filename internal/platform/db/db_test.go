package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations_Sorted(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"010_expenses.sql":        "CREATE TABLE expenses (id UUID);",
		"001_billing_reports.sql": "CREATE TABLE billing_reports (id UUID);",
		"002_sequences.sql":       "CREATE TABLE report_sequences (appointment_id UUID);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].SQL != "CREATE TABLE billing_reports (id UUID);" {
		t.Errorf("unexpected SQL: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsNonMigrations(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_core.sql": "SELECT 1;",
		"README.md":    "notes",
		"core.sql":     "SELECT 2;",
		"abc_x.sql":    "SELECT 3;",
	})
	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_a.sql": "SELECT 1;",
		"1_b.sql":   "SELECT 2;",
	})
	if _, err := NewMigrator(nil, dir).LoadMigrations(); err == nil {
		t.Error("expected duplicate version error")
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/migrations").LoadMigrations(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestExtractClinicID(t *testing.T) {
	e := echo.New()
	tests := []struct {
		name   string
		url    string
		header string
		jwt    string
		want   string
	}{
		{"default", "/", "", "", "default"},
		{"query", "/?clinic_id=north", "", "", "north"},
		{"header beats query", "/?clinic_id=north", "south", "", "south"},
		{"jwt beats header", "/", "south", "east", "east"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("X-Clinic-ID", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			if tt.jwt != "" {
				c.Set("jwt_clinic_id", tt.jwt)
			}
			if got := extractClinicID(c, "default"); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestClinicIDPattern(t *testing.T) {
	valid := []string{"default", "clinic_1", "North2"}
	invalid := []string{"", "a-b", "x;DROP", "a b"}
	for _, v := range valid {
		if !clinicIDPattern.MatchString(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	for _, v := range invalid {
		if clinicIDPattern.MatchString(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestCreateClinicSchema_InvalidID(t *testing.T) {
	if err := CreateClinicSchema(context.Background(), nil, "bad-id!", ""); err == nil {
		t.Error("expected error for invalid clinic ID")
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx")
	}
	if ClinicFromContext(ctx) != "" {
		t.Error("expected empty clinic")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil || err.Error() != "no database connection in context" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClinicSchema(t *testing.T) {
	if ClinicSchema("north") != "clinic_north" {
		t.Errorf("unexpected schema %s", ClinicSchema("north"))
	}
}
