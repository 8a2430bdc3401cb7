package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                   "development",
		DefaultClinic:         "default",
		CORSOrigins:           []string{"http://localhost:3000"},
		TaxRate:               "0.16",
		InvoicePrefix:         "INV",
		PaymentTermDays:       30,
		QuickPayHalfThreshold: 200,
		QuickPayIncrement:     500,
		RetryMaxAttempts:      4,
		RequestTimeout:        30 * time.Second,
		AppointmentCacheTTL:   time.Minute,
	}
}

func TestBillingSettings(t *testing.T) {
	s, err := billingSettings(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TaxRate.String() != "0.16" {
		t.Errorf("tax rate = %s, want 0.16", s.TaxRate)
	}
	if s.PaymentTermDays != 30 || s.Retry.MaxAttempts != 4 {
		t.Errorf("unexpected settings: %+v", s)
	}
	if s.QuickPayHalfThreshold.String() != "200" || s.QuickPayIncrement.String() != "500" {
		t.Errorf("unexpected quick pay settings: %s / %s", s.QuickPayHalfThreshold, s.QuickPayIncrement)
	}
}

func TestBillingSettings_BadTaxRate(t *testing.T) {
	cfg := testConfig()
	cfg.TaxRate = "sixteen"
	if _, err := billingSettings(cfg); err == nil {
		t.Error("expected error for non-decimal tax rate")
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"clinic", "create"},
		{"reconcile", "overdue"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd == root {
			t.Errorf("command %v not registered", path)
		}
	}
}

func TestNewServer_RegistersRoutes(t *testing.T) {
	for _, env := range []string{"development", "production"} {
		t.Run(env, func(t *testing.T) {
			cfg := testConfig()
			cfg.Env = env
			cfg.AuthSigningKey = "secret"
			e, svc, err := newServer(cfg, nil, zerolog.Nop())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if svc == nil {
				t.Fatal("expected billing service")
			}

			registered := make(map[string]bool)
			for _, r := range e.Routes() {
				registered[r.Method+" "+r.Path] = true
			}
			for _, want := range []string{
				http.MethodGet + " /health",
				http.MethodPost + " /api/v1/billing-reports",
				http.MethodPost + " /api/v1/billing-reports/:id/payments",
				http.MethodPost + " /api/v1/billing-reports/link",
				http.MethodDelete + " /api/v1/billing-reports/:id/permanent",
				http.MethodGet + " /api/v1/appointments/:id/billing-summary",
				http.MethodGet + " /api/v1/appointments/:id",
				http.MethodPost + " /api/v1/expenses",
				http.MethodPost + " /api/v1/expenses/:id/approve",
			} {
				if !registered[want] {
					t.Errorf("route %q not registered", want)
				}
			}
		})
	}
}
