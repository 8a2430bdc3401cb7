package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/config"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/domain/billing"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/domain/expense"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/domain/scheduling"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/auth"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/clock"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/db"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/middleware"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/retry"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "clinic-billing",
		Short:        "Dental clinic billing and payment reconciliation server",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clinicCmd())
	rootCmd.AddCommand(reconcileCmd())
	return rootCmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration, then opens the pool.
func loadConfig(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.ClinicSchema(clinic)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("clinic", "default", "Clinic whose schema is migrated")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.ClinicSchema(clinic)
			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("clinic", "default", "Clinic whose schema is inspected")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			_, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.CreateClinicSchema(ctx, pool, name, dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Clinic %s created in schema %s\n", name, db.ClinicSchema(name))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (lowercase letters, digits, underscores)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(createCmd)

	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run billing reconciliation jobs",
	}

	overdueCmd := &cobra.Command{
		Use:   "overdue",
		Short: "Mark every past-due report overdue once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")

			ctx := context.Background()
			cfg, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg)
			svc, err := newBillingService(cfg, pool, logger)
			if err != nil {
				return err
			}
			n, err := billing.NewOverdueReconciler(svc, clinicScope(pool, clinic), logger).RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d report(s) overdue in clinic %s\n", n, clinic)
			return nil
		},
	}
	overdueCmd.Flags().String("clinic", "default", "Clinic to reconcile")
	cmd.AddCommand(overdueCmd)

	return cmd
}

func clinicScope(pool *pgxpool.Pool, clinic string) billing.ScopeFunc {
	return func(ctx context.Context) (context.Context, func(), error) {
		return db.WithClinicConn(ctx, pool, clinic)
	}
}

// billingSettings converts configuration into engine settings.
func billingSettings(cfg *config.Config) (billing.Settings, error) {
	rate, err := cfg.TaxRateDecimal()
	if err != nil {
		return billing.Settings{}, err
	}
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	return billing.Settings{
		TaxRate:               rate,
		PaymentTermDays:       cfg.PaymentTermDays,
		QuickPayHalfThreshold: decimal.NewFromFloat(cfg.QuickPayHalfThreshold),
		QuickPayIncrement:     decimal.NewFromFloat(cfg.QuickPayIncrement),
		Retry:                 policy,
	}, nil
}

func newBillingService(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*billing.Service, error) {
	settings, err := billingSettings(cfg)
	if err != nil {
		return nil, err
	}
	appts := scheduling.NewAppointmentRepoPG(pool)
	return billing.NewService(billing.Deps{
		Reports:      billing.NewReportRepoPG(pool),
		Sequences:    billing.NewSequenceRepoPG(pool),
		Invoices:     billing.NewInvoiceCounterPG(pool, cfg.InvoicePrefix),
		UnitOfWork:   db.NewTxManager(pool),
		Appointments: scheduling.NewBillingLookup(appts, cfg.AppointmentCacheTTL),
		Clock:        clock.System(),
	}, settings, logger), nil
}

// newServer builds the echo instance with every route registered. It does
// not touch the database until a request arrives.
func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*echo.Echo, *billing.Service, error) {
	billingSvc, err := newBillingService(cfg, pool, logger)
	if err != nil {
		return nil, nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Clinic-ID"},
	}))

	e.GET("/health", db.HealthHandler(pool, version))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(db.ClinicMiddleware(pool, cfg.DefaultClinic))
	if cfg.RequestTimeout > 0 {
		apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)

	appts := scheduling.NewAppointmentRepoPG(pool)
	scheduling.NewHandler(scheduling.NewService(appts)).RegisterRoutes(apiV1)

	expenseSvc := expense.NewService(expense.NewExpenseRepoPG(pool), db.NewTxManager(pool), clock.System(),
		billingSvc.Settings().Retry, logger)
	expense.NewHandler(expenseSvc).RegisterRoutes(apiV1)

	return e, billingSvc, nil
}

func runServer() error {
	ctx := context.Background()
	cfg, pool, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := newLogger(cfg)
	logger.Info().Msg("connected to database")

	e, billingSvc, err := newServer(cfg, pool, logger)
	if err != nil {
		return err
	}

	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	reconciler := billing.NewOverdueReconciler(billingSvc, clinicScope(pool, cfg.DefaultClinic), logger)
	if cfg.OverdueScanInterval > 0 {
		reconciler.Interval = cfg.OverdueScanInterval
		go reconciler.Start(jobCtx)
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopJobs()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
