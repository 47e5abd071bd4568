package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lims/lims/internal/config"
	"github.com/lims/lims/internal/domain/lab"
	"github.com/lims/lims/internal/domain/patient"
	"github.com/lims/lims/internal/domain/report"
	"github.com/lims/lims/internal/domain/session"
	"github.com/lims/lims/internal/domain/syslog"
	"github.com/lims/lims/internal/domain/user"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/httperr"
	"github.com/lims/lims/internal/platform/middleware"
	"github.com/lims/lims/internal/platform/tenant"
)

// Audit entries older than this are pruned nightly. Critical rows are kept
// regardless of age.
const logRetention = 90 * 24 * time.Hour

func main() {
	rootCmd := &cobra.Command{
		Use:   "lims-server",
		Short: "Laboratory Information Management API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// seedCmd provisions the initial super admin. Regular admins and technicians
// are created through the API; the first super admin has no one to create it.
func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial super admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if name == "" {
				name = "Super Admin"
			}

			generated := false
			if password == "" {
				buf := make([]byte, 16)
				if _, err := crypto_rand.Read(buf); err != nil {
					return fmt.Errorf("generate password: %w", err)
				}
				password = hex.EncodeToString(buf)
				generated = true
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := user.NewRepo(pool)
			if existing, err := repo.GetByEmail(ctx, email); err == nil && existing != nil {
				return fmt.Errorf("a user with email %s already exists", email)
			}

			hash, err := user.HashPassword(password)
			if err != nil {
				return err
			}

			// The repository refuses to run without a caller scope. Seeding
			// happens before any caller exists, so it runs under a synthetic
			// all-tenants scope.
			ctx = tenant.WithScope(ctx, tenant.Scope{
				UserID: uuid.New(),
				Role:   string(auth.RoleSuperAdmin),
			})

			u := &user.User{
				Name:         name,
				Email:        email,
				PasswordHash: hash,
				Role:         auth.RoleSuperAdmin,
				Status:       user.StatusActive,
			}
			if err := repo.Create(ctx, u); err != nil {
				return fmt.Errorf("create super admin: %w", err)
			}

			fmt.Printf("Super admin created: %s (%s)\n", u.Email, u.ID)
			if generated {
				fmt.Printf("Generated password: %s\n", password)
				fmt.Println("Store it now; it is not recoverable.")
			}
			return nil
		},
	}
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("email", "", "Login email (required)")
	cmd.Flags().String("password", "", "Password (generated when omitted)")
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Repositories
	labRepo := lab.NewRepo(pool)
	userRepo := user.NewRepo(pool)
	patientRepo := patient.NewRepo(pool)
	reportRepo := report.NewRepo(pool)
	syslogRepo := syslog.NewRepo(pool)

	// Services
	txRunner := db.PoolRunner{Pool: pool}
	tokenMgr := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry)

	auditSvc := syslog.NewService(syslogRepo, logger)
	userSvc := user.NewService(userRepo, labRepo, txRunner, auditSvc)
	labSvc := lab.NewService(labRepo, userSvc, userRepo, reportRepo, txRunner, auditSvc)
	patientSvc := patient.NewService(patientRepo, auditSvc)
	reportSvc := report.NewService(reportRepo, patientSvc, labRepo, userSvc, auditSvc, cfg.UploadDir)
	sessionSvc := session.NewService(userRepo, tokenMgr, labRepo, userSvc, auditSvc, cfg.ResetTokenTTL, cfg.IsProduction())

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httperr.ErrorHandler(logger, cfg.IsDev())

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Timeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Lab-ID"},
	}))

	// Auth middleware. The dev bypass must be requested explicitly and is
	// refused in production by config.Validate.
	var authMW echo.MiddlewareFunc
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		authMW = auth.DevIdentity()
	} else {
		authMW = auth.Authenticate(tokenMgr, userSvc)
	}

	api := e.Group("/api")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	// Handlers
	sessionH := session.NewHandler(sessionSvc)
	labH := lab.NewHandler(labSvc)
	userH := user.NewHandler(userSvc)
	patientH := patient.NewHandler(patientSvc)
	reportH := report.NewHandler(reportSvc)
	syslogH := syslog.NewHandler(auditSvc)

	// Session endpoints: login and password reset run before authentication,
	// introspection and password change behind it.
	sessionH.RegisterPublicRoutes(api.Group("/auth"))

	authed := api.Group("", authMW)
	sessionH.RegisterRoutes(authed.Group("/auth"))
	patientH.RegisterRoutes(authed)
	reportH.RegisterRoutes(authed)
	userH.RegisterRoutes(authed)

	sa := authed.Group("/superadmin", auth.RequireRole(auth.RoleSuperAdmin))
	labH.RegisterSuperAdminRoutes(sa)
	userH.RegisterSuperAdminRoutes(sa)
	syslogH.RegisterSuperAdminRoutes(sa)

	// Export artifacts
	e.Static("/uploads", cfg.UploadDir)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Nightly audit log pruning
	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-pruneCtx.Done():
				return
			case <-ticker.C:
				n, err := auditSvc.Prune(pruneCtx, logRetention)
				if err != nil {
					logger.Error().Err(err).Msg("audit log prune failed")
					continue
				}
				logger.Info().Int64("removed", n).Msg("audit log pruned")
			}
		}
	}()

	// Start server
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}
}
