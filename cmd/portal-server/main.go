package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careledger/portal/internal/config"
	"github.com/careledger/portal/internal/domain/consent"
	"github.com/careledger/portal/internal/domain/identity"
	"github.com/careledger/portal/internal/domain/ledger"
	"github.com/careledger/portal/internal/domain/messaging"
	"github.com/careledger/portal/internal/domain/notes"
	"github.com/careledger/portal/internal/domain/prediction"
	"github.com/careledger/portal/internal/domain/scheduling"
	"github.com/careledger/portal/internal/platform/auth"
	"github.com/careledger/portal/internal/platform/db"
	"github.com/careledger/portal/internal/platform/middleware"
	"github.com/careledger/portal/internal/platform/notification"
	"github.com/careledger/portal/internal/platform/phi"
)

// identityDirectory adapts the identity service to the small directory
// interfaces the other domains declare, avoiding circular imports.
type identityDirectory struct {
	svc *identity.Service
}

func (d *identityDirectory) PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error) {
	p, err := d.svc.GetPatientByUser(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func (d *identityDirectory) DoctorIDForUser(ctx context.Context, userID string) (uuid.UUID, error) {
	doc, err := d.svc.GetDoctorByUser(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return doc.ID, nil
}

func (d *identityDirectory) UserIDForPatient(ctx context.Context, patientID uuid.UUID) (string, error) {
	p, err := d.svc.GetPatient(ctx, patientID)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

func (d *identityDirectory) UserIDForDoctor(ctx context.Context, doctorID uuid.UUID) (string, error) {
	doc, err := d.svc.GetDoctor(ctx, doctorID)
	if err != nil {
		return "", err
	}
	return doc.UserID, nil
}

// payloadSourceAdapter rebuilds anchored payloads for the verifier from the
// prediction and notes services.
type payloadSourceAdapter struct {
	predictions *prediction.Service
	notes       *notes.Service
}

func (a *payloadSourceAdapter) PredictionPayload(ctx context.Context, predictionID uuid.UUID) (*ledger.PredictionPayload, error) {
	p, err := a.predictions.LedgerPayload(ctx, predictionID)
	if errors.Is(err, prediction.ErrNotFound) {
		return nil, ledger.ErrPayloadNotFound
	}
	return p, err
}

func (a *payloadSourceAdapter) NotePayload(ctx context.Context, noteID uuid.UUID) (*ledger.NotePayload, error) {
	n, err := a.notes.LedgerPayload(ctx, noteID)
	if errors.Is(err, notes.ErrNotFound) {
		return nil, ledger.ErrPayloadNotFound
	}
	return n, err
}

// accessDeciderAdapter answers the verifier's authorization questions. A
// requester has access when they are the subject patient themselves or hold
// a granted consent.
type accessDeciderAdapter struct {
	consents *consent.Service
	identity *identity.Service
}

func (a *accessDeciderAdapter) HasAccess(ctx context.Context, requesterUserID string, patientID uuid.UUID) (bool, error) {
	if p, err := a.identity.GetPatientByUser(ctx, requesterUserID); err == nil && p.ID == patientID {
		return true, nil
	}
	return a.consents.HasAccess(ctx, requesterUserID, patientID)
}

func (a *accessDeciderAdapter) HasPendingRequest(ctx context.Context, requesterUserID string, patientID uuid.UUID) (bool, error) {
	return a.consents.HasPendingRequest(ctx, requesterUserID, patientID)
}

func (a *accessDeciderAdapter) RequestAccess(ctx context.Context, requesterUserID string, patientID uuid.UUID, transactionID string) error {
	_, err := a.consents.RequestAccess(ctx, requesterUserID, patientID, transactionID)
	return err
}

// appointmentSource exposes appointments to the notes workflow.
type appointmentSource struct {
	repo scheduling.Repository
}

func (s *appointmentSource) AppointmentInfo(ctx context.Context, id uuid.UUID) (*notes.AppointmentInfo, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &notes.AppointmentInfo{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Held:      a.Status == scheduling.StatusCompleted,
	}, nil
}

// pgAuditRecorder persists PHI access events to the audit_log table.
type pgAuditRecorder struct {
	pool *pgxpool.Pool
}

func (r *pgAuditRecorder) Record(ctx context.Context, e middleware.AuditEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (user_id, roles, action, resource, resource_id,
			method, path, status, remote_ip, request_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.UserID, e.Roles, e.Action, e.Resource, e.ResourceID,
		e.Method, e.Path, e.Status, e.RemoteIP, e.RequestID, e.OccurredAt)
	return err
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Patient/doctor portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
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
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// PHI field-level encryption
	var encryptor *phi.Encryptor
	if cfg.PHIEncryptionKey != "" {
		encryptor, err = phi.NewEncryptorFromHex(cfg.PHIEncryptionKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("PHI_ENCRYPTION_KEY must be a hex-encoded 32-byte key")
		}
		logger.Info().Msg("PHI field-level encryption enabled")
	} else {
		logger.Warn().Msg("PHI_ENCRYPTION_KEY not set; patient contact fields are stored in plaintext")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}

	// The verify link is the QR entry point: signed-out viewers must reach
	// it and get an auth_required verdict instead of a 401. In development
	// any Authorization header yields the dev principal, mirroring the
	// permissive auth on the main API group.
	var verifyGroup *echo.Group
	if cfg.IsDev() {
		verifyGroup = e.Group("/api/v1", auth.DevOptionalAuthMiddleware())
	} else {
		optionalCfg := jwtCfg
		optionalCfg.Optional = true
		verifyGroup = e.Group("/api/v1", auth.JWTMiddleware(optionalCfg))
	}

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}

	auditRecorder := &pgAuditRecorder{pool: pool}
	apiV1.Use(middleware.Audit(logger, auditRecorder))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	verifyGroup.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// -- Wire domains --

	notifyCenter := notification.NewCenter()

	// Identity
	patientRepo := identity.NewPatientRepoPG(pool, encryptor)
	doctorRepo := identity.NewDoctorRepoPG(pool)
	identitySvc := identity.NewService(patientRepo, doctorRepo)
	identityHandler := identity.NewHandler(identitySvc)
	identityHandler.RegisterRoutes(apiV1)

	directory := &identityDirectory{svc: identitySvc}

	// Consent
	consentRepo := consent.NewRepoPG(pool)
	consentSvc := consent.NewService(consentRepo, directory, notifyCenter, logger)
	consentHandler := consent.NewHandler(consentSvc)
	consentHandler.RegisterRoutes(apiV1)

	// Scheduling
	schedRepo := scheduling.NewRepoPG(pool)
	schedSvc := scheduling.NewService(schedRepo, directory, notifyCenter, logger)
	schedHandler := scheduling.NewHandler(schedSvc)
	schedHandler.RegisterRoutes(apiV1)

	// Messaging
	msgRepo := messaging.NewRepoPG(pool)
	msgSvc := messaging.NewService(msgRepo, directory)
	msgHandler := messaging.NewHandler(msgSvc)
	msgHandler.RegisterRoutes(apiV1)

	// Ledger, prediction, and notes are mutually referential through small
	// interfaces: the ledger rebuilds payloads from the content services and
	// the content services anchor through the ledger. The ledger service is
	// constructed first against an adapter whose fields are filled in below.
	payloadSource := &payloadSourceAdapter{}
	accessDecider := &accessDeciderAdapter{consents: consentSvc, identity: identitySvc}
	ledgerRepo := ledger.NewRepoPG(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, payloadSource, accessDecider, logger)
	ledgerHandler := ledger.NewHandler(ledgerSvc)
	ledgerHandler.RegisterRoutes(verifyGroup, apiV1)

	transactor := db.NewTransactor(pool)

	// Prediction
	predRepo := prediction.NewRepoPG(pool)
	predSvc := prediction.NewService(predRepo, directory, consentSvc, ledgerSvc, transactor, logger)
	predHandler := prediction.NewHandler(predSvc)
	predHandler.RegisterRoutes(apiV1)

	// Notes
	noteRepo := notes.NewRepoPG(pool)
	noteSvc := notes.NewService(noteRepo, &appointmentSource{repo: schedRepo}, directory, consentSvc, ledgerSvc, transactor, notifyCenter, logger)
	noteHandler := notes.NewHandler(noteSvc)
	noteHandler.RegisterRoutes(apiV1)

	payloadSource.predictions = predSvc
	payloadSource.notes = noteSvc

	// Notifications
	notifyHandler := notification.NewHandler(notifyCenter)
	notifyHandler.RegisterRoutes(apiV1)

	// Graceful shutdown
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
