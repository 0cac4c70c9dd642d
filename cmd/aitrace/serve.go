package main

import (
	"aitrace_platform/aitrace/ai"
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/config"
	"aitrace_platform/aitrace/database"
	"aitrace_platform/aitrace/logging"
	"aitrace_platform/aitrace/rows"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/services"
	"aitrace_platform/aitrace/storage"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the api server",
	Run: func(cmd *cobra.Command, args []string) {
		runApp(loadConfig())
	},
}

func initStorage(ctx context.Context, cfg config.StorageConfig) storage.Storage {
	var store storage.Storage

	switch cfg.Provider {
	case config.GcloudStorage:
		gcs, err := storage.NewGcsStorage(ctx, cfg.GcsBucketName, cfg.GcsProjectId, cfg.GcsCredentialsPath)
		if err != nil {
			log.Fatalf("error creating gcs storage: %v", err)
		}
		store = gcs
	default:
		store = storage.NewLocalStorage(cfg.LocalImgDir)
	}

	if err := store.Init(ctx); err != nil {
		log.Fatalf("error initializing storage: %v", err)
	}

	slog.Info("storage initialized", "provider", cfg.Provider, "location", store.Location())

	return store
}

func initIdentityProvider(db *gorm.DB, cfg config.IdentityConfig, singleTenant bool) auth.IdentityProvider {
	if cfg.Provider == config.KeycloakIdentity {
		return auth.NewKeycloakIdentityProvider(db, cfg.KeycloakServerUrl, cfg.KeycloakRealm, singleTenant)
	}
	return auth.NewBasicIdentityProvider(db)
}

// bootstrapAdmin creates the configured admin in the default team unless a
// user with that email already exists.
func bootstrapAdmin(db *gorm.DB, cfg config.AdminConfig) error {
	return db.Transaction(func(txn *gorm.DB) error {
		email, err := catalog.NormalizeEmail(cfg.Email)
		if err != nil {
			return err
		}

		if _, err := schema.GetUserByEmail(email, txn); err == nil {
			slog.Info("admin user already exists", "email", email)
			return nil
		} else if !errors.Is(err, schema.ErrUserNotFound) {
			return err
		}

		if err := catalog.CheckPassword(cfg.Password); err != nil {
			return err
		}
		hash, err := auth.HashPassword(cfg.Password)
		if err != nil {
			return err
		}

		team, err := catalog.GetOrCreateDefaultTeam(txn, catalog.DefaultTeamName)
		if err != nil {
			return err
		}

		admin, err := catalog.CreateUser(txn, team.Id, catalog.NewUser{Email: email, Role: schema.RoleAdmin, PasswordHash: hash})
		if err != nil {
			return err
		}

		slog.Info("created admin user", "user_id", admin.Id, "team_id", team.Id)
		return nil
	})
}

func runApp(cfg config.Config) {
	outputs, err := logging.Init(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatalf("error initializing logging: %v", err)
	}
	defer outputs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("error migrating database: %v", err)
	}

	if !cfg.IsSaas() && cfg.Admin.Email != "" {
		if err := bootstrapAdmin(db, cfg.Admin); err != nil {
			log.Fatalf("error creating admin user: %v", err)
		}
	}

	store := initStorage(ctx, cfg.Storage)
	if gcs, ok := store.(*storage.GcsStorage); ok {
		defer gcs.Close()
	}

	titles := ai.NewTitleSuggester(ai.Config{
		Provider: cfg.LLM.Provider,
		ApiKey:   cfg.LLM.ApiKey(),
		Model:    cfg.LLM.Model,
	})

	fetcher := rows.NewHttpFetcher()

	aitrace := services.NewAiTrace(services.Options{
		DB:            db,
		Storage:       store,
		Rows:          rows.NewEngine(store, fetcher, titles),
		Fetcher:       fetcher,
		Identity:      initIdentityProvider(db, cfg.Identity, !cfg.IsSaas()),
		Secret:        []byte(cfg.SecretKey),
		AuditLog:      auth.NewAuditLogger(outputs.Audit()),
		SingleTenant:  !cfg.IsSaas(),
		SecureCookies: cfg.IsProduction(),
	})

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", aitrace.Routes())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting server", "port", cfg.Port, "deployment_mode", cfg.DeploymentMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen and serve returned error: %v", err.Error())
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down server", "error", err)
	}
}
