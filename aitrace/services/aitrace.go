package services

import (
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/rows"
	"aitrace_platform/aitrace/storage"
	"aitrace_platform/aitrace/utils"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const (
	ApiPrefix        = "/api/v1"
	loginRateLimit   = 10
	signedUrlMinutes = 60
)

type Options struct {
	DB       *gorm.DB
	Storage  storage.Storage
	Rows     *rows.Engine
	Fetcher  rows.ImageFetcher
	Identity auth.IdentityProvider
	Secret   []byte
	AuditLog auth.AuditLogger

	// Single tenant deployments put every user in one default team and do
	// not allow public signup.
	SingleTenant  bool
	SecureCookies bool
}

type AiTrace struct {
	auth     AuthService
	team     TeamService
	user     UserService
	schema   SchemaService
	dataset  DatasetService
	row      RowService
	image    ImageService
	apiKey   APIKeyService
	flags    FeatureFlagService
	authn    *auth.Authenticator
	auditLog auth.AuditLogger
}

func NewAiTrace(opts Options) AiTrace {
	jwt := auth.NewJwtManager(opts.Secret)
	sessions := sessionIssuer{jwt: jwt, secure: opts.SecureCookies}

	return AiTrace{
		auth: AuthService{
			db:           opts.DB,
			identity:     opts.Identity,
			sessions:     sessions,
			singleTenant: opts.SingleTenant,
		},
		team:    TeamService{db: opts.DB},
		user:    UserService{db: opts.DB},
		schema:  SchemaService{db: opts.DB},
		dataset: DatasetService{db: opts.DB, storage: opts.Storage},
		row:     RowService{db: opts.DB, storage: opts.Storage, engine: opts.Rows},
		image:   ImageService{fetcher: opts.Fetcher},
		apiKey:  APIKeyService{db: opts.DB},
		flags:   FeatureFlagService{db: opts.DB},
		authn:   auth.NewAuthenticator(opts.DB, jwt),

		auditLog: opts.AuditLog,
	}
}

// authenticated is applied to every route that needs a logged in user.
func (a *AiTrace) authenticated(r chi.Router) {
	r.Use(a.authn.Middleware)
	r.Use(a.auditLog.Middleware)
	r.Use(auth.PasswordResetSatisfied(ApiPrefix + "/auth"))
}

func (a *AiTrace) apiRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJsonResponse(w, map[string]string{"status": "ok"})
	})

	r.Route("/setup", func(r chi.Router) {
		r.Get("/check", a.auth.SetupCheck)
		r.Post("/init", a.auth.SetupInit)
		if !a.auth.singleTenant {
			r.Post("/signup", a.auth.Signup)
		}
	})

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(loginRateLimit, time.Minute))
			r.Post("/login", a.auth.Login)
			r.Post("/login-with-token", a.auth.LoginWithToken)
		})
		r.Post("/logout", a.auth.Logout)

		r.Group(func(r chi.Router) {
			a.authenticated(r)
			r.Get("/me", a.auth.Me)
			r.Put("/password", a.auth.ChangePassword)
			r.Post("/reset-password", a.auth.ResetPassword)
		})
	})

	r.Group(func(r chi.Router) {
		a.authenticated(r)

		r.Mount("/team", a.team.Routes())
		r.Mount("/users", a.user.Routes())
		r.Mount("/schemas", a.schema.Routes())
		r.Mount("/datasets", a.dataset.Routes(a.row.Routes()))
		r.Mount("/images", a.image.Routes())
		r.Mount("/api-keys", a.apiKey.Routes())
		r.Mount("/feature-flags", a.flags.Routes())
	})

	return r
}

func (a *AiTrace) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount(ApiPrefix, a.apiRoutes())
	r.Handle("/metrics", promhttp.Handler())

	return r
}
