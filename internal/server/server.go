package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/eskrenkovic/price-tracker/db/migrations"
	"github.com/eskrenkovic/price-tracker/internal/config"
	"github.com/eskrenkovic/price-tracker/internal/modules/admin"
	"github.com/eskrenkovic/price-tracker/internal/modules/auth"
	authdomain "github.com/eskrenkovic/price-tracker/internal/modules/auth/domain"
	"github.com/eskrenkovic/price-tracker/internal/modules/catalog"
	"github.com/eskrenkovic/price-tracker/internal/modules/core"
	"github.com/eskrenkovic/price-tracker/internal/modules/storage"
	"github.com/eskrenkovic/price-tracker/internal/modules/submission"
	"github.com/eskrenkovic/price-tracker/internal/modules/web"
	"github.com/eskrenkovic/price-tracker/internal/sqlmigration"

	"github.com/asaskevich/EventBus"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/gorilla/sessions"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const uploadsPath = "/uploads"

type Server interface {
	Start() error
	Stop(ctx context.Context) error
}

var _ Server = &HTTPServer{}

// HTTPServer acts as the composition root for an application.
type HTTPServer struct {
	server *http.Server
	log    *zap.Logger

	cancel  context.CancelFunc
	cron    *cron.Cron
	closers []func() error
}

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	Logger   *zap.Logger
	Store    catalog.Store
	Objects  storage.ObjectStorage
	Provider *auth.Provider
	Registry *submission.Registry
	Cookies  sessions.Store

	SessionName    string
	FormCookieName string
	Upload         submission.Options

	// Uploads serves objects kept by the memory storage driver.
	Uploads http.Handler
}

func NewHTTPServer(ctx context.Context, conf config.Config) (*HTTPServer, error) {
	log := conf.Logger
	s := &HTTPServer{log: log, cron: cron.New()}

	store, db, err := s.openStore(conf)
	if err != nil {
		return nil, s.fail(err)
	}

	var repository auth.Repository = auth.NewMemoryRepository()
	if db != nil {
		repository = auth.NewPostgresRepository(db)
	}

	objects, uploads, err := openStorage(ctx, conf, log)
	if err != nil {
		return nil, s.fail(err)
	}

	hasher := authdomain.NewBcryptPasswordHasher(conf.Admin.PasswordCost)
	provider, err := auth.NewProvider(repository, hasher, EventBus.New(), conf.Session.MaxAge, log)
	if err != nil {
		return nil, s.fail(err)
	}

	if err := auth.EnsureAdmin(ctx, repository, hasher, conf.Admin.Email, conf.Admin.Password, log); err != nil {
		return nil, s.fail(fmt.Errorf("failed to seed admin account: %w", err))
	}

	registry := submission.NewRegistry(store, objects, conf.Upload, log)

	baseCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if _, err := provider.ScheduleSweep(baseCtx, s.cron); err != nil {
		return nil, s.fail(err)
	}

	if _, err := registry.ScheduleEviction(s.cron, conf.FormIdleTTL); err != nil {
		return nil, s.fail(err)
	}

	cookies := sessions.NewCookieStore(conf.Session.Key)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(conf.Session.MaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	router, err := NewRouter(Dependencies{
		Logger:         log,
		Store:          store,
		Objects:        objects,
		Provider:       provider,
		Registry:       registry,
		Cookies:        cookies,
		SessionName:    conf.Session.Name,
		FormCookieName: conf.Session.FormCookieName,
		Upload:         conf.Upload,
		Uploads:        uploads,
	})
	if err != nil {
		return nil, s.fail(err)
	}

	// No write timeout, the product and progress streams stay open.
	s.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(conf.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return s, nil
}

// openStore returns a nil db for the memory driver.
func (s *HTTPServer) openStore(conf config.Config) (catalog.Store, *sqlx.DB, error) {
	if conf.StoreDriver == config.DriverMemory {
		s.log.Warn("using in-memory product store, nothing survives a restart")
		return catalog.NewMemoryStore(), nil, nil
	}

	db, err := sqlx.Connect("postgres", conf.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, db.Close)

	if err := sqlmigration.Run(context.Background(), db, migrations.FS, s.log); err != nil {
		return nil, nil, err
	}

	store, err := catalog.NewPostgresStore(db, conf.DatabaseURL, s.log)
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, store.Close)

	return store, db, nil
}

func openStorage(ctx context.Context, conf config.Config, log *zap.Logger) (storage.ObjectStorage, http.Handler, error) {
	if conf.StorageDriver == config.DriverMemory {
		log.Warn("using in-memory image storage, nothing survives a restart")
		objects := storage.NewMemoryStorage(uploadsPath)
		return objects, objects, nil
	}

	objects, err := storage.NewS3Storage(ctx, conf.S3, log)
	if err != nil {
		return nil, nil, err
	}

	return objects, nil, nil
}

// NewRouter registers every route of the application.
func NewRouter(deps Dependencies) (http.Handler, error) {
	products := catalog.NewProductsHTTPHandler(deps.Store, deps.Logger)
	forms := submission.NewSubmissionHTTPHandler(deps.Registry, deps.Cookies, deps.FormCookieName, deps.Upload)
	cookies := auth.NewSessionCookies(deps.Cookies, deps.SessionName)
	login := auth.NewAuthHTTPHandler(deps.Provider, cookies)
	mutations := admin.NewAdminHTTPHandler(admin.NewMutator(deps.Store, deps.Logger), deps.Store)

	screens, err := web.NewScreens(deps.Store, forms, deps.Upload.AllowedFormats)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		core.CorrelationIDHTTPMiddleware,
		core.RequestLoggingMiddleware(deps.Logger),
	)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		core.WriteOK(w, r, map[string]string{"status": "ok"})
	})

	r.Get("/static/*", screens.HandleStatic)
	if deps.Uploads != nil {
		r.Get(uploadsPath+"/*", deps.Uploads.ServeHTTP)
	}

	// screens
	r.Get("/", screens.HandleHome)
	r.Get("/role", screens.HandleRoleToggle)
	r.Get(auth.LoginPath, screens.HandleLogin)
	r.Post("/admin/login", login.HandleLogin)
	r.Post("/admin/logout", login.HandleLogout)

	// catalog & submission
	r.Get("/api/products", products.HandleGetProducts)
	r.Get("/api/products/stream", products.HandleStreamProducts)
	r.Post("/api/products", forms.HandleSubmitURL)
	r.Post("/api/products/upload", forms.HandleSubmitFile)
	r.Get("/api/submission", forms.HandleGetState)
	r.Get("/api/submission/stream", forms.HandleStreamState)

	// admin
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(deps.Provider, cookies, deps.Logger))

		r.Get(auth.DashboardPath, screens.HandleDashboard)
		r.Patch("/api/admin/products/{product_id}/price", mutations.HandleEditPrice)
		r.Delete("/api/admin/products/{product_id}", mutations.HandleDeleteProduct)
		r.Get("/api/admin/products/stream", mutations.HandleStreamProducts)
	})

	return r, nil
}

func (s *HTTPServer) Start() error {
	s.cron.Start()

	s.log.Info("starting http server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop ends open streams, waits for in-flight requests and releases the
// database and listener connections.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.cancel()
	<-s.cron.Stop().Done()

	err := s.server.Shutdown(ctx)
	return errors.Join(err, s.close())
}

func (s *HTTPServer) fail(err error) error {
	if s.cancel != nil {
		s.cancel()
	}

	return errors.Join(err, s.close())
}

func (s *HTTPServer) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil

	return errors.Join(errs...)
}
