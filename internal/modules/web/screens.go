package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth"
	"github.com/eskrenkovic/price-tracker/internal/modules/auth/commands"
	"github.com/eskrenkovic/price-tracker/internal/modules/catalog"
	"github.com/eskrenkovic/price-tracker/internal/modules/core"
	"github.com/eskrenkovic/price-tracker/internal/modules/submission"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// firstSnapshotWait bounds how long a page render waits for the list before
// it is rendered in its loading state.
const firstSnapshotWait = 2 * time.Second

var funcs = template.FuncMap{
	"price": func(d decimal.Decimal) string {
		return "RM " + d.StringFixed(2)
	},
	"date": func(t time.Time) string {
		return t.Local().Format("2 Jan 2006")
	},
}

type page struct {
	Admin    bool
	Accept   string
	Form     submission.State
	Products []catalog.Product
	Loading  bool
	Lost     bool
	Editable bool
	Error    string
	Email    string
}

type Screens struct {
	home      *template.Template
	login     *template.Template
	dashboard *template.Template

	store  catalog.Store
	forms  *submission.SubmissionHTTPHandler
	accept string
	static http.Handler
}

func NewScreens(store catalog.Store, forms *submission.SubmissionHTTPHandler, allowedFormats []string) (*Screens, error) {
	home, err := parse("home.html")
	if err != nil {
		return nil, err
	}

	login, err := parse("login.html")
	if err != nil {
		return nil, err
	}

	dashboard, err := parse("dashboard.html")
	if err != nil {
		return nil, err
	}

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}

	if len(allowedFormats) == 0 {
		allowedFormats = submission.DefaultAllowedFormats
	}

	return &Screens{
		home:      home,
		login:     login,
		dashboard: dashboard,
		store:     store,
		forms:     forms,
		accept:    strings.Join(allowedFormats, ","),
		static:    http.StripPrefix("/static/", http.FileServer(http.FS(static))),
	}, nil
}

func parse(name string) (*template.Template, error) {
	return template.New(name).Funcs(funcs).ParseFS(templateFS,
		"templates/layout.html",
		"templates/products.html",
		"templates/"+name,
	)
}

func (s *Screens) HandleHome(w http.ResponseWriter, r *http.Request) {
	form := s.forms.FormFor(w, r)

	data := page{
		Accept: s.accept,
		Form:   form.State(),
	}
	s.fillProducts(r.Context(), &data)

	s.render(w, r, s.home, data)
}

func (s *Screens) HandleLogin(w http.ResponseWriter, r *http.Request) {
	data := page{Admin: true}
	if r.URL.Query().Get("error") != "" {
		data.Error = commands.LoginFailedMessage
	}

	s.render(w, r, s.login, data)
}

// HandleDashboard must sit behind auth.RequireSession.
func (s *Screens) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	session, ok := core.Session(r.Context())
	if !ok {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}

	data := page{
		Admin:    true,
		Editable: true,
		Email:    session.Email,
	}
	s.fillProducts(r.Context(), &data)

	s.render(w, r, s.dashboard, data)
}

// HandleRoleToggle only navigates. Being on the admin screen grants nothing
// until the gate lets the viewer through.
func (s *Screens) HandleRoleToggle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("admin") == "on" {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Screens) HandleStatic(w http.ResponseWriter, r *http.Request) {
	s.static.ServeHTTP(w, r)
}

func (s *Screens) fillProducts(ctx context.Context, data *page) {
	feed := catalog.NewSync(s.store, core.Logger(ctx))
	if err := feed.Activate(ctx); err != nil {
		core.LogError(ctx, "failed to open product feed", zap.Error(err))
		data.Lost = true
		return
	}
	defer feed.Deactivate()

	waitCtx, cancel := context.WithTimeout(ctx, firstSnapshotWait)
	defer cancel()

	if err := feed.WaitLoaded(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		core.LogError(ctx, "failed to load products", zap.Error(err))
	}

	state := feed.State()
	data.Products = state.Products
	data.Loading = state.Loading
	data.Lost = state.Lost
}

func (s *Screens) render(w http.ResponseWriter, r *http.Request, t *template.Template, data page) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		core.LogError(r.Context(), "failed to render page", zap.Error(err))
		http.Error(w, "Something went wrong.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
