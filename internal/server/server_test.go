package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/auth"
	authdomain "github.com/eskrenkovic/price-tracker/internal/modules/auth/domain"
	"github.com/eskrenkovic/price-tracker/internal/modules/catalog"
	"github.com/eskrenkovic/price-tracker/internal/modules/storage"
	"github.com/eskrenkovic/price-tracker/internal/modules/submission"

	"github.com/asaskevich/EventBus"
	"github.com/gorilla/sessions"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "hunter22"
)

type testApp struct {
	server *httptest.Server
	client *http.Client
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	log := zap.NewNop()
	store := catalog.NewMemoryStore()
	objects := storage.NewMemoryStorage(uploadsPath)
	repository := auth.NewMemoryRepository()
	hasher := authdomain.NewBcryptPasswordHasher(bcrypt.MinCost)

	provider, err := auth.NewProvider(repository, hasher, EventBus.New(), time.Hour, log)
	require.NoError(t, err)
	require.NoError(t, auth.EnsureAdmin(context.Background(), repository, hasher, adminEmail, adminPassword, log))

	opts := submission.Options{MaxUploadSize: 1 << 20}
	router, err := NewRouter(Dependencies{
		Logger:         log,
		Store:          store,
		Objects:        objects,
		Provider:       provider,
		Registry:       submission.NewRegistry(store, objects, opts, log),
		Cookies:        sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef")),
		SessionName:    "price-tracker-session",
		FormCookieName: "price-tracker-form",
		Upload:         opts,
		Uploads:        objects,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testApp{
		server: srv,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (a *testApp) do(t *testing.T, method, path, contentType, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, a.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := a.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })

	return res
}

func (a *testApp) products(t *testing.T) []catalog.ProductView {
	t.Helper()

	res := a.do(t, http.MethodGet, "/api/products", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var view catalog.SnapshotView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&view))
	require.False(t, view.Loading)

	return view.Products
}

func (a *testApp) signIn(t *testing.T) {
	t.Helper()

	body := `{"email":"` + adminEmail + `","password":"` + adminPassword + `"}`
	res := a.do(t, http.MethodPost, "/admin/login", "application/json", body)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func (a *testApp) submit(t *testing.T, name, price string) string {
	t.Helper()

	body := `{"name":"` + name + `","price":"` + price + `","imageUrl":"https://img.example.com/p.jpg"}`
	res := a.do(t, http.MethodPost, "/api/products", "application/json", body)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var created map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	return created["id"]
}

func Test_Health_Returns_OK(t *testing.T) {
	// Arrange
	app := newTestApp(t)

	// Act
	res := app.do(t, http.MethodGet, "/health", "", "")

	// Assert
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func Test_Submitted_Product_Appears_In_List(t *testing.T) {
	// Arrange
	app := newTestApp(t)

	// Act
	id := app.submit(t, "Milo 1kg", "12.90")

	// Assert
	products := app.products(t)
	require.Len(t, products, 1)
	require.Equal(t, id, products[0].ID)
	require.Equal(t, "Milo 1kg", products[0].Name)
	require.True(t, decimal.RequireFromString("12.90").Equal(decimal.RequireFromString(products[0].Price.String())))
}

func Test_Admin_Endpoints_Return_Unauthorized_Without_Session(t *testing.T) {
	// Arrange
	app := newTestApp(t)
	id := app.submit(t, "Milo 1kg", "12.90")

	// Act
	res := app.do(t, http.MethodPatch, "/api/admin/products/"+id+"/price", "application/json", `{"price":"9.99"}`)

	// Assert
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "12.9", app.products(t)[0].Price.String())
}

func Test_Dashboard_Redirects_To_Login_Without_Session(t *testing.T) {
	// Arrange
	app := newTestApp(t)
	req, err := http.NewRequest(http.MethodGet, app.server.URL+auth.DashboardPath, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")

	// Act
	res, err := app.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	// Assert
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	require.Equal(t, auth.LoginPath, res.Header.Get("Location"))
}

func Test_Signed_In_Admin_Can_Edit_And_Delete(t *testing.T) {
	// Arrange
	app := newTestApp(t)
	id := app.submit(t, "Milo 1kg", "12.90")
	app.signIn(t)

	// Act
	edit := app.do(t, http.MethodPatch, "/api/admin/products/"+id+"/price", "application/json", `{"price":"9.99"}`)
	unconfirmed := app.do(t, http.MethodDelete, "/api/admin/products/"+id, "", "")
	afterEdit := app.products(t)
	confirmed := app.do(t, http.MethodDelete, "/api/admin/products/"+id+"?confirm=true", "", "")

	// Assert
	require.Equal(t, http.StatusNoContent, edit.StatusCode)
	require.Equal(t, http.StatusPreconditionRequired, unconfirmed.StatusCode)
	require.Len(t, afterEdit, 1)
	require.Equal(t, "9.99", afterEdit[0].Price.String())
	require.Equal(t, http.StatusNoContent, confirmed.StatusCode)
	require.Empty(t, app.products(t))
}

func Test_Signing_Out_Closes_Admin_Access(t *testing.T) {
	// Arrange
	app := newTestApp(t)
	id := app.submit(t, "Milo 1kg", "12.90")
	app.signIn(t)

	// Act
	logout := app.do(t, http.MethodPost, "/admin/logout", "application/json", "")
	res := app.do(t, http.MethodPatch, "/api/admin/products/"+id+"/price", "application/json", `{"price":"9.99"}`)

	// Assert
	require.Equal(t, http.StatusOK, logout.StatusCode)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func Test_Role_Toggle_Only_Navigates(t *testing.T) {
	// Arrange
	app := newTestApp(t)

	// Act
	on := app.do(t, http.MethodGet, "/role?admin=on", "", "")
	off := app.do(t, http.MethodGet, "/role?admin=off", "", "")

	// Assert
	require.Equal(t, http.StatusSeeOther, on.StatusCode)
	require.Equal(t, auth.LoginPath, on.Header.Get("Location"))
	require.Equal(t, http.StatusSeeOther, off.StatusCode)
	require.Equal(t, "/", off.Header.Get("Location"))
}

func Test_Home_Renders_Product_List(t *testing.T) {
	// Arrange
	app := newTestApp(t)
	app.submit(t, "Milo 1kg", "12.90")

	// Act
	res := app.do(t, http.MethodGet, "/", "", "")

	// Assert
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, res.Header.Get("Content-Type"), "text/html")
}

func waitForLine(t *testing.T, lines <-chan string, want string) {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before %q", want)
			if line == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func Test_Admin_Stream_Redirects_When_Signed_Out(t *testing.T) {
	// Arrange
	app := newTestApp(t)
	app.submit(t, "Milo 1kg", "12.90")
	app.signIn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.server.URL+"/api/admin/products/stream", nil)
	require.NoError(t, err)

	res, err := app.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(res.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	waitForLine(t, lines, "event: snapshot")

	// Act
	logout := app.do(t, http.MethodPost, "/admin/logout", "application/json", "")

	// Assert
	require.Equal(t, http.StatusOK, logout.StatusCode)
	waitForLine(t, lines, "event: redirect")
}
