package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablero/tablero/pkg/access"
	"github.com/tablero/tablero/pkg/access/accesstest"
	"github.com/tablero/tablero/pkg/authn"
	"github.com/tablero/tablero/pkg/authz"
	"github.com/tablero/tablero/pkg/cache"
	"github.com/tablero/tablero/pkg/menu"
	"github.com/tablero/tablero/pkg/observability"
	"github.com/tablero/tablero/pkg/scope"
	"github.com/tablero/tablero/pkg/session"
)

// apiFixture wires the whole request path: token validation, context
// resolution, gates and handlers, backed by the fake store and a mocked
// menu database.
type apiFixture struct {
	store    *accesstest.Store
	cache    cache.Cache
	sessions session.Store
	verifier *authn.Verifier
	dbmock   sqlmock.Sqlmock
	handler  http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := accesstest.NewStore()
	c := cache.NewMemoryCache(128, time.Hour)
	sessions := session.NewMemoryStore(time.Hour)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	mutator := access.NewMutator(store, c, logger, time.Hour)
	verifier := authn.NewVerifier("test-secret", "tablero")

	db, dbmock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	enforcer := scope.NewEnforcer(func(ctx context.Context) (int64, bool) {
		tn := authz.TenantFromContext(ctx)
		if tn == nil {
			return 0, false
		}
		return tn.ID(ctx)
	}, menu.ScopeManifest())
	menus := menu.NewRepository(db, enforcer, logger)

	router := mux.NewRouter()
	router.Use(authn.Middleware(verifier, logger))
	router.Use(authz.ContextMiddleware(authz.MiddlewareDeps{
		Store:    store,
		Cache:    c,
		Sessions: sessions,
		Mutator:  mutator,
		Logger:   logger,
	}))
	NewServer(authz.NewGate(nil), menus, logger).Routes(router)

	return &apiFixture{
		store:    store,
		cache:    c,
		sessions: sessions,
		verifier: verifier,
		dbmock:   dbmock,
		handler:  router,
	}
}

// seedEmployee sets up principal 42 as a member of companies 7 and 9 with
// the given permissions at company 7.
func (f *apiFixture) seedEmployee(perms ...string) {
	f.store.Principals[42] = &access.Principal{
		ID: 42, Name: "maria", Email: "maria@example.com", IsActive: true,
		Preferences: access.Settings{"language": "es"},
	}
	f.store.Tenants[7] = &access.Tenant{ID: 7, Name: "Company A", Slug: "company-a", Settings: access.Settings{"theme": "light"}}
	f.store.Tenants[9] = &access.Tenant{ID: 9, Name: "Company B", Slug: "company-b"}
	f.store.Memberships = []access.Membership{
		{ID: 1, PrincipalID: 42, TenantID: 7, CreatedAt: time.Now().Add(-48 * time.Hour)},
		{ID: 2, PrincipalID: 42, TenantID: 9, CreatedAt: time.Now().Add(-time.Hour)},
	}
	role := access.Role{ID: 1, Name: "employee", IsActive: true}
	for i, p := range perms {
		role.Permissions = append(role.Permissions, access.Permission{ID: int64(i + 1), Name: p})
	}
	f.store.Grants = []accesstest.Grant{{
		Role:  role,
		Grant: access.RoleGrant{PrincipalID: 42, TenantID: 7, RoleID: 1, IsActive: true},
	}}
}

func (f *apiFixture) request(t *testing.T, method, path string, body any, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if authenticated {
		token, err := f.verifier.Issue(42, "sess-1", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetProfile(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee("menu.view")

	rec := f.request(t, http.MethodGet, "/api/v1/me", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(42), body["id"])
	assert.Equal(t, "maria", body["name"])
	assert.Equal(t, float64(7), body["company_id"])
	assert.Equal(t, []any{"employee"}, body["roles"])
	assert.Equal(t, []any{"menu.view"}, body["permissions"])
	// Defaults fill unset locale fields.
	assert.Equal(t, "UTC", body["timezone"])
}

func TestGetProfileUnauthenticated(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee()

	rec := f.request(t, http.MethodGet, "/api/v1/me", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdatePreferencesMerges(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee()

	rec := f.request(t, http.MethodPatch, "/api/v1/me/preferences",
		map[string]any{"digest": "daily"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	prefs := decodeBody(t, rec)["preferences"].(map[string]any)
	assert.Equal(t, "daily", prefs["digest"])
	assert.Equal(t, "es", prefs["language"])
}

func TestListCompanies(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee()

	rec := f.request(t, http.MethodGet, "/api/v1/me/companies", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	companies := decodeBody(t, rec)["companies"].([]any)
	require.Len(t, companies, 2)
	first := companies[0].(map[string]any)
	assert.Equal(t, "company-a", first["slug"])
}

func TestGetCompany(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee()

	rec := f.request(t, http.MethodGet, "/api/v1/company", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(7), body["id"])
}

func TestGetCompanyWithoutContext(t *testing.T) {
	f := newAPIFixture(t)
	f.store.Principals[42] = &access.Principal{ID: 42, Name: "maria", IsActive: true}

	rec := f.request(t, http.MethodGet, "/api/v1/company", nil, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSwitchCompany(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee()

	rec := f.request(t, http.MethodPost, "/api/v1/company/switch",
		map[string]any{"company_id": 9}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(9), decodeBody(t, rec)["id"])

	// The choice sticks for the next request on the same session.
	rec = f.request(t, http.MethodGet, "/api/v1/company", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(9), decodeBody(t, rec)["id"])
}

func TestSwitchCompanyDenied(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee()
	f.store.Tenants[11] = &access.Tenant{ID: 11, Name: "Forbidden Co", Slug: "forbidden"}

	rec := f.request(t, http.MethodPost, "/api/v1/company/switch",
		map[string]any{"company_id": 11}, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSwitchCompanyNonexistent(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee()

	rec := f.request(t, http.MethodPost, "/api/v1/company/switch",
		map[string]any{"company_id": 9999999}, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSwitchCompanyValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee()

	rec := f.request(t, http.MethodPost, "/api/v1/company/switch",
		map[string]any{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateCompanySettings(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee("manage_settings")

	rec := f.request(t, http.MethodPatch, "/api/v1/company/settings",
		map[string]any{"tax_rate": 0.21}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	settings := decodeBody(t, rec)["settings"].(map[string]any)
	assert.Equal(t, 0.21, settings["tax_rate"])
	assert.Equal(t, "light", settings["theme"])
}

func TestUpdateCompanySettingsForbidden(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee("menu.view")

	rec := f.request(t, http.MethodPatch, "/api/v1/company/settings",
		map[string]any{"tax_rate": 0.21}, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMenuRequiresViewPermission(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee() // no permissions at all

	rec := f.request(t, http.MethodGet, "/api/v1/menu/categories", nil, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMenuViewerCannotMutate(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee("menu.view")

	rec := f.request(t, http.MethodPost, "/api/v1/menu/categories",
		map[string]any{"name": "Starters"}, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "create_menu")
}

func TestListMenuCategories(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee("menu.view")
	now := time.Now()

	f.dbmock.ExpectQuery(`SELECT .+ FROM menu_categories`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "company_id", "name", "description", "sort_order", "is_active", "created_at", "updated_at",
		}).AddRow(1, 7, "Starters", nil, 1, true, now, now))

	rec := f.request(t, http.MethodGet, "/api/v1/menu/categories", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	categories := decodeBody(t, rec)["categories"].([]any)
	require.Len(t, categories, 1)
	assert.Equal(t, "Starters", categories[0].(map[string]any)["name"])
}

func TestCreateMenuCategory(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEmployee("create_menu")
	now := time.Now()

	f.dbmock.ExpectQuery(`INSERT INTO menu_categories`).
		WithArgs(int64(7), "Starters", "", 0, true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(1, now, now))

	rec := f.request(t, http.MethodPost, "/api/v1/menu/categories",
		map[string]any{"name": "Starters"}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, float64(7), body["company_id"])
}
