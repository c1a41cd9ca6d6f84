// Package api exposes the HTTP surface: profile and preferences, company
// context and switching, and the tenant-scoped menu endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tablero/tablero/pkg/authz"
	"github.com/tablero/tablero/pkg/menu"
	"github.com/tablero/tablero/pkg/observability"
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	gate   *authz.Gate
	menus  *menu.Repository
	logger *observability.Logger
}

// NewServer creates the API server.
func NewServer(gate *authz.Gate, menus *menu.Repository, logger *observability.Logger) *Server {
	return &Server{
		gate:   gate,
		menus:  menus,
		logger: logger.WithField("component", "api"),
	}
}

// Routes registers all API routes on the router. The context middleware is
// expected to have run already; these routes only add per-route gates.
func (s *Server) Routes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	// Profile and preferences. Authentication only, no tenant requirement:
	// a principal without any company can still see and edit their profile.
	me := api.PathPrefix("/me").Subrouter()
	me.Use(authz.RequireAuthenticated())
	me.HandleFunc("", s.handleGetProfile).Methods(http.MethodGet)
	me.HandleFunc("/preferences", s.handleUpdatePreferences).Methods(http.MethodPatch)
	me.HandleFunc("/companies", s.handleListCompanies).Methods(http.MethodGet)

	// Company context. Settings first: the more specific prefix must not be
	// shadowed by the /company subrouter.
	settings := api.PathPrefix("/company/settings").Subrouter()
	settings.Use(authz.RequirePermission(s.gate, "manage_settings"))
	settings.HandleFunc("", s.handleUpdateCompanySettings).Methods(http.MethodPatch)

	company := api.PathPrefix("/company").Subrouter()
	company.Use(authz.RequireAuthenticated())
	company.HandleFunc("", s.handleGetCompany).Methods(http.MethodGet)
	company.HandleFunc("/switch", s.handleSwitchCompany).Methods(http.MethodPost)

	// Menu. Reads need menu.view, writes the matching mutation permission.
	menuView := api.PathPrefix("/menu").Subrouter()
	menuView.Use(authz.RequirePermission(s.gate, "menu.view"))
	menuView.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet)
	menuView.HandleFunc("/categories/{id:[0-9]+}", s.handleGetCategory).Methods(http.MethodGet)
	menuView.HandleFunc("/items", s.handleListItems).Methods(http.MethodGet)
	menuView.HandleFunc("/items/{id:[0-9]+}", s.handleGetItem).Methods(http.MethodGet)

	menuCreate := api.PathPrefix("/menu").Subrouter()
	menuCreate.Use(authz.RequirePermission(s.gate, "create_menu"))
	menuCreate.HandleFunc("/categories", s.handleCreateCategory).Methods(http.MethodPost)
	menuCreate.HandleFunc("/items", s.handleCreateItem).Methods(http.MethodPost)

	menuEdit := api.PathPrefix("/menu").Subrouter()
	menuEdit.Use(authz.RequirePermission(s.gate, "edit_menu"))
	menuEdit.HandleFunc("/categories/{id:[0-9]+}", s.handleUpdateCategory).Methods(http.MethodPut)
	menuEdit.HandleFunc("/items/{id:[0-9]+}", s.handleUpdateItem).Methods(http.MethodPut)

	menuDelete := api.PathPrefix("/menu").Subrouter()
	menuDelete.Use(authz.RequirePermission(s.gate, "delete_menu"))
	menuDelete.HandleFunc("/categories/{id:[0-9]+}", s.handleDeleteCategory).Methods(http.MethodDelete)
	menuDelete.HandleFunc("/items/{id:[0-9]+}", s.handleDeleteItem).Methods(http.MethodDelete)
}
