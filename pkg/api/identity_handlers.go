package api

import (
	"net/http"

	"github.com/tablero/tablero/pkg/access"
	"github.com/tablero/tablero/pkg/authz"
	"github.com/tablero/tablero/pkg/httputil"
)

// profileResponse is the authenticated principal's view of themselves,
// including their standing within the active company.
type profileResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Timezone    string          `json:"timezone"`
	Language    string          `json:"language"`
	Currency    string          `json:"currency"`
	IsActive    bool            `json:"is_active"`
	Preferences access.Settings `json:"preferences"`
	CompanyID   *int64          `json:"company_id,omitempty"`
	Roles       []string        `json:"roles"`
	Permissions []string        `json:"permissions"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := authz.IdentityFromContext(ctx)
	tn := authz.TenantFromContext(ctx)

	principal, err := id.Resolve(ctx)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	roles, err := id.Roles(ctx)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	permissions, err := id.Permissions(ctx)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	resp := profileResponse{
		ID:          principal.ID,
		Name:        id.Name(ctx),
		Email:       principal.Email,
		Timezone:    id.Timezone(ctx),
		Language:    id.Language(ctx),
		Currency:    id.Currency(ctx),
		IsActive:    principal.IsActive,
		Preferences: principal.Preferences,
		Roles:       roles,
		Permissions: permissions,
	}
	if companyID, ok := tn.ID(ctx); ok {
		resp.CompanyID = &companyID
	}

	httputil.WriteSuccess(w, resp)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := authz.IdentityFromContext(ctx)

	var patch access.Settings
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		httputil.WriteValidationError(w, "invalid preferences payload")
		return
	}

	ok, err := id.UpdatePreferences(ctx, patch)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	httputil.WriteSuccess(w, map[string]any{
		"preferences": id.Preferences(ctx),
	})
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := authz.IdentityFromContext(ctx)

	companies, err := id.Companies(ctx)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if companies == nil {
		companies = []access.Tenant{}
	}

	httputil.WriteSuccess(w, map[string]any{"companies": companies})
}
