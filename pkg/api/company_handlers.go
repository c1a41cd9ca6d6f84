package api

import (
	"net/http"

	"github.com/tablero/tablero/pkg/access"
	"github.com/tablero/tablero/pkg/authz"
	"github.com/tablero/tablero/pkg/httputil"
)

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tn := authz.TenantFromContext(ctx)

	company, err := tn.Resolve(ctx)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if company == nil {
		httputil.WriteErrorMessage(w, http.StatusForbidden, "no company context")
		return
	}

	httputil.WriteSuccess(w, company)
}

type switchCompanyRequest struct {
	CompanyID int64 `json:"company_id"`
}

func (s *Server) handleSwitchCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tn := authz.TenantFromContext(ctx)

	var req switchCompanyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.CompanyID <= 0 {
		httputil.WriteValidationError(w, "company_id is required")
		return
	}

	ok, err := tn.SwitchTo(ctx, req.CompanyID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !ok {
		// Nonexistent and inaccessible targets read the same: denied.
		httputil.WriteErrorMessage(w, http.StatusForbidden, "access denied to company")
		return
	}

	company, err := tn.Resolve(ctx)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, company)
}

func (s *Server) handleUpdateCompanySettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tn := authz.TenantFromContext(ctx)

	var patch access.Settings
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		httputil.WriteValidationError(w, "invalid settings payload")
		return
	}

	ok, err := tn.UpdateSettings(ctx, patch)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusForbidden, "no company context")
		return
	}

	httputil.WriteSuccess(w, map[string]any{
		"settings": tn.Settings(ctx),
	})
}
