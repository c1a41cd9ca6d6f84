package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tablero/tablero/pkg/httputil"
	"github.com/tablero/tablero/pkg/menu"
)

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) writeMenuError(w http.ResponseWriter, err error) {
	if errors.Is(err, menu.ErrNotFound) {
		httputil.WriteNotFoundError(w, "not found")
		return
	}
	httputil.WriteInternalError(w, err)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.menus.ListCategories(r.Context())
	if err != nil {
		s.writeMenuError(w, err)
		return
	}
	if categories == nil {
		categories = []menu.Category{}
	}
	httputil.WriteSuccess(w, map[string]any{"categories": categories})
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	category, err := s.menus.GetCategory(r.Context(), pathID(r))
	if err != nil {
		s.writeMenuError(w, err)
		return
	}
	httputil.WriteSuccess(w, category)
}

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
	IsActive    *bool  `json:"is_active"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}

	category := menu.Category{
		Name:        req.Name,
		Description: req.Description,
		SortOrder:   req.SortOrder,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if err := s.menus.CreateCategory(r.Context(), &category); err != nil {
		s.writeMenuError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, category)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}

	category := menu.Category{
		ID:          pathID(r),
		Name:        req.Name,
		Description: req.Description,
		SortOrder:   req.SortOrder,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if err := s.menus.UpdateCategory(r.Context(), &category); err != nil {
		s.writeMenuError(w, err)
		return
	}

	httputil.WriteSuccess(w, category)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.menus.DeleteCategory(r.Context(), pathID(r)); err != nil {
		s.writeMenuError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	var categoryID *int64
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "invalid category_id")
			return
		}
		categoryID = &id
	}

	items, err := s.menus.ListItems(r.Context(), categoryID)
	if err != nil {
		s.writeMenuError(w, err)
		return
	}
	if items == nil {
		items = []menu.Item{}
	}
	httputil.WriteSuccess(w, map[string]any{"items": items})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.menus.GetItem(r.Context(), pathID(r))
	if err != nil {
		s.writeMenuError(w, err)
		return
	}
	httputil.WriteSuccess(w, item)
}

type itemRequest struct {
	CategoryID  int64   `json:"category_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	IsAvailable *bool   `json:"is_available"`
	SortOrder   int     `json:"sort_order"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Name == "" || req.CategoryID <= 0 {
		httputil.WriteValidationError(w, "name and category_id are required")
		return
	}

	item := menu.Item{
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		IsAvailable: req.IsAvailable == nil || *req.IsAvailable,
		SortOrder:   req.SortOrder,
	}
	if err := s.menus.CreateItem(r.Context(), &item); err != nil {
		s.writeMenuError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}

	item := menu.Item{
		ID:          pathID(r),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		IsAvailable: req.IsAvailable == nil || *req.IsAvailable,
		SortOrder:   req.SortOrder,
	}
	if err := s.menus.UpdateItem(r.Context(), &item); err != nil {
		s.writeMenuError(w, err)
		return
	}

	httputil.WriteSuccess(w, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.menus.DeleteItem(r.Context(), pathID(r)); err != nil {
		s.writeMenuError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
