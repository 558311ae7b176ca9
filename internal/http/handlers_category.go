package http

import (
	"net/http"

	"budgeit/internal/core"
)

type categoryRequest struct {
	Name  string            `json:"name"`
	Type  core.CategoryType `json:"type"`
	Color string            `json:"color"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	typ := core.CategoryType(r.URL.Query().Get("type"))
	cats, err := s.ledger.Categories(r.Context(), userIDFrom(r), typ)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if cats == nil {
		cats = []core.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := userIDFrom(r)
	cat, err := s.ledger.CreateCategory(r.Context(), userID, req.Name, req.Type, req.Color)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidateDashboard(userID)
	writeJSON(w, http.StatusCreated, cat)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category id")
		return
	}
	var req categoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := userIDFrom(r)
	cat, err := s.ledger.UpdateCategory(r.Context(), userID, id, req.Name, req.Type, req.Color)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidateDashboard(userID)
	writeJSON(w, http.StatusOK, cat)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	userID := userIDFrom(r)
	swept, err := s.ledger.DeleteCategory(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidateDashboard(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_category_id":  id,
		"deleted_transactions": swept,
	})
}
