package http

import (
	"net/http"
	"time"

	"budgeit/internal/core"
)

type userSummary struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.ledger.Users(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.ledger.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userSummary{ID: user.ID, Username: user.Username, Email: user.Email, CreatedAt: user.CreatedAt})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.ledger.ResetPassword(r.Context(), username, req.Password); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password reset", "username": username})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if err := s.ledger.RemoveUser(r.Context(), username); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "username": username})
}

// handleDBStatus reports which backend the process settled on at startup
// and its current health.
func (s *Server) handleDBStatus(w http.ResponseWriter, r *http.Request) {
	backend, latency, err := s.db.Status(r.Context())
	resp := map[string]any{
		"backend":    backend,
		"latency_ms": latency.Milliseconds(),
		"healthy":    err == nil,
	}
	if err != nil {
		s.log.ErrorContext(r.Context(), "Database status check failed", "backend", backend, "error", err)
		resp["error"] = core.ErrPersistence.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
