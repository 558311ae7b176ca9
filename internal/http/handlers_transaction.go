package http

import (
	"net/http"

	"budgeit/internal/core"
	"budgeit/internal/service"
)

// transactionRequest takes the amount as a decimal string so clients
// never deal in cents.
type transactionRequest struct {
	CategoryID int64             `json:"category_id"`
	Amount     string            `json:"amount"`
	Type       core.CategoryType `json:"type"`
	Date       string            `json:"date"`
	ItemName   string            `json:"item_name"`
}

func (req transactionRequest) toTransaction() (core.Transaction, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		CategoryID: req.CategoryID,
		Amount:     amount,
		Type:       req.Type,
		Date:       date,
		ItemName:   req.ItemName,
	}, nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	period, start, end, typ, categoryID, err := reportFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter parameters")
		return
	}
	filter, err := s.ledger.ResolveFilter(period, start, end, typ, categoryID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views, err := s.ledger.Transactions(r.Context(), userIDFrom(r), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if views == nil {
		views = []service.TransactionView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := req.toTransaction()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	userID := userIDFrom(r)
	created, err := s.ledger.RecordTransaction(r.Context(), userID, t)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidateDashboard(userID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	t, err := s.ledger.Transaction(r.Context(), userIDFrom(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := req.toTransaction()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	t.ID = id

	userID := userIDFrom(r)
	updated, err := s.ledger.UpdateTransaction(r.Context(), userID, t)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidateDashboard(userID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	userID := userIDFrom(r)
	voided, err := s.ledger.DeleteTransaction(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidateDashboard(userID)
	writeJSON(w, http.StatusOK, voided)
}
