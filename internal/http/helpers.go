package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"budgeit/internal/auth"
	"budgeit/internal/core"
	"budgeit/internal/service"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	claimsKey    ctxKey = "claims"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps failure kinds onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, core.ErrDuplicateName):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrCategoryMismatch),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrInvalidColor),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrEmptyName):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, core.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, core.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody reads a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// bearerToken pulls the token out of the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return ""
}

// withUser authenticates the request and stashes the claims in context.
func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.tokens.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	}
}

// withAdmin additionally requires the administrative account.
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.withUser(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r)
		if claims.Username != service.AdminUsername {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}

func contextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

func userIDFrom(r *http.Request) int64 {
	if claims := claimsFrom(r); claims != nil {
		return claims.UserID
	}
	return 0
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// reportFilter reads the shared reporting query parameters. The period
// defaults to "all"; start and end only apply to custom periods.
func reportFilter(r *http.Request) (core.Period, core.Date, core.Date, core.CategoryType, int64, error) {
	q := r.URL.Query()

	period := core.Period(q.Get("period"))
	if period == "" {
		period = core.PeriodAll
	}

	var start, end core.Date
	var err error
	if v := q.Get("start"); v != "" {
		if start, err = core.ParseDate(v); err != nil {
			return "", core.Date{}, core.Date{}, "", 0, err
		}
	}
	if v := q.Get("end"); v != "" {
		if end, err = core.ParseDate(v); err != nil {
			return "", core.Date{}, core.Date{}, "", 0, err
		}
	}

	typ := core.CategoryType(q.Get("type"))

	var categoryID int64
	if v := q.Get("category_id"); v != "" {
		if categoryID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return "", core.Date{}, core.Date{}, "", 0, err
		}
	}

	return period, start, end, typ, categoryID, nil
}
