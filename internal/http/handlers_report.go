package http

import (
	"net/http"

	"budgeit/internal/core"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	key := s.dashCacheKey(userID)

	if dash, found := s.dashCache.Get(key); found {
		s.log.DebugContext(r.Context(), "Dashboard cache hit", "user_id", userID)
		writeJSON(w, http.StatusOK, dash)
		return
	}

	dash, err := s.ledger.Dashboard(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.dashCache.Set(key, dash)
	writeJSON(w, http.StatusOK, dash)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Stats(r.Context(), userIDFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	chart := core.ChartType(r.PathValue("chart"))
	if !chart.Valid() {
		writeError(w, http.StatusBadRequest, "unknown chart type")
		return
	}
	mode := core.SummaryMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = core.ModeCategory
	}
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "unknown summary mode")
		return
	}

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

	points, err := s.ledger.Summary(r.Context(), userIDFrom(r), chart, mode, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if points == nil {
		points = []core.ChartPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	chart := core.ChartType(r.PathValue("chart"))
	if !chart.Valid() {
		writeError(w, http.StatusBadRequest, "unknown chart type")
		return
	}
	period := core.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = core.PeriodMonth
	}
	if period != core.PeriodMonth && period != core.PeriodYear {
		writeError(w, http.StatusBadRequest, "series period must be month or year")
		return
	}

	series, err := s.ledger.TimeSeries(r.Context(), userIDFrom(r), chart, period)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if series.Labels == nil {
		series.Labels = []string{}
	}
	if series.Values == nil {
		series.Values = []float64{}
	}
	writeJSON(w, http.StatusOK, series)
}
