package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/killswitch/internal/incident"
)

const defaultIncidentLimit = 20

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := defaultIncidentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.incidents.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing incidents", "error", err)
		respondDomainError(w, err)
		return
	}
	if list == nil {
		list = []*incident.Incident{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "incidentID")
	inc, err := s.incidents.Get(r.Context(), id)
	if errors.Is(err, incident.ErrNotFound) {
		respondError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		s.logger.Error("loading incident", "incident_id", id, "error", err)
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inc)
}
