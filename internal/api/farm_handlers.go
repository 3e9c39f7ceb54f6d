package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

// ownedFarm loads the farm named in the path and checks it belongs to the
// caller. Foreign farms are reported as missing.
func (h *Handler) ownedFarm(w http.ResponseWriter, r *http.Request) (*entities.Farm, bool) {
	farm, err := h.farms.GetFarmByID(r.Context(), chi.URLParam(r, "farmID"))
	if err != nil {
		h.writeServiceError(w, err)
		return nil, false
	}
	if farm == nil || farm.UserID != userFromContext(r.Context()).ID {
		h.writeError(w, http.StatusNotFound, "FARM_NOT_FOUND", "farm not found")
		return nil, false
	}
	return farm, true
}

// ownedAlert is ownedFarm for alerts, resolved through the alert's farm.
func (h *Handler) ownedAlert(w http.ResponseWriter, r *http.Request) (*entities.StressAlert, bool) {
	alert, err := h.farms.GetAlertByID(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		h.writeServiceError(w, err)
		return nil, false
	}
	if alert == nil {
		h.writeError(w, http.StatusNotFound, "ALERT_NOT_FOUND", "alert not found")
		return nil, false
	}

	farm, err := h.farms.GetFarmByID(r.Context(), alert.FarmID)
	if err != nil {
		h.writeServiceError(w, err)
		return nil, false
	}
	if farm == nil || farm.UserID != userFromContext(r.Context()).ID {
		h.writeError(w, http.StatusNotFound, "ALERT_NOT_FOUND", "alert not found")
		return nil, false
	}
	return alert, true
}

// Farm endpoints
func (h *Handler) ListFarms(w http.ResponseWriter, r *http.Request) {
	list, err := h.farms.GetFarms(r.Context(), userFromContext(r.Context()).ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateFarm(w http.ResponseWriter, r *http.Request) {
	var input entities.FarmInput
	if !h.decodeJSON(w, r, &input) {
		return
	}
	if input.Name == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMETER", "name is required")
		return
	}

	farm, err := h.farms.CreateFarm(r.Context(), userFromContext(r.Context()).ID, input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, farm)
}

func (h *Handler) GetFarm(w http.ResponseWriter, r *http.Request) {
	farm, ok := h.ownedFarm(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, farm)
}

func (h *Handler) UpdateFarm(w http.ResponseWriter, r *http.Request) {
	farm, ok := h.ownedFarm(w, r)
	if !ok {
		return
	}
	var update entities.FarmUpdate
	if !h.decodeJSON(w, r, &update) {
		return
	}

	if err := h.farms.UpdateFarm(r.Context(), farm.ID, update); err != nil {
		h.writeServiceError(w, err)
		return
	}

	updated, err := h.farms.GetFarmByID(r.Context(), farm.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteFarm(w http.ResponseWriter, r *http.Request) {
	farm, ok := h.ownedFarm(w, r)
	if !ok {
		return
	}
	if err := h.farms.DeleteFarm(r.Context(), farm.ID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetFarmHealth(w http.ResponseWriter, r *http.Request) {
	farm, ok := h.ownedFarm(w, r)
	if !ok {
		return
	}
	health, err := h.farms.GetFarmHealth(r.Context(), farm.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, health)
}

// NDVI endpoints
func (h *Handler) GetNDVI(w http.ResponseWriter, r *http.Request) {
	farm, ok := h.ownedFarm(w, r)
	if !ok {
		return
	}

	forecast := false
	if raw := r.URL.Query().Get("forecast"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "forecast must be a boolean")
			return
		}
		forecast = v
	}

	data, err := h.farms.GetNDVIData(r.Context(), farm.ID, forecast)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, NDVIResponse{FarmID: farm.ID, Data: data})
}

// AddNDVI accepts a single observation or an array of them.
func (h *Handler) AddNDVI(w http.ResponseWriter, r *http.Request) {
	farm, ok := h.ownedFarm(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var series []entities.NDVIObservation
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &series)
	} else {
		var obs entities.NDVIObservation
		err = json.Unmarshal(trimmed, &obs)
		series = []entities.NDVIObservation{obs}
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}
	for _, obs := range series {
		if obs.Date.IsZero() {
			h.writeError(w, http.StatusBadRequest, "MISSING_PARAMETER", "date is required")
			return
		}
	}

	if len(series) == 1 {
		err = h.farms.AddNDVIObservation(r.Context(), farm.ID, series[0])
	} else {
		err = h.farms.AddNDVIObservations(r.Context(), farm.ID, series)
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, NDVIResponse{FarmID: farm.ID, Data: series})
}

// Alert endpoints
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.farms.GetAlerts(r.Context(), userFromContext(r.Context()).ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) ListFarmAlerts(w http.ResponseWriter, r *http.Request) {
	farm, ok := h.ownedFarm(w, r)
	if !ok {
		return
	}
	alerts, err := h.farms.GetAlertsByFarm(r.Context(), farm.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	farm, ok := h.ownedFarm(w, r)
	if !ok {
		return
	}
	var input entities.AlertInput
	if !h.decodeJSON(w, r, &input) {
		return
	}

	alert, err := h.farms.CreateAlert(r.Context(), farm.ID, input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, alert)
}

func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.ownedAlert(w, r)
	if !ok {
		return
	}
	if err := h.farms.MarkAlertAsRead(r.Context(), alert.ID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.ownedAlert(w, r)
	if !ok {
		return
	}
	if err := h.farms.DeleteAlert(r.Context(), alert.ID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
