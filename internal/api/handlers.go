package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/farmsight/farmsight-backend/internal/auth"
	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
	"github.com/farmsight/farmsight-backend/internal/farms"
	"github.com/farmsight/farmsight-backend/internal/settings"
	"github.com/farmsight/farmsight-backend/internal/videos"
	"github.com/farmsight/farmsight-backend/internal/ws"
)

const (
	maxBodyBytes  = 1 << 20
	maxImageBytes = 256 << 20
)

type Handler struct {
	store    *db.Store
	auth     *auth.Service
	farms    *farms.Service
	settings *settings.Service
	videos   *videos.Service
	wsHub    *ws.Hub
	logger   *zap.SugaredLogger
}

func NewHandler(
	store *db.Store,
	authSvc *auth.Service,
	farmSvc *farms.Service,
	settingsSvc *settings.Service,
	videoSvc *videos.Service,
	wsHub *ws.Hub,
	logger *zap.SugaredLogger,
) *Handler {
	return &Handler{
		store:    store,
		auth:     authSvc,
		farms:    farmSvc,
		settings: settingsSvc,
		videos:   videoSvc,
		wsHub:    wsHub,
		logger:   logger,
	}
}

// Health and ops endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz reports ready once the database handle is available. Before that
// the service runs degraded and every data route answers 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if !h.store.IsOpen() {
		h.writeError(w, http.StatusServiceUnavailable, "NOT_READY", "database not initialized")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		h.writeError(w, http.StatusServiceUnavailable, "WS_UNAVAILABLE", "push notifications disabled")
		return
	}
	h.wsHub.HandleWebSocket(w, r)
}

// Auth endpoints
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMETER", "name, email and password are required")
		return
	}

	user, err := h.auth.Register(r.Context(), req.Name, req.Email, req.Password, req.Phone)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.auth.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{
		User:      res.User,
		SessionID: res.SessionID,
		ExpiresAt: res.ExpiresAt,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), sessionFromContext(r.Context())); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, userFromContext(r.Context()))
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update entities.ProfileUpdate
	if !h.decodeJSON(w, r, &update) {
		return
	}

	user := userFromContext(r.Context())
	if err := h.auth.UpdateProfile(r.Context(), user.ID, update); err != nil {
		h.writeServiceError(w, err)
		return
	}

	updated, err := h.auth.GetUserByID(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.NewPassword == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMETER", "newPassword is required")
		return
	}

	user := userFromContext(r.Context())
	if err := h.auth.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Settings endpoints
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.GetUserSettings(r.Context(), userFromContext(r.Context()).ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update entities.SettingsUpdate
	if !h.decodeJSON(w, r, &update) {
		return
	}

	userID := userFromContext(r.Context()).ID
	if err := h.settings.UpdateUserSettings(r.Context(), userID, update); err != nil {
		h.writeServiceError(w, err)
		return
	}

	s, err := h.settings.GetUserSettings(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// Admin endpoints
func (h *Handler) ExportDatabase(w http.ResponseWriter, r *http.Request) {
	image, err := h.store.ExportBytes(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="farmsight.db"`)
	w.WriteHeader(http.StatusOK)
	w.Write(image)
}

func (h *Handler) ImportDatabase(w http.ResponseWriter, r *http.Request) {
	image, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}
	if err := h.store.ImportBytes(r.Context(), image); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Warnw("Database replaced by import", "user_id", userFromContext(r.Context()).ID, "bytes", len(image))
	h.writeJSON(w, http.StatusOK, ImportResponse{Status: "imported", Bytes: len(image)})
}

func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reset(r.Context()); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Warnw("Database reset", "user_id", userFromContext(r.Context()).ID)
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "reset"})
}

// Utility methods
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	h.writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotInitialized):
		h.writeError(w, http.StatusServiceUnavailable, "NOT_INITIALIZED", "database not initialized")
	case errors.Is(err, db.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, db.ErrNoFieldsProvided):
		h.writeError(w, http.StatusBadRequest, "NO_FIELDS", err.Error())
	case errors.Is(err, db.ErrInvalidInput), errors.Is(err, db.ErrInvalidImage):
		h.writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		h.writeError(w, http.StatusConflict, "DUPLICATE_EMAIL", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidSession):
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, auth.ErrIncorrectPassword):
		h.writeError(w, http.StatusBadRequest, "INCORRECT_PASSWORD", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
