package api

import (
	"time"

	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User      *entities.User `json:"user"`
	SessionID string         `json:"sessionId"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type NDVIResponse struct {
	FarmID string                     `json:"farmId"`
	Data   []entities.NDVIObservation `json:"data"`
}

type VideoCategoriesResponse struct {
	Categories []string `json:"categories"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ImportResponse struct {
	Status string `json:"status"`
	Bytes  int    `json:"bytes"`
}
