package service

import (
	"log/slog"
	"net/http"

	"github.com/givepool/givepool/internal/auth"
	"github.com/givepool/givepool/internal/models"
)

// AuthService handles donor registration and login.
type AuthService struct {
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	logger        *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(authenticator auth.Authenticator, jwtManager *auth.JWTManager, logger *slog.Logger) *AuthService {
	return &AuthService{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		logger:        logger,
	}
}

type donorResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Admin       bool   `json:"admin"`
	CreatedAt   int64  `json:"created_at"`
}

type sessionResponse struct {
	Donor donorResponse `json:"donor"`
	Token string        `json:"token"`
}

func toDonorResponse(d *models.Donor) donorResponse {
	return donorResponse{
		ID:          d.ID,
		Email:       d.Email,
		DisplayName: d.DisplayName,
		Admin:       d.Admin,
		CreatedAt:   d.CreatedAt,
	}
}

// HandleRegister creates a new donor account and returns a session token.
func (s *AuthService) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Email == "" || req.DisplayName == "" {
		writeError(w, auth.ErrInvalidCredentials)
		return
	}

	donor, err := s.authenticator.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		s.logger.Warn("registration failed", "email", req.Email, "error", err)
		writeError(w, err)
		return
	}

	token, err := s.jwtManager.Generate(donor)
	if err != nil {
		s.logger.Error("token generation failed", "donor_id", donor.ID, "error", err)
		writeError(w, err)
		return
	}

	s.logger.Info("donor registered", "donor_id", donor.ID, "email", donor.Email)
	writeJSON(w, http.StatusCreated, sessionResponse{Donor: toDonorResponse(donor), Token: token})
}

// HandleLogin authenticates a donor and returns a session token.
func (s *AuthService) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, auth.ErrInvalidCredentials)
		return
	}

	donor, err := s.authenticator.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		s.logger.Warn("login failed", "email", req.Email, "error", err)
		writeError(w, auth.ErrInvalidCredentials)
		return
	}

	token, err := s.jwtManager.Generate(donor)
	if err != nil {
		s.logger.Error("token generation failed", "donor_id", donor.ID, "error", err)
		writeError(w, err)
		return
	}

	s.logger.Info("donor logged in", "donor_id", donor.ID)
	writeJSON(w, http.StatusOK, sessionResponse{Donor: toDonorResponse(donor), Token: token})
}
