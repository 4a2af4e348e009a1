// Package handlers provides the HTTP API of the rolodex sync server.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/auth"
	"github.com/memohai/rolodex/internal/config"
)

// AuthHandler serves /auth/login and issues JWTs for the operator.
type AuthHandler struct {
	username     string
	passwordHash string
	jwtSecret    string
	expiresIn    time.Duration
	logger       *slog.Logger
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the success body (access_token, expires_at).
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
	Username    string `json:"username"`
}

// NewAuthHandler creates an auth handler from the operator credentials in cfg.
func NewAuthHandler(log *slog.Logger, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{
		username:     cfg.OperatorUser,
		passwordHash: cfg.OperatorPasswordHash,
		jwtSecret:    cfg.JWTSecret,
		expiresIn:    cfg.ExpiresIn(),
		logger:       log.With(slog.String("handler", "auth")),
	}
}

// Register mounts POST /auth/login on the Echo instance.
func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

// Login godoc
// @Summary Login
// @Description Validate operator credentials and issue a JWT
// @Tags auth
// @Param payload body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/login [post].
func (h *AuthHandler) Login(c echo.Context) error {
	if strings.TrimSpace(h.jwtSecret) == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "jwt secret not configured")
	}
	if strings.TrimSpace(h.passwordHash) == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "operator password not configured")
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || strings.TrimSpace(req.Password) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}
	if !strings.EqualFold(req.Username, h.username) || !auth.CheckPassword(h.passwordHash, req.Password) {
		h.logger.Warn("login rejected", slog.String("username", req.Username), slog.String("remote_ip", c.RealIP()))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	token, expiresAt, err := auth.GenerateToken(h.username, h.jwtSecret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Username:    h.username,
	})
}
