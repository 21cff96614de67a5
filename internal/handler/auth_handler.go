package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/univ-soa/campus-auth-api/internal/models"
	"github.com/univ-soa/campus-auth-api/internal/service"
	appErrors "github.com/univ-soa/campus-auth-api/pkg/errors"
	"github.com/univ-soa/campus-auth-api/pkg/response"
)

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service *service.AuthService
	tokens  *service.TokenService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc *service.AuthService, tokens *service.TokenService) *AuthHandler {
	return &AuthHandler{service: svc, tokens: tokens}
}

// Register godoc
// @Summary Register account
// @Description Create a new account and send an activation link
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	info, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, info)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate user by username and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Authenticate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Confirm godoc
// @Summary Confirm account
// @Description Consume an activation token and enable the account
// @Tags Authentication
// @Produce json
// @Param token query string true "Activation token"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/confirm [get]
func (h *AuthHandler) Confirm(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrTokenNotFound, "activation token is required"))
		return
	}

	if err := h.service.Confirm(c.Request.Context(), token); err != nil {
		response.Error(c, err)
		return
	}

	response.Text(c, http.StatusOK, "Your account has been activated. You can now log in.")
}

// Validate godoc
// @Summary Validate session token
// @Description Report whether the presented bearer token is valid and unexpired
// @Tags Authentication
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/validate [get]
func (h *AuthHandler) Validate(c *gin.Context) {
	token := bearerToken(c)
	if !h.tokens.Validate(token) || h.tokens.IsExpired(token) {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token"))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"valid": true}, nil)
}

// Me godoc
// @Summary Get current user
// @Description Returns the authenticated user's info
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	info, err := h.service.Me(c.Request.Context(), claims.Username())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, info, nil)
}

// Logout godoc
// @Summary Logout current session
// @Description Record the logout; clients discard their token
// @Tags Authentication
// @Produce json
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Logout(c.Request.Context(), claims, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ChangePassword godoc
// @Summary Change password
// @Description Change password for current user
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.UpdatePasswordRequest true "Change password"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/update-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.UpdatePassword(c.Request.Context(), claims.Username(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Health godoc
// @Summary Service health
// @Tags Authentication
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/health [get]
func (h *AuthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP", "service": "auth-service"})
}
