package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dcabot/internal/service"
)

type AuthHandler struct {
	Service *service.AuthService
}

// Register mounts the public routes on r and /auth/me behind requireAuth.
func (h *AuthHandler) Register(r gin.IRouter, requireAuth gin.HandlerFunc) {
	g := r.Group("/auth")
	g.POST("/register", h.register)
	g.POST("/login", h.login)
	g.GET("/me", requireAuth, h.me)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// @Summary Create an account
// @Tags auth
// @Accept json
// @Produce json
// @Param body body registerRequest true "credentials"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	sess, err := h.Service.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	Created(c, sess)
}

// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param body body loginRequest true "credentials"
// @Success 200 {object} apiResponse
// @Failure 401 {object} apiResponse
// @Router /api/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	sess, err := h.Service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, sess, nil)
}

// @Summary Current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	user, err := h.Service.Me(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, user, nil)
}
