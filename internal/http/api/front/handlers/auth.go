package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/config"
	"github.com/router-for-me/GPTHub/internal/http/api/response"
	"github.com/router-for-me/GPTHub/internal/models"
	"github.com/router-for-me/GPTHub/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// totpIssuer names the service in authenticator apps.
const totpIssuer = "GPTHub"

// AuthHandler serves login and account security endpoints.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
	now    func() time.Time
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg, now: time.Now}
}

// loginRequest defines the request body for login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

// Login verifies credentials and issues a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		response.Invalid(c, "invalid json")
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		response.Invalid(c, "missing username or password")
		return
	}

	var user models.User
	errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&user).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		response.Error(c, errFind)
		return
	}
	if errFind != nil || !user.Active || !security.CheckPassword(user.Password, body.Password) {
		response.Error(c, apperr.New(apperr.KindUnauthorized, "invalid credentials"))
		return
	}

	now := h.now()
	if user.TOTPEnabled {
		code := strings.TrimSpace(body.TOTPCode)
		if code == "" {
			response.Error(c, apperr.New(apperr.KindUnauthorized, "totp code required"))
			return
		}
		if !security.ValidateTOTP(user.TOTPSecret, code, now) {
			response.Error(c, apperr.New(apperr.KindUnauthorized, "invalid totp code"))
			return
		}
	}

	token, expiresAt, errIssue := security.IssueUserToken(h.jwtCfg.Secret, user.ID, user.Username, user.Role, h.jwtCfg.Expiry, now)
	if errIssue != nil {
		response.Error(c, errIssue)
		return
	}
	log.WithFields(log.Fields{"user_id": user.ID}).Info("user signed in")
	response.OK(c, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user":       userView(&user),
	})
}

// Me returns the signed-in user.
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := h.loadSelf(c)
	if !ok {
		return
	}
	response.OK(c, userView(user))
}

// SetupTOTP generates a pending TOTP secret for the signed-in user.
func (h *AuthHandler) SetupTOTP(c *gin.Context) {
	user, ok := h.loadSelf(c)
	if !ok {
		return
	}
	if user.TOTPEnabled {
		response.Invalid(c, "totp already enabled")
		return
	}
	secret, url, errGenerate := security.GenerateTOTPSecret(totpIssuer, user.Username)
	if errGenerate != nil {
		response.Error(c, errGenerate)
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(user).
		Update("totp_secret", secret).Error; errUpdate != nil {
		response.Error(c, errUpdate)
		return
	}
	response.OK(c, gin.H{"secret": secret, "url": url})
}

// totpCodeRequest carries a code from the authenticator app.
type totpCodeRequest struct {
	Code string `json:"code"`
}

// EnableTOTP confirms the pending secret with a valid code.
func (h *AuthHandler) EnableTOTP(c *gin.Context) {
	h.setTOTP(c, true)
}

// DisableTOTP turns the second factor off after a valid code.
func (h *AuthHandler) DisableTOTP(c *gin.Context) {
	h.setTOTP(c, false)
}

func (h *AuthHandler) setTOTP(c *gin.Context, enabled bool) {
	var body totpCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		response.Invalid(c, "invalid json")
		return
	}
	user, ok := h.loadSelf(c)
	if !ok {
		return
	}
	if user.TOTPSecret == "" {
		response.Invalid(c, "totp not set up")
		return
	}
	if !security.ValidateTOTP(user.TOTPSecret, strings.TrimSpace(body.Code), h.now()) {
		response.Invalid(c, "invalid totp code")
		return
	}
	updates := map[string]any{"totp_enabled": enabled}
	if !enabled {
		updates["totp_secret"] = ""
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(user).Updates(updates).Error; errUpdate != nil {
		response.Error(c, errUpdate)
		return
	}
	response.OK(c, gin.H{"totp_enabled": enabled})
}

func (h *AuthHandler) loadSelf(c *gin.Context) (*models.User, bool) {
	actor := response.ActorFrom(c)
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, actor.ID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			response.Error(c, apperr.New(apperr.KindUnauthorized, "user not found"))
			return nil, false
		}
		response.Error(c, errFind)
		return nil, false
	}
	return &user, true
}

func userView(user *models.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"name":         user.Name,
		"role":         user.Role,
		"active":       user.Active,
		"totp_enabled": user.TOTPEnabled,
		"created_at":   user.CreatedAt,
	}
}
