package front

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/access"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/attachments"
	"github.com/router-for-me/GPTHub/internal/chat"
	"github.com/router-for-me/GPTHub/internal/config"
	"github.com/router-for-me/GPTHub/internal/gpts"
	handlers "github.com/router-for-me/GPTHub/internal/http/api/front/handlers"
	"github.com/router-for-me/GPTHub/internal/http/api/response"
	"github.com/router-for-me/GPTHub/internal/models"
	"github.com/router-for-me/GPTHub/internal/ratelimit"
	"github.com/router-for-me/GPTHub/internal/security"
	"github.com/router-for-me/GPTHub/internal/threads"
	"gorm.io/gorm"
)

// Deps bundles the services the user-facing API is built on.
type Deps struct {
	DB       *gorm.DB
	JWT      config.JWTConfig
	Registry *gpts.Registry
	Threads  *threads.Manager
	Chat     *chat.Engine
	Files    *attachments.Manager
	Limiter  *ratelimit.Manager
}

// RegisterFrontRoutes registers the user-facing routes under /api/v1.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	api := r.Group("/api/v1")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWT)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(UserAuthMiddleware(deps.DB, deps.JWT))

	authed.GET("/auth/me", authHandler.Me)
	authed.POST("/auth/totp/setup", authHandler.SetupTOTP)
	authed.POST("/auth/totp/enable", authHandler.EnableTOTP)
	authed.POST("/auth/totp/disable", authHandler.DisableTOTP)

	gptHandler := handlers.NewGPTHandler(deps.Registry)
	authed.GET("/gpts", gptHandler.List)
	authed.POST("/gpts", gptHandler.Create)
	authed.GET("/gpts/:id", gptHandler.Get)
	authed.PUT("/gpts/:id", gptHandler.Update)
	authed.DELETE("/gpts/:id", gptHandler.Delete)

	threadHandler := handlers.NewThreadHandler(deps.Registry, deps.Threads, deps.Chat)
	authed.POST("/gpts/:id/threads", threadHandler.Ensure)
	authed.DELETE("/gpts/:id/threads", threadHandler.Reset)
	authed.GET("/gpts/threads/:threadId/messages", threadHandler.Transcript)
	authed.POST("/gpts/:id/threads/:threadId/messages", threadHandler.Send)

	fileHandler := handlers.NewFileHandler(deps.Registry, deps.Files, deps.Limiter)
	authed.GET("/gpts/:id/files", fileHandler.List)
	authed.POST("/gpts/:id/files", fileHandler.Upload)
	authed.DELETE("/gpts/:id/files/:fileId", fileHandler.Delete)
}

// UserAuthMiddleware validates bearer JWTs and loads the acting user.
func UserAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, apperr.New(apperr.KindUnauthorized, "missing authorization header"))
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			response.Error(c, apperr.New(apperr.KindUnauthorized, "invalid authorization format"))
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			response.Error(c, apperr.New(apperr.KindUnauthorized, "empty token"))
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, token)
		if errJWT != nil {
			response.Error(c, apperr.New(apperr.KindUnauthorized, "invalid token"))
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			response.Error(c, apperr.New(apperr.KindUnauthorized, "user not found"))
			return
		}
		if !user.Active {
			response.Error(c, apperr.New(apperr.KindForbidden, "user disabled"))
			return
		}

		response.SetActor(c, access.ActorFromUser(&user))
		c.Next()
	}
}
