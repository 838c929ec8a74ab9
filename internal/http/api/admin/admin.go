package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/config"
	"github.com/router-for-me/GPTHub/internal/gpts"
	handlers "github.com/router-for-me/GPTHub/internal/http/api/admin/handlers"
	"github.com/router-for-me/GPTHub/internal/http/api/front"
	"github.com/router-for-me/GPTHub/internal/http/api/response"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers admin-only routes under /api/v1/admin.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, registry *gpts.Registry) {
	if r == nil || db == nil {
		return
	}

	authed := r.Group("/api/v1/admin")
	authed.Use(front.UserAuthMiddleware(db, jwtCfg))
	authed.Use(adminOnlyMiddleware())

	userHandler := handlers.NewUserHandler(db)
	authed.POST("/users", userHandler.Create)
	authed.GET("/users", userHandler.List)
	authed.GET("/users/:id", userHandler.Get)
	authed.PUT("/users/:id", userHandler.Update)
	authed.DELETE("/users/:id", userHandler.Delete)
	authed.PUT("/users/:id/password", userHandler.ChangePassword)

	if registry != nil {
		maintenanceHandler := handlers.NewMaintenanceHandler(registry)
		authed.POST("/maintenance/prune", maintenanceHandler.Prune)
	}
}

// adminOnlyMiddleware rejects callers without the admin role.
func adminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !response.ActorFrom(c).IsAdmin() {
			response.Error(c, apperr.New(apperr.KindForbidden, "admin role required"))
			return
		}
		c.Next()
	}
}
