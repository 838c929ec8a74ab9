package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/gpts"
	"github.com/router-for-me/GPTHub/internal/http/api/response"
)

// MaintenanceHandler exposes housekeeping tasks to admins.
type MaintenanceHandler struct {
	registry *gpts.Registry
}

// NewMaintenanceHandler constructs a MaintenanceHandler.
func NewMaintenanceHandler(registry *gpts.Registry) *MaintenanceHandler {
	return &MaintenanceHandler{registry: registry}
}

// Prune removes thread and file rows left behind by deleted GPTs.
func (h *MaintenanceHandler) Prune(c *gin.Context) {
	result, errPrune := h.registry.PruneOrphans(c.Request.Context())
	if errPrune != nil {
		response.Error(c, errPrune)
		return
	}
	response.OK(c, gin.H{"threads": result.Threads, "files": result.Files})
}
