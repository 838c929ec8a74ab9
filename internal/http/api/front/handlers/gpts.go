package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/access"
	"github.com/router-for-me/GPTHub/internal/gpts"
	"github.com/router-for-me/GPTHub/internal/http/api/response"
	"github.com/router-for-me/GPTHub/internal/models"
)

// GPTHandler manages GPT endpoints.
type GPTHandler struct {
	registry *gpts.Registry
}

// NewGPTHandler constructs a GPTHandler.
func NewGPTHandler(registry *gpts.Registry) *GPTHandler {
	return &GPTHandler{registry: registry}
}

// List returns the GPTs visible to the caller, optionally filtered by q.
func (h *GPTHandler) List(c *gin.Context) {
	actor := response.ActorFrom(c)
	rows, errList := h.registry.List(c.Request.Context(), actor, gpts.ListFilter{Query: c.Query("q")})
	if errList != nil {
		response.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, gptView(actor, &rows[i]))
	}
	response.List(c, out)
}

// Get returns one GPT.
func (h *GPTHandler) Get(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	actor := response.ActorFrom(c)
	gpt, errGet := h.registry.Get(c.Request.Context(), actor, id)
	if errGet != nil {
		response.Error(c, errGet)
		return
	}
	response.OK(c, gptView(actor, gpt))
}

// Create imports an upstream assistant as a GPT.
func (h *GPTHandler) Create(c *gin.Context) {
	var body gpts.ImportInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		response.Invalid(c, "invalid json")
		return
	}
	actor := response.ActorFrom(c)
	gpt, errImport := h.registry.Import(c.Request.Context(), actor, body)
	if errImport != nil {
		response.Error(c, errImport)
		return
	}
	response.OK(c, gptView(actor, gpt))
}

// Update patches a GPT.
func (h *GPTHandler) Update(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	var body gpts.Patch
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		response.Invalid(c, "invalid json")
		return
	}
	actor := response.ActorFrom(c)
	gpt, errUpdate := h.registry.Update(c.Request.Context(), actor, id, body)
	if errUpdate != nil {
		response.Error(c, errUpdate)
		return
	}
	response.OK(c, gptView(actor, gpt))
}

// Delete removes a GPT.
func (h *GPTHandler) Delete(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	if errRemove := h.registry.Remove(c.Request.Context(), response.ActorFrom(c), id); errRemove != nil {
		response.Error(c, errRemove)
		return
	}
	response.OK(c, gin.H{})
}

// gptView renders a GPT. Instructions and the allow-list are shown to modifiers only.
func gptView(actor access.Actor, gpt *models.GPT) gin.H {
	out := gin.H{
		"id":          gpt.ID,
		"name":        gpt.Name,
		"description": gpt.Description,
		"openai_id":   gpt.OpenAIID,
		"model":       gpt.Model,
		"image_url":   gpt.ImageURL,
		"created_by":  gpt.CreatedBy,
		"is_public":   gpt.IsPublic,
		"created_at":  gpt.CreatedAt,
		"updated_at":  gpt.UpdatedAt,
	}
	if access.CanModify(actor, gpt) {
		allowed := gpt.AllowedUsers
		if allowed == nil {
			allowed = models.UserIDs{}
		}
		out["instructions"] = gpt.Instructions
		out["allowed_users"] = allowed
	}
	return out
}
