package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/attachments"
	"github.com/router-for-me/GPTHub/internal/gpts"
	"github.com/router-for-me/GPTHub/internal/http/api/response"
	"github.com/router-for-me/GPTHub/internal/ratelimit"
)

// FileHandler manages files attached to a GPT.
type FileHandler struct {
	registry *gpts.Registry
	files    *attachments.Manager
	limiter  *ratelimit.Manager
}

// NewFileHandler constructs a FileHandler. limiter may be nil.
func NewFileHandler(registry *gpts.Registry, files *attachments.Manager, limiter *ratelimit.Manager) *FileHandler {
	return &FileHandler{registry: registry, files: files, limiter: limiter}
}

// List returns the files attached to the GPT.
func (h *FileHandler) List(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	actor := response.ActorFrom(c)
	ctx := c.Request.Context()
	gpt, errGet := h.registry.Get(ctx, actor, id)
	if errGet != nil {
		response.Error(c, errGet)
		return
	}
	files, errList := h.files.List(ctx, actor, gpt)
	if errList != nil {
		response.Error(c, errList)
		return
	}
	response.List(c, files)
}

// uploadFilesRequest defines the request body for persistent uploads.
type uploadFilesRequest struct {
	Files []attachments.InlineFile `json:"files"`
}

// Upload attaches new files to the GPT.
func (h *FileHandler) Upload(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodyBytes)
	var body uploadFilesRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		response.Invalid(c, "invalid json")
		return
	}
	if len(body.Files) == 0 {
		response.Invalid(c, "no files")
		return
	}

	actor := response.ActorFrom(c)
	ctx := c.Request.Context()
	if errLimit := h.limiter.Check(ctx, actor.ID, ratelimit.ScopeUpload); errLimit != nil {
		response.Error(c, errLimit)
		return
	}
	gpt, errGet := h.registry.Get(ctx, actor, id)
	if errGet != nil {
		response.Error(c, errGet)
		return
	}
	uploaded, errUpload := h.files.Upload(ctx, actor, gpt, body.Files)
	if errUpload != nil {
		response.Error(c, errUpload)
		return
	}
	response.List(c, uploaded)
}

// Delete detaches and removes one file from the GPT.
func (h *FileHandler) Delete(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	fileID := strings.TrimSpace(c.Param("fileId"))
	if fileID == "" {
		response.Invalid(c, "invalid fileId")
		return
	}
	actor := response.ActorFrom(c)
	ctx := c.Request.Context()
	gpt, errGet := h.registry.Get(ctx, actor, id)
	if errGet != nil {
		response.Error(c, errGet)
		return
	}
	if errDelete := h.files.Delete(ctx, actor, gpt, fileID); errDelete != nil {
		response.Error(c, errDelete)
		return
	}
	response.OK(c, gin.H{})
}
