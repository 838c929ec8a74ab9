package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/assistant"
	"github.com/router-for-me/GPTHub/internal/attachments"
	"github.com/router-for-me/GPTHub/internal/chat"
	"github.com/router-for-me/GPTHub/internal/gpts"
	"github.com/router-for-me/GPTHub/internal/http/api/response"
	"github.com/router-for-me/GPTHub/internal/threads"
)

// IdempotencyKeyHeader lets clients dedupe retried sends.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxRequestBodyBytes bounds JSON bodies that carry base64 attachments.
const maxRequestBodyBytes = 128 << 20

// ThreadHandler serves thread and message endpoints.
type ThreadHandler struct {
	registry *gpts.Registry
	threads  *threads.Manager
	chat     *chat.Engine
}

// NewThreadHandler constructs a ThreadHandler.
func NewThreadHandler(registry *gpts.Registry, threadMgr *threads.Manager, engine *chat.Engine) *ThreadHandler {
	return &ThreadHandler{registry: registry, threads: threadMgr, chat: engine}
}

// Ensure returns the caller's thread for the GPT, creating it on first use.
func (h *ThreadHandler) Ensure(c *gin.Context) {
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
	thread, errEnsure := h.threads.Ensure(c.Request.Context(), actor, gpt)
	if errEnsure != nil {
		response.Error(c, errEnsure)
		return
	}
	response.OK(c, gin.H{"id": thread.OpenAIThreadID})
}

// Reset forgets the caller's thread for the GPT.
func (h *ThreadHandler) Reset(c *gin.Context) {
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
	if errReset := h.threads.Reset(c.Request.Context(), actor, gpt); errReset != nil {
		response.Error(c, errReset)
		return
	}
	response.OK(c, gin.H{})
}

// Transcript returns the messages of a thread owned by the caller.
func (h *ThreadHandler) Transcript(c *gin.Context) {
	actor := response.ActorFrom(c)
	msgs, errList := h.chat.Transcript(c.Request.Context(), actor, strings.TrimSpace(c.Param("threadId")))
	if errList != nil {
		response.Error(c, errList)
		return
	}
	showHidden := false
	if actor.IsAdmin() {
		showHidden, _ = strconv.ParseBool(c.Query("include_hidden"))
	}
	if !showHidden {
		msgs = chat.VisibleMessages(msgs)
	}
	response.OK(c, nonNilMessages(msgs))
}

// sendMessageRequest defines the request body for a user turn.
type sendMessageRequest struct {
	Content string                   `json:"content"`
	Files   []attachments.InlineFile `json:"files"`
}

// Send posts a user turn and returns the updated transcript.
func (h *ThreadHandler) Send(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodyBytes)
	var body sendMessageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		response.Invalid(c, "invalid json")
		return
	}
	files, errDecode := attachments.Decode(body.Files)
	if errDecode != nil {
		response.Error(c, errDecode)
		return
	}

	actor := response.ActorFrom(c)
	ctx := c.Request.Context()
	gpt, errGet := h.registry.Get(ctx, actor, id)
	if errGet != nil {
		response.Error(c, errGet)
		return
	}
	msgs, errSend := h.chat.Send(ctx, actor, gpt, strings.TrimSpace(c.Param("threadId")), chat.SendInput{
		Text:           body.Content,
		Files:          files,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
	})
	if errSend != nil {
		response.Error(c, errSend)
		return
	}
	response.OK(c, nonNilMessages(chat.VisibleMessages(msgs)))
}

func nonNilMessages(msgs []assistant.Message) []assistant.Message {
	if msgs == nil {
		return []assistant.Message{}
	}
	return msgs
}
