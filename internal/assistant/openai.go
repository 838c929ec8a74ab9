package assistant

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/config"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

const (
	listPageSize = 100
	// Uploads meant for image content parts.
	purposeVision openai.PurposeType = "vision"
	// Metadata key linking a vector store back to its assistant.
	storeAssistantKey = "gpthub_assistant"
)

// OpenAIClient implements Client on top of the OpenAI Assistants API.
type OpenAIClient struct {
	client  *openai.Client
	baseURL string
	apiKey  string
	orgID   string
	doer    openai.HTTPDoer

	// resourceMu serializes read-modify-write of assistant tool resources.
	resourceMu sync.Mutex
}

// NewOpenAIClient constructs an OpenAIClient from provider settings.
func NewOpenAIClient(cfg config.OpenAIConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		clientCfg.OrgID = cfg.Organization
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		baseURL: strings.TrimRight(clientCfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		orgID:   clientCfg.OrgID,
		doer:    clientCfg.HTTPClient,
	}
}

// RetrieveAssistant fetches assistant details.
func (c *OpenAIClient) RetrieveAssistant(ctx context.Context, assistantID string) (AssistantInfo, error) {
	asst, errRetrieve := c.client.RetrieveAssistant(ctx, assistantID)
	if errRetrieve != nil {
		return AssistantInfo{}, translateError(errRetrieve, "retrieve assistant")
	}
	return AssistantInfo{
		ID:           asst.ID,
		Name:         derefString(asst.Name),
		Description:  derefString(asst.Description),
		Model:        asst.Model,
		Instructions: derefString(asst.Instructions),
	}, nil
}

// CreateThread creates an empty thread and appends the seed messages in order.
// When a seed fails the thread id is still returned so the caller can delete it.
func (c *OpenAIClient) CreateThread(ctx context.Context, seed []NewMessage) (string, error) {
	thread, errCreate := c.client.CreateThread(ctx, openai.ThreadRequest{})
	if errCreate != nil {
		return "", translateError(errCreate, "create thread")
	}
	for _, msg := range seed {
		if _, errPost := c.PostMessage(ctx, thread.ID, msg); errPost != nil {
			return thread.ID, errPost
		}
	}
	return thread.ID, nil
}

// DeleteThread deletes a thread.
func (c *OpenAIClient) DeleteThread(ctx context.Context, threadID string) error {
	if _, errDelete := c.client.DeleteThread(ctx, threadID); errDelete != nil {
		return translateError(errDelete, "delete thread")
	}
	return nil
}

// PostMessage appends a message to a thread. Vision attachments become
// image_file content parts; the rest ride along as tool attachments.
func (c *OpenAIClient) PostMessage(ctx context.Context, threadID string, msg NewMessage) (string, error) {
	role := openai.ChatMessageRoleUser
	if msg.Role == RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}
	var metadata map[string]any
	if len(msg.Metadata) > 0 {
		metadata = make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			metadata[k] = v
		}
	}
	var images []string
	var attachments []openai.ThreadAttachment
	for _, att := range msg.Attachments {
		if att.Tool == ToolVision {
			images = append(images, att.FileID)
			continue
		}
		tool := att.Tool
		if tool == "" {
			tool = ToolFileSearch
		}
		attachments = append(attachments, openai.ThreadAttachment{
			FileID: att.FileID,
			Tools:  []openai.ThreadAttachmentTool{{Type: string(tool)}},
		})
	}

	if len(images) > 0 {
		created, errPost := c.postContentMessage(ctx, threadID, contentMessageRequest{
			Role:        role,
			Content:     contentParts(msg.Text, images),
			Attachments: attachments,
			Metadata:    metadata,
		})
		if errPost != nil {
			return "", translateError(errPost, "post message")
		}
		return created.ID, nil
	}

	created, errCreate := c.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:        role,
		Content:     msg.Text,
		Attachments: attachments,
		Metadata:    metadata,
	})
	if errCreate != nil {
		return "", translateError(errCreate, "post message")
	}
	return created.ID, nil
}

// ListMessages returns every message of the thread in chronological order.
func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	limit := listPageSize
	order := "asc"
	var after *string
	var out []Message
	for {
		page, errList := c.client.ListMessage(ctx, threadID, &limit, &order, after, nil, nil)
		if errList != nil {
			return nil, translateError(errList, "list messages")
		}
		for _, msg := range page.Messages {
			out = append(out, convertMessage(msg))
		}
		if !page.HasMore || page.LastID == nil || len(page.Messages) == 0 {
			break
		}
		last := *page.LastID
		after = &last
	}
	return out, nil
}

// CreateRun starts a run.
func (c *OpenAIClient) CreateRun(ctx context.Context, threadID string, req RunRequest) (Run, error) {
	run, errCreate := c.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID:  req.AssistantID,
		Model:        req.Model,
		Instructions: req.Instructions,
	})
	if errCreate != nil {
		return Run{}, translateError(errCreate, "create run")
	}
	return convertRun(run), nil
}

// RetrieveRun fetches the current state of a run.
func (c *OpenAIClient) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, errRetrieve := c.client.RetrieveRun(ctx, threadID, runID)
	if errRetrieve != nil {
		return Run{}, translateError(errRetrieve, "retrieve run")
	}
	return convertRun(run), nil
}

// UploadFile stores a file for assistant use.
func (c *OpenAIClient) UploadFile(ctx context.Context, file FileUpload) (File, error) {
	purpose := openai.PurposeAssistants
	if file.Tool == ToolVision {
		purpose = purposeVision
	}
	uploaded, errUpload := c.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    file.Name,
		Bytes:   file.Data,
		Purpose: purpose,
	})
	if errUpload != nil {
		return File{}, translateError(errUpload, "upload file")
	}
	return convertFile(uploaded), nil
}

// DeleteFile deletes a stored file.
func (c *OpenAIClient) DeleteFile(ctx context.Context, fileID string) error {
	if errDelete := c.client.DeleteFile(ctx, fileID); errDelete != nil {
		return translateError(errDelete, "delete file")
	}
	return nil
}

// AttachAssistantFile makes a stored file available to the assistant.
// Code interpreter files join the assistant's tool resources; searchable
// files go into the assistant's vector store, created on first use.
func (c *OpenAIClient) AttachAssistantFile(ctx context.Context, assistantID string, att Attachment) error {
	c.resourceMu.Lock()
	defer c.resourceMu.Unlock()

	asst, errRetrieve := c.client.RetrieveAssistant(ctx, assistantID)
	if errRetrieve != nil {
		return translateError(errRetrieve, "attach assistant file")
	}
	res := copyResources(asst.ToolResources)

	if att.Tool == ToolCodeInterpreter {
		if slices.Contains(res.CodeInterpreter.FileIDs, att.FileID) {
			return nil
		}
		res.CodeInterpreter.FileIDs = append(res.CodeInterpreter.FileIDs, att.FileID)
		return c.updateResources(ctx, asst, res, ToolCodeInterpreter, "attach assistant file")
	}

	storeID, errStore := c.ensureVectorStore(ctx, asst, res)
	if errStore != nil {
		return errStore
	}
	if _, errAdd := c.client.CreateVectorStoreFile(ctx, storeID, openai.VectorStoreFileRequest{FileID: att.FileID}); errAdd != nil {
		return translateError(errAdd, "attach assistant file")
	}
	return nil
}

// DetachAssistantFile removes a file from the assistant's tool resources.
func (c *OpenAIClient) DetachAssistantFile(ctx context.Context, assistantID, fileID string) error {
	c.resourceMu.Lock()
	defer c.resourceMu.Unlock()

	asst, errRetrieve := c.client.RetrieveAssistant(ctx, assistantID)
	if errRetrieve != nil {
		return translateError(errRetrieve, "detach assistant file")
	}
	res := copyResources(asst.ToolResources)

	if idx := slices.Index(res.CodeInterpreter.FileIDs, fileID); idx >= 0 {
		res.CodeInterpreter.FileIDs = slices.Delete(res.CodeInterpreter.FileIDs, idx, idx+1)
		return c.updateResources(ctx, asst, res, ToolCodeInterpreter, "detach assistant file")
	}
	for _, storeID := range res.FileSearch.VectorStoreIDs {
		errDelete := c.client.DeleteVectorStoreFile(ctx, storeID, fileID)
		if errDelete == nil {
			return nil
		}
		if translated := translateError(errDelete, "detach assistant file"); !errors.Is(translated, apperr.ErrNotFound) {
			return translated
		}
	}
	return apperr.New(apperr.KindNotFound, "detach assistant file: %s is not attached", fileID)
}

// ListAssistantFiles lists files attached to the assistant with their metadata.
func (c *OpenAIClient) ListAssistantFiles(ctx context.Context, assistantID string) ([]File, error) {
	asst, errRetrieve := c.client.RetrieveAssistant(ctx, assistantID)
	if errRetrieve != nil {
		return nil, translateError(errRetrieve, "list assistant files")
	}
	res := copyResources(asst.ToolResources)

	ids := append([]string(nil), res.CodeInterpreter.FileIDs...)
	attachedAt := make(map[string]int64)
	for _, storeID := range res.FileSearch.VectorStoreIDs {
		limit := listPageSize
		var after *string
		for {
			page, errList := c.client.ListVectorStoreFiles(ctx, storeID, openai.Pagination{Limit: &limit, After: after})
			if errList != nil {
				return nil, translateError(errList, "list assistant files")
			}
			for _, vsf := range page.VectorStoreFiles {
				if !slices.Contains(ids, vsf.ID) {
					ids = append(ids, vsf.ID)
				}
				attachedAt[vsf.ID] = vsf.CreatedAt
			}
			if !page.HasMore || page.LastID == nil || len(page.VectorStoreFiles) == 0 {
				break
			}
			last := *page.LastID
			after = &last
		}
	}

	out := make([]File, 0, len(ids))
	for _, id := range ids {
		info, errGet := c.client.GetFile(ctx, id)
		if errGet != nil {
			// Attached but no longer readable; keep the id so callers can clean up.
			out = append(out, File{ID: id, CreatedAt: time.Unix(attachedAt[id], 0).UTC()})
			continue
		}
		out = append(out, convertFile(info))
	}
	return out, nil
}

func (c *OpenAIClient) ensureVectorStore(ctx context.Context, asst openai.Assistant, res openai.AssistantToolResource) (string, error) {
	if len(res.FileSearch.VectorStoreIDs) > 0 {
		return res.FileSearch.VectorStoreIDs[0], nil
	}
	store, errCreate := c.client.CreateVectorStore(ctx, openai.VectorStoreRequest{
		Name:     "gpthub " + asst.ID,
		Metadata: map[string]any{storeAssistantKey: asst.ID},
	})
	if errCreate != nil {
		return "", translateError(errCreate, "create vector store")
	}
	res.FileSearch.VectorStoreIDs = []string{store.ID}
	if errUpdate := c.updateResources(ctx, asst, res, ToolFileSearch, "attach assistant file"); errUpdate != nil {
		if _, errDelete := c.client.DeleteVectorStore(ctx, store.ID); errDelete != nil {
			log.WithError(errDelete).Warnf("assistant: failed to delete unbound vector store %s", store.ID)
		}
		return "", errUpdate
	}
	return store.ID, nil
}

// updateResources writes tool resources back and enables the tool when missing.
func (c *OpenAIClient) updateResources(ctx context.Context, asst openai.Assistant, res openai.AssistantToolResource, tool Tool, op string) error {
	req := openai.AssistantRequest{Model: asst.Model, ToolResources: &openai.AssistantToolResource{}}
	// An emptied list is sent only for the tool being edited so it clears upstream.
	if len(res.CodeInterpreter.FileIDs) > 0 || tool == ToolCodeInterpreter {
		req.ToolResources.CodeInterpreter = res.CodeInterpreter
	}
	if len(res.FileSearch.VectorStoreIDs) > 0 {
		req.ToolResources.FileSearch = res.FileSearch
	}
	if !hasTool(asst.Tools, tool) {
		req.Tools = append(append([]openai.AssistantTool(nil), asst.Tools...), openai.AssistantTool{Type: openai.AssistantToolType(tool)})
	}
	if _, errModify := c.client.ModifyAssistant(ctx, asst.ID, req); errModify != nil {
		return translateError(errModify, op)
	}
	return nil
}

// copyResources returns fully populated resources that are safe to mutate.
func copyResources(in *openai.AssistantToolResource) openai.AssistantToolResource {
	out := openai.AssistantToolResource{
		FileSearch:      &openai.AssistantToolFileSearch{},
		CodeInterpreter: &openai.AssistantToolCodeInterpreter{FileIDs: []string{}},
	}
	if in == nil {
		return out
	}
	if in.FileSearch != nil {
		out.FileSearch.VectorStoreIDs = append([]string(nil), in.FileSearch.VectorStoreIDs...)
	}
	if in.CodeInterpreter != nil {
		out.CodeInterpreter.FileIDs = append(out.CodeInterpreter.FileIDs, in.CodeInterpreter.FileIDs...)
	}
	return out
}

func hasTool(tools []openai.AssistantTool, tool Tool) bool {
	for _, t := range tools {
		if string(t.Type) == string(tool) {
			return true
		}
	}
	return false
}

func convertMessage(msg openai.Message) Message {
	out := Message{
		ID:        msg.ID,
		Role:      msg.Role,
		CreatedAt: time.Unix(int64(msg.CreatedAt), 0).UTC(),
	}
	if msg.RunID != nil {
		out.RunID = *msg.RunID
	}
	if len(msg.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			if s, ok := v.(string); ok {
				out.Metadata[k] = s
			}
		}
	}
	out.Hidden = IsHiddenMetadata(out.Metadata)
	for _, content := range msg.Content {
		switch {
		case content.Text != nil:
			out.Content = append(out.Content, ContentPart{Type: PartText, Text: content.Text.Value})
		case content.ImageFile != nil:
			out.Content = append(out.Content, ContentPart{Type: PartImageFile, FileID: content.ImageFile.FileID})
		default:
			out.Content = append(out.Content, ContentPart{Type: PartFile})
		}
	}
	return out
}

func convertRun(run openai.Run) Run {
	out := Run{ID: run.ID, Status: string(run.Status)}
	if run.LastError != nil {
		out.LastError = strings.TrimSpace(run.LastError.Message)
		if code := string(run.LastError.Code); code != "" {
			out.LastError = code + ": " + out.LastError
		}
	}
	return out
}

func convertFile(file openai.File) File {
	return File{
		ID:        file.ID,
		Filename:  file.FileName,
		Bytes:     int64(file.Bytes),
		CreatedAt: time.Unix(file.CreatedAt, 0).UTC(),
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// translateError maps provider errors onto the application taxonomy.
func translateError(err error, op string) error {
	if err == nil {
		return nil
	}
	status := 0
	message := err.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		message = apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusNotFound:
		return apperr.Wrap(apperr.KindNotFound, err, op+": not found upstream")
	case http.StatusBadRequest:
		return apperr.Wrap(apperr.KindInvalidInput, err, op+": "+message)
	default:
		return apperr.Wrap(apperr.KindUpstreamUnavailable, err, op+" failed")
	}
}
