package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sashabaranov/go-openai"
)

// go-openai only sends string message content, so messages carrying
// image_file parts are posted directly with the same headers it uses.

type imageFileRef struct {
	FileID string `json:"file_id"`
}

type contentPart struct {
	Type      string        `json:"type"`
	Text      string        `json:"text,omitempty"`
	ImageFile *imageFileRef `json:"image_file,omitempty"`
}

type contentMessageRequest struct {
	Role        string                    `json:"role"`
	Content     []contentPart             `json:"content"`
	Attachments []openai.ThreadAttachment `json:"attachments,omitempty"`
	Metadata    map[string]any            `json:"metadata,omitempty"`
}

func contentParts(text string, imageFileIDs []string) []contentPart {
	parts := make([]contentPart, 0, len(imageFileIDs)+1)
	if text != "" {
		parts = append(parts, contentPart{Type: PartText, Text: text})
	}
	for _, id := range imageFileIDs {
		parts = append(parts, contentPart{Type: PartImageFile, ImageFile: &imageFileRef{FileID: id}})
	}
	return parts
}

func (c *OpenAIClient) postContentMessage(ctx context.Context, threadID string, body contentMessageRequest) (openai.Message, error) {
	payload, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		return openai.Message{}, fmt.Errorf("assistant: encode message: %w", errMarshal)
	}
	endpoint := c.baseURL + "/threads/" + url.PathEscape(threadID) + "/messages"
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if errReq != nil {
		return openai.Message{}, fmt.Errorf("assistant: build message request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if c.orgID != "" {
		req.Header.Set("OpenAI-Organization", c.orgID)
	}

	resp, errDo := c.doer.Do(req)
	if errDo != nil {
		return openai.Message{}, errDo
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return openai.Message{}, fmt.Errorf("assistant: read message response: %w", errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return openai.Message{}, decodeErrorBody(resp, raw)
	}
	var msg openai.Message
	if errDecode := json.Unmarshal(raw, &msg); errDecode != nil {
		return openai.Message{}, fmt.Errorf("assistant: decode message: %w", errDecode)
	}
	return msg, nil
}

// decodeErrorBody builds the same error values go-openai returns so
// translateError treats both paths alike.
func decodeErrorBody(resp *http.Response, raw []byte) error {
	var errRes openai.ErrorResponse
	if errDecode := json.Unmarshal(raw, &errRes); errDecode != nil || errRes.Error == nil {
		return &openai.RequestError{
			HTTPStatus:     resp.Status,
			HTTPStatusCode: resp.StatusCode,
			Err:            errDecode,
			Body:           raw,
		}
	}
	errRes.Error.HTTPStatus = resp.Status
	errRes.Error.HTTPStatusCode = resp.StatusCode
	return errRes.Error
}
