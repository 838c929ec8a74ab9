// Package assistant models the upstream stateful assistant provider.
package assistant

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content part types.
const (
	PartText      = "text"
	PartImageFile = "image_file"
	PartFile      = "file"
)

// MetadataHiddenKey marks internal instruction messages that clients must not display.
const MetadataHiddenKey = "hidden"

// ContentPart is one ordered piece of a message.
type ContentPart struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

// Message is a message read back from an upstream thread.
type Message struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   []ContentPart     `json:"content"`
	RunID     string            `json:"run_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Hidden    bool              `json:"hidden"`
	CreatedAt time.Time         `json:"created_at"`
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	out := ""
	for _, part := range m.Content {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// IsHiddenMetadata reports whether metadata marks a message as hidden.
func IsHiddenMetadata(metadata map[string]string) bool {
	return metadata[MetadataHiddenKey] == "true"
}

// Attachment references an uploaded file and the tool that reads it.
type Attachment struct {
	FileID string
	Tool   Tool
}

// NewMessage is a message to append to a thread.
type NewMessage struct {
	Role        string
	Text        string
	Attachments []Attachment
	Metadata    map[string]string
}

// AssistantInfo describes an upstream assistant.
type AssistantInfo struct {
	ID           string
	Name         string
	Description  string
	Model        string
	Instructions string
}

// RunRequest starts a run of the assistant against a thread.
type RunRequest struct {
	AssistantID  string
	Model        string
	Instructions string
}

// Run is the provider's view of a run.
type Run struct {
	ID        string
	Status    string
	LastError string
}

// FileUpload is a validated file ready to send upstream.
type FileUpload struct {
	Name     string
	MimeType string
	Data     []byte
	// Tool selects the upload purpose; vision files are uploaded for image input.
	Tool Tool
}

// File is an upstream stored file.
type File struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is the capability the application needs from the provider.
// Implementations translate provider failures into apperr kinds.
type Client interface {
	RetrieveAssistant(ctx context.Context, assistantID string) (AssistantInfo, error)

	CreateThread(ctx context.Context, seed []NewMessage) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	PostMessage(ctx context.Context, threadID string, msg NewMessage) (string, error)
	ListMessages(ctx context.Context, threadID string) ([]Message, error)

	CreateRun(ctx context.Context, threadID string, req RunRequest) (Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (Run, error)

	UploadFile(ctx context.Context, file FileUpload) (File, error)
	DeleteFile(ctx context.Context, fileID string) error
	AttachAssistantFile(ctx context.Context, assistantID string, att Attachment) error
	DetachAssistantFile(ctx context.Context, assistantID, fileID string) error
	ListAssistantFiles(ctx context.Context, assistantID string) ([]File, error)
}
