package attachments

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/GPTHub/internal/access"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/assistant"
	"github.com/router-for-me/GPTHub/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UploadedFile is a persistent file as shown to clients.
type UploadedFile struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"type"`
	Size       int64     `json:"size"`
	UploadedBy uint64    `json:"uploaded_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Manager handles both per-message and per-assistant files.
type Manager struct {
	db     *gorm.DB
	client assistant.Client
}

// NewManager constructs an attachment manager.
func NewManager(db *gorm.DB, client assistant.Client) *Manager {
	return &Manager{db: db, client: client}
}

// UploadEphemeral validates files and uploads them for a single message.
// Nothing is uploaded unless every file passes validation.
func (m *Manager) UploadEphemeral(ctx context.Context, files []assistant.FileUpload) ([]assistant.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if errValidate := Validate(files); errValidate != nil {
		return nil, errValidate
	}
	out := make([]assistant.Attachment, 0, len(files))
	for _, file := range files {
		file.Tool = assistant.MessageTool(file.MimeType)
		uploaded, errUpload := m.client.UploadFile(ctx, file)
		if errUpload != nil {
			m.discardFiles(attachmentIDs(out))
			return nil, errUpload
		}
		out = append(out, assistant.Attachment{FileID: uploaded.ID, Tool: file.Tool})
	}
	return out, nil
}

// Upload stores files on the GPT's assistant so every conversation can use them.
func (m *Manager) Upload(ctx context.Context, actor access.Actor, gpt *models.GPT, inline []InlineFile) ([]UploadedFile, error) {
	if gpt == nil {
		return nil, apperr.New(apperr.KindNotFound, "gpt not found")
	}
	if !access.CanModify(actor, gpt) {
		return nil, apperr.New(apperr.KindForbidden, "not allowed to manage files of this gpt")
	}
	if len(inline) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "no files supplied")
	}
	files, errDecode := Decode(inline)
	if errDecode != nil {
		return nil, errDecode
	}

	out := make([]UploadedFile, 0, len(files))
	var uploadedIDs []string
	for _, file := range files {
		file.Tool = assistant.AssistantTool(file.MimeType)
		uploaded, errUpload := m.client.UploadFile(ctx, file)
		if errUpload != nil {
			m.rollbackPersistent(gpt, uploadedIDs)
			return nil, errUpload
		}
		uploadedIDs = append(uploadedIDs, uploaded.ID)
		att := assistant.Attachment{FileID: uploaded.ID, Tool: file.Tool}
		if errAttach := m.client.AttachAssistantFile(ctx, gpt.OpenAIID, att); errAttach != nil {
			m.discardFiles([]string{uploaded.ID})
			m.rollbackPersistent(gpt, uploadedIDs[:len(uploadedIDs)-1])
			return nil, errAttach
		}

		row := models.GPTFile{
			GPTID:        gpt.ID,
			OpenAIFileID: uploaded.ID,
			Filename:     file.Name,
			MimeType:     file.MimeType,
			Size:         int64(len(file.Data)),
			UploadedBy:   actor.ID,
		}
		if errCreate := m.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
			m.rollbackPersistent(gpt, uploadedIDs)
			return nil, fmt.Errorf("attachments: insert file: %w", errCreate)
		}
		out = append(out, UploadedFile{
			ID:         uploaded.ID,
			Filename:   row.Filename,
			MimeType:   row.MimeType,
			Size:       row.Size,
			UploadedBy: actor.ID,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out, nil
}

// List returns the files attached to the GPT's assistant.
// The upstream attachment list is authoritative; local rows add MIME type and uploader.
func (m *Manager) List(ctx context.Context, actor access.Actor, gpt *models.GPT) ([]UploadedFile, error) {
	if gpt == nil {
		return nil, apperr.New(apperr.KindNotFound, "gpt not found")
	}
	if !access.CanView(actor, gpt) {
		return nil, apperr.New(apperr.KindForbidden, "access to gpt denied")
	}
	remote, errList := m.client.ListAssistantFiles(ctx, gpt.OpenAIID)
	if errList != nil {
		return nil, errList
	}
	if len(remote) == 0 {
		return []UploadedFile{}, nil
	}

	ids := make([]string, 0, len(remote))
	for _, f := range remote {
		ids = append(ids, f.ID)
	}
	var rows []models.GPTFile
	if errFind := m.db.WithContext(ctx).
		Where("gpt_id = ? AND openai_file_id IN ?", gpt.ID, ids).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("attachments: list files: %w", errFind)
	}
	local := make(map[string]models.GPTFile, len(rows))
	for _, row := range rows {
		local[row.OpenAIFileID] = row
	}

	out := make([]UploadedFile, 0, len(remote))
	for _, f := range remote {
		item := UploadedFile{ID: f.ID, Filename: f.Filename, Size: f.Bytes, CreatedAt: f.CreatedAt}
		if row, ok := local[f.ID]; ok {
			if item.Filename == "" {
				item.Filename = row.Filename
			}
			if item.Size == 0 {
				item.Size = row.Size
			}
			item.MimeType = row.MimeType
			item.UploadedBy = row.UploadedBy
		}
		out = append(out, item)
	}
	return out, nil
}

// Delete detaches a file from the GPT's assistant. Deleting an absent file reports NotFound
// and leaves the remaining files untouched.
func (m *Manager) Delete(ctx context.Context, actor access.Actor, gpt *models.GPT, fileID string) error {
	if gpt == nil {
		return apperr.New(apperr.KindNotFound, "gpt not found")
	}
	if !access.CanModify(actor, gpt) {
		return apperr.New(apperr.KindForbidden, "not allowed to manage files of this gpt")
	}
	if fileID == "" {
		return apperr.New(apperr.KindNotFound, "file not found")
	}

	errDetach := m.client.DetachAssistantFile(ctx, gpt.OpenAIID, fileID)
	if errDetach != nil && apperr.KindOf(errDetach) != apperr.KindNotFound {
		return errDetach
	}

	res := m.db.WithContext(ctx).Where("gpt_id = ? AND openai_file_id = ?", gpt.ID, fileID).Delete(&models.GPTFile{})
	if res.Error != nil {
		return fmt.Errorf("attachments: delete file row: %w", res.Error)
	}
	if errDetach != nil {
		return apperr.New(apperr.KindNotFound, "file %s is not attached to this gpt", fileID)
	}

	if errDelete := m.client.DeleteFile(ctx, fileID); errDelete != nil {
		log.WithError(errDelete).WithField("file_id", fileID).Warn("attachments: delete upstream file failed")
	}
	return nil
}

// rollbackPersistent undoes a partially applied persistent upload.
func (m *Manager) rollbackPersistent(gpt *models.GPT, fileIDs []string) {
	if len(fileIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range fileIDs {
		if errDetach := m.client.DetachAssistantFile(ctx, gpt.OpenAIID, id); errDetach != nil && apperr.KindOf(errDetach) != apperr.KindNotFound {
			log.WithError(errDetach).WithField("file_id", id).Warn("attachments: rollback detach failed")
		}
		if errDelete := m.db.WithContext(ctx).Where("openai_file_id = ?", id).Delete(&models.GPTFile{}).Error; errDelete != nil {
			log.WithError(errDelete).WithField("file_id", id).Warn("attachments: rollback row delete failed")
		}
	}
	m.discardFiles(fileIDs)
}

// discardFiles deletes uploaded files nothing references anymore.
func (m *Manager) discardFiles(fileIDs []string) {
	if len(fileIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range fileIDs {
		if errDelete := m.client.DeleteFile(ctx, id); errDelete != nil {
			log.WithError(errDelete).WithField("file_id", id).Warn("attachments: discard upstream file failed")
		}
	}
}

func attachmentIDs(atts []assistant.Attachment) []string {
	out := make([]string, 0, len(atts))
	for _, a := range atts {
		out = append(out, a.FileID)
	}
	return out
}
