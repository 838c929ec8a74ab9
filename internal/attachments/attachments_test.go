package attachments

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"

	"github.com/router-for-me/GPTHub/internal/access"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/assistant"
	"github.com/router-for-me/GPTHub/internal/assistant/assistanttest"
	"github.com/router-for-me/GPTHub/internal/db"
	"github.com/router-for-me/GPTHub/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "attachments-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func inline(name, mimeType string, data []byte) InlineFile {
	return InlineFile{Name: name, Type: mimeType, Size: int64(len(data)), Data: base64.StdEncoding.EncodeToString(data)}
}

func TestUploadEphemeral_TooLargeMakesNoUpstreamCall(t *testing.T) {
	fake := assistanttest.New()
	mgr := NewManager(nil, fake)

	big := assistant.FileUpload{Name: "big.pdf", MimeType: "application/pdf", Data: make([]byte, MaxFileSize+1)}
	_, err := mgr.UploadEphemeral(context.Background(), []assistant.FileUpload{big})
	if !errors.Is(err, apperr.ErrFileTooLarge) {
		t.Fatalf("expected FileTooLarge, got %v", err)
	}
	if !errors.Is(err, apperr.ErrInvalidAttachment) {
		t.Fatalf("expected InvalidAttachment, got %v", err)
	}
	if got := fake.CallCount("UploadFile"); got != 0 {
		t.Fatalf("expected zero uploads, got %d", got)
	}
}

func TestUploadEphemeral_ExactLimitAccepted(t *testing.T) {
	fake := assistanttest.New()
	mgr := NewManager(nil, fake)

	file := assistant.FileUpload{Name: "ok.pdf", MimeType: "application/pdf", Data: make([]byte, MaxFileSize)}
	atts, err := mgr.UploadEphemeral(context.Background(), []assistant.FileUpload{file})
	if err != nil {
		t.Fatalf("expected upload to succeed, got %v", err)
	}
	if len(atts) != 1 || atts[0].Tool != assistant.ToolFileSearch {
		t.Fatalf("expected one file search attachment, got %+v", atts)
	}
}

func TestUploadEphemeral_BatchWithOneBadTypeRejectedEntirely(t *testing.T) {
	fake := assistanttest.New()
	mgr := NewManager(nil, fake)

	files := []assistant.FileUpload{
		{Name: "a.png", MimeType: "image/png", Data: []byte("png")},
		{Name: "b.exe", MimeType: "application/x-msdownload", Data: []byte("MZ")},
		{Name: "c.txt", MimeType: "text/plain", Data: []byte("hi")},
	}
	_, err := mgr.UploadEphemeral(context.Background(), files)
	if !errors.Is(err, apperr.ErrUnsupportedFileType) {
		t.Fatalf("expected UnsupportedFileType, got %v", err)
	}
	var attErr *apperr.AttachmentError
	if !errors.As(err, &attErr) || len(attErr.Problems) != 1 || attErr.Problems[0].Name != "b.exe" {
		t.Fatalf("expected exactly b.exe reported, got %v", err)
	}
	if got := fake.CallCount("UploadFile"); got != 0 {
		t.Fatalf("expected zero uploads, got %d", got)
	}
}

func TestUploadEphemeral_RoutesByType(t *testing.T) {
	fake := assistanttest.New()
	mgr := NewManager(nil, fake)

	atts, err := mgr.UploadEphemeral(context.Background(), []assistant.FileUpload{
		{Name: "a.jpg", MimeType: "image/jpeg", Data: []byte("jpg")},
		{Name: "b.csv", MimeType: "text/csv; charset=utf-8", Data: []byte("a,b")},
		{Name: "c.xlsx", MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Data: []byte("PK")},
		{Name: "d.pdf", MimeType: "application/pdf", Data: []byte("%PDF")},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	want := []assistant.Tool{assistant.ToolVision, assistant.ToolCodeInterpreter, assistant.ToolCodeInterpreter, assistant.ToolFileSearch}
	if len(atts) != len(want) {
		t.Fatalf("expected %d attachments, got %+v", len(want), atts)
	}
	for i, tool := range want {
		if atts[i].Tool != tool {
			t.Fatalf("attachment %d: expected %s, got %s", i, tool, atts[i].Tool)
		}
		if got := fake.UploadTool(atts[i].FileID); got != tool {
			t.Fatalf("attachment %d: uploaded for %s, want %s", i, got, tool)
		}
	}
}

func TestDecode_SizeMismatchRejected(t *testing.T) {
	in := inline("notes.txt", "text/plain", []byte("hello"))
	in.Size = 4
	if _, err := Decode([]InlineFile{in}); !errors.Is(err, apperr.ErrInvalidAttachment) {
		t.Fatalf("expected InvalidAttachment, got %v", err)
	}
}

func TestDecode_DataURL(t *testing.T) {
	payload := []byte("hello")
	in := inline("notes.txt", "text/plain", payload)
	in.Data = "data:text/plain;base64," + in.Data
	files, err := Decode([]InlineFile{in})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(files[0].Data, payload) {
		t.Fatalf("expected decoded payload, got %q", files[0].Data)
	}
}

func TestDecode_ReportsEveryProblem(t *testing.T) {
	files := []InlineFile{
		inline("ok.txt", "text/plain", []byte("ok")),
		{Name: "huge.pdf", Type: "application/pdf", Size: MaxFileSize + 1},
		{Name: "bad.txt", Type: "text/plain", Size: 3, Data: "!!!"},
	}
	_, err := Decode(files)
	var attErr *apperr.AttachmentError
	if !errors.As(err, &attErr) {
		t.Fatalf("expected AttachmentError, got %v", err)
	}
	if len(attErr.Problems) != 2 {
		t.Fatalf("expected 2 problems, got %+v", attErr.Problems)
	}
}

func TestPersistentFiles_Lifecycle(t *testing.T) {
	conn := openTestDB(t)
	fake := assistanttest.New()
	mgr := NewManager(conn, fake)
	ctx := context.Background()

	gpt := &models.GPT{Name: "g", OpenAIID: "asst_1", CreatedBy: 1, AllowedUsers: models.UserIDs{1, 2}}
	if err := conn.Create(gpt).Error; err != nil {
		t.Fatalf("create gpt: %v", err)
	}
	creator := access.Actor{ID: 1, Role: models.RoleUser}
	viewer := access.Actor{ID: 2, Role: models.RoleUser}

	if _, err := mgr.Upload(ctx, viewer, gpt, []InlineFile{inline("a.txt", "text/plain", []byte("a"))}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected Forbidden for non-creator upload, got %v", err)
	}

	uploaded, err := mgr.Upload(ctx, creator, gpt, []InlineFile{
		inline("a.txt", "text/plain", []byte("a")),
		inline("b.pdf", "application/pdf", []byte("%PDF")),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(uploaded) != 2 {
		t.Fatalf("expected 2 uploaded files, got %d", len(uploaded))
	}
	if tool, ok := fake.AttachedTool("asst_1", uploaded[1].ID); !ok || tool != assistant.ToolFileSearch {
		t.Fatalf("expected pdf in file search, got %q attached=%v", tool, ok)
	}

	listed, err := mgr.List(ctx, viewer, gpt)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[1].MimeType != "application/pdf" || listed[0].UploadedBy != creator.ID {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	if errDelete := mgr.Delete(ctx, creator, gpt, uploaded[0].ID); errDelete != nil {
		t.Fatalf("delete: %v", errDelete)
	}
	if fake.HasFile(uploaded[0].ID) {
		t.Fatalf("expected upstream file removed")
	}
	if errDelete := mgr.Delete(ctx, creator, gpt, uploaded[0].ID); !errors.Is(errDelete, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound on second delete, got %v", errDelete)
	}

	listed, err = mgr.List(ctx, viewer, gpt)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != uploaded[1].ID {
		t.Fatalf("expected remaining file intact, got %+v", listed)
	}
}

func TestPersistentUpload_AttachFailureRollsBack(t *testing.T) {
	conn := openTestDB(t)
	fake := assistanttest.New()
	mgr := NewManager(conn, fake)

	gpt := &models.GPT{Name: "g", OpenAIID: "asst_1", CreatedBy: 1, IsPublic: true}
	if err := conn.Create(gpt).Error; err != nil {
		t.Fatalf("create gpt: %v", err)
	}
	fake.Fail("AttachAssistantFile", apperr.New(apperr.KindUpstreamUnavailable, "down"))

	_, err := mgr.Upload(context.Background(), access.Actor{ID: 1, Role: models.RoleUser}, gpt,
		[]InlineFile{inline("a.txt", "text/plain", []byte("a"))})
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected UpstreamUnavailable, got %v", err)
	}
	if got := fake.CallCount("DeleteFile"); got != 1 {
		t.Fatalf("expected orphan upload to be deleted, got %d deletes", got)
	}
	var count int64
	conn.Model(&models.GPTFile{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no file rows, got %d", count)
	}
}

func TestPersistentUpload_SpreadsheetsAndImagesGoToCodeInterpreter(t *testing.T) {
	conn := openTestDB(t)
	fake := assistanttest.New()
	mgr := NewManager(conn, fake)

	gpt := &models.GPT{Name: "g", OpenAIID: "asst_1", CreatedBy: 1, IsPublic: true}
	if err := conn.Create(gpt).Error; err != nil {
		t.Fatalf("create gpt: %v", err)
	}
	uploaded, err := mgr.Upload(context.Background(), access.Actor{ID: 1, Role: models.RoleUser}, gpt, []InlineFile{
		inline("data.csv", "text/csv", []byte("a,b")),
		inline("chart.png", "image/png", []byte("png")),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	for _, file := range uploaded {
		tool, ok := fake.AttachedTool("asst_1", file.ID)
		if !ok || tool != assistant.ToolCodeInterpreter {
			t.Fatalf("expected %s on code interpreter, got %q attached=%v", file.Filename, tool, ok)
		}
		if got := fake.UploadTool(file.ID); got != assistant.ToolCodeInterpreter {
			t.Fatalf("expected %s uploaded for assistants, got %q", file.Filename, got)
		}
	}
}
