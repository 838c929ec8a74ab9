package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/GPTHub/internal/access"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/assistant"
	"github.com/router-for-me/GPTHub/internal/assistant/assistanttest"
	"github.com/router-for-me/GPTHub/internal/attachments"
	"github.com/router-for-me/GPTHub/internal/config"
	"github.com/router-for-me/GPTHub/internal/db"
	"github.com/router-for-me/GPTHub/internal/models"
	"github.com/router-for-me/GPTHub/internal/ratelimit"
	"github.com/router-for-me/GPTHub/internal/threads"
	"gorm.io/gorm"
)

type harness struct {
	conn    *gorm.DB
	fake    *assistanttest.Fake
	threads *threads.Manager
	engine  *Engine
	gpt     *models.GPT
	user    access.Actor
}

func newHarness(t *testing.T, limiter *ratelimit.Manager) *harness {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "chat-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	fake := assistanttest.New()
	fake.Reply = func(string) string { return "Hi there!" }
	threadMgr := threads.NewManager(conn, fake, threads.WithSeedInstructions(true))
	engine := NewEngine(conn, fake, threadMgr, attachments.NewManager(conn, fake),
		assistant.NewWaiter(fake, time.Millisecond, time.Second), limiter)

	gpt := &models.GPT{Name: "Helper", OpenAIID: "asst_1", Model: "gpt-4o", Instructions: "Be helpful.", CreatedBy: 1, IsPublic: true}
	if errCreate := conn.Create(gpt).Error; errCreate != nil {
		t.Fatalf("create gpt: %v", errCreate)
	}
	return &harness{conn: conn, fake: fake, threads: threadMgr, engine: engine, gpt: gpt, user: access.Actor{ID: 7, Role: models.RoleUser}}
}

func (h *harness) ensure(t *testing.T) string {
	t.Helper()
	thread, err := h.threads.Ensure(context.Background(), h.user, h.gpt)
	if err != nil {
		t.Fatalf("ensure thread: %v", err)
	}
	return thread.OpenAIThreadID
}

func TestSend_HelloScenario(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)

	msgs, err := h.engine.Send(context.Background(), h.user, h.gpt, threadID, SendInput{Text: "Hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	visible := VisibleMessages(msgs)
	if len(visible) < 2 {
		t.Fatalf("expected user and assistant messages, got %+v", visible)
	}
	if visible[0].Role != assistant.RoleUser || visible[0].Text() != "Hello" {
		t.Fatalf("expected first visible message to be user Hello, got %+v", visible[0])
	}
	userCount := 0
	for _, msg := range visible {
		if msg.Hidden {
			t.Fatalf("hidden message surfaced: %+v", msg)
		}
		if msg.Role == assistant.RoleUser {
			userCount++
		}
	}
	if userCount != 1 {
		t.Fatalf("expected exactly one user message, got %d", userCount)
	}
	if visible[1].Role != assistant.RoleAssistant {
		t.Fatalf("expected assistant reply after Hello, got %+v", visible[1])
	}
	if len(msgs) != len(visible)+1 {
		t.Fatalf("expected the seeded instruction message to remain upstream")
	}

	var thread models.Thread
	if errFind := h.conn.Where("openai_thread_id = ?", threadID).First(&thread).Error; errFind != nil {
		t.Fatalf("find thread: %v", errFind)
	}
	if thread.LastActivityAt.Before(thread.CreatedAt) {
		t.Fatalf("expected last activity to be touched")
	}
}

func TestSend_ForbiddenBeforeUpstream(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)

	private := &models.GPT{Name: "Private", OpenAIID: "asst_p", CreatedBy: 1, AllowedUsers: models.UserIDs{1}}
	if err := h.conn.Create(private).Error; err != nil {
		t.Fatalf("create gpt: %v", err)
	}
	_, err := h.engine.Send(context.Background(), h.user, private, threadID, SendInput{Text: "Hello"})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if got := h.fake.CallCount("PostMessage"); got != 0 {
		t.Fatalf("expected no posts, got %d", got)
	}
}

func TestSend_ThreadOfAnotherGPT(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)

	other := &models.GPT{Name: "Other", OpenAIID: "asst_o", CreatedBy: 1, IsPublic: true}
	if err := h.conn.Create(other).Error; err != nil {
		t.Fatalf("create gpt: %v", err)
	}
	if _, err := h.engine.Send(context.Background(), h.user, other, threadID, SendInput{Text: "Hello"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSend_InvalidAttachmentUploadsNothing(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)

	files := []assistant.FileUpload{
		{Name: "a.png", MimeType: "image/png", Data: []byte("png")},
		{Name: "b.zip", MimeType: "application/zip", Data: []byte("PK")},
		{Name: "c.txt", MimeType: "text/plain", Data: []byte("hi")},
	}
	_, err := h.engine.Send(context.Background(), h.user, h.gpt, threadID, SendInput{Text: "see files", Files: files})
	if !errors.Is(err, apperr.ErrInvalidAttachment) {
		t.Fatalf("expected InvalidAttachment, got %v", err)
	}
	if h.fake.CallCount("UploadFile") != 0 || h.fake.CallCount("PostMessage") != 0 {
		t.Fatalf("expected no upstream side effects")
	}
}

func TestSend_WithFiles(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)

	files := []assistant.FileUpload{
		{Name: "a.png", MimeType: "image/png", Data: []byte("png")},
		{Name: "c.txt", MimeType: "text/plain", Data: []byte("hi")},
	}
	msgs, err := h.engine.Send(context.Background(), h.user, h.gpt, threadID, SendInput{Text: "look", Files: files})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.fake.CallCount("UploadFile"); got != 2 {
		t.Fatalf("expected 2 uploads, got %d", got)
	}
	user := VisibleMessages(msgs)[0]
	if len(user.Content) != 2 || user.Content[1].Type != assistant.PartImageFile {
		t.Fatalf("expected text and image parts, got %+v", user.Content)
	}
	atts := h.fake.MessageAttachments(user.ID)
	if len(atts) != 1 || atts[0].Tool != assistant.ToolFileSearch {
		t.Fatalf("expected the text file attached for file search, got %+v", atts)
	}
}

func TestSend_RunFailedIsRetryable(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)
	h.fake.RunStatuses = []string{assistant.StatusInProgress, assistant.StatusFailed}
	h.fake.RunLastError = "rate_limit_exceeded: slow down"

	_, err := h.engine.Send(context.Background(), h.user, h.gpt, threadID, SendInput{Text: "Hello"})
	if !errors.Is(err, apperr.ErrAssistantRunFailed) {
		t.Fatalf("expected AssistantRunFailed, got %v", err)
	}

	// The unanswered user turn stays upstream.
	visible := VisibleMessages(h.fake.Messages(threadID))
	if len(visible) != 1 || visible[0].Role != assistant.RoleUser {
		t.Fatalf("expected dangling user turn, got %+v", visible)
	}

	h.fake.RunStatuses = nil
	msgs, err := h.engine.Send(context.Background(), h.user, h.gpt, threadID, SendInput{Text: "Hello again"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if last := msgs[len(msgs)-1]; last.Role != assistant.RoleAssistant {
		t.Fatalf("expected assistant reply on retry, got %+v", last)
	}
}

func TestSend_Timeout(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.waiter = assistant.NewWaiter(h.fake, time.Millisecond, 20*time.Millisecond)
	threadID := h.ensure(t)
	h.fake.RunStatuses = []string{assistant.StatusInProgress}

	_, err := h.engine.Send(context.Background(), h.user, h.gpt, threadID, SendInput{Text: "Hello"})
	if !errors.Is(err, apperr.ErrAssistantRunTimeout) {
		t.Fatalf("expected AssistantRunTimeout, got %v", err)
	}
}

func TestSend_ClientCancelDoesNotAbortRun(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)
	h.fake.RunStatuses = []string{assistant.StatusInProgress, assistant.StatusInProgress, assistant.StatusCompleted}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for h.fake.CallCount("CreateRun") == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	if _, err := h.engine.Send(ctx, h.user, h.gpt, threadID, SendInput{Text: "Hello"}); err != nil {
		t.Fatalf("expected run to finish despite cancellation, got %v", err)
	}
}

func TestSend_IdempotencyKey(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)
	ctx := context.Background()

	if _, err := h.engine.Send(ctx, h.user, h.gpt, threadID, SendInput{Text: "Hello", IdempotencyKey: "k1"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	msgs, err := h.engine.Send(ctx, h.user, h.gpt, threadID, SendInput{Text: "Hello", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("retried send: %v", err)
	}
	if got := h.fake.CallCount("PostMessage"); got != 1 {
		t.Fatalf("expected duplicate send to be skipped, got %d posts", got)
	}
	if len(VisibleMessages(msgs)) != 2 {
		t.Fatalf("expected transcript of the first exchange, got %+v", msgs)
	}
}

func TestSend_IdempotencyKeyReleasedWhenNothingPosted(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)
	ctx := context.Background()

	h.fake.Fail("PostMessage", apperr.New(apperr.KindUpstreamUnavailable, "down"))
	if _, err := h.engine.Send(ctx, h.user, h.gpt, threadID, SendInput{Text: "Hello", IdempotencyKey: "k2"}); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("expected UpstreamUnavailable, got %v", err)
	}
	h.fake.Fail("PostMessage", nil)
	msgs, err := h.engine.Send(ctx, h.user, h.gpt, threadID, SendInput{Text: "Hello", IdempotencyKey: "k2"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(VisibleMessages(msgs)) != 2 {
		t.Fatalf("expected retry to post, got %+v", msgs)
	}
}

func TestSend_RateLimited(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := ratelimit.NewManager(ratelimit.StaticSettings(config.RateLimitConfig{Send: config.RateRule{Limit: 1, Window: time.Minute}}), func() time.Time { return now }, nil)
	h := newHarness(t, limiter)
	threadID := h.ensure(t)
	ctx := context.Background()

	if _, err := h.engine.Send(ctx, h.user, h.gpt, threadID, SendInput{Text: "one"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := h.engine.Send(ctx, h.user, h.gpt, threadID, SendInput{Text: "two"}); !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
}

func TestTranscript(t *testing.T) {
	h := newHarness(t, nil)
	threadID := h.ensure(t)
	ctx := context.Background()

	if _, err := h.engine.Send(ctx, h.user, h.gpt, threadID, SendInput{Text: "Hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := h.engine.Transcript(ctx, h.user, threadID)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(msgs) != 3 || !msgs[0].Hidden {
		t.Fatalf("expected hidden seed plus exchange, got %+v", msgs)
	}
	if _, err := h.engine.Transcript(ctx, access.Actor{ID: 99, Role: models.RoleUser}, threadID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound for other user, got %v", err)
	}

	if err := h.conn.Delete(&models.GPT{}, h.gpt.ID).Error; err != nil {
		t.Fatalf("delete gpt: %v", err)
	}
	if _, err := h.engine.Transcript(ctx, h.user, threadID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound for orphaned thread, got %v", err)
	}
}
