// Package chat exchanges messages between users and their assistant threads.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/GPTHub/internal/access"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/assistant"
	"github.com/router-for-me/GPTHub/internal/attachments"
	"github.com/router-for-me/GPTHub/internal/models"
	"github.com/router-for-me/GPTHub/internal/ratelimit"
	"github.com/router-for-me/GPTHub/internal/threads"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SendInput is one user turn.
type SendInput struct {
	Text  string
	Files []assistant.FileUpload
	// IdempotencyKey dedupes retried sends from the same user when set.
	IdempotencyKey string
}

// Engine posts user turns and runs the assistant.
type Engine struct {
	db      *gorm.DB
	client  assistant.Client
	threads *threads.Manager
	files   *attachments.Manager
	waiter  *assistant.Waiter
	limiter *ratelimit.Manager
}

// NewEngine constructs an Engine. limiter may be nil.
func NewEngine(db *gorm.DB, client assistant.Client, threadMgr *threads.Manager, files *attachments.Manager, waiter *assistant.Waiter, limiter *ratelimit.Manager) *Engine {
	return &Engine{
		db:      db,
		client:  client,
		threads: threadMgr,
		files:   files,
		waiter:  waiter,
		limiter: limiter,
	}
}

// Send posts a user message with optional files, runs the assistant and returns
// the full transcript in chronological order.
//
// A failed run leaves the user turn in the upstream thread; the error is retryable.
func (e *Engine) Send(ctx context.Context, actor access.Actor, gpt *models.GPT, threadID string, in SendInput) ([]assistant.Message, error) {
	if gpt == nil {
		return nil, apperr.New(apperr.KindNotFound, "gpt not found")
	}
	if !access.CanView(actor, gpt) {
		return nil, apperr.New(apperr.KindForbidden, "access to gpt denied")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Files) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "message text or files are required")
	}
	if errValidate := attachments.Validate(in.Files); errValidate != nil {
		return nil, errValidate
	}

	thread, errThread := e.threads.Lookup(ctx, actor, threadID)
	if errThread != nil {
		return nil, errThread
	}
	if thread.GPTID != gpt.ID {
		return nil, apperr.New(apperr.KindNotFound, "thread not found")
	}

	if errLimit := e.limiter.Check(ctx, actor.ID, ratelimit.ScopeSend); errLimit != nil {
		return nil, errLimit
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		fresh, errClaim := e.claimKey(ctx, actor.ID, thread.ID, key)
		if errClaim != nil {
			return nil, errClaim
		}
		if !fresh {
			log.WithFields(log.Fields{"user_id": actor.ID, "thread_id": thread.OpenAIThreadID}).Debug("chat: duplicate send ignored")
			return e.client.ListMessages(ctx, thread.OpenAIThreadID)
		}
	}

	msgs, errExchange := e.exchange(ctx, gpt, thread, text, in.Files)
	if errExchange != nil {
		if key != "" && !posted(errExchange) {
			e.releaseKey(actor.ID, key)
		}
		return nil, unwrapStage(errExchange)
	}
	return msgs, nil
}

// stageError marks failures that happened after the user message reached the thread.
type stageError struct {
	err    error
	posted bool
}

func (s *stageError) Error() string { return s.err.Error() }
func (s *stageError) Unwrap() error { return s.err }

func posted(err error) bool {
	var stage *stageError
	return errors.As(err, &stage) && stage.posted
}

func unwrapStage(err error) error {
	var stage *stageError
	if errors.As(err, &stage) {
		return stage.err
	}
	return err
}

func (e *Engine) exchange(ctx context.Context, gpt *models.GPT, thread *models.Thread, text string, files []assistant.FileUpload) ([]assistant.Message, error) {
	atts, errUpload := e.files.UploadEphemeral(ctx, files)
	if errUpload != nil {
		return nil, errUpload
	}

	if _, errPost := e.client.PostMessage(ctx, thread.OpenAIThreadID, assistant.NewMessage{
		Role:        assistant.RoleUser,
		Text:        text,
		Attachments: atts,
	}); errPost != nil {
		return nil, errPost
	}

	// The run outlives a disconnected client; the waiter bounds it by max wait.
	runCtx := context.WithoutCancel(ctx)
	run, errRun := e.client.CreateRun(runCtx, thread.OpenAIThreadID, assistant.RunRequest{
		AssistantID:  gpt.OpenAIID,
		Model:        gpt.Model,
		Instructions: gpt.Instructions,
	})
	if errRun != nil {
		return nil, &stageError{err: errRun, posted: true}
	}
	final, state, errWait := e.waiter.Wait(runCtx, thread.OpenAIThreadID, run)
	if errWait != nil {
		log.WithError(errWait).WithFields(log.Fields{
			"thread_id": thread.OpenAIThreadID,
			"run_id":    final.ID,
			"state":     state.String(),
		}).Warn("chat: assistant run did not complete")
		return nil, &stageError{err: errWait, posted: true}
	}

	msgs, errList := e.client.ListMessages(runCtx, thread.OpenAIThreadID)
	if errList != nil {
		return nil, &stageError{err: errList, posted: true}
	}
	if errTouch := e.threads.Touch(runCtx, thread); errTouch != nil {
		log.WithError(errTouch).WithField("thread_id", thread.OpenAIThreadID).Warn("chat: touch thread failed")
	}
	return msgs, nil
}

// Transcript returns the live message list of a thread the actor owns.
func (e *Engine) Transcript(ctx context.Context, actor access.Actor, threadID string) ([]assistant.Message, error) {
	thread, errThread := e.threads.Lookup(ctx, actor, threadID)
	if errThread != nil {
		return nil, errThread
	}
	var gpt models.GPT
	if errFind := e.db.WithContext(ctx).First(&gpt, thread.GPTID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "thread not found")
		}
		return nil, fmt.Errorf("chat: find gpt: %w", errFind)
	}
	if !access.CanView(actor, &gpt) {
		return nil, apperr.New(apperr.KindForbidden, "access to gpt denied")
	}
	return e.client.ListMessages(ctx, thread.OpenAIThreadID)
}

// VisibleMessages drops hidden instruction messages.
func VisibleMessages(msgs []assistant.Message) []assistant.Message {
	out := make([]assistant.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Hidden {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// claimKey records an idempotency key. It reports false when the key was already used.
func (e *Engine) claimKey(ctx context.Context, userID, threadID uint64, key string) (bool, error) {
	row := models.MessageSend{UserID: userID, ThreadID: threadID, Key: key}
	res := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}, {Name: "key"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("chat: record idempotency key: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// releaseKey frees a key whose send never reached the thread so the client can retry.
func (e *Engine) releaseKey(userID uint64, key string) {
	if errDelete := e.db.Where("user_id = ? AND key = ?", userID, key).Delete(&models.MessageSend{}).Error; errDelete != nil {
		log.WithError(errDelete).Warn("chat: release idempotency key failed")
	}
}
