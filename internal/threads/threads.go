// Package threads maps (user, GPT) pairs onto upstream conversation threads.
package threads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/GPTHub/internal/access"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/assistant"
	"github.com/router-for-me/GPTHub/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager owns the thread lifecycle for every (user, GPT) pair.
type Manager struct {
	db     *gorm.DB
	client assistant.Client
	// seedInstructions posts the GPT instructions as a hidden first message on new threads.
	seedInstructions bool
	now              func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSeedInstructions enables hidden instruction messages on new threads.
func WithSeedInstructions(enabled bool) Option {
	return func(m *Manager) { m.seedInstructions = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a thread manager.
func NewManager(db *gorm.DB, client assistant.Client, opts ...Option) *Manager {
	m := &Manager{db: db, client: client, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure returns the actor's thread for gpt, creating it upstream when missing.
// Concurrent callers for the same pair converge on a single row.
func (m *Manager) Ensure(ctx context.Context, actor access.Actor, gpt *models.GPT) (*models.Thread, error) {
	if gpt == nil {
		return nil, apperr.New(apperr.KindNotFound, "gpt not found")
	}
	if !access.CanView(actor, gpt) {
		return nil, apperr.New(apperr.KindForbidden, "access to gpt denied")
	}

	existing, errFind := m.find(ctx, actor.ID, gpt.ID)
	if errFind != nil {
		return nil, errFind
	}
	if existing != nil {
		return existing, nil
	}

	upstreamID, errCreate := m.client.CreateThread(ctx, m.seedMessages(gpt))
	if errCreate != nil {
		// A failed seed still leaves the created thread upstream.
		if upstreamID != "" {
			m.discardUpstream(upstreamID)
		}
		return nil, errCreate
	}

	now := m.now()
	row := models.Thread{
		UserID:         actor.ID,
		GPTID:          gpt.ID,
		OpenAIThreadID: upstreamID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	res := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}, {Name: "gpt_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		m.discardUpstream(upstreamID)
		return nil, fmt.Errorf("threads: insert: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &row, nil
	}

	// Lost the race: another request inserted first.
	m.discardUpstream(upstreamID)
	winner, errWinner := m.find(ctx, actor.ID, gpt.ID)
	if errWinner != nil {
		return nil, errWinner
	}
	if winner == nil {
		return nil, fmt.Errorf("threads: conflicting row for user %d gpt %d vanished", actor.ID, gpt.ID)
	}
	return winner, nil
}

// Reset discards the actor's thread for gpt. A later Ensure starts a fresh conversation.
// Upstream deletion is best-effort.
func (m *Manager) Reset(ctx context.Context, actor access.Actor, gpt *models.GPT) error {
	if gpt == nil {
		return apperr.New(apperr.KindNotFound, "gpt not found")
	}
	if !access.CanView(actor, gpt) {
		return apperr.New(apperr.KindForbidden, "access to gpt denied")
	}

	existing, errFind := m.find(ctx, actor.ID, gpt.ID)
	if errFind != nil {
		return errFind
	}
	if existing == nil {
		return nil
	}

	if errDelete := m.db.WithContext(ctx).Delete(&models.Thread{}, existing.ID).Error; errDelete != nil {
		return fmt.Errorf("threads: delete: %w", errDelete)
	}

	if errUpstream := m.client.DeleteThread(ctx, existing.OpenAIThreadID); errUpstream != nil {
		log.WithError(errUpstream).WithFields(log.Fields{
			"thread_id": existing.OpenAIThreadID,
			"user_id":   actor.ID,
			"gpt_id":    gpt.ID,
		}).Warn("threads: delete upstream thread failed")
	}
	return nil
}

// Touch records activity on the thread.
func (m *Manager) Touch(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return nil
	}
	now := m.now()
	if errUpdate := m.db.WithContext(ctx).Model(&models.Thread{}).
		Where("id = ?", thread.ID).
		Update("last_activity_at", now).Error; errUpdate != nil {
		return fmt.Errorf("threads: touch: %w", errUpdate)
	}
	thread.LastActivityAt = now
	return nil
}

// Lookup resolves an upstream thread id to a thread the actor owns. Admins may resolve any thread.
func (m *Manager) Lookup(ctx context.Context, actor access.Actor, upstreamThreadID string) (*models.Thread, error) {
	upstreamThreadID = strings.TrimSpace(upstreamThreadID)
	if upstreamThreadID == "" {
		return nil, apperr.New(apperr.KindNotFound, "thread not found")
	}
	q := m.db.WithContext(ctx).Where("openai_thread_id = ?", upstreamThreadID)
	if !actor.IsAdmin() {
		q = q.Where("user_id = ?", actor.ID)
	}
	var row models.Thread
	if errFind := q.First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "thread not found")
		}
		return nil, fmt.Errorf("threads: lookup: %w", errFind)
	}
	return &row, nil
}

func (m *Manager) find(ctx context.Context, userID, gptID uint64) (*models.Thread, error) {
	var row models.Thread
	errFind := m.db.WithContext(ctx).
		Where("user_id = ? AND gpt_id = ?", userID, gptID).
		First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("threads: find: %w", errFind)
	}
	return &row, nil
}

func (m *Manager) seedMessages(gpt *models.GPT) []assistant.NewMessage {
	if !m.seedInstructions || strings.TrimSpace(gpt.Instructions) == "" {
		return nil
	}
	return []assistant.NewMessage{{
		Role:     assistant.RoleUser,
		Text:     gpt.Instructions,
		Metadata: map[string]string{assistant.MetadataHiddenKey: "true"},
	}}
}

// discardUpstream removes an upstream thread nobody references. It outlives the request.
func (m *Manager) discardUpstream(upstreamID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if errDelete := m.client.DeleteThread(ctx, upstreamID); errDelete != nil {
		log.WithError(errDelete).WithField("thread_id", upstreamID).Warn("threads: discard orphan upstream thread failed")
	}
}
