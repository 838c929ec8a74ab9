// Package gpts stores imported assistants and their visibility rules.
package gpts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/GPTHub/internal/access"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/assistant"
	dbutil "github.com/router-for-me/GPTHub/internal/db"
	"github.com/router-for-me/GPTHub/internal/models"
	"github.com/router-for-me/GPTHub/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ImportInput describes a GPT to import from the upstream provider.
type ImportInput struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Instructions string   `json:"instructions"`
	OpenAIID     string   `json:"openai_id"`
	Model        string   `json:"model"`
	ImageURL     string   `json:"image_url"`
	IsPublic     bool     `json:"is_public"`
	AllowedUsers []uint64 `json:"allowed_users"`
}

// Patch lists the fields an update may change. Nil fields are left untouched.
type Patch struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	Instructions *string   `json:"instructions"`
	Model        *string   `json:"model"`
	ImageURL     *string   `json:"image_url"`
	IsPublic     *bool     `json:"is_public"`
	AllowedUsers *[]uint64 `json:"allowed_users"`
}

// ListFilter narrows a listing.
type ListFilter struct {
	Query string
}

// Registry is the GPT store.
type Registry struct {
	db     *gorm.DB
	client assistant.Client
}

// NewRegistry constructs a Registry. client may be nil, which disables upstream autofill.
func NewRegistry(db *gorm.DB, client assistant.Client) *Registry {
	return &Registry{db: db, client: client}
}

// EnsureCreatorAccess keeps the creator on the allow-list of a private GPT.
// Every registry write passes through it.
func EnsureCreatorAccess(gpt *models.GPT) {
	if gpt == nil {
		return
	}
	allowed := gpt.AllowedUsers.Clean()
	if !gpt.IsPublic && gpt.CreatedBy != 0 && !allowed.Contains(gpt.CreatedBy) {
		allowed = append(allowed, gpt.CreatedBy).Clean()
	}
	gpt.AllowedUsers = allowed
}

// Import creates a GPT record for an upstream assistant. Admin only.
func (r *Registry) Import(ctx context.Context, actor access.Actor, in ImportInput) (*models.GPT, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.KindForbidden, "only admins can import gpts")
	}
	openaiID := strings.TrimSpace(in.OpenAIID)
	if openaiID == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "openai_id is required")
	}

	var existing int64
	if errCount := r.db.WithContext(ctx).Model(&models.GPT{}).
		Where("openai_id = ?", openaiID).Count(&existing).Error; errCount != nil {
		return nil, fmt.Errorf("gpts: check duplicate: %w", errCount)
	}
	if existing > 0 {
		return nil, apperr.New(apperr.KindDuplicateUpstreamID, "gpt with openai_id %s already exists", openaiID)
	}

	gpt := models.GPT{
		Name:         strings.TrimSpace(in.Name),
		Description:  strings.TrimSpace(in.Description),
		Instructions: strings.TrimSpace(in.Instructions),
		OpenAIID:     openaiID,
		Model:        strings.TrimSpace(in.Model),
		ImageURL:     strings.TrimSpace(in.ImageURL),
		CreatedBy:    actor.ID,
		IsPublic:     in.IsPublic,
		AllowedUsers: models.UserIDs(in.AllowedUsers),
	}
	if errFill := r.autofill(ctx, &gpt); errFill != nil {
		return nil, errFill
	}
	if gpt.Instructions == "" {
		gpt.Instructions = settings.DefaultInstructions
	}
	if gpt.Model == "" {
		gpt.Model = settings.DefaultModel
	}
	if gpt.Name == "" {
		gpt.Name = openaiID
	}
	EnsureCreatorAccess(&gpt)

	if errCreate := r.db.WithContext(ctx).Create(&gpt).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			return nil, apperr.New(apperr.KindDuplicateUpstreamID, "gpt with openai_id %s already exists", openaiID)
		}
		return nil, fmt.Errorf("gpts: create: %w", errCreate)
	}
	log.WithFields(log.Fields{"gpt_id": gpt.ID, "openai_id": gpt.OpenAIID, "admin": actor.ID}).Info("gpts: imported")
	return &gpt, nil
}

// autofill copies missing descriptive fields from the upstream assistant.
func (r *Registry) autofill(ctx context.Context, gpt *models.GPT) error {
	if r.client == nil {
		return nil
	}
	if gpt.Name != "" && gpt.Model != "" && gpt.Description != "" && gpt.Instructions != "" {
		return nil
	}
	info, errRetrieve := r.client.RetrieveAssistant(ctx, gpt.OpenAIID)
	if errRetrieve != nil {
		if apperr.KindOf(errRetrieve) == apperr.KindNotFound {
			return apperr.New(apperr.KindInvalidInput, "assistant %s does not exist upstream", gpt.OpenAIID)
		}
		log.WithError(errRetrieve).WithField("openai_id", gpt.OpenAIID).Warn("gpts: autofill from upstream failed")
		return nil
	}
	if gpt.Name == "" {
		gpt.Name = strings.TrimSpace(info.Name)
	}
	if gpt.Description == "" {
		gpt.Description = strings.TrimSpace(info.Description)
	}
	if gpt.Instructions == "" {
		gpt.Instructions = strings.TrimSpace(info.Instructions)
	}
	if gpt.Model == "" {
		gpt.Model = strings.TrimSpace(info.Model)
	}
	return nil
}

// Update applies patch to the GPT. Admins and the creator may update.
func (r *Registry) Update(ctx context.Context, actor access.Actor, id uint64, patch Patch) (*models.GPT, error) {
	var updated models.GPT
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := dbutil.LockForUpdate(tx)
		var gpt models.GPT
		if errFind := q.First(&gpt, id).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindNotFound, "gpt not found")
			}
			return fmt.Errorf("gpts: find: %w", errFind)
		}
		if !access.CanModify(actor, &gpt) {
			return apperr.New(apperr.KindForbidden, "not allowed to modify this gpt")
		}

		applyPatch(&gpt, patch)
		EnsureCreatorAccess(&gpt)

		if errSave := tx.Save(&gpt).Error; errSave != nil {
			return fmt.Errorf("gpts: save: %w", errSave)
		}
		updated = gpt
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &updated, nil
}

func applyPatch(gpt *models.GPT, patch Patch) {
	if patch.Name != nil {
		if name := strings.TrimSpace(*patch.Name); name != "" {
			gpt.Name = name
		}
	}
	if patch.Description != nil {
		gpt.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Instructions != nil {
		gpt.Instructions = strings.TrimSpace(*patch.Instructions)
		if gpt.Instructions == "" {
			gpt.Instructions = settings.DefaultInstructions
		}
	}
	if patch.Model != nil {
		if model := strings.TrimSpace(*patch.Model); model != "" {
			gpt.Model = model
		}
	}
	if patch.ImageURL != nil {
		gpt.ImageURL = strings.TrimSpace(*patch.ImageURL)
	}
	if patch.IsPublic != nil {
		gpt.IsPublic = *patch.IsPublic
	}
	if patch.AllowedUsers != nil {
		gpt.AllowedUsers = models.UserIDs(*patch.AllowedUsers)
	}
}

// Remove deletes the GPT record. Threads and file rows that reference it are left
// in place and can be cleared with PruneOrphans.
func (r *Registry) Remove(ctx context.Context, actor access.Actor, id uint64) error {
	gpt, errFind := r.find(ctx, id)
	if errFind != nil {
		return errFind
	}
	if !access.CanModify(actor, gpt) {
		return apperr.New(apperr.KindForbidden, "not allowed to delete this gpt")
	}
	if errDelete := r.db.WithContext(ctx).Delete(&models.GPT{}, gpt.ID).Error; errDelete != nil {
		return fmt.Errorf("gpts: delete: %w", errDelete)
	}
	log.WithFields(log.Fields{"gpt_id": gpt.ID, "actor": actor.ID}).Info("gpts: removed")
	return nil
}

// List returns the GPTs the actor may view, newest first.
func (r *Registry) List(ctx context.Context, actor access.Actor, filter ListFilter) ([]models.GPT, error) {
	q := r.db.WithContext(ctx).Model(&models.GPT{}).Scopes(access.ViewableScope(actor))
	if query := strings.TrimSpace(filter.Query); query != "" {
		cond, args := dbutil.SearchClause(r.db, query, []string{"name", "description"})
		q = q.Where(cond, args...)
	}
	var rows []models.GPT
	if errFind := q.Order("created_at DESC").Order("id DESC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("gpts: list: %w", errFind)
	}
	return rows, nil
}

// Get returns one GPT if the actor may view it.
func (r *Registry) Get(ctx context.Context, actor access.Actor, id uint64) (*models.GPT, error) {
	gpt, errFind := r.find(ctx, id)
	if errFind != nil {
		return nil, errFind
	}
	if !access.CanView(actor, gpt) {
		return nil, apperr.New(apperr.KindForbidden, "access to gpt denied")
	}
	return gpt, nil
}

func (r *Registry) find(ctx context.Context, id uint64) (*models.GPT, error) {
	var gpt models.GPT
	if errFind := r.db.WithContext(ctx).First(&gpt, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "gpt not found")
		}
		return nil, fmt.Errorf("gpts: find: %w", errFind)
	}
	return &gpt, nil
}

// PruneResult reports how many orphaned rows were removed.
type PruneResult struct {
	Threads int64
	Files   int64
}

// PruneOrphans removes thread and file rows whose GPT no longer exists.
func (r *Registry) PruneOrphans(ctx context.Context) (PruneResult, error) {
	var result PruneResult
	orphan := r.db.Model(&models.GPT{}).Select("id")
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		resThreads := tx.Where("gpt_id NOT IN (?)", orphan).Delete(&models.Thread{})
		if resThreads.Error != nil {
			return fmt.Errorf("gpts: prune threads: %w", resThreads.Error)
		}
		resFiles := tx.Where("gpt_id NOT IN (?)", orphan).Delete(&models.GPTFile{})
		if resFiles.Error != nil {
			return fmt.Errorf("gpts: prune files: %w", resFiles.Error)
		}
		result.Threads = resThreads.RowsAffected
		result.Files = resFiles.RowsAffected
		return nil
	})
	if errTx != nil {
		return PruneResult{}, errTx
	}
	if result.Threads > 0 || result.Files > 0 {
		log.Infof("gpts: pruned %d orphan threads and %d orphan files", result.Threads, result.Files)
	}
	return result, nil
}
