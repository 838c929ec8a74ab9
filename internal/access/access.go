// Package access decides who may see and change a GPT.
package access

import (
	dbutil "github.com/router-for-me/GPTHub/internal/db"
	"github.com/router-for-me/GPTHub/internal/models"
	"gorm.io/gorm"
)

// Actor is the authenticated user performing a request.
type Actor struct {
	ID       uint64
	Username string
	Role     string
}

// ActorFromUser builds an Actor from a user row.
func ActorFromUser(user *models.User) Actor {
	if user == nil {
		return Actor{}
	}
	return Actor{ID: user.ID, Username: user.Username, Role: user.Role}
}

// IsAdmin reports whether the actor has the admin role.
func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// CanView reports whether the actor may view and chat with the GPT.
func CanView(actor Actor, gpt *models.GPT) bool {
	if gpt == nil {
		return false
	}
	if actor.IsAdmin() || gpt.IsPublic {
		return true
	}
	if actor.ID == 0 {
		return false
	}
	return actor.ID == gpt.CreatedBy || gpt.AllowedUsers.Contains(actor.ID)
}

// CanModify reports whether the actor may update or delete the GPT.
func CanModify(actor Actor, gpt *models.GPT) bool {
	if gpt == nil {
		return false
	}
	if actor.IsAdmin() {
		return true
	}
	return actor.ID != 0 && actor.ID == gpt.CreatedBy
}

// ViewableScope restricts a GPT query to rows the actor may view.
// It mirrors CanView in SQL so listings never load rows the actor cannot see.
func ViewableScope(actor Actor) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if actor.IsAdmin() {
			return tx
		}
		if actor.ID == 0 {
			return tx.Where("is_public = ?", true)
		}
		allowed, member := dbutil.JSONArrayContains(tx, "allowed_users", actor.ID)
		return tx.Where("(is_public = ? OR created_by = ? OR "+allowed+")", true, actor.ID, member)
	}
}
