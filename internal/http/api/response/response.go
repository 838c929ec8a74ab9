// Package response writes the JSON envelopes shared by every API route.
package response

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/access"
	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/http/middleware"
	log "github.com/sirupsen/logrus"
)

// actorContextKey stores the authenticated actor in the gin context.
const actorContextKey = "actor"

// SetActor records the authenticated actor for downstream handlers.
func SetActor(c *gin.Context, actor access.Actor) {
	c.Set(actorContextKey, actor)
}

// ActorFrom returns the authenticated actor, or the zero actor when absent.
func ActorFrom(c *gin.Context) access.Actor {
	if v, ok := c.Get(actorContextKey); ok {
		if actor, okActor := v.(access.Actor); okActor {
			return actor
		}
	}
	return access.Actor{}
}

// OK writes a success envelope around data.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// List writes a success envelope with an item count.
func List[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(items), "data": items})
}

// Error writes the error envelope for err. Unclassified errors are logged and hidden.
func Error(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	message, details := apperr.PublicMessage(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"request_id": middleware.RequestID(c),
			"path":       c.FullPath(),
		}).Error("request failed")
	}
	body := gin.H{"success": false, "error": message}
	if len(details) > 0 {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}

// Invalid writes a 400 envelope with message.
func Invalid(c *gin.Context, message string) {
	Error(c, apperr.New(apperr.KindInvalidInput, "%s", message))
}

// ParseID parses a positive numeric path parameter, writing a 400 on failure.
func ParseID(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		Invalid(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
