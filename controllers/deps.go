package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"ChatStream/middleware"
	"ChatStream/pkg/chat"
	"ChatStream/pkg/services"
	"ChatStream/pkg/store"
	tokenstore "ChatStream/pkg/token"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the collaborators the handlers are built from.
type Deps struct {
	DB       *gorm.DB
	Store    store.Store
	Registry *chat.Registry
	Pipeline *chat.Pipeline
	Issuer   *tokenstore.Issuer
	Revoked  tokenstore.Store
	Guard    *middleware.Guard
	Avatars  *services.AvatarStorage
}

// writeError sends the structured body used for every failure that happens
// before a stream starts.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(chat.HTTPStatus(err), gin.H{"msg": errorMessage(err), "code": chat.Code(err)})
}

// errorMessage is the caller-facing text for err; server-side causes stay in
// the log.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrForbidden), errors.Is(err, chat.ErrNotFound):
		return "Not authorized or conversation not found"
	case errors.Is(err, chat.ErrInvalidOperation):
		return err.Error()
	case errors.Is(err, chat.ErrGeneration):
		return "Failed to generate a reply"
	default:
		return "Failed to process chat message"
	}
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"msg": "invalid " + name, "code": "invalid_operation"})
		return 0, false
	}
	return uint(id), true
}
