// Package api holds the HTTP handlers around the real-time layer: the
// service-to-service relay endpoints, the auth-code exchange and the
// monitoring routes.
package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"backend/actors"
	"backend/entities"
)

// RelayService exposes the internal actor relay over HTTP for callers that
// run outside this process. These routes are service-to-service only and
// must not be reachable by clients.
type RelayService struct {
	directory *actors.Directory
}

func NewRelayService(directory *actors.Directory) *RelayService {
	return &RelayService{directory: directory}
}

// DeliverMessage handles POST /internal/rooms/:conversationId/message: a
// user with no direct room socket sending into the conversation.
func (s *RelayService) DeliverMessage(c *gin.Context) {
	conversationId, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "nok", "message": "invalid conversationId"})
		return
	}

	var message entities.ExternalMessage
	if err := c.ShouldBindJSON(&message); err != nil {
		log.Printf("RelayService: DeliverMessage: error decoding body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "nok", "message": err.Error()})
		return
	}

	err = s.directory.DeliverMessage(c.Request.Context(), conversationId, message)
	if err != nil {
		var validationErr *entities.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "nok", "message": validationErr.Error()})
			return
		}
		log.Printf("RelayService: DeliverMessage: error delivering to conversation %s: %v", conversationId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "nok", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeliverTyping handles POST /internal/rooms/:conversationId/typing.
func (s *RelayService) DeliverTyping(c *gin.Context) {
	conversationId, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "nok", "message": "invalid conversationId"})
		return
	}

	var body struct {
		UserId   uuid.UUID `json:"userId"`
		UserName string    `json:"userName"`
		IsTyping bool      `json:"isTyping"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "nok", "message": err.Error()})
		return
	}

	// Typing relay is best effort; failures are logged inside the room.
	_ = s.directory.DeliverTyping(c.Request.Context(), conversationId, body.UserId, body.UserName, body.IsTyping)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Notify handles POST /internal/users/:userId/notify: one room pushing a
// notification into a user's registry.
func (s *RelayService) Notify(c *gin.Context) {
	userId, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "nok", "message": "invalid userId"})
		return
	}

	var notification entities.Notification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "nok", "message": err.Error()})
		return
	}

	err = s.directory.Notify(c.Request.Context(), userId, notification)
	if err != nil {
		var accessErr *entities.AccessDeniedError
		if errors.As(err, &accessErr) {
			c.JSON(http.StatusForbidden, gin.H{"status": "nok", "message": accessErr.Error()})
			return
		}
		log.Printf("RelayService: Notify: error notifying user %s: %v", userId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "nok", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
