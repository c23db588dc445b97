package controllers

import (
	"net/http"
	"strconv"

	"ChatStream/middleware"
	"ChatStream/pkg/chat"
	"ChatStream/pkg/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type messageBody struct {
	Message string `json:"message"`
}

// httpSink streams fragments as a chunked text/plain body. Headers are only
// committed by the first write, so pre-stream failures can still answer with
// a JSON error.
type httpSink struct {
	c       *gin.Context
	started bool
}

func (s *httpSink) Open(conversationID uint) error {
	s.c.Header("X-Conversation-Id", strconv.FormatUint(uint64(conversationID), 10))
	return nil
}

func (s *httpSink) begin() {
	if s.started {
		return
	}
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no") // nginx buffering off
	s.c.Status(http.StatusOK)
	s.c.Writer.WriteHeaderNow()
	s.started = true
}

func (s *httpSink) Write(fragment string) error {
	s.begin()
	if _, err := s.c.Writer.WriteString(fragment); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return s.c.Request.Context().Err()
}

func (s *httpSink) Fail(marker string) error {
	s.begin()
	_, err := s.c.Writer.WriteString(marker)
	s.c.Writer.Flush()
	return err
}

func (s *httpSink) Finish() error {
	s.begin()
	s.c.Writer.Flush()
	return nil
}

// bindMessage reads {"message": ...}. Emptiness and length are checked by the
// pipeline.
func bindMessage(c *gin.Context) (string, bool) {
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"msg": "Message is required", "code": "invalid_operation"})
		return "", false
	}
	return body.Message, true
}

// SendMessage handles POST /conversations/messages (new conversation) and
// POST /conversations/:conversation_id/messages.
func SendMessage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := middleware.CurrentUserID(c)
		req := chat.SendRequest{CallerID: uid}
		if c.Param("conversation_id") != "" {
			id, ok := paramID(c, "conversation_id")
			if !ok {
				return
			}
			req.ConversationID = &id
		}
		text, ok := bindMessage(c)
		if !ok {
			return
		}
		req.Text = text

		if d.Guard != nil && d.Guard.Duplicate(uid, text) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"msg": "duplicate message", "code": "duplicate"})
			return
		}

		out, err := d.Pipeline.Send(c.Request.Context(), req, &httpSink{c: c})
		if err != nil && !out.Committed {
			writeError(c, err)
		}
	}
}

// EditMessage handles PUT /conversations/:conversation_id/messages/:turn_id/edit.
func EditMessage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		convID, ok := paramID(c, "conversation_id")
		if !ok {
			return
		}
		turnID, ok := paramID(c, "turn_id")
		if !ok {
			return
		}
		text, ok := bindMessage(c)
		if !ok {
			return
		}

		out, err := d.Pipeline.EditAndRegenerate(c.Request.Context(), chat.EditRequest{
			ConversationID: convID,
			TurnID:         turnID,
			CallerID:       middleware.CurrentUserID(c),
			Text:           text,
		}, &httpSink{c: c})
		if err != nil && !out.Committed {
			writeError(c, err)
		}
	}
}

// ListConversations returns the sidebar list, most recent activity first.
func ListConversations(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Registry.ListFor(c.Request.Context(), middleware.CurrentUserID(c), c.Query("q"))
		if err != nil {
			log.Error().Err(err).Str("component", "conversations").Msg("list failed")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "Failed to fetch conversations", "code": "persistence_error"})
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// CreateConversation creates an empty conversation titled after "title".
func CreateConversation(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Title string `json:"title"`
		}
		_ = c.ShouldBindJSON(&body)

		conv, err := d.Registry.Create(c.Request.Context(), middleware.CurrentUserID(c), body.Title)
		if err != nil {
			log.Error().Err(err).Str("component", "conversations").Msg("create failed")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "Failed to create conversation", "code": "persistence_error"})
			return
		}
		c.JSON(http.StatusCreated, conv)
	}
}

// GetMessages returns a conversation's turns in order.
func GetMessages(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		convID, ok := paramID(c, "conversation_id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		owner, err := d.Store.OwnerOf(ctx, convID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && owner != middleware.CurrentUserID(c)) {
			writeError(c, chat.ErrForbidden)
			return
		}
		if err != nil {
			writeError(c, errors.Wrap(chat.ErrPersistence, err.Error()))
			return
		}
		turns, err := d.Store.ReadAll(ctx, convID)
		if err != nil {
			writeError(c, errors.Wrap(chat.ErrPersistence, err.Error()))
			return
		}
		c.JSON(http.StatusOK, turns)
	}
}
