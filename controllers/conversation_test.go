package controllers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"ChatStream/controllers"
	"ChatStream/middleware"
	"ChatStream/models"
	"ChatStream/pkg/chat"
	"ChatStream/pkg/chat/chattest"
	"ChatStream/pkg/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) messages(t *testing.T, convID uint) []models.Message {
	t.Helper()
	turns, err := e.deps.Store.ReadAll(context.Background(), convID)
	require.NoError(t, err)
	return turns
}

func (e *testEnv) seed(t *testing.T, owner uint, texts ...string) (uint, []models.Message) {
	t.Helper()
	ctx := context.Background()
	conv, err := e.deps.Store.CreateConversation(ctx, owner, "seeded")
	require.NoError(t, err)
	var turns []models.Message
	for i, txt := range texts {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		m, err := e.deps.Store.Append(ctx, conv.ID, role, txt)
		require.NoError(t, err)
		turns = append(turns, *m)
	}
	return conv.ID, turns
}

func TestSendMessageStreamsReply(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Fragments: []string{"Hi", " there"}, Title: "Greeting"})
	tok := e.token(t, e.alice)

	w := e.do(t, http.MethodPost, "/conversations/messages", tok, gin.H{"message": "Hello"})
	okStatus(t, w, http.StatusOK)
	assert.Equal(t, "Hi there", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	id, err := strconv.ParseUint(w.Header().Get("X-Conversation-Id"), 10, 64)
	require.NoError(t, err)
	conv, err := e.deps.Store.GetConversation(context.Background(), uint(id))
	require.NoError(t, err)
	assert.Equal(t, "Greeting", conv.Title)
	assert.Equal(t, e.alice, conv.UserID)

	turns := e.messages(t, uint(id))
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello", turns[0].Content)
	assert.Equal(t, "Hi there", turns[1].Content)

	// second turn in the same conversation sees the whole history
	w = e.do(t, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", id), tok, gin.H{"message": "Again"})
	okStatus(t, w, http.StatusOK)
	assert.Equal(t, strconv.FormatUint(id, 10), w.Header().Get("X-Conversation-Id"))
	assert.Len(t, e.messages(t, uint(id)), 4)
	hist := e.gen.Histories()
	require.Len(t, hist, 2)
	assert.Len(t, hist[1], 3)
}

func TestSendMessageRejectsForeignConversation(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Fragments: []string{"x"}})
	convID, _ := e.seed(t, e.bob, "bob's secret")

	for _, path := range []string{
		fmt.Sprintf("/conversations/%d/messages", convID),
		"/conversations/9999/messages",
	} {
		w := e.do(t, http.MethodPost, path, e.token(t, e.alice), gin.H{"message": "let me in"})
		okStatus(t, w, http.StatusForbidden)
		msg, code := errorBody(t, w)
		assert.Equal(t, "Not authorized or conversation not found", msg)
		assert.Equal(t, "forbidden", code)
	}
	assert.Len(t, e.messages(t, convID), 1)
	assert.Empty(t, e.gen.Histories())
}

func TestSendMessageValidation(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Fragments: []string{"x"}})
	tok := e.token(t, e.alice)

	w := e.do(t, http.MethodPost, "/conversations/messages", tok, gin.H{"message": "   "})
	okStatus(t, w, http.StatusBadRequest)
	_, code := errorBody(t, w)
	assert.Equal(t, "invalid_operation", code)

	w = e.do(t, http.MethodPost, "/conversations/messages", tok, "{not json")
	okStatus(t, w, http.StatusBadRequest)

	w = e.do(t, http.MethodPost, "/conversations/abc/messages", tok, gin.H{"message": "hi"})
	okStatus(t, w, http.StatusBadRequest)

	w = e.do(t, http.MethodPost, "/conversations/messages", "", gin.H{"message": "hi"})
	okStatus(t, w, http.StatusUnauthorized)
}

func TestSendMessageMidStreamFailure(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Fragments: []string{"Hi", " the"}, StreamErr: errors.New("upstream reset")})
	convID, _ := e.seed(t, e.alice)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", convID), e.token(t, e.alice), gin.H{"message": "Hello"})
	okStatus(t, w, http.StatusOK)
	assert.Equal(t, "Hi the"+chat.ErrorMarker, w.Body.String())

	turns := e.messages(t, convID)
	require.Len(t, turns, 1)
	assert.Equal(t, models.RoleUser, turns[0].Role)
}

func TestSendMessagePreStreamFailure(t *testing.T) {
	e := newEnv(t, &chattest.Generator{OpenErr: errors.New("connection refused")})
	convID, _ := e.seed(t, e.alice)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", convID), e.token(t, e.alice), gin.H{"message": "Hello"})
	okStatus(t, w, http.StatusInternalServerError)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	_, code := errorBody(t, w)
	assert.Equal(t, "generation_error", code)

	turns := e.messages(t, convID)
	require.Len(t, turns, 1)
	assert.Equal(t, "Hello", turns[0].Content)
}

func TestSendMessageDuplicateGuard(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Fragments: []string{"ok"}}, func(d *controllers.Deps) {
		d.Guard = middleware.NewGuard(middleware.Limits{Capacity: 100, DuplicateTTL: time.Minute})
	})
	tok := e.token(t, e.alice)

	okStatus(t, e.do(t, http.MethodPost, "/conversations/messages", tok, gin.H{"message": "same"}), http.StatusOK)
	w := e.do(t, http.MethodPost, "/conversations/messages", tok, gin.H{"message": "same"})
	okStatus(t, w, http.StatusTooManyRequests)
	_, code := errorBody(t, w)
	assert.Equal(t, "duplicate", code)

	okStatus(t, e.do(t, http.MethodPost, "/conversations/messages", tok, gin.H{"message": "different"}), http.StatusOK)
}

func TestEditMessageRegenerates(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Fragments: []string{"fresh"}})
	convID, turns := e.seed(t, e.alice, "u1", "a1", "u2", "a2", "u3")
	tok := e.token(t, e.alice)

	w := e.do(t, http.MethodPut, fmt.Sprintf("/conversations/%d/messages/%d/edit", convID, turns[2].ID), tok, gin.H{"message": "X"})
	okStatus(t, w, http.StatusOK)
	assert.Equal(t, "fresh", w.Body.String())

	got := e.messages(t, convID)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"u1", "a1", "X", "fresh"}, []string{got[0].Content, got[1].Content, got[2].Content, got[3].Content})
	assert.Equal(t, turns[2].ID, got[2].ID)

	// assistant turns cannot be edited
	w = e.do(t, http.MethodPut, fmt.Sprintf("/conversations/%d/messages/%d/edit", convID, got[1].ID), tok, gin.H{"message": "Y"})
	okStatus(t, w, http.StatusBadRequest)
	_, code := errorBody(t, w)
	assert.Equal(t, "invalid_operation", code)

	// nor can other people's conversations
	w = e.do(t, http.MethodPut, fmt.Sprintf("/conversations/%d/messages/%d/edit", convID, got[0].ID), e.token(t, e.bob), gin.H{"message": "Y"})
	okStatus(t, w, http.StatusForbidden)
	assert.Len(t, e.messages(t, convID), 4)
}

func TestConversationListCreateAndMessages(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Title: "Japan Trip"})
	tok := e.token(t, e.alice)

	w := e.do(t, http.MethodPost, "/conversations", tok, gin.H{"title": "Plan a trip to Japan"})
	okStatus(t, w, http.StatusCreated)
	var created models.Conversation
	decode(t, w, &created)
	assert.Equal(t, "Japan Trip", created.Title)

	older, _ := e.seed(t, e.alice, "first", "reply")
	e.seed(t, e.bob, "not mine")

	w = e.do(t, http.MethodGet, "/conversations", tok, nil)
	okStatus(t, w, http.StatusOK)
	var list []store.ConversationSummary
	decode(t, w, &list)
	require.Len(t, list, 2)
	assert.Equal(t, older, list[0].ID)
	assert.EqualValues(t, 2, list[0].MessagesCount)
	assert.Equal(t, created.ID, list[1].ID)

	w = e.do(t, http.MethodGet, "/conversations?q=japan", tok, nil)
	okStatus(t, w, http.StatusOK)
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	w = e.do(t, http.MethodGet, fmt.Sprintf("/conversations/%d/messages", older), tok, nil)
	okStatus(t, w, http.StatusOK)
	var turns []models.Message
	decode(t, w, &turns)
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, "reply", turns[1].Content)

	w = e.do(t, http.MethodGet, fmt.Sprintf("/conversations/%d/messages", older), e.token(t, e.bob), nil)
	okStatus(t, w, http.StatusForbidden)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, &chattest.Generator{})
	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	okStatus(t, w, http.StatusOK)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
