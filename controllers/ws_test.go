package controllers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ChatStream/models"
	"ChatStream/pkg/chat/chattest"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFrame struct {
	Type           string `json:"type"`
	Data           string `json:"data"`
	Code           string `json:"code"`
	OK             bool   `json:"ok"`
	Stopped        bool   `json:"stopped"`
	ConversationID uint   `json:"conversation_id"`
}

func dialWS(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntil collects frames up to and including the first one of type last.
func readUntil(t *testing.T, conn *websocket.Conn, last string) []wsFrame {
	t.Helper()
	var frames []wsFrame
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type == last {
			return frames
		}
	}
}

func frameTypes(frames []wsFrame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestChatWSStreamsReply(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Fragments: []string{"Hi", " there"}, Title: "Greeting"})
	srv := httptest.NewServer(e.r)
	defer srv.Close()

	conn, _, err := dialWS(t, srv, e.token(t, e.alice))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "start", "message": "Hello"}))
	frames := readUntil(t, conn, "done")
	assert.Equal(t, []string{"user_saved", "delta", "delta", "done"}, frameTypes(frames))
	assert.Equal(t, "Hi", frames[1].Data)
	assert.Equal(t, " there", frames[2].Data)
	assert.True(t, frames[3].OK)

	convID := frames[0].ConversationID
	require.NotZero(t, convID)
	assert.Equal(t, convID, frames[3].ConversationID)
	turns := e.messages(t, convID)
	require.Len(t, turns, 2)
	assert.Equal(t, "Hi there", turns[1].Content)
}

func TestChatWSRejects(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Fragments: []string{"x"}})
	srv := httptest.NewServer(e.r)
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "bogus")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	convID, _ := e.seed(t, e.bob, "private")
	conn, _, err := dialWS(t, srv, e.token(t, e.alice))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "start", "message": "hi", "conversation_id": convID}))
	frames := readUntil(t, conn, "error")
	assert.Equal(t, "forbidden", frames[len(frames)-1].Code)
	assert.Len(t, e.messages(t, convID), 1)
}

func TestChatWSStop(t *testing.T) {
	e := newEnv(t, &chattest.Generator{Fragments: []string{"Hi"}, Hang: true})
	srv := httptest.NewServer(e.r)
	defer srv.Close()
	convID, _ := e.seed(t, e.alice)

	conn, _, err := dialWS(t, srv, e.token(t, e.alice))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "start", "message": "Hello", "conversation_id": convID}))
	readUntil(t, conn, "delta")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "stop"}))

	frames := readUntil(t, conn, "done")
	done := frames[len(frames)-1]
	assert.False(t, done.OK)
	assert.True(t, done.Stopped)

	turns := e.messages(t, convID)
	require.Len(t, turns, 1)
	assert.Equal(t, models.RoleUser, turns[0].Role)
}
