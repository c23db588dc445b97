package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"ChatStream/middleware"
	"ChatStream/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
	wsWriteWait  = 10 * time.Second
)

type wsStartPayload struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID *uint  `json:"conversation_id"`
}

// wsSink maps the relay onto JSON frames. Only the pipeline goroutine writes
// data frames; pings go through WriteControl, which may run concurrently.
type wsSink struct {
	conn           *websocket.Conn
	conversationID uint
}

func (s *wsSink) send(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSink) Open(conversationID uint) error {
	s.conversationID = conversationID
	return s.send(gin.H{"type": "user_saved", "conversation_id": conversationID})
}

func (s *wsSink) Write(fragment string) error {
	return s.send(gin.H{"type": "delta", "data": fragment})
}

func (s *wsSink) Fail(marker string) error {
	return s.send(gin.H{"type": "error", "error": strings.TrimSpace(marker), "code": "generation_error", "marker": marker})
}

func (s *wsSink) Finish() error {
	return s.send(gin.H{"type": "done", "ok": true, "conversation_id": s.conversationID})
}

// ChatWS handles WebSocket chat streaming, one message per connection.
// Client protocol (JSON messages):
//
//	-> {type: "start", message: string, conversation_id?: number}
//	<- {type: "user_saved", conversation_id: number}
//	<- {type: "delta", data: string}
//	<- {type: "done", ok: true}
//	<- {type: "error", error: string, code: string}
//	-> {type: "stop"} cancels generation; nothing is persisted
func ChatWS(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := strings.TrimSpace(c.Query("token"))
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "missing token query", "code": "unauthorized"})
			return
		}
		if !middleware.Authenticate(c, d.Issuer, d.Revoked, tokenStr) {
			return
		}
		uid := middleware.CurrentUserID(c)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("component", "ws").Msg("upgrade failed")
			return
		}
		defer conn.Close()

		conn.SetReadLimit(1 << 20)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("component", "ws").Msg("read start message")
			return
		}
		var start wsStartPayload
		if err := json.Unmarshal(msgBytes, &start); err != nil || strings.ToLower(start.Type) != "start" {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": "invalid start payload", "code": "invalid_operation"})
			return
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		if d.Guard != nil {
			if d.Guard.Duplicate(uid, start.Message) {
				_ = conn.WriteJSON(gin.H{"type": "error", "error": "duplicate message", "code": "duplicate"})
				return
			}
			release, err := d.Guard.AcquireSlot(ctx, uid)
			if err != nil {
				return
			}
			defer release()
		}

		var (
			stopMu  sync.Mutex
			stopped bool
		)
		go func() {
			// any read error or a stop frame ends generation
			defer cancel()
			for {
				mt, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
					continue
				}
				var obj struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal(msg, &obj)
				if strings.EqualFold(strings.TrimSpace(obj.Type), "stop") {
					stopMu.Lock()
					stopped = true
					stopMu.Unlock()
					return
				}
			}
		}()

		go func() {
			t := time.NewTicker(wsPingPeriod)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
						return
					}
				}
			}
		}()

		sink := &wsSink{conn: conn}
		out, err := d.Pipeline.Send(ctx, chat.SendRequest{
			ConversationID: start.ConversationID,
			CallerID:       uid,
			Text:           start.Message,
		}, sink)

		stopMu.Lock()
		wasStopped := stopped
		stopMu.Unlock()
		switch {
		case wasStopped && errors.Is(err, context.Canceled):
			_ = sink.send(gin.H{"type": "done", "ok": false, "stopped": true, "conversation_id": out.ConversationID})
		case err != nil && !out.Committed:
			_ = sink.send(gin.H{"type": "error", "error": errorMessage(err), "code": chat.Code(err)})
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	}
}
