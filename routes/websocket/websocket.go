package websocket

import (
	"ChatStream/controllers"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, d *controllers.Deps) {
	if d.Guard != nil {
		r.GET("/ws/chat", d.Guard.RateLimit(), controllers.ChatWS(d))
		return
	}
	r.GET("/ws/chat", controllers.ChatWS(d))
}
