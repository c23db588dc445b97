package conversation

import (
	"ChatStream/controllers"

	"github.com/gin-gonic/gin"
)

// Register registers conversation routes (protected)
func Register(g *gin.RouterGroup, d *controllers.Deps) {
	g.GET("/conversations", controllers.ListConversations(d))
	g.POST("/conversations", controllers.CreateConversation(d))
	g.GET("/conversations/:conversation_id/messages", controllers.GetMessages(d))

	// streaming endpoints are rate limited and hold a per-user stream slot
	send := controllers.SendMessage(d)
	if d.Guard != nil {
		stream := g.Group("/", d.Guard.RateLimit(), d.Guard.StreamSlot())
		stream.POST("/conversations/messages", send)
		stream.POST("/conversations/:conversation_id/messages", send)
		stream.PUT("/conversations/:conversation_id/messages/:turn_id/edit", controllers.EditMessage(d))
		return
	}
	g.POST("/conversations/messages", send)
	g.POST("/conversations/:conversation_id/messages", send)
	g.PUT("/conversations/:conversation_id/messages/:turn_id/edit", controllers.EditMessage(d))
}
