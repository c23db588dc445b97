package profile

import (
	"ChatStream/controllers"

	"github.com/gin-gonic/gin"
)

// Register registers protected profile routes on supplied router group
// expects the group to already have AuthMiddleware applied
func Register(g *gin.RouterGroup, d *controllers.Deps) {
	g.GET("/profile", controllers.Profile(d))
	g.PUT("/profile", controllers.Profile(d))
	g.POST("/profile/avatar", controllers.UploadAvatar(d))
}
