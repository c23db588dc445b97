package visitors

import (
	"ChatStream/controllers"

	"github.com/gin-gonic/gin"
)

// Register registers the public site visit counter.
func Register(r *gin.Engine, d *controllers.Deps) {
	r.GET("/visitors", controllers.Visitors(d))
	r.POST("/visitors", controllers.Visitors(d))
}
