package uploads

import (
	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, dir string) {
	if dir == "" {
		dir = "./uploads"
	}
	r.Static("/uploads", dir)
}
