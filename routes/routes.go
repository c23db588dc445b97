package routes

import (
	"context"
	"net/http"
	"time"

	"ChatStream/controllers"
	"ChatStream/middleware"

	"github.com/gin-gonic/gin"

	authRoutes "ChatStream/routes/auth"
	convRoutes "ChatStream/routes/conversation"
	profileRoutes "ChatStream/routes/profile"
	uploadsRoutes "ChatStream/routes/uploads"
	visitorRoutes "ChatStream/routes/visitors"
	websocketRoutes "ChatStream/routes/websocket"
)

func RegisterRoutes(r *gin.Engine, d *controllers.Deps, uploadDir string) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "ChatStream backend running"})
	})
	r.GET("/healthz", healthz(d))

	uploadsRoutes.Register(r, uploadDir)
	websocketRoutes.Register(r, d)
	authRoutes.RegisterPublic(r, d)
	visitorRoutes.Register(r, d)

	protected := r.Group("/")
	protected.Use(middleware.AuthMiddleware(d.Issuer, d.Revoked))
	authRoutes.RegisterProtected(protected, d)
	profileRoutes.Register(protected, d)
	convRoutes.Register(protected, d)
}

func healthz(d *controllers.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "db": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
