package controllers

import (
	"net/http"

	"ChatStream/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func Visitors(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := d.DB.WithContext(c.Request.Context())
		var stat models.SiteStat

		err := db.Transaction(func(tx *gorm.DB) error {
			if c.Request.Method == http.MethodPost {
				res := tx.Model(&models.SiteStat{}).
					Where(&models.SiteStat{Key: models.VisitorCountKey}).
					Update("value", gorm.Expr("value + ?", 1))
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					if err := tx.Create(&models.SiteStat{Key: models.VisitorCountKey, Value: 1}).Error; err != nil {
						return err
					}
				}
			}
			return tx.Where(&models.SiteStat{Key: models.VisitorCountKey}).
				FirstOrCreate(&stat, models.SiteStat{Key: models.VisitorCountKey}).Error
		})
		if err != nil {
			log.Error().Err(err).Str("component", "visitors").Msg("visitor counter failed")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to read visitor count"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": stat.Value})
	}
}
