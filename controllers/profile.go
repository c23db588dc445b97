package controllers

import (
	"net/http"
	"strings"

	"ChatStream/middleware"
	"ChatStream/models"
	"ChatStream/pkg/services"
	utils "ChatStream/pkg/utills"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func Profile(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := middleware.CurrentUserID(c)
		db := d.DB.WithContext(c.Request.Context())

		var user models.User
		if err := db.First(&user, uid).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "User not found"})
			return
		}

		if c.Request.Method == http.MethodGet {
			c.JSON(http.StatusOK, userJSON(&user))
			return
		}

		// PUT
		var body struct {
			Email     string  `json:"email"`
			Username  string  `json:"username"`
			Password  string  `json:"password"`
			FirstName *string `json:"first_name"`
			LastName  *string `json:"last_name"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}

		newEmail := user.Email
		if strings.TrimSpace(body.Email) != "" {
			e, ok := utils.NormalizeEmail(body.Email)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid email address"})
				return
			}
			newEmail = e
		}
		newUsername := strings.TrimSpace(body.Username)
		if newUsername == "" {
			newUsername = user.Username
		}

		if newEmail != user.Email {
			var t models.User
			if err := db.Where("email = ?", newEmail).First(&t).Error; err == nil {
				c.JSON(http.StatusConflict, gin.H{"msg": "Email already exists"})
				return
			}
		}
		if newUsername != user.Username {
			var t models.User
			if err := db.Where("username = ?", newUsername).First(&t).Error; err == nil {
				c.JSON(http.StatusConflict, gin.H{"msg": "Username already exists"})
				return
			}
		}

		user.Email = newEmail
		user.Username = newUsername
		if body.FirstName != nil {
			user.FirstName = strings.TrimSpace(*body.FirstName)
		}
		if body.LastName != nil {
			user.LastName = strings.TrimSpace(*body.LastName)
		}
		if body.Password != "" {
			if msg := utils.PasswordProblem(body.Password); msg != "" {
				c.JSON(http.StatusBadRequest, gin.H{"msg": msg})
				return
			}
			if err := user.SetPassword(body.Password); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to set password"})
				return
			}
		}
		if err := db.Save(&user).Error; err != nil {
			log.Error().Err(err).Str("component", "profile").Uint("user_id", uid).Msg("save profile failed")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to update profile"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"msg": "Profile updated successfully", "user": userJSON(&user)})
	}
}

// UploadAvatar replaces the caller's profile picture with the multipart
// field "avatar".
func UploadAvatar(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := middleware.CurrentUserID(c)
		db := d.DB.WithContext(c.Request.Context())

		var user models.User
		if err := db.First(&user, uid).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "User not found"})
			return
		}

		header, err := c.FormFile("avatar")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "avatar file is required"})
			return
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "unable to read upload"})
			return
		}
		defer f.Close()

		saved, err := d.Avatars.SaveAvatar(uid, f, header.Filename)
		if errors.Is(err, services.ErrInvalidImage) {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("component", "profile").Uint("user_id", uid).Msg("save avatar failed")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to save avatar"})
			return
		}

		previous := user.ProfileImageURL
		if err := db.Model(&user).Update("profile_image_url", saved.PublicURL).Error; err != nil {
			_ = d.Avatars.DeleteImage(saved.FilePath)
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to update profile"})
			return
		}
		if previous != "" {
			if err := d.Avatars.DeleteImage(previous); err != nil {
				log.Warn().Err(err).Str("component", "profile").Str("ref", previous).Msg("delete old avatar failed")
			}
		}

		c.JSON(http.StatusOK, gin.H{"msg": "Avatar updated", "profile_image_url": saved.PublicURL, "file_size": saved.FileSize})
	}
}
