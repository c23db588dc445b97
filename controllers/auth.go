package controllers

import (
	"net/http"
	"strings"

	"ChatStream/middleware"
	"ChatStream/models"
	utils "ChatStream/pkg/utills"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Register handler
func Register(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Email           string `json:"email"`
			Username        string `json:"username"`
			Password        string `json:"password"`
			ConfirmPassword string `json:"confirm_password"`
			FirstName       string `json:"first_name"`
			LastName        string `json:"last_name"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}

		email, emailOK := utils.NormalizeEmail(body.Email)
		username := strings.TrimSpace(body.Username)
		password := body.Password
		confirm := body.ConfirmPassword

		if email == "" || username == "" || password == "" || confirm == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "Email, username, password, and confirm password are required"})
			return
		}
		if !emailOK {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid email address"})
			return
		}
		if password != confirm {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "Passwords do not match"})
			return
		}
		if msg := utils.PasswordProblem(password); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": msg})
			return
		}

		var exists models.User
		err := d.DB.WithContext(c.Request.Context()).
			Where("email = ? OR username = ?", email, username).First(&exists).Error
		if err == nil {
			c.JSON(http.StatusConflict, gin.H{"msg": "Email or username already exists"})
			return
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error().Err(err).Str("component", "auth").Msg("user lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		user := models.User{
			Email:     email,
			Username:  username,
			FirstName: strings.TrimSpace(body.FirstName),
			LastName:  strings.TrimSpace(body.LastName),
		}
		if err := user.SetPassword(password); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to set password"})
			return
		}
		if err := d.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
			log.Error().Err(err).Str("component", "auth").Msg("create user failed")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to create user"})
			return
		}

		log.Info().Str("component", "auth").Uint("user_id", user.ID).Msg("user registered")
		c.JSON(http.StatusCreated, gin.H{"msg": "User created", "username": user.Username, "email": user.Email})
	}
}

// Login handler
func Login(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}
		email := strings.TrimSpace(strings.ToLower(body.Email))
		password := body.Password

		if email == "" || password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "Email and password are required"})
			return
		}

		var user models.User
		if err := d.DB.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "Invalid credentials"})
			return
		}
		if !user.CheckPassword(password) {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "Invalid credentials"})
			return
		}

		tokenStr, _, err := d.Issuer.Issue(user.ID)
		if err != nil {
			log.Error().Err(err).Str("component", "auth").Msg("sign token failed")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to create token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token": tokenStr,
			"username":     user.Username,
			"user":         userJSON(&user),
		})
	}
}

// Logout revokes the presented token until it would have expired anyway.
func Logout(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := middleware.CurrentClaims(c)
		if ok && claims.JTI != "" {
			if err := d.Revoked.Revoke(c.Request.Context(), claims.JTI, claims.ExpiresAt); err != nil {
				log.Error().Err(err).Str("component", "auth").Msg("revoke token failed")
				c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to log out"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"msg": "logged out"})
	}
}

func userJSON(u *models.User) gin.H {
	return gin.H{
		"id":                u.ID,
		"email":             u.Email,
		"username":          u.Username,
		"first_name":        u.FirstName,
		"last_name":         u.LastName,
		"profile_image_url": u.ProfileImageURL,
	}
}
