package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"nest-server/models"
	"nest-server/types"
)

// Claims represents the JWT claims (using shared types)
type Claims = types.Claims

const (
	ContextUserKey   = "user"
	ContextUserIDKey = "user_id"
)

// AuthMiddleware validates the bearer token (or ?token= for websocket upgrades),
// loads the profile and rejects inactive accounts.
func AuthMiddleware(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Authorization header required",
				"message": "Please provide a valid token",
			})
			c.Abort()
			return
		}

		claims, err := ParseToken(tokenString, secret)
		if err != nil {
			logrus.WithError(err).Debug("Token rejected")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid token",
				"message": "Token is invalid or expired",
			})
			c.Abort()
			return
		}

		var profile models.Profile
		if err := db.WithContext(c.Request.Context()).First(&profile, "id = ?", claims.UserID()).Error; err != nil {
			status := http.StatusInternalServerError
			message := "Failed to load user"
			if errors.Is(err, gorm.ErrRecordNotFound) {
				status = http.StatusUnauthorized
				message = "User associated with token not found"
			}
			c.JSON(status, gin.H{"error": "User not found", "message": message})
			c.Abort()
			return
		}

		if !profile.IsActive() {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "User inactive",
				"message": "User account is deactivated",
			})
			c.Abort()
			return
		}

		c.Set(ContextUserKey, &profile)
		c.Set(ContextUserIDKey, profile.ID)
		c.Next()
	}
}

// AdminOnly must run after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile := CurrentUser(c)
		if profile == nil || !profile.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ParseToken validates an HS256 token signed with secret.
func ParseToken(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is not configured")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID() == "" {
		return nil, errors.New("token claims are invalid")
	}
	return claims, nil
}

// CurrentUser returns the profile set by AuthMiddleware.
func CurrentUser(c *gin.Context) *models.Profile {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	profile, _ := value.(*models.Profile)
	return profile
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}
