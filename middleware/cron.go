package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"nest-server/config"
)

// CronAuth protects the worker and sweep endpoints. The secret comes as a bearer
// token or ?secret=. With a bcrypt hash configured the plain secret is not needed
// on the server. With neither configured the endpoints stay open.
func CronAuth(cfg config.CronConfig) gin.HandlerFunc {
	if cfg.Secret == "" && cfg.SecretHash == "" {
		logrus.Warn("⚠️  CRON_SECRET is not set, worker endpoints are unauthenticated")
	}

	return func(c *gin.Context) {
		if cfg.Secret == "" && cfg.SecretHash == "" {
			c.Next()
			return
		}

		provided := bearerToken(c)
		if provided == "" {
			provided = c.Query("secret")
		}
		if provided == "" || !cronSecretMatches(cfg, provided) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func cronSecretMatches(cfg config.CronConfig, provided string) bool {
	if cfg.SecretHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(cfg.SecretHash), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(cfg.Secret), []byte(provided)) == 1
}
