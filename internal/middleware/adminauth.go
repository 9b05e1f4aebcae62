package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const adminRealm = `Basic realm="gateway admin"`

// AdminAuth requires HTTP basic credentials matching user and the bcrypt
// passwordHash. With an empty hash every admin request is refused.
func AdminAuth(user, passwordHash string) gin.HandlerFunc {
	hash := []byte(passwordHash)

	return func(c *gin.Context) {
		if len(hash) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "Admin API is disabled",
				"status": http.StatusForbidden,
			})
			return
		}

		username, password, ok := c.Request.BasicAuth()
		if !ok {
			unauthorized(c, "Authorization header required")
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(user)) == 1
		passErr := bcrypt.CompareHashAndPassword(hash, []byte(password))
		if !userOK || passErr != nil {
			unauthorized(c, "Invalid credentials")
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", adminRealm)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":  msg,
		"status": http.StatusUnauthorized,
	})
}
