package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const studentIdKey = "studentId"

// Middleware rejects requests without a valid bearer token and binds
// the verified student id into the gin context.
func (s Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authorization header is required",
			})
			return
		}

		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authorization header must be in the format: Bearer {token}",
			})
			return
		}

		studentId, err := s.VerifyToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid or expired token",
			})
			return
		}

		c.Set(studentIdKey, studentId)
		c.Next()
	}
}

// StudentId returns the student id bound by Middleware.
func StudentId(c *gin.Context) string {
	id, _ := c.Get(studentIdKey)
	s, _ := id.(string)
	return s
}
