package middleware

import (
	"strings"

	"github.com/magicyang-1/chatshare-sub001/pkg/errors"
	"github.com/magicyang-1/chatshare-sub001/pkg/jwt"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TokenValidator is the part of jwt.Service the auth middleware needs
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwt.JWTClaims, error)
}

// JWTAuthMiddleware checks that the request has a valid JWT and adds claims to the context
func JWTAuthMiddleware(validator TokenValidator, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authorization header is required"))
			c.Abort()
			return
		}

		// Strip "Bearer " prefix if present
		token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))

		claims, err := validator.ValidateToken(token)
		if err != nil {
			log.WithContext(c.Request.Context()).Warn("Invalid JWT token", "error", err.Error())
			c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("userId", claims.UserID)

		c.Next()
	}
}
