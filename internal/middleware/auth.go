package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"imgus-backend/internal/config"
	"imgus-backend/internal/models"
)

const UserIDKey = "user_id"

// AuthMiddleware accepts HS256 bearer tokens signed with the configured
// secret and stores the "sub" claim under UserIDKey.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header", "")
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" {
			abortUnauthorized(c, "invalid authorization header format", "")
			return
		}
		tokenString = strings.TrimSpace(tokenString)
		if tokenString == "" {
			abortUnauthorized(c, "empty token", "")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if len(secret) == 0 {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			abortUnauthorized(c, "invalid token", tokenErrorMessage(err))
			return
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			abortUnauthorized(c, "missing user id in token", "")
			return
		}

		c.Set(UserIDKey, sub)
		c.Next()
	}
}

// UserID returns the authenticated caller set by AuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature is invalid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed"
	}
	return err.Error()
}

func abortUnauthorized(c *gin.Context, msg, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: msg, Message: detail})
}
