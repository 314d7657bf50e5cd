package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/grantscout/grantscout-backend/config"
	"github.com/grantscout/grantscout-backend/model"
	"github.com/grantscout/grantscout-backend/pkg/logger"
)

// Claims are the JWT claims issued by the identity provider. The backend
// trusts the verified user id, role and whitelist status carried here.
type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Whitelist string `json:"whitelist_status"`
	jwt.RegisteredClaims
}

// GenerateToken signs a JWT for the given identity. Used by tests and
// local tooling; production tokens come from the identity provider.
func GenerateToken(id model.Identity, cfg *config.AuthConfig) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := Claims{
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      string(id.Role),
		Whitelist: string(id.Whitelist),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// AuthMiddleware validates the bearer token and stores the resolved
// identity in the gin context.
func AuthMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := parts[1]

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		identity := model.Identity{
			UserID:    claims.UserID,
			Email:     claims.Email,
			Role:      model.Role(claims.Role),
			Whitelist: model.WhitelistStatus(claims.Whitelist),
		}

		c.Set("identity", identity)

		// Add the user id to the request context for the logger
		ctx := context.WithValue(c.Request.Context(), logger.UserIDKey, identity.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireApproved gates paid routes on whitelist approval.
func RequireApproved() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if !id.Approved() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Account is not approved for paid features",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin gates admin-only routes.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin role required",
			})
			return
		}
		c.Next()
	}
}

// GetIdentity returns the resolved caller identity from the gin context.
func GetIdentity(c *gin.Context) model.Identity {
	if v, exists := c.Get("identity"); exists {
		if id, ok := v.(model.Identity); ok {
			return id
		}
	}
	return model.Identity{}
}
