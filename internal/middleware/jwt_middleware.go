package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/GTDGit/conversion_api/internal/utils"
)

// JWTMiddleware guards the admin API with an HS256 bearer token. Tokens are
// minted out of band (convctl admin token); there is no login endpoint.
type JWTMiddleware struct {
	secret string
	// invalid throttles repeated bad credentials per IP: 5 per minute.
	invalid *IPRateLimiter
}

// NewJWTMiddleware constructs a JWTMiddleware.
func NewJWTMiddleware(secret string) *JWTMiddleware {
	return &JWTMiddleware{
		secret:  secret,
		invalid: NewIPRateLimiter(float64(rate.Every(12*time.Second)), 5),
	}
}

// Handle returns a Gin middleware function that enforces authentication.
func (m *JWTMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.reject(c, "UNAUTHORIZED", "Missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.reject(c, "UNAUTHORIZED", "Invalid authorization header")
			return
		}

		claims, err := utils.ValidateAdminJWT(m.secret, strings.TrimSpace(parts[1]))
		if err != nil {
			log.Debug().Err(err).Str("ip", c.ClientIP()).Msg("admin token rejected")
			m.reject(c, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set("admin_subject", claims.Subject)
		c.Next()
	}
}

func (m *JWTMiddleware) reject(c *gin.Context, code, message string) {
	if !m.invalid.Allow(c.ClientIP()) {
		utils.Error(c, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Too many invalid authentication attempts")
		c.Abort()
		return
	}
	utils.Error(c, http.StatusUnauthorized, code, message)
	c.Abort()
}

// AdminSubject returns the authenticated operator, or "" outside the admin API.
func AdminSubject(c *gin.Context) string {
	return c.GetString("admin_subject")
}
