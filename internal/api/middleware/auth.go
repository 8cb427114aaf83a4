package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards the operator API with a bearer key checked against a bcrypt hash.
// A key that verified once is remembered by digest so bcrypt does not run on every request.
type AdminAuth struct {
	hash   []byte
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	verified [sha256.Size]byte
	known    bool
}

func NewAdminAuth(keyHash string, logger *zap.SugaredLogger) *AdminAuth {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AdminAuth{hash: []byte(keyHash), logger: logger.Named("auth")}
}

// Enabled is false when no key hash is configured; the API is then open.
func (a *AdminAuth) Enabled() bool {
	return len(a.hash) > 0
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func (a *AdminAuth) check(key string) bool {
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	hit := a.known && subtle.ConstantTimeCompare(digest[:], a.verified[:]) == 1
	a.mu.RUnlock()
	if hit {
		return true
	}

	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
		return false
	}

	a.mu.Lock()
	a.verified, a.known = digest, true
	a.mu.Unlock()
	return true
}

func (a *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		key := bearerToken(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !a.check(key) {
			a.logger.Warnw("Rejected admin request", "path", c.FullPath(), "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		c.Set("authenticated", true)
		c.Next()
	}
}
