package v1

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shenikar/sos_dispatch_system/internal/config"
	"github.com/shenikar/sos_dispatch_system/internal/session"
	"github.com/sirupsen/logrus"
)

const sessionContextKey = "dispatcher_session"

// SessionManager - выдача и проверка сессий диспетчера
type SessionManager interface {
	Login(ctx context.Context, username, password string) (*session.Session, error)
	Resolve(ctx context.Context, token string) (*session.Session, session.State, error)
	Logout(ctx context.Context, token string) error
}

// DispatcherAuthMiddleware пропускает запрос с API-ключом из конфигурации
// или с действующим токеном сессии диспетчера
func DispatcherAuthMiddleware(cfg *config.Config, sessions SessionManager, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			if !slices.Contains(cfg.APIKeys, apiKey) {
				log.Warn("Invalid API key provided")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
				return
			}
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			log.Warn("Credentials missing from request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		// Ключ можно передать и как Bearer
		if slices.Contains(cfg.APIKeys, token) {
			c.Next()
			return
		}
		if sessions == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		s, _, err := sessions.Resolve(c.Request.Context(), token)
		switch {
		case errors.Is(err, session.ErrSessionExpired):
			log.Info("Dispatcher session expired")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		case err != nil:
			log.WithError(err).Warn("Failed to resolve session")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(sessionContextKey, s)
		c.Next()
	}
}

// SessionFromContext возвращает сессию, если запрос прошел по токену диспетчера
func SessionFromContext(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*session.Session)
	return s, ok
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}
