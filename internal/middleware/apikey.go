package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/auth"
	"github.com/gotrs-io/gotrs-intake/internal/channel"
	"github.com/gotrs-io/gotrs-intake/internal/intake"
)

// APIKeyKey is the gin context key holding the authenticated *auth.Key.
const APIKeyKey = "api_key"

// APIKeyAuth authenticates requests by the X-API-Key header.
type APIKeyAuth struct {
	ring   *auth.KeyRing
	logger *zap.Logger
}

func NewAPIKeyAuth(ring *auth.KeyRing, logger *zap.Logger) *APIKeyAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIKeyAuth{ring: ring, logger: logger}
}

// RequireAPIKey admits requests carrying an active key bound to the client address.
// permit further restricts the key, e.g. to keys allowed to create tickets.
func (m *APIKeyAuth) RequireAPIKey(permit func(*auth.Key) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := m.ring.Authenticate(c.GetHeader("X-API-Key"), c.ClientIP())
		if err == nil && permit != nil && !permit(key) {
			err = auth.ErrKeyNotAuthorized
		}
		if err != nil {
			m.logger.Info("api key rejected",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.FullPath()))
			reply := channel.API{}.Translate(nil, intake.KeyNotAuthorized())
			c.AbortWithStatusJSON(reply.Code, reply.Error)
			return
		}
		c.Set(APIKeyKey, key)
		c.Next()
	}
}

// CanCreateTickets permits keys allowed to open tickets.
func CanCreateTickets(k *auth.Key) bool {
	return k != nil && k.CanCreateTickets
}
