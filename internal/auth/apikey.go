// Package auth verifies the API keys presented to the intake API.
package auth

import (
	"errors"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/gotrs-io/gotrs-intake/internal/config"
)

// ErrKeyNotAuthorized is returned for unknown, inactive or IP mismatched keys.
var ErrKeyNotAuthorized = errors.New("auth: API key not authorized")

// Key is a configured API key. Only the bcrypt hash of the secret is held.
type Key struct {
	Name             string
	Hash             string
	IP               string
	Active           bool
	CanCreateTickets bool

	network *net.IPNet
}

// AllowsIP reports whether remote may use the key. Keys without a bound address allow all.
func (k *Key) AllowsIP(remote string) bool {
	if k.IP == "" {
		return true
	}
	ip := net.ParseIP(strings.TrimSpace(remote))
	if ip == nil {
		return false
	}
	if k.network != nil {
		return k.network.Contains(ip)
	}
	bound := net.ParseIP(k.IP)
	return bound != nil && bound.Equal(ip)
}

// KeyRing holds the configured keys.
type KeyRing struct {
	mu     sync.RWMutex
	keys   []*Key
	logger *zap.Logger
}

// NewKeyRing builds a ring from configuration. The ip_address of a key may be a single
// address or a CIDR block.
func NewKeyRing(cfgs []config.APIKeyConfig, logger *zap.Logger) *KeyRing {
	if logger == nil {
		logger = zap.NewNop()
	}
	ring := &KeyRing{logger: logger}
	ring.keys = ring.build(cfgs)
	return ring
}

// Reload replaces the keys with a new configuration.
func (r *KeyRing) Reload(cfgs []config.APIKeyConfig) {
	keys := r.build(cfgs)
	r.mu.Lock()
	r.keys = keys
	r.mu.Unlock()
	r.logger.Info("api keys reloaded", zap.Int("keys", len(keys)))
}

func (r *KeyRing) build(cfgs []config.APIKeyConfig) []*Key {
	keys := make([]*Key, 0, len(cfgs))
	for _, c := range cfgs {
		k := &Key{
			Name:             c.Name,
			Hash:             strings.TrimSpace(c.Hash),
			IP:               strings.TrimSpace(c.IPAddress),
			Active:           c.Active,
			CanCreateTickets: c.CanCreateTickets,
		}
		if strings.Contains(k.IP, "/") {
			_, network, err := net.ParseCIDR(k.IP)
			if err != nil {
				r.logger.Warn("api key has invalid ip_address, key disabled", zap.String("key", k.Name), zap.Error(err))
				k.Active = false
			}
			k.network = network
		}
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of configured keys.
func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Authenticate returns the active key whose hash matches secret and which admits remoteIP.
func (r *KeyRing) Authenticate(secret, remoteIP string) (*Key, error) {
	secret = strings.TrimSpace(secret)
	if r == nil || secret == "" {
		return nil, ErrKeyNotAuthorized
	}
	r.mu.RLock()
	keys := r.keys
	r.mu.RUnlock()
	for _, k := range keys {
		if !k.Active || k.Hash == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(secret)) != nil {
			continue
		}
		if !k.AllowsIP(remoteIP) {
			r.logger.Warn("api key used from unexpected address",
				zap.String("key", k.Name), zap.String("ip", remoteIP))
			return nil, ErrKeyNotAuthorized
		}
		return k, nil
	}
	return nil, ErrKeyNotAuthorized
}

// HashKey returns the bcrypt hash to configure for secret.
func HashKey(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth: empty key")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
