package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redislib "github.com/redis/go-redis/v9"

	redisclient "github.com/piratar/members-sync/pkg/redis"
)

// ErrUnknownSession is returned when a token id has no live session.
var ErrUnknownSession = errors.New("unknown session")

type sessionStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type sessionKeyer interface {
	SessionKey(jti string) string
}

// Manager tracks issued access tokens so they can be revoked before expiry.
type Manager struct {
	store sessionStore
	keyer sessionKeyer
}

// AccessSessionChecker resolves which client a live token id belongs to. It
// returns ErrUnknownSession once the token was revoked or expired.
type AccessSessionChecker interface {
	Owner(ctx context.Context, jti string) (string, error)
}

// NewManager constructs a session manager backed by Redis.
func NewManager(client *redisclient.Client) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Manager{store: client, keyer: client}, nil
}

// Register records a freshly minted token id for the owning client.
func (m *Manager) Register(ctx context.Context, jti, clientID string, ttl time.Duration) error {
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("token id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	return m.store.Set(ctx, m.keyer.SessionKey(jti), clientID, ttl)
}

// Owner returns the client id a live token id was issued to.
func (m *Manager) Owner(ctx context.Context, jti string) (string, error) {
	if strings.TrimSpace(jti) == "" {
		return "", ErrUnknownSession
	}
	owner, err := m.store.Get(ctx, m.keyer.SessionKey(jti))
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return "", ErrUnknownSession
		}
		return "", err
	}
	return owner, nil
}

// Revoke deletes the session tied to the token id.
func (m *Manager) Revoke(ctx context.Context, jti string) error {
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("token id is required")
	}
	return m.store.Del(ctx, m.keyer.SessionKey(jti))
}
