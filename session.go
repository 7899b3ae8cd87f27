package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	tableSessions     = "sessions"
	defaultSessionTTL = 24 * time.Hour
)

type SessionConfig struct {
	Redis       redis.Cmdable
	Logger      *logrus.Logger
	ServiceName string        // key prefix; defaults to "crm"
	TTL         time.Duration // defaults to 24 hours
}

/*
	SessionStore maps opaque bearer tokens to identities in Redis. It is the session
	provider a server hands to SetIdentity: sign-in stores the identity under a fresh
	token, and a token that is unknown or expired has no session.
*/
type SessionStore struct {
	redis   redis.Cmdable
	service string
	ttl     time.Duration
	log     *logrus.Entry

	newToken func() string
}

func NewSessionStore(conf *SessionConfig) (*SessionStore, error) {
	if conf == nil || conf.Redis == nil {
		return nil, errors.New("storage: Redis must be set")
	}
	if conf.TTL < 0 {
		return nil, errors.New("storage: session TTL cannot be negative")
	}

	s := &SessionStore{
		redis:   conf.Redis,
		service: conf.ServiceName,
		ttl:     conf.TTL,

		newToken: uuid.NewString,
	}
	if s.service == "" {
		s.service = defaultServiceName
	}
	if s.ttl == 0 {
		s.ttl = defaultSessionTTL
	}
	logger := conf.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s.log = logger.WithField("component", "sessions")
	return s, nil
}

func (s *SessionStore) key(token string) string {
	return cacheKey(s.service, tableSessions, map[string]string{"token": token})
}

// SignIn stores identity and returns the token that now refers to it
func (s *SessionStore) SignIn(ctx context.Context, identity Identity) (string, error) {
	if identity.ID == "" || identity.TenantID == "" {
		return "", invalid("identity needs an id and a tenant")
	}

	b, err := json.Marshal(identity)
	if err != nil {
		return "", err
	}

	token := s.newToken()
	if err := s.redis.Set(ctx, s.key(token), b, s.ttl).Err(); err != nil {
		return "", err
	}

	s.log.WithFields(logrus.Fields{"tenant_id": identity.TenantID, "user_id": identity.ID}).Info("signed in")
	return token, nil
}

func (s *SessionStore) Lookup(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	b, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	identity := &Identity{}
	if err := json.Unmarshal(b, identity); err != nil {
		s.log.WithError(err).Warn("dropping unreadable session")
		if err := s.redis.Del(ctx, s.key(token)).Err(); err != nil {
			s.log.WithError(err).Warn("delete unreadable session")
		}
		return nil, ErrNoSession
	}
	return identity, nil
}

// SignOut forgets token; signing out twice is not an error
func (s *SessionStore) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.redis.Del(ctx, s.key(token)).Err()
}
