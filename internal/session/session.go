// Package session - явная сессия диспетчера вместо глобального токена.
package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/sos_dispatch_system/internal/config"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionNotFound    = errors.New("session not found")
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateExpired         State = "expired"
)

type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// State вычисляет состояние сессии на момент now. nil - не аутентифицирован.
func (s *Session) State(now time.Time) State {
	if s == nil || s.Token == "" {
		return StateUnauthenticated
	}
	if !now.Before(s.ExpiresAt) {
		return StateExpired
	}
	return StateAuthenticated
}

// Store хранит выданные сессии
type Store interface {
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
}

const keyPrefix = "session:"

// RedisStore - сессии в Redis с TTL
type RedisStore struct {
	redisClient *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redisClient: client}
}

func (r *RedisStore) Save(ctx context.Context, s *Session, ttl time.Duration) error {
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.redisClient.Set(ctx, keyPrefix+s.Token, val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, token string) (*Session, error) {
	val, err := r.redisClient.Get(ctx, keyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s := &Session{}
	if err := json.Unmarshal(val, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Delete(ctx context.Context, token string) error {
	if err := r.redisClient.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Manager выдает и проверяет сессии по демо-учеткам из конфигурации
type Manager struct {
	store       Store
	credentials map[string]config.Credential
	ttl         time.Duration
	clock       clockwork.Clock
	logger      *logrus.Logger
}

func NewManager(store Store, credentials map[string]config.Credential, ttl time.Duration, clock clockwork.Clock, logger *logrus.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		store:       store,
		credentials: credentials,
		ttl:         ttl,
		clock:       clock,
		logger:      logger,
	}
}

// Login проверяет пароль и выдает новую сессию
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, error) {
	log := m.logger.WithFields(logrus.Fields{
		"service":  "session",
		"method":   "Login",
		"username": username,
	})

	cred, ok := m.credentials[username]
	// Сравнение выполняется и для неизвестного пользователя
	expected := cred.Password
	if !ok {
		expected = "\x00"
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 || !ok {
		log.Warn("Rejected dispatcher login")
		return nil, ErrInvalidCredentials
	}

	now := m.clock.Now().UTC()
	s := &Session{
		Token:     uuid.NewString(),
		Username:  username,
		Role:      cred.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, s, m.ttl); err != nil {
		log.WithError(err).Error("Failed to save session")
		return nil, fmt.Errorf("session: could not save session: %w", err)
	}

	log.Info("Dispatcher logged in")
	return s, nil
}

// Resolve находит сессию по токену. Истекшая сессия возвращается вместе с ErrSessionExpired.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, State, error) {
	if token == "" {
		return nil, StateUnauthenticated, ErrSessionNotFound
	}
	s, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, StateUnauthenticated, err
	}
	state := s.State(m.clock.Now())
	if state == StateExpired {
		return s, state, ErrSessionExpired
	}
	return s, state, nil
}

// Logout удаляет сессию
func (m *Manager) Logout(ctx context.Context, token string) error {
	if err := m.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("session: could not delete session: %w", err)
	}
	return nil
}
