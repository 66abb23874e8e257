package session

import (
	"strings"
	"time"
)

const (
	RefreshTokenKey = "refreshToken"
	EmailKey        = "EMAIL"
	EmailTTL        = 5 * time.Minute
)

// Session reads and writes the named credentials of a Store.
type Session struct {
	store Store
}

func New(store Store) *Session {
	if store == nil {
		panic("session.New: store must not be nil")
	}
	return &Session{store: store}
}

// RefreshToken reports the stored refresh token; blank values count as absent.
func (s *Session) RefreshToken() (string, bool, error) {
	return s.get(RefreshTokenKey)
}

func (s *Session) SetRefreshToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.store.Clear(RefreshTokenKey)
	}
	return s.store.Set(RefreshTokenKey, token, 0)
}

func (s *Session) ClearRefreshToken() error {
	return s.store.Clear(RefreshTokenKey)
}

func (s *Session) Email() (string, bool, error) {
	return s.get(EmailKey)
}

func (s *Session) SetEmail(email string) error {
	return s.store.Set(EmailKey, strings.TrimSpace(email), EmailTTL)
}

func (s *Session) get(key string) (string, bool, error) {
	value, ok, err := s.store.Get(key)
	if err != nil || !ok {
		return "", false, err
	}
	value = strings.TrimSpace(value)
	return value, value != "", nil
}
