// internal/adapters/out/memory/session_store.go
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	cartdom "whatsdish/internal/domain/cart"
)

var errEmptySessionID = errors.New("memory: sessionID is empty")

// SessionStore keeps credentials in process memory (dev / tests).
type SessionStore struct {
	mu    sync.RWMutex
	creds map[string]cartdom.Credentials
}

func NewSessionStore() *SessionStore {
	return &SessionStore{creds: map[string]cartdom.Credentials{}}
}

func (s *SessionStore) Reader(sessionID string) cartdom.SessionReader {
	return sessionReader{store: s, sessionID: strings.TrimSpace(sessionID)}
}

// Bind replaces the session's credentials. Empty fields clear the stored value.
func (s *SessionStore) Bind(_ context.Context, sessionID string, creds cartdom.Credentials) error {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return errEmptySessionID
	}
	s.mu.Lock()
	s.creds[sid] = cartdom.Credentials{
		OrderID:   strings.TrimSpace(creds.OrderID),
		AccountID: strings.TrimSpace(creds.AccountID),
	}
	s.mu.Unlock()
	return nil
}

type sessionReader struct {
	store     *SessionStore
	sessionID string
}

func (r sessionReader) ReadCredentials(context.Context) (cartdom.Credentials, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.creds[r.sessionID], nil
}
