// internal/adapters/out/redis/session_store.go
package redisout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	cartdom "whatsdish/internal/domain/cart"
)

const (
	fieldOrderID   = "order_id"
	fieldAccountID = "accountId"
)

// SessionStore keeps per-session credentials in a Redis hash:
//
//	key:    session:<sessionId>
//	fields: order_id, accountId
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a store backed by Redis. ttl <= 0 keeps keys forever.
func NewSessionStore(addr, password string, db int, ttl time.Duration) *SessionStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewSessionStoreWithClient(rdb, ttl)
}

func NewSessionStoreWithClient(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", strings.TrimSpace(sessionID))
}

// Ping checks connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) Close() error {
	return s.client.Close()
}

func (s *SessionStore) Reader(sessionID string) cartdom.SessionReader {
	return sessionReader{store: s, sessionID: strings.TrimSpace(sessionID)}
}

// Bind overwrites both fields atomically.
func (s *SessionStore) Bind(ctx context.Context, sessionID string, creds cartdom.Credentials) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("redis session store: sessionID is empty")
	}
	key := sessionKey(sessionID)

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			fieldOrderID, strings.TrimSpace(creds.OrderID),
			fieldAccountID, strings.TrimSpace(creds.AccountID),
		)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	return err
}

type sessionReader struct {
	store     *SessionStore
	sessionID string
}

// ReadCredentials returns empty fields when the key does not exist.
func (r sessionReader) ReadCredentials(ctx context.Context) (cartdom.Credentials, error) {
	vals, err := r.store.client.HMGet(ctx, sessionKey(r.sessionID), fieldOrderID, fieldAccountID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cartdom.Credentials{}, nil
		}
		return cartdom.Credentials{}, err
	}
	return cartdom.Credentials{
		OrderID:   asString(vals, 0),
		AccountID: asString(vals, 1),
	}, nil
}

func asString(vals []any, i int) string {
	if i >= len(vals) || vals[i] == nil {
		return ""
	}
	if s, ok := vals[i].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
