// internal/adapters/out/firestore/session_store_fs.go
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	cartdom "whatsdish/internal/domain/cart"
)

// SessionStoreFS keeps credentials in Firestore.
//
// - collection: sessions
// - docId: sessionId
// - fields: order_id, accountId, updatedAt
type SessionStoreFS struct {
	Client *firestore.Client
}

func NewSessionStoreFS(client *firestore.Client) *SessionStoreFS {
	return &SessionStoreFS{Client: client}
}

func (s *SessionStoreFS) col() *firestore.CollectionRef {
	return s.Client.Collection("sessions")
}

func (s *SessionStoreFS) Reader(sessionID string) cartdom.SessionReader {
	return sessionReaderFS{store: s, sessionID: strings.TrimSpace(sessionID)}
}

func (s *SessionStoreFS) Bind(ctx context.Context, sessionID string, creds cartdom.Credentials) error {
	if s == nil || s.Client == nil {
		return errors.New("session_store_fs: firestore client is nil")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return errors.New("session_store_fs: sessionID is empty")
	}
	_, err := s.col().Doc(sid).Set(ctx, map[string]any{
		"order_id":  strings.TrimSpace(creds.OrderID),
		"accountId": strings.TrimSpace(creds.AccountID),
		"updatedAt": time.Now().UTC(),
	}, firestore.MergeAll)
	return err
}

type sessionReaderFS struct {
	store     *SessionStoreFS
	sessionID string
}

// ReadCredentials treats a missing doc as empty credentials.
func (r sessionReaderFS) ReadCredentials(ctx context.Context) (cartdom.Credentials, error) {
	if r.store == nil || r.store.Client == nil {
		return cartdom.Credentials{}, errors.New("session_store_fs: firestore client is nil")
	}
	if r.sessionID == "" {
		return cartdom.Credentials{}, nil
	}
	snap, err := r.store.col().Doc(r.sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return cartdom.Credentials{}, nil
		}
		return cartdom.Credentials{}, err
	}
	raw := snap.Data()
	return cartdom.Credentials{
		OrderID:   strings.TrimSpace(asString(raw["order_id"])),
		AccountID: strings.TrimSpace(asString(raw["accountId"])),
	}, nil
}
