// internal/infra/firestore/client.go
package firestoreinfra

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// ClientWrapper wraps a Firestore client with its project.
type ClientWrapper struct {
	Client    *firestore.Client
	ProjectID string
}

// NewClient uses ADC when credentialsFile is empty.
func NewClient(ctx context.Context, projectID string, credentialsFile string) (*ClientWrapper, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	log.Printf("[firestore] connected project=%s", projectID)
	return &ClientWrapper{Client: client, ProjectID: projectID}, nil
}

// Ping reads one document of the sessions collection; Firestore has no ping API.
func (cw *ClientWrapper) Ping(ctx context.Context) error {
	if cw == nil || cw.Client == nil {
		return fmt.Errorf("firestore client is nil")
	}
	it := cw.Client.Collection("sessions").Limit(1).Documents(ctx)
	defer it.Stop()
	if _, err := it.GetAll(); err != nil {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

func (cw *ClientWrapper) Close() error {
	if cw == nil || cw.Client == nil {
		return nil
	}
	return cw.Client.Close()
}
