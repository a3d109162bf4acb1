// internal/platform/di/cart/secret_provider_sm.go
package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	gax "github.com/googleapis/gax-go/v2"
)

var errSecretProviderNotConfigured = errors.New("di.cart: orderTokenProviderSM not configured")

const orderTokenCacheTTL = 5 * time.Minute

// secretAccessor is the part of *secretmanager.Client the provider needs.
type secretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

var _ secretAccessor = (*secretmanager.Client)(nil)

// orderTokenProviderSM reads the order API bearer token from Secret Manager.
// It implements httpout.TokenSource and caches the value for a few minutes
// so rotation is picked up without a redeploy.
type orderTokenProviderSM struct {
	sm        secretAccessor
	projectID string
	secretID  string
	version   string
	now       func() time.Time

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

func newOrderTokenProviderSM(sm secretAccessor, projectID, secretID string) *orderTokenProviderSM {
	return &orderTokenProviderSM{
		sm:        sm,
		projectID: strings.TrimSpace(projectID),
		secretID:  strings.TrimSpace(secretID),
		version:   "latest",
		now:       time.Now,
	}
}

func (p *orderTokenProviderSM) Token(ctx context.Context) (string, error) {
	if p == nil || p.sm == nil {
		return "", errSecretProviderNotConfigured
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != "" && p.now().Before(p.expiresAt) {
		return p.cached, nil
	}

	name, err := p.secretName()
	if err != nil {
		return "", err
	}
	resp, err := p.sm.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", errors.New("orderTokenProviderSM: AccessSecretVersion failed (" + name + "): " + err.Error())
	}
	if resp == nil || resp.Payload == nil {
		return "", errors.New("orderTokenProviderSM: empty payload (" + name + ")")
	}

	p.cached = strings.TrimSpace(string(resp.Payload.Data))
	p.expiresAt = p.now().Add(orderTokenCacheTTL)
	return p.cached, nil
}

func (p *orderTokenProviderSM) secretName() (string, error) {
	if p.projectID == "" {
		return "", errors.New("orderTokenProviderSM: projectID is empty")
	}
	if p.secretID == "" {
		return "", errors.New("orderTokenProviderSM: secretID is empty")
	}
	// a full resource name is accepted as-is
	if strings.HasPrefix(p.secretID, "projects/") {
		return p.secretID, nil
	}
	ver := strings.TrimSpace(p.version)
	if ver == "" {
		ver = "latest"
	}
	return "projects/" + p.projectID + "/secrets/" + p.secretID + "/versions/" + ver, nil
}
