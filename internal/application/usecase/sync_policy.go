// internal/application/usecase/sync_policy.go
package usecase

import "time"

// SyncPolicy controls what happens after a dispatch fails.
//
// The zero value keeps the historical behavior: no retry, no rollback,
// the failure is only logged and the local mutation stands.
type SyncPolicy struct {
	RetryEnabled      bool
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RollbackOnFailure bool

	// HydrateWaitTimeout bounds how long Activate waits for in-flight syncs.
	HydrateWaitTimeout time.Duration
	// ReconcileInterval of 0 disables the background reconciler.
	ReconcileInterval time.Duration
}

const (
	defaultMaxAttempts        = 3
	defaultRetryBaseDelay     = 200 * time.Millisecond
	defaultHydrateWaitTimeout = 3 * time.Second
	maxRetryDelay             = 10 * time.Second
)

// DefaultSyncPolicy returns the historical fire-and-forget policy.
func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		MaxAttempts:        defaultMaxAttempts,
		RetryBaseDelay:     defaultRetryBaseDelay,
		HydrateWaitTimeout: defaultHydrateWaitTimeout,
	}
}

// attempts returns how many times one operation may be sent.
func (p SyncPolicy) attempts() int {
	if !p.RetryEnabled {
		return 1
	}
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// backoff returns the delay before attempt n (n >= 2).
func (p SyncPolicy) backoff(n int) time.Duration {
	base := p.RetryBaseDelay
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	d := base
	for i := 2; i < n; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

func (p SyncPolicy) hydrateWait() time.Duration {
	if p.HydrateWaitTimeout <= 0 {
		return defaultHydrateWaitTimeout
	}
	return p.HydrateWaitTimeout
}
