// Package backend implements the management-API clients the subscription
// engine and traffic monitor use to talk to Outline and V2Ray servers. Both
// clients satisfy VpnBackend; the engine is written against the interface
// and never branches on concrete type.
package backend

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// KeyTrafficStats is one key's cumulative usage as reported by a backend.
type KeyTrafficStats struct {
	KeyID       string
	BytesUsed   int64
}

// UserConfig is the backend-rendered client configuration for a single key:
// an access URL for Outline, a VLESS URL for V2Ray.
type UserConfig struct {
	KeyID  string
	Config string
}

// VpnBackend is the capability surface every protocol client exposes. The
// engine, traffic monitor, and reconciler depend only on this interface.
type VpnBackend interface {
	// CreateUser provisions a new key for email on the backend and returns
	// its backend-assigned identifier and rendered client config.
	CreateUser(ctx context.Context, email string, trafficLimitBytes int64) (UserConfig, error)
	// DeleteUser removes a previously provisioned key. Deleting a key that
	// does not exist on the backend is treated as success (idempotent).
	DeleteUser(ctx context.Context, keyID string) error
	// GetUserConfig re-fetches the rendered client config for an existing key.
	GetUserConfig(ctx context.Context, keyID string) (UserConfig, error)
	// GetTrafficHistory returns cumulative usage for every key on the server.
	GetTrafficHistory(ctx context.Context) ([]KeyTrafficStats, error)
	// GetKeyTrafficStats returns cumulative usage for a single key.
	GetKeyTrafficStats(ctx context.Context, keyID string) (KeyTrafficStats, error)
	// ResetKeyTraffic zeroes a key's usage counter on the backend, used when
	// a subscription is extended into a new term.
	ResetKeyTraffic(ctx context.Context, keyID string) error
	// GetAllKeys lists every key currently provisioned on the backend, used
	// by the reconciler to detect drift against the local store.
	GetAllKeys(ctx context.Context) ([]string, error)
	// Close releases any held connections (V2Ray's gRPC channel).
	Close() error
}

// XrayConfigSyncer is an additional capability only V2Ray servers expose:
// pushing the full inbound/routing configuration. Outline has no
// equivalent, so this is a separate interface rather than a method on
// VpnBackend that Outline would have to no-op.
type XrayConfigSyncer interface {
	SyncXrayConfig(ctx context.Context, configJSON string) error
}

// newHTTPClient builds the shared HTTP client configuration for every backend
// client: a hard 30s total budget with a 5s connect timeout, and an
// optional per-server TLS bypass for self-signed management endpoints.
func newHTTPClient(insecureSkipVerify bool) *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
	}
	if insecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per server for self-signed management endpoints
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
}
