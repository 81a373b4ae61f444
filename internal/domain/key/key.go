// Package key models a single provisioned credential on a single backend
// server. Outline and V2Ray keys share one table (per the fleet's design
// notes on avoiding two near-identical tables): Backend discriminates which
// optional fields are meaningful.
package key

import (
	"fmt"
	"time"
)

// Backend discriminates the protocol a key was provisioned against.
type Backend string

const (
	BackendOutline Backend = "outline"
	BackendV2Ray   Backend = "v2ray"
)

// Key is one credential on one server, optionally tied to a subscription.
// Keys with a nil SubscriptionID are free/trial keys tracked only through
// FreeKeyUsage for rate limiting.
type Key struct {
	id                uint
	serverID          uint
	userID            uint
	subscriptionID    *uint
	backend           Backend
	email             string // synthesized identity sent to the backend
	remoteID          string // Outline: backend-assigned access-key id (key_id), distinct from email
	accessURL         string // Outline: ss:// access URL returned by the backend
	v2rayUUID         string // V2Ray: client UUID
	level             int    // V2Ray: user level
	clientConfig      string // V2Ray: rendered VLESS URL
	createdAt         time.Time
	trafficLimitMB    *int64
	trafficUsageBytes int64
}

// NewOutlineKey records a key provisioned against an Outline server.
// remoteID is the access-key id the backend returned from CreateUser; rows
// provisioned before this field existed carry it empty and fall back to
// email-based addressing until a reconcile pass backfills it.
func NewOutlineKey(serverID, userID uint, subscriptionID *uint, email, remoteID, accessURL string, trafficLimitMB *int64) (*Key, error) {
	if serverID == 0 || userID == 0 {
		return nil, fmt.Errorf("server id and user id are required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if accessURL == "" {
		return nil, fmt.Errorf("access url is required")
	}
	return &Key{
		serverID: serverID, userID: userID, subscriptionID: subscriptionID,
		backend: BackendOutline, email: email, remoteID: remoteID, accessURL: accessURL,
		trafficLimitMB: trafficLimitMB, createdAt: time.Now().UTC(),
	}, nil
}

// NewV2RayKey records a key provisioned against a V2Ray server.
func NewV2RayKey(serverID, userID uint, subscriptionID *uint, email, v2rayUUID string, level int, clientConfig string, trafficLimitMB *int64) (*Key, error) {
	if serverID == 0 || userID == 0 {
		return nil, fmt.Errorf("server id and user id are required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if v2rayUUID == "" {
		return nil, fmt.Errorf("v2ray uuid is required")
	}
	return &Key{
		serverID: serverID, userID: userID, subscriptionID: subscriptionID,
		backend: BackendV2Ray, email: email, v2rayUUID: v2rayUUID, level: level,
		clientConfig: clientConfig, trafficLimitMB: trafficLimitMB, createdAt: time.Now().UTC(),
	}, nil
}

// Reconstruct rebuilds a Key from persistence.
func Reconstruct(
	id, serverID, userID uint, subscriptionID *uint, backend Backend, email, remoteID, accessURL, v2rayUUID string,
	level int, clientConfig string, createdAt time.Time, trafficLimitMB *int64, trafficUsageBytes int64,
) (*Key, error) {
	if id == 0 {
		return nil, fmt.Errorf("key id cannot be zero")
	}
	return &Key{
		id: id, serverID: serverID, userID: userID, subscriptionID: subscriptionID, backend: backend,
		email: email, remoteID: remoteID, accessURL: accessURL, v2rayUUID: v2rayUUID, level: level, clientConfig: clientConfig,
		createdAt: createdAt, trafficLimitMB: trafficLimitMB, trafficUsageBytes: trafficUsageBytes,
	}, nil
}

func (k *Key) ID() uint               { return k.id }
func (k *Key) ServerID() uint         { return k.serverID }
func (k *Key) UserID() uint           { return k.userID }
func (k *Key) SubscriptionID() *uint  { return k.subscriptionID }
func (k *Key) Backend() Backend       { return k.backend }
func (k *Key) Email() string          { return k.email }
func (k *Key) RemoteID() string       { return k.remoteID }
func (k *Key) AccessURL() string      { return k.accessURL }
func (k *Key) V2RayUUID() string      { return k.v2rayUUID }
func (k *Key) Level() int             { return k.level }
func (k *Key) ClientConfig() string   { return k.clientConfig }
func (k *Key) CreatedAt() time.Time   { return k.createdAt }
func (k *Key) TrafficLimitMB() *int64 { return k.trafficLimitMB }
func (k *Key) TrafficUsageBytes() int64 {
	return k.trafficUsageBytes
}

// BackendID is the identifier the protocol client uses to address this key
// on its server: V2Ray addresses by client UUID, Outline by the numeric
// access-key id the backend assigned at creation. Outline rows provisioned
// before remoteID was tracked fall back to email, which only works until a
// reconcile pass backfills the real id (see SetRemoteID).
func (k *Key) BackendID() string {
	switch k.backend {
	case BackendV2Ray:
		return k.v2rayUUID
	case BackendOutline:
		if k.remoteID != "" {
			return k.remoteID
		}
		return k.email
	default:
		return k.email
	}
}

// SetRemoteID records a backend-assigned id recovered after the fact, e.g.
// a reconcile pass backfilling a legacy row that predates remoteID tracking.
func (k *Key) SetRemoteID(remoteID string) {
	k.remoteID = remoteID
}

// RecordTraffic overwrites the cumulative usage counter reported by the
// backend for this specific key.
func (k *Key) RecordTraffic(cumulativeBytes int64) {
	k.trafficUsageBytes = cumulativeBytes
}

// SynthesizeEmail builds the identity string sent to backend servers:
// {user_id}_subscription_{subscription_id}@{domain}, or a free-key form
// when subscriptionID is nil.
func SynthesizeEmail(userID uint, subscriptionID *uint, domain string) string {
	if subscriptionID == nil {
		return fmt.Sprintf("%d_free@%s", userID, domain)
	}
	return fmt.Sprintf("%d_subscription_%d@%s", userID, *subscriptionID, domain)
}
