// Package subscription implements the subscription lifecycle: creation
// (with fan-out provisioning across the V2Ray fleet), extension,
// deactivation, and administrative deletion.
package subscription

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veevpn/panel/internal/application/traffic"
	domainkey "github.com/veevpn/panel/internal/domain/key"
	domainserver "github.com/veevpn/panel/internal/domain/server"
	domainsubscription "github.com/veevpn/panel/internal/domain/subscription"
	"github.com/veevpn/panel/internal/infrastructure/cache"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/shared/errors"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
)

const maxTokenGenerationAttempts = 10

// ClientFactory builds a protocol client for a server. Swappable in tests.
type ClientFactory func(s *domainserver.Server) (backend.VpnBackend, error)

// Engine is the subscription lifecycle use-case layer.
// vipAccessLevel is the subscriber access level granted to VIP users,
// letting them reach higher-access_level servers a standard subscriber
// can't. Non-VIP subscribers resolve to level 0.
const vipAccessLevel = 1

type Engine struct {
	subscriptions *gormrepo.SubscriptionRepository
	keys          *gormrepo.KeyRepository
	servers       *gormrepo.ServerRepository
	tariffs       *gormrepo.TariffRepository
	users         *gormrepo.UserRepository
	cache         *cache.BundleCache
	clientFor     ClientFactory
	log           logger.Interface
}

func NewEngine(
	subscriptions *gormrepo.SubscriptionRepository,
	keys *gormrepo.KeyRepository,
	servers *gormrepo.ServerRepository,
	tariffs *gormrepo.TariffRepository,
	users *gormrepo.UserRepository,
	bundleCache *cache.BundleCache,
	clientFor ClientFactory,
	log logger.Interface,
) *Engine {
	return &Engine{
		subscriptions: subscriptions, keys: keys, servers: servers, tariffs: tariffs, users: users,
		cache: bundleCache, clientFor: clientFor, log: log,
	}
}

// CreateResult carries the created (or extended) subscription and the ids
// of the active V2Ray servers its keys could not be provisioned on.
type CreateResult struct {
	Subscription   *domainsubscription.Subscription
	FailedServers  []uint
}

// Create purchases a new term for userID on tariffID. If the user already
// holds an active subscription, the purchase extends it instead of minting
// a second one — subscriptions are a one-per-user resource.
func (e *Engine) Create(ctx context.Context, userID, tariffID uint) (*CreateResult, error) {
	existing, err := e.subscriptions.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		t, err := e.tariffs.FindByID(ctx, tariffID)
		if err != nil {
			return nil, err
		}
		if err := e.Extend(ctx, existing.ID(), t.DurationSec(), &tariffID); err != nil {
			return nil, err
		}
		refreshed, err := e.subscriptions.FindByID(ctx, existing.ID())
		if err != nil {
			return nil, err
		}
		return &CreateResult{Subscription: refreshed}, nil
	}

	t, err := e.tariffs.FindByID(ctx, tariffID)
	if err != nil {
		return nil, err
	}

	token, err := e.generateUniqueToken(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := domainsubscription.New(userID, token, tariffID, t.DurationSec())
	if err != nil {
		return nil, errors.NewValidationError("invalid subscription parameters", err.Error())
	}

	sub, err = e.subscriptions.Create(ctx, sub)
	if err != nil {
		return nil, err
	}

	servers, err := e.servers.ListActiveV2Ray(ctx)
	if err != nil {
		return nil, err
	}

	subscriberLevel, err := e.subscriberAccessLevel(ctx, userID)
	if err != nil {
		return nil, err
	}
	eligible := servers[:0:0]
	for _, srv := range servers {
		if srv.MeetsAccessLevel(subscriberLevel) {
			eligible = append(eligible, srv)
		}
	}
	servers = eligible

	var failedServers []uint
	created := 0
	for _, srv := range servers {
		if err := e.provisionOnServer(ctx, sub, srv, t.TrafficLimitBytes()); err != nil {
			e.log.Warnw("failed to provision key on server", "server_id", srv.ID(), "error", err.Error())
			failedServers = append(failedServers, srv.ID())
			continue
		}
		created++
	}

	if len(servers) > 0 && created == 0 {
		// Nothing was actually delivered to the customer; compensate by
		// deactivating the subscription rather than leaving a dead grant.
		sub.Deactivate()
		_ = e.subscriptions.Update(ctx, sub)
		return nil, errors.NewBackendUnavailableError(
			"failed to provision subscription on any server",
			fmt.Sprintf("attempted %d servers", len(servers)),
		)
	}

	return &CreateResult{Subscription: sub, FailedServers: failedServers}, nil
}

// subscriberAccessLevel resolves a user's effective access level for server
// eligibility: VIP users can reach servers with a higher access_level than
// a standard subscriber. A user with no row yet (first contact) resolves to
// the standard level rather than failing the purchase.
func (e *Engine) subscriberAccessLevel(ctx context.Context, userID uint) (int, error) {
	u, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, err
	}
	if u.IsVIP() {
		return vipAccessLevel, nil
	}
	return 0, nil
}

// provisionOnServer creates one key on one server, persists it, and
// compensates with a backend delete if persistence fails after the backend
// create succeeded — the fan-out must never leave a key alive on a server
// with no corresponding local row.
func (e *Engine) provisionOnServer(ctx context.Context, sub *domainsubscription.Subscription, srv *domainserver.Server, trafficLimitBytes *int64) error {
	client, err := e.clientFor(srv)
	if err != nil {
		return err
	}
	defer client.Close()

	subID := sub.ID()
	email := domainkey.SynthesizeEmail(sub.UserID(), &subID, srv.Domain())

	var limitBytes int64
	if trafficLimitBytes != nil {
		limitBytes = *trafficLimitBytes
	}

	userConfig, err := client.CreateUser(ctx, email, limitBytes)
	if err != nil {
		return err
	}

	var k *domainkey.Key
	switch srv.Protocol() {
	case domainserver.ProtocolOutline:
		k, err = domainkey.NewOutlineKey(srv.ID(), sub.UserID(), &subID, email, userConfig.KeyID, userConfig.Config, tariffLimitMB(trafficLimitBytes))
	case domainserver.ProtocolV2Ray:
		k, err = domainkey.NewV2RayKey(srv.ID(), sub.UserID(), &subID, email, userConfig.KeyID, 0, userConfig.Config, tariffLimitMB(trafficLimitBytes))
	default:
		err = fmt.Errorf("unsupported protocol %s", srv.Protocol())
	}
	if err != nil {
		_ = client.DeleteUser(ctx, userConfig.KeyID)
		return err
	}

	if _, err := e.keys.Create(ctx, k); err != nil {
		_ = client.DeleteUser(ctx, userConfig.KeyID)
		return err
	}
	return nil
}

func tariffLimitMB(bytes *int64) *int64 {
	if bytes == nil {
		return nil
	}
	mb := *bytes / (1024 * 1024)
	return &mb
}

// Extend pushes a subscription's expiry forward by durationSec from its
// CURRENT expiry, never from now. Extending resets traffic accounting both
// locally and on every backend the subscription has a key on, and
// invalidates the bundle cache so the next fetch reflects the new term
// immediately.
func (e *Engine) Extend(ctx context.Context, subscriptionID uint, durationSec int64, overrideTariffID *uint) error {
	sub, err := e.subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if err := sub.Extend(durationSec, overrideTariffID); err != nil {
		return err
	}
	if err := e.subscriptions.Update(ctx, sub); err != nil {
		return err
	}

	if err := traffic.ResetSubscriptionTraffic(ctx, e.keys, e.servers, e.subscriptions, traffic.ClientFactory(e.clientFor), sub, e.log); err != nil {
		e.log.Warnw("extend: traffic reset failed", "subscription_id", sub.ID(), "error", err.Error())
	}

	e.cache.Delete(cache.Key(sub.Token()))
	return nil
}

// Deactivate tears down every key a subscription holds: best-effort delete
// on each backend (a backend that already lost the key is not an error),
// then the local key rows, then the subscription's is_active flag. The
// subscription row itself is never deleted here.
func (e *Engine) Deactivate(ctx context.Context, subscriptionID uint) error {
	sub, err := e.subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		return err
	}

	keys, err := e.keys.ListBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		srv, err := e.servers.FindByID(ctx, k.ServerID())
		if err != nil {
			continue
		}
		client, err := e.clientFor(srv)
		if err != nil {
			continue
		}
		if err := client.DeleteUser(ctx, k.BackendID()); err != nil {
			e.log.Warnw("deactivate: backend delete failed, proceeding anyway", "key_id", k.ID(), "error", err.Error())
		}
		client.Close()
	}

	if err := e.keys.DeleteBySubscriptionID(ctx, subscriptionID); err != nil {
		return err
	}

	sub.Deactivate()
	if err := e.subscriptions.Update(ctx, sub); err != nil {
		return err
	}
	e.cache.Delete(cache.Key(sub.Token()))
	return nil
}

// Delete is the administrative delete path. It runs Deactivate (remote and
// local keys removed, is_active cleared); the subscription row itself is
// not removed from the store.
func (e *Engine) Delete(ctx context.Context, subscriptionID uint) error {
	if err := e.Deactivate(ctx, subscriptionID); err != nil {
		return err
	}
	return nil
}

func (e *Engine) generateUniqueToken(ctx context.Context) (string, error) {
	for i := 0; i < maxTokenGenerationAttempts; i++ {
		candidate := uuid.New().String()
		exists, err := e.subscriptions.ExistsByToken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.NewInternalError("failed to generate a unique subscription token")
}
