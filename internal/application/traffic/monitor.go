// Package traffic implements the periodic traffic-polling job: pulling
// per-key counters from each backend, rolling them up to subscriptions,
// and applying the over-limit notify-once policy.
package traffic

import (
	"context"

	domainkey "github.com/veevpn/panel/internal/domain/key"
	domainserver "github.com/veevpn/panel/internal/domain/server"
	domainsubscription "github.com/veevpn/panel/internal/domain/subscription"
	"github.com/veevpn/panel/internal/infrastructure/email"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/shared/biztime"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
)

// ClientFactory builds a protocol client for a server.
type ClientFactory func(s *domainserver.Server) (backend.VpnBackend, error)

// Monitor implements scheduler.TrafficMonitor.
type Monitor struct {
	subscriptions *gormrepo.SubscriptionRepository
	keys          *gormrepo.KeyRepository
	servers       *gormrepo.ServerRepository
	tariffs       *gormrepo.TariffRepository
	clientFor     ClientFactory
	notifier      email.Notifier
	notifyAddress string
	log           logger.Interface
}

func NewMonitor(
	subscriptions *gormrepo.SubscriptionRepository,
	keys *gormrepo.KeyRepository,
	servers *gormrepo.ServerRepository,
	tariffs *gormrepo.TariffRepository,
	clientFor ClientFactory,
	notifier email.Notifier,
	notifyAddress string,
	log logger.Interface,
) *Monitor {
	return &Monitor{
		subscriptions: subscriptions, keys: keys, servers: servers, tariffs: tariffs,
		clientFor: clientFor, notifier: notifier, notifyAddress: notifyAddress, log: log,
	}
}

// PollAll runs one traffic-polling pass and returns the number of servers
// polled. Subscriptions with no effective traffic limit are skipped
// entirely — there is nothing to enforce for them.
func (m *Monitor) PollAll(ctx context.Context) (int, error) {
	subs, err := m.subscriptions.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	limited := make([]*domainsubscription.Subscription, 0, len(subs))
	tariffLimits := make(map[uint]*int64)
	keysBySubscription := make(map[uint][]*domainkey.Key)
	for _, sub := range subs {
		limitMB, ok := tariffLimits[sub.TariffID()]
		if !ok {
			t, err := m.tariffs.FindByID(ctx, sub.TariffID())
			if err == nil {
				limitMB = t.TrafficLimitMB()
			}
			tariffLimits[sub.TariffID()] = limitMB
		}

		// The legacy key-limit fallback only matters once both the
		// subscription and its tariff are silent on a limit, so keys are
		// only fetched here for that rarer path; the bulk load below covers
		// every subscription that turns out to be limited.
		var legacyKeys []*domainkey.Key
		if sub.TrafficLimitMB() == nil && (limitMB == nil || *limitMB <= 0) {
			ks, err := m.keys.ListBySubscriptionID(ctx, sub.ID())
			if err != nil {
				m.log.Warnw("traffic poll: failed to list keys for subscription", "subscription_id", sub.ID(), "error", err.Error())
			} else {
				legacyKeys = ks
			}
		}

		if domainsubscription.EffectiveLimitBytesOrZero(sub, limitMB, legacyKeys) > 0 {
			limited = append(limited, sub)
			if legacyKeys != nil {
				keysBySubscription[sub.ID()] = legacyKeys
			}
		}
	}
	if len(limited) == 0 {
		return 0, nil
	}

	keysByServer := make(map[uint][]*domainkey.Key)
	for _, sub := range limited {
		ks, ok := keysBySubscription[sub.ID()]
		if !ok {
			var err error
			ks, err = m.keys.ListBySubscriptionID(ctx, sub.ID())
			if err != nil {
				m.log.Warnw("traffic poll: failed to list keys for subscription", "subscription_id", sub.ID(), "error", err.Error())
				continue
			}
			keysBySubscription[sub.ID()] = ks
		}
		for _, k := range ks {
			keysByServer[k.ServerID()] = append(keysByServer[k.ServerID()], k)
		}
	}

	polled := 0
	for serverID, serverKeys := range keysByServer {
		if err := m.pollServer(ctx, serverID, serverKeys); err != nil {
			m.log.Warnw("traffic poll: server poll failed", "server_id", serverID, "error", err.Error())
			continue
		}
		polled++
	}

	for _, sub := range limited {
		ks := keysBySubscription[sub.ID()]
		var total int64
		for _, k := range ks {
			total += k.TrafficUsageBytes()
		}
		sub.RecordTraffic(total)

		limitBytes := domainsubscription.EffectiveLimitBytesOrZero(sub, tariffLimits[sub.TariffID()], keysBySubscription[sub.ID()])
		if sub.IsOverLimit(limitBytes) {
			firstCrossing := sub.TrafficOverLimitAt() == nil
			sub.MarkOverLimit(biztime.NowUTC())
			if firstCrossing && !sub.TrafficOverLimitNotified() {
				if err := m.notifier.NotifyOverLimit(m.notifyAddress, sub.Token(), total/(1024*1024), limitBytes/(1024*1024)); err != nil {
					m.log.Warnw("traffic poll: over-limit notification failed", "subscription_id", sub.ID(), "error", err.Error())
				} else {
					sub.MarkOverLimitNotified()
				}
			}
		}

		if err := m.subscriptions.Update(ctx, sub); err != nil {
			m.log.Warnw("traffic poll: failed to persist subscription usage", "subscription_id", sub.ID(), "error", err.Error())
		}
	}

	return polled, nil
}

// pollServer fetches cumulative usage for every key on one server, preferring
// the bulk history call and falling back to per-key stats when the backend
// doesn't support it.
func (m *Monitor) pollServer(ctx context.Context, serverID uint, keys []*domainkey.Key) error {
	srv, err := m.servers.FindByID(ctx, serverID)
	if err != nil {
		return err
	}
	client, err := m.clientFor(srv)
	if err != nil {
		return err
	}
	defer client.Close()

	usage := make(map[string]int64)
	if history, err := client.GetTrafficHistory(ctx); err == nil {
		for _, stat := range history {
			usage[stat.KeyID] = stat.BytesUsed
		}
	} else {
		m.log.Debugw("traffic poll: bulk history unavailable, falling back to per-key stats", "server_id", serverID, "error", err.Error())
		for _, k := range keys {
			stat, err := client.GetKeyTrafficStats(ctx, k.BackendID())
			if err != nil {
				m.log.Warnw("traffic poll: per-key stats failed", "key_id", k.ID(), "error", err.Error())
				continue
			}
			usage[stat.KeyID] = stat.BytesUsed
		}
	}

	for _, k := range keys {
		if bytesUsed, ok := usage[k.BackendID()]; ok {
			k.RecordTraffic(bytesUsed)
			if err := m.keys.Update(ctx, k); err != nil {
				m.log.Warnw("traffic poll: failed to persist key usage", "key_id", k.ID(), "error", err.Error())
			}
		}
	}
	return nil
}

// ResetSubscriptionTraffic zeroes each key's local usage (one write per
// key) and resets its usage counter remotely, then zeroes the
// subscription's usage, regardless of which remote resets succeeded — the
// next poll reconciles to the true remote value.
func ResetSubscriptionTraffic(ctx context.Context, keys *gormrepo.KeyRepository, servers *gormrepo.ServerRepository, subscriptions *gormrepo.SubscriptionRepository, clientFor ClientFactory, sub *domainsubscription.Subscription, log logger.Interface) error {
	ks, err := keys.ListBySubscriptionID(ctx, sub.ID())
	if err != nil {
		return err
	}

	for _, k := range ks {
		k.RecordTraffic(0)
		if err := keys.Update(ctx, k); err != nil {
			log.Warnw("traffic reset: failed to zero local key usage", "key_id", k.ID(), "error", err.Error())
		}

		srv, err := servers.FindByID(ctx, k.ServerID())
		if err != nil {
			continue
		}
		client, err := clientFor(srv)
		if err != nil {
			continue
		}
		if err := client.ResetKeyTraffic(ctx, k.BackendID()); err != nil {
			log.Warnw("traffic reset: remote reset failed", "key_id", k.ID(), "error", err.Error())
		}
		client.Close()
	}

	// Zero locally regardless of which remote resets succeeded — the next
	// poll reconciles to the true remote value.
	sub.ResetTraffic()
	return subscriptions.Update(ctx, sub)
}
