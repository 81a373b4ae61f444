// Package bundle implements the subscription-bundle HTTP endpoint: token
// validation, cache-always-invalidate-then-regenerate, per-key config
// normalization, and the response headers VPN client apps rely on.
package bundle

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	domainkey "github.com/veevpn/panel/internal/domain/key"
	domainserver "github.com/veevpn/panel/internal/domain/server"
	domainsubscription "github.com/veevpn/panel/internal/domain/subscription"
	"github.com/veevpn/panel/internal/infrastructure/cache"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/shared/errors"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
	"github.com/veevpn/panel/internal/vpn/normalize"
)

var tokenShape = regexp.MustCompile(`^[a-zA-Z0-9-]{32,}$`)

// ClientFactory builds a protocol client for a server. Shared shape with
// the subscription engine's factory so both can be wired to the same
// constructor in cmd/.
type ClientFactory func(s *domainserver.Server) (backend.VpnBackend, error)

// Bundle is the assembled response: the base64 body plus the header values
// the HTTP handler writes verbatim.
type Bundle struct {
	Body              []byte
	UsedBytes         int64
	LimitBytes        int64 // 0 means unlimited
	ExpiresAtUnix     int64
	ProfileTitle      string
}

type Service struct {
	subscriptions *gormrepo.SubscriptionRepository
	keys          *gormrepo.KeyRepository
	servers       *gormrepo.ServerRepository
	tariffs       *gormrepo.TariffRepository
	cache         *cache.BundleCache
	clientFor     ClientFactory
	defaultTitle  string
	log           logger.Interface
}

func NewService(
	subscriptions *gormrepo.SubscriptionRepository,
	keys *gormrepo.KeyRepository,
	servers *gormrepo.ServerRepository,
	tariffs *gormrepo.TariffRepository,
	bundleCache *cache.BundleCache,
	clientFor ClientFactory,
	defaultTitle string,
	log logger.Interface,
) *Service {
	if defaultTitle == "" {
		defaultTitle = "Vee VPN"
	}
	return &Service{
		subscriptions: subscriptions, keys: keys, servers: servers, tariffs: tariffs,
		cache: bundleCache, clientFor: clientFor, defaultTitle: defaultTitle, log: log,
	}
}

// ValidToken reports whether token is shaped like a subscription token
// (UUID-shaped, at least 32 alphanumeric-or-separator characters). This is
// a cheap pre-store rejection, not a lookup.
func ValidToken(token string) bool {
	return tokenShape.MatchString(token)
}

// Serve runs the bundle assembly algorithm: invalidate-then-regenerate,
// never serving the cache path, because regeneration is the only place
// server-name fragments get refreshed.
func (s *Service) Serve(ctx context.Context, token string) (*Bundle, error) {
	if !ValidToken(token) {
		return nil, errors.NewValidationError("malformed subscription token")
	}

	cacheKey := cache.Key(token)
	s.cache.Delete(cacheKey)

	sub, err := s.subscriptions.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() || sub.IsExpired(time.Now().UTC()) {
		return nil, errors.NewSubscriptionExpiredError("subscription is not active")
	}

	keys, err := s.keys.ListBySubscriptionID(ctx, sub.ID())
	if err != nil {
		return nil, err
	}

	type keyWithServer struct {
		key *domainkey.Key
		srv *domainserver.Server
	}
	var eligible []keyWithServer
	for _, k := range keys {
		srv, err := s.servers.FindByID(ctx, k.ServerID())
		if err != nil || !srv.Active() {
			continue
		}
		eligible = append(eligible, keyWithServer{key: k, srv: srv})
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].srv.Country() != eligible[j].srv.Country() {
			return eligible[i].srv.Country() < eligible[j].srv.Country()
		}
		return eligible[i].srv.DisplayName() < eligible[j].srv.DisplayName()
	})

	var lines []string
	for _, ks := range eligible {
		line, err := s.resolveLine(ctx, ks.key, ks.srv)
		if err != nil {
			s.log.Warnw("bundle: failed to resolve key config", "key_id", ks.key.ID(), "error", err.Error())
			continue
		}
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) == 0 {
		return nil, errors.NewSubscriptionExpiredError("no valid server configurations available")
	}

	body := []byte(base64.StdEncoding.EncodeToString([]byte(strings.Join(lines, "\n"))))

	var tariffLimitMB *int64
	if t, err := s.tariffs.FindByID(ctx, sub.TariffID()); err == nil {
		tariffLimitMB = t.TrafficLimitMB()
	}
	limitBytes := domainsubscription.EffectiveLimitBytesOrZero(sub, tariffLimitMB, keys)

	title := s.defaultTitle
	if sub.DisplayTitle() != nil && *sub.DisplayTitle() != "" {
		title = *sub.DisplayTitle()
	}

	s.cache.Set(cacheKey, string(body))

	sub.RecordTraffic(sub.TrafficUsageBytes()) // touches last_updated_at without altering usage
	_ = s.subscriptions.Update(ctx, sub)

	return &Bundle{
		Body:          body,
		UsedBytes:     sub.TrafficUsageBytes(),
		LimitBytes:    limitBytes,
		ExpiresAtUnix: sub.ExpiresAt().Unix(),
		ProfileTitle:  title,
	}, nil
}

// resolveLine produces the final vless:// line for one key: use the stored
// config when present and well-formed, otherwise fetch fresh from the
// backend and write it back for next time.
func (s *Service) resolveLine(ctx context.Context, k *domainkey.Key, srv *domainserver.Server) (string, error) {
	config := k.ClientConfig()
	fresh := false
	if config == "" || !strings.Contains(config, "vless://") {
		client, err := s.clientFor(srv)
		if err != nil {
			return "", err
		}
		defer client.Close()
		uc, err := client.GetUserConfig(ctx, k.BackendID())
		if err != nil {
			return "", err
		}
		config = uc.Config
		fresh = true
	}
	if !strings.Contains(config, "vless://") {
		return "", fmt.Errorf("key %d has no vless config", k.ID())
	}

	config = normalize.NormalizeHost(config, srv.Domain())
	config, err := normalize.StripFragment(config)
	if err != nil {
		return "", err
	}
	config, err = normalize.SetFragment(config, srv.DisplayName())
	if err != nil {
		return "", err
	}

	if fresh {
		if err := s.keys.UpdateClientConfig(ctx, k.ID(), config); err != nil {
			s.log.Warnw("bundle: failed to write back normalized config", "key_id", k.ID(), "error", err.Error())
		}
	}
	return config, nil
}
