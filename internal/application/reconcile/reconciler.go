// Package reconcile implements the fleet reconciler: per-server drift
// detection between the local catalog and each backend's live key listing,
// with a dry-run/apply gate before any destructive action.
package reconcile

import (
	"context"
	"strings"
	"sync"

	domainkey "github.com/veevpn/panel/internal/domain/key"
	domainserver "github.com/veevpn/panel/internal/domain/server"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/shared/goroutine"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
)

// ClientFactory builds a protocol client for a server.
type ClientFactory func(s *domainserver.Server) (backend.VpnBackend, error)

// Classification is what a reconcile pass found for one server.
type Classification struct {
	ServerID         uint
	MissingOnServer  []*domainkey.Key // local rows with no matching remote key
	MissingInLocal   []string         // remote ids/emails with no matching local row
	Backfilled       []uint           // local key ids whose remote id was recovered by email match
}

type Reconciler struct {
	keys          *gormrepo.KeyRepository
	servers       *gormrepo.ServerRepository
	subscriptions *gormrepo.SubscriptionRepository
	clientFor     ClientFactory
	log           logger.Interface
}

func NewReconciler(keys *gormrepo.KeyRepository, servers *gormrepo.ServerRepository, subscriptions *gormrepo.SubscriptionRepository, clientFor ClientFactory, log logger.Interface) *Reconciler {
	return &Reconciler{keys: keys, servers: servers, subscriptions: subscriptions, clientFor: clientFor, log: log}
}

// Run reconciles every active server. dryRun=true only reports drift;
// dryRun=false additionally deletes orphan remote keys and deactivates any
// active subscription left with an empty key set across the whole fleet;
// those subscription rows are kept in the store.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) ([]Classification, error) {
	servers, err := r.servers.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	// Each server's backend round-trip is independent, so they run
	// concurrently: a slow or unreachable server must never hold up the
	// rest of the fleet's reconciliation. SafeGo keeps one server's panic
	// from taking the whole pass down.
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Classification
	)
	for _, srv := range servers {
		srv := srv
		wg.Add(1)
		goroutine.SafeGo(r.log, "reconcile-server", func() {
			defer wg.Done()
			c, err := r.reconcileServer(ctx, srv, dryRun)
			if err != nil {
				r.log.Warnw("reconcile: server failed", "server_id", srv.ID(), "error", err.Error())
				return
			}
			mu.Lock()
			results = append(results, c)
			mu.Unlock()
		})
	}
	wg.Wait()

	if !dryRun {
		if err := r.deleteOrphanSubscriptions(ctx); err != nil {
			r.log.Warnw("reconcile: orphan subscription cleanup failed", "error", err.Error())
		}
	}

	return results, nil
}

// deleteOrphanSubscriptions deactivates active subscriptions whose key set
// has become empty across every server — the terminal state of a
// subscription that lost all its keys to prior reconcile passes or failed
// provisioning with no successful retry. The rows are not removed.
func (r *Reconciler) deleteOrphanSubscriptions(ctx context.Context) error {
	subs, err := r.subscriptions.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		ks, err := r.keys.ListBySubscriptionID(ctx, sub.ID())
		if err != nil || len(ks) > 0 {
			continue
		}
		sub.Deactivate()
		if err := r.subscriptions.Update(ctx, sub); err != nil {
			r.log.Warnw("reconcile: failed to deactivate orphan subscription", "subscription_id", sub.ID(), "error", err.Error())
		}
	}
	return nil
}

// Compare runs the drift classification for a single server without ever
// mutating anything remotely or locally — the admin "diff view" the fleet's
// original tooling exposed as a standalone read-only action, independent of
// the dry-run flag on Run.
func (r *Reconciler) Compare(ctx context.Context, serverID uint) (Classification, error) {
	srv, err := r.servers.FindByID(ctx, serverID)
	if err != nil {
		return Classification{}, err
	}
	return r.reconcileServer(ctx, srv, true)
}

// MigrateServer copies oldID's live key set onto a freshly provisioned
// newID, re-points every affected subscription's key rows at the new
// server, and retires oldID. Keys with no subscription (free/trial keys)
// are dropped rather than migrated — they have no owner to notify.
func (r *Reconciler) MigrateServer(ctx context.Context, oldID, newID uint) (int, error) {
	oldSrv, err := r.servers.FindByID(ctx, oldID)
	if err != nil {
		return 0, err
	}
	newSrv, err := r.servers.FindByID(ctx, newID)
	if err != nil {
		return 0, err
	}

	newClient, err := r.clientFor(newSrv)
	if err != nil {
		return 0, err
	}
	defer newClient.Close()

	local, err := r.keys.ListByServerID(ctx, oldID)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, k := range local {
		if k.SubscriptionID() == nil {
			continue
		}
		limitMB := k.TrafficLimitMB()
		var trafficLimitBytes int64
		if limitMB != nil {
			trafficLimitBytes = *limitMB * 1024 * 1024
		}

		uc, err := newClient.CreateUser(ctx, k.Email(), trafficLimitBytes)
		if err != nil {
			r.log.Warnw("migrate server: failed to provision replacement key", "old_key_id", k.ID(), "error", err.Error())
			continue
		}

		var newKey *domainkey.Key
		switch newSrv.Protocol() {
		case domainserver.ProtocolOutline:
			newKey, err = domainkey.NewOutlineKey(newID, k.UserID(), k.SubscriptionID(), k.Email(), uc.KeyID, uc.Config, limitMB)
		default:
			newKey, err = domainkey.NewV2RayKey(newID, k.UserID(), k.SubscriptionID(), k.Email(), uc.KeyID, k.Level(), uc.Config, limitMB)
		}
		if err != nil {
			r.log.Warnw("migrate server: failed to build replacement key", "old_key_id", k.ID(), "error", err.Error())
			continue
		}
		if _, err := r.keys.Create(ctx, newKey); err != nil {
			r.log.Warnw("migrate server: failed to persist replacement key", "old_key_id", k.ID(), "error", err.Error())
			continue
		}
		if err := r.keys.Delete(ctx, k.ID()); err != nil {
			r.log.Warnw("migrate server: failed to delete old key row", "old_key_id", k.ID(), "error", err.Error())
		}
		migrated++
	}

	oldClient, err := r.clientFor(oldSrv)
	if err == nil {
		defer oldClient.Close()
		for _, k := range local {
			if err := oldClient.DeleteUser(ctx, k.BackendID()); err != nil {
				r.log.Warnw("migrate server: failed to revoke old remote key", "old_key_id", k.ID(), "error", err.Error())
			}
		}
	}

	oldSrv.Deactivate()
	if err := r.servers.Update(ctx, oldSrv); err != nil {
		r.log.Warnw("migrate server: failed to retire old server", "server_id", oldID, "error", err.Error())
	}

	return migrated, nil
}

func (r *Reconciler) reconcileServer(ctx context.Context, srv *domainserver.Server, dryRun bool) (Classification, error) {
	c := Classification{ServerID: srv.ID()}

	local, err := r.keys.ListByServerID(ctx, srv.ID())
	if err != nil {
		return c, err
	}

	client, err := r.clientFor(srv)
	if err != nil {
		return c, err
	}
	defer client.Close()

	remoteIDs, err := client.GetAllKeys(ctx)
	if err != nil {
		return c, err
	}
	remoteSet := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		remoteSet[id] = true
	}
	remoteByEmailFold := make(map[string]string, len(remoteIDs))
	for _, id := range remoteIDs {
		remoteByEmailFold[strings.ToLower(id)] = id
	}

	localByBackendID := make(map[string]*domainkey.Key, len(local))
	localByFold := make(map[string]*domainkey.Key, len(local))
	for _, k := range local {
		localByBackendID[k.BackendID()] = k
		localByFold[strings.ToLower(k.BackendID())] = k
	}

	for _, k := range local {
		if remoteSet[k.BackendID()] {
			continue
		}
		// Tolerate case-folded email matching before declaring drift: a
		// legacy row with no remote id addresses itself by email, which
		// only matches if the backend id happens to equal it.
		if remoteID, ok := remoteByEmailFold[strings.ToLower(k.BackendID())]; ok {
			if k.RemoteID() == "" && remoteID != k.Email() {
				if !dryRun {
					if err := r.keys.UpdateRemoteID(ctx, k.ID(), remoteID); err != nil {
						r.log.Warnw("reconcile: failed to backfill remote id", "key_id", k.ID(), "error", err.Error())
					} else {
						k.SetRemoteID(remoteID)
						c.Backfilled = append(c.Backfilled, k.ID())
					}
				}
			}
			continue
		}
		c.MissingOnServer = append(c.MissingOnServer, k)
	}

	for _, remoteID := range remoteIDs {
		if _, ok := localByBackendID[remoteID]; ok {
			continue
		}
		if _, ok := localByFold[strings.ToLower(remoteID)]; ok {
			continue
		}
		c.MissingInLocal = append(c.MissingInLocal, remoteID)
	}

	if !dryRun {
		for _, remoteID := range c.MissingInLocal {
			if err := client.DeleteUser(ctx, remoteID); err != nil {
				r.log.Warnw("reconcile: failed to delete orphan remote key", "server_id", srv.ID(), "remote_id", remoteID, "error", err.Error())
			}
		}
	}

	return c, nil
}
