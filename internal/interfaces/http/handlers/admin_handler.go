package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	"github.com/veevpn/panel/internal/application/reconcile"
	"github.com/veevpn/panel/internal/application/subscription"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/shared/errors"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/shared/services/markdown"
	"github.com/veevpn/panel/internal/shared/utils"
)

// AdminHandler is the thin HTTP shell over the admin operations this fleet's
// operators need: subscription CRUD, fleet reconciliation, and user data
// resets. It assumes session auth and CSRF protection already happened
// upstream and only checks RBAC (via middleware.PermissionMiddleware).
type AdminHandler struct {
	subscriptions *gormrepo.SubscriptionRepository
	freeKeyUsage  *gormrepo.FreeKeyUsageRepository
	users         *gormrepo.UserRepository
	engine        *subscription.Engine
	reconciler    *reconcile.Reconciler
	titleSanitize *bluemonday.Policy
	markdown      markdown.MarkdownService
	logger        logger.Interface
}

func NewAdminHandler(
	subscriptions *gormrepo.SubscriptionRepository,
	freeKeyUsage *gormrepo.FreeKeyUsageRepository,
	users *gormrepo.UserRepository,
	engine *subscription.Engine,
	reconciler *reconcile.Reconciler,
	log logger.Interface,
) *AdminHandler {
	return &AdminHandler{
		subscriptions: subscriptions,
		freeKeyUsage:  freeKeyUsage,
		users:         users,
		engine:        engine,
		reconciler:    reconciler,
		titleSanitize: bluemonday.StrictPolicy(),
		markdown:      markdown.NewMarkdownService(),
		logger:        log,
	}
}

type subscriptionSummary struct {
	ID           uint    `json:"id"`
	UserID       uint    `json:"user_id"`
	Token        string  `json:"token"`
	TariffID     uint    `json:"tariff_id"`
	IsActive     bool    `json:"is_active"`
	ExpiresAt    string  `json:"expires_at"`
	TrafficLimit *int64  `json:"traffic_limit_mb,omitempty"`
	TrafficUsage int64   `json:"traffic_usage_bytes"`
	DisplayTitle *string `json:"display_title,omitempty"`
}

// ListSubscriptions handles GET /admin/subscriptions.
func (h *AdminHandler) ListSubscriptions(c *gin.Context) {
	subs, err := h.subscriptions.ListActive(c.Request.Context())
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	out := make([]subscriptionSummary, 0, len(subs))
	for _, s := range subs {
		out = append(out, subscriptionSummary{
			ID: s.ID(), UserID: s.UserID(), Token: s.Token(), TariffID: s.TariffID(),
			IsActive: s.IsActive(), ExpiresAt: s.ExpiresAt().Format("2006-01-02T15:04:05Z07:00"),
			TrafficLimit: s.TrafficLimitMB(), TrafficUsage: s.TrafficUsageBytes(), DisplayTitle: s.DisplayTitle(),
		})
	}
	utils.SuccessResponse(c, http.StatusOK, "subscriptions listed", out)
}

type editSubscriptionRequest struct {
	ExtendSeconds    int64  `json:"extend_seconds"`
	OverrideTariffID *uint  `json:"override_tariff_id"`
	DisplayTitle     string `json:"display_title"`
}

// EditSubscription handles PATCH /admin/subscriptions/:id — extends the term
// and/or rewrites the VLESS-fragment display title an operator sets for a
// customer (sanitized before it can ever reach a client config).
func (h *AdminHandler) EditSubscription(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid subscription id")
		return
	}

	var req editSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := c.Request.Context()

	if req.ExtendSeconds > 0 {
		if err := h.engine.Extend(ctx, id, req.ExtendSeconds, req.OverrideTariffID); err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
	}

	if req.DisplayTitle != "" {
		sub, err := h.subscriptions.FindByID(ctx, id)
		if err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
		sub.SetDisplayTitle(h.titleSanitize.Sanitize(req.DisplayTitle))
		if err := h.subscriptions.Update(ctx, sub); err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "subscription updated", nil)
}

// DeleteSubscription handles DELETE /admin/subscriptions/:id.
func (h *AdminHandler) DeleteSubscription(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid subscription id")
		return
	}

	if err := h.engine.Delete(c.Request.Context(), id); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "subscription deleted", nil)
}

type syncKeysRequest struct {
	Apply bool `json:"apply"`
}

// SyncKeys handles POST /admin/fleet/sync — runs the reconciler across the
// whole active fleet. apply=false only reports drift.
func (h *AdminHandler) SyncKeys(c *gin.Context) {
	var req syncKeysRequest
	_ = c.ShouldBindJSON(&req)

	results, err := h.reconciler.Run(c.Request.Context(), !req.Apply)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "fleet sync completed", results)
}

// CompareKeys handles GET /admin/servers/:id/compare — a read-only drift
// report for a single server, independent of a fleet-wide sync.
func (h *AdminHandler) CompareKeys(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid server id")
		return
	}

	result, err := h.reconciler.Compare(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "comparison completed", result)
}

// FleetReport handles GET /admin/fleet/report — a dry-run reconciliation
// pass rendered as sanitized HTML, for the admin UI's incident view.
func (h *AdminHandler) FleetReport(c *gin.Context) {
	results, err := h.reconciler.Run(c.Request.Context(), true)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	htmlReport, err := h.markdown.ToHTMLSanitized(reconcile.RenderMarkdown(results))
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(htmlReport))
}

// CheckUserDeletion handles GET /admin/users/:id/deletion-check — the
// can_delete_user guard's read-only form, used by an operator before
// handing a deletion request off to the system that owns the users table.
func (h *AdminHandler) CheckUserDeletion(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid user id")
		return
	}

	allowed, reason, err := h.users.CanDelete(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "deletion check completed", gin.H{
		"allowed": allowed,
		"reason":  reason,
	})
}

// ResetUserData handles POST /admin/users/:id/reset — clears a user's
// free-key cooldown history, the one per-user state this system tracks
// outside subscriptions.
func (h *AdminHandler) ResetUserData(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.freeKeyUsage.DeleteByUserID(c.Request.Context(), id); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "user data reset", nil)
}

type migrateServerRequest struct {
	NewServerID uint `json:"new_server_id"`
}

// MigrateServer handles POST /admin/servers/:id/migrate — copies a retiring
// server's subscription-backed keys onto its replacement and deactivates it.
func (h *AdminHandler) MigrateServer(c *gin.Context) {
	oldID, err := parseUintParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid server id")
		return
	}

	var req migrateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.NewServerID == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "new_server_id is required")
		return
	}

	migrated, err := h.reconciler.MigrateServer(c.Request.Context(), oldID, req.NewServerID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "server migration completed", gin.H{"migrated_keys": migrated})
}

func parseUintParam(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, errors.NewValidationError("invalid id parameter", name)
	}
	return uint(v), nil
}
