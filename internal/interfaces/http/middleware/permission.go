package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veevpn/panel/internal/infrastructure/permission"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/shared/utils"
)

// AdminSubjectHeader names the header an upstream session-auth layer sets
// once it has authenticated the operator. This service trusts it as-is and
// only enforces what that subject is authorized to do.
const AdminSubjectHeader = "X-Admin-Subject"

// PermissionMiddleware gates admin routes behind casbin RBAC checks. It does
// not authenticate anyone itself — a session/CSRF layer in front of this
// service is expected to have already verified the caller and forwarded
// their identity as AdminSubjectHeader.
type PermissionMiddleware struct {
	enforcer *permission.Enforcer
	logger   logger.Interface
}

func NewPermissionMiddleware(enforcer *permission.Enforcer, log logger.Interface) *PermissionMiddleware {
	return &PermissionMiddleware{enforcer: enforcer, logger: log}
}

// RequirePermission aborts the request unless the admin subject carried in
// AdminSubjectHeader is authorized for resource/action.
func (m *PermissionMiddleware) RequirePermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetHeader(AdminSubjectHeader)
		if subject == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "admin subject not authenticated")
			c.Abort()
			return
		}

		allowed, err := m.enforcer.Enforce(subject, resource, action)
		if err != nil {
			m.logger.Errorw("permission check failed", "error", err, "subject", subject, "resource", resource, "action", action)
			utils.ErrorResponse(c, http.StatusInternalServerError, "permission check failed")
			c.Abort()
			return
		}

		if !allowed {
			m.logger.Warnw("permission denied", "subject", subject, "resource", resource, "action", action)
			utils.ErrorResponse(c, http.StatusForbidden, "insufficient permissions")
			c.Abort()
			return
		}

		c.Set("admin_subject", subject)
		c.Next()
	}
}
