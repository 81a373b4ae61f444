package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/veevpn/panel/internal/application/bundle"
	"github.com/veevpn/panel/internal/shared/errors"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/shared/utils"
)

// BundleHandler serves the public subscription-bundle endpoint VPN client
// apps poll: a base64 body plus headers reporting usage and expiry.
type BundleHandler struct {
	service *bundle.Service
	logger  logger.Interface
}

func NewBundleHandler(service *bundle.Service, log logger.Interface) *BundleHandler {
	return &BundleHandler{service: service, logger: log}
}

// Serve handles GET /api/subscription/:token.
func (h *BundleHandler) Serve(c *gin.Context) {
	token := c.Param("token")

	b, err := h.service.Serve(c.Request.Context(), token)
	if err != nil {
		h.logger.Warnw("bundle serve failed", "token", token, "error", err.Error())
		if appErr := errors.GetAppError(err); appErr != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to serve subscription bundle")
		return
	}

	c.Header("Profile-Title", b.ProfileTitle)
	c.Header("Subscription-Userinfo", "upload=0; download="+strconv.FormatInt(b.UsedBytes, 10)+
		"; total="+strconv.FormatInt(b.LimitBytes, 10)+"; expire="+strconv.FormatInt(b.ExpiresAtUnix, 10))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", b.Body)
}
