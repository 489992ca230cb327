// admin_api.go: Administrative HTTP endpoints for operational tooling
package ratelimit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminAPI exposes identity status, manual reset, and live policy management.
// Mount it behind operator authentication; it is not a per-request surface.
type AdminAPI struct {
	svc    *Service
	logger *zap.Logger
}

// AdminResponse is the uniform envelope for admin endpoints.
type AdminResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

// NewAdminAPI creates the admin surface for one admission service.
func NewAdminAPI(svc *Service, logger *zap.Logger) *AdminAPI {
	return &AdminAPI{svc: svc, logger: logger}
}

// RegisterRoutes mounts the admin endpoints on the given group.
func (a *AdminAPI) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status/:identity", a.handleStatus)
	rg.POST("/reset/:identity", a.handleReset)
	rg.GET("/policy", a.handleGetPolicy)
	rg.PUT("/policy", a.handleUpdatePolicy)
}

func (a *AdminAPI) handleStatus(c *gin.Context) {
	identity := c.Param("identity")
	status, err := a.svc.GetStatus(c.Request.Context(), identity)
	if err != nil {
		a.writeError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	a.writeOK(c, "identity status", status)
}

func (a *AdminAPI) handleReset(c *gin.Context) {
	identity := c.Param("identity")
	if err := a.svc.ResetLimit(c.Request.Context(), identity); err != nil {
		a.writeError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	a.logger.Info("manual rate limit reset", zap.String("identity", identity))
	a.writeOK(c, "rate limit state reset", gin.H{"identity": identity})
}

func (a *AdminAPI) handleGetPolicy(c *gin.Context) {
	a.writeOK(c, "live policy", a.svc.Policy())
}

func (a *AdminAPI) handleUpdatePolicy(c *gin.Context) {
	policy := a.svc.Policy().Clone()
	if err := c.ShouldBindJSON(policy); err != nil {
		a.writeError(c, http.StatusBadRequest, "invalid policy payload: "+err.Error())
		return
	}
	if err := a.svc.SetPolicy(policy); err != nil {
		a.writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	a.writeOK(c, "policy updated", a.svc.Policy())
}

func (a *AdminAPI) writeOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, AdminResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: uuid.NewString(),
	})
}

func (a *AdminAPI) writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, AdminResponse{
		Success:   false,
		Error:     msg,
		Timestamp: time.Now(),
		RequestID: uuid.NewString(),
	})
}
