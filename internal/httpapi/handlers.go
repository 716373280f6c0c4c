package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dialcast/internal/ami"
	"dialcast/internal/auth"
	"dialcast/internal/callstate"
	"dialcast/internal/campaign"
	"dialcast/internal/dialer"
	"dialcast/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Engine    *dialer.Engine
	Store     *callstate.Store
	Campaigns campaign.Repository
	Super     *ami.Supervisor
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"ami_connected": h.Super != nil && h.Super.Connected(),
	})
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT for operator tooling. Credential validation happens in
// the admin application; this endpoint exists for local and test use and is
// disabled in production wiring.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	token, err := h.Auth.Issue(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// --- Calls ---

type originateRequest struct {
	Phone string `json:"phone"`
}

// OriginateCall places one call for a campaign outside the scheduled loop.
func (h Handlers) OriginateCall(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	var req originateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "reason": "phone required"})
		return
	}

	err := h.Engine.OriginateOne(c.Request.Context(), campaignID, req.Phone)
	switch {
	case err == nil:
		logger.FromGin(c).Info("manual call placed", "campaign_id", campaignID, "phone", req.Phone)
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, campaign.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "reason": "campaign not found"})
	case errors.Is(err, dialer.ErrCampaignInactive):
		c.JSON(http.StatusConflict, gin.H{"success": false, "reason": "campaign is not active"})
	case errors.Is(err, dialer.ErrDoNotCall):
		c.JSON(http.StatusConflict, gin.H{"success": false, "reason": "recipient has opted out"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "reason": err.Error()})
	}
}

// AbortCampaign cancels a campaign and requests hangup of its live calls.
func (h Handlers) AbortCampaign(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	err := h.Engine.Abort(c.Request.Context(), campaignID)
	switch {
	case err == nil:
		uid, _ := auth.UserID(c.Request.Context())
		logger.FromGin(c).Info("campaign aborted", "campaign_id", campaignID, "user_id", uid)
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, campaign.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "reason": "campaign not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "reason": err.Error()})
	}
}

// ResetCall returns one recipient to the waiting state.
func (h Handlers) ResetCall(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	phone := c.Param("phone")
	if h.Engine.Reset(c.Request.Context(), campaignID, phone) {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "reason": "no tracked call for recipient"})
}

// --- Status reads ---

type callStatusResponse struct {
	Status      string    `json:"status"`
	Details     string    `json:"details,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ActionToken string    `json:"action_token,omitempty"`
	LegID       string    `json:"leg_id,omitempty"`
	Finalized   bool      `json:"finalized"`
}

func toCallStatus(r callstate.Record) callStatusResponse {
	return callStatusResponse{
		Status:      string(r.Status),
		Details:     r.Details,
		Timestamp:   r.Timestamp,
		ActionToken: r.ActionToken,
		LegID:       r.LegID,
		Finalized:   r.Finalized,
	}
}

// GetCallStatus returns the live status of one recipient's call.
func (h Handlers) GetCallStatus(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	phone := c.Param("phone")
	r, ok := h.Store.Get(campaignID, phone)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tracked call for recipient"})
		return
	}
	c.JSON(http.StatusOK, toCallStatus(r))
}

// GetCampaignCalls returns the live status of every tracked call of one
// campaign.
func (h Handlers) GetCampaignCalls(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	snap := h.Store.Snapshot(campaignID)
	out := make(map[string]callStatusResponse, len(snap))
	for recipient, r := range snap {
		out[recipient] = toCallStatus(r)
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": campaignID, "calls": out})
}

type batchStatusRequest struct {
	CampaignIDs []string `json:"campaign_ids"`
}

// BatchCampaignStatus returns persisted status plus live call counts for a
// set of campaigns in one round trip, for dashboard polling.
func (h Handlers) BatchCampaignStatus(c *gin.Context) {
	var req batchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.CampaignIDs) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_ids required"})
		return
	}

	out := make(map[string]gin.H, len(req.CampaignIDs))
	for _, id := range req.CampaignIDs {
		camp, err := h.Campaigns.GetByID(c.Request.Context(), id)
		if err != nil {
			out[id] = gin.H{"found": false}
			continue
		}
		counts := make(map[string]int)
		for _, r := range h.Store.Snapshot(id) {
			counts[string(r.Status)]++
		}
		out[id] = gin.H{
			"found":   true,
			"status":  camp.Status,
			"details": camp.Details,
			"calls":   counts,
		}
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out})
}
