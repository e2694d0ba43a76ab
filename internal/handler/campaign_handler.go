// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/unclebandit/campaign-mailer/internal/controller"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

// CampaignHandler holds the read-only campaign endpoints: previews, the
// variable catalogue and service health.
type CampaignHandler struct {
	Service *service.CampaignService
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// PreviewHandler renders a campaign for one recipient, or the sample
// contact, without sending anything.
func (h *CampaignHandler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Campaign  *model.Campaign  `json:"campaign"`
		Recipient *model.Recipient `json:"recipient,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		controller.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if payload.Campaign == nil {
		controller.WriteError(w, http.StatusBadRequest, "campaign is required")
		return
	}

	preview, err := h.Service.Preview(*payload.Campaign, payload.Recipient)
	if err != nil {
		if h.Log != nil {
			h.Log.Error("preview failed", logger.CampaignID(payload.Campaign.ID), logger.Error(err))
		}
		controller.WriteError(w, controller.StatusFor(err), "failed to render preview: "+err.Error())
		return
	}

	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"email":    preview.Email,
		"warnings": preview.Warnings,
	})
}

// VariablesHandler lists the personalization variables authors can use.
func (h *CampaignHandler) VariablesHandler(w http.ResponseWriter, r *http.Request) {
	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"variables": service.AvailableVariables(),
	})
}

func (h *CampaignHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"mail_configured": h.Service != nil && h.Service.Sender != nil,
	})
}

func (h *CampaignHandler) MetricsHandler() http.Handler {
	return h.Metrics.Handler()
}
