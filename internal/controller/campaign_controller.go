// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             *slog.Logger
}

func (c *CampaignController) log(r *http.Request) *slog.Logger {
	l := c.Log
	if l == nil {
		l = logger.Discard()
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		l = l.With(slog.String("request_id", id))
	}
	return l
}

// SendCampaign handles POST /api/send-campaign. The send keeps running when
// the client disconnects.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var body service.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	result, err := c.CampaignService.SendCampaign(context.WithoutCancel(r.Context()), body)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Enqueue handles POST /api/campaigns/{id}/enqueue. The body may carry an
// explicit recipient list; without one the worker loads active contacts.
func (c *CampaignController) Enqueue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var body struct {
		Recipients []model.Recipient `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	jobID, err := c.CampaignService.EnqueueCampaign(r.Context(), id, body.Recipients)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"job_id":  jobID,
	})
}

// SendTest handles POST /api/send-test-email.
func (c *CampaignController) SendTest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToEmail      string          `json:"to_email"`
		ToEmailCamel string          `json:"toEmail"`
		Campaign     *model.Campaign `json:"campaign"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	to := body.ToEmail
	if to == "" {
		to = body.ToEmailCamel
	}
	if to == "" || body.Campaign == nil {
		WriteError(w, http.StatusBadRequest, "to_email and campaign are required")
		return
	}

	if err := c.CampaignService.SendTest(r.Context(), *body.Campaign, to); err != nil {
		c.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Test email sent to " + to,
	})
}

func (c *CampaignController) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		c.log(r).Error("request failed", slog.String("path", r.URL.Path), logger.Error(err))
	}
	WriteError(w, status, err.Error())
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case appErrors.IsCampaignNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrInvalidInput), errors.Is(err, appErrors.ErrNoRecipients):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}

func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func NotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not found")
}

// Recoverer turns a handler panic into a JSON 500.
func Recoverer(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("handler panicked",
						slog.String("path", r.URL.Path),
						slog.String("request_id", middleware.GetReqID(r.Context())),
						slog.Any("panic", rec),
					)
					WriteError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
