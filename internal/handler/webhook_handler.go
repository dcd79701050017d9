// Package handler provides HTTP request handlers for the application.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vidstab-bot/messenger-webhook-go/internal/messenger"
	"github.com/vidstab-bot/messenger-webhook-go/internal/models"
	"github.com/vidstab-bot/messenger-webhook-go/internal/nested"
	"github.com/vidstab-bot/messenger-webhook-go/internal/service"
	"github.com/vidstab-bot/messenger-webhook-go/pkg/logger"
)

// EventHandler runs the webhook pipeline for one raw payload.
type EventHandler interface {
	Handle(ctx context.Context, raw nested.Mapping) service.Result
}

// WebhookHandler maps Messenger webhook requests onto raw payloads and
// pipeline results onto HTTP responses.
type WebhookHandler struct {
	events         EventHandler
	maxPayloadSize int64
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(events EventHandler, maxPayloadSize int64) *WebhookHandler {
	return &WebhookHandler{
		events:         events,
		maxPayloadSize: maxPayloadSize,
	}
}

// Register mounts the webhook routes on r.
func (h *WebhookHandler) Register(r gin.IRoutes, path string) {
	r.GET(path, h.HandleVerification)
	r.POST(path, h.HandleEvent)
}

// HandleVerification answers the subscription handshake by echoing
// hub.challenge when hub.verify_token matches.
func (h *WebhookHandler) HandleVerification(c *gin.Context) {
	raw := nested.NewMap()
	raw.Set(messenger.KeyParams, queryParams(c))

	res := h.events.Handle(c.Request.Context(), raw)

	if !h.answerChallenge(c, res) {
		h.abort(c, http.StatusBadRequest, "Bad Request", "missing verification parameters")
	}
}

// HandleEvent runs the pipeline for a webhook notification. Once the body
// parses the response is always 200 so the platform does not redeliver
// events whose processing failed internally. A notification that also
// carries handshake parameters is answered as a handshake.
func (h *WebhookHandler) HandleEvent(c *gin.Context) {
	if h.maxPayloadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxPayloadSize)
	}

	body, err := nested.Decode(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.abort(c, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "payload exceeds maximum size")
			return
		}
		logger.Log.Warn("Invalid webhook payload",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
		h.abort(c, http.StatusBadRequest, "Bad Request", "Invalid request payload: "+err.Error())
		return
	}

	raw := nested.NewMap()
	raw.Set(messenger.KeyParams, queryParams(c))
	raw.Set(messenger.KeyBody, body)

	// The job keeps running when the platform gives up on the request.
	ctx := context.WithoutCancel(c.Request.Context())
	res := h.events.Handle(ctx, raw)

	if h.answerChallenge(c, res) {
		return
	}
	c.JSON(http.StatusOK, models.WebhookResponseDTO{Status: res.Outcome})
}

// answerChallenge writes the handshake response for challenge outcomes and
// reports whether it did.
func (h *WebhookHandler) answerChallenge(c *gin.Context, res service.Result) bool {
	switch res.Outcome {
	case models.OutcomeChallenge:
		c.String(http.StatusOK, strconv.FormatInt(res.Challenge, 10))
	case models.OutcomeChallengeRejected:
		h.abort(c, http.StatusForbidden, "Forbidden", "verification failed")
	default:
		return false
	}
	return true
}

func (h *WebhookHandler) abort(c *gin.Context, status int, errText, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Status:    status,
		Error:     errText,
		Message:   message,
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}

// queryParams builds {"querystring": {...}} from the request's query string,
// keeping the first value of each parameter.
func queryParams(c *gin.Context) *nested.Map {
	qs := nested.NewMap()
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			qs.Set(key, values[0])
		}
	}

	params := nested.NewMap()
	params.Set(messenger.KeyQueryString, qs)
	return params
}
