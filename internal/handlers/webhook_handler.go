package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"payment-reconciliation-engine/internal/config"
	"payment-reconciliation-engine/internal/normalize"
	service "payment-reconciliation-engine/internal/services/reconciliation"
	"payment-reconciliation-engine/internal/verify"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// WebhookHandler receives provider event notifications. The body is read
// raw before any parsing so the signature check sees the exact signed
// bytes.
type WebhookHandler struct {
	service  *service.Service
	settings *config.Settings
}

func NewWebhookHandler(s *service.Service, settings *config.Settings) *WebhookHandler {
	return &WebhookHandler{service: s, settings: settings}
}

// ackBody is the fixed acknowledgment providers get on admission, for
// duplicates too: a redelivery must look exactly like a fresh delivery.
var ackBody = gin.H{"status": "accepted"}

// Receive handles POST /api/webhooks/:tenant/:provider.
func (h *WebhookHandler) Receive(c *gin.Context) {
	tenant := c.Param("tenant")
	provider := c.Param("provider")

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	creds := h.settings.Tenant(tenant).Providers[provider]
	event, err := verify.Verify(raw, c.Request.Header, c.Request.TLS, tenant, provider, creds)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
		return
	}

	tx, duplicate, err := h.service.Ingest(c.Request.Context(), event.Tenant, event.Provider, event.Payload)
	if err != nil {
		var normErr *normalize.Error
		if errors.As(err, &normErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": normErr.Error()})
			return
		}
		log.WithError(err).WithField("tenant", tenant).Error("ingestion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if tx != nil && !duplicate {
		// matching runs detached from the webhook request; providers
		// only wait for admission
		txID := tx.ID
		go func() {
			if err := h.service.RunMatchingPass(context.Background(), tenant, txID); err != nil {
				if !errors.Is(err, service.ErrInvalidState) {
					log.WithError(err).WithFields(log.Fields{
						"tenant":         tenant,
						"transaction_id": txID,
					}).Error("matching pass failed")
				}
			}
		}()
	}

	c.JSON(http.StatusOK, ackBody)
}
