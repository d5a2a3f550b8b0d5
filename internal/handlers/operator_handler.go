package handler

import (
	"errors"
	"net/http"
	"strconv"

	"payment-reconciliation-engine/internal/repository"
	service "payment-reconciliation-engine/internal/services/reconciliation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OperatorHandler serves the review API: pending transactions with their
// ranked proposals and rationale, apply/reject decisions, sweeps. Every
// route is scoped by the X-Tenant-ID header.
type OperatorHandler struct {
	service *service.Service
	store   *repository.Store
}

func NewOperatorHandler(s *service.Service, store *repository.Store) *OperatorHandler {
	return &OperatorHandler{service: s, store: store}
}

// TenantRequired pulls the mandatory tenant header into the context.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader("X-Tenant-ID")
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-Tenant-ID header required"})
			return
		}
		c.Set("tenant", tenant)
		c.Next()
	}
}

func tenantOf(c *gin.Context) string {
	return c.GetString("tenant")
}

func actorOf(c *gin.Context) string {
	if actor := c.GetHeader("X-Operator-ID"); actor != "" {
		return actor
	}
	return "operator"
}

func (h *OperatorHandler) ListTransactions(c *gin.Context) {
	tenant := tenantOf(c)
	status := c.Query("status")
	cursor := c.Query("cursor")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	items, nextCursor, hasMore, err := h.store.Transactions.List(c.Request.Context(), tenant, status, cursor, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

func (h *OperatorHandler) GetTransaction(c *gin.Context) {
	tenant := tenantOf(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}

	tx, err := h.store.Transactions.GetByID(c.Request.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	proposals, err := h.store.Proposals.ListByTransaction(c.Request.Context(), tenant, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	audit, err := h.store.Audits.ListByTransaction(c.Request.Context(), tenant, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction": tx,
		"proposals":   proposals,
		"audit":       audit,
	})
}

func (h *OperatorHandler) ApplyProposal(c *gin.Context) {
	tenant := tenantOf(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal ID"})
		return
	}

	if err := h.service.Apply(c.Request.Context(), tenant, id, actorOf(c)); err != nil {
		h.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "proposal applied"})
}

func (h *OperatorHandler) RejectProposal(c *gin.Context) {
	tenant := tenantOf(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal ID"})
		return
	}

	if err := h.service.Reject(c.Request.Context(), tenant, id, actorOf(c)); err != nil {
		h.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "proposal rejected"})
}

func (h *OperatorHandler) IgnoreTransaction(c *gin.Context) {
	tenant := tenantOf(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}

	if err := h.service.Ignore(c.Request.Context(), tenant, id, actorOf(c)); err != nil {
		h.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction ignored"})
}

func (h *OperatorHandler) RunMatchingPass(c *gin.Context) {
	tenant := tenantOf(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}

	if err := h.service.RunMatchingPass(c.Request.Context(), tenant, id); err != nil {
		h.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "matching pass complete"})
}

func (h *OperatorHandler) Sweep(c *gin.Context) {
	tenant := tenantOf(c)
	repaired, err := h.service.ReconcileSweep(c.Request.Context(), tenant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sweep complete", "repaired": repaired})
}

func (h *OperatorHandler) ListDeadLetters(c *gin.Context) {
	tenant := tenantOf(c)
	events, err := h.store.DeadLetters.List(c.Request.Context(), tenant, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

func (h *OperatorHandler) decisionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrProposalDecided), errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
