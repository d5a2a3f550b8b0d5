package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/billing"
	"payment-reconciliation-engine/internal/config"
	handler "payment-reconciliation-engine/internal/handlers"
	"payment-reconciliation-engine/internal/repository"
	service "payment-reconciliation-engine/internal/services/reconciliation"
	"payment-reconciliation-engine/internal/services/resolver"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB, settings *config.Settings) {
	store := repository.NewStore(db)

	billingClient := billing.NewHTTPClient(
		settings.BillingBaseURL,
		settings.BillingToken,
		settings.WriteBackTimeout,
	)

	candidateResolver := resolver.New(billingClient, settings)
	reconService := service.NewService(store, candidateResolver, billingClient, settings)

	webhookHandler := handler.NewWebhookHandler(reconService, settings)
	operatorHandler := handler.NewOperatorHandler(reconService, store)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider-facing ingestion
	api.POST("/webhooks/:tenant/:provider", webhookHandler.Receive)

	// Operator review routes, tenant-scoped via header
	ops := api.Group("", handler.TenantRequired())

	tx := ops.Group("/transactions")
	tx.GET("", operatorHandler.ListTransactions)
	tx.GET("/:id", operatorHandler.GetTransaction)
	tx.POST("/:id/ignore", operatorHandler.IgnoreTransaction)
	tx.POST("/:id/match", operatorHandler.RunMatchingPass)

	proposals := ops.Group("/proposals")
	proposals.POST("/:id/apply", operatorHandler.ApplyProposal)
	proposals.POST("/:id/reject", operatorHandler.RejectProposal)

	ops.POST("/sweep", operatorHandler.Sweep)
	ops.GET("/dead-letters", operatorHandler.ListDeadLetters)
}
