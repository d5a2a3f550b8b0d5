package main

import (
	"os"
	"time"

	"payment-reconciliation-engine/internal/config"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, relying on system env")
	}

	settings, err := config.Load(os.Getenv("RECON_CONFIG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("failed to load settings")
	}

	db := config.InitDB()

	db.AutoMigrate(
		&models.Transaction{},
		&models.MatchProposal{},
		&models.AuditEntry{},
		&models.DeadLetterEvent{},
	)

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Tenant-ID", "X-Operator-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, db, settings)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	r.Run(addr)
}
