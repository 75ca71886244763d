package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the shared database handle set by SetupDatabase.
var DB *gorm.DB

// DSN builds the postgres connection string from the environment.
func DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_NAME", ""),
		env.GetEnv("DB_PORT", "5432"),
		env.GetEnv("DB_SSLMODE", "disable"),
	)
}

func SetupDatabase() {
	var err error
	cfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if !env.IsDev() {
		cfg.Logger = logger.Default.LogMode(logger.Warn)
	}

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(postgres.Open(DSN()), cfg)
		if err == nil {
			// Schema is owned by cmd/migrate; AutoMigrate only fills gaps in dev.
			if env.IsDev() {
				if mErr := AutoMigrate(DB); mErr != nil {
					log.Warnf("[Database] AutoMigrate failed: %v", mErr)
				}
			}
			return
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// AutoMigrate creates or updates the ledger tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.CreditTransaction{},
		&models.SubscriptionRecord{},
		&models.WebhookEvent{},
	)
}

// GetDB returns the shared database handle, or nil before SetupDatabase ran.
func GetDB() *gorm.DB {
	return DB
}
