package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PalmLedger/app/controllers"
	"github.com/ManuelReschke/PalmLedger/app/repository"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/archive"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/constants"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/database"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/env"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/middleware"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/payment"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/router"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/webhook"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/palmledger to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	catalog := loadCatalog()
	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	store := cache.NewStore()
	credits := billing.NewCreditLedger(repos.CreditTransaction, repos.User, cache.NewBalanceCache(store))
	subs := billing.NewSubscriptionLedger(repos.SubscriptionRecord, catalog)
	provider := payment.NewStripeProvider(env.GetEnv("STRIPE_SECRET_KEY", ""))
	orders := billing.NewOrchestrator(catalog, credits, subs, billing.NewProviderCanceller(provider), payment.PriceLookup{Provider: provider})

	projectID := env.GetEnv("PROJECT_ID", "")
	counters := counter.Default()
	opts := []webhook.Option{
		webhook.WithAudit(repos.WebhookEvent),
		webhook.WithCounters(counters),
	}
	if a := setupArchive(); a != nil {
		opts = append(opts, webhook.WithArchive(a))
	}
	dispatcher := webhook.NewDispatcher(
		env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		projectID,
		store,
		webhook.NewReconciler(orders, provider, projectID),
		opts...,
	)

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // provider payloads stay far below 1 MiB
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	adminUser := env.GetEnv("ADMIN_USER", "admin")
	adminPassword := env.GetEnv("ADMIN_PASSWORD", "")

	// fiber metrics
	app.Get(constants.MetricsRoute, middleware.AdminBasicAuth(adminUser, adminPassword), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: constants.DocsBasePath,
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     constants.DocsVersion,
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Webhooks:       controllers.NewWebhookController(dispatcher),
		Billing:        controllers.NewBillingController(orders),
		Admin:          controllers.NewAdminController(credits, counters),
		Users:          repos.User,
		AdminUser:      adminUser,
		AdminPassword:  adminPassword,
		LimiterStorage: cache.NewFiberStorage(),
		LimiterMax:     env.GetEnvInt("API_RATE_LIMIT", 120),
	})

	return app
}

func loadCatalog() *billing.Catalog {
	trialCredits := int64(env.GetEnvInt("TRIAL_CREDITS", int(billing.DefaultTrialCredits)))
	path := env.GetEnv("PRICE_CATALOG_FILE", "")
	if path == "" {
		return billing.DefaultCatalog(trialCredits)
	}
	catalog, err := billing.LoadCatalog(path, trialCredits)
	if err != nil {
		panic(fmt.Errorf("load price catalog %s: %w", path, err))
	}
	fiberlog.Infof("[Billing] Loaded %d products from %s", len(catalog.Products()), path)
	return catalog
}

func setupArchive() webhook.Archiver {
	cfg, err := archive.LoadConfig()
	if err != nil {
		fiberlog.Warnf("[Archive] Disabled: %v", err)
		return nil
	}
	if !cfg.Enabled {
		return nil
	}
	a, err := archive.New(context.Background(), cfg)
	if err != nil {
		fiberlog.Warnf("[Archive] Disabled: %v", err)
		return nil
	}
	fiberlog.Infof("[Archive] Archiving webhook payloads to bucket %s", cfg.BucketName)
	return a
}
