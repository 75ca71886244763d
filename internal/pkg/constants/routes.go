package constants

// Static route constants
const (
	WebhookRoute = "/webhooks/payment-provider"
	APIRoute     = "/api"
	AdminRoute   = "/admin"
	HealthRoute  = "/health"
	MetricsRoute = "/metrics"
	// Swagger UI is served below DocsBasePath + DocsVersion
	DocsBasePath = "/docs/api/"
	DocsVersion  = "v1"
)
