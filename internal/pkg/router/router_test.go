package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/PalmLedger/app/controllers"
	"github.com/ManuelReschke/PalmLedger/app/models"
	"github.com/ManuelReschke/PalmLedger/app/repository"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache/cachetest"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/webhook"
)

const (
	testSecret = "whsec_router"
	testAPIKey = "pl_live_u1"
	adminUser  = "ops"
	adminPass  = "s3cret"
)

const creditPackIntent = `{
  "id": "pi_1",
  "object": "payment_intent",
  "amount": 499,
  "currency": "eur",
  "description": "Credit pack",
  "created": 1772366400,
  "metadata": {"userId": "u1", "priceId": "price_credits_1000"}
}`

type testApp struct {
	app   *fiber.App
	repos *repository.Repositories
}

func newTestApp(t *testing.T, adminPassword string) *testApp {
	t.Helper()

	db := dbtest.New(t)
	repos := repository.NewRepositories(db)
	_, rdb := cachetest.NewRedis(t)
	store := cache.NewRedisStore(rdb)
	catalog := billing.DefaultCatalog(0)

	credits := billing.NewCreditLedger(repos.CreditTransaction, repos.User, cache.NewBalanceCache(store))
	subs := billing.NewSubscriptionLedger(repos.SubscriptionRecord, catalog)
	orch := billing.NewOrchestrator(catalog, credits, subs, nil, nil)
	counters := counter.NewWebhookCounters(rdb)
	dispatcher := webhook.NewDispatcher(testSecret, "", store, webhook.NewReconciler(orch, nil, ""),
		webhook.WithAudit(repos.WebhookEvent),
		webhook.WithCounters(counters),
	)

	ctx := context.Background()
	require.NoError(t, repos.User.Create(ctx, &models.User{
		ID: "u1", Email: "u1@example.com", Status: models.STATUS_ACTIVE, APIKeyHash: models.HashAPIKey(testAPIKey),
	}))
	require.NoError(t, repos.User.Create(ctx, &models.User{
		ID: "u2", Email: "u2@example.com", Status: models.STATUS_DISABLED, APIKeyHash: models.HashAPIKey("pl_disabled"),
	}))

	app := fiber.New()
	InstallRouter(app, Dependencies{
		Webhooks:      controllers.NewWebhookController(dispatcher),
		Billing:       controllers.NewBillingController(orch),
		Admin:         controllers.NewAdminController(credits, counters),
		Users:         repos.User,
		AdminUser:     adminUser,
		AdminPassword: adminPassword,
		LimiterMax:    1000,
	})
	return &testApp{app: app, repos: repos}
}

func (a *testApp) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	return resp.StatusCode, body
}

func apiRequest(method, path, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-API-Key", testAPIKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func webhookRequest(eventID, eventType, object string) *http.Request {
	payload := []byte(fmt.Sprintf(`{"id": %q, "object": "event", "type": %q, "api_version": "2025-03-31.basil",
  "created": 1772366400, "livemode": false, "data": {"object": %s}}`, eventID, eventType, object))
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-provider", bytes.NewReader(signed.Payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func TestWebhookEndpoint(t *testing.T) {
	a := newTestApp(t, adminPass)

	status, body := a.do(t, webhookRequest("evt_1", webhook.TypePaymentSucceeded, creditPackIntent))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, models.WebhookOutcomeProcessed, body["outcome"])

	status, body = a.do(t, webhookRequest("evt_1", webhook.TypePaymentSucceeded, creditPackIntent))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, models.WebhookOutcomeDuplicate, body["outcome"])

	credits, err := a.repos.User.GetCredits(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), credits)
}

func TestWebhookEndpointRejectsUnsigned(t *testing.T) {
	a := newTestApp(t, adminPass)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-provider", bytes.NewBufferString(`{}`))
	status, body := a.do(t, req)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "missing_signature", body["error"])

	req = httptest.NewRequest(http.MethodPost, "/webhooks/payment-provider", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=00")
	status, body = a.do(t, req)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", body["error"])
}

func TestBillingRequiresAPIKey(t *testing.T) {
	a := newTestApp(t, adminPass)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/credits", nil)
	status, _ := a.do(t, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/billing/credits", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	status, _ = a.do(t, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/billing/credits", nil)
	req.Header.Set("X-API-Key", "pl_disabled")
	status, _ = a.do(t, req)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestDeductAndRefundCredits(t *testing.T) {
	a := newTestApp(t, adminPass)

	status, body := a.do(t, apiRequest(http.MethodPost, "/api/v1/billing/credits/deduct", `{"amount": 200, "description": "render"}`))
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "insufficient_credits", body["error"])

	status, _ = a.do(t, webhookRequest("evt_1", webhook.TypePaymentSucceeded, creditPackIntent))
	require.Equal(t, fiber.StatusOK, status)

	status, body = a.do(t, apiRequest(http.MethodPost, "/api/v1/billing/credits/deduct", `{"amount": 200, "description": "render"}`))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 800, body["credits"])

	status, _ = a.do(t, apiRequest(http.MethodPost, "/api/v1/billing/credits/refund", `{"amount": 200, "taskId": "task-7"}`))
	assert.Equal(t, fiber.StatusAccepted, status)
	status, _ = a.do(t, apiRequest(http.MethodPost, "/api/v1/billing/credits/refund", `{"amount": 200, "taskId": "task-7"}`))
	assert.Equal(t, fiber.StatusAccepted, status)

	status, body = a.do(t, apiRequest(http.MethodGet, "/api/v1/billing/credits", ""))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "u1", body["userId"])
	assert.EqualValues(t, 1000, body["credits"])

	status, body = a.do(t, apiRequest(http.MethodGet, "/api/v1/billing/credits/history?limit=10", ""))
	assert.Equal(t, fiber.StatusOK, status)
	items, ok := body["items"].([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 3)
}

func TestDeductValidatesBody(t *testing.T) {
	a := newTestApp(t, adminPass)

	status, body := a.do(t, apiRequest(http.MethodPost, "/api/v1/billing/credits/deduct", `{"amount": 0}`))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["error"])

	status, _ = a.do(t, apiRequest(http.MethodPost, "/api/v1/billing/credits/refund", `{"amount": 5}`))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSubscriptionEndpoints(t *testing.T) {
	a := newTestApp(t, adminPass)

	status, body := a.do(t, apiRequest(http.MethodGet, "/api/v1/billing/subscription", ""))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["has_subscription"])

	status, body = a.do(t, apiRequest(http.MethodGet, "/api/v1/billing/subscription/eligibility", ""))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["canSubscribe"])
	assert.Equal(t, false, body["hasUsedTrial"])
}

func TestAdminRoutes(t *testing.T) {
	a := newTestApp(t, adminPass)

	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks/stats", nil)
	status, _ := a.do(t, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = a.do(t, webhookRequest("evt_1", webhook.TypePaymentSucceeded, creditPackIntent))
	require.Equal(t, fiber.StatusOK, status)

	req = httptest.NewRequest(http.MethodGet, "/admin/webhooks/stats", nil)
	req.SetBasicAuth(adminUser, adminPass)
	status, body := a.do(t, req)
	assert.Equal(t, fiber.StatusOK, status)
	outcomes, ok := body["outcomes"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, outcomes[models.WebhookOutcomeProcessed])

	req = httptest.NewRequest(http.MethodPost, "/admin/webhooks/stats/reset", nil)
	req.SetBasicAuth(adminUser, adminPass)
	status, body = a.do(t, req)
	assert.Equal(t, fiber.StatusOK, status)
	req = httptest.NewRequest(http.MethodGet, "/admin/webhooks/stats", nil)
	req.SetBasicAuth(adminUser, adminPass)
	_, body = a.do(t, req)
	assert.Empty(t, body["outcomes"])

	// drift the cached balance away from the ledger
	require.NoError(t, a.repos.User.SetCredits(context.Background(), "u1", 5))

	req = httptest.NewRequest(http.MethodPost, "/admin/users/u1/reconcile", nil)
	req.SetBasicAuth(adminUser, adminPass)
	status, body = a.do(t, req)
	assert.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 5, body["before"])
	assert.EqualValues(t, 1000, body["after"])
	assert.Equal(t, true, body["changed"])

	req = httptest.NewRequest(http.MethodPost, "/admin/users/nobody/reconcile", nil)
	req.SetBasicAuth(adminUser, adminPass)
	status, _ = a.do(t, req)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	a := newTestApp(t, "")

	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks/stats", nil)
	req.SetBasicAuth(adminUser, "")
	status, body := a.do(t, req)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "admin_disabled", body["error"])
}
