package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/motionforge/api/internal/auth"
	"github.com/motionforge/api/internal/handler"
	"github.com/motionforge/api/internal/middleware"
	"github.com/motionforge/api/internal/model"
	"github.com/motionforge/api/internal/service"
)

const (
	testJWTSecret     = "test-secret-for-e2e"
	testWebhookSecret = "test-webhook-secret"
	testUserID        = "test-user-123"
)

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
}

// stubRunner stands in for the generation provider so handler tests never
// leave the process
type stubRunner struct {
	payload json.RawMessage
	err     error
}

func (r *stubRunner) SubmitTask(ctx context.Context, modelID string, input json.RawMessage) (*model.ProviderTask, error) {
	return &model.ProviderTask{Status: model.TaskStatusCompleted, Payload: r.payload}, r.err
}

func (r *stubRunner) GetTaskStatus(ctx context.Context, task *model.ProviderTask) (model.TaskStatus, error) {
	return model.TaskStatusCompleted, nil
}

func (r *stubRunner) GetTaskResult(ctx context.Context, task *model.ProviderTask) (json.RawMessage, error) {
	return r.payload, r.err
}

func (r *stubRunner) RunTask(ctx context.Context, modelID string, input json.RawMessage) (json.RawMessage, error) {
	return r.payload, r.err
}

// setupApp creates a Fiber app identical to main.go but with unconfigured
// external clients and an in-memory credit ledger. Requires Redis on
// localhost; tests are skipped when it is not running.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost — DB 15 to avoid collision with dev data)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	// Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	// External clients unconfigured — storage nil triggers mock fallbacks,
	// generation goes through the stub runner.
	runner := &stubRunner{payload: json.RawMessage(`{"images": [{"url": "https://media.test/out.png"}]}`)}

	// Services
	jobService := service.NewJobService(service.NewRedisJobRepository(redisClient), asynqClient, nil)
	creditService := service.NewCreditService(service.NewMemoryLedger(), 1)
	uploadService := service.NewUploadService(nil)

	// Handlers
	renderHandler := handler.NewRenderHandler(jobService, validate)
	generateHandler := handler.NewGenerateHandler(runner, creditService, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)
	billingHandler := handler.NewBillingHandler(creditService, auth.NewHMACWebhookVerifier(testWebhookSecret), validate)

	// Auth handler (for /auth/verify)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware — legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	// Base routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"renderfn": false,
				"provider": true,
				"storage":  false,
				"auth":     true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// Webhook authenticates by signature, not bearer token
	app.Post("/api/billing/webhook", billingHandler.Webhook)

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	render := api.Group("/render")
	render.Post("/start", rateLimiter.RenderLimit(10000), renderHandler.Start)
	render.Get("/status/:jobId", renderHandler.Status)

	generate := api.Group("/generate", rateLimiter.GenerateLimit(10000))
	generate.Post("/", generateHandler.Generate)
	generate.Get("/credits", generateHandler.Balance)

	upload := api.Group("/upload", rateLimiter.UploadLimit(10000))
	upload.Post("/bundle", uploadHandler.Bundle)
	upload.Delete("/bundle", uploadHandler.Delete)

	return &testApp{app: app}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: testUserID,
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "motionforge-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
