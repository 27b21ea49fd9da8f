package e2e

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/motionforge/api/internal/middleware"
)

func validRenderStartBody() string {
	return fmt.Sprintf(`{
		"compositionId": "MainComposition",
		"config": {"fps": 30, "width": 1920, "height": 1080, "format": "mp4"},
		"inputKey": "bundles/%s/%s.zip"
	}`, testUserID, uuid.New().String())
}

func TestRenderStart_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/start", validRenderStartBody())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["jobId"] == nil || result["jobId"] == "" {
		t.Error("expected 'jobId' in response")
	}
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}
}

func TestRenderStart_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/render/start", validRenderStartBody(), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestRenderStart_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	// Missing config and inputKey
	body := `{"compositionId": "MainComposition"}`

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/start", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestRenderStatus_Queued(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/start", validRenderStartBody())
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	startResult := parseJSON(t, resp)
	jobID := startResult["jobId"].(string)

	// No worker is running in the test app, so the job stays queued
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/render/status/"+jobID, "")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}
	if result["progress"] != float64(0) {
		t.Errorf("expected progress 0, got %v", result["progress"])
	}
	if result["downloadUrl"] != nil {
		t.Errorf("queued job must not have a download URL, got %v", result["downloadUrl"])
	}
}

func TestRenderStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/render/status/"+uuid.New().String(), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestRenderStatus_OtherUsersJob(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/start", validRenderStartBody())
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	jobID := parseJSON(t, resp)["jobId"].(string)

	otherToken, err := middleware.GenerateToken("someone-else", "other@example.com", testJWTSecret, 1)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	resp, err = doRequest(ta.app, http.MethodGet, "/api/render/status/"+jobID, "", map[string]string{
		"Authorization": "Bearer " + otherToken,
	})
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusForbidden)
}
