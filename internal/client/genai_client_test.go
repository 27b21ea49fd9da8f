package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/motionforge/api/internal/config"
	"github.com/motionforge/api/internal/model"
)

// queueServer simulates the provider's queue protocol: submit returns a
// request id, status is polled until terminal, then the result is fetched.
type queueServer struct {
	mu          sync.Mutex
	statuses    []model.TaskStatus
	statusError string
	result      string

	submitTime  time.Time
	submitCount int
	pollTimes   []time.Time
	authHeader  string

	srv *httptest.Server
}

func newQueueServer(t *testing.T, statuses []model.TaskStatus, result string) *queueServer {
	t.Helper()
	qs := &queueServer{statuses: statuses, result: result}

	mux := http.NewServeMux()
	mux.HandleFunc("/demo-model", func(w http.ResponseWriter, r *http.Request) {
		qs.mu.Lock()
		qs.submitTime = time.Now()
		qs.submitCount++
		qs.authHeader = r.Header.Get("Authorization")
		qs.mu.Unlock()
		fmt.Fprint(w, `{"request_id": "req-1", "status": "IN_QUEUE"}`)
	})
	mux.HandleFunc("/demo-model/requests/req-1/status", func(w http.ResponseWriter, r *http.Request) {
		qs.mu.Lock()
		idx := len(qs.pollTimes)
		qs.pollTimes = append(qs.pollTimes, time.Now())
		status := qs.statuses[len(qs.statuses)-1]
		if idx < len(qs.statuses) {
			status = qs.statuses[idx]
		}
		errMsg := qs.statusError
		qs.mu.Unlock()

		if errMsg != "" && status == model.TaskStatusFailed {
			fmt.Fprintf(w, `{"status": "%s", "error": "%s"}`, status, errMsg)
			return
		}
		fmt.Fprintf(w, `{"status": "%s"}`, status)
	})
	mux.HandleFunc("/demo-model/requests/req-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, qs.result)
	})

	qs.srv = httptest.NewServer(mux)
	t.Cleanup(qs.srv.Close)
	return qs
}

func (qs *queueServer) pollCount() int {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return len(qs.pollTimes)
}

func newTestClient(baseURL string, poll PollConfig) *GenAIClient {
	return NewGenAIClientWithPoll(&config.ProviderConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
	}, poll)
}

func TestRunTask_PollsWithGrowingBackoff(t *testing.T) {
	qs := newQueueServer(t, []model.TaskStatus{
		model.TaskStatusInProgress,
		model.TaskStatusInProgress,
		model.TaskStatusCompleted,
	}, `{"images": [{"url": "https://media.test/out.png"}]}`)

	c := newTestClient(qs.srv.URL, PollConfig{
		InitialInterval: 40 * time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     200 * time.Millisecond,
		Timeout:         5 * time.Second,
	})

	payload, err := c.RunTask(context.Background(), "demo-model", json.RawMessage(`{"prompt": "a cat"}`))
	if err != nil {
		t.Fatalf("run task failed: %v", err)
	}

	url, ok := ExtractMediaURL(payload)
	if !ok || url != "https://media.test/out.png" {
		t.Errorf("expected media URL from result payload, got %q (ok=%v)", url, ok)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()
	if len(qs.pollTimes) != 3 {
		t.Fatalf("expected 3 polls, got %d", len(qs.pollTimes))
	}
	if qs.authHeader != "Key test-key" {
		t.Errorf("expected provider auth header, got %q", qs.authHeader)
	}

	// First poll waits the initial interval; each later gap grows by the
	// multiplier. Scheduling delay only ever widens gaps.
	if gap := qs.pollTimes[0].Sub(qs.submitTime); gap < 40*time.Millisecond {
		t.Errorf("first poll came after %v, want >= 40ms", gap)
	}
	if gap := qs.pollTimes[1].Sub(qs.pollTimes[0]); gap < 60*time.Millisecond {
		t.Errorf("second gap was %v, want >= 60ms", gap)
	}
	if gap := qs.pollTimes[2].Sub(qs.pollTimes[1]); gap < 90*time.Millisecond {
		t.Errorf("third gap was %v, want >= 90ms", gap)
	}
}

func TestRunTask_BackoffCappedAtMaxInterval(t *testing.T) {
	statuses := make([]model.TaskStatus, 12)
	for i := range statuses {
		statuses[i] = model.TaskStatusInProgress
	}
	statuses[len(statuses)-1] = model.TaskStatusCompleted
	qs := newQueueServer(t, statuses, `{"video": {"url": "https://m/v.mp4"}}`)

	c := newTestClient(qs.srv.URL, PollConfig{
		InitialInterval: 10 * time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     20 * time.Millisecond,
		Timeout:         5 * time.Second,
	})

	start := time.Now()
	_, err := c.RunTask(context.Background(), "demo-model", json.RawMessage(`{}`))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("run task failed: %v", err)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()
	if len(qs.pollTimes) != len(statuses) {
		t.Fatalf("expected %d polls, got %d", len(statuses), len(qs.pollTimes))
	}
	for i := 1; i < len(qs.pollTimes); i++ {
		if gap := qs.pollTimes[i].Sub(qs.pollTimes[i-1]); gap < 10*time.Millisecond {
			t.Errorf("gap %d was %v, want >= the initial interval", i, gap)
		}
	}

	// Uncapped growth would sleep roughly 2.5s across these polls; the cap
	// keeps the whole run around a quarter second.
	if elapsed > 1200*time.Millisecond {
		t.Errorf("run took %v, interval does not look capped", elapsed)
	}
}

func TestRunTask_TimesOutAndStopsPolling(t *testing.T) {
	qs := newQueueServer(t, []model.TaskStatus{model.TaskStatusInProgress}, `{}`)

	c := newTestClient(qs.srv.URL, PollConfig{
		InitialInterval: 10 * time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     20 * time.Millisecond,
		Timeout:         60 * time.Millisecond,
	})

	_, err := c.RunTask(context.Background(), "demo-model", json.RawMessage(`{}`))

	var timedOut *TaskTimeoutError
	if !errors.As(err, &timedOut) {
		t.Fatalf("expected TaskTimeoutError, got %v", err)
	}
	if timedOut.RequestID != "req-1" {
		t.Errorf("expected request id in error, got %q", timedOut.RequestID)
	}

	// No polls may land after the deadline fired
	polled := qs.pollCount()
	time.Sleep(80 * time.Millisecond)
	if after := qs.pollCount(); after != polled {
		t.Errorf("polling continued after timeout: %d -> %d", polled, after)
	}
}

func TestRunTask_TaskFailure(t *testing.T) {
	qs := newQueueServer(t, []model.TaskStatus{
		model.TaskStatusInProgress,
		model.TaskStatusFailed,
	}, `{}`)
	qs.statusError = "model exploded"

	c := newTestClient(qs.srv.URL, PollConfig{
		InitialInterval: 5 * time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     10 * time.Millisecond,
		Timeout:         time.Second,
	})

	_, err := c.RunTask(context.Background(), "demo-model", json.RawMessage(`{}`))

	var failed *TaskFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected TaskFailedError, got %v", err)
	}
	if failed.Message != "model exploded" {
		t.Errorf("expected provider error message, got %q", failed.Message)
	}
}

func TestRunTask_RejectedSubmissionIsNotRetried(t *testing.T) {
	submits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		submits++
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"detail": "prompt is required"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, PollConfig{
		InitialInterval: 5 * time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     10 * time.Millisecond,
		Timeout:         time.Second,
	})

	_, err := c.RunTask(context.Background(), "demo-model", json.RawMessage(`{}`))

	var rejected *RequestRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RequestRejectedError, got %v", err)
	}
	if rejected.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", rejected.StatusCode)
	}
	if submits != 1 {
		t.Errorf("rejected submission was retried %d times", submits)
	}
}

func TestRunTask_SynchronousResponse(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			polls++
		}
		fmt.Fprint(w, `{"audio": {"url": "https://media.test/a.mp3"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, PollConfig{
		InitialInterval: 5 * time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     10 * time.Millisecond,
		Timeout:         time.Second,
	})

	payload, err := c.RunTask(context.Background(), "demo-model", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("run task failed: %v", err)
	}
	if polls != 0 {
		t.Errorf("synchronous response should not be polled, got %d polls", polls)
	}

	url, ok := ExtractMediaURL(payload)
	if !ok || url != "https://media.test/a.mp3" {
		t.Errorf("expected audio URL, got %q (ok=%v)", url, ok)
	}
}

func TestExtractMediaURL(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
		ok      bool
	}{
		{"image list", `{"images": [{"url": "https://m/1.png"}, {"url": "https://m/2.png"}]}`, "https://m/1.png", true},
		{"single image", `{"image": {"url": "https://m/i.png"}}`, "https://m/i.png", true},
		{"video", `{"video": {"url": "https://m/v.mp4"}}`, "https://m/v.mp4", true},
		{"audio", `{"audio": {"url": "https://m/a.mp3"}}`, "https://m/a.mp3", true},
		{"unknown shape", `{"text": "hello"}`, "", false},
		{"empty list", `{"images": []}`, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractMediaURL(json.RawMessage(tc.payload))
			if got != tc.want || ok != tc.ok {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}
