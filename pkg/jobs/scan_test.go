package jobs_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/partline/partline/pkg/errx"
	"github.com/partline/partline/pkg/jobs"
	"github.com/partline/partline/pkg/queuex"
	"github.com/partline/partline/pkg/scanx"
)

// fakeBackend records the scan result and status callbacks the handler makes.
type fakeBackend struct {
	mu       sync.Mutex
	results  []string
	statuses []map[string]string
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/scans/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if strings.HasSuffix(r.URL.Path, "/status") {
			status := map[string]string{}
			for k, v := range body {
				if s, ok := v.(string); ok {
					status[k] = s
				}
			}
			b.statuses = append(b.statuses, status)
		} else {
			b.results = append(b.results, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newScanJob(t *testing.T, attempts, max int) *queuex.Job {
	t.Helper()
	payload, err := json.Marshal(jobs.ScanPayload{
		ScanID:   "scan-42",
		ScanType: scanx.ScanTypeEngineBay,
		Images:   []string{"https://img.example.com/1.jpg"},
		UserID:   "user-7",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queuex.Job{
		ID:           "job-1",
		Queue:        jobs.QueueScan,
		Payload:      payload,
		AttemptsMade: attempts,
		MaxAttempts:  max,
	}
}

func TestScanHandler_StoresResultAndNotifies(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/process-scan" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("missing api key header")
		}
		json.NewEncoder(w).Encode(scanx.ScanResponse{
			ScanID: "scan-42",
			Status: scanx.ScanStatusCompleted,
			Result: &scanx.ScanResult{
				DetectedParts:   []scanx.DetectedPart{{PartName: "alternator", Confidence: 0.93}},
				ConfidenceScore: 0.93,
			},
		})
	}))
	defer service.Close()

	backend := &fakeBackend{}
	backendSrv := httptest.NewServer(backend.handler())
	defer backendSrv.Close()

	client := scanx.NewClient(service.URL, backendSrv.URL, "secret", nil)
	handler := jobs.NewScanHandler(client)

	result, err := handler.Handle(context.Background(), newScanJob(t, 1, 3))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	var resp scanx.ScanResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if resp.Status != scanx.ScanStatusCompleted {
		t.Fatalf("unexpected status %s", resp.Status)
	}
	if len(resp.Result.DetectedParts) != 1 || resp.Result.DetectedParts[0].PartName != "alternator" {
		t.Fatalf("unexpected detected parts %+v", resp.Result.DetectedParts)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.results) != 1 || backend.results[0] != "/api/v1/scans/scan-42/results" {
		t.Fatalf("expected one result callback, got %v", backend.results)
	}
}

func TestScanHandler_ServiceError(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer service.Close()

	backend := &fakeBackend{}
	backendSrv := httptest.NewServer(backend.handler())
	defer backendSrv.Close()

	client := scanx.NewClient(service.URL, backendSrv.URL, "secret", nil)
	handler := jobs.NewScanHandler(client)

	// Not the last attempt: the failure stays internal to the queue.
	_, err := handler.Handle(context.Background(), newScanJob(t, 1, 3))
	if !errx.IsCode(err, scanx.ErrUnexpectedStatus) {
		t.Fatalf("expected unexpected status error, got %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.statuses) != 0 {
		t.Fatalf("expected no failure callback before the last attempt, got %v", backend.statuses)
	}
}

func TestScanHandler_ReportsTerminalFailure(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(scanx.ScanResponse{
			ScanID:  "scan-42",
			Status:  scanx.ScanStatusFailed,
			Message: "no vehicle detected",
		})
	}))
	defer service.Close()

	backend := &fakeBackend{}
	backendSrv := httptest.NewServer(backend.handler())
	defer backendSrv.Close()

	client := scanx.NewClient(service.URL, backendSrv.URL, "secret", nil)
	handler := jobs.NewScanHandler(client)

	// Last attempt: the backend is told the scan failed for good.
	_, err := handler.Handle(context.Background(), newScanJob(t, 3, 3))
	if !errx.IsCode(err, scanx.ErrRequestFailed) {
		t.Fatalf("expected request failed error, got %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.statuses) != 1 {
		t.Fatalf("expected one failure callback, got %v", backend.statuses)
	}
	if backend.statuses[0]["status"] != string(scanx.ScanStatusFailed) {
		t.Fatalf("unexpected status payload %v", backend.statuses[0])
	}
	if backend.statuses[0]["error_message"] == "" {
		t.Fatal("expected error_message in failure callback")
	}
}

func TestScanHandler_InvalidPayload(t *testing.T) {
	client := scanx.NewClient("http://unused", "http://unused", "", nil)
	handler := jobs.NewScanHandler(client)

	payload, _ := json.Marshal(jobs.ScanPayload{ScanID: "scan-42", ScanType: "sonar"})
	job := &queuex.Job{ID: "job-1", Queue: jobs.QueueScan, Payload: payload, AttemptsMade: 1, MaxAttempts: 3}

	_, err := handler.Handle(context.Background(), job)
	if !errx.IsCode(err, scanx.ErrInvalidRequest) {
		t.Fatalf("expected invalid request error, got %v", err)
	}
}
