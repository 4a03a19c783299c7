package app_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdobrica/butai/internal/butai/app"
	"github.com/bdobrica/butai/internal/butai/drama"
)

type fixedStatus struct{ st drama.Status }

func (f fixedStatus) Status() drama.Status { return f.st }

func TestHealthServer_Health(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", fixedStatus{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}

func TestHealthServer_Status(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", fixedStatus{drama.Status{
		Sessions: 4, Scenarios: 3, Directors: 1, TakeoverBy: "@director:example.com",
	}})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Status string       `json:"status"`
		Play   drama.Status `json:"play"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Play.Sessions != 4 || resp.Play.Scenarios != 3 {
		t.Errorf("status = %+v", resp)
	}
	if resp.Play.TakeoverBy != "@director:example.com" {
		t.Errorf("takeover_by = %q", resp.Play.TakeoverBy)
	}
}

func TestHealthServer_RejectsPost(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health = %d, want 405", w.Code)
	}
}
