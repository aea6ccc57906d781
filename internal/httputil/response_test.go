package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	BadRequest(rec, "empty payload")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "empty payload" {
		t.Errorf("error = %s, want 'empty payload'", resp["error"])
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"triggers": 2})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"triggers":2}` {
		t.Errorf("body = %s", got)
	}
}

func TestInternalServerError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	InternalServerError(rec, "port closed")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRequireMethod(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	if RequireMethod(rec, httptest.NewRequest(http.MethodGet, "/inject", nil), http.MethodPost) {
		t.Fatal("GET accepted for POST-only route")
	}
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Errorf("status = %d allow = %q", rec.Code, rec.Header().Get("Allow"))
	}

	rec = httptest.NewRecorder()
	if !RequireMethod(rec, httptest.NewRequest(http.MethodPost, "/inject", nil), http.MethodPost) {
		t.Error("POST rejected")
	}
}

func TestDecodeJSONBody(t *testing.T) {
	t.Parallel()

	var body struct {
		Data string `json:"data"`
	}
	req := httptest.NewRequest(http.MethodPost, "/inject", strings.NewReader(`{"data":"MARCO"}`))
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatal(err)
	}
	if body.Data != "MARCO" {
		t.Errorf("Data = %q", body.Data)
	}

	req = httptest.NewRequest(http.MethodPost, "/inject", strings.NewReader(`{"bytes":"MARCO"}`))
	if err := DecodeJSONBody(req, &body); err == nil {
		t.Error("unknown field accepted")
	}
}
