package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tdnguyen/sentryhub/internal/model"
	"github.com/tdnguyen/sentryhub/internal/pipeline"
	"github.com/tdnguyen/sentryhub/internal/signature"
	"github.com/tdnguyen/sentryhub/internal/store/memory"
)

const testSecret = "device-shared-secret"

func newTestServer(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	s := memory.New()
	if err := s.CreateDevice(context.Background(), &model.Device{
		ID: "D1", Serial: "SN-D1", IsActive: true, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	p := pipeline.New(s, testSecret, logger)
	return NewRouter(NewHandlers(p, s, logger), nil), s
}

func postIngest(t *testing.T, router http.Handler, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader(body))
	if sign {
		req.Header.Set(signature.Header, signature.Sign(body, testSecret))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rr.Body.String())
	}
	return out
}

func TestIngestEndToEnd(t *testing.T) {
	router, _ := newTestServer(t)

	body := []byte(`{"device_id":"D1","event_type":"intrusion"}`)
	rr := postIngest(t, router, body, true)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rr.Code, rr.Body.String())
	}

	resp := decode(t, rr)
	if resp["ok"] != true {
		t.Error("ok should be true")
	}
	if resp["risk_level"] != "CRITICAL" {
		t.Errorf("risk_level = %v, want CRITICAL", resp["risk_level"])
	}
	if resp["incident_id"] == nil {
		t.Error("intrusion should open an incident")
	}
	if resp["event_id"] == nil {
		t.Error("event_id missing")
	}
}

func TestIngestLowRiskNoIncident(t *testing.T) {
	router, _ := newTestServer(t)

	body := []byte(`{"device_id":"D1","event_type":"unknown-type"}`)
	rr := postIngest(t, router, body, true)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}
	resp := decode(t, rr)
	if resp["risk_level"] != "LOW" {
		t.Errorf("risk_level = %v, want LOW", resp["risk_level"])
	}
	if resp["incident_id"] != nil {
		t.Errorf("incident_id = %v, want null", resp["incident_id"])
	}
}

func TestIngestRejectsMissingSignature(t *testing.T) {
	router, _ := newTestServer(t)

	rr := postIngest(t, router, []byte(`{"device_id":"D1","event_type":"intrusion"}`), false)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if resp := decode(t, rr); resp["ok"] != false {
		t.Error("error envelope should carry ok=false")
	}
}

func TestIngestRejectsTamperedBody(t *testing.T) {
	router, _ := newTestServer(t)

	signed := []byte(`{"device_id":"D1","event_type":"motion"}`)
	tampered := []byte(`{"device_id":"D1","event_type":"intrusion"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader(tampered))
	req.Header.Set(signature.Header, signature.Sign(signed, testSecret))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestIngestMalformedBody(t *testing.T) {
	router, _ := newTestServer(t)

	rr := postIngest(t, router, []byte(`{not json`), true)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestIngestUnknownDevice(t *testing.T) {
	router, _ := newTestServer(t)

	rr := postIngest(t, router, []byte(`{"device_id":"ghost","event_type":"intrusion"}`), true)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestIngestDuplicateDeliverySameEventID(t *testing.T) {
	router, _ := newTestServer(t)

	body := []byte(`{"device_id":"D1","event_type":"tamper","occurred_at":"2026-05-02T10:00:00Z"}`)

	first := decode(t, postIngest(t, router, body, true))
	second := decode(t, postIngest(t, router, body, true))

	if first["event_id"] != second["event_id"] {
		t.Errorf("retried delivery returned a different event_id: %v vs %v",
			first["event_id"], second["event_id"])
	}
}

func TestDeviceRegistryEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	// Register.
	body := []byte(`{"name":"gate-cam","type":"intrusion","serial":"SN-100"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201 (%s)", rr.Code, rr.Body.String())
	}
	created := decode(t, rr)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("register response missing id")
	}

	// Duplicate serial conflicts.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/devices/", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate serial status = %d, want 409", rr.Code)
	}

	// Fetch.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/"+id, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", rr.Code)
	}

	// Unknown id.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/missing", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d, want 404", rr.Code)
	}

	// List with filter.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/?serial=SN-100", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rr.Code)
	}
	var listed []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("list response: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("listed %d devices, want 1", len(listed))
	}

	// Bad limit rejected.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/?limit=0", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rr.Code)
	}
}

func TestIncidentStatusEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	// Open an incident through ingestion.
	resp := decode(t, postIngest(t, router, []byte(`{"device_id":"D1","event_type":"intrusion"}`), true))
	incID, _ := resp["incident_id"].(string)
	if incID == "" {
		t.Fatal("no incident opened")
	}

	// Acknowledge.
	body := []byte(`{"status":"acknowledged"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/"+incID+"/status", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status update = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	if out := decode(t, rr); out["status"] != "acknowledged" {
		t.Errorf("status = %v, want acknowledged", out["status"])
	}

	// Invalid status.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/incidents/"+incID+"/status",
		bytes.NewReader([]byte(`{"status":"escalated"}`)))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid status = %d, want 400", rr.Code)
	}

	// Unknown incident.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/incidents/nope/status",
		bytes.NewReader([]byte(`{"status":"closed"}`)))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown incident = %d, want 404", rr.Code)
	}

	// Listing by device includes it.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents/by-device/D1", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("list = %d, want 200", rr.Code)
	}
	var incs []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &incs); err != nil {
		t.Fatal(err)
	}
	if len(incs) != 1 {
		t.Errorf("listed %d incidents, want 1", len(incs))
	}
}

func TestAlertsByIncidentEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	resp := decode(t, postIngest(t, router, []byte(`{"device_id":"D1","event_type":"intrusion"}`), true))
	incID, _ := resp["incident_id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/by-incident/"+incID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("alerts = %d, want 200", rr.Code)
	}

	var alerts []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &alerts); err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("listed %d alerts, want 1", len(alerts))
	}
	if alerts[0]["channel"] != "sms" || alerts[0]["target"] != "ops-team" {
		t.Errorf("alert route = %v/%v, want sms/ops-team", alerts[0]["channel"], alerts[0]["target"])
	}
}

func TestHealthAndReady(t *testing.T) {
	router, _ := newTestServer(t)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, rr.Code)
		}
	}
}

func TestInternalErrorsAreStructuredJSON(t *testing.T) {
	router, _ := newTestServer(t)

	// An unroutable method still gets a response, and ingest errors are
	// always JSON envelopes.
	rr := postIngest(t, router, []byte(`{"device_id":"D1"}`), true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	decode(t, rr)
}
