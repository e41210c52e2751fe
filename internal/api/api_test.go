package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"netpulse/internal/flow"
	"netpulse/internal/packet"
)

func TestTopFlowsHandler(t *testing.T) {
	table := flow.New()
	k := flow.KeyFromTuple(packet.Tuple{SrcIP: [4]byte{1, 2, 3, 4}, DstIP: [4]byte{5, 6, 7, 8}, SrcPort: 10, DstPort: 20})
	table.Update(k, 100, 50, time.Unix(1000, 0))

	h := &Handler{table: table}
	req := httptest.NewRequest(http.MethodGet, "/flows/top?n=5", nil)
	rec := httptest.NewRecorder()
	h.topFlows(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var views []flowView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d flows, want 1", len(views))
	}
	if views[0].PacketCount != 1 {
		t.Errorf("packet count = %d, want 1", views[0].PacketCount)
	}
}

func TestTopFlowsHandlerRejectsBadN(t *testing.T) {
	h := &Handler{table: flow.New()}
	req := httptest.NewRequest(http.MethodGet, "/flows/top?n=notanumber", nil)
	rec := httptest.NewRecorder()
	h.topFlows(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthzReportsFlowCount(t *testing.T) {
	table := flow.New()
	k := flow.KeyFromTuple(packet.Tuple{SrcIP: [4]byte{9, 9, 9, 9}, DstIP: [4]byte{8, 8, 8, 8}, SrcPort: 1, DstPort: 2})
	table.Update(k, 10, 5, time.Unix(1000, 0))

	h := &Handler{table: table}
	req := httptest.NewRequest(http.MethodGet, "/flows/healthz", nil)
	rec := httptest.NewRecorder()
	h.healthz(rec, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["flows"].(float64) != 1 {
		t.Errorf("flows = %v, want 1", body["flows"])
	}
}
