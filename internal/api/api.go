// Package api serves flow table queries over HTTP, grounded on ns-api's
// gorilla/mux router and graceful-shutdown pattern — JSON instead of
// protojson, since there are no generated request/response message types
// in this system.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"netpulse/internal/flow"
)

// Handler holds the dependencies HTTP handlers need: read-only access to
// the live flow table.
type Handler struct {
	table *flow.Table
}

// NewRouter builds a mux.Router exposing the flow query routes over
// table.
func NewRouter(table *flow.Table) *mux.Router {
	h := &Handler{table: table}
	r := mux.NewRouter()
	r.HandleFunc("/flows/top", h.topFlows).Methods(http.MethodGet)
	r.HandleFunc("/flows/healthz", h.healthz).Methods(http.MethodGet)
	return r
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully within a 5-second window.
func Serve(ctx context.Context, addr string, table *flow.Table) error {
	server := &http.Server{Addr: addr, Handler: NewRouter(table)}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("api: listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type flowView struct {
	SrcIP           string  `json:"src_ip"`
	SrcPort         uint16  `json:"src_port"`
	DstIP           string  `json:"dst_ip"`
	DstPort         uint16  `json:"dst_port"`
	PacketCount     uint64  `json:"packet_count"`
	PayloadBytes    uint64  `json:"payload_bytes"`
	TotalFrameBytes uint64  `json:"total_frame_bytes"`
	AveragePacketSz float64 `json:"average_packet_size"`
	AverageSpeed    float64 `json:"average_speed"`
}

func toView(s flow.Snapshot, now time.Time) flowView {
	return flowView{
		SrcIP:           ipString(s.Key.SrcIP),
		SrcPort:         s.Key.SrcPort,
		DstIP:           ipString(s.Key.DstIP),
		DstPort:         s.Key.DstPort,
		PacketCount:     s.PacketCount,
		PayloadBytes:    s.PayloadBytes,
		TotalFrameBytes: s.TotalFrameBytes,
		AveragePacketSz: s.AveragePacketSize(),
		AverageSpeed:    s.AverageSpeed(now),
	}
}

func ipString(ip [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

// topFlows handles GET /flows/top?n=10, defaulting n to 10 and clamping
// it to a sane maximum so a malicious or mistaken query can't force an
// enormous response body.
func (h *Handler) topFlows(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	if n > 1000 {
		n = 1000
	}

	now := time.Now()
	top := flow.TopN(h.table.Snapshot(), n, now)
	views := make([]flowView, len(top))
	for i, s := range top {
		views[i] = toView(s, now)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// healthz reports liveness and the current tracked-flow count.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"flows":  h.table.Len(),
	})
}
