// Package report renders a live top-N table of tracked flows to a
// terminal at 1Hz and periodically sweeps stale flows out of the table,
// the way the flow-aggregation engine this project descends from drives
// its snapshot/cleanup cycle off a ticker.
package report

import (
	"fmt"
	"io"
	"time"

	"netpulse/internal/flow"
	"netpulse/internal/logging"
)

const (
	renderInterval = time.Second
	defaultCleanup = 30 * time.Second
	clearScreen    = "\x1b[2J\x1b[H"
)

// Config are the externally-supplied parameters of one reporter.
type Config struct {
	TopN          int
	IdleTimeout   time.Duration // flows idle longer than this are evicted
	CleanupPeriod time.Duration // how often the eviction sweep runs; 0 = default
}

// Reporter owns the render/cleanup loop over a flow table.
type Reporter struct {
	cfg   Config
	table *flow.Table
	out   io.Writer
	log   *logging.Logger
}

// New builds a reporter over table, writing rendered frames to out.
func New(cfg Config, table *flow.Table, out io.Writer, log *logging.Logger) *Reporter {
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = defaultCleanup
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Reporter{cfg: cfg, table: table, out: out, log: log}
}

// Run drives the render loop at 1Hz, gating the more expensive cleanup
// sweep to CleanupPeriod, until stop is closed.
func (r *Reporter) Run(stop <-chan struct{}) {
	defer r.log.Trace("report.Run")()

	renderTicker := time.NewTicker(renderInterval)
	defer renderTicker.Stop()

	nextCleanup := time.Now().Add(r.cfg.CleanupPeriod)

	for {
		select {
		case <-stop:
			return
		case now := <-renderTicker.C:
			r.render(now)
			if !now.Before(nextCleanup) {
				r.cleanup(now)
				nextCleanup = now.Add(r.cfg.CleanupPeriod)
			}
		}
	}
}

func (r *Reporter) render(now time.Time) {
	snaps := r.table.Snapshot()
	top := flow.TopN(snaps, r.cfg.TopN, now)

	fmt.Fprint(r.out, clearScreen)
	fmt.Fprintf(r.out, "netpulse — tracked flows: %d   %s\n\n", len(snaps), now.Format(time.TimeOnly))
	fmt.Fprintf(r.out, "%-17s %6s %-17s %6s %12s %10s %12s %10s\n",
		"SOURCE-IP", "SPORT", "DEST-IP", "DPORT", "SPEED", "AVG SZ", "PAYLOAD", "PACKETS")

	for _, s := range top {
		fmt.Fprintf(r.out, "%-17s %6d %-17s %6d %12s %10.1f %12s %10d\n",
			ipString(s.Key.SrcIP), s.Key.SrcPort,
			ipString(s.Key.DstIP), s.Key.DstPort,
			formatSpeed(s.AverageSpeed(now)),
			s.AveragePacketSize(),
			formatBytes(s.PayloadBytes),
			s.PacketCount)
	}
}

func (r *Reporter) cleanup(now time.Time) {
	if r.cfg.IdleTimeout <= 0 {
		return
	}
	removed := r.table.EvictOlderThan(now.Add(-r.cfg.IdleTimeout))
	if removed > 0 {
		r.log.Message("evicted %d idle flows", removed)
	}
}

func ipString(ip [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

// formatBytes scales a raw byte count into B/KB/MB/GB with one decimal of
// precision above the base unit.
func formatBytes(n uint64) string {
	const unit = 1024.0
	f := float64(n)
	switch {
	case f < unit:
		return fmt.Sprintf("%dB", n)
	case f < unit*unit:
		return fmt.Sprintf("%.1fKB", f/unit)
	case f < unit*unit*unit:
		return fmt.Sprintf("%.1fMB", f/(unit*unit))
	default:
		return fmt.Sprintf("%.1fGB", f/(unit*unit*unit))
	}
}

// formatSpeed scales a bytes-per-second rate the same way formatBytes
// does, appending "/s".
func formatSpeed(bytesPerSec float64) string {
	const unit = 1024.0
	switch {
	case bytesPerSec < unit:
		return fmt.Sprintf("%.0fB/s", bytesPerSec)
	case bytesPerSec < unit*unit:
		return fmt.Sprintf("%.1fKB/s", bytesPerSec/unit)
	case bytesPerSec < unit*unit*unit:
		return fmt.Sprintf("%.1fMB/s", bytesPerSec/(unit*unit))
	default:
		return fmt.Sprintf("%.1fGB/s", bytesPerSec/(unit*unit*unit))
	}
}
