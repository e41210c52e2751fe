// Command sniffer captures live traffic on an interface, tracks per-flow
// counters, and renders a live top-N table — optionally publishing every
// flow update to NATS, exporting periodic snapshots to ClickHouse, and
// serving flow queries over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"netpulse/internal/api"
	"netpulse/internal/capture"
	"netpulse/internal/config"
	"netpulse/internal/export"
	"netpulse/internal/flow"
	"netpulse/internal/logging"
	"netpulse/internal/packet"
	"netpulse/internal/publish"
	"netpulse/internal/report"
)

func main() {
	iface := flag.String("interface", "", "network interface to capture from (required)")
	enableLog := flag.Bool("log", false, "write a call-indented trace log under ./logs")
	topN := flag.Int("top", 10, "number of flows to show in the live table")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "host:port of a ClickHouse server to export flow snapshots to")
	natsURL := flag.String("nats-url", "", "NATS server URL to publish flow-update events to")
	configPath := flag.String("config", "", "optional YAML file overriding the flags above")
	flag.Parse()

	ifaceVal := *iface
	logVal := *enableLog
	topNVal := *topN
	chDSN := *clickhouseDSN
	natsURLVal := *natsURL

	if *configPath != "" {
		cfg, err := config.LoadSniffer(*configPath)
		if err != nil {
			log.Fatalf("sniffer: %v", err)
		}
		if cfg.Interface != "" {
			ifaceVal = cfg.Interface
		}
		if cfg.Log {
			logVal = true
		}
		if cfg.TopN != 0 {
			topNVal = cfg.TopN
		}
		if cfg.ClickHouse.Enabled {
			chDSN = cfg.ClickHouse.DSN
		}
		if cfg.NATS.Enabled {
			natsURLVal = cfg.NATS.URL
		}
	}

	if ifaceVal == "" {
		log.Fatalf("sniffer: -interface is required")
	}

	logger := logging.Noop()
	if logVal {
		l, err := logging.New("sniffer")
		if err != nil {
			log.Fatalf("sniffer: %v", err)
		}
		defer l.Sync()
		logger = l
	}

	table := flow.New()

	var pub *publish.Publisher
	if natsURLVal != "" {
		p, err := publish.Connect(natsURLVal, "netpulse.flows.updates")
		if err != nil {
			log.Printf("sniffer: nats disabled: %v", err)
		} else {
			pub = p
			defer pub.Close()
		}
	}

	var exporter *export.Exporter
	if chDSN != "" {
		host, port := splitHostPort(chDSN)
		e, err := export.Connect(export.Config{Host: host, Port: port, Database: "default"})
		if err != nil {
			log.Printf("sniffer: clickhouse export disabled: %v", err)
		} else {
			exporter = e
			defer exporter.Close()

			apiCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				if err := api.Serve(apiCtx, "127.0.0.1:8080", table); err != nil {
					log.Printf("sniffer: api server: %v", err)
				}
			}()
			go runSnapshotExport(apiCtx, table, exporter)
		}
	}

	src, err := capture.OpenLive(ifaceVal)
	if err != nil {
		log.Fatalf("sniffer: %v", err)
	}
	defer src.Close()

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("sniffer: shutdown signal received")
		close(stop)
		src.Break()
	}()

	reporter := report.New(report.Config{TopN: topNVal, IdleTimeout: 60 * time.Second}, table, os.Stdout, logger)
	go reporter.Run(stop)

	ingest(src, table, pub, logger, stop)
}

// ingest drains frames from src until it reports exhaustion or the
// caller requests shutdown, validating each frame and folding valid ones
// into the flow table.
func ingest(src capture.Source, table *flow.Table, pub *publish.Publisher, logger *logging.Logger, stop <-chan struct{}) {
	defer logger.Trace("sniffer.ingest")()

	rejects := uint64(0)
	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := src.Next()
		if err != nil {
			log.Printf("sniffer: capture error: %v", err)
			return
		}
		if frame.Data == nil {
			continue // read timeout, no frame ready
		}

		parsed, reject := packet.Parse(frame.Data)
		if reject != packet.RejectNone {
			rejects++
			continue
		}

		key := flowKeyFromParsed(parsed)
		table.Update(key, parsed.FrameBytes, len(parsed.Payload), frame.CapturedAt)
		if pub != nil {
			pub.Publish(key, parsed.FrameBytes, len(parsed.Payload), frame.CapturedAt)
		}
	}
}

func flowKeyFromParsed(p packet.Parsed) flow.Key {
	return flow.KeyFromTuple(p.Tuple)
}

func runSnapshotExport(ctx context.Context, table *flow.Table, exporter *export.Exporter) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := exporter.WriteSnapshot(table.Snapshot(), now); err != nil {
				log.Printf("sniffer: export failed: %v", err)
			}
		}
	}
}

func splitHostPort(dsn string) (string, int) {
	host := dsn
	port := 9000
	for i := len(dsn) - 1; i >= 0; i-- {
		if dsn[i] == ':' {
			host = dsn[:i]
			if p, err := strconv.Atoi(dsn[i+1:]); err == nil {
				port = p
			}
			break
		}
	}
	return host, port
}
