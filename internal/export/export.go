// Package export batch-inserts flow snapshots into ClickHouse, one batch
// per WriteSnapshot call, grounded on the flow-aggregation engine's ClickHouseWriter
// — same connect/create-table/PrepareBatch/Send shape, a different table
// and a simpler flat schema since there is only one flow kind here.
package export

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"netpulse/internal/flow"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_snapshots (
	BatchTime       DateTime,
	SrcIP           String,
	DstIP           String,
	SrcPort         UInt16,
	DstPort         UInt16,
	PayloadBytes    UInt64,
	PacketCount     UInt64,
	TotalFrameBytes UInt64,
	AverageSpeed    Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(BatchTime)
ORDER BY (BatchTime, SrcIP, DstIP);
`

// Config are the connection parameters for the ClickHouse exporter.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// Exporter owns a ClickHouse connection and writes one batch per call to
// WriteSnapshot. Failures are returned to the caller, which logs them and
// does not treat them as fatal — exporting is a best-effort sink (§7 class 8).
type Exporter struct {
	conn driver.Conn
}

// Connect opens a ClickHouse connection and ensures the flow_snapshots
// table exists.
func Connect(cfg Config) (*Exporter, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("export: open: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("export: ping: %w", err)
	}
	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("export: create table: %w", err)
	}
	log.Println("export: connected to clickhouse and ensured flow_snapshots exists")
	return &Exporter{conn: conn}, nil
}

// WriteSnapshot batch-inserts every flow in snaps under a single
// batch_time. An empty snaps is a no-op, not an error.
func (e *Exporter) WriteSnapshot(snaps []flow.Snapshot, batchTime time.Time) error {
	if len(snaps) == 0 {
		return nil
	}

	batch, err := e.conn.PrepareBatch(context.Background(), "INSERT INTO flow_snapshots")
	if err != nil {
		return fmt.Errorf("export: prepare batch: %w", err)
	}

	for _, s := range snaps {
		err = batch.Append(
			batchTime,
			ipString(s.Key.SrcIP),
			ipString(s.Key.DstIP),
			s.Key.SrcPort,
			s.Key.DstPort,
			s.PayloadBytes,
			s.PacketCount,
			s.TotalFrameBytes,
			s.AverageSpeed(batchTime),
		)
		if err != nil {
			return fmt.Errorf("export: append flow: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("export: send batch: %w", err)
	}
	log.Printf("export: wrote %d flow snapshots", len(snaps))
	return nil
}

// Close releases the ClickHouse connection.
func (e *Exporter) Close() error {
	return e.conn.Close()
}

func ipString(ip [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}
