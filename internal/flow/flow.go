// Package flow tracks per-connection traffic counters in a sharded
// concurrent table, the way the flow-aggregation engine this project
// descends from shards its KeyedAggregator by FNV-hashing the flow key.
package flow

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"netpulse/internal/packet"
)

const shardCount = 64

// Key identifies one directional flow: A→B and B→A are distinct flows,
// keyed separately and never canonicalised into an undirected pair.
type Key struct {
	SrcIP   [4]byte
	DstIP   [4]byte
	SrcPort uint16
	DstPort uint16
}

// KeyFromTuple carries a parsed packet's directional tuple straight into
// a flow Key with no reordering of source and destination.
func KeyFromTuple(t packet.Tuple) Key {
	return Key{SrcIP: t.SrcIP, DstIP: t.DstIP, SrcPort: t.SrcPort, DstPort: t.DstPort}
}

func ipLess(a, b [4]byte) bool {
	for i := 0; i < 4; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Counters holds the live, mutable state of one flow.
type Counters struct {
	PacketCount     uint64
	PayloadBytes    uint64
	TotalFrameBytes uint64
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Snapshot is an immutable, point-in-time copy of one flow's counters
// plus its key, safe to hold and render after the table has moved on.
type Snapshot struct {
	Key Key
	Counters
}

// AveragePacketSize is TotalFrameBytes / PacketCount, 0 if no packets.
func (s Snapshot) AveragePacketSize() float64 {
	if s.PacketCount == 0 {
		return 0
	}
	return float64(s.TotalFrameBytes) / float64(s.PacketCount)
}

// AverageSpeed is payload_bytes / ((now − first_seen)/1e6), i.e. payload
// bytes per second of wall-clock time since the flow was first observed.
// A non-monotonic or zero elapsed duration (clock adjustment, or a flow
// observed exactly once and evaluated at its own first-seen instant)
// clamps to zero rather than reporting Inf or a negative rate.
func (s Snapshot) AverageSpeed(now time.Time) float64 {
	elapsed := now.Sub(s.FirstSeen)
	if elapsed <= 0 {
		return 0
	}
	return float64(s.PayloadBytes) / elapsed.Seconds()
}

type shard struct {
	mu    sync.Mutex
	flows map[Key]*Counters
}

// Table is a sharded concurrent flow table. The zero value is not usable;
// construct with New.
type Table struct {
	shards [shardCount]*shard
}

// New builds an empty table with shardCount pre-allocated shards.
func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{flows: make(map[Key]*Counters)}
	}
	return t
}

func (t *Table) shardFor(k Key) *shard {
	h := fnv.New32a()
	var buf [12]byte
	copy(buf[0:4], k.SrcIP[:])
	buf[4] = byte(k.SrcPort >> 8)
	buf[5] = byte(k.SrcPort)
	copy(buf[6:10], k.DstIP[:])
	buf[10] = byte(k.DstPort >> 8)
	buf[11] = byte(k.DstPort)
	h.Write(buf[:])
	return t.shards[h.Sum32()%shardCount]
}

// Update records one observed packet against its flow, creating the flow
// on first sight.
func (t *Table) Update(k Key, frameBytes, payloadBytes int, observedAt time.Time) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.flows[k]
	if !ok {
		c = &Counters{FirstSeen: observedAt}
		s.flows[k] = c
	}
	c.PacketCount++
	c.PayloadBytes += uint64(payloadBytes)
	c.TotalFrameBytes += uint64(frameBytes)
	c.LastSeen = observedAt
}

// Snapshot returns an immutable copy of every flow currently tracked.
// Order is unspecified; callers that need a ranking sort it themselves.
func (t *Table) Snapshot() []Snapshot {
	var out []Snapshot
	for _, s := range t.shards {
		s.mu.Lock()
		for k, c := range s.flows {
			out = append(out, Snapshot{Key: k, Counters: *c})
		}
		s.mu.Unlock()
	}
	return out
}

// EvictOlderThan removes every flow whose LastSeen is older than cutoff
// and returns how many were removed. Intended for the reporter's gated
// cleanup sweep, not for every render tick.
func (t *Table) EvictOlderThan(cutoff time.Time) int {
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for k, c := range s.flows {
			if c.LastSeen.Before(cutoff) {
				delete(s.flows, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the total number of flows currently tracked across all
// shards.
func (t *Table) Len() int {
	total := 0
	for _, s := range t.shards {
		s.mu.Lock()
		total += len(s.flows)
		s.mu.Unlock()
	}
	return total
}

// TopN returns the n flows with the highest average_speed as of now, ties
// broken by Key so the ranking is stable across ticks with identical
// speeds.
func TopN(snaps []Snapshot, n int, now time.Time) []Snapshot {
	sorted := make([]Snapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool {
		si, sj := sorted[i].AverageSpeed(now), sorted[j].AverageSpeed(now)
		if si != sj {
			return si > sj
		}
		return keyLess(sorted[i].Key, sorted[j].Key)
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

func keyLess(a, b Key) bool {
	if a.SrcIP != b.SrcIP {
		return ipLess(a.SrcIP, b.SrcIP)
	}
	if a.DstIP != b.DstIP {
		return ipLess(a.DstIP, b.DstIP)
	}
	if a.SrcPort != b.SrcPort {
		return a.SrcPort < b.SrcPort
	}
	return a.DstPort < b.DstPort
}
