package flow

import (
	"testing"
	"time"

	"netpulse/internal/packet"
)

func tuple(srcIP, dstIP [4]byte, srcPort, dstPort uint16) packet.Tuple {
	return packet.Tuple{SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort}
}

func TestKeyFromTupleIsDirectional(t *testing.T) {
	a := tuple([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 1000, 2000)
	b := tuple([4]byte{5, 6, 7, 8}, [4]byte{1, 2, 3, 4}, 2000, 1000)
	if KeyFromTuple(a) == KeyFromTuple(b) {
		t.Fatalf("expected opposite directions of one connection to key separately")
	}
	if got := KeyFromTuple(a); got.SrcIP != a.SrcIP || got.DstIP != a.DstIP || got.SrcPort != a.SrcPort || got.DstPort != a.DstPort {
		t.Fatalf("KeyFromTuple reordered the tuple: got %+v", got)
	}
}

func TestUpdateAccumulatesCounters(t *testing.T) {
	table := New()
	k := KeyFromTuple(tuple([4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 10, 20))
	base := time.Unix(1000, 0)

	table.Update(k, 100, 100, base)
	table.Update(k, 150, 100, base.Add(time.Second))

	snaps := table.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 flow, got %d", len(snaps))
	}
	s := snaps[0]
	if s.PacketCount != 2 {
		t.Errorf("packet count = %d, want 2", s.PacketCount)
	}
	if s.TotalFrameBytes != 250 {
		t.Errorf("total frame bytes = %d, want 250", s.TotalFrameBytes)
	}
	if s.PayloadBytes != 200 {
		t.Errorf("payload bytes = %d, want 200", s.PayloadBytes)
	}
	if got := s.AveragePacketSize(); got != 125 {
		t.Errorf("average packet size = %v, want 125", got)
	}

	now := base.Add(time.Second)
	if got := s.AverageSpeed(now); got != 200 {
		t.Errorf("average speed = %v, want 200", got)
	}
}

func TestAverageSpeedClampsNonMonotonic(t *testing.T) {
	// now before FirstSeen can only happen from a clock adjustment
	// mid-capture; the derived rate must clamp to zero, not go negative.
	s := Snapshot{
		Key: Key{},
		Counters: Counters{
			PacketCount:  1,
			PayloadBytes: 64,
			FirstSeen:    time.Unix(2000, 0),
			LastSeen:     time.Unix(2000, 0),
		},
	}
	if got := s.AverageSpeed(time.Unix(1000, 0)); got != 0 {
		t.Errorf("average speed = %v, want 0", got)
	}
}

func TestAverageSpeedZeroForSingleObservation(t *testing.T) {
	now := time.Unix(5000, 0)
	s := Snapshot{Counters: Counters{PacketCount: 1, PayloadBytes: 64, FirstSeen: now, LastSeen: now}}
	if got := s.AverageSpeed(now); got != 0 {
		t.Errorf("average speed = %v, want 0", got)
	}
}

func TestEvictOlderThan(t *testing.T) {
	table := New()
	old := KeyFromTuple(tuple([4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 1, 2))
	fresh := KeyFromTuple(tuple([4]byte{3, 3, 3, 3}, [4]byte{4, 4, 4, 4}, 3, 4))

	table.Update(old, 10, 5, time.Unix(1000, 0))
	table.Update(fresh, 10, 5, time.Unix(2000, 0))

	removed := table.EvictOlderThan(time.Unix(1500, 0))
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if table.Len() != 1 {
		t.Fatalf("len after evict = %d, want 1", table.Len())
	}
}

func TestTopNOrdersByAverageSpeedDescending(t *testing.T) {
	table := New()
	start := time.Unix(1000, 0)
	now := start.Add(time.Second)
	slow := KeyFromTuple(tuple([4]byte{1, 0, 0, 1}, [4]byte{1, 0, 0, 2}, 1, 2))
	fast := KeyFromTuple(tuple([4]byte{2, 0, 0, 1}, [4]byte{2, 0, 0, 2}, 1, 2))
	table.Update(slow, 10, 5, start)
	table.Update(fast, 1000, 500, start)

	top := TopN(table.Snapshot(), 1, now)
	if len(top) != 1 {
		t.Fatalf("expected 1 result, got %d", len(top))
	}
	if top[0].Key != fast {
		t.Fatalf("expected the faster flow first")
	}
}

func TestTopNStableTieBreak(t *testing.T) {
	now := time.Unix(1000, 0)
	first := time.Unix(999, 0)
	a := KeyFromTuple(tuple([4]byte{1, 0, 0, 1}, [4]byte{9, 0, 0, 9}, 1, 2))
	b := KeyFromTuple(tuple([4]byte{2, 0, 0, 1}, [4]byte{9, 0, 0, 9}, 1, 2))
	snaps := []Snapshot{
		{Key: b, Counters: Counters{PayloadBytes: 100, FirstSeen: first}},
		{Key: a, Counters: Counters{PayloadBytes: 100, FirstSeen: first}},
	}
	top := TopN(snaps, 2, now)
	if top[0].Key != a {
		t.Fatalf("expected tie broken by key ordering, got %+v first", top[0].Key)
	}
}

func TestTopNDirectionalityKeepsReverseFlowsSeparate(t *testing.T) {
	table := New()
	start := time.Unix(1000, 0)
	now := start.Add(time.Second)
	aToB := KeyFromTuple(tuple([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 1000, 2000))
	bToA := KeyFromTuple(tuple([4]byte{5, 6, 7, 8}, [4]byte{1, 2, 3, 4}, 2000, 1000))
	table.Update(aToB, 100, 100, start)
	table.Update(bToA, 100, 100, start)

	top := TopN(table.Snapshot(), 10, now)
	if len(top) != 2 {
		t.Fatalf("expected the two directions tracked as separate flows, got %d", len(top))
	}
}
