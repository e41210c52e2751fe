// Package publish fans flow-update events out to NATS, the way
// ns-probe's Publisher pushes captured packets onto a subject — except
// JSON-encoded, since the protobuf message types that publisher depended
// on are not part of this system.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"netpulse/internal/flow"
)

// Event is one flow-update notification: a single packet observation
// attributed to a flow key.
type Event struct {
	SrcIP        [4]byte   `json:"src_ip"`
	SrcPort      uint16    `json:"src_port"`
	DstIP        [4]byte   `json:"dst_ip"`
	DstPort      uint16    `json:"dst_port"`
	FrameBytes   int       `json:"frame_bytes"`
	PayloadBytes int       `json:"payload_bytes"`
	ObservedAt   time.Time `json:"observed_at"`
}

func eventFromKey(k flow.Key, frameBytes, payloadBytes int, at time.Time) Event {
	return Event{
		SrcIP: k.SrcIP, SrcPort: k.SrcPort,
		DstIP: k.DstIP, DstPort: k.DstPort,
		FrameBytes: frameBytes, PayloadBytes: payloadBytes,
		ObservedAt: at,
	}
}

const queueDepth = 4096

// Publisher owns a NATS connection and a bounded queue of pending events.
// The capture path must never block on a slow or disconnected broker, so
// Publish drops the event and counts it instead of blocking when the
// queue is full.
type Publisher struct {
	nc      *nats.Conn
	subject string
	events  chan Event
	dropped uint64
	done    chan struct{}
}

// Connect dials a NATS server at url and starts the background sender
// goroutine publishing to subject.
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("publish: connect %s: %w", url, err)
	}
	p := &Publisher{
		nc:      nc,
		subject: subject,
		events:  make(chan Event, queueDepth),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Publish enqueues a flow-update event. It never blocks: if the queue is
// full the event is dropped and counted via Dropped.
func (p *Publisher) Publish(k flow.Key, frameBytes, payloadBytes int, at time.Time) {
	select {
	case p.events <- eventFromKey(k, frameBytes, payloadBytes, at):
	default:
		p.dropped++
	}
}

// Dropped returns how many events have been dropped for a full queue.
func (p *Publisher) Dropped() uint64 {
	return p.dropped
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.events {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("publish: marshal event: %v", err)
			continue
		}
		if err := p.nc.Publish(p.subject, data); err != nil {
			log.Printf("publish: nats publish: %v", err)
		}
	}
}

// Close drains the connection and stops the sender goroutine. Safe to
// call once after the capture path has stopped enqueuing.
func (p *Publisher) Close() {
	close(p.events)
	<-p.done
	if p.nc != nil {
		p.nc.Drain()
	}
}

// Subscriber hands received flow-update events to a callback, mirroring
// ns-probe's "sub" mode for operational debugging.
type Subscriber struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

// Subscribe connects to url and subscribes to subject, invoking handle
// for every decoded event.
func Subscribe(url, subject string, handle func(Event)) (*Subscriber, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("publish: connect %s: %w", url, err)
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("publish: unmarshal event: %v", err)
			return
		}
		handle(ev)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("publish: subscribe %s: %w", subject, err)
	}
	return &Subscriber{nc: nc, sub: sub}, nil
}

// Close unsubscribes and closes the underlying connection.
func (s *Subscriber) Close() {
	s.sub.Unsubscribe()
	s.nc.Close()
}
