// Package genclient implements gen-app's client role: hold a fixed number
// of concurrent outbound TCP connections, each sending a pseudo-random
// zero-filled payload before being recycled into a fresh connection so the
// steady-state connection count never drifts.
package genclient

import (
	"errors"
	"fmt"

	"netpulse/internal/logging"
	"netpulse/internal/netio"
	"netpulse/internal/randmt"
	"netpulse/internal/reactor"
)

// ErrServerUnavailable is returned when the server refuses a connection
// before any connection in the pool has ever completed a successful
// connect — a pool-wide, startup-class failure (§7 class 6).
var ErrServerUnavailable = errors.New("genclient: server unavailable")

const maxChunk = 1024

// staticZeroChunk is the constant filler payload every connection sends;
// never mutated.
var staticZeroChunk [maxChunk]byte

// Config are the trivial, externally-supplied parameters of a client pool.
type Config struct {
	Host               string
	Port               uint16
	Connections        int
	Seed               uint32
	MaxTotalFailures   int // default 10
	MaxPerSlotFailures int // default 3
}

type connState int

const (
	connecting connState = iota
	sending
)

type connection struct {
	fd         int
	slot       int
	state      connState
	totalBytes int
	bytesSent  int
}

// Pool owns every outbound connection, the reactor driving them, and the
// single PRNG they draw payload sizes from.
type Pool struct {
	cfg   Config
	log   *logging.Logger
	react *reactor.Reactor
	wake  *reactor.WakeFd
	rng   *randmt.Source

	conns         map[int]*connection
	slotFailures  []int
	totalFailures int
	everConnected bool
	recycles      int
}

// New validates cfg, creates the reactor, and opens the initial
// Connections outbound connections. Per §7 class 6, a connection refused
// before any connection has ever succeeded is fatal: when connect reports
// the refusal immediately, New returns ErrServerUnavailable with nothing
// left allocated; when the refusal is only reported once the connect
// completes, Run returns ErrServerUnavailable instead.
func New(cfg Config, log *logging.Logger) (*Pool, error) {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Connections <= 0 {
		return nil, fmt.Errorf("genclient: connections must be > 0")
	}
	if cfg.MaxTotalFailures <= 0 {
		cfg.MaxTotalFailures = 10
	}
	if cfg.MaxPerSlotFailures <= 0 {
		cfg.MaxPerSlotFailures = 3
	}

	defer log.Trace("genclient.New")()

	react, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("genclient: %w", err)
	}
	wake, err := reactor.NewWakeFd()
	if err != nil {
		react.Close()
		return nil, fmt.Errorf("genclient: %w", err)
	}
	if err := react.Watch(wake.Fd(), reactor.Readable); err != nil {
		wake.Close()
		react.Close()
		return nil, fmt.Errorf("genclient: %w", err)
	}

	p := &Pool{
		cfg:          cfg,
		log:          log,
		react:        react,
		wake:         wake,
		rng:          randmt.New(cfg.Seed),
		conns:        make(map[int]*connection),
		slotFailures: make([]int, cfg.Connections),
	}

	for i := 0; i < cfg.Connections; i++ {
		if err := p.startConnection(i); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// ActiveConnections returns the number of currently open outbound
// connections, for tests and operational visibility.
func (p *Pool) ActiveConnections() int {
	return len(p.conns)
}

// Recycles returns how many connections have been closed and replaced,
// whether after completing their payload or after an error or hangup, for
// tests verifying steady-state churn.
func (p *Pool) Recycles() int {
	return p.recycles
}

// Stop wakes a blocked Run so it observes shutdown on its next iteration.
func (p *Pool) Stop() {
	p.wake.Wake()
}

// startConnection creates one outbound connection filling slot, registers
// it for writable/error readiness, and draws its payload size from the
// pool's PRNG. It fails closed on registration failure.
func (p *Pool) startConnection(slot int) error {
	fd, err := netio.CreateOutbound(p.cfg.Host, p.cfg.Port)
	if err != nil {
		if netio.IsConnRefused(err) && !p.everConnected {
			return fmt.Errorf("%w: %s:%d", ErrServerUnavailable, p.cfg.Host, p.cfg.Port)
		}
		return p.recordFailureAndMaybeFail(err)
	}

	if err := p.react.Watch(fd, reactor.Writable|reactor.Error|reactor.PeerHangup|reactor.RemoteReadHangup); err != nil {
		netio.Close(fd)
		return fmt.Errorf("genclient: watch fd=%d: %w", fd, err)
	}

	conn := &connection{
		fd:         fd,
		slot:       slot,
		state:      connecting,
		totalBytes: p.rng.IntRange(32, 1024),
	}
	p.conns[fd] = conn
	p.log.Message("connection started fd=%d slot=%d total_bytes=%d", fd, slot, conn.totalBytes)
	return nil
}

// recordFailureAndMaybeFail is used when startConnection fails for a
// reason other than an unrecoverable startup refusal: it still counts
// against the pool-wide failure budget (class 6).
func (p *Pool) recordFailureAndMaybeFail(cause error) error {
	p.totalFailures++
	if p.totalFailures >= p.cfg.MaxTotalFailures {
		return fmt.Errorf("genclient: failure budget exceeded: %w", cause)
	}
	return fmt.Errorf("genclient: failed to start connection: %w", cause)
}

// Run drives the connect/send/recycle loop until stop is closed, Stop is
// called, the failure budget is exceeded, or a fatal reactor failure occurs.
func (p *Pool) Run(stop <-chan struct{}) error {
	defer p.log.Trace("genclient.Run")()

	events := make([]reactor.Event, reactor.MaxEvents)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := p.react.Wait(events, -1)
		if err != nil {
			if err == reactor.ErrInterrupted {
				continue
			}
			return fmt.Errorf("genclient: %w", err)
		}

		select {
		case <-stop:
			return nil
		default:
		}

		stopping := false
		for i := 0; i < n; i++ {
			ev := events[i]
			if ev.Fd == p.wake.Fd() {
				p.wake.Drain()
				stopping = true
				continue
			}
			if err := p.handleConnectionEvent(ev); err != nil {
				return err
			}
		}
		if stopping {
			return nil
		}
	}
}

func (p *Pool) handleConnectionEvent(ev reactor.Event) error {
	conn, ok := p.conns[ev.Fd]
	if !ok {
		return nil
	}

	if conn.state == connecting {
		if err := netio.PeerError(conn.fd); err != nil {
			if netio.IsConnRefused(err) && !p.everConnected {
				p.closeConnNoRestart(conn.fd)
				return fmt.Errorf("%w: %s:%d", ErrServerUnavailable, p.cfg.Host, p.cfg.Port)
			}
			return p.restartConnection(ev.Fd)
		}
	}

	if ev.Interests&(reactor.Error|reactor.PeerHangup|reactor.RemoteReadHangup) != 0 {
		p.log.Message("connection error/close fd=%d", ev.Fd)
		return p.restartConnection(ev.Fd)
	}

	if conn.state == connecting {
		conn.state = sending
		p.everConnected = true
		p.log.Message("connection established fd=%d", ev.Fd)
	}

	if ev.Interests&reactor.Writable == 0 {
		return nil
	}
	if conn.state != sending {
		return nil
	}

	for conn.bytesSent < conn.totalBytes {
		remaining := conn.totalBytes - conn.bytesSent
		chunk := remaining
		if chunk > maxChunk {
			chunk = maxChunk
		}
		n, outcome, err := netio.Send(conn.fd, staticZeroChunk[:chunk])
		switch outcome {
		case netio.OK:
			conn.bytesSent += n
		case netio.WouldBlock:
			return nil
		case netio.Broken:
			p.log.Message("connection broken during send fd=%d", conn.fd)
			return p.restartConnection(conn.fd)
		default:
			if err != nil {
				p.log.Message("send failed fd=%d: %v", conn.fd, err)
			}
			return p.restartConnection(conn.fd)
		}
	}

	if conn.bytesSent >= conn.totalBytes {
		p.log.Message("payload complete fd=%d bytes=%d", conn.fd, conn.bytesSent)
		return p.restartConnection(conn.fd)
	}
	return nil
}

// restartConnection closes fd and keeps retrying to fill its slot until a
// replacement connects or one of the failure budgets trips. The per-slot
// counter lives on the pool, indexed by slot number, not on the ephemeral
// connection struct that closeConnNoRestart discards — a slot's failure
// history survives the struct being recreated, and a slot that keeps
// failing to connect keeps being retried rather than going silently dead
// (see §9's resolved open question).
func (p *Pool) restartConnection(fd int) error {
	conn, ok := p.conns[fd]
	if !ok {
		return nil
	}
	slot := conn.slot

	p.closeConnNoRestart(fd)
	p.recycles++

	for {
		err := p.startConnection(slot)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrServerUnavailable) {
			return err
		}
		p.slotFailures[slot]++
		if p.totalFailures >= p.cfg.MaxTotalFailures || p.slotFailures[slot] >= p.cfg.MaxPerSlotFailures {
			return fmt.Errorf("genclient: failure budget exceeded: %w", err)
		}
		p.log.Message("failed to recreate connection slot=%d: %v", slot, err)
	}
}

func (p *Pool) closeConnNoRestart(fd int) {
	if _, ok := p.conns[fd]; !ok {
		return
	}
	p.react.Unwatch(fd)
	netio.Close(fd)
	delete(p.conns, fd)
	p.log.Message("closed connection fd=%d", fd)
}

// Close tears every connection down and releases the reactor. Safe to call
// after a failed New (closes whatever was already opened).
func (p *Pool) Close() error {
	defer p.log.Trace("genclient.Close")()

	for fd := range p.conns {
		p.react.Unwatch(fd)
		netio.Close(fd)
	}
	p.conns = make(map[int]*connection)

	p.react.Unwatch(p.wake.Fd())
	p.wake.Close()

	return p.react.Close()
}
