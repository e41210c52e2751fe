// Package genserver implements gen-app's server role: accept everything on
// a listening socket and silently drain whatever bytes each client sends.
package genserver

import (
	"fmt"

	"netpulse/internal/cliutil"
	"netpulse/internal/logging"
	"netpulse/internal/netio"
	"netpulse/internal/reactor"
)

const scratchSize = 4096

// Server owns the listener, the reactor driving it, and the set of
// currently-open accepted connections. Every connection it accepts carries
// no payload state: the server is a pure sink.
type Server struct {
	addr       cliutil.Addr
	log        *logging.Logger
	react      *reactor.Reactor
	listenerFd int
	wake       *reactor.WakeFd
	clients    map[int]struct{}
	scratch    [scratchSize]byte
}

// New creates the reactor, binds and listens on addr, and registers the
// listener for acceptance. It fails closed: if registration fails after
// the listener is created, the listener fd is closed before returning.
func New(addr cliutil.Addr, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Noop()
	}
	defer log.Trace("genserver.New")()

	react, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("genserver: %w", err)
	}

	listenerFd, err := netio.CreateListener(addr.Host, addr.Port)
	if err != nil {
		react.Close()
		return nil, fmt.Errorf("genserver: %w", err)
	}

	if err := react.Watch(listenerFd, reactor.Readable); err != nil {
		netio.Close(listenerFd)
		react.Close()
		return nil, fmt.Errorf("genserver: %w", err)
	}

	wake, err := reactor.NewWakeFd()
	if err != nil {
		react.Unwatch(listenerFd)
		netio.Close(listenerFd)
		react.Close()
		return nil, fmt.Errorf("genserver: %w", err)
	}
	if err := react.Watch(wake.Fd(), reactor.Readable); err != nil {
		wake.Close()
		react.Unwatch(listenerFd)
		netio.Close(listenerFd)
		react.Close()
		return nil, fmt.Errorf("genserver: %w", err)
	}

	return &Server{
		addr:       addr,
		log:        log,
		react:      react,
		listenerFd: listenerFd,
		wake:       wake,
		clients:    make(map[int]struct{}),
	}, nil
}

// NewOnEphemeralPort binds to 127.0.0.1 on a kernel-assigned port, for
// tests that need a live server without racing over a fixed port number.
func NewOnEphemeralPort(log *logging.Logger) (*Server, error) {
	return New(cliutil.Addr{Host: "127.0.0.1", Port: 0}, log)
}

// Port returns the port the listener is actually bound to, resolving the
// kernel-assigned value when New was called with port 0.
func (s *Server) Port() uint16 {
	port, err := netio.LocalPort(s.listenerFd)
	if err != nil {
		return s.addr.Port
	}
	return port
}

// ActiveConnections returns the number of currently open accepted
// connections, for tests and operational visibility.
func (s *Server) ActiveConnections() int {
	return len(s.clients)
}

// Stop wakes a blocked Run so it can observe shutdown on its next
// iteration. Safe to call from a different goroutine (e.g. a signal
// handler).
func (s *Server) Stop() {
	s.wake.Wake()
}

// Run drives the accept/drain loop until stop is closed, Stop is called, or
// a fatal reactor failure occurs.
func (s *Server) Run(stop <-chan struct{}) error {
	defer s.log.Trace("genserver.Run")()

	events := make([]reactor.Event, reactor.MaxEvents)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := s.react.Wait(events, -1)
		if err != nil {
			if err == reactor.ErrInterrupted {
				continue
			}
			return fmt.Errorf("genserver: %w", err)
		}

		select {
		case <-stop:
			return nil
		default:
		}

		stopping := false
		for i := 0; i < n; i++ {
			ev := events[i]
			switch {
			case ev.Fd == s.wake.Fd():
				s.wake.Drain()
				stopping = true
			case ev.Fd == s.listenerFd:
				s.drainAccepts()
			default:
				s.handleClientEvent(ev)
			}
		}
		if stopping {
			return nil
		}
	}
}

// drainAccepts accepts every pending connection in one pass so work is not
// lost when several clients arrive between two Wait calls.
func (s *Server) drainAccepts() {
	for {
		fd, outcome, err := netio.AcceptNext(s.listenerFd)
		if outcome == netio.WouldBlock {
			return
		}
		if err != nil {
			s.log.Message("accept failed: %v", err)
			return
		}
		if watchErr := s.react.Watch(fd, reactor.Readable|reactor.RemoteReadHangup); watchErr != nil {
			s.log.Message("failed to watch accepted fd=%d: %v", fd, watchErr)
			netio.Close(fd)
			continue
		}
		s.clients[fd] = struct{}{}
		s.log.Message("accepted connection fd=%d", fd)
	}
}

// handleClientEvent drains one client's socket buffer, discarding every
// byte, and closes the connection on any terminal condition.
func (s *Server) handleClientEvent(ev reactor.Event) {
	fd := ev.Fd
	if _, ok := s.clients[fd]; !ok {
		return
	}

	if ev.Interests&(reactor.Error|reactor.PeerHangup|reactor.RemoteReadHangup) != 0 {
		// A hangup/error can still have buffered data; drain before closing.
		s.drainClient(fd)
		s.closeClient(fd)
		return
	}

	if ev.Interests&reactor.Readable != 0 {
		if terminal := s.drainClient(fd); terminal {
			s.closeClient(fd)
		}
	}
}

// drainClient reads until would_block or a terminal condition, discarding
// bytes. It returns true when the connection should be closed.
func (s *Server) drainClient(fd int) bool {
	for {
		n, outcome, err := netio.Recv(fd, s.scratch[:])
		switch outcome {
		case netio.OK:
			_ = n // discarded
			continue
		case netio.WouldBlock:
			return false
		case netio.EOF:
			return true
		case netio.Broken:
			return true
		default:
			if err != nil {
				s.log.Message("recv failed fd=%d: %v", fd, err)
			}
			return true
		}
	}
}

func (s *Server) closeClient(fd int) {
	if err := s.react.Unwatch(fd); err != nil {
		s.log.Message("unwatch failed fd=%d: %v", fd, err)
	}
	netio.Close(fd)
	delete(s.clients, fd)
	s.log.Message("closed connection fd=%d", fd)
}

// Close shuts the server down: every watched client descriptor is
// unwatched and closed, then the listener, then the reactor itself.
func (s *Server) Close() error {
	defer s.log.Trace("genserver.Close")()

	for fd := range s.clients {
		s.react.Unwatch(fd)
		netio.Close(fd)
		delete(s.clients, fd)
	}

	s.react.Unwatch(s.wake.Fd())
	s.wake.Close()

	if err := s.react.Unwatch(s.listenerFd); err != nil {
		s.log.Message("unwatch listener failed: %v", err)
	}
	netio.Close(s.listenerFd)

	return s.react.Close()
}
