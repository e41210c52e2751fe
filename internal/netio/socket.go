// Package netio implements the non-blocking socket primitives the reactor
// drives: raw create/bind/listen/accept/connect/send/recv built directly on
// golang.org/x/sys/unix so every descriptor the reactor watches is one we
// fully own and can register without net.Conn getting in the way.
package netio

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Outcome classifies the result of a socket operation beyond a plain byte
// count, matching the discriminated-failure taxonomy of §4.2/§7.
type Outcome int

const (
	OK Outcome = iota
	WouldBlock
	EOF
	Broken // peer-side close mid-send: EPIPE or ECONNRESET
	Fail
)

// SocketError wraps an unexpected OS-level failure with its outcome class.
type SocketError struct {
	Op      string
	Outcome Outcome
	Err     error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("netio: %s: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// CreateListener creates a non-blocking, SO_REUSEADDR IPv4 TCP listener
// bound to host:port and listening with the platform's maximum backlog.
func CreateListener(host string, port uint16) (int, error) {
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return -1, &SocketError{Op: "create_listener", Outcome: Fail, Err: fmt.Errorf("address invalid: %q", host)}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, &SocketError{Op: "socket", Outcome: Fail, Err: err}
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, &SocketError{Op: "set_nonblock", Outcome: Fail, Err: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, &SocketError{Op: "setsockopt(SO_REUSEADDR)", Outcome: Fail, Err: err}
	}

	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], ip.To4())
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, &SocketError{Op: "bind", Outcome: Fail, Err: err}
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, &SocketError{Op: "listen", Outcome: Fail, Err: err}
	}
	return fd, nil
}

// AcceptNext performs a single non-blocking accept. It returns
// (-1, WouldBlock, nil) when the accept queue is currently empty.
func AcceptNext(listenerFd int) (int, Outcome, error) {
	fd, _, err := unix.Accept4(listenerFd, unix.SOCK_NONBLOCK)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return -1, WouldBlock, nil
		}
		return -1, Fail, &SocketError{Op: "accept4", Outcome: Fail, Err: err}
	}
	return fd, OK, nil
}

// CreateOutbound creates a non-blocking socket and issues a connect to
// host:port. A provisional "connect in progress" (EINPROGRESS) is not an
// error: the caller disambiguates later via PeerError once the reactor
// reports writable.
func CreateOutbound(host string, port uint16) (int, error) {
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return -1, &SocketError{Op: "create_outbound", Outcome: Fail, Err: fmt.Errorf("address invalid: %q", host)}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, &SocketError{Op: "socket", Outcome: Fail, Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, &SocketError{Op: "set_nonblock", Outcome: Fail, Err: err}
	}

	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], ip.To4())
	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return -1, &SocketError{Op: "connect", Outcome: Fail, Err: err}
	}
	return fd, nil
}

// PeerError returns the socket-level pending error (SO_ERROR), or nil if
// the connection is healthy. Used to disambiguate a connect-in-progress
// once the descriptor becomes writable.
func PeerError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

// IsConnRefused reports whether err is (or wraps) ECONNREFUSED.
func IsConnRefused(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED)
}

// Send writes bytes to fd. WouldBlock means the send buffer is full; Broken
// means the peer closed mid-send (EPIPE/ECONNRESET) and must not be logged
// as a hard failure.
func Send(fd int, buf []byte) (int, Outcome, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, WouldBlock, nil
		}
		if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
			return 0, Broken, nil
		}
		return 0, Fail, &SocketError{Op: "send", Outcome: Fail, Err: err}
	}
	return n, OK, nil
}

// Recv reads into buf from fd. EOF is n == 0 with no error.
func Recv(fd int, buf []byte) (int, Outcome, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, WouldBlock, nil
		}
		if errors.Is(err, unix.ECONNRESET) {
			return 0, Broken, nil
		}
		return 0, Fail, &SocketError{Op: "recv", Outcome: Fail, Err: err}
	}
	if n == 0 {
		return 0, EOF, nil
	}
	return n, OK, nil
}

// LocalPort returns the port a socket was actually bound to, useful when
// CreateListener was called with port 0 to pick an ephemeral one.
func LocalPort(fd int) (uint16, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("netio: unexpected sockaddr type %T", sa)
	}
	return uint16(sa4.Port), nil
}

// Close closes fd, ignoring EBADF (already closed).
func Close(fd int) error {
	err := unix.Close(fd)
	if errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}
