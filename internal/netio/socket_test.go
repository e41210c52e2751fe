package netio

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestCreateListenerRejectsInvalidHost(t *testing.T) {
	_, err := CreateListener("not-an-ip", 0)
	if err == nil {
		t.Fatalf("expected an error for a non-IPv4 host")
	}
}

func TestListenAcceptSendRecv(t *testing.T) {
	listenerFd, err := CreateListener("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("CreateListener: %v", err)
	}
	defer Close(listenerFd)

	port, err := LocalPort(listenerFd)
	if err != nil {
		t.Fatalf("LocalPort: %v", err)
	}

	clientFd, err := CreateOutbound("127.0.0.1", port)
	if err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}
	defer Close(clientFd)

	// Give the kernel a moment to complete the loopback handshake and
	// populate the accept queue; poll instead of sleeping blindly.
	var acceptedFd int
	for i := 0; i < 1000; i++ {
		fd, outcome, err := AcceptNext(listenerFd)
		if err != nil {
			t.Fatalf("AcceptNext: %v", err)
		}
		if outcome == OK {
			acceptedFd = fd
			break
		}
	}
	if acceptedFd == 0 {
		t.Fatalf("accept never completed")
	}
	defer Close(acceptedFd)

	if err := PeerError(clientFd); err != nil {
		t.Fatalf("PeerError: %v", err)
	}

	msg := []byte("hello")
	n, outcome, err := Send(clientFd, msg)
	if err != nil || outcome != OK || n != len(msg) {
		t.Fatalf("Send: n=%d outcome=%v err=%v", n, outcome, err)
	}

	buf := make([]byte, 64)
	var got []byte
	for i := 0; i < 1000; i++ {
		n, outcome, err := Recv(acceptedFd, buf)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if outcome == OK {
			got = buf[:n]
			break
		}
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestIsConnRefused(t *testing.T) {
	if !IsConnRefused(&SocketError{Err: unix.ECONNREFUSED}) {
		t.Errorf("expected ECONNREFUSED to be recognized")
	}
	if IsConnRefused(&SocketError{Err: unix.EPIPE}) {
		t.Errorf("expected EPIPE not to be recognized as refused")
	}
}
