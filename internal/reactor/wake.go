package reactor

import "golang.org/x/sys/unix"

// WakeFd is a non-blocking eventfd registered with a Reactor under
// Readable so a signal-handling goroutine can deterministically break a
// blocked Wait, instead of relying on EINTR delivery semantics that Go's
// runtime does not guarantee for syscalls made outside cgo.
type WakeFd struct {
	fd int
}

// NewWakeFd creates a fresh non-blocking eventfd.
func NewWakeFd() (*WakeFd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &WakeFd{fd: fd}, nil
}

// Fd returns the underlying descriptor, for Watch/Unwatch.
func (w *WakeFd) Fd() int { return w.fd }

// Wake unblocks any goroutine parked in Reactor.Wait on this descriptor.
func (w *WakeFd) Wake() {
	buf := [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, _ = unix.Write(w.fd, buf[:])
}

// Drain consumes the pending wake value so level-triggered readiness
// clears until the next Wake.
func (w *WakeFd) Drain() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

// Close releases the eventfd. Call after Unwatch.
func (w *WakeFd) Close() error {
	return unix.Close(w.fd)
}
