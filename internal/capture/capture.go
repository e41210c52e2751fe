// Package capture adapts a live network interface or a pcap file into a
// stream of raw frames the packet validator can parse, built on
// gopacket/pcap the way ns-probe opens its capture handle.
package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

const (
	snapshotLen int32 = 65535
	promiscuous       = true
	readTimeout       = time.Second
)

// Frame is one captured frame and the wall-clock time Next read it from
// the capture backend, independent of any NIC or pcap timestamp.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Source is the capture contract the sniffer's ingest loop depends on;
// Handle satisfies it against a live interface, and a pcap file opened
// offline satisfies the same shape for replay.
type Source interface {
	Next() (Frame, error)
	Break()
	Close()
	LastError() error
}

// Handle wraps a live pcap capture handle.
type Handle struct {
	handle  *pcap.Handle
	source  *gopacket.PacketSource
	lastErr error
}

// OpenLive opens iface for live, promiscuous capture with no BPF filter
// applied yet.
func OpenLive(iface string) (*Handle, error) {
	handle, err := pcap.OpenLive(iface, snapshotLen, promiscuous, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", iface, err)
	}
	return &Handle{
		handle: handle,
		source: gopacket.NewPacketSource(handle, handle.LinkType()),
	}, nil
}

// OpenOffline opens a recorded pcap file for replay, for offline analysis
// instead of a live interface.
func OpenOffline(path string) (*Handle, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	return &Handle{
		handle: handle,
		source: gopacket.NewPacketSource(handle, handle.LinkType()),
	}, nil
}

// SetFilter compiles and installs a BPF filter expression on the handle.
func (h *Handle) SetFilter(expr string) error {
	if expr == "" {
		return nil
	}
	return h.handle.SetBPFFilter(expr)
}

// Next blocks until the next frame arrives, the read timeout expires, the
// source is exhausted, or Break is called. A nil Frame.Data with a nil
// error means the read timeout expired with no frame ready; the end of an
// offline file, like any other read failure, is returned as an error.
func (h *Handle) Next() (Frame, error) {
	pkt, err := h.source.NextPacket()
	if err != nil {
		if err == pcap.NextErrorTimeoutExpired {
			return Frame{}, nil
		}
		h.lastErr = err
		return Frame{}, err
	}
	return Frame{Data: pkt.Data(), CapturedAt: time.Now()}, nil
}

// Break unblocks a pending Next by closing the pcap handle.
func (h *Handle) Break() {
	h.handle.Close()
}

// Close releases the capture handle.
func (h *Handle) Close() {
	h.handle.Close()
}

// LastError returns the most recent hard error Next returned, or nil.
func (h *Handle) LastError() error {
	return h.lastErr
}
