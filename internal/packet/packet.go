// Package packet validates raw captured Ethernet frames and extracts the
// directional IPv4/TCP 4-tuple the flow table keys on. It parses fixed
// byte offsets directly rather than going through a generic layer-decode
// pipeline: the only fields ever inspected are EtherType, IP version/IHL/
// total length/protocol/addresses, and TCP ports/data offset.
package packet

import "fmt"

const (
	ethHeaderLen  = 14
	etherTypeIPv4 = 0x0800

	ipv4MinHeaderLen = 20
	protoTCP         = 6

	tcpMinHeaderLen = 20
)

// Tuple identifies one directional flow by its IPv4 addresses and TCP
// ports. Two Tuples describing the same connection in opposite directions
// compare unequal, and internal/flow keys them as two separate flows.
type Tuple struct {
	SrcIP   [4]byte
	DstIP   [4]byte
	SrcPort uint16
	DstPort uint16
}

func (t Tuple) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d->%d.%d.%d.%d:%d",
		t.SrcIP[0], t.SrcIP[1], t.SrcIP[2], t.SrcIP[3], t.SrcPort,
		t.DstIP[0], t.DstIP[1], t.DstIP[2], t.DstIP[3], t.DstPort)
}

// Parsed is the result of successfully validating one frame.
type Parsed struct {
	Tuple      Tuple
	FrameBytes int // total captured length, for average frame size accounting
	Payload    []byte
}

// Reject enumerates why a frame was not a valid TCP/IPv4-over-Ethernet-II
// frame this system tracks. It is a plain value, not an error wrapping an
// OS failure, since rejection here is an expected, high-volume outcome
// (most traffic on a mirrored link is not of interest).
type Reject int

const (
	RejectNone Reject = iota
	RejectTooShortForEthernet
	RejectNotIPv4
	RejectTooShortForIPv4Header
	RejectBadIPVersion
	RejectBadIPHeaderLen
	RejectNotTCP
	RejectTooShortForTCPHeader
	RejectTruncated
)

func (r Reject) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectTooShortForEthernet:
		return "too_short_for_ethernet"
	case RejectNotIPv4:
		return "not_ipv4"
	case RejectTooShortForIPv4Header:
		return "too_short_for_ipv4_header"
	case RejectBadIPVersion:
		return "bad_ip_version"
	case RejectBadIPHeaderLen:
		return "bad_ip_header_len"
	case RejectNotTCP:
		return "not_tcp"
	case RejectTooShortForTCPHeader:
		return "too_short_for_tcp_header"
	case RejectTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// Parse validates buf as an Ethernet II frame carrying an IPv4/TCP
// segment and extracts its 4-tuple and payload. On rejection it returns
// the zero Parsed and a non-RejectNone reason; the caller is expected to
// simply count the rejection and move on, never surface it as an error.
func Parse(buf []byte) (Parsed, Reject) {
	if len(buf) < ethHeaderLen {
		return Parsed{}, RejectTooShortForEthernet
	}
	etherType := uint16(buf[12])<<8 | uint16(buf[13])
	if etherType != etherTypeIPv4 {
		return Parsed{}, RejectNotIPv4
	}

	ip := buf[ethHeaderLen:]
	if len(ip) < ipv4MinHeaderLen {
		return Parsed{}, RejectTooShortForIPv4Header
	}

	version := ip[0] >> 4
	if version != 4 {
		return Parsed{}, RejectBadIPVersion
	}

	ihl := int(ip[0]&0x0f) * 4
	if ihl < ipv4MinHeaderLen || len(ip) < ihl {
		return Parsed{}, RejectBadIPHeaderLen
	}

	protocol := ip[9]
	if protocol != protoTCP {
		return Parsed{}, RejectNotTCP
	}

	var srcIP, dstIP [4]byte
	copy(srcIP[:], ip[12:16])
	copy(dstIP[:], ip[16:20])

	totalLen := int(ip[2])<<8 | int(ip[3])
	tcp := ip[ihl:]
	if len(tcp) < tcpMinHeaderLen {
		return Parsed{}, RejectTooShortForTCPHeader
	}

	srcPort := uint16(tcp[0])<<8 | uint16(tcp[1])
	dstPort := uint16(tcp[2])<<8 | uint16(tcp[3])

	dataOffset := int(tcp[12]>>4) * 4
	if dataOffset < tcpMinHeaderLen || len(tcp) < dataOffset {
		return Parsed{}, RejectTruncated
	}

	// totalLen (from the IP header) bounds the IP payload independent of
	// any Ethernet frame padding appended below the minimum frame size.
	ipPayloadLen := totalLen - ihl
	if ipPayloadLen < 0 || ipPayloadLen > len(tcp) {
		ipPayloadLen = len(tcp)
	}
	if ipPayloadLen < dataOffset {
		return Parsed{}, RejectTruncated
	}
	payload := tcp[dataOffset:ipPayloadLen]
	if payload == nil {
		payload = []byte{}
	}

	return Parsed{
		Tuple: Tuple{
			SrcIP:   srcIP,
			DstIP:   dstIP,
			SrcPort: srcPort,
			DstPort: dstPort,
		},
		FrameBytes: len(buf),
		Payload:    payload,
	}, RejectNone
}
