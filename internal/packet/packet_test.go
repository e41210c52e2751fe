package packet

import "testing"

// buildFrame assembles a minimal Ethernet II / IPv4 / TCP frame with no IP
// options and no TCP options, appending payload after the TCP header.
func buildFrame(srcIP, dstIP [4]byte, srcPort, dstPort uint16, payload []byte) []byte {
	eth := make([]byte, ethHeaderLen)
	eth[12] = 0x08
	eth[13] = 0x00 // EtherType IPv4

	ihl := 20
	tcpHeaderLen := 20
	totalLen := ihl + tcpHeaderLen + len(payload)

	ip := make([]byte, ihl)
	ip[0] = 0x45 // version 4, IHL 5
	ip[2] = byte(totalLen >> 8)
	ip[3] = byte(totalLen)
	ip[9] = protoTCP
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], dstIP[:])

	tcp := make([]byte, tcpHeaderLen)
	tcp[0] = byte(srcPort >> 8)
	tcp[1] = byte(srcPort)
	tcp[2] = byte(dstPort >> 8)
	tcp[3] = byte(dstPort)
	tcp[12] = 5 << 4 // data offset 5 words, no options

	frame := append(eth, ip...)
	frame = append(frame, tcp...)
	frame = append(frame, payload...)
	return frame
}

func TestParseValidFrame(t *testing.T) {
	// Scenario: 60-byte frame, src 1.2.3.4:4660 -> dst 5.6.7.8:22136, 6
	// bytes of payload.
	payload := []byte{1, 2, 3, 4, 5, 6}
	frame := buildFrame([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 4660, 22136, payload)

	if len(frame) != 60 {
		t.Fatalf("fixture frame length = %d, want 60", len(frame))
	}

	parsed, reject := Parse(frame)
	if reject != RejectNone {
		t.Fatalf("unexpected rejection: %v", reject)
	}
	if parsed.Tuple.SrcIP != [4]byte{1, 2, 3, 4} {
		t.Errorf("src ip = %v", parsed.Tuple.SrcIP)
	}
	if parsed.Tuple.DstIP != [4]byte{5, 6, 7, 8} {
		t.Errorf("dst ip = %v", parsed.Tuple.DstIP)
	}
	if parsed.Tuple.SrcPort != 4660 {
		t.Errorf("src port = %d, want 4660", parsed.Tuple.SrcPort)
	}
	if parsed.Tuple.DstPort != 22136 {
		t.Errorf("dst port = %d, want 22136", parsed.Tuple.DstPort)
	}
	if parsed.FrameBytes != 60 {
		t.Errorf("frame bytes = %d, want 60", parsed.FrameBytes)
	}
	if len(parsed.Payload) != 6 {
		t.Fatalf("payload len = %d, want 6", len(parsed.Payload))
	}
	for i, b := range payload {
		if parsed.Payload[i] != b {
			t.Errorf("payload[%d] = %d, want %d", i, parsed.Payload[i], b)
		}
	}
}

func TestParseRejectsTooShortForEthernet(t *testing.T) {
	_, reject := Parse(make([]byte, 10))
	if reject != RejectTooShortForEthernet {
		t.Fatalf("reject = %v, want RejectTooShortForEthernet", reject)
	}
}

func TestParseRejectsNonIPv4EtherType(t *testing.T) {
	frame := buildFrame([4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 1, 2, nil)
	frame[12], frame[13] = 0x86, 0xdd // IPv6 EtherType
	_, reject := Parse(frame)
	if reject != RejectNotIPv4 {
		t.Fatalf("reject = %v, want RejectNotIPv4", reject)
	}
}

func TestParseRejectsBadIPVersion(t *testing.T) {
	frame := buildFrame([4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 1, 2, nil)
	frame[ethHeaderLen] = 0x55 // version 5
	_, reject := Parse(frame)
	if reject != RejectBadIPVersion {
		t.Fatalf("reject = %v, want RejectBadIPVersion", reject)
	}
}

func TestParseRejectsNonTCPProtocol(t *testing.T) {
	frame := buildFrame([4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 1, 2, nil)
	frame[ethHeaderLen+9] = 17 // UDP
	_, reject := Parse(frame)
	if reject != RejectNotTCP {
		t.Fatalf("reject = %v, want RejectNotTCP", reject)
	}
}

func TestParseRejectsTruncatedTCPHeader(t *testing.T) {
	frame := buildFrame([4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 1, 2, nil)
	frame = frame[:ethHeaderLen+20+10] // chop into the middle of the TCP header
	_, reject := Parse(frame)
	if reject != RejectTooShortForTCPHeader {
		t.Fatalf("reject = %v, want RejectTooShortForTCPHeader", reject)
	}
}

func TestParseNoPayload(t *testing.T) {
	frame := buildFrame([4]byte{9, 9, 9, 9}, [4]byte{8, 8, 8, 8}, 80, 443, nil)
	parsed, reject := Parse(frame)
	if reject != RejectNone {
		t.Fatalf("unexpected rejection: %v", reject)
	}
	if len(parsed.Payload) != 0 {
		t.Errorf("payload len = %d, want 0", len(parsed.Payload))
	}
}
