package wire

import "net"

// HostID is the sender's IPv4 (4 bytes) or IPv6 (16 bytes) address,
// lifted from the UDP source address and also echoed in the packet for
// validation (spec.md section 3). It is a fixed-size, comparable value
// so it can be used directly as a map key throughout the audio plane.
type HostID struct {
	bytes [16]byte
	n     uint8 // 4 or 16
}

// HostIDFromIP builds a HostID from a net.IP, preferring the 4-byte
// form for IPv4-mapped addresses.
func HostIDFromIP(ip net.IP) HostID {
	var h HostID
	if v4 := ip.To4(); v4 != nil {
		copy(h.bytes[:4], v4)
		h.n = 4
		return h
	}
	v6 := ip.To16()
	copy(h.bytes[:16], v6)
	h.n = 16
	return h
}

// IP reconstructs the net.IP this HostID was built from.
func (h HostID) IP() net.IP {
	return net.IP(append([]byte(nil), h.bytes[:h.n]...))
}

// Len reports the encoded length (4 or 16).
func (h HostID) Len() uint8 { return h.n }

func (h HostID) String() string {
	if h.n == 0 {
		return "<zero-host>"
	}
	return h.IP().String()
}

// IsZero reports whether h was never assigned.
func (h HostID) IsZero() bool { return h.n == 0 }

func (h HostID) marshalInto(buf []byte) int {
	buf[0] = h.n
	copy(buf[1:1+h.n], h.bytes[:h.n])
	return 1 + int(h.n)
}

func unmarshalHostID(buf []byte) (HostID, int, error) {
	if len(buf) < 1 {
		return HostID{}, 0, ErrMalformed
	}
	n := buf[0]
	if n != 4 && n != 16 {
		return HostID{}, 0, ErrMalformed
	}
	if len(buf) < 1+int(n) {
		return HostID{}, 0, ErrMalformed
	}
	var h HostID
	h.n = n
	copy(h.bytes[:n], buf[1:1+n])
	return h, 1 + int(n), nil
}
