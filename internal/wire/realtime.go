package wire

// Kind distinguishes microphone capture from system/loopback audio
// within a single Realtime stream (spec.md section 4.2).
type Kind uint8

const (
	KindMic    Kind = 0
	KindSystem Kind = 1
)

// Realtime is tag 0: low-latency voice/system audio, Opus-encoded,
// sender to all. OpusBytes is a view into the decoded packet's
// original buffer (zero-copy) until the caller calls Retain.
type Realtime struct {
	Host     HostID
	Kind     Kind
	Sequence uint64
	OpusBytes []byte
}

// Retain copies OpusBytes so the frame can safely cross an SPSC
// boundary or outlive the dispatcher's reused receive buffer.
func (r *Realtime) Retain() {
	r.OpusBytes = append([]byte(nil), r.OpusBytes...)
}

// EncodeRealtime serializes a Realtime packet. Layout:
// tag(1) host(1+n) kind(1) sequence(8) opus_bytes(rest)
func EncodeRealtime(r Realtime) ([]byte, error) {
	size := 1 + 1 + int(r.Host.Len()) + 1 + 8 + len(r.OpusBytes)
	if err := checkSize(size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	buf[0] = byte(TagRealtime)
	off := 1
	off += r.Host.marshalInto(buf[off:])
	buf[off] = byte(r.Kind)
	off++
	off = putUint64(buf, off, r.Sequence)
	copy(buf[off:], r.OpusBytes)
	return buf, nil
}

// DecodeRealtime parses a Realtime packet. buf[0] must already be
// TagRealtime; callers typically dispatch on PeekTag first.
func DecodeRealtime(buf []byte) (Realtime, error) {
	if len(buf) < 1 || Tag(buf[0]) != TagRealtime {
		return Realtime{}, ErrMalformed
	}
	host, n, err := unmarshalHostID(buf[1:])
	if err != nil {
		return Realtime{}, err
	}
	off := 1 + n
	if len(buf) < off+1+8 {
		return Realtime{}, ErrMalformed
	}
	kind := Kind(buf[off])
	off++
	seq, off, err := getUint64(buf, off)
	if err != nil {
		return Realtime{}, err
	}
	return Realtime{
		Host:      host,
		Kind:      kind,
		Sequence:  seq,
		OpusBytes: buf[off:],
	}, nil
}
