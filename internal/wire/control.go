package wire

// RequestFrames is tag 4: receiver to sender, asking the stream
// originator to retransmit a gap.
type RequestFrames struct {
	Requester HostID
	Target    HostID
	StreamID  uint64
	FirstSeq  uint64
	Count     uint16
}

// EncodeRequestFrames serializes a RequestFrames packet. Layout:
// tag(1) requester(1+n) target(1+n) stream_id(8) first_seq(8) count(2)
func EncodeRequestFrames(r RequestFrames) ([]byte, error) {
	size := 1 + 1 + int(r.Requester.Len()) + 1 + int(r.Target.Len()) + 8 + 8 + 2
	if err := checkSize(size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	buf[0] = byte(TagRequestFrames)
	off := 1
	off += r.Requester.marshalInto(buf[off:])
	off += r.Target.marshalInto(buf[off:])
	off = putUint64(buf, off, r.StreamID)
	off = putUint64(buf, off, r.FirstSeq)
	putUint16(buf, off, r.Count)
	return buf, nil
}

func DecodeRequestFrames(buf []byte) (RequestFrames, error) {
	if len(buf) < 1 || Tag(buf[0]) != TagRequestFrames {
		return RequestFrames{}, ErrMalformed
	}
	requester, n, err := unmarshalHostID(buf[1:])
	if err != nil {
		return RequestFrames{}, err
	}
	off := 1 + n
	target, n2, err := unmarshalHostID(buf[off:])
	if err != nil {
		return RequestFrames{}, err
	}
	off += n2
	streamID, off, err := getUint64(buf, off)
	if err != nil {
		return RequestFrames{}, err
	}
	firstSeq, off, err := getUint64(buf, off)
	if err != nil {
		return RequestFrames{}, err
	}
	count, _, err := getUint16(buf, off)
	if err != nil {
		return RequestFrames{}, err
	}
	return RequestFrames{
		Requester: requester,
		Target:    target,
		StreamID:  streamID,
		FirstSeq:  firstSeq,
		Count:     count,
	}, nil
}

// NtpPhase distinguishes an Ntp request from its response.
type NtpPhase uint8

const (
	NtpRequest  NtpPhase = 0
	NtpResponse NtpPhase = 1
)

// Ntp is tag 5: the peer-to-peer clock exchange (spec.md section 4.8).
// Timestamps are nanoseconds since the Unix epoch as read from each
// peer's wall clock (time.Time.UnixNano in internal/clock).
type Ntp struct {
	Phase     NtpPhase
	OriginTs  uint64
	RecvTs    uint64
	TxTs      uint64
}

// EncodeNtp serializes an Ntp packet. Layout:
// tag(1) phase(1) origin_ts(8) recv_ts(8) tx_ts(8)
func EncodeNtp(p Ntp) ([]byte, error) {
	const size = 1 + 1 + 8 + 8 + 8
	buf := make([]byte, size)
	buf[0] = byte(TagNtp)
	buf[1] = byte(p.Phase)
	off := 2
	off = putUint64(buf, off, p.OriginTs)
	off = putUint64(buf, off, p.RecvTs)
	putUint64(buf, off, p.TxTs)
	return buf, nil
}

func DecodeNtp(buf []byte) (Ntp, error) {
	if len(buf) < 1+1+8+8+8 || Tag(buf[0]) != TagNtp {
		return Ntp{}, ErrMalformed
	}
	phase := NtpPhase(buf[1])
	off := 2
	origin, off, err := getUint64(buf, off)
	if err != nil {
		return Ntp{}, err
	}
	recv, off, err := getUint64(buf, off)
	if err != nil {
		return Ntp{}, err
	}
	tx, _, err := getUint64(buf, off)
	if err != nil {
		return Ntp{}, err
	}
	return Ntp{Phase: phase, OriginTs: origin, RecvTs: recv, TxTs: tx}, nil
}
