package wire

// Synced is tag 1: music, scheduled via the shared clock, sender to
// all. CodecBytes is a zero-copy view until Retain is called.
type Synced struct {
	Host           HostID
	StreamID       uint64
	Sequence       uint64
	PlayAtEpochUs  uint64
	CodecBytes     []byte
}

func (s *Synced) Retain() {
	s.CodecBytes = append([]byte(nil), s.CodecBytes...)
}

// EncodeSynced serializes a Synced packet. Layout:
// tag(1) host(1+n) stream_id(8) sequence(8) play_at_epoch_us(8) codec_bytes(rest)
func EncodeSynced(s Synced) ([]byte, error) {
	size := 1 + 1 + int(s.Host.Len()) + 8 + 8 + 8 + len(s.CodecBytes)
	if err := checkSize(size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	buf[0] = byte(TagSynced)
	off := 1
	off += s.Host.marshalInto(buf[off:])
	off = putUint64(buf, off, s.StreamID)
	off = putUint64(buf, off, s.Sequence)
	off = putUint64(buf, off, s.PlayAtEpochUs)
	copy(buf[off:], s.CodecBytes)
	return buf, nil
}

func DecodeSynced(buf []byte) (Synced, error) {
	if len(buf) < 1 || Tag(buf[0]) != TagSynced {
		return Synced{}, ErrMalformed
	}
	host, n, err := unmarshalHostID(buf[1:])
	if err != nil {
		return Synced{}, err
	}
	off := 1 + n
	streamID, off, err := getUint64(buf, off)
	if err != nil {
		return Synced{}, err
	}
	seq, off, err := getUint64(buf, off)
	if err != nil {
		return Synced{}, err
	}
	playAt, off, err := getUint64(buf, off)
	if err != nil {
		return Synced{}, err
	}
	return Synced{
		Host:          host,
		StreamID:      streamID,
		Sequence:      seq,
		PlayAtEpochUs: playAt,
		CodecBytes:    buf[off:],
	}, nil
}

// SyncedMeta is tag 2: periodic (>=2 Hz) codec bootstrap metadata so
// late joiners can build a decoder without the source file.
type SyncedMeta struct {
	Host        HostID
	StreamID    uint64
	Codec       CodecParamsWire
	TotalFrames *uint64
	Title       string
}

// CodecParamsWire is the wire encoding of codec.Params (kept separate
// from internal/codec.Params to avoid an import cycle; internal/synced
// converts between the two).
type CodecParamsWire struct {
	Tag        uint8
	SampleRate uint32
	Channels   uint8
	Private    []byte
}

func (c CodecParamsWire) encodedLen() int {
	return 1 + 4 + 1 + 2 + len(c.Private)
}

func (c CodecParamsWire) marshalInto(buf []byte) int {
	buf[0] = c.Tag
	off := 1
	off = putUint32(buf, off, c.SampleRate)
	buf[off] = c.Channels
	off++
	off = putUint16(buf, off, uint16(len(c.Private)))
	copy(buf[off:], c.Private)
	return off + len(c.Private)
}

func unmarshalCodecParams(buf []byte) (CodecParamsWire, int, error) {
	if len(buf) < 1+4+1+2 {
		return CodecParamsWire{}, 0, ErrMalformed
	}
	var c CodecParamsWire
	c.Tag = buf[0]
	off := 1
	var err error
	c.SampleRate, off, err = getUint32(buf, off)
	if err != nil {
		return CodecParamsWire{}, 0, err
	}
	c.Channels = buf[off]
	off++
	privLen, off, err := getUint16(buf, off)
	if err != nil {
		return CodecParamsWire{}, 0, err
	}
	if len(buf) < off+int(privLen) {
		return CodecParamsWire{}, 0, ErrMalformed
	}
	c.Private = buf[off : off+int(privLen)]
	return c, off + int(privLen), nil
}

// EncodeSyncedMeta serializes a SyncedMeta packet. Layout:
// tag(1) host(1+n) stream_id(8) codec(...) has_total(1) [total_frames(8)] title_len(2) title
func EncodeSyncedMeta(m SyncedMeta) ([]byte, error) {
	titleBytes := []byte(m.Title)
	size := 1 + 1 + int(m.Host.Len()) + 8 + m.Codec.encodedLen() + 1
	if m.TotalFrames != nil {
		size += 8
	}
	size += 2 + len(titleBytes)
	if err := checkSize(size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	buf[0] = byte(TagSyncedMeta)
	off := 1
	off += m.Host.marshalInto(buf[off:])
	off = putUint64(buf, off, m.StreamID)
	off += m.Codec.marshalInto(buf[off:])
	if m.TotalFrames != nil {
		buf[off] = 1
		off++
		off = putUint64(buf, off, *m.TotalFrames)
	} else {
		buf[off] = 0
		off++
	}
	off = putUint16(buf, off, uint16(len(titleBytes)))
	copy(buf[off:], titleBytes)
	return buf, nil
}

func DecodeSyncedMeta(buf []byte) (SyncedMeta, error) {
	if len(buf) < 1 || Tag(buf[0]) != TagSyncedMeta {
		return SyncedMeta{}, ErrMalformed
	}
	host, n, err := unmarshalHostID(buf[1:])
	if err != nil {
		return SyncedMeta{}, err
	}
	off := 1 + n
	streamID, off, err := getUint64(buf, off)
	if err != nil {
		return SyncedMeta{}, err
	}
	codecParams, used, err := unmarshalCodecParams(buf[off:])
	if err != nil {
		return SyncedMeta{}, err
	}
	off += used
	if len(buf) < off+1 {
		return SyncedMeta{}, ErrMalformed
	}
	hasTotal := buf[off] == 1
	off++
	var total *uint64
	if hasTotal {
		var t uint64
		t, off, err = getUint64(buf, off)
		if err != nil {
			return SyncedMeta{}, err
		}
		total = &t
	}
	titleLen, off, err := getUint16(buf, off)
	if err != nil {
		return SyncedMeta{}, err
	}
	if len(buf) < off+int(titleLen) {
		return SyncedMeta{}, ErrMalformed
	}
	title := string(buf[off : off+int(titleLen)])
	return SyncedMeta{
		Host:        host,
		StreamID:    streamID,
		Codec:       codecParams,
		TotalFrames: total,
		Title:       title,
	}, nil
}

// ControlOp is SyncedControl's op field.
type ControlOp uint8

const (
	ControlPlay ControlOp = iota
	ControlPause
	ControlSeek
	ControlStop
)

// SyncedControl is tag 3: play/pause/seek/stop for a music stream.
type SyncedControl struct {
	Host     HostID
	StreamID uint64
	Op       ControlOp
	SeekPosUs uint64 // only meaningful when Op == ControlSeek
}

// EncodeSyncedControl serializes a SyncedControl packet. Layout:
// tag(1) host(1+n) stream_id(8) op(1) seek_pos_us(8)
func EncodeSyncedControl(c SyncedControl) ([]byte, error) {
	size := 1 + 1 + int(c.Host.Len()) + 8 + 1 + 8
	if err := checkSize(size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	buf[0] = byte(TagSyncedControl)
	off := 1
	off += c.Host.marshalInto(buf[off:])
	off = putUint64(buf, off, c.StreamID)
	buf[off] = byte(c.Op)
	off++
	putUint64(buf, off, c.SeekPosUs)
	return buf, nil
}

func DecodeSyncedControl(buf []byte) (SyncedControl, error) {
	if len(buf) < 1 || Tag(buf[0]) != TagSyncedControl {
		return SyncedControl{}, ErrMalformed
	}
	host, n, err := unmarshalHostID(buf[1:])
	if err != nil {
		return SyncedControl{}, err
	}
	off := 1 + n
	streamID, off, err := getUint64(buf, off)
	if err != nil {
		return SyncedControl{}, err
	}
	if len(buf) < off+1 {
		return SyncedControl{}, ErrMalformed
	}
	op := ControlOp(buf[off])
	off++
	seekPos, _, err := getUint64(buf, off)
	if err != nil {
		return SyncedControl{}, err
	}
	return SyncedControl{Host: host, StreamID: streamID, Op: op, SeekPosUs: seekPos}, nil
}
