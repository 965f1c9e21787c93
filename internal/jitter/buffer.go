// Package jitter implements the per-source adaptive jitter buffer
// (spec.md section 4.5): a ring of N slots keyed by sequence mod N,
// reordering out-of-order arrivals within a bounded window and trading
// extra latency for smoothness under loss. A Buffer is single-writer
// (the network/dispatch thread calls Put) and single-reader (the audio
// thread, or a synced stream's scheduler, calls Pull) by construction,
// so no mutex sits on the hot path.
package jitter

import (
	"sync/atomic"

	"github.com/wifiparty/core/internal/audio"
)

const emptySeqTag = ^uint64(0)

// Concealer supplies packet-loss-concealment output for a missing
// frame; internal/codec.Decoder satisfies this.
type Concealer interface {
	Conceal() audio.Buffer
}

// Config bounds the adaptive target latency (spec.md section 4.5).
type Config struct {
	MinFrames    int
	MaxFrames    int
	InitFrames   int
	SlotHeadroom int // extra slots beyond MaxFrames to absorb bursts
}

// Buffer is the per-source slot table plus adaptive target latency.
type Buffer struct {
	cfg       Config
	concealer Concealer

	slotCount uint64
	mask      uint64
	slots     []atomic.Pointer[audio.Buffer]
	slotSeq   []atomic.Uint64

	initialized atomic.Bool
	playing     atomic.Bool
	readSeq     atomic.Uint64
	writeSeq    atomic.Uint64
	target      atomic.Int64

	lateDrops    atomic.Uint64
	forwardDrops atomic.Uint64
	concealed    atomic.Uint64
	delivered    atomic.Uint64

	// window is touched only by Pull, which is single-reader by
	// construction, so it needs no synchronization of its own.
	window lossWindow
}

// New returns a Buffer in the Warming state (spec.md section 4.5).
func New(cfg Config, concealer Concealer) *Buffer {
	if cfg.SlotHeadroom <= 0 {
		cfg.SlotHeadroom = 8
	}
	count := nextPowerOfTwo(cfg.MaxFrames + cfg.SlotHeadroom)
	b := &Buffer{
		cfg:       cfg,
		concealer: concealer,
		slotCount: uint64(count),
		mask:      uint64(count - 1),
		slots:     make([]atomic.Pointer[audio.Buffer], count),
		slotSeq:   make([]atomic.Uint64, count),
	}
	for i := range b.slotSeq {
		b.slotSeq[i].Store(emptySeqTag)
	}
	b.target.Store(int64(cfg.InitFrames))
	return b
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// TargetLatencyFrames reports the current adaptive target, exposed for
// internal/metrics and internal/state's HostInfo.JitterDepthMS.
func (b *Buffer) TargetLatencyFrames() int {
	return int(b.target.Load())
}

// IsPlaying reports whether the buffer has finished its initial
// buffering delay (spec.md section 4.5's Warming -> Playing
// transition).
func (b *Buffer) IsPlaying() bool {
	return b.playing.Load()
}

func (b *Buffer) storeSlot(seq uint64, buf audio.Buffer) {
	idx := seq & b.mask
	cp := buf
	b.slots[idx].Store(&cp)
	b.slotSeq[idx].Store(seq)
}

// loadSlot returns the buffer stored for seq, or (nil, false) if that
// exact sequence is not the one currently occupying its slot — the
// seq-tagged atomic pair (spec.md section 4.5: "atomic cell pair so
// pull can detect torn state") distinguishes "never arrived" and
// "overwritten by a later wraparound" from a genuine value.
func (b *Buffer) loadSlot(seq uint64) (audio.Buffer, bool) {
	idx := seq & b.mask
	if b.slotSeq[idx].Load() != seq {
		return audio.Buffer{}, false
	}
	ptr := b.slots[idx].Load()
	if ptr == nil {
		return audio.Buffer{}, false
	}
	return *ptr, true
}

func (b *Buffer) clearSlot(seq uint64) {
	idx := seq & b.mask
	b.slotSeq[idx].CompareAndSwap(seq, emptySeqTag)
}

// Put deposits buf at seq (spec.md section 4.5's push algorithm). It
// never blocks and never returns an error; out-of-window arrivals are
// dropped and counted.
func (b *Buffer) Put(seq uint64, buf audio.Buffer) {
	if !b.initialized.Load() {
		b.storeSlot(seq, buf)
		b.writeSeq.Store(seq)
		b.readSeq.Store(seq)
		b.initialized.Store(true)
		return
	}

	wseq := b.writeSeq.Load()
	rseq := b.readSeq.Load()

	// 1. too late (read_seq has already passed seq) or too far in the
	// future: drop and count.
	if audio.SeqDistance(rseq, seq) > 0 {
		b.lateDrops.Add(1)
		return
	}
	if audio.SeqDistance(seq, wseq) > int64(b.slotCount) {
		b.forwardDrops.Add(1)
		return
	}

	// 2. store (overwrite any prior value for that slot).
	b.storeSlot(seq, buf)

	// 3. write_seq = max(write_seq, seq).
	if audio.SeqDistance(seq, wseq) > 0 {
		b.writeSeq.Store(seq)
		wseq = seq
	}

	// 4. clamp read_seq forward if the gap exceeds the target latency.
	target := b.target.Load()
	if audio.SeqDistance(wseq, rseq) > target {
		newRead := wseq - uint64(target)
		b.readSeq.Store(newRead)
		rseq = newRead
	}

	if !b.playing.Load() && audio.SeqDistance(wseq, rseq) >= int64(b.cfg.InitFrames) {
		b.playing.Store(true)
	}
}

// Pull is the per-frame audio-thread entry point (spec.md section
// 4.5's pull algorithm), also usable directly as a pipeline.Puller.
// It returns (buffer, false) for both underrun and the Warming state
// (spec.md: "or None for the pull-chain to propagate"); a Mixer
// already treats a false pull as silent, so callers don't need to
// special-case either condition.
func (b *Buffer) Pull() (audio.Buffer, bool) {
	if !b.initialized.Load() {
		return audio.Buffer{}, false
	}

	if !b.playing.Load() {
		// Warming: don't advance read_seq, don't count as loss.
		return audio.Buffer{}, false
	}

	rseq := b.readSeq.Load()
	wseq := b.writeSeq.Load()
	if rseq > wseq {
		b.recordOutcome(true)
		return audio.Buffer{}, false
	}

	out, ok := b.loadSlot(rseq)
	concealed := !ok
	if concealed {
		if b.concealer != nil {
			out = b.concealer.Conceal()
		}
		b.concealed.Add(1)
	} else {
		b.clearSlot(rseq)
		b.delivered.Add(1)
	}

	b.readSeq.Store(rseq + 1)
	b.recordOutcome(concealed)
	b.adapt()
	return out, true
}

func (b *Buffer) recordOutcome(bad bool) {
	b.window.record(bad)
}

// adapt implements spec.md section 4.5's hysteresis: >5% sustained
// loss raises the target by one frame (capped); <1% sustained loss
// lowers it by one frame (floored). "Sustained" is a full 200-pull
// rolling window (see lossWindow) so a single burst can't flap it.
func (b *Buffer) adapt() {
	frac, full := b.window.fraction()
	if !full {
		return
	}
	target := b.target.Load()
	switch {
	case frac > 0.05 && target < int64(b.cfg.MaxFrames):
		b.target.Store(target + 1)
	case frac < 0.01 && target > int64(b.cfg.MinFrames):
		b.target.Store(target - 1)
	}
}

// Stats snapshots the buffer's counters for internal/metrics.
type Stats struct {
	LateDrops    uint64
	ForwardDrops uint64
	Concealed    uint64
	Delivered    uint64
	TargetFrames int
}

func (b *Buffer) Stats() Stats {
	return Stats{
		LateDrops:    b.lateDrops.Load(),
		ForwardDrops: b.forwardDrops.Load(),
		Concealed:    b.concealed.Load(),
		Delivered:    b.delivered.Load(),
		TargetFrames: b.TargetLatencyFrames(),
	}
}
