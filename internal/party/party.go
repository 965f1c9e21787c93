// Package party implements the orchestrator (spec.md section 4.11):
// it builds the full pipeline graph at startup in the spec's 8-step
// order, runs the housekeeping goroutines (clock exchange, retransmit
// scheduling, host cleanup, UI snapshot), and tears everything down in
// reverse on Shutdown. Grounded on the teacher's main.go wiring shape
// (build collaborators, launch background goroutines, reverse-order
// shutdown on signal) generalized from an HTTP server's listeners to
// an audio plane's sockets and pipeline nodes.
package party

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wifiparty/core/internal/audio"
	"github.com/wifiparty/core/internal/clock"
	"github.com/wifiparty/core/internal/codec"
	"github.com/wifiparty/core/internal/config"
	"github.com/wifiparty/core/internal/dispatch"
	"github.com/wifiparty/core/internal/jitter"
	"github.com/wifiparty/core/internal/metrics"
	"github.com/wifiparty/core/internal/pipeline"
	"github.com/wifiparty/core/internal/receive"
	"github.com/wifiparty/core/internal/ring"
	"github.com/wifiparty/core/internal/state"
	"github.com/wifiparty/core/internal/synced"
	"github.com/wifiparty/core/internal/transport"
	"github.com/wifiparty/core/internal/wire"
)

// loopbackCapacity bounds the mic self-monitor SPSC (spec.md section
// 4.3: fixed capacity, drop-oldest on overflow). A few hundred ms of
// frames is ample slack for the audio thread to catch up.
const loopbackCapacity = 64

// Party owns every collaborator built by the 8-step list in spec.md
// section 4.11.
type Party struct {
	cfg     config.Config
	logger  *log.Logger
	metrics *metrics.Metrics

	self     wire.HostID
	roster   *state.Roster
	clockSvc *clock.Service
	registry *codec.Registry

	group *transport.Group
	stats *wire.Stats
	disp  *dispatch.Dispatcher

	realtimeMixer *pipeline.Mixer
	syncedMixer   *pipeline.Mixer
	outputMixer   *pipeline.Mixer

	realtimeSwitch *pipeline.Switch
	syncedSwitch   *pipeline.Switch

	receiveStream *receive.Stream
	syncedStream  *synced.Stream

	loopback *ring.Ring[audio.Buffer]

	micLevel  *pipeline.Level
	micGain   *pipeline.Gain
	micSwitch *pipeline.Switch

	sysLevel  *pipeline.Level
	sysSwitch *pipeline.Switch

	lastReportedMalformed uint64

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// sender adapts *transport.Group to receive/synced's narrower Sender
// interfaces without either package importing internal/transport.
type sender struct{ g *transport.Group }

func (s sender) Send(b []byte) error { return s.g.Send(b) }

// localHostID picks the identity this process advertises as HostId:
// the local address the OS would route traffic to cfg's multicast
// group through (spec.md section 3's "stable identifier for the
// sender"). There's no roster to consult yet at startup, so this asks
// the OS directly rather than guessing an interface.
func localHostID(multicastAddr string) (wire.HostID, error) {
	conn, err := net.Dial("udp", multicastAddr)
	if err != nil {
		return wire.HostID{}, fmt.Errorf("party: determine local address: %w", err)
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr)
	return wire.HostIDFromIP(local.IP), nil
}

// New builds every collaborator in spec.md section 4.11's order but
// does not yet start any goroutine; call Run to do that.
func New(cfg config.Config, logger *log.Logger, m *metrics.Metrics) (*Party, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewWithRegisterer(prometheus.NewRegistry())
	}

	groupAddr := fmt.Sprintf("%s:%d", cfg.MulticastV4, cfg.Port)
	self, err := localHostID(groupAddr)
	if err != nil {
		return nil, err
	}

	// 1. Multicast sockets and NetworkSender.
	group, err := transport.Join(transport.Config{
		Addr:      groupAddr,
		TTL:       cfg.TTL,
		Interface: cfg.Interface,
		SelfID:    self,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("party: join multicast group: %w", err)
	}

	p := &Party{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		self:     self,
		roster:   state.NewRoster(),
		clockSvc: clock.NewService(self),
		registry: codec.NewRegistry(),
		group:    group,
		stats:    &wire.Stats{},
		stopCh:   make(chan struct{}),
	}

	frameSamples := cfg.FrameSamples()

	// 2. NtpService is p.clockSvc; the background exchange task is
	// started in Run (step 2's "background exchange task").

	// 3. SyncedAudioStreamManager + its cleanup/retransmit tasks.
	p.syncedMixer = pipeline.NewMixer(cfg.SampleRate, cfg.Channels, frameSamples)
	p.syncedStream = synced.New(p.registry, p.syncedMixer, p.clockSvc, sender{group}, self, synced.Config{
		RetransmitSlack: cfg.RetransmitSlack,
		MaxRetransmits:  cfg.MaxRetransmits,
		RetransmitRate:  cfg.RetransmitRate,
	}, m, logger)

	// Realtime receive chains attach to their own sub-mixer too, so
	// the output stage can gate "all realtime" and "all synced"
	// independently (spec.md section 4.11 step 7).
	p.realtimeMixer = pipeline.NewMixer(cfg.SampleRate, cfg.Channels, frameSamples)
	p.receiveStream = receive.New(p.roster, p.realtimeMixer, jitter.Config{
		MinFrames:  cfg.JitterMinFrames,
		MaxFrames:  cfg.JitterMaxFrames,
		InitFrames: cfg.JitterInitFrames,
	}, cfg.SampleRate, cfg.Channels, m, logger)

	// 4. Receive thread with the PacketDispatcher.
	p.disp = dispatch.New(group.Conn(), dispatch.Handlers{
		Realtime:      p.handleRealtime,
		Synced:        p.syncedStream.HandleFrame,
		SyncedMeta:    p.syncedStream.HandleMeta,
		SyncedControl: p.syncedStream.HandleControl,
		RequestFrames: p.handleRequestFrames,
		Ntp:           p.handleNtp,
	}, p.stats, logger)

	// 5. Mic pipeline: capture -> level -> gain -> switch ->
	// tee(loopback SPSC, batcher -> opus encoder -> frame packer ->
	// network sender).
	p.loopback = ring.New[audio.Buffer](loopbackCapacity)
	micEncoder, err := codec.NewOpusEncoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("party: mic encoder: %w", err)
	}
	micPacker := pipeline.NewFramePacker(func(seq uint64, payload []byte) {
		p.sendRealtime(wire.KindMic, seq, payload)
	})
	micEncode := pipeline.NewEncode(micEncoder, logger, micPacker.PushEncoded)
	micBatcher := pipeline.NewBatcher(micEncode, frameSamples)
	micTee := pipeline.NewTee(pipeline.PusherFunc(func(buf audio.Buffer) {
		p.loopback.Push(buf)
	}), micBatcher)
	p.micSwitch = pipeline.NewPushSwitch(micTee, true)
	p.micGain = pipeline.NewGain(p.micSwitch, 1.0)
	p.micLevel = pipeline.NewLevel(p.micGain)

	// 6. System audio pipeline: loopback capture -> level -> switch ->
	// batcher -> opus encoder -> frame packer -> network sender.
	sysEncoder, err := codec.NewOpusEncoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("party: system-audio encoder: %w", err)
	}
	sysPacker := pipeline.NewFramePacker(func(seq uint64, payload []byte) {
		p.sendRealtime(wire.KindSystem, seq, payload)
	})
	sysEncode := pipeline.NewEncode(sysEncoder, logger, sysPacker.PushEncoded)
	sysBatcher := pipeline.NewBatcher(sysEncode, frameSamples)
	p.sysSwitch = pipeline.NewPushSwitch(sysBatcher, true)
	p.sysLevel = pipeline.NewLevel(p.sysSwitch)

	// 7. Output pipeline: mixer(realtime -> switch, synced -> switch,
	// loopback SPSC) -> playback callback.
	p.realtimeSwitch = pipeline.NewPullSwitch(p.realtimeMixer, true)
	p.syncedSwitch = pipeline.NewPullSwitch(p.syncedMixer, true)
	p.outputMixer = pipeline.NewMixer(cfg.SampleRate, cfg.Channels, frameSamples)
	p.outputMixer.Attach("realtime", p.realtimeSwitch)
	p.outputMixer.Attach("synced", p.syncedSwitch)
	p.outputMixer.Attach("mic_loopback", pipeline.PullerFunc(func() (audio.Buffer, bool) {
		return p.loopback.Pop()
	}))

	// 8. Host-sync task is started in Run.

	return p, nil
}

// sendRealtime wires one encoded Opus frame into a wire.Realtime
// packet and multicasts it, counting (not failing on) transient send
// errors (spec.md section 4.10).
func (p *Party) sendRealtime(kind wire.Kind, seq uint64, payload []byte) {
	pkt := wire.Realtime{Host: p.self, Kind: kind, Sequence: seq, OpusBytes: payload}
	buf, err := wire.EncodeRealtime(pkt)
	if err != nil {
		p.logger.Debug("failed to encode realtime packet, dropping", "err", err)
		return
	}
	if err := p.group.Send(buf); err != nil {
		p.metrics.SendTransient.Inc()
		p.logger.Warn("transient send failure", "err", err)
	}
}

// handleRealtime drops packets this host multicast to itself before
// they ever reach receive.Stream: with IP_MULTICAST_LOOP on (the
// default), every Realtime packet sent also arrives back here. The mic
// pipeline already delivers its audio to the output mixer via the
// loopback SPSC, so mixing the echoed copy too would double it (spec.md
// section 4.10). Self-originated system-audio packets are dropped the
// same way; system audio has no local loopback path.
func (p *Party) handleRealtime(src wire.HostID, pkt wire.Realtime) {
	if p.group.IsSelf(pkt.Host) || p.group.IsSelf(src) {
		return
	}
	p.receiveStream.Dispatch(src, pkt)
}

func (p *Party) handleRequestFrames(src wire.HostID, pkt wire.RequestFrames) {
	// Retransmit fulfillment is the originating stream's job; this
	// core module only schedules *requests* (internal/synced) — an
	// external music-source collaborator that still holds the
	// original compressed frames answers them (spec.md section 6,
	// "music source boundary").
	p.logger.Debug("retransmit request received, no local source to answer it", "requester", pkt.Requester, "stream_id", pkt.StreamID, "first_seq", pkt.FirstSeq)
}

func (p *Party) handleNtp(src wire.HostID, pkt wire.Ntp, recvTime time.Time) {
	switch pkt.Phase {
	case wire.NtpRequest:
		resp := p.clockSvc.HandleRequest(pkt, recvTime, time.Now())
		buf, err := wire.EncodeNtp(resp)
		if err != nil {
			return
		}
		if err := p.group.Send(buf); err != nil {
			p.metrics.SendTransient.Inc()
		}
	case wire.NtpResponse:
		offset := p.clockSvc.HandleResponse(src, pkt, recvTime)
		p.metrics.NtpOffsetMicros.WithLabelValues(src.String()).Set(float64(offset.Microseconds()))
	}
}

// PushMic feeds one hardware capture frame into the mic pipeline
// (spec.md section 6's "audio capture boundary"). Must not be called
// concurrently with itself; the caller's capture callback owns this
// thread.
func (p *Party) PushMic(buf audio.Buffer) { p.micLevel.Push(buf) }

// PushSystemAudio feeds one system-audio loopback-capture frame into
// its pipeline.
func (p *Party) PushSystemAudio(buf audio.Buffer) { p.sysLevel.Push(buf) }

// PullPlayback supplies one mixed frame to the playback boundary
// (spec.md section 6). Must return promptly; it never blocks on
// anything but the mixer's own in-memory work.
func (p *Party) PullPlayback() (audio.Buffer, bool) {
	buf, ok := p.outputMixer.Pull()
	if ok && isSilent(buf) {
		p.metrics.MixerUnderruns.Inc()
	}
	return buf, ok
}

func isSilent(buf audio.Buffer) bool {
	for _, s := range buf.Samples {
		if s != 0 {
			return false
		}
	}
	return true
}

// SetMicEnabled toggles the mic's contribution (UI boundary).
func (p *Party) SetMicEnabled(enabled bool) { p.micSwitch.SetEnabled(enabled) }

// SetMicVolume sets the mic's gain factor (UI boundary).
func (p *Party) SetMicVolume(factor float32) { p.micGain.SetFactor(factor) }

// SetSystemAudioEnabled toggles the system-audio source's contribution.
func (p *Party) SetSystemAudioEnabled(enabled bool) { p.sysSwitch.SetEnabled(enabled) }

// SetRealtimeMuted gates every realtime (voice) contribution at once.
func (p *Party) SetRealtimeMuted(muted bool) { p.realtimeSwitch.SetEnabled(!muted) }

// SetSyncedMuted gates every synced (music) contribution at once.
func (p *Party) SetSyncedMuted(muted bool) { p.syncedSwitch.SetEnabled(!muted) }

// Roster exposes the UI boundary's host snapshot source.
func (p *Party) Roster() *state.Roster { return p.roster }

// SelfID returns this process's HostId.
func (p *Party) SelfID() wire.HostID { return p.self }

// Run starts every housekeeping goroutine and the receive thread
// (spec.md section 4.11, the parts of the build list that are ongoing
// background work rather than one-time construction).
func (p *Party) Run() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.disp.Run()
	}()

	p.wg.Add(1)
	go p.ntpLoop()

	p.wg.Add(1)
	go p.housekeepingLoop()
}

func (p *Party) ntpLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.NtpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			req := p.clockSvc.BuildRequest(time.Now())
			buf, err := wire.EncodeNtp(req)
			if err != nil {
				continue
			}
			if err := p.group.Send(buf); err != nil {
				p.metrics.SendTransient.Inc()
			}
		}
	}
}

// housekeepingLoop runs host cleanup, retransmit scheduling, the UI
// snapshot refresh, and metrics reconciliation on a single ticker — a
// long-running worker, not a cooperative task (spec.md section 9's
// note on reframing async tasks as explicit workers).
func (p *Party) housekeepingLoop() {
	defer p.wg.Done()

	hostSyncEvery := time.Second
	if p.cfg.HostSyncHz > 0 {
		hostSyncEvery = time.Duration(float64(time.Second) / p.cfg.HostSyncHz)
	}
	lastHostSync := time.Time{}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			expired := p.receiveStream.Cleanup(p.cfg.HostTimeout)
			for _, host := range expired {
				p.roster.Deregister(host)
			}
			p.syncedStream.Cleanup(p.cfg.HostTimeout)
			p.syncedStream.RequestGaps()
			p.receiveStream.ReportMetrics()
			p.reportDispatchMalformed()

			if now.Sub(lastHostSync) >= hostSyncEvery {
				lastHostSync = now
				// Roster.Snapshot() is the UI boundary's read; nothing
				// further to do here beyond keeping the cadence, since
				// the snapshot is pulled on demand, not pushed.
				_ = p.roster.Snapshot()
			}
		}
	}
}

// reportDispatchMalformed pushes the delta in wire.Stats.Malformed
// since the last tick into the Prometheus counter. Only the
// housekeeping goroutine calls this, so no lock is needed around the
// read-modify-write of lastReportedMalformed.
func (p *Party) reportDispatchMalformed() {
	current := p.stats.Malformed.Load()
	delta := current - p.lastReportedMalformed
	p.lastReportedMalformed = current
	if delta > 0 {
		p.metrics.DispatchMalformed.Add(float64(delta))
	}
}

// Shutdown walks the build list in reverse (spec.md section 4.11):
// stop housekeeping/receive, then close the socket.
func (p *Party) Shutdown(ctx context.Context) error {
	close(p.stopCh)
	p.disp.Stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return p.group.Close()
}
