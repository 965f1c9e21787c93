package pipeline

import (
	"sync/atomic"

	"github.com/wifiparty/core/internal/audio"
)

// Switch emits silence of the same shape (push) or None (pull) when
// disabled, otherwise forwards unchanged (spec.md section 4.4). Used
// both in push mode (mic/system capture enable toggle) and pull mode
// (gating a realtime/synced stream's contribution to the mixer).
type Switch struct {
	enabled atomic.Bool
	nextP   Pusher
	nextPull Puller
}

// NewPushSwitch returns a push-mode Switch forwarding to next.
func NewPushSwitch(next Pusher, enabled bool) *Switch {
	s := &Switch{nextP: next}
	s.enabled.Store(enabled)
	return s
}

// NewPullSwitch returns a pull-mode Switch sourcing from next.
func NewPullSwitch(next Puller, enabled bool) *Switch {
	s := &Switch{nextPull: next}
	s.enabled.Store(enabled)
	return s
}

// SetEnabled toggles the switch; safe to call from the UI thread
// concurrently with Push/Pull on the audio thread (atomic, no lock).
func (s *Switch) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

func (s *Switch) Enabled() bool {
	return s.enabled.Load()
}

func (s *Switch) Push(buf audio.Buffer) {
	if s.nextP == nil {
		return
	}
	if !s.enabled.Load() {
		s.nextP.Push(audio.NewSilence(buf.Rate, buf.Channels, buf.Frames()))
		return
	}
	s.nextP.Push(buf)
}

func (s *Switch) Pull() (audio.Buffer, bool) {
	if !s.enabled.Load() || s.nextPull == nil {
		return audio.Buffer{}, false
	}
	return s.nextPull.Pull()
}
