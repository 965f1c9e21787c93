// Package metrics registers the Prometheus series behind spec.md
// section 6's "network stats (latency estimate, loss per host, jitter
// target depth)" UI-boundary field list. Construction follows the
// teacher's prometheus.go: one struct of promauto-registered
// GaugeVec/CounterVec collectors built once at startup, with the
// dozens of SDR-specific series replaced by the much smaller
// audio-plane set this module actually produces.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector this module registers.
type Metrics struct {
	JitterTargetFrames *prometheus.GaugeVec // labels: host
	RealtimeLoss       *prometheus.CounterVec // labels: host, reason=late|forward
	Concealed          *prometheus.CounterVec // labels: host
	RetransmitRequests *prometheus.CounterVec // labels: host, stream_id
	NtpOffsetMicros    *prometheus.GaugeVec // labels: host
	MixerUnderruns     prometheus.Counter
	DispatchMalformed  prometheus.Counter
	SendTransient      prometheus.Counter
}

// New registers and returns a fresh Metrics. Callers that want an
// isolated registry for tests should pass a *prometheus.Registry via
// NewWithRegisterer instead; New uses the default global registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers every collector against reg, letting
// tests use a scratch prometheus.NewRegistry() instead of polluting
// the process-global default.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JitterTargetFrames: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wifiparty_jitter_target_frames",
				Help: "Current adaptive jitter buffer target depth, in frames, per source host.",
			},
			[]string{"host"},
		),
		RealtimeLoss: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wifiparty_realtime_loss_total",
				Help: "Realtime packets dropped by the jitter buffer, by reason.",
			},
			[]string{"host", "reason"},
		),
		Concealed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wifiparty_concealed_frames_total",
				Help: "Frames filled by packet-loss concealment instead of a real decode.",
			},
			[]string{"host"},
		),
		RetransmitRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wifiparty_retransmit_requests_total",
				Help: "RequestFrames packets sent for a synced-stream sequence gap.",
			},
			[]string{"host", "stream_id"},
		),
		NtpOffsetMicros: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wifiparty_ntp_offset_microseconds",
				Help: "Current moving-median clock offset estimate to a peer, in microseconds.",
			},
			[]string{"host"},
		),
		MixerUnderruns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wifiparty_mixer_underruns_total",
				Help: "Mixer pulls where every attached input was silent or unavailable.",
			},
		),
		DispatchMalformed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wifiparty_dispatch_malformed_total",
				Help: "Packets dropped by the dispatcher for failing wire validation.",
			},
		),
		SendTransient: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wifiparty_send_transient_errors_total",
				Help: "Transient sendto failures on the multicast send path.",
			},
		),
	}
}
