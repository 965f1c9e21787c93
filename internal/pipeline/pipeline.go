// Package pipeline implements the push and pull node primitives
// (spec.md section 4.4) the audio plane is assembled from: a producer
// synchronously hands a frame to a Pusher, or a consumer pulls a frame
// on demand from a Puller. Nodes are small decorators around a
// successor Pusher/Puller (Gain wraps the next Pusher, Mixer wraps its
// registered Pullers, and so on) and are wired together once at
// startup; a chain built this way can never contain a cycle, because
// construction only ever points a node at an already-built successor
// (spec.md section 9) — there is no API to reach back and re-wrap an
// ancestor.
package pipeline

import "github.com/wifiparty/core/internal/audio"

// Pusher accepts a frame synchronously; terminals (network sender, an
// SPSC push) accept but do not return data.
type Pusher interface {
	Push(buf audio.Buffer)
}

// Puller supplies a frame on demand, or reports underrun with ok=false.
type Puller interface {
	Pull() (buf audio.Buffer, ok bool)
}

// PusherFunc adapts a plain function to a Pusher, used for terminal
// stages like "hand this frame to the network sender" or "push into
// this SPSC ring" that don't need their own named type.
type PusherFunc func(audio.Buffer)

func (f PusherFunc) Push(buf audio.Buffer) { f(buf) }

// PullerFunc adapts a plain function to a Puller.
type PullerFunc func() (audio.Buffer, bool)

func (f PullerFunc) Pull() (audio.Buffer, bool) { return f() }
