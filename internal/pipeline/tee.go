package pipeline

import "github.com/wifiparty/core/internal/audio"

// Tee forwards the same frame to N successors, cloning only when N>1
// (spec.md section 4.4) so the common single-successor case costs
// nothing extra.
type Tee struct {
	successors []Pusher
}

// NewTee returns a Tee forwarding to every given successor.
func NewTee(successors ...Pusher) *Tee {
	return &Tee{successors: successors}
}

func (t *Tee) Push(buf audio.Buffer) {
	switch len(t.successors) {
	case 0:
		return
	case 1:
		t.successors[0].Push(buf)
	default:
		for _, s := range t.successors {
			s.Push(buf.Clone())
		}
	}
}
