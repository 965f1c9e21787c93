package wire

import "sync/atomic"

// Stats counts malformed-packet occurrences seen by the dispatcher,
// which internal/party reports through internal/metrics, per spec.md section
// 4.2: "malformed packets are silently dropped and a counter
// incremented."
type Stats struct {
	Malformed atomic.Uint64
}

func (s *Stats) CountMalformed() {
	s.Malformed.Add(1)
}
