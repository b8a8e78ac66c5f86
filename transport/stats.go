package transport

import "sync/atomic"

// Stats counts connection events across every listener of a server.
type Stats struct {
	accepted       int64
	active         int64
	requests       int64
	protocolErrors int64
	encodeErrors   int64
}

// StatsSnapshot is a point in time copy of Stats.
type StatsSnapshot struct {
	Accepted       int64 `json:"accepted"`
	Active         int64 `json:"active"`
	Requests       int64 `json:"requests"`
	ProtocolErrors int64 `json:"protocolErrors"`
	EncodeErrors   int64 `json:"encodeErrors"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:       atomic.LoadInt64(&s.accepted),
		Active:         atomic.LoadInt64(&s.active),
		Requests:       atomic.LoadInt64(&s.requests),
		ProtocolErrors: atomic.LoadInt64(&s.protocolErrors),
		EncodeErrors:   atomic.LoadInt64(&s.encodeErrors),
	}
}

func (s *Stats) connOpened() {
	atomic.AddInt64(&s.accepted, 1)
	atomic.AddInt64(&s.active, 1)
}

func (s *Stats) connClosed() {
	atomic.AddInt64(&s.active, -1)
}

func (s *Stats) request() {
	atomic.AddInt64(&s.requests, 1)
}

func (s *Stats) protocolError() {
	atomic.AddInt64(&s.protocolErrors, 1)
}

func (s *Stats) encodeError() {
	atomic.AddInt64(&s.encodeErrors, 1)
}
