package socket

import "github.com/monocoque/monocoque/api"

// monitor is a lossy, bounded fan-out of api.MonitorEvent: observers that
// fall behind drop events rather than block the socket that's producing
// them.
type monitor struct {
	ch chan api.MonitorEvent
}

func newMonitor(capacity int) *monitor {
	return &monitor{ch: make(chan api.MonitorEvent, capacity)}
}

func (m *monitor) emit(kind api.EventKind, endpoint, reason string) {
	select {
	case m.ch <- api.MonitorEvent{Kind: kind, Endpoint: endpoint, Reason: reason}:
	default:
	}
}

// Events returns the receive-only channel of lifecycle transitions.
func (m *monitor) Events() <-chan api.MonitorEvent { return m.ch }
