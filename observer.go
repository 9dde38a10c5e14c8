package sfp

// Observer receives read-only notifications about session activity,
// for host-side diagnostics (audit logging, telemetry) that must never
// influence routing decisions themselves. Observers are invoked
// synchronously, in registration order, from within Deliver and
// Connect — they run on the same goroutine as the caller and must not
// call back into the Session (spec.md §5 reentrancy rule applies to
// them too).
type Observer interface {
	// OnFrameAccepted fires when a USR/RTX frame is routed to the
	// application. Handshake SYN frames are reported through
	// OnStateChange instead, not here.
	OnFrameAccepted(pkt Packet)
	// OnFrameRejected fires on a NAK-worthy USR sequence gap, a framing
	// error, or a HistoryMiss. An invalid SYN and an out-of-order RTX are
	// not reported here.
	OnFrameRejected(err error)
	// OnStateChange fires whenever ConnectState transitions.
	OnStateChange(from, to ConnectState)
}

// Observe registers obs to receive future notifications. Observers are
// additive; there is no Unobserve, mirroring the host's expected usage
// of wiring diagnostics up once at startup.
func (s *Session) Observe(obs Observer) {
	s.observers = append(s.observers, obs)
}

func (s *Session) notifyAccepted(pkt Packet) {
	for _, o := range s.observers {
		o.OnFrameAccepted(pkt)
	}
}

func (s *Session) notifyRejected(err error) {
	for _, o := range s.observers {
		o.OnFrameRejected(err)
	}
}

func (s *Session) notifyStateChange(from, to ConnectState) {
	if from == to {
		return
	}
	for _, o := range s.observers {
		o.OnStateChange(from, to)
	}
}
