package sfp

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Config controls session construction (mirrors the teacher's Config +
// defaults() shape).
type Config struct {
	// HistorySize is the retransmission window's capacity. 0 selects
	// DefaultHistorySize (32), per spec.md §9 open question (b).
	HistorySize int
}

func (c *Config) defaults() {
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
}

// WriteSink is the host-supplied function that consumes bytes the engine
// wishes to put on the wire (spec.md §6). It returns the number of bytes
// written and an error, mirroring io.Writer.
type WriteSink func(p []byte) (int, error)

// DeliverFunc receives an application payload decoded from an accepted
// USR/RTX frame.
type DeliverFunc func(payload []byte)

// ConnectFunc is invoked when a SYN1 from the peer moves the session to
// Connected (the side that sent SYN0). A session that reaches Connected
// by receiving SYN2 does not invoke it.
type ConnectFunc func()

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger installs a structured logger. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithWriteSink installs the byte sink the session writes encoded frames
// to. Required before Connect or Write will do anything useful.
func WithWriteSink(sink WriteSink) Option {
	return func(s *Session) { s.writeSink = sink }
}

// WithDeliverFunc installs the callback invoked with each delivered
// application payload.
func WithDeliverFunc(fn DeliverFunc) Option {
	return func(s *Session) { s.onDeliver = fn }
}

// WithConnectFunc installs the callback invoked when a received SYN1
// completes the handshake (see ConnectFunc).
func WithConnectFunc(fn ConnectFunc) Option {
	return func(s *Session) { s.onConnect = fn }
}

// Session is one end of a point-to-point SFP link (spec.md §3 "Session").
// It owns the codec, history, sequence counters, and connection state; the
// transport stream, and the callbacks that observe it, are external.
//
// A Session is not safe for concurrent use: all public entry points
// mutate session state, and the host runtime is responsible for
// serializing calls (spec.md §5). Reentrant calls from within a callback
// are rejected rather than left to corrupt state silently.
type Session struct {
	cfg Config

	codec   *codec
	history *history

	rxSeq        byte
	txSeq        byte
	connectState ConnectState

	writeSink WriteSink
	onDeliver DeliverFunc
	onConnect ConnectFunc

	logger zerolog.Logger

	observers []Observer

	inCall bool // reentrancy guard — callbacks must not reenter (§5)
}

// NewSession constructs a Session in the Disconnected state. cfg may be
// nil to accept all defaults.
func NewSession(cfg *Config, opts ...Option) *Session {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.defaults()

	s := &Session{
		cfg:          c,
		codec:        newCodec(),
		history:      newHistory(c.HistorySize),
		connectState: Disconnected,
		logger:       nopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConnectState reports the current handshake phase.
func (s *Session) ConnectState() ConnectState {
	return s.connectState
}

// Connect begins the three-way handshake (spec.md §4.4): it resets the
// codec and sequence counters, then emits SYN(SYN0). Calling Connect
// again before reaching Disconnected simply restarts the handshake from
// scratch, mirroring the teacher's idempotent-reset approach to
// (re)connection.
func (s *Session) Connect() error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	if s.writeSink == nil {
		return ErrWriteSinkAbsent
	}

	prev := s.connectState
	s.codec.reset()
	s.rxSeq = 0
	s.txSeq = 0
	s.connectState = SentSYN0
	s.notifyStateChange(prev, s.connectState)

	s.logger.Debug().Msg("sfp: connect() — sending SYN0")
	return s.emit(synPacket(SeqSYN0))
}

// Deliver pushes one transport octet into the session. It returns the
// application payload delivered this call (nil if none), or an error if
// routing failed. Framing errors from the codec are recovered locally per
// spec.md §7 and never surface here; only HistoryMiss, InvalidSyn,
// write-sink failures, and the reentrant-call error are returned.
func (s *Session) Deliver(octet byte) ([]byte, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()

	pkt, complete, err := s.codec.deliver(octet)
	if !complete {
		return nil, nil
	}
	if err != nil {
		return nil, s.handleFramingError(err)
	}
	return s.route(pkt)
}

// route dispatches a successfully decoded packet per spec.md §4.5.
func (s *Session) route(pkt Packet) ([]byte, error) {
	switch pkt.Type {
	case typeUSR:
		return s.routeUsr(pkt)
	case typeRTX:
		return s.routeRtx(pkt)
	case typeNAK:
		return nil, s.routeNak(pkt)
	case typeSYN:
		return nil, s.handleSyn(pkt.Seq)
	default:
		return nil, nil
	}
}

func (s *Session) routeUsr(pkt Packet) ([]byte, error) {
	if pkt.Seq != s.rxSeq {
		s.logger.Debug().Uint8("want", s.rxSeq).Uint8("got", pkt.Seq).Msg("sfp: USR sequence gap, sending NAK")
		s.notifyRejected(fmt.Errorf("sfp: USR sequence gap: got %d, want %d", pkt.Seq, s.rxSeq))
		return nil, s.emit(nakPacket(s.rxSeq))
	}
	s.rxSeq = nextSeq(s.rxSeq)
	if s.onDeliver != nil {
		s.onDeliver(pkt.Payload)
	}
	s.notifyAccepted(pkt)
	return pkt.Payload, nil
}

func (s *Session) routeRtx(pkt Packet) ([]byte, error) {
	if pkt.Seq != s.rxSeq {
		// Out-of-order RTX implies the gap already closed; ignore silently.
		return nil, nil
	}
	s.rxSeq = nextSeq(s.rxSeq)
	if s.onDeliver != nil {
		s.onDeliver(pkt.Payload)
	}
	s.notifyAccepted(pkt)
	return pkt.Payload, nil
}

func (s *Session) routeNak(pkt Packet) error {
	entry, ok := s.history.find(pkt.Seq)
	if !ok {
		s.logger.Warn().Uint8("seq", pkt.Seq).Msg("sfp: NAK for a sequence no longer in history")
		s.notifyRejected(ErrHistoryMiss)
		return ErrHistoryMiss
	}
	s.logger.Debug().Uint8("seq", pkt.Seq).Msg("sfp: NAK received, retransmitting")
	return s.emit(rtxPacket(entry.seq, entry.payload))
}

// handleFramingError recovers from a malformed frame per spec.md §4.5/§7:
// if Connected, emit a NAK for the current rxSeq; errors while not
// connected are swallowed (handshake bytes may be corrupted during
// initial sync).
func (s *Session) handleFramingError(err error) error {
	s.logger.Debug().Err(err).Msg("sfp: framing error")
	s.notifyRejected(err)
	if s.connectState != Connected {
		return nil
	}
	return s.emit(nakPacket(s.rxSeq))
}

// Write submits an application payload for reliable delivery. It is
// rejected with ErrNotConnected unless the session is Connected.
func (s *Session) Write(payload []byte) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	if s.connectState != Connected {
		return ErrNotConnected
	}
	if s.writeSink == nil {
		return ErrWriteSinkAbsent
	}

	seq := s.txSeq
	s.history.push(seq, payload)
	if err := s.emit(usrPacket(seq, payload)); err != nil {
		return err
	}
	s.txSeq = nextSeq(s.txSeq)
	return nil
}

// emit encodes pkt and hands the bytes to the write sink.
func (s *Session) emit(pkt Packet) error {
	if s.writeSink == nil {
		return ErrWriteSinkAbsent
	}
	wire := encode(pkt)
	n, err := s.writeSink(wire)
	if err != nil {
		return fmt.Errorf("sfp: write sink: %w", err)
	}
	if n != len(wire) {
		return fmt.Errorf("sfp: write sink short write: wrote %d of %d bytes", n, len(wire))
	}
	return nil
}

// enter/leave guard against reentrant calls into the same session from
// inside a callback (spec.md §5: "must not reenter the same session").
func (s *Session) enter() error {
	if s.inCall {
		return fmt.Errorf("sfp: reentrant call into session")
	}
	s.inCall = true
	return nil
}

func (s *Session) leave() {
	s.inCall = false
}
