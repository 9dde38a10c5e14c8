package sfp

// frameState tracks where the codec is within the current frame.
type frameState int

const (
	awaitingHeader frameState = iota
	receivingBody
)

// escState tracks whether the next octet is the target of an escape.
type escState int

const (
	escNormal escState = iota
	escEscaping
)

// codec is the byte-level framer: it folds a raw octet stream into
// Packets (or framing errors) per spec.md §4.2, and encodes Packets back
// into the escaped, CRC-trailed, flag-delimited wire format.
//
// A codec is quiescent (frameState == awaitingHeader, escState ==
// escNormal) any time no frame is in flight — invariant 1.
type codec struct {
	header  byte
	crc     uint16
	frame   frameState
	esc     escState
	payload []byte // body accumulator, CRC trailer included until processFrame
}

func newCodec() *codec {
	c := &codec{}
	c.reset()
	return c
}

// deliver feeds one transport octet into the codec. It returns
// (packet, true, nil) when a frame closed cleanly, (zero, true, err) when
// a frame closed malformed, and (zero, false, nil) when the frame is
// still incomplete.
func (c *codec) deliver(octet byte) (Packet, bool, error) {
	switch octet {
	case flagByte:
		if c.frame == receivingBody {
			pkt, err := c.processFrame()
			return pkt, true, err
		}
		// FLAG while awaiting a header: resync, stay quiescent.
		c.softReset()
		return Packet{}, false, nil

	case escByte:
		c.esc = escEscaping
		return Packet{}, false, nil

	default:
		b := octet
		if c.esc == escEscaping {
			b = octet ^ escXor
			c.esc = escNormal
		}
		c.crc = crcUpdate(c.crc, b)
		if c.frame == awaitingHeader {
			c.header = b
			c.frame = receivingBody
		} else {
			c.payload = append(c.payload, b)
		}
		return Packet{}, false, nil
	}
}

// processFrame is called the moment a closing FLAG is seen while a body
// is being received. It validates length and CRC, then dispatches on the
// header's type bits.
func (c *codec) processFrame() (Packet, error) {
	if len(c.payload) < 2 {
		c.reset()
		return Packet{}, ErrDataTooShort
	}

	if c.crc != crcGood {
		c.softReset()
		return Packet{}, ErrCrcFailed
	}

	body := c.payload[:len(c.payload)-2]
	seq := c.header & 0x3F

	var pkt Packet
	switch frameType(c.header >> 6) {
	case typeUSR:
		pkt = usrPacket(seq, body)
	case typeRTX:
		pkt = rtxPacket(seq, body)
	case typeNAK:
		pkt = nakPacket(seq)
	case typeSYN:
		pkt = synPacket(seq)
	default:
		// Unreachable given a 2-bit type field; kept defensively per spec.md §4.2.
		c.reset()
		return Packet{}, ErrUnknownHeader
	}

	c.reset()
	return pkt, nil
}

// encode renders a Packet into its escaped, CRC-trailed, flag-delimited
// wire form (spec.md §4.2, §6).
func encode(pkt Packet) []byte {
	out := make([]byte, 0, len(pkt.Payload)+8)
	out = append(out, flagByte)

	crc := crcInit
	hdr := header(pkt.Type, pkt.Seq)
	crc = crcUpdate(crc, hdr)
	out = appendEscaped(out, hdr)

	if pkt.Type == typeUSR || pkt.Type == typeRTX {
		for _, b := range pkt.Payload {
			crc = crcUpdate(crc, b)
			out = appendEscaped(out, b)
		}
	}

	trailer := crcTrailer(crc)
	out = appendEscaped(out, trailer[0])
	out = appendEscaped(out, trailer[1])

	out = append(out, flagByte)
	return out
}

// appendEscaped appends b to out, escaping it first if it collides with a
// reserved octet.
func appendEscaped(out []byte, b byte) []byte {
	if b == flagByte || b == escByte {
		return append(out, escByte, b^escXor)
	}
	return append(out, b)
}

// softReset clears header/crc/frame/esc state, discarding whatever body
// bytes were accumulated so far, without disturbing anything else about
// the codec (spec.md §4.2 reset semantics).
func (c *codec) softReset() {
	c.header = 0
	c.crc = crcInit
	c.frame = awaitingHeader
	c.esc = escNormal
	c.payload = c.payload[:0]
}

// reset is a full reset. It is currently identical to softReset: the
// codec holds no state beyond header/crc/frame/esc/payload, so there is
// nothing further to clear (spec.md §9 permits omitting a rescan
// buffer, and this codec never buffers raw octets past a frame
// boundary — each byte is consumed immediately in deliver).
func (c *codec) reset() {
	c.softReset()
}
