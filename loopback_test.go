package sfp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// decodeWire is the rapid-test counterpart of decodeAll: it has no
// dependency on *testing.T so it can run inside rapid.Check's property
// function, which only hands back a *rapid.T.
func decodeWire(wire []byte) (Packet, error, int) {
	c := newCodec()
	var got Packet
	var gotErr error
	n := 0
	for _, b := range wire {
		pkt, complete, err := c.deliver(b)
		if complete {
			got, gotErr, n = pkt, err, n+1
		}
	}
	return got, gotErr, n
}

// TestPropertyRoundTrip is invariant 1 from spec.md §8, generalized over
// arbitrary payloads, sequence numbers, and all four frame types.
func TestPropertyRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seq := byte(rapid.IntRange(0, 63).Draw(rt, "seq"))
		payload := rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(rt, "payload")
		kind := rapid.IntRange(0, 3).Draw(rt, "kind")

		var pkt Packet
		switch kind {
		case 0:
			pkt = usrPacket(seq, payload)
		case 1:
			pkt = rtxPacket(seq, payload)
		case 2:
			pkt = nakPacket(seq)
		default:
			pkt = synPacket(seq)
		}

		got, err, n := decodeWire(encode(pkt))
		if n != 1 || err != nil {
			rt.Fatalf("round trip did not produce exactly one clean frame: n=%d err=%v", n, err)
		}
		if got.Type != pkt.Type || got.Seq != pkt.Seq {
			rt.Fatalf("round trip mismatch: got %v want %v", got, pkt)
		}
		if (pkt.Type == typeUSR || pkt.Type == typeRTX) && !bytes.Equal(got.Payload, pkt.Payload) {
			rt.Fatalf("payload mismatch: got % x want % x", got.Payload, pkt.Payload)
		}
	})
}

// TestPropertyChunkingEquivalence is invariant 2 from spec.md §8: the
// decoded result must not depend on how the transport happens to chunk
// the octet stream.
func TestPropertyChunkingEquivalence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seq := byte(rapid.IntRange(0, 63).Draw(rt, "seq"))
		payload := rapid.SliceOfN(rapid.Byte(), 0, 48).Draw(rt, "payload")
		wire := encode(usrPacket(seq, payload))

		baseline, baseErr, baseN := decodeWire(wire)
		if baseN != 1 || baseErr != nil {
			rt.Fatalf("baseline decode failed: n=%d err=%v", baseN, baseErr)
		}

		nChunks := rapid.IntRange(1, len(wire)+1).Draw(rt, "chunks")
		c := newCodec()
		var chunked Packet
		n := 0
		pos := 0
		for i := 0; i < nChunks && pos < len(wire); i++ {
			chunksLeft := nChunks - i
			size := (len(wire) - pos) / chunksLeft
			if size == 0 {
				size = 1
			}
			end := pos + size
			if end > len(wire) {
				end = len(wire)
			}
			for _, b := range wire[pos:end] {
				pkt, complete, err := c.deliver(b)
				if complete {
					chunked, n = pkt, n+1
					_ = err
				}
			}
			pos = end
		}
		if n != 1 {
			rt.Fatalf("chunked decode produced %d frames, want 1", n)
		}
		if baseline.Seq != chunked.Seq || !bytes.Equal(baseline.Payload, chunked.Payload) {
			rt.Fatalf("chunking changed the decoded result: %v vs %v", baseline, chunked)
		}
	})
}

// TestPropertyEscapeTransparency is invariant 3 from spec.md §8: a payload
// containing raw FLAG/ESC octets must survive encode/decode unchanged, and
// the only unescaped FLAG bytes on the wire are the two frame delimiters.
func TestPropertyEscapeTransparency(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seq := byte(rapid.IntRange(0, 63).Draw(rt, "seq"))
		payload := rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(rt, "payload")
		wire := encode(usrPacket(seq, payload))

		for i, b := range wire {
			if b == flagByte && i != 0 && i != len(wire)-1 {
				rt.Fatalf("unescaped FLAG inside frame body at index %d: % x", i, wire)
			}
		}

		got, err, n := decodeWire(wire)
		if err != nil || n != 1 {
			rt.Fatalf("decode failed: err=%v n=%d", err, n)
		}
		if !bytes.Equal(got.Payload, payload) {
			rt.Fatalf("payload not transparently carried: got % x want % x", got.Payload, payload)
		}
	})
}

// TestPropertyCrcDetectsSingleBitFlip is invariant 4 from spec.md §8: any
// single-bit corruption of a completed frame's non-delimiter bytes is
// caught by the CRC rather than silently accepted.
func TestPropertyCrcDetectsSingleBitFlip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seq := byte(rapid.IntRange(0, 63).Draw(rt, "seq"))
		payload := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(rt, "payload")
		wire := encode(usrPacket(seq, payload))
		if len(wire) <= 2 {
			return
		}

		idx := rapid.IntRange(1, len(wire)-2).Draw(rt, "flip_index")
		bit := rapid.IntRange(0, 7).Draw(rt, "flip_bit")

		flipped := append([]byte(nil), wire...)
		flipped[idx] ^= 1 << uint(bit)
		if flipped[idx] == flagByte || flipped[idx] == escByte {
			return // a flip that lands on a reserved octet changes framing, not just content
		}

		_, err, n := decodeWire(flipped)
		if n == 1 && err == nil {
			rt.Fatalf("single-bit corruption at wire index %d went undetected", idx)
		}
	})
}

// wireSession returns a WriteSink that appends encoded frames to out,
// standing in for the transport stream between two Sessions under test.
func wireSession(out *[]byte) WriteSink {
	return func(p []byte) (int, error) {
		*out = append(*out, p...)
		return len(p), nil
	}
}

// pump drains aOut into b.Deliver and bOut into a.Deliver until both are
// empty, so any cascade of reactive emissions (NAK, RTX, SYN replies)
// settles before the test makes an assertion. Sessions are single-threaded
// per spec.md §5, so this is plain sequential draining, not goroutines.
func pump(t *testing.T, a, b *Session, aOut, bOut *[]byte) {
	t.Helper()
	for len(*aOut) > 0 || len(*bOut) > 0 {
		for len(*aOut) > 0 {
			octet := (*aOut)[0]
			*aOut = (*aOut)[1:]
			_, err := b.Deliver(octet)
			require.NoError(t, err)
		}
		for len(*bOut) > 0 {
			octet := (*bOut)[0]
			*bOut = (*bOut)[1:]
			_, err := a.Deliver(octet)
			require.NoError(t, err)
		}
	}
}

// TestS1Handshake is literal scenario S1 from spec.md §8.
func TestS1Handshake(t *testing.T) {
	var aOut, bOut []byte
	a := NewSession(nil, WithWriteSink(wireSession(&aOut)))
	b := NewSession(nil, WithWriteSink(wireSession(&bOut)))

	require.NoError(t, a.Connect())
	pump(t, a, b, &aOut, &bOut)

	require.Equal(t, Connected, a.ConnectState())
	require.Equal(t, Connected, b.ConnectState())
}

// TestInvariant9HandshakeIdempotentFromEitherSide is invariant 9 from
// spec.md §8: the handshake converges to the same Connected state
// regardless of which peer initiates it.
func TestInvariant9HandshakeIdempotentFromEitherSide(t *testing.T) {
	var aOut, bOut []byte
	a := NewSession(nil, WithWriteSink(wireSession(&aOut)))
	b := NewSession(nil, WithWriteSink(wireSession(&bOut)))

	require.NoError(t, b.Connect()) // b initiates instead of a
	pump(t, a, b, &aOut, &bOut)

	require.Equal(t, Connected, a.ConnectState())
	require.Equal(t, Connected, b.ConnectState())
}

// TestS2SingleWriteDelivers is literal scenario S2 from spec.md §8.
func TestS2SingleWriteDelivers(t *testing.T) {
	var aOut, bOut []byte
	var delivered []byte
	a := NewSession(nil, WithWriteSink(wireSession(&aOut)))
	b := NewSession(nil, WithWriteSink(wireSession(&bOut)),
		WithDeliverFunc(func(p []byte) { delivered = append(delivered, p...) }))

	require.NoError(t, a.Connect())
	pump(t, a, b, &aOut, &bOut)

	require.NoError(t, a.Write([]byte("Hi")))
	pump(t, a, b, &aOut, &bOut)

	require.Equal(t, []byte("Hi"), delivered)
}

// TestS4CorruptionTriggersNakThenRtx is literal scenario S4 from
// spec.md §8: a corrupted frame provokes a NAK, which provokes a
// retransmission that the peer ultimately delivers.
func TestS4CorruptionTriggersNakThenRtx(t *testing.T) {
	var aOut, bOut []byte
	var delivered []byte
	a := NewSession(nil, WithWriteSink(wireSession(&aOut)))
	b := NewSession(nil, WithWriteSink(wireSession(&bOut)),
		WithDeliverFunc(func(p []byte) { delivered = append(delivered, p...) }))

	require.NoError(t, a.Connect())
	pump(t, a, b, &aOut, &bOut)

	require.NoError(t, a.Write([]byte("Hi")))
	require.NotEmpty(t, aOut)

	wire := append([]byte(nil), aOut...)
	aOut = aOut[:0]
	wire[2] ^= 0xFF // corrupt the first payload byte, leaving framing intact

	for _, octet := range wire {
		_, err := b.Deliver(octet)
		require.NoError(t, err)
	}
	require.Empty(t, delivered, "corrupted frame must not be delivered")
	require.NotEmpty(t, bOut, "b must have reacted with a NAK")

	pump(t, a, b, &aOut, &bOut)
	require.Equal(t, []byte("Hi"), delivered)
}
