package tuya

import (
	"fmt"
	"log/slog"
)

// defaultMTU is GATT_MTU from the Glossary: the maximum bytes per
// notification/write on the GATT characteristic.
const defaultMTU = 20

// maxVarintBytes bounds the 7-bit continuation encoding used for
// packet_num and total_length (Component Design §4.2).
const maxVarintBytes = 5

// putVarint appends v to dst using the fragmenter's 7-bit little-endian
// continuation encoding: low 7 bits per byte, MSB set while more bytes
// follow.
func putVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// readVarint decodes a varint from the front of buf, returning the value,
// the number of bytes consumed, and an error if the encoding is
// truncated or exceeds maxVarintBytes.
func readVarint(buf []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < maxVarintBytes; i++ {
		if i >= len(buf) {
			return 0, 0, fmt.Errorf("varint: truncated: %w", ErrFormat)
		}
		b := buf[i]
		v |= uint64(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("varint: exceeds %d bytes: %w", maxVarintBytes, ErrFormat)
}

// fragmentMessage splits an encrypted buffer into MTU-sized fragments,
// each carrying a packet_num varint; the first fragment additionally
// carries the total_length varint and the protocol-version nibble
// (Component Design §4.2).
func fragmentMessage(buf []byte, mtu int, protocolVersion uint8) [][]byte {
	if mtu <= 0 {
		mtu = defaultMTU
	}

	var fragments [][]byte
	offset := 0
	packetNum := uint64(0)

	for {
		header := putVarint(nil, packetNum)
		if packetNum == 0 {
			header = putVarint(header, uint64(len(buf)))
			header = append(header, protocolVersion<<4)
		}

		room := mtu - len(header)
		if room < 0 {
			room = 0
		}
		end := offset + room
		if end > len(buf) {
			end = len(buf)
		}

		frag := append(header, buf[offset:end]...)
		fragments = append(fragments, frag)

		offset = end
		packetNum++

		if offset >= len(buf) {
			break
		}
	}

	return fragments
}

// reassembler implements the fragmenter's receive-side state machine
// (Component Design §4.2). A single instance is reused across a
// session's lifetime and reset whenever framing is violated.
type reassembler struct {
	expectedPacketNum uint64
	expectedLength    int
	protocolVersion   uint8
	buf               []byte
	active            bool
}

// reset discards any in-progress reassembly, e.g. on framing violation
// or disconnect ("clear input reassembly state").
func (r *reassembler) reset() {
	r.expectedPacketNum = 0
	r.expectedLength = 0
	r.protocolVersion = 0
	r.buf = nil
	r.active = false
}

// feed processes one inbound fragment. It returns a completed encrypted
// buffer once the declared total_length has been reassembled, or nil if
// more fragments are still expected.
func (r *reassembler) feed(log *slog.Logger, frag []byte) ([]byte, error) {
	packetNum, n, err := readVarint(frag)
	if err != nil {
		r.reset()
		return nil, err
	}
	rest := frag[n:]

	switch {
	case packetNum < r.expectedPacketNum:
		log.Warn("fragment out of order, resetting reassembly",
			slog.Uint64("got", packetNum), slog.Uint64("want", r.expectedPacketNum))
		r.reset()
		return nil, nil

	case packetNum == 0:
		totalLen, tn, err := readVarint(rest)
		if err != nil {
			r.reset()
			return nil, err
		}
		rest = rest[tn:]
		if len(rest) < 1 {
			r.reset()
			return nil, fmt.Errorf("fragment 0: missing version byte: %w", ErrFormat)
		}
		r.protocolVersion = rest[0] >> 4
		r.buf = append([]byte(nil), rest[1:]...)
		r.expectedLength = int(totalLen)
		r.expectedPacketNum = 1
		r.active = true

	case packetNum == r.expectedPacketNum:
		if !r.active {
			// A non-zero packet_num with no fragment 0 observed yet.
			return nil, nil
		}
		r.buf = append(r.buf, rest...)
		r.expectedPacketNum++

	default: // packetNum > expected
		log.Warn("missing fragment, resetting reassembly",
			slog.Uint64("got", packetNum), slog.Uint64("want", r.expectedPacketNum))
		r.reset()
		return nil, nil
	}

	if len(r.buf) > r.expectedLength {
		log.Warn("reassembly buffer exceeded expected length, resetting",
			slog.Int("buf", len(r.buf)), slog.Int("expected", r.expectedLength))
		r.reset()
		return nil, nil
	}

	if len(r.buf) == r.expectedLength {
		out := r.buf
		r.reset()
		return out, nil
	}

	return nil, nil
}
