package llmq

import (
	"encoding/binary"
	"errors"
)

var errShortBuffer = errors.New("llmq: short buffer while decoding wire message")

// appendCompactSize appends a Bitcoin/Dash-style compact-size encoded
// integer to buf (spec.md §6, "compact-size lengths").
func appendCompactSize(buf []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(buf, byte(n))
	case n <= 0xffff:
		buf = append(buf, 0xfd)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(n))
		return append(buf, tmp[:]...)
	case n <= 0xffffffff:
		buf = append(buf, 0xfe)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(n))
		return append(buf, tmp[:]...)
	default:
		buf = append(buf, 0xff)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], n)
		return append(buf, tmp[:]...)
	}
}

// readCompactSize reads a compact-size integer from the front of data,
// returning its value and the number of bytes consumed.
func readCompactSize(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, errShortBuffer
	}
	switch first := data[0]; {
	case first < 0xfd:
		return uint64(first), 1, nil
	case first == 0xfd:
		if len(data) < 3 {
			return 0, 0, errShortBuffer
		}
		return uint64(binary.LittleEndian.Uint16(data[1:3])), 3, nil
	case first == 0xfe:
		if len(data) < 5 {
			return 0, 0, errShortBuffer
		}
		return uint64(binary.LittleEndian.Uint32(data[1:5])), 5, nil
	default:
		if len(data) < 9 {
			return 0, 0, errShortBuffer
		}
		return binary.LittleEndian.Uint64(data[1:9]), 9, nil
	}
}

// appendBytesWithLen appends a compact-size length prefix followed by the
// bytes themselves, the generic "compact-size · N bytes" shape used for
// verification vectors, encrypted share sets, and justification lists
// (spec.md §6 wire-type table).
func appendBytesWithLen(buf []byte, b []byte) []byte {
	buf = appendCompactSize(buf, uint64(len(b)))
	return append(buf, b...)
}

func readBytesWithLen(data []byte) ([]byte, int, error) {
	n, consumed, err := readCompactSize(data)
	if err != nil {
		return nil, 0, err
	}
	end := consumed + int(n)
	if len(data) < end {
		return nil, 0, errShortBuffer
	}
	return data[consumed:end], end, nil
}
