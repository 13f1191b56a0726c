package instrument

import (
	"bytes"
	"fmt"
)

// cursor is a bounds-checked reader over a wasm binary payload.
type cursor struct {
	buf []byte
	pos int
}

var errTruncated = fmt.Errorf("unexpected end of section")

func (c *cursor) len() int {
	return len(c.buf) - c.pos
}

func (c *cursor) byte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, errTruncated
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) bytes(n uint32) ([]byte, error) {
	if uint32(c.len()) < n {
		return nil, errTruncated
	}
	b := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return b, nil
}

// uleb32 reads an unsigned LEB128 value of at most 32 bits.
func (c *cursor) uleb32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := c.byte()
		if err != nil {
			return 0, err
		}
		if shift == 28 && b > 0x0F {
			return 0, fmt.Errorf("leb128 value exceeds 32 bits")
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift > 28 {
			return 0, fmt.Errorf("leb128 value exceeds 32 bits")
		}
	}
}

// sleb64 reads a signed LEB128 value of at most 64 bits.
func (c *cursor) sleb64() (int64, error) {
	var result int64
	var shift uint
	for {
		b, err := c.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
		if shift >= 70 {
			return 0, fmt.Errorf("leb128 value exceeds 64 bits")
		}
	}
}

// sleb33 reads the signed 33-bit LEB128 used by block types.
func (c *cursor) sleb33() (int64, error) {
	var result int64
	var shift uint
	for {
		b, err := c.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
		if shift > 35 {
			return 0, fmt.Errorf("block type exceeds 33 bits")
		}
	}
}

func writeUleb(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeSleb(buf *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

func writeName(buf *bytes.Buffer, s string) {
	writeUleb(buf, uint64(len(s)))
	buf.WriteString(s)
}
