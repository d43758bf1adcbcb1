package decoder

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"firestige.xyz/trapd/internal/core"
)

// BER tags understood by the trap decoder.
const (
	TagInteger     byte = 0x02
	TagOctetString byte = 0x04
	TagNull        byte = 0x05
	TagOID         byte = 0x06
	TagSequence    byte = 0x30
	TagIPAddress   byte = 0x40
	TagCounter32   byte = 0x41
	TagGauge32     byte = 0x42
	TagTimeTicks   byte = 0x43
	TagCounter64   byte = 0x46
	TagTrapV1      byte = 0xA4
	TagTrapV2      byte = 0xA7
)

// maxLengthBytes bounds the long-form length encoding.
const maxLengthBytes = 4

// Cursor is a read position over one datagram.
// Each decode owns its cursor; the underlying bytes are never modified.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a cursor at offset 0 of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Pos returns the current offset.
func (c *Cursor) Pos() int { return c.pos }

// Len returns the total buffer length.
func (c *Cursor) Len() int { return len(c.buf) }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// ReadByte consumes one byte.
func (c *Cursor) ReadByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, core.ErrBufferExhausted
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// PeekByte returns the next byte without consuming it.
func (c *Cursor) PeekByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, core.ErrBufferExhausted
	}
	return c.buf[c.pos], nil
}

// Take consumes n bytes and returns them as a sub-slice of the buffer.
func (c *Cursor) Take(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d: %w",
			n, c.pos, c.Remaining(), core.ErrBufferExhausted)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Seek moves the cursor to an absolute offset within the buffer.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return fmt.Errorf("seek to %d outside buffer of %d bytes: %w", pos, len(c.buf), core.ErrBufferExhausted)
	}
	c.pos = pos
	return nil
}

// DecodeLength reads a BER length field.
// Short form is one byte below 0x80; long form is 0x80|n followed by n
// big-endian bytes, with n limited to 4.
func DecodeLength(c *Cursor) (int, error) {
	first, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	if first&0x80 == 0 {
		return int(first), nil
	}

	count := int(first & 0x7F)
	if count > maxLengthBytes {
		return 0, fmt.Errorf("%d length bytes at offset %d: %w", count, c.pos-1, core.ErrLengthTooLong)
	}
	raw, err := c.Take(count)
	if err != nil {
		return 0, err
	}

	var length uint64
	for _, b := range raw {
		length = length<<8 | uint64(b)
	}
	return int(length), nil
}

// DecodeObjectIdentifier consumes n bytes and renders them as a dotted OID.
func DecodeObjectIdentifier(c *Cursor, n int) (string, error) {
	raw, err := c.Take(n)
	if err != nil {
		return "", err
	}
	return formatOID(raw), nil
}

func formatOID(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	var sb strings.Builder
	var acc uint64
	first := true
	pending := false

	emit := func(v uint64) {
		if first {
			switch {
			case v < 40:
				sb.WriteString("0.")
				sb.WriteString(strconv.FormatUint(v, 10))
			case v < 80:
				sb.WriteString("1.")
				sb.WriteString(strconv.FormatUint(v-40, 10))
			default:
				sb.WriteString("2.")
				sb.WriteString(strconv.FormatUint(v-80, 10))
			}
			first = false
			return
		}
		sb.WriteByte('.')
		sb.WriteString(strconv.FormatUint(v, 10))
	}

	for _, b := range raw {
		acc = acc<<7 | uint64(b&0x7F)
		pending = true
		if b&0x80 == 0 {
			emit(acc)
			acc = 0
			pending = false
		}
	}
	// Dangling continuation byte: keep what was accumulated.
	if pending {
		emit(acc)
	}
	return sb.String()
}

// DecodeValue consumes length bytes and renders them according to tag.
// Unknown tags are rendered as "[Tag 0xHH: <hex>]" rather than failing.
func DecodeValue(c *Cursor, length int, tag byte) (string, error) {
	raw, err := c.Take(length)
	if err != nil {
		return "", err
	}
	return RenderValue(tag, raw), nil
}

// RenderValue renders already-extracted value bytes for tag.
func RenderValue(tag byte, raw []byte) string {
	switch tag {
	case TagInteger:
		return formatInteger(raw)
	case TagOctetString:
		return formatOctetString(raw)
	case TagNull:
		return "NULL"
	case TagOID:
		return formatOID(raw)
	case TagIPAddress:
		if len(raw) == 4 {
			return formatIPv4(raw)
		}
		return HexString(raw)
	case TagCounter32, TagGauge32, TagCounter64:
		return strconv.FormatUint(parseUnsigned(raw), 10)
	case TagTimeTicks:
		return "TimeTicks(" + strconv.FormatUint(uint64(uint32(parseUnsigned(raw))), 10) + ")"
	default:
		return fmt.Sprintf("[Tag 0x%02X: %s]", tag, HexString(raw))
	}
}

// parseInteger decodes big-endian two's complement into int64.
// Callers must ensure len(raw) <= 8.
func parseInteger(raw []byte) int64 {
	if len(raw) == 0 {
		return 0
	}
	var v int64
	if raw[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range raw {
		v = v<<8 | int64(b)
	}
	return v
}

// parseUnsigned decodes big-endian unsigned bytes into 64 bits.
// Bytes beyond 64 bits of significance are shifted out.
func parseUnsigned(raw []byte) uint64 {
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v
}

func formatInteger(raw []byte) string {
	if len(raw) <= 8 {
		return strconv.FormatInt(parseInteger(raw), 10)
	}
	n := new(big.Int).SetBytes(raw)
	if raw[0]&0x80 != 0 {
		// Subtract 2^(8*len) to get the negative two's-complement value.
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(raw)*8)))
	}
	return n.String()
}

func formatOctetString(raw []byte) string {
	if isPrintable(raw) {
		return `"` + string(raw) + `"`
	}
	return HexString(raw)
}

func isPrintable(raw []byte) bool {
	for _, b := range raw {
		if b < 0x20 || b > 0x7E {
			return false
		}
	}
	return true
}

func formatIPv4(raw []byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", raw[0], raw[1], raw[2], raw[3])
}

// asciiString decodes bytes as ASCII, replacing anything above 0x7F with '?'.
func asciiString(raw []byte) string {
	out := make([]byte, len(raw))
	for i, b := range raw {
		if b > 0x7F {
			out[i] = '?'
			continue
		}
		out[i] = b
	}
	return string(out)
}

const hexDigits = "0123456789ABCDEF"

// HexString renders bytes as uppercase hex pairs separated by single spaces.
func HexString(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	out := make([]byte, len(raw)*3-1)
	for i, b := range raw {
		j := i * 3
		if i > 0 {
			out[j-1] = ' '
		}
		out[j] = hexDigits[b>>4]
		out[j+1] = hexDigits[b&0x0F]
	}
	return string(out)
}
