// Package bertest builds BER-encoded SNMP trap messages for tests.
package bertest

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// Length encodes n in BER short or long form.
func Length(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return append([]byte{0x80 | byte(8-i)}, buf[i:]...)
}

// TLV encodes tag, length and the concatenated content.
func TLV(tag byte, content ...[]byte) []byte {
	body := Concat(content...)
	out := append([]byte{tag}, Length(len(body))...)
	return append(out, body...)
}

// Concat joins byte slices.
func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// IntBytes returns the minimal two's-complement encoding of v.
func IntBytes(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	i := 0
	for i < 7 && ((buf[i] == 0x00 && buf[i+1]&0x80 == 0) || (buf[i] == 0xFF && buf[i+1]&0x80 != 0)) {
		i++
	}
	return append([]byte(nil), buf[i:]...)
}

// UintBytes returns the minimal unsigned encoding of v, with a leading zero
// when the high bit would otherwise be set.
func UintBytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	out := append([]byte(nil), buf[i:]...)
	if out[0]&0x80 != 0 {
		out = append([]byte{0}, out...)
	}
	return out
}

// OIDBytes encodes a dotted OID. It panics on malformed input.
func OIDBytes(oid string) []byte {
	if oid == "" {
		return nil
	}
	parts := strings.Split(oid, ".")
	arcs := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			panic("bertest: bad OID " + oid)
		}
		arcs[i] = v
	}

	var out []byte
	first := arcs[0] * 40
	if len(arcs) > 1 {
		first += arcs[1]
	}
	out = appendBase128(out, first)
	for _, arc := range arcs[min(2, len(arcs)):] {
		out = appendBase128(out, arc)
	}
	return out
}

func appendBase128(out []byte, v uint64) []byte {
	var tmp [10]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7F)
	v >>= 7
	for v > 0 {
		i--
		tmp[i] = byte(v&0x7F) | 0x80
		v >>= 7
	}
	return append(out, tmp[i:]...)
}

// Integer encodes an INTEGER TLV.
func Integer(v int64) []byte { return TLV(0x02, IntBytes(v)) }

// OctetString encodes an OCTET STRING TLV.
func OctetString(s string) []byte { return TLV(0x04, []byte(s)) }

// OID encodes an OBJECT IDENTIFIER TLV.
func OID(oid string) []byte { return TLV(0x06, OIDBytes(oid)) }

// IPAddress encodes an IpAddress TLV.
func IPAddress(a, b, c, d byte) []byte { return TLV(0x40, []byte{a, b, c, d}) }

// TimeTicks encodes a TimeTicks TLV.
func TimeTicks(v uint32) []byte { return TLV(0x43, UintBytes(uint64(v))) }

// VarBind encodes SEQUENCE{OID, value}; value is a complete TLV.
func VarBind(oid string, value []byte) []byte {
	return TLV(0x30, OID(oid), value)
}

// V2Trap encodes an SNMPv2c trap message.
func V2Trap(community string, requestID int64, varBinds ...[]byte) []byte {
	pdu := TLV(0xA7,
		Integer(requestID),
		Integer(0),
		Integer(0),
		TLV(0x30, varBinds...),
	)
	return TLV(0x30, Integer(1), OctetString(community), pdu)
}

// V1Header holds the SNMPv1 Trap-PDU header fields.
type V1Header struct {
	Enterprise   string
	Agent        [4]byte
	GenericTrap  int64
	SpecificTrap int64
	TimeTicks    uint32
}

// V1Trap encodes an SNMPv1 trap message.
func V1Trap(community string, h V1Header, varBinds ...[]byte) []byte {
	pdu := TLV(0xA4,
		OID(h.Enterprise),
		IPAddress(h.Agent[0], h.Agent[1], h.Agent[2], h.Agent[3]),
		Integer(h.GenericTrap),
		Integer(h.SpecificTrap),
		TimeTicks(h.TimeTicks),
		TLV(0x30, varBinds...),
	)
	return TLV(0x30, Integer(0), OctetString(community), pdu)
}
