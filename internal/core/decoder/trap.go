package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"firestige.xyz/trapd/internal/core"
)

// TrapDecoder decodes SNMPv1 and SNMPv2c trap messages.
// It holds no per-datagram state and is safe for concurrent use.
type TrapDecoder struct {
	labels core.LabelTable
}

// NewTrapDecoder creates a decoder that names varbinds using labels.
func NewTrapDecoder(labels core.LabelTable) *TrapDecoder {
	return &TrapDecoder{labels: labels}
}

// diagnostics accumulates anomaly notes for one datagram.
type diagnostics []string

func (d *diagnostics) add(format string, args ...any) {
	*d = append(*d, fmt.Sprintf(format, args...))
}

func (d diagnostics) String() string {
	return strings.Join(d, "; ")
}

// errStop ends decoding early without discarding what was decoded.
var errStop = errors.New("stop")

// Decode decodes d into a record. Structural anomalies are noted and
// decoding continues; buffer exhaustion and over-long length fields abort
// this datagram, leaving only the source, diagnostics and FullHex.
func (td *TrapDecoder) Decode(d core.RawDatagram) core.TrapRecord {
	rec := core.TrapRecord{
		ID:            uuid.NewString(),
		Timestamp:     d.Timestamp,
		SourceAddress: d.SrcAddr.String(),
		SourcePort:    int(d.SrcPort),
		FullHex:       HexString(d.Payload),
	}
	if !d.SrcAddr.IsValid() {
		rec.SourceAddress = ""
	}

	var diag diagnostics
	state := &trapState{c: NewCursor(d.Payload), diag: &diag, labels: td.labels}

	err := state.decodeMessage(&rec)
	if err != nil && !errors.Is(err, errStop) {
		diag.add("decode aborted at offset %d while reading %s: %v", state.c.Pos(), state.field, err)
		rec = core.TrapRecord{
			ID:            rec.ID,
			Timestamp:     rec.Timestamp,
			SourceAddress: rec.SourceAddress,
			SourcePort:    rec.SourcePort,
			FullHex:       rec.FullHex,
		}
	}
	rec.Diagnostics = diag.String()
	return rec
}

// trapState carries the cursor and diagnostics through one decode.
type trapState struct {
	c      *Cursor
	diag   *diagnostics
	labels core.LabelTable
	field  string // field currently being read, for abort messages
}

func (s *trapState) decodeMessage(rec *core.TrapRecord) error {
	msgLen, err := s.expectHeader(TagSequence, "message")
	if err != nil {
		return err
	}
	msgEnd := s.c.Pos() + msgLen

	version, err := s.readInteger("version")
	if err != nil {
		return err
	}
	rec.SNMPVersion = core.VersionString(version)
	if version == 3 {
		s.diag.add("SNMPv3 messages are not supported")
		return errStop
	}

	community, err := s.readOctets(TagOctetString, "community")
	if err != nil {
		return err
	}
	rec.Community = asciiString(community)

	s.field = "pdu type"
	pduTag, err := s.c.ReadByte()
	if err != nil {
		return err
	}
	switch pduTag {
	case TagTrapV2:
		rec.PDUKind = core.PDUTrapV2
	case TagTrapV1:
		rec.PDUKind = core.PDUTrapV1
	default:
		s.diag.add("unsupported PDU type 0x%02X at offset %d", pduTag, s.c.Pos()-1)
		return errStop
	}
	pduLen, err := s.checkedLength("pdu")
	if err != nil {
		return err
	}
	pduEnd := s.c.Pos() + pduLen

	if rec.PDUKind == core.PDUTrapV2 {
		info, err := s.decodeV2Header()
		if err != nil {
			return err
		}
		rec.RequestInfo.V2 = info
	} else {
		info, err := s.decodeV1Header()
		if err != nil {
			return err
		}
		rec.RequestInfo.V1 = info
	}

	varBinds, err := s.decodeVarBindList()
	if err != nil {
		return err
	}
	rec.VarBinds = varBinds

	s.checkEnds(pduEnd, msgEnd)
	return nil
}

// checkEnds compares where decoding stopped with the declared PDU and
// message boundaries. Declared ends past the buffer were already noted
// when the length was read.
func (s *trapState) checkEnds(pduEnd, msgEnd int) {
	pos, size := s.c.Pos(), s.c.Len()

	switch {
	case pos > pduEnd:
		s.diag.add("pdu overruns its declared length by %d bytes", pos-pduEnd)
	case pos < pduEnd && pduEnd <= size:
		s.diag.add("pdu has %d unexpected trailing bytes", pduEnd-pos)
		pos = pduEnd
	}

	switch {
	case pos > msgEnd:
		s.diag.add("message overruns its declared length by %d bytes", pos-msgEnd)
	case pos < msgEnd && msgEnd <= size:
		s.diag.add("%d bytes after PDU inside declared message", msgEnd-pos)
		pos = msgEnd
	}

	if pos < size {
		s.diag.add("%d bytes after declared message end", size-pos)
	}
}

func (s *trapState) decodeV2Header() (*core.TrapV2Info, error) {
	info := &core.TrapV2Info{}
	var err error
	if info.RequestID, err = s.readInteger("request-id"); err != nil {
		return nil, err
	}
	if info.ErrorStatus, err = s.readInteger("error-status"); err != nil {
		return nil, err
	}
	if info.ErrorIndex, err = s.readInteger("error-index"); err != nil {
		return nil, err
	}
	if info.ErrorStatus != 0 {
		s.diag.add("non-zero error-status %d on trap PDU", info.ErrorStatus)
	}
	if info.ErrorIndex != 0 {
		s.diag.add("non-zero error-index %d on trap PDU", info.ErrorIndex)
	}
	return info, nil
}

func (s *trapState) decodeV1Header() (*core.TrapV1Info, error) {
	info := &core.TrapV1Info{}

	enterprise, err := s.readOctets(TagOID, "enterprise")
	if err != nil {
		return nil, err
	}
	info.Enterprise = formatOID(enterprise)

	agent, err := s.readOctets(TagIPAddress, "agent-addr")
	if err != nil {
		return nil, err
	}
	if len(agent) == 4 {
		info.AgentAddress = formatIPv4(agent)
	} else {
		s.diag.add("agent-addr has %d bytes, expected 4", len(agent))
		info.AgentAddress = HexString(agent)
	}

	if info.GenericTrap, err = s.readInteger("generic-trap"); err != nil {
		return nil, err
	}
	if info.SpecificTrap, err = s.readInteger("specific-trap"); err != nil {
		return nil, err
	}

	ticks, err := s.readOctets(TagTimeTicks, "time-stamp")
	if err != nil {
		return nil, err
	}
	if len(ticks) > 5 || (len(ticks) == 5 && ticks[0] != 0) {
		s.diag.add("time-stamp has %d bytes, truncated to 32 bits", len(ticks))
	}
	info.TimeTicks = uint32(parseUnsigned(ticks))
	return info, nil
}

func (s *trapState) decodeVarBindList() ([]core.VarBind, error) {
	length, err := s.expectHeader(TagSequence, "varbind list")
	if err != nil {
		return nil, err
	}
	end := s.c.Pos() + length
	if end > s.c.Len() {
		end = s.c.Len()
	}

	var varBinds []core.VarBind
	for s.c.Pos() < end {
		index := len(varBinds)
		vbLen, err := s.expectHeader(TagSequence, fmt.Sprintf("varbind %d", index))
		if err != nil {
			return nil, err
		}
		vbEnd := s.c.Pos() + vbLen

		oidBytes, err := s.readOctets(TagOID, fmt.Sprintf("varbind %d name", index))
		if err != nil {
			return nil, err
		}
		oid := formatOID(oidBytes)

		s.field = fmt.Sprintf("varbind %d value", index)
		tag, err := s.c.ReadByte()
		if err != nil {
			return nil, err
		}
		valueLen, err := DecodeLength(s.c)
		if err != nil {
			return nil, err
		}
		value, err := DecodeValue(s.c, valueLen, tag)
		if err != nil {
			return nil, err
		}

		varBinds = append(varBinds, core.VarBind{
			OID:   oid,
			Name:  s.labels.Name(oid),
			Value: value,
		})

		switch pos := s.c.Pos(); {
		case pos < vbEnd && vbEnd <= end:
			s.diag.add("varbind %d has %d unexpected trailing bytes", index, vbEnd-pos)
			if err := s.c.Seek(vbEnd); err != nil {
				return nil, err
			}
		case pos > vbEnd:
			s.diag.add("varbind %d overruns its declared length by %d bytes", index, pos-vbEnd)
		}
	}
	if s.c.Pos() > end {
		s.diag.add("varbind list overruns its declared length by %d bytes", s.c.Pos()-end)
	}
	return varBinds, nil
}

// expectHeader reads a tag and length. A mismatched tag or a length larger
// than the remaining buffer is noted but not fatal.
func (s *trapState) expectHeader(want byte, field string) (int, error) {
	s.field = field
	offset := s.c.Pos()
	tag, err := s.c.ReadByte()
	if err != nil {
		return 0, err
	}
	if tag != want {
		s.diag.add("expected %s tag 0x%02X at offset %d, got 0x%02X", field, want, offset, tag)
	}
	return s.checkedLength(field)
}

func (s *trapState) checkedLength(field string) (int, error) {
	s.field = field + " length"
	length, err := DecodeLength(s.c)
	if err != nil {
		return 0, err
	}
	if rest := s.c.Remaining(); length > rest {
		s.diag.add("%s length %d exceeds remaining %d bytes", field, length, rest)
	}
	s.field = field
	return length, nil
}

// readOctets reads a complete TLV and returns its value bytes.
func (s *trapState) readOctets(want byte, field string) ([]byte, error) {
	length, err := s.expectHeader(want, field)
	if err != nil {
		return nil, err
	}
	return s.c.Take(length)
}

func (s *trapState) readInteger(field string) (int64, error) {
	raw, err := s.readOctets(TagInteger, field)
	if err != nil {
		return 0, err
	}
	if len(raw) > 8 {
		s.diag.add("%s has %d bytes, truncated to 64 bits", field, len(raw))
		raw = raw[len(raw)-8:]
	}
	return parseInteger(raw), nil
}
