// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// PDUKind identifies the trap PDU variant carried by a message.
type PDUKind string

const (
	PDUTrapV1 PDUKind = "TrapV1" // tag 0xA4
	PDUTrapV2 PDUKind = "TrapV2" // tag 0xA7
)

// SNMP version labels derived from the wire version field.
const (
	VersionV1  = "SNMPv1"
	VersionV2c = "SNMPv2c"
)

// VersionString renders the wire version field: 0 is SNMPv1, 1 is SNMPv2c,
// anything else is SNMPv{n+1}.
func VersionString(n int64) string {
	switch n {
	case 0:
		return VersionV1
	case 1:
		return VersionV2c
	default:
		return "SNMPv" + strconv.FormatInt(n+1, 10)
	}
}

// VarBind is one decoded variable binding.
type VarBind struct {
	OID   string `json:"oid"`   // Raw dotted OID
	Name  string `json:"name"`  // Label for well-known OIDs, otherwise the OID
	Value string `json:"value"` // Rendered value
}

func (v VarBind) String() string {
	return v.Name + ": " + v.Value
}

// TrapV1Info holds the fields specific to an SNMPv1 Trap-PDU.
type TrapV1Info struct {
	Enterprise   string `json:"enterprise"`
	AgentAddress string `json:"agent_address"`
	GenericTrap  int64  `json:"generic_trap"`
	SpecificTrap int64  `json:"specific_trap"`
	TimeTicks    uint32 `json:"time_ticks"`
}

// TrapV2Info holds the header fields of an SNMPv2-Trap-PDU.
type TrapV2Info struct {
	RequestID   int64 `json:"request_id"`
	ErrorStatus int64 `json:"error_status"`
	ErrorIndex  int64 `json:"error_index"`
}

// RequestInfo is the PDU-kind-specific summary. At most one side is set.
type RequestInfo struct {
	V1 *TrapV1Info `json:"v1,omitempty"`
	V2 *TrapV2Info `json:"v2,omitempty"`
}

func (r RequestInfo) String() string {
	switch {
	case r.V1 != nil:
		return fmt.Sprintf("Enterprise: %s, Agent: %s, Generic: %d, Specific: %d, TimeTicks: %d",
			r.V1.Enterprise, r.V1.AgentAddress, r.V1.GenericTrap, r.V1.SpecificTrap, r.V1.TimeTicks)
	case r.V2 != nil:
		return fmt.Sprintf("RequestID: %d, ErrorStatus: %d, ErrorIndex: %d",
			r.V2.RequestID, r.V2.ErrorStatus, r.V2.ErrorIndex)
	default:
		return ""
	}
}

// TrapRecord is the decoded result of one datagram.
// It is built once by the decoder and treated as immutable afterwards.
type TrapRecord struct {
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	SourceAddress string      `json:"source_address"`
	SourcePort    int         `json:"source_port"`
	Diagnostics   string      `json:"diagnostics"` // "; "-joined notes, empty when clean
	SNMPVersion   string      `json:"snmp_version"`
	Community     string      `json:"community"`
	PDUKind       PDUKind     `json:"pdu_kind"`
	RequestInfo   RequestInfo `json:"request_info"`
	VarBinds      []VarBind   `json:"varbinds"`
	FullHex       string      `json:"full_hex"` // Always populated
}

// Location returns the sender as "ip:port".
func (r *TrapRecord) Location() string {
	return net.JoinHostPort(r.SourceAddress, strconv.Itoa(r.SourcePort))
}

// HasDiagnostics reports whether decoding noted any anomaly.
func (r *TrapRecord) HasDiagnostics() bool {
	return r.Diagnostics != ""
}

// VarBindSummary renders all varbinds in wire order, "; "-separated.
func (r *TrapRecord) VarBindSummary() string {
	parts := make([]string, len(r.VarBinds))
	for i, vb := range r.VarBinds {
		parts[i] = vb.String()
	}
	return strings.Join(parts, "; ")
}

// ByteLength returns the datagram length implied by FullHex.
func (r *TrapRecord) ByteLength() int {
	if r.FullHex == "" {
		return 0
	}
	return (len(r.FullHex) + 1) / 3
}

// Decode outcomes, as reported by TrapRecord.Outcome.
const (
	OutcomeClean   = "clean"   // no diagnostics
	OutcomePartial = "partial" // diagnostics, fields decoded best-effort
	OutcomeAborted = "aborted" // unrecoverable; only source, diagnostics and FullHex are set
)

// Outcome classifies the record. An aborted decode never sets SNMPVersion,
// since the version is the first field read.
func (r *TrapRecord) Outcome() string {
	switch {
	case r.Diagnostics == "":
		return OutcomeClean
	case r.SNMPVersion == "":
		return OutcomeAborted
	default:
		return OutcomePartial
	}
}
