// Package decoder implements the BER subset needed for SNMP trap messages.
package decoder

import "firestige.xyz/trapd/internal/core"

// Decoder turns a raw datagram into a trap record.
// Implementations never fail: anomalies are reported in TrapRecord.Diagnostics.
type Decoder interface {
	Decode(d core.RawDatagram) core.TrapRecord
}
