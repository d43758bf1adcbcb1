// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// RawDatagram is one UDP payload as received, before decoding.
// The listener owns it until it is handed to the decoder; Payload is never
// modified afterwards.
type RawDatagram struct {
	Payload   []byte     // Datagram bytes, copied out of the receive buffer
	Timestamp time.Time  // Receipt time assigned by the listener (or capture time on replay)
	SrcAddr   netip.Addr // Sender address
	SrcPort   uint16     // Sender port
}

// Source returns the sender as "ip:port".
func (d RawDatagram) Source() string {
	return netip.AddrPortFrom(d.SrcAddr, d.SrcPort).String()
}
