// Package trapsend sends SNMPv1 and SNMPv2c traps, for exercising a
// running daemon or any other trap receiver.
package trapsend

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	// OIDSysUpTime and OIDSnmpTrapOID lead every v2c trap's varbind list.
	OIDSysUpTime   = "1.3.6.1.2.1.1.3.0"
	OIDSnmpTrapOID = "1.3.6.1.6.3.1.1.4.1.0"

	// DefaultEnterprise is used for v1 traps without an explicit enterprise.
	DefaultEnterprise = "1.3.6.1.4.1.3183.1.1"
	// DefaultTrapOID is coldStart.
	DefaultTrapOID = "1.3.6.1.6.3.1.1.5.1"
)

// Config describes the receiver.
type Config struct {
	Target    string
	Port      uint16 // default 162
	Community string // default "public"
	Version   string // "1" or "2c", default "2c"
	Timeout   time.Duration
}

// Trap is one notification to send.
type Trap struct {
	// v1 header
	Enterprise   string
	AgentAddress string
	GenericTrap  int
	SpecificTrap int

	// Uptime is the sysUpTime in hundredths of a second.
	Uptime uint32
	// TrapOID identifies a v2c notification.
	TrapOID string

	VarBinds []VarBind
}

// VarBind is a typed variable binding using net-snmp type letters:
// i INTEGER, u Gauge32, c Counter32, C Counter64, s OCTET STRING,
// x hex OCTET STRING, o OID, t TimeTicks, a IpAddress, n NULL.
type VarBind struct {
	OID   string
	Type  byte
	Value string
}

// ParseVarBind parses "OID=T:VALUE", e.g. "1.3.6.1.4.1.3183.1.1.1=s:BMC".
func ParseVarBind(s string) (VarBind, error) {
	oid, rest, ok := strings.Cut(s, "=")
	if !ok || oid == "" {
		return VarBind{}, fmt.Errorf("varbind %q: want OID=TYPE:VALUE", s)
	}
	typ, value, ok := strings.Cut(rest, ":")
	if !ok || len(typ) != 1 {
		return VarBind{}, fmt.Errorf("varbind %q: want OID=TYPE:VALUE", s)
	}
	vb := VarBind{OID: strings.TrimPrefix(oid, "."), Type: typ[0], Value: value}
	if _, err := vb.PDU(); err != nil {
		return VarBind{}, err
	}
	return vb, nil
}

// PDU converts vb to a gosnmp PDU.
func (vb VarBind) PDU() (gosnmp.SnmpPDU, error) {
	pdu := gosnmp.SnmpPDU{Name: vb.OID}
	bad := func(err error) (gosnmp.SnmpPDU, error) {
		return gosnmp.SnmpPDU{}, fmt.Errorf("varbind %s: invalid %c value %q: %w", vb.OID, vb.Type, vb.Value, err)
	}

	switch vb.Type {
	case 'i':
		n, err := strconv.Atoi(vb.Value)
		if err != nil {
			return bad(err)
		}
		pdu.Type, pdu.Value = gosnmp.Integer, n
	case 'u':
		n, err := strconv.ParseUint(vb.Value, 10, 32)
		if err != nil {
			return bad(err)
		}
		pdu.Type, pdu.Value = gosnmp.Gauge32, uint(n)
	case 'c':
		n, err := strconv.ParseUint(vb.Value, 10, 32)
		if err != nil {
			return bad(err)
		}
		pdu.Type, pdu.Value = gosnmp.Counter32, uint32(n)
	case 'C':
		n, err := strconv.ParseUint(vb.Value, 10, 64)
		if err != nil {
			return bad(err)
		}
		pdu.Type, pdu.Value = gosnmp.Counter64, n
	case 't':
		n, err := strconv.ParseUint(vb.Value, 10, 32)
		if err != nil {
			return bad(err)
		}
		pdu.Type, pdu.Value = gosnmp.TimeTicks, uint32(n)
	case 's':
		pdu.Type, pdu.Value = gosnmp.OctetString, vb.Value
	case 'x':
		raw, err := parseHex(vb.Value)
		if err != nil {
			return bad(err)
		}
		pdu.Type, pdu.Value = gosnmp.OctetString, raw
	case 'o':
		pdu.Type, pdu.Value = gosnmp.ObjectIdentifier, strings.TrimPrefix(vb.Value, ".")
	case 'a':
		ip := net.ParseIP(vb.Value).To4()
		if ip == nil {
			return bad(fmt.Errorf("not an IPv4 address"))
		}
		pdu.Type, pdu.Value = gosnmp.IPAddress, ip.String()
	case 'n':
		pdu.Type, pdu.Value = gosnmp.Null, nil
	default:
		return gosnmp.SnmpPDU{}, fmt.Errorf("varbind %s: unknown type %q", vb.OID, vb.Type)
	}
	return pdu, nil
}

func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.NewReplacer(" ", "", ":", "").Replace(s))
}

// Sender sends traps to one receiver.
type Sender struct {
	cfg Config
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Sender, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 162
	}
	if cfg.Community == "" {
		cfg.Community = "public"
	}
	if cfg.Version == "" {
		cfg.Version = "2c"
	}
	if cfg.Version != "1" && cfg.Version != "2c" {
		return nil, fmt.Errorf("unsupported SNMP version %q (must be 1 or 2c)", cfg.Version)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Sender{cfg: cfg}, nil
}

// Send opens a socket, sends t and closes the socket. Traps are
// unacknowledged, so success means the datagram left this host.
func (s *Sender) Send(t Trap) error {
	trap, err := s.build(t)
	if err != nil {
		return err
	}

	snmp := &gosnmp.GoSNMP{
		Target:    s.cfg.Target,
		Port:      s.cfg.Port,
		Community: s.cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   s.cfg.Timeout,
		Retries:   0,
		Logger:    gosnmp.NewLogger(log.New(io.Discard, "", 0)),
	}
	if s.cfg.Version == "1" {
		snmp.Version = gosnmp.Version1
	}

	if err := snmp.Connect(); err != nil {
		return fmt.Errorf("connect to %s: %w", net.JoinHostPort(s.cfg.Target, strconv.Itoa(int(s.cfg.Port))), err)
	}
	defer snmp.Conn.Close()

	if _, err := snmp.SendTrap(trap); err != nil {
		return fmt.Errorf("send trap: %w", err)
	}
	return nil
}

func (s *Sender) build(t Trap) (gosnmp.SnmpTrap, error) {
	var pdus []gosnmp.SnmpPDU

	if s.cfg.Version == "2c" {
		trapOID := t.TrapOID
		if trapOID == "" {
			trapOID = DefaultTrapOID
		}
		pdus = append(pdus,
			gosnmp.SnmpPDU{Name: OIDSysUpTime, Type: gosnmp.TimeTicks, Value: t.Uptime},
			gosnmp.SnmpPDU{Name: OIDSnmpTrapOID, Type: gosnmp.ObjectIdentifier, Value: strings.TrimPrefix(trapOID, ".")},
		)
	}

	for _, vb := range t.VarBinds {
		pdu, err := vb.PDU()
		if err != nil {
			return gosnmp.SnmpTrap{}, err
		}
		pdus = append(pdus, pdu)
	}

	trap := gosnmp.SnmpTrap{Variables: pdus}
	if s.cfg.Version == "1" {
		trap.Enterprise = t.Enterprise
		if trap.Enterprise == "" {
			trap.Enterprise = DefaultEnterprise
		}
		trap.AgentAddress = t.AgentAddress
		if trap.AgentAddress == "" {
			trap.AgentAddress = "127.0.0.1"
		}
		trap.GenericTrap = t.GenericTrap
		trap.SpecificTrap = t.SpecificTrap
		trap.Timestamp = uint(t.Uptime)
	}
	return trap, nil
}
