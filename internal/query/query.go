// Package query filters trap records using expr-lang/expr boolean expressions.
//
// Example filters:
//
//	version == "SNMPv1" && community == "public"
//	has_diagnostics
//	labels["Event Severity"] == "2"
//	source startsWith "10.1." && pdu == "TrapV2"
//	any(oids, # startsWith "1.3.6.1.4.1.3183")
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"firestige.xyz/trapd/internal/core"
)

// TrapEnv is the environment a filter expression is evaluated against.
type TrapEnv struct {
	ID             string            `expr:"id"`
	Timestamp      time.Time         `expr:"timestamp"`
	Version        string            `expr:"version"`
	Community      string            `expr:"community"`
	PDU            string            `expr:"pdu"`
	Source         string            `expr:"source"` // IP only
	Port           int               `expr:"port"`
	Location       string            `expr:"location"` // ip:port
	Diagnostics    string            `expr:"diagnostics"`
	HasDiagnostics bool              `expr:"has_diagnostics"`
	Outcome        string            `expr:"outcome"` // clean | partial | aborted
	OIDs           []string          `expr:"oids"`
	VarBinds       map[string]string `expr:"varbinds"` // OID → rendered value
	Labels         map[string]string `expr:"labels"`   // display name → rendered value
	FullHex        string            `expr:"full_hex"`
	Length         int               `expr:"length"` // datagram length in bytes

	// v1 header fields, zero for v2c
	Enterprise   string `expr:"enterprise"`
	AgentAddress string `expr:"agent_address"`
	GenericTrap  int64  `expr:"generic_trap"`
	SpecificTrap int64  `expr:"specific_trap"`

	// v2c header fields, zero for v1
	RequestID int64 `expr:"request_id"`
}

// Filter is a compiled filter expression. The zero value and a Filter
// compiled from an empty string match everything.
type Filter struct {
	source  string
	program *vm.Program
}

// Compile compiles a filter expression. Errors wrap core.ErrFilterInvalid.
func Compile(filterStr string) (*Filter, error) {
	filterStr = strings.TrimSpace(filterStr)
	if filterStr == "" {
		return &Filter{}, nil
	}

	program, err := expr.Compile(filterStr, expr.Env(TrapEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to compile filter '%s': %v", core.ErrFilterInvalid, filterStr, err)
	}
	return &Filter{source: filterStr, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.source
}

// Match reports whether rec satisfies the filter. Evaluation errors count
// as no match.
func (f *Filter) Match(rec *core.TrapRecord) bool {
	if f == nil || f.program == nil {
		return true
	}
	result, err := expr.Run(f.program, NewEnv(rec))
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

// Apply returns the matching records in order, up to limit (limit <= 0 is unbounded).
func (f *Filter) Apply(recs []core.TrapRecord, limit int) []core.TrapRecord {
	out := make([]core.TrapRecord, 0, len(recs))
	for i := range recs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if f.Match(&recs[i]) {
			out = append(out, recs[i])
		}
	}
	return out
}

// NewEnv flattens rec into a TrapEnv.
func NewEnv(rec *core.TrapRecord) TrapEnv {
	env := TrapEnv{
		ID:             rec.ID,
		Timestamp:      rec.Timestamp,
		Version:        rec.SNMPVersion,
		Community:      rec.Community,
		PDU:            string(rec.PDUKind),
		Source:         rec.SourceAddress,
		Port:           rec.SourcePort,
		Location:       rec.Location(),
		Diagnostics:    rec.Diagnostics,
		HasDiagnostics: rec.HasDiagnostics(),
		Outcome:        rec.Outcome(),
		OIDs:           make([]string, 0, len(rec.VarBinds)),
		VarBinds:       make(map[string]string, len(rec.VarBinds)),
		Labels:         make(map[string]string, len(rec.VarBinds)),
		FullHex:        rec.FullHex,
		Length:         rec.ByteLength(),
	}

	for _, vb := range rec.VarBinds {
		env.OIDs = append(env.OIDs, vb.OID)
		env.VarBinds[vb.OID] = vb.Value
		env.Labels[vb.Name] = vb.Value
	}

	if v1 := rec.RequestInfo.V1; v1 != nil {
		env.Enterprise = v1.Enterprise
		env.AgentAddress = v1.AgentAddress
		env.GenericTrap = v1.GenericTrap
		env.SpecificTrap = v1.SpecificTrap
	}
	if v2 := rec.RequestInfo.V2; v2 != nil {
		env.RequestID = v2.RequestID
	}

	return env
}
