package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"
)

func TestVersionString(t *testing.T) {
	tests := []struct {
		wire int64
		want string
	}{
		{0, "SNMPv1"},
		{1, "SNMPv2c"},
		{2, "SNMPv3"},
		{3, "SNMPv4"},
		{-1, "SNMPv0"},
	}
	for _, tt := range tests {
		if got := VersionString(tt.wire); got != tt.want {
			t.Errorf("VersionString(%d) = %q, want %q", tt.wire, got, tt.want)
		}
	}
}

func TestLabelTable(t *testing.T) {
	t.Run("builtin", func(t *testing.T) {
		lt := NewLabelTable(nil)
		if lt.Len() != 6 {
			t.Fatalf("expected 6 builtin labels, got %d", lt.Len())
		}
		if got := lt.Name("1.3.6.1.4.1.3183.1.1.1"); got != "Event Source" {
			t.Errorf("expected Event Source, got %q", got)
		}
		if got := lt.Name("1.3.6.1.4.1.3183.1.1.1.0"); got != "1.3.6.1.4.1.3183.1.1.1.0" {
			t.Errorf("expected exact-match lookup only, got %q", got)
		}
	})

	t.Run("extra overrides builtin", func(t *testing.T) {
		lt := NewLabelTable(map[string]string{
			"1.3.6.1.4.1.3183.1.1.6": "Payload",
			"1.3.6.1.2.1.1.3.0":      "sysUpTime",
			"":                       "ignored",
		})
		if got := lt.Name("1.3.6.1.4.1.3183.1.1.6"); got != "Payload" {
			t.Errorf("expected override, got %q", got)
		}
		if _, ok := lt.Lookup("1.3.6.1.2.1.1.3.0"); !ok {
			t.Error("expected extra label to be present")
		}
		if lt.Len() != 7 {
			t.Errorf("expected 7 labels, got %d", lt.Len())
		}
	})

	t.Run("zero value", func(t *testing.T) {
		var lt LabelTable
		if got := lt.Name("1.2.3"); got != "1.2.3" {
			t.Errorf("expected raw OID from zero table, got %q", got)
		}
	})
}

func TestRequestInfoString(t *testing.T) {
	v1 := RequestInfo{V1: &TrapV1Info{
		Enterprise:   "1.3.6.1.4.1.8072",
		AgentAddress: "10.0.0.1",
		GenericTrap:  6,
		SpecificTrap: 1,
		TimeTicks:    1234,
	}}
	want := "Enterprise: 1.3.6.1.4.1.8072, Agent: 10.0.0.1, Generic: 6, Specific: 1, TimeTicks: 1234"
	if got := v1.String(); got != want {
		t.Errorf("v1 summary = %q, want %q", got, want)
	}

	v2 := RequestInfo{V2: &TrapV2Info{RequestID: 42}}
	if got := v2.String(); got != "RequestID: 42, ErrorStatus: 0, ErrorIndex: 0" {
		t.Errorf("unexpected v2 summary %q", got)
	}

	if got := (RequestInfo{}).String(); got != "" {
		t.Errorf("expected empty summary, got %q", got)
	}
}

func TestTrapRecordHelpers(t *testing.T) {
	rec := TrapRecord{
		SourceAddress: "192.0.2.7",
		SourcePort:    1162,
		FullHex:       "30 03 02 01 00",
		VarBinds: []VarBind{
			{OID: "1.3.6.1.2.1.1.3.0", Name: "1.3.6.1.2.1.1.3.0", Value: "TimeTicks(5)"},
			{OID: "1.3.6.1.4.1.3183.1.1.1", Name: "Event Source", Value: `"fan"`},
		},
	}
	if rec.Location() != "192.0.2.7:1162" {
		t.Errorf("unexpected location %q", rec.Location())
	}
	if rec.HasDiagnostics() {
		t.Error("expected no diagnostics")
	}
	if rec.ByteLength() != 5 {
		t.Errorf("expected 5 bytes, got %d", rec.ByteLength())
	}
	want := `1.3.6.1.2.1.1.3.0: TimeTicks(5); Event Source: "fan"`
	if got := rec.VarBindSummary(); got != want {
		t.Errorf("VarBindSummary = %q, want %q", got, want)
	}

	v6 := TrapRecord{SourceAddress: "2001:db8::1", SourcePort: 162}
	if v6.Location() != "[2001:db8::1]:162" {
		t.Errorf("unexpected IPv6 location %q", v6.Location())
	}
	if (&TrapRecord{}).ByteLength() != 0 {
		t.Error("expected zero length for empty hex")
	}
}

func TestRawDatagramSource(t *testing.T) {
	d := RawDatagram{
		Payload:   []byte{0x30},
		Timestamp: time.Now(),
		SrcAddr:   netip.MustParseAddr("127.0.0.1"),
		SrcPort:   40000,
	}
	if d.Source() != "127.0.0.1:40000" {
		t.Errorf("unexpected source %q", d.Source())
	}
}

func TestSentinelErrorsWrap(t *testing.T) {
	sentinels := []error{
		ErrBufferExhausted,
		ErrLengthTooLong,
		ErrSinkUnknownType,
		ErrSinkClosed,
		ErrSinkNotReadable,
		ErrFilterInvalid,
		ErrConfigInvalid,
		ErrDaemonNotRunning,
	}
	for _, sentinel := range sentinels {
		wrapped := fmt.Errorf("context: %w", sentinel)
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("errors.Is failed for %v", sentinel)
		}
	}
}

func TestTrapRecordOutcome(t *testing.T) {
	tests := []struct {
		rec  TrapRecord
		want string
	}{
		{TrapRecord{SNMPVersion: VersionV2c}, OutcomeClean},
		{TrapRecord{SNMPVersion: VersionV1, Diagnostics: "x"}, OutcomePartial},
		{TrapRecord{Diagnostics: "decode aborted"}, OutcomeAborted},
	}
	for _, tt := range tests {
		if got := tt.rec.Outcome(); got != tt.want {
			t.Errorf("Outcome() = %q, want %q", got, tt.want)
		}
	}
}
