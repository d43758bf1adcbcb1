package decoder

import (
	"encoding/hex"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/core/decoder/bertest"
)

func TestDecodeLength(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    int
		wantPos int
		wantErr error
	}{
		{"short zero", []byte{0x00}, 0, 1, nil},
		{"short max", []byte{0x7F}, 127, 1, nil},
		{"long one byte", []byte{0x81, 0x80}, 128, 2, nil},
		{"long two bytes", []byte{0x82, 0x01, 0x00}, 256, 3, nil},
		{"long four bytes max", []byte{0x84, 0xFF, 0xFF, 0xFF, 0xFF}, 4294967295, 5, nil},
		{"long zero count", []byte{0x80}, 0, 1, nil},
		{"five length bytes", []byte{0x85, 0x00, 0x00, 0x00, 0x00, 0x01}, 0, 0, core.ErrLengthTooLong},
		{"127 length bytes", []byte{0xFF}, 0, 0, core.ErrLengthTooLong},
		{"truncated long form", []byte{0x82, 0x01}, 0, 0, core.ErrBufferExhausted},
		{"empty", []byte{}, 0, 0, core.ErrBufferExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(tt.data)
			got, err := DecodeLength(c)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeLength failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected length %d, got %d", tt.want, got)
			}
			if c.Pos() != tt.wantPos {
				t.Errorf("Expected cursor at %d, got %d", tt.wantPos, c.Pos())
			}
		})
	}
}

func TestDecodeLengthRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 64, 127, 128, 255, 256, 1000, 65535, 65536, 1 << 24, 1<<32 - 1}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		lengths = append(lengths, int(rng.Uint32()))
	}

	for _, n := range lengths {
		enc := bertest.Length(n)
		c := NewCursor(enc)
		got, err := DecodeLength(c)
		if err != nil {
			t.Fatalf("DecodeLength(%X) failed: %v", enc, err)
		}
		if got != n {
			t.Errorf("round trip %d: got %d", n, got)
		}
		if c.Remaining() != 0 {
			t.Errorf("round trip %d left %d unread bytes", n, c.Remaining())
		}
	}
}

func TestDecodeObjectIdentifier(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"platform event source", []byte{0x2B, 0x06, 0x01, 0x04, 0x01, 0x98, 0x6F, 0x01, 0x01, 0x01}, "1.3.6.1.4.1.3183.1.1.1"},
		{"sysUpTime", []byte{0x2B, 0x06, 0x01, 0x02, 0x01, 0x01, 0x03, 0x00}, "1.3.6.1.2.1.1.3.0"},
		{"first arc zero", []byte{0x00}, "0.0"},
		{"first arc two", []byte{0x78}, "2.40"},
		{"large second arc", []byte{0x88, 0x37, 0x01}, "2.999.1"},
		{"empty", []byte{}, ""},
		{"dangling continuation", []byte{0x2B, 0x81}, "1.3.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(tt.data)
			got, err := DecodeObjectIdentifier(c, len(tt.data))
			if err != nil {
				t.Fatalf("DecodeObjectIdentifier failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if c.Pos() != len(tt.data) {
				t.Errorf("Expected cursor at %d, got %d", len(tt.data), c.Pos())
			}
		})
	}
}

func TestDecodeObjectIdentifierRoundTrip(t *testing.T) {
	oids := []string{
		"0.0",
		"0.39",
		"1.0",
		"1.39",
		"2.0",
		"2.40",
		"1.3.6.1.6.3.1.1.4.1.0",
		"1.3.6.1.4.1.3183.1.1.6",
		"1.3.6.1.4.1.2636.4.5.0.1",
		"1.3.6.1.4.1.9.9.41.2.0.1.4294967295",
		"2.25.128.16383.16384.2097151",
	}
	for _, oid := range oids {
		enc := bertest.OIDBytes(oid)
		c := NewCursor(enc)
		got, err := DecodeObjectIdentifier(c, len(enc))
		if err != nil {
			t.Fatalf("DecodeObjectIdentifier(%s) failed: %v", oid, err)
		}
		if got != oid {
			t.Errorf("round trip %q: got %q", oid, got)
		}
	}
}

func TestDecodeObjectIdentifierTruncated(t *testing.T) {
	c := NewCursor([]byte{0x2B, 0x06})
	if _, err := DecodeObjectIdentifier(c, 5); !errors.Is(err, core.ErrBufferExhausted) {
		t.Fatalf("Expected ErrBufferExhausted, got %v", err)
	}
	if c.Pos() != 0 {
		t.Errorf("Expected cursor unchanged, got %d", c.Pos())
	}
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name string
		tag  byte
		data []byte
		want string
	}{
		{"integer empty", TagInteger, []byte{}, "0"},
		{"integer positive", TagInteger, []byte{0x7F}, "127"},
		{"integer negative", TagInteger, []byte{0x80}, "-128"},
		{"integer minus one", TagInteger, []byte{0xFF}, "-1"},
		{"integer padded", TagInteger, []byte{0x00, 0x80}, "128"},
		{"integer min int64", TagInteger, []byte{0x80, 0, 0, 0, 0, 0, 0, 0}, "-9223372036854775808"},
		{"integer nine bytes", TagInteger, []byte{0x01, 0, 0, 0, 0, 0, 0, 0, 0}, "18446744073709551616"},
		{"integer nine bytes negative", TagInteger, []byte{0xFF, 0, 0, 0, 0, 0, 0, 0, 0}, "-18446744073709551616"},
		{"octet string printable", TagOctetString, []byte("public"), `"public"`},
		{"octet string printable edges", TagOctetString, []byte{0x20, 0x7E}, `" ~"`},
		{"octet string empty", TagOctetString, []byte{}, `""`},
		{"octet string binary", TagOctetString, []byte{0x00, 0x41, 0xFF}, "00 41 FF"},
		{"octet string del", TagOctetString, []byte{0x41, 0x7F}, "41 7F"},
		{"null", TagNull, []byte{}, "NULL"},
		{"oid", TagOID, []byte{0x2B, 0x06, 0x01}, "1.3.6.1"},
		{"ip address", TagIPAddress, []byte{192, 168, 1, 10}, "192.168.1.10"},
		{"ip address short", TagIPAddress, []byte{192, 168, 1}, "C0 A8 01"},
		{"counter32", TagCounter32, []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF}, "4294967295"},
		{"gauge32", TagGauge32, []byte{0x2A}, "42"},
		{"counter64 above 32 bits", TagCounter64, []byte{0x01, 0x00, 0x00, 0x00, 0x00}, "4294967296"},
		{"counter64 max", TagCounter64, []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, "18446744073709551615"},
		{"timeticks", TagTimeTicks, []byte{0x01, 0x00}, "TimeTicks(256)"},
		{"timeticks zero", TagTimeTicks, []byte{}, "TimeTicks(0)"},
		{"unknown opaque", 0x44, []byte{0xDE, 0xAD}, "[Tag 0x44: DE AD]"},
		{"unknown empty", 0x80, []byte{}, "[Tag 0x80: ]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(tt.data)
			got, err := DecodeValue(c, len(tt.data), tt.tag)
			if err != nil {
				t.Fatalf("DecodeValue failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if c.Remaining() != 0 {
				t.Errorf("Expected all bytes consumed, %d left", c.Remaining())
			}
		})
	}
}

func TestDecodeValueAdvancesExactly(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	c := NewCursor(data)
	if _, err := DecodeValue(c, 2, TagInteger); err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}
	if c.Pos() != 2 {
		t.Errorf("Expected cursor at 2, got %d", c.Pos())
	}
	if _, err := DecodeValue(c, 3, TagInteger); !errors.Is(err, core.ErrBufferExhausted) {
		t.Errorf("Expected ErrBufferExhausted, got %v", err)
	}
	if c.Pos() != 2 {
		t.Errorf("Expected cursor unchanged after failure, got %d", c.Pos())
	}
}

func TestOctetStringRendering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := rng.Intn(24)
		data := make([]byte, n)
		printableOnly := rng.Intn(2) == 0
		for j := range data {
			if printableOnly {
				data[j] = byte(0x20 + rng.Intn(0x5F))
			} else {
				data[j] = byte(rng.Intn(256))
			}
		}

		got := RenderValue(TagOctetString, data)
		allPrintable := true
		for _, b := range data {
			if b < 0x20 || b > 0x7E {
				allPrintable = false
			}
		}

		if allPrintable {
			if got != `"`+string(data)+`"` {
				t.Fatalf("printable %X rendered as %q", data, got)
			}
			continue
		}
		decoded, err := hex.DecodeString(strings.ReplaceAll(got, " ", ""))
		if err != nil {
			t.Fatalf("non-printable %X rendered as non-hex %q", data, got)
		}
		if string(decoded) != string(data) {
			t.Fatalf("hex rendering %q does not match %X", got, data)
		}
	}
}

func TestHexString(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{nil, ""},
		{[]byte{0x0A}, "0A"},
		{[]byte{0x30, 0x82, 0xff}, "30 82 FF"},
	}
	for _, tt := range tests {
		if got := HexString(tt.data); got != tt.want {
			t.Errorf("HexString(%X) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestCursorSeek(t *testing.T) {
	c := NewCursor([]byte{1, 2, 3})
	if err := c.Seek(3); err != nil {
		t.Fatalf("Seek to end failed: %v", err)
	}
	if _, err := c.PeekByte(); !errors.Is(err, core.ErrBufferExhausted) {
		t.Errorf("Expected ErrBufferExhausted at end, got %v", err)
	}
	if err := c.Seek(4); !errors.Is(err, core.ErrBufferExhausted) {
		t.Errorf("Expected ErrBufferExhausted past end, got %v", err)
	}
}
