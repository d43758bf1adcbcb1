// Package replay feeds SNMP traps captured in pcap or pcapng files through
// the trap decoder and into a sink, as if they had arrived on the listener.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/core/decoder"
)

// DefaultPort is the trap destination port matched by default.
const DefaultPort = 162

// pcapngMagic is the section header block type that opens every pcapng file.
var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// Sink receives replayed records.
type Sink interface {
	Store(ctx context.Context, rec core.TrapRecord) error
}

// Options controls which packets are replayed.
type Options struct {
	// Port is the UDP destination port to match. 0 matches every UDP packet.
	Port uint16
	// Limit stops after this many datagrams. 0 replays the whole file.
	Limit int
}

// Stats summarises a replay run.
type Stats struct {
	Packets    int `json:"packets"`
	Datagrams  int `json:"datagrams"`
	Skipped    int `json:"skipped"`
	Clean      int `json:"clean"`
	Partial    int `json:"partial"`
	Aborted    int `json:"aborted"`
	SinkErrors int `json:"sink_errors"`
	// Reassembled counts datagrams rebuilt from IP fragments.
	Reassembled int `json:"reassembled"`
}

// packetReader is implemented by pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Replayer decodes captured datagrams and stores the records.
type Replayer struct {
	decoder decoder.Decoder
	sink    Sink
	opts    Options
}

// New creates a replayer.
func New(dec decoder.Decoder, sink Sink, opts Options) *Replayer {
	return &Replayer{decoder: dec, sink: sink, opts: opts}
}

// ReplayFile replays the capture at path.
func (r *Replayer) ReplayFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	defer f.Close()
	return r.Replay(ctx, f)
}

// Replay reads a pcap or pcapng stream and stores one record per matching
// UDP datagram. Sink errors are counted, not returned; a malformed capture
// file ends the run with an error and the stats gathered so far.
func (r *Replayer) Replay(ctx context.Context, rd io.Reader) (Stats, error) {
	var stats Stats

	err := ReadDatagrams(rd, r.opts.Port, func(d core.RawDatagram) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec := r.decoder.Decode(d)
		switch rec.Outcome() {
		case core.OutcomeClean:
			stats.Clean++
		case core.OutcomePartial:
			stats.Partial++
		case core.OutcomeAborted:
			stats.Aborted++
		}

		if err := r.sink.Store(ctx, rec); err != nil {
			stats.SinkErrors++
			slog.Warn("failed to store replayed trap", "id", rec.ID, "source", rec.Location(), "error", err)
		}

		stats.Datagrams++
		if r.opts.Limit > 0 && stats.Datagrams >= r.opts.Limit {
			return errStop
		}
		return nil
	}, &stats)

	if errors.Is(err, errStop) {
		err = nil
	}
	return stats, err
}

var errStop = errors.New("replay limit reached")

// ReadDatagrams extracts UDP payloads sent to port (0 = any) and calls fn
// for each in capture order. stats may be nil; when set, its Packets and
// Skipped counters are updated. An error from fn stops the read and is
// returned unchanged.
func ReadDatagrams(rd io.Reader, port uint16, fn func(core.RawDatagram) error, stats *Stats) error {
	if stats == nil {
		stats = &Stats{}
	}

	pr, err := openReader(rd)
	if err != nil {
		return err
	}
	x := &extractor{
		linkType: pr.LinkType(),
		port:     port,
		frags:    newReassembler(fragmentTimeout),
	}
	defer func() {
		if n := x.frags.pending(); n > 0 {
			slog.Debug("incomplete fragmented datagrams dropped", "count", n)
		}
	}()

	for {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		d, reassembled, ok := x.extract(data, ci)
		if !ok {
			stats.Skipped++
			continue
		}
		if reassembled {
			stats.Reassembled++
		}
		if err := fn(d); err != nil {
			return err
		}
	}
}

// openReader sniffs the file magic and picks the matching pcapgo reader.
func openReader(rd io.Reader) (packetReader, error) {
	br := bufio.NewReader(rd)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng: %w", err)
		}
		return ng, nil
	}

	r, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap (magic %08x): %w", binary.BigEndian.Uint32(magic), err)
	}
	return r, nil
}

// extractor turns captured frames into datagrams, reassembling IP
// fragments across frames.
type extractor struct {
	linkType layers.LinkType
	port     uint16
	frags    *reassembler
}

// extract decodes one frame down to UDP and builds the datagram. A frame
// carrying a non-final fragment yields nothing; the frame completing a
// datagram yields the whole datagram with reassembled set.
func (x *extractor) extract(data []byte, ci gopacket.CaptureInfo) (d core.RawDatagram, reassembled bool, ok bool) {
	packet := gopacket.NewPacket(data, x.linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	var src netip.Addr
	var udp *layers.UDP
	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp, _ = l.(*layers.UDP)
	}

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		src, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		more := ip.Flags&layers.IPv4MoreFragments != 0
		if more || ip.FragOffset != 0 {
			if ip.Protocol != layers.IPProtocolUDP {
				return core.RawDatagram{}, false, false
			}
			dst, _ := netip.AddrFromSlice(ip.DstIP.To4())
			key := fragmentKey{src: src, dst: dst, id: uint32(ip.Id), proto: ip.Protocol}
			whole, done := x.frags.add(key, int(ip.FragOffset)*8, more, ip.Payload, ci.Timestamp)
			if !done {
				return core.RawDatagram{}, false, false
			}
			udp, reassembled = decodeUDP(whole), true
		}
	case *layers.IPv6:
		src, _ = netip.AddrFromSlice(ip.SrcIP)
		if l := packet.Layer(layers.LayerTypeIPv6Fragment); l != nil {
			frag, _ := l.(*layers.IPv6Fragment)
			if frag == nil || frag.NextHeader != layers.IPProtocolUDP {
				return core.RawDatagram{}, false, false
			}
			dst, _ := netip.AddrFromSlice(ip.DstIP)
			key := fragmentKey{src: src, dst: dst, id: frag.Identification, proto: frag.NextHeader}
			whole, done := x.frags.add(key, int(frag.FragmentOffset)*8, frag.MoreFragments, frag.Payload, ci.Timestamp)
			if !done {
				return core.RawDatagram{}, false, false
			}
			udp, reassembled = decodeUDP(whole), true
		}
	default:
		return core.RawDatagram{}, false, false
	}

	if udp == nil || (x.port != 0 && uint16(udp.DstPort) != x.port) {
		return core.RawDatagram{}, false, false
	}

	payload := make([]byte, len(udp.Payload))
	copy(payload, udp.Payload)

	return core.RawDatagram{
		Payload:   payload,
		Timestamp: ci.Timestamp,
		SrcAddr:   src.Unmap(),
		SrcPort:   uint16(udp.SrcPort),
	}, reassembled, true
}
