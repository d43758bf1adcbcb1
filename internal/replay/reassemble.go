package replay

import (
	"net/netip"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// fragmentTimeout drops incomplete datagrams, measured in capture time.
	fragmentTimeout = 30 * time.Second
	// maxDatagramSize bounds a reassembled IP payload.
	maxDatagramSize = 65535
)

// fragmentKey identifies the fragments of one IP datagram. IPv4 ids are
// widened to the 32 bits IPv6 uses.
type fragmentKey struct {
	src   netip.Addr
	dst   netip.Addr
	id    uint32
	proto layers.IPProtocol
}

type fragment struct {
	offset int
	data   []byte
}

// fragmentBuffer collects fragments until the last one (no more-fragments
// flag) has fixed the total size and no gap remains below it.
type fragmentBuffer struct {
	fragments []fragment
	received  map[int]bool
	totalSize int // -1 until the last fragment is seen
	firstSeen time.Time
}

// reassembler rebuilds fragmented UDP datagrams, so traps larger than the
// capture link MTU replay as one record.
type reassembler struct {
	buffers map[fragmentKey]*fragmentBuffer
	timeout time.Duration
}

func newReassembler(timeout time.Duration) *reassembler {
	return &reassembler{
		buffers: make(map[fragmentKey]*fragmentBuffer),
		timeout: timeout,
	}
}

// add stores one fragment. offset is in bytes. It returns the whole IP
// payload once every byte is present; duplicates and fragments that would
// exceed 64 KiB are ignored.
func (r *reassembler) add(key fragmentKey, offset int, more bool, data []byte, ts time.Time) ([]byte, bool) {
	r.expire(ts)

	if offset+len(data) > maxDatagramSize {
		delete(r.buffers, key)
		return nil, false
	}

	buffer, exists := r.buffers[key]
	if !exists {
		buffer = &fragmentBuffer{
			received:  make(map[int]bool),
			totalSize: -1,
			firstSeen: ts,
		}
		r.buffers[key] = buffer
	}

	if buffer.received[offset] {
		return nil, false
	}
	buffer.received[offset] = true
	buffer.fragments = append(buffer.fragments, fragment{offset: offset, data: append([]byte(nil), data...)})

	if !more {
		buffer.totalSize = offset + len(data)
	}
	if buffer.totalSize < 0 || !buffer.complete() {
		return nil, false
	}

	delete(r.buffers, key)
	return buffer.assemble(), true
}

// complete reports whether the fragments cover [0, totalSize) without gaps.
func (b *fragmentBuffer) complete() bool {
	sort.Slice(b.fragments, func(i, j int) bool {
		return b.fragments[i].offset < b.fragments[j].offset
	})

	covered := 0
	for _, f := range b.fragments {
		if f.offset > covered {
			return false
		}
		if end := f.offset + len(f.data); end > covered {
			covered = end
		}
	}
	return covered >= b.totalSize
}

func (b *fragmentBuffer) assemble() []byte {
	payload := make([]byte, b.totalSize)
	for _, f := range b.fragments {
		if f.offset < b.totalSize {
			copy(payload[f.offset:], f.data)
		}
	}
	return payload
}

// expire drops buffers whose first fragment is older than the timeout.
func (r *reassembler) expire(now time.Time) {
	for key, buffer := range r.buffers {
		if now.Sub(buffer.firstSeen) > r.timeout {
			delete(r.buffers, key)
		}
	}
}

// pending returns the number of incomplete datagrams.
func (r *reassembler) pending() int {
	return len(r.buffers)
}

// decodeUDP parses a reassembled IP payload as a UDP segment.
func decodeUDP(data []byte) *layers.UDP {
	udp := &layers.UDP{}
	if err := udp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil
	}
	return udp
}
