package h4

import (
	"encoding/binary"
	"fmt"
	"time"
)

// frame reassembles host-to-controller packets out of arbitrary read
// chunks. Commands carry their parameter length at offset 3; ACL data
// carries a 16-bit length at offset 3. A stalled partial frame times
// out and the assembler resyncs on the next packet-type byte.
type frame struct {
	b       []byte
	timeout time.Time
	pktType byte
	out     func([]byte)
}

const frameStallTimeout = 500 * time.Millisecond

func newFrame(out func([]byte)) *frame {
	return &frame{
		b:   make([]byte, 0, 256),
		out: out,
	}
}

func (f *frame) Assemble(b []byte) {
	switch {
	case len(b) == 0:
		// nothing to look at
		return

	case !f.timeout.IsZero() && time.Now().After(f.timeout):
		//timed out
		fallthrough
	case f.b == nil:
		//lazy init
		f.reset()

	default:
		// ok
	}

	if len(f.b) == 0 {
		if err := f.waitStart(b); err != nil {
			return
		}
	} else {
		bb := make([]byte, len(b))
		copy(bb, b)
		f.b = append(f.b, bb...)
	}

	rf, err := f.frame()
	if err != nil {
		return
	}
	out := make([]byte, len(rf))
	copy(out, rf)
	f.out(out)

	// shift
	if len(f.b) > len(rf) {
		rem := make([]byte, len(f.b[len(rf):]))
		copy(rem, f.b[len(rf):])
		f.reset()
		f.Assemble(rem)
	} else {
		f.reset()
	}
}

func (f *frame) reset() {
	f.b = make([]byte, 0, 256)
	f.timeout = time.Time{}
}

// waitStart scans for a packet-type byte and starts collecting there.
func (f *frame) waitStart(b []byte) error {
	var i int
	var v byte
	var ok bool
	for i, v = range b {
		switch v {
		case cmdPacket:
			f.pktType = cmdPacket
		case aclPacket:
			f.pktType = aclPacket
		default:
			continue
		}

		ok = true
		f.timeout = time.Now().Add(frameStallTimeout)
		break
	}

	if !ok {
		return fmt.Errorf("h4: no start byte")
	}

	bb := make([]byte, len(b[i:]))
	copy(bb, b[i:])
	f.b = append(f.b, bb...)
	return nil
}

// headerLen is the packet header including the type byte.
func (f *frame) headerLen() int {
	if f.pktType == aclPacket {
		return 5
	}
	return 4
}

func (f *frame) dataLength() (int, error) {
	if len(f.b) < f.headerLen() {
		return 0, fmt.Errorf("h4: incomplete header")
	}
	if f.pktType == aclPacket {
		return int(binary.LittleEndian.Uint16(f.b[3:])), nil
	}
	return int(f.b[3]), nil
}

// frame returns the complete packet at the head of the buffer.
func (f *frame) frame() ([]byte, error) {
	dl, err := f.dataLength()
	if err != nil {
		return nil, err
	}
	total := f.headerLen() + dl
	if len(f.b) < total {
		return nil, fmt.Errorf("h4: incomplete frame")
	}
	return f.b[:total], nil
}
