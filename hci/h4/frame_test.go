package h4

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/edgeble/llc"
	"github.com/edgeble/llc/hci"
	"github.com/edgeble/llc/ll"
)

type frameRec struct {
	pkts [][]byte
}

func (r *frameRec) out(b []byte) {
	r.pkts = append(r.pkts, append([]byte(nil), b...))
}

func TestFrameSingleChunk(t *testing.T) {
	rec := &frameRec{}
	f := newFrame(rec.out)

	// a complete Reset command in one read
	pkt := []byte{cmdPacket, 0x03, 0x0c, 0x00}
	f.Assemble(pkt)
	if len(rec.pkts) != 1 || !bytes.Equal(rec.pkts[0], pkt) {
		t.Fatalf("assembled %x, want %x", rec.pkts, pkt)
	}
}

func TestFrameByteAtATime(t *testing.T) {
	rec := &frameRec{}
	f := newFrame(rec.out)

	pkt := []byte{cmdPacket, 0x06, 0x04, 0x03, 0x01, 0x00, 0x13}
	for _, b := range pkt {
		f.Assemble([]byte{b})
	}
	if len(rec.pkts) != 1 || !bytes.Equal(rec.pkts[0], pkt) {
		t.Fatalf("assembled %x, want %x", rec.pkts, pkt)
	}
}

func TestFrameACLSplitHeader(t *testing.T) {
	rec := &frameRec{}
	f := newFrame(rec.out)

	// ACL data with the 16-bit length split across reads
	pkt := []byte{aclPacket, 0x01, 0x00, 0x03, 0x00, 0xaa, 0xbb, 0xcc}
	f.Assemble(pkt[:4])
	if len(rec.pkts) != 0 {
		t.Fatal("packet delivered with an incomplete header")
	}
	f.Assemble(pkt[4:])
	if len(rec.pkts) != 1 || !bytes.Equal(rec.pkts[0], pkt) {
		t.Fatalf("assembled %x, want %x", rec.pkts, pkt)
	}
}

func TestFrameBackToBack(t *testing.T) {
	rec := &frameRec{}
	f := newFrame(rec.out)

	a := []byte{cmdPacket, 0x03, 0x0c, 0x00}
	b := []byte{cmdPacket, 0x09, 0x10, 0x00}
	f.Assemble(append(append([]byte(nil), a...), b...))
	if len(rec.pkts) != 2 {
		t.Fatalf("%d packets from a back-to-back read, want 2", len(rec.pkts))
	}
	if !bytes.Equal(rec.pkts[0], a) || !bytes.Equal(rec.pkts[1], b) {
		t.Fatalf("assembled %x / %x", rec.pkts[0], rec.pkts[1])
	}
}

func TestFrameResync(t *testing.T) {
	rec := &frameRec{}
	f := newFrame(rec.out)

	// line noise with no start byte is dropped
	f.Assemble([]byte{0xaa, 0xbb, 0xff})
	if len(rec.pkts) != 0 {
		t.Fatalf("garbage produced packets: %x", rec.pkts)
	}

	// a packet behind more noise is still found
	pkt := []byte{cmdPacket, 0x03, 0x0c, 0x00}
	f.Assemble(append([]byte{0xee, 0x90}, pkt...))
	if len(rec.pkts) != 1 || !bytes.Equal(rec.pkts[0], pkt) {
		t.Fatalf("assembled %x, want %x", rec.pkts, pkt)
	}
}

type pipeRadio struct{ h ll.RadioHandler }

func (r *pipeRadio) SetChannel(uint8, uint32, uint32) error { return nil }
func (r *pipeRadio) Transmit([]byte, ll.Transition) error   { return nil }
func (r *pipeRadio) Receive(ll.Transition) error            { return nil }
func (r *pipeRadio) Disable() error                         { return nil }
func (r *pipeRadio) SetHandler(h ll.RadioHandler)           { r.h = h }

func TestServerRoundTrip(t *testing.T) {
	ctrl, err := ll.NewController(&pipeRadio{}, &ll.ManualClock{},
		llc.OptPublicAddress(llc.NewAddr("aa:bb:cc:dd:ee:ff")),
	)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })

	host, wire := net.Pipe()
	srv := NewWithConn(wire, hci.NewProcessor(ctrl))
	t.Cleanup(func() { srv.Close() })

	// Reset, split across two writes to exercise reassembly on the wire
	pkt := []byte{cmdPacket, 0x03, 0x0c, 0x00}
	if _, err := host.Write(pkt[:2]); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := host.Write(pkt[2:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Command Complete for Reset comes back as an event packet
	rsp := make([]byte, 7)
	if _, err := io.ReadFull(host, rsp); err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []byte{evtPacket, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}
	if !bytes.Equal(rsp, want) {
		t.Fatalf("response %x, want %x", rsp, want)
	}
}
