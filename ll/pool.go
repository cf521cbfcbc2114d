package ll

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNoBuffers is returned when the packet pool is exhausted. Callers
// degrade the single operation and keep the state machine intact.
var ErrNoBuffers = errors.New("ll: packet pool exhausted")

// Direction tags a packet at acquisition time; the rx/tx metadata
// accessors are checked against it.
type Direction uint8

const (
	DirTx Direction = iota
	DirRx
)

// TxInfo carries transmit-side packet metadata.
type TxInfo struct {
	Channel  uint8
	Hint     Transition
	Retries  uint8
	Deadline Ticks
}

// RxInfo carries receive-side packet metadata.
type RxInfo struct {
	Channel uint8
	RSSI    int8
	At      Ticks
}

// Packet is one pool block: payload bytes plus direction-tagged
// metadata. The tag is fixed at Get time.
type Packet struct {
	dir  Direction
	b    []byte
	used int

	tx TxInfo
	rx RxInfo

	pool *Pool
}

// Bytes returns the in-use portion of the payload.
func (p *Packet) Bytes() []byte { return p.b[:p.used] }

// SetPayload copies b into the block, bounded by the block size.
func (p *Packet) SetPayload(b []byte) error {
	if len(b) > len(p.b) {
		return errors.Errorf("ll: payload %d exceeds block size %d", len(b), len(p.b))
	}
	p.used = copy(p.b, b)
	return nil
}

// Tx returns the transmit metadata; it fails on an rx-tagged packet.
func (p *Packet) Tx() (*TxInfo, error) {
	if p.dir != DirTx {
		return nil, errors.New("ll: tx info on rx packet")
	}
	return &p.tx, nil
}

// Rx returns the receive metadata; it fails on a tx-tagged packet.
func (p *Packet) Rx() (*RxInfo, error) {
	if p.dir != DirRx {
		return nil, errors.New("ll: rx info on tx packet")
	}
	return &p.rx, nil
}

// Pool is a bounded packet-buffer pool. A failed Get degrades one
// operation; it is never fatal.
type Pool struct {
	mu    sync.Mutex
	size  int
	free  []*Packet
	inUse int

	// Failed allocations since start.
	Exhausted uint32
}

// NewPool pre-allocates cnt blocks of the given payload size.
func NewPool(size, cnt int) (*Pool, error) {
	if size <= 0 || cnt <= 0 {
		return nil, errors.Errorf("ll: invalid pool dimensions %d/%d", size, cnt)
	}
	p := &Pool{size: size}
	for i := 0; i < cnt; i++ {
		p.free = append(p.free, &Packet{b: make([]byte, size), pool: p})
	}
	return p, nil
}

// Get takes a block and tags it with the direction. Returns
// ErrNoBuffers when the pool is empty.
func (p *Pool) Get(dir Direction) (*Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		p.Exhausted++
		return nil, ErrNoBuffers
	}
	pkt := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse++

	pkt.dir = dir
	pkt.used = 0
	pkt.tx = TxInfo{}
	pkt.rx = RxInfo{}
	return pkt, nil
}

// Put returns a block to the pool. Returning a foreign or already-free
// block is a programming error and is dropped with a warning.
func (p *Pool) Put(pkt *Packet) {
	if pkt == nil || pkt.pool != p {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse == 0 {
		return
	}
	p.inUse--
	p.free = append(p.free, pkt)
}

// Free reports the number of available blocks.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
