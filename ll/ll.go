// Package ll implements the Link Layer: the advertising, scanning and
// connection state machines, the radio event scheduler and the filter
// policies, below the HCI command surface.
package ll

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/edgeble/llc"
	"github.com/edgeble/llc/hci/evt"
)

// Controller states. Exactly one radio-owning activity runs at a time;
// the scheduler interleaves them at event granularity.
const (
	stateStandby int32 = iota
	stateAdvertising
	stateScanning
	stateInitiating
	stateConnection
)

const (
	schedRetryMax = 8

	defaultConnSlots   = 4
	defaultPoolSize    = 64
	defaultPoolCount   = 16
	defaultNCPInterval = 50 * time.Millisecond

	taskQueueDepth = 32
)

// CtrlStats counts controller-wide degradations.
type CtrlStats struct {
	ConnNoSlots uint32
	SchedFailed uint32
	TaskDropped uint32
}

// Controller is the Link Layer controller. The radio calls TxDone and
// RxPDU from its interrupt-equivalent context; those paths only touch
// the radio, the scheduler and atomics, and post closures onto the
// task queue for everything else. The task goroutine owns all protocol
// state.
type Controller struct {
	logger llc.Logger

	clock Clock
	radio Radio
	sched *Scheduler
	pool  *Pool
	wl    *Whitelist

	adv  *Advertiser
	scan *Scanner

	connMu   sync.Mutex
	conns    []*ConnSM
	createSM *ConnSM

	state int32 // atomic

	publicAddr    [6]byte
	randomAddr    [6]byte
	hasRandomAddr bool

	// configuration, fixed before Start
	connSlots   int
	poolSize    int
	poolCount   int
	wlCapacity  int
	ncpInterval time.Duration
	errHandler  func(error)

	evtMu   sync.Mutex
	evtSink func([]byte)

	tasks   chan func()
	done    chan struct{}
	closed  int32
	ncpStop chan struct{}

	stats CtrlStats
}

// NewController assembles a controller around a radio and a clock and
// starts the task loop.
func NewController(radio Radio, clock Clock, opts ...llc.Option) (*Controller, error) {
	c := &Controller{
		logger:      llc.GetLogger(),
		clock:       clock,
		radio:       radio,
		connSlots:   defaultConnSlots,
		poolSize:    defaultPoolSize,
		poolCount:   defaultPoolCount,
		ncpInterval: defaultNCPInterval,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "ll: option")
		}
	}

	pool, err := NewPool(c.poolSize, c.poolCount)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	c.sched = NewScheduler(clock)
	c.wl = NewWhitelist(c.wlCapacity, c.whitelistBusy)
	c.adv = newAdvertiser(c)
	c.scan = newScanner(c)

	c.conns = make([]*ConnSM, c.connSlots)
	for i := range c.conns {
		c.conns[i] = &ConnSM{c: c, handle: uint16(i)}
		c.conns[i].reset()
	}

	c.tasks = make(chan func(), taskQueueDepth)
	c.done = make(chan struct{})
	c.ncpStop = make(chan struct{})
	radio.SetHandler(c)

	go c.taskLoop()
	go c.ncpLoop()
	return c, nil
}

// --- option plumbing ---------------------------------------------------------

func (c *Controller) SetPublicAddress(a llc.Addr) error {
	b := a.Bytes()
	if len(b) != 6 {
		return errors.Errorf("ll: bad public address %v", a)
	}
	// wire order is little endian
	for i := 0; i < 6; i++ {
		c.publicAddr[i] = b[5-i]
	}
	return nil
}

func (c *Controller) SetConnectionSlots(n int) error {
	if n <= 0 {
		return errors.Errorf("ll: bad connection slot count %d", n)
	}
	c.connSlots = n
	return nil
}

func (c *Controller) SetBufferPool(size, count int) error {
	if size <= 0 || count <= 0 {
		return errors.Errorf("ll: bad buffer pool %d/%d", size, count)
	}
	c.poolSize, c.poolCount = size, count
	return nil
}

func (c *Controller) SetWhitelistCapacity(n int) error {
	if n <= 0 {
		return errors.Errorf("ll: bad whitelist capacity %d", n)
	}
	c.wlCapacity = n
	return nil
}

func (c *Controller) SetCompletedPacketsInterval(d time.Duration) error {
	if d <= 0 {
		return errors.Errorf("ll: bad completed packets interval %v", d)
	}
	c.ncpInterval = d
	return nil
}

func (c *Controller) SetErrorHandler(h func(error)) error {
	c.errHandler = h
	return nil
}

// --- task loop ---------------------------------------------------------------

// post hands a closure to the task goroutine. Never blocks: when the
// queue is full the work is dropped and counted, like a lost radio
// event.
func (c *Controller) post(fn func()) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return
	}
	select {
	case c.tasks <- fn:
	default:
		atomic.AddUint32(&c.stats.TaskDropped, 1)
		if c.errHandler != nil {
			c.errHandler(errors.New("ll: task queue full"))
		}
	}
}

func (c *Controller) taskLoop() {
	for {
		select {
		case fn := <-c.tasks:
			fn()
		case <-c.done:
			return
		}
	}
}

// ncpLoop batches completed-packet counts toward the host at a bounded
// rate.
func (c *Controller) ncpLoop() {
	t := time.NewTicker(c.ncpInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.post(c.flushCompletedPackets)
		case <-c.ncpStop:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Controller) flushCompletedPackets() {
	hc := c.CompletedPackets()
	if len(hc) == 0 {
		return
	}
	handles := make([]uint16, len(hc))
	counts := make([]uint16, len(hc))
	for i, e := range hc {
		handles[i] = e.Handle
		counts[i] = e.Count
	}
	c.sendEvent(evt.BuildNumberOfCompletedPackets(handles, counts))
}

/// Reset returns the controller to standby: advertising, scanning and
// every connection are dropped without events or termination
// procedures.
func (c *Controller) Reset() llc.Status {
	c.adv.SetEnable(false)
	c.scan.SetEnable(false, false)
	c.connMu.Lock()
	c.createSM = nil
	c.connMu.Unlock()
	c.scan.stopInitiator()

	for _, h := range c.ActiveConns() {
		sm := c.findConn(h)
		if sm == nil {
			continue
		}
		c.sched.Remove(&sm.item)
		c.freeConn(sm)
	}
	c.wl.Clear()
	c.hasRandomAddr = false
	c.setState(stateStandby)
	_ = c.radio.Disable()
	return llc.StatusSuccess
}

// Close stops the task loop and releases the radio. Connections are
// dropped without termination procedures.
func (c *Controller) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	close(c.done)
	_ = c.radio.Disable()
	return nil
}

// --- state plumbing ----------------------------------------------------------

func (c *Controller) setState(s int32) {
	atomic.StoreInt32(&c.state, s)
}

// State returns the current radio-owning activity.
func (c *Controller) State() int32 {
	return atomic.LoadInt32(&c.state)
}

// radioIdle disables the radio if the given activity still owns it.
func (c *Controller) radioIdle(prev int32) {
	if atomic.CompareAndSwapInt32(&c.state, prev, stateStandby) {
		_ = c.radio.Disable()
	}
}

func (c *Controller) whitelistBusy() bool {
	return c.adv.usesWhitelist() || c.scan.usesWhitelist()
}

// --- accessors ---------------------------------------------------------------

// Advertiser returns the advertising state machine.
func (c *Controller) Advertiser() *Advertiser { return c.adv }

// Scanner returns the scanning state machine.
func (c *Controller) Scanner() *Scanner { return c.scan }

// Whitelist returns the filter allow-list.
func (c *Controller) Whitelist() *Whitelist { return c.wl }

// Stats returns a copy of the controller counters.
func (c *Controller) Stats() CtrlStats {
	return CtrlStats{
		ConnNoSlots: atomic.LoadUint32(&c.stats.ConnNoSlots),
		SchedFailed: atomic.LoadUint32(&c.stats.SchedFailed),
		TaskDropped: atomic.LoadUint32(&c.stats.TaskDropped),
	}
}

// PublicAddr returns the configured public device address.
func (c *Controller) PublicAddr() [6]byte { return c.publicAddr }

// SetRandomAddress stores the random device address used when an
// own-address type of random is selected.
func (c *Controller) SetRandomAddress(a [6]byte) llc.Status {
	if c.adv.Enabled() || c.scan.Enabled() || c.scan.Initiating() {
		return llc.ErrCommandDisallowed
	}
	c.randomAddr = a
	c.hasRandomAddr = true
	return llc.StatusSuccess
}

// --- radio handler -----------------------------------------------------------

// Tick drives the scheduler; the platform timer calls it at every
// wakeup point. Interrupt context.
func (c *Controller) Tick(now Ticks) {
	c.sched.Run(now)
}

// TxDone routes the transmit-complete interrupt to whichever state
// machine owns the radio.
func (c *Controller) TxDone(now Ticks) {
	switch c.State() {
	case stateAdvertising:
		c.adv.txDone(now)
	case stateInitiating, stateScanning:
		// scan requests and connect requests need no completion action
	case stateConnection:
		if sm := c.currentConn(); sm != nil {
			sm.txDone(now)
		}
	}
	c.sched.Run(now)
}

// RxPDU routes a received PDU to whichever state machine owns the
// radio. The buffer belongs to the radio and must be copied before
// this returns.
func (c *Controller) RxPDU(b []byte, rssi int8, now Ticks) {
	switch c.State() {
	case stateAdvertising:
		c.adv.rxPDU(b, now)
	case stateScanning, stateInitiating:
		c.scan.rxPDU(b, rssi, now)
	case stateConnection:
		if sm := c.currentConn(); sm != nil {
			sm.rxPDU(b, now)
		}
	}
	c.sched.Run(now)
}

// currentConn resolves the connection owning the in-flight schedule
// item.
func (c *Controller) currentConn() *ConnSM {
	c.sched.mu.Lock()
	it := c.sched.current
	c.sched.mu.Unlock()
	if it == nil || it.Type != SchedTypeConn {
		return nil
	}
	sm, _ := it.Arg.(*ConnSM)
	return sm
}

// --- event plumbing ----------------------------------------------------------

// SetEventSink installs the consumer for HCI event packets. The sink
// runs on the task goroutine and must not block.
func (c *Controller) SetEventSink(sink func([]byte)) {
	c.evtMu.Lock()
	c.evtSink = sink
	c.evtMu.Unlock()
}

func (c *Controller) sendEvent(b []byte) {
	c.evtMu.Lock()
	sink := c.evtSink
	c.evtMu.Unlock()
	if sink != nil {
		sink(b)
	}
}

func (c *Controller) sendConnCompleteEvent(status llc.Status, handle uint16,
	role, peerAddrType uint8, peer [6]byte, itvl, latency, spvnTmo uint16, mca uint8) {
	c.logger.Debugf("ll: connection complete handle %d: %s", handle, status.Error())
	c.sendEvent(evt.BuildLEConnectionComplete(uint8(status), handle, role,
		peerAddrType, peer, itvl, latency, spvnTmo, mca))
}

func (c *Controller) sendDisconnectionCompleteEvent(handle uint16, reason llc.Status) {
	c.logger.Debugf("ll: disconnected handle %d: %s", handle, reason.Error())
	c.sendEvent(evt.BuildDisconnectionComplete(uint8(llc.StatusSuccess), handle, uint8(reason)))
}

func (c *Controller) sendConnUpdateCompleteEvent(status llc.Status, handle uint16,
	itvl, latency, spvnTmo uint16) {
	c.sendEvent(evt.BuildLEConnectionUpdateComplete(uint8(status), handle, itvl, latency, spvnTmo))
}

func (c *Controller) sendRemoteFeaturesEvent(status llc.Status, handle uint16, features uint64) {
	c.sendEvent(evt.BuildLEReadRemoteFeaturesComplete(uint8(status), handle, features))
}

func (c *Controller) sendRemoteVersionEvent(status llc.Status, handle uint16,
	vers uint8, company, subvers uint16) {
	c.sendEvent(evt.BuildReadRemoteVersionComplete(uint8(status), handle, vers, company, subvers))
}

func (c *Controller) sendRemoteConnParamReqEvent(handle uint16, p ConnParams) {
	c.sendEvent(evt.BuildLERemoteConnParamReq(handle, p.ItvlMin, p.ItvlMax, p.Latency, p.SpvnTmo))
}

func (c *Controller) sendLTKRequestEvent(handle uint16, rand uint64, ediv uint16) {
	c.sendEvent(evt.BuildLELongTermKeyRequest(handle, rand, ediv))
}

func (c *Controller) sendEncryptionChangeEvent(status llc.Status, handle uint16, enabled bool) {
	var e uint8
	if enabled {
		e = 1
	}
	c.sendEvent(evt.BuildEncryptionChange(uint8(status), handle, e))
}

func (c *Controller) sendKeyRefreshEvent(status llc.Status, handle uint16) {
	c.sendEvent(evt.BuildEncryptionKeyRefreshComplete(uint8(status), handle))
}

func (c *Controller) sendAdvReportEvent(eventType, addrType uint8, addr [6]byte, data []byte, rssi int8) {
	c.sendEvent(evt.BuildLEAdvertisingReport(eventType, addrType, addr, data, rssi))
}
