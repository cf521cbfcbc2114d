package ll

import (
	"encoding/binary"

	"github.com/edgeble/llc"
)

// LL control PDU opcodes [Vol 6, Part B, 2.4.2].
const (
	LLConnUpdateInd   = 0x00
	LLChanMapInd      = 0x01
	LLTerminateInd    = 0x02
	LLEncReq          = 0x03
	LLEncRsp          = 0x04
	LLStartEncReq     = 0x05
	LLStartEncRsp     = 0x06
	LLUnknownRsp      = 0x07
	LLFeatureReq      = 0x08
	LLFeatureRsp      = 0x09
	LLPauseEncReq     = 0x0a
	LLPauseEncRsp     = 0x0b
	LLVersionInd      = 0x0c
	LLRejectInd       = 0x0d
	LLSlaveFeatureReq = 0x0e
	LLConnParamReq    = 0x0f
	LLConnParamRsp    = 0x10
	LLRejectExtInd    = 0x11
)

// Identity of each control procedure; one bit in the pending mask.
type procID uint8

const (
	procConnUpdate procID = iota
	procChanMap
	procFeatureXchg
	procVersionXchg
	procEncrypt
	procTerminate
	procConnParamReq
	procCount
)

// A peer that does not answer a request within the response timeout
// forfeits the link [Vol 6, Part B, 5.2].
const procRespTmoUsecs = 40 * 1000 * 1000

// Local version identity reported by the version exchange.
const (
	versBT42      = 0x08
	companyIDNone = 0xffff
	subversLocal  = 0x0001
)

// Feature bits [Vol 6, Part B, 4.6].
const (
	FeatureEncryption    = 1 << 0
	FeatureConnParamsReq = 1 << 1
	FeatureExtReject     = 1 << 2
	FeatureSlaveFeatures = 1 << 3
)

const localFeatures = FeatureEncryption | FeatureConnParamsReq |
	FeatureExtReject | FeatureSlaveFeatures

// procSet tracks which procedures are in flight on a connection. Only
// one locally-initiated procedure runs at a time; a host request that
// arrives while its own procedure is outstanding is remembered so the
// confirming event still goes out once.
type procSet struct {
	pending      uint8
	hostRetry    uint8
	respDeadline Ticks
	respArmed    bool

	// set while a received LL_CONN_PARAM_REQ waits on the host
	awaitingHost bool
	hostReqID    procID
}

func (sm *ConnSM) procStart(id procID) llc.Status {
	bit := uint8(1) << id
	if sm.procs.pending&bit != 0 {
		// same procedure twice: remember the host asked again
		sm.procs.hostRetry |= bit
		return llc.ErrCommandDisallowed
	}
	if sm.procs.pending != 0 {
		return llc.ErrProcedureCollision
	}
	sm.procs.pending |= bit
	return llc.StatusSuccess
}

func (sm *ConnSM) procComplete(id procID) {
	bit := uint8(1) << id
	sm.procs.pending &^= bit
	sm.procs.hostRetry &^= bit
	sm.procs.respArmed = false
}

func (sm *ConnSM) armRespTimer(now Ticks) {
	sm.procs.respDeadline = now + procRespTmoUsecs
	sm.procs.respArmed = true
}

// procTick enforces the response timeout. Runs at the end of every
// connection event in task context.
func (sm *ConnSM) procTick(now Ticks) {
	if !sm.procs.respArmed || TicksBefore(now, sm.procs.respDeadline) {
		return
	}
	sm.c.connEnded(sm, llc.ErrResponseTimeout)
}

// --- control PDU assembly ----------------------------------------------------

// queueCtrl builds an LL control PDU (LLID 11) and appends it to the
// transmit queue.
func (sm *ConnSM) queueCtrl(op byte, payload []byte) llc.Status {
	c := sm.c
	pkt, err := c.pool.Get(DirTx)
	if err != nil {
		return llc.ErrMemCapacity
	}
	b := make([]byte, 0, 2+1+len(payload))
	b = append(b, 0x03, byte(1+len(payload)), op)
	b = append(b, payload...)
	if err := pkt.SetPayload(b); err != nil {
		c.pool.Put(pkt)
		return llc.ErrMemCapacity
	}

	c.connMu.Lock()
	sm.txq = append(sm.txq, pkt)
	c.connMu.Unlock()
	return llc.StatusSuccess
}

func (sm *ConnSM) queueConnUpdateInd(p ConnParams, instant uint16) llc.Status {
	var b [11]byte
	b[0] = 1 // window size
	binary.LittleEndian.PutUint16(b[1:], 0)
	binary.LittleEndian.PutUint16(b[3:], p.ItvlMax)
	binary.LittleEndian.PutUint16(b[5:], p.Latency)
	binary.LittleEndian.PutUint16(b[7:], p.SpvnTmo)
	binary.LittleEndian.PutUint16(b[9:], instant)
	return sm.queueCtrl(LLConnUpdateInd, b[:])
}

func (sm *ConnSM) queueChanMapInd(m [5]byte, instant uint16) llc.Status {
	var b [7]byte
	copy(b[:], m[:])
	binary.LittleEndian.PutUint16(b[5:], instant)
	return sm.queueCtrl(LLChanMapInd, b[:])
}

func (sm *ConnSM) queueTerminateInd(reason llc.Status) llc.Status {
	return sm.queueCtrl(LLTerminateInd, []byte{byte(reason)})
}

func (sm *ConnSM) queueConnParamReq(p ConnParams) llc.Status {
	return sm.queueCtrl(LLConnParamReq, marshalConnParamPDU(p))
}

func marshalConnParamPDU(p ConnParams) []byte {
	b := make([]byte, 23)
	binary.LittleEndian.PutUint16(b[0:], p.ItvlMin)
	binary.LittleEndian.PutUint16(b[2:], p.ItvlMax)
	binary.LittleEndian.PutUint16(b[4:], p.Latency)
	binary.LittleEndian.PutUint16(b[6:], p.SpvnTmo)
	b[8] = 0 // no preferred periodicity
	binary.LittleEndian.PutUint16(b[9:], 0xffff)
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(b[11+2*i:], 0xffff)
	}
	return b
}

func unmarshalConnParamPDU(b []byte) (ConnParams, bool) {
	if len(b) < 8 {
		return ConnParams{}, false
	}
	return ConnParams{
		ItvlMin: binary.LittleEndian.Uint16(b[0:]),
		ItvlMax: binary.LittleEndian.Uint16(b[2:]),
		Latency: binary.LittleEndian.Uint16(b[4:]),
		SpvnTmo: binary.LittleEndian.Uint16(b[6:]),
	}, true
}

func (sm *ConnSM) queueRejectExt(op byte, reason llc.Status) llc.Status {
	if sm.featuresValid && sm.peerFeatures&FeatureExtReject == 0 {
		return sm.queueCtrl(LLRejectInd, []byte{byte(reason)})
	}
	return sm.queueCtrl(LLRejectExtInd, []byte{op, byte(reason)})
}

func (sm *ConnSM) queueUnknownRsp(op byte) llc.Status {
	return sm.queueCtrl(LLUnknownRsp, []byte{op})
}

// --- host-visible procedures ---------------------------------------------------

func (sm *ConnSM) startChanMapUpdate(m [5]byte) llc.Status {
	if st := sm.procStart(procChanMap); !st.Ok() {
		return st
	}
	instant := sm.eventCounter + 6
	sm.pendingChanMap = &chanMapUpdate{chanMap: m, instant: instant}
	return sm.queueChanMapInd(m, instant)
}

// ReadRemoteFeatures starts the feature exchange, or replays the cached
// result when the peer already answered once.
func (c *Controller) ReadRemoteFeatures(handle uint16) llc.Status {
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if sm.featuresValid {
		c.post(func() {
			c.sendRemoteFeaturesEvent(llc.StatusSuccess, sm.handle, sm.peerFeatures)
		})
		return llc.StatusSuccess
	}
	if st := sm.procStart(procFeatureXchg); !st.Ok() {
		return st
	}
	sm.armRespTimer(c.clock.Now())
	op := byte(LLFeatureReq)
	if sm.role == RoleSlave {
		op = LLSlaveFeatureReq
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], localFeatures)
	return sm.queueCtrl(op, b[:])
}

// ReadRemoteVersion starts the version exchange. The exchange runs at
// most once per connection; later reads answer from the cache.
func (c *Controller) ReadRemoteVersion(handle uint16) llc.Status {
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if sm.peerVersion.valid {
		c.post(func() {
			c.sendRemoteVersionEvent(llc.StatusSuccess, sm.handle,
				sm.peerVersion.vers, sm.peerVersion.company, sm.peerVersion.subvers)
		})
		return llc.StatusSuccess
	}
	if st := sm.procStart(procVersionXchg); !st.Ok() {
		return st
	}
	sm.armRespTimer(c.clock.Now())
	return sm.queueVersionInd()
}

func (sm *ConnSM) queueVersionInd() llc.Status {
	var b [5]byte
	b[0] = versBT42
	binary.LittleEndian.PutUint16(b[1:], companyIDNone)
	binary.LittleEndian.PutUint16(b[3:], subversLocal)
	return sm.queueCtrl(LLVersionInd, b[:])
}

// RemoteConnParamReqReply accepts a peer's parameter request. On the
// master this turns into the update procedure toward the requested
// values; on the slave it answers with LL_CONNECTION_PARAM_RSP.
func (c *Controller) RemoteConnParamReqReply(handle uint16, p ConnParams) llc.Status {
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if !sm.procs.awaitingHost {
		return llc.ErrCommandDisallowed
	}
	if st := CheckConnParams(p); !st.Ok() {
		return st
	}
	sm.procs.awaitingHost = false

	if sm.role == RoleMaster {
		instant := sm.eventCounter + 6
		sm.pendingUpdate = &connUpdate{
			itvl: p.ItvlMax, latency: p.Latency, spvnTmo: p.SpvnTmo, instant: instant,
		}
		return sm.queueConnUpdateInd(p, instant)
	}
	return sm.queueCtrl(LLConnParamRsp, marshalConnParamPDU(p))
}

// RemoteConnParamReqNegReply rejects a peer's parameter request with
// the given reason.
func (c *Controller) RemoteConnParamReqNegReply(handle uint16, reason llc.Status) llc.Status {
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if !sm.procs.awaitingHost {
		return llc.ErrCommandDisallowed
	}
	sm.procs.awaitingHost = false
	sm.procComplete(procConnParamReq)
	return sm.queueRejectExt(LLConnParamReq, reason)
}

// --- receive dispatch ----------------------------------------------------------

// rxCtrl handles one received LL control PDU. Task context.
func (sm *ConnSM) rxCtrl(b []byte, now Ticks) {
	if sm.state == connFree || len(b) < 1 {
		return
	}
	op, pay := b[0], b[1:]

	switch op {
	case LLTerminateInd:
		reason := llc.ErrRemoteTerminated
		if len(pay) >= 1 {
			reason = llc.Status(pay[0])
		}
		sm.c.connEnded(sm, reason)

	case LLConnUpdateInd:
		sm.rxConnUpdateInd(pay)

	case LLChanMapInd:
		sm.rxChanMapInd(pay)

	case LLFeatureReq, LLSlaveFeatureReq:
		if len(pay) >= 8 {
			sm.peerFeatures = binary.LittleEndian.Uint64(pay)
			sm.featuresValid = true
		}
		var rsp [8]byte
		binary.LittleEndian.PutUint64(rsp[:], localFeatures)
		sm.queueCtrl(LLFeatureRsp, rsp[:])

	case LLFeatureRsp:
		if len(pay) >= 8 {
			sm.peerFeatures = binary.LittleEndian.Uint64(pay)
			sm.featuresValid = true
		}
		if sm.procs.pending&(1<<procFeatureXchg) != 0 {
			sm.procComplete(procFeatureXchg)
			sm.c.sendRemoteFeaturesEvent(llc.StatusSuccess, sm.handle, sm.peerFeatures)
		}

	case LLVersionInd:
		sm.rxVersionInd(pay)

	case LLConnParamReq:
		sm.rxConnParamReq(pay)

	case LLConnParamRsp:
		sm.rxConnParamRsp(pay)

	case LLRejectInd, LLRejectExtInd:
		sm.rxReject(op, pay)

	case LLUnknownRsp:
		sm.rxUnknownRsp(pay)

	case LLEncReq:
		sm.rxEncReq(pay)

	case LLEncRsp:
		sm.rxEncRsp(pay)

	case LLStartEncReq:
		sm.rxStartEncReq()

	case LLStartEncRsp:
		sm.rxStartEncRsp()

	default:
		sm.queueUnknownRsp(op)
	}
}

// rxConnUpdateInd applies a master-driven parameter switch on the
// slave. An instant already in the past kills the link.
func (sm *ConnSM) rxConnUpdateInd(b []byte) {
	if sm.role != RoleSlave || len(b) < 11 {
		return
	}
	instant := binary.LittleEndian.Uint16(b[9:])
	if instantPassed(instant, sm.eventCounter) {
		sm.c.connEnded(sm, llc.ErrInstantPassed)
		return
	}
	sm.pendingUpdate = &connUpdate{
		itvl:    binary.LittleEndian.Uint16(b[3:]),
		latency: binary.LittleEndian.Uint16(b[5:]),
		spvnTmo: binary.LittleEndian.Uint16(b[7:]),
		instant: instant,
	}
}

func (sm *ConnSM) rxChanMapInd(b []byte) {
	if sm.role != RoleSlave || len(b) < 7 {
		return
	}
	instant := binary.LittleEndian.Uint16(b[5:])
	if instantPassed(instant, sm.eventCounter) {
		sm.c.connEnded(sm, llc.ErrInstantPassed)
		return
	}
	var m [5]byte
	copy(m[:], b)
	if countUsed(m) == 0 {
		return
	}
	sm.pendingChanMap = &chanMapUpdate{chanMap: m, instant: instant}
}

// instantPassed compares an instant against the event counter modulo
// 65536: anything more than half the range ahead is in the past.
func instantPassed(instant, counter uint16) bool {
	return instant-counter >= 32767
}

func (sm *ConnSM) rxVersionInd(b []byte) {
	if len(b) >= 5 && !sm.peerVersion.valid {
		sm.peerVersion.vers = b[0]
		sm.peerVersion.company = binary.LittleEndian.Uint16(b[1:])
		sm.peerVersion.subvers = binary.LittleEndian.Uint16(b[3:])
		sm.peerVersion.valid = true
	}
	if sm.procs.pending&(1<<procVersionXchg) != 0 {
		sm.procComplete(procVersionXchg)
		sm.c.sendRemoteVersionEvent(llc.StatusSuccess, sm.handle,
			sm.peerVersion.vers, sm.peerVersion.company, sm.peerVersion.subvers)
		return
	}
	// peer-initiated: answer once
	sm.queueVersionInd()
}

// rxConnParamReq hands a peer's request up to the host unless a
// conflicting local procedure makes it a collision.
func (sm *ConnSM) rxConnParamReq(b []byte) {
	p, ok := unmarshalConnParamPDU(b)
	if !ok {
		return
	}
	if sm.procs.pending&((1<<procConnUpdate)|(1<<procConnParamReq)) != 0 {
		sm.queueRejectExt(LLConnParamReq, llc.ErrProcedureCollision)
		return
	}
	if st := CheckConnParams(ConnParams{
		ItvlMin: p.ItvlMin, ItvlMax: p.ItvlMax,
		Latency: p.Latency, SpvnTmo: p.SpvnTmo,
	}); !st.Ok() {
		sm.queueRejectExt(LLConnParamReq, llc.ErrUnacceptableParams)
		return
	}
	sm.procs.awaitingHost = true
	sm.c.sendRemoteConnParamReqEvent(sm.handle, p)
}

// rxConnParamRsp is the master-side continuation of a parameter
// request it initiated: commit an update toward the agreed values.
func (sm *ConnSM) rxConnParamRsp(b []byte) {
	if sm.role != RoleMaster {
		return
	}
	p, ok := unmarshalConnParamPDU(b)
	if !ok {
		return
	}
	instant := sm.eventCounter + 6
	sm.pendingUpdate = &connUpdate{
		itvl: p.ItvlMax, latency: p.Latency, spvnTmo: p.SpvnTmo, instant: instant,
	}
	sm.queueConnUpdateInd(ConnParams{
		ItvlMax: p.ItvlMax, Latency: p.Latency, SpvnTmo: p.SpvnTmo,
	}, instant)
}

func (sm *ConnSM) rxReject(op byte, pay []byte) {
	reason := llc.ErrUnspecified
	rejectedOp := byte(0xff)
	switch {
	case op == LLRejectExtInd && len(pay) >= 2:
		rejectedOp, reason = pay[0], llc.Status(pay[1])
	case op == LLRejectInd && len(pay) >= 1:
		reason = llc.Status(pay[0])
	}

	switch {
	case sm.procs.pending&(1<<procConnParamReq) != 0 &&
		(rejectedOp == LLConnParamReq || op == LLRejectInd):
		sm.procComplete(procConnParamReq)
		sm.c.sendConnUpdateCompleteEvent(reason, sm.handle, sm.itvl, sm.latency, sm.spvnTmo)
	case sm.procs.pending&(1<<procEncrypt) != 0:
		sm.procComplete(procEncrypt)
		sm.encFailed(reason)
	}
}

// rxUnknownRsp resolves an outstanding procedure the peer does not
// implement.
func (sm *ConnSM) rxUnknownRsp(pay []byte) {
	if len(pay) < 1 {
		return
	}
	switch pay[0] {
	case LLConnParamReq:
		if sm.procs.pending&(1<<procConnParamReq) != 0 {
			sm.procComplete(procConnParamReq)
			sm.c.sendConnUpdateCompleteEvent(llc.ErrUnsupportedRemote,
				sm.handle, sm.itvl, sm.latency, sm.spvnTmo)
		}
	case LLFeatureReq, LLSlaveFeatureReq:
		if sm.procs.pending&(1<<procFeatureXchg) != 0 {
			sm.procComplete(procFeatureXchg)
			sm.peerFeatures = 0
			sm.featuresValid = true
			sm.c.sendRemoteFeaturesEvent(llc.StatusSuccess, sm.handle, 0)
		}
	case LLEncReq:
		if sm.procs.pending&(1<<procEncrypt) != 0 {
			sm.procComplete(procEncrypt)
			sm.encFailed(llc.ErrUnsupportedRemote)
		}
	}
}
