package ll

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"

	"github.com/aead/cmac"
	"github.com/pkg/errors"

	"github.com/edgeble/llc"
	"github.com/edgeble/llc/sliceops"
)

// encState carries the encryption start procedure for one connection.
// Key material is LSB-first as it appears on air; the AES block cipher
// wants MSB-first, so everything gets swapped at the cipher boundary.
type encState struct {
	ltk  [16]byte
	rand uint64
	ediv uint16

	skdm uint64
	skds uint64
	ivm  uint32
	ivs  uint32

	sk      [16]byte
	skValid bool
	enabled bool
	restart bool
}

// e is the security function e: AES-128 encryption of one block
// [Vol 3, Part H, 2.2.1].
func e(key, plaintext [16]byte) ([16]byte, error) {
	var out [16]byte
	c, err := aes.NewCipher(sliceops.SwapBuf(key[:]))
	if err != nil {
		return out, err
	}
	var block [16]byte
	c.Encrypt(block[:], sliceops.SwapBuf(plaintext[:]))
	copy(out[:], sliceops.SwapBuf(block[:]))
	return out, nil
}

// aesCMAC computes AES-CMAC over an LSB-first key and message.
func aesCMAC(key, msg []byte) ([]byte, error) {
	c, err := aes.NewCipher(sliceops.SwapBuf(key))
	if err != nil {
		return nil, err
	}
	tag, err := cmac.Sum(sliceops.SwapBuf(msg), c, aes.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "cmac")
	}
	return sliceops.SwapBuf(tag), nil
}

// sessionKey derives SK = e(LTK, SKDm || SKDs) [Vol 6, Part B, 5.1.3.1].
func sessionKey(ltk [16]byte, skdm, skds uint64) ([16]byte, error) {
	var skd [16]byte
	binary.LittleEndian.PutUint64(skd[0:], skdm)
	binary.LittleEndian.PutUint64(skd[8:], skds)
	return e(ltk, skd)
}

func randUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0xdeadbeefcafebabe
	}
	return binary.LittleEndian.Uint64(b[:])
}

// RandomNumber returns eight bytes from the controller's entropy
// source, as served by the LE Rand command.
func RandomNumber() uint64 { return randUint64() }

func randUint32() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// StartEncryption begins the encryption start procedure on a master
// connection with the host-supplied key material.
func (c *Controller) StartEncryption(handle uint16, rand uint64, ediv uint16, ltk [16]byte) llc.Status {
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if sm.role != RoleMaster {
		return llc.ErrCommandDisallowed
	}
	if st := sm.procStart(procEncrypt); !st.Ok() {
		return st
	}

	sm.enc.restart = sm.enc.enabled
	sm.enc.ltk = ltk
	sm.enc.rand = rand
	sm.enc.ediv = ediv
	sm.enc.skdm = randUint64()
	sm.enc.ivm = randUint32()
	sm.enc.skValid = false
	sm.armRespTimer(c.clock.Now())

	var b [22]byte
	binary.LittleEndian.PutUint64(b[0:], rand)
	binary.LittleEndian.PutUint16(b[8:], ediv)
	binary.LittleEndian.PutUint64(b[10:], sm.enc.skdm)
	binary.LittleEndian.PutUint32(b[18:], sm.enc.ivm)
	return sm.queueCtrl(LLEncReq, b[:])
}

// LTKRequestReply supplies the long-term key a slave was asked for.
func (c *Controller) LTKRequestReply(handle uint16, ltk [16]byte) llc.Status {
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if sm.role != RoleSlave || sm.procs.pending&(1<<procEncrypt) == 0 {
		return llc.ErrCommandDisallowed
	}

	sm.enc.ltk = ltk
	sk, err := sessionKey(ltk, sm.enc.skdm, sm.enc.skds)
	if err != nil {
		sm.procComplete(procEncrypt)
		return llc.ErrHardware
	}
	sm.enc.sk = sk
	sm.enc.skValid = true
	return sm.queueCtrl(LLStartEncReq, nil)
}

// LTKRequestNegReply tells the peer the key is not available.
func (c *Controller) LTKRequestNegReply(handle uint16) llc.Status {
	sm := c.findConn(handle)
	if sm == nil {
		return llc.ErrUnknownConnID
	}
	if sm.role != RoleSlave || sm.procs.pending&(1<<procEncrypt) == 0 {
		return llc.ErrCommandDisallowed
	}
	sm.procComplete(procEncrypt)
	return sm.queueRejectExt(LLEncReq, llc.ErrPinKeyMissing)
}

// rxEncReq is the slave side: stash the master's contribution, answer
// with ours and ask the host for the key.
func (sm *ConnSM) rxEncReq(b []byte) {
	if sm.role != RoleSlave || len(b) < 22 {
		return
	}
	sm.procs.pending |= 1 << procEncrypt
	sm.enc.restart = sm.enc.enabled
	sm.enc.rand = binary.LittleEndian.Uint64(b[0:])
	sm.enc.ediv = binary.LittleEndian.Uint16(b[8:])
	sm.enc.skdm = binary.LittleEndian.Uint64(b[10:])
	sm.enc.ivm = binary.LittleEndian.Uint32(b[18:])
	sm.enc.skds = randUint64()
	sm.enc.ivs = randUint32()

	var rsp [12]byte
	binary.LittleEndian.PutUint64(rsp[0:], sm.enc.skds)
	binary.LittleEndian.PutUint32(rsp[8:], sm.enc.ivs)
	sm.queueCtrl(LLEncRsp, rsp[:])

	sm.c.sendLTKRequestEvent(sm.handle, sm.enc.rand, sm.enc.ediv)
}

// rxEncRsp is the master side: the slave's contribution completes the
// session key.
func (sm *ConnSM) rxEncRsp(b []byte) {
	if sm.role != RoleMaster || len(b) < 12 {
		return
	}
	sm.enc.skds = binary.LittleEndian.Uint64(b[0:])
	sm.enc.ivs = binary.LittleEndian.Uint32(b[8:])

	sk, err := sessionKey(sm.enc.ltk, sm.enc.skdm, sm.enc.skds)
	if err != nil {
		sm.procComplete(procEncrypt)
		sm.encFailed(llc.ErrHardware)
		return
	}
	sm.enc.sk = sk
	sm.enc.skValid = true
}

func (sm *ConnSM) rxStartEncReq() {
	if sm.role != RoleMaster || !sm.enc.skValid {
		return
	}
	sm.queueCtrl(LLStartEncRsp, nil)
}

func (sm *ConnSM) rxStartEncRsp() {
	if sm.role == RoleSlave {
		// echo the response; encryption is now live both ways
		sm.queueCtrl(LLStartEncRsp, nil)
	}
	sm.enc.enabled = true
	restarted := sm.enc.restart
	sm.enc.restart = false
	sm.procComplete(procEncrypt)

	if restarted {
		sm.c.sendKeyRefreshEvent(llc.StatusSuccess, sm.handle)
	} else {
		sm.c.sendEncryptionChangeEvent(llc.StatusSuccess, sm.handle, true)
	}
}

// encFailed reports a failed encryption start to the host.
func (sm *ConnSM) encFailed(reason llc.Status) {
	sm.enc.skValid = false
	sm.enc.restart = false
	sm.c.sendEncryptionChangeEvent(reason, sm.handle, sm.enc.enabled)
}

// Encrypted reports whether the link is currently encrypted.
func (sm *ConnSM) Encrypted() bool { return sm.enc.enabled }
