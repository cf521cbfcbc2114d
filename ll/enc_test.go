package ll

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/edgeble/llc"
)

func rev(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestSecurityFunctionE(t *testing.T) {
	// AES-128 of an all-zero block under an all-zero key; our key and
	// block ordering is LSB first, so the known answer comes out
	// reversed.
	var key, pt [16]byte
	out, err := e(key, pt)
	if err != nil {
		t.Fatalf("e: %v", err)
	}
	want := rev(mustHex(t, "66e94bd4ef8a2c3b884cfa59ca342b2e"))
	if !bytes.Equal(out[:], want) {
		t.Fatalf("e = %x, want %x", out, want)
	}
}

func TestAESCMACVectors(t *testing.T) {
	// RFC 4493 vectors, fed and read back LSB first.
	key := rev(mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c"))

	tag, err := aesCMAC(key, nil)
	if err != nil {
		t.Fatalf("cmac: %v", err)
	}
	want := rev(mustHex(t, "bb1d6929e95937287fa37d129b756746"))
	if !bytes.Equal(tag, want) {
		t.Fatalf("cmac(empty) = %x, want %x", tag, want)
	}

	msg := rev(mustHex(t, "6bc1bee22e409f96e93d7e117393172a"))
	tag, err = aesCMAC(key, msg)
	if err != nil {
		t.Fatalf("cmac: %v", err)
	}
	want = rev(mustHex(t, "070a16b46b4d4144f79bdd9dd04a287c"))
	if !bytes.Equal(tag, want) {
		t.Fatalf("cmac(16 bytes) = %x, want %x", tag, want)
	}
}

func TestSessionKeyDerivation(t *testing.T) {
	var ltk [16]byte
	copy(ltk[:], mustHex(t, "4c68384139f574d836bcf34e9dfb01bf"))

	// master and slave combine the same contributions to the same key
	a, err := sessionKey(ltk, 0x0123456789abcdef, 0xfedcba9876543210)
	if err != nil {
		t.Fatalf("session key: %v", err)
	}
	b, err := sessionKey(ltk, 0x0123456789abcdef, 0xfedcba9876543210)
	if err != nil {
		t.Fatalf("session key: %v", err)
	}
	if a != b {
		t.Fatal("session key not deterministic")
	}

	// any change to a contribution changes the key
	c, _ := sessionKey(ltk, 0x0123456789abcdee, 0xfedcba9876543210)
	if a == c {
		t.Fatal("session key ignores the master contribution")
	}
}

func TestStartEncryptionMasterOnly(t *testing.T) {
	c, sm, _, _ := newSlaveConn(t)

	var ltk [16]byte
	if st := c.StartEncryption(99, 0, 0, ltk); st != llc.ErrUnknownConnID {
		t.Fatalf("start on unknown handle: %v", st)
	}
	if st := c.StartEncryption(sm.handle, 0, 0, ltk); st != llc.ErrCommandDisallowed {
		t.Fatalf("start on a slave link: %v", st)
	}
}

func TestEncryptionStartMaster(t *testing.T) {
	c, sm, rec := newMasterConn(t)

	var ltk [16]byte
	copy(ltk[:], mustHex(t, "4c68384139f574d836bcf34e9dfb01bf"))
	if st := c.StartEncryption(sm.handle, 0x1122334455667788, 0x9abc, ltk); !st.Ok() {
		t.Fatalf("start encryption: %v", st)
	}

	op, pay := lastCtrl(t, sm)
	if op != LLEncReq {
		t.Fatalf("queued opcode %#x, want LL_ENC_REQ", op)
	}
	if len(pay) != 22 {
		t.Fatalf("enc request payload %d bytes, want 22", len(pay))
	}
	if binary.LittleEndian.Uint64(pay) != 0x1122334455667788 {
		t.Fatalf("rand %x", pay[:8])
	}
	if binary.LittleEndian.Uint16(pay[8:]) != 0x9abc {
		t.Fatalf("ediv %x", pay[8:10])
	}

	// slave contribution arrives
	rsp := make([]byte, 13)
	rsp[0] = LLEncRsp
	binary.LittleEndian.PutUint64(rsp[1:], 0xcafebabe12345678)
	binary.LittleEndian.PutUint32(rsp[9:], 0xdeadbeef)
	onTask(c, func() { sm.rxCtrl(rsp, 2000) })
	if !sm.enc.skValid {
		t.Fatal("session key not derived from the slave contribution")
	}

	// three-way start: slave requests, we respond, slave confirms
	onTask(c, func() { sm.rxCtrl([]byte{LLStartEncReq}, 2100) })
	op, _ = lastCtrl(t, sm)
	if op != LLStartEncRsp {
		t.Fatalf("queued opcode %#x, want LL_START_ENC_RSP", op)
	}
	onTask(c, func() { sm.rxCtrl([]byte{LLStartEncRsp}, 2200) })

	if !sm.Encrypted() {
		t.Fatal("link not encrypted after the start handshake")
	}
	e := rec.last()
	if e == nil || e[0] != 0x08 || e[2] != 0x00 || e[5] != 0x01 {
		t.Fatalf("no encryption change event: %x", e)
	}

	// restarting on an encrypted link reports a key refresh instead
	if st := c.StartEncryption(sm.handle, 1, 2, ltk); !st.Ok() {
		t.Fatalf("restart encryption: %v", st)
	}
	onTask(c, func() { sm.rxCtrl(rsp, 3000) })
	onTask(c, func() { sm.rxCtrl([]byte{LLStartEncReq}, 3100) })
	onTask(c, func() { sm.rxCtrl([]byte{LLStartEncRsp}, 3200) })
	e = rec.last()
	if e == nil || e[0] != 0x30 || e[2] != 0x00 {
		t.Fatalf("no key refresh event: %x", e)
	}
}

func TestEncryptionStartSlave(t *testing.T) {
	c, sm, rec, _ := newSlaveConn(t)

	var ltk [16]byte
	if st := c.LTKRequestReply(sm.handle, ltk); st != llc.ErrCommandDisallowed {
		t.Fatalf("ltk reply with no request pending: %v", st)
	}

	req := make([]byte, 23)
	req[0] = LLEncReq
	binary.LittleEndian.PutUint64(req[1:], 0x1122334455667788)
	binary.LittleEndian.PutUint16(req[9:], 0x9abc)
	binary.LittleEndian.PutUint64(req[11:], 0xcafebabe12345678)
	binary.LittleEndian.PutUint32(req[19:], 0xdeadbeef)
	onTask(c, func() { sm.rxCtrl(req, 2000) })

	// our contribution goes back immediately
	op, pay := lastCtrl(t, sm)
	if op != LLEncRsp || len(pay) != 12 {
		t.Fatalf("enc response %#x/%d bytes", op, len(pay))
	}
	// and the host is asked for the key
	e := rec.last()
	if e == nil || e[0] != 0x3e || e[2] != 0x05 {
		t.Fatalf("no long term key request event: %x", e)
	}
	if binary.LittleEndian.Uint64(e[5:]) != 0x1122334455667788 {
		t.Fatalf("event rand %x", e[5:13])
	}
	if binary.LittleEndian.Uint16(e[13:]) != 0x9abc {
		t.Fatalf("event ediv %x", e[13:15])
	}

	copy(ltk[:], mustHex(t, "4c68384139f574d836bcf34e9dfb01bf"))
	if st := c.LTKRequestReply(sm.handle, ltk); !st.Ok() {
		t.Fatalf("ltk reply: %v", st)
	}
	op, _ = lastCtrl(t, sm)
	if op != LLStartEncReq {
		t.Fatalf("queued opcode %#x, want LL_START_ENC_REQ", op)
	}
	if !sm.enc.skValid {
		t.Fatal("session key not derived on the slave")
	}

	// the master's confirmation completes the start; we echo it
	onTask(c, func() { sm.rxCtrl([]byte{LLStartEncRsp}, 2100) })
	op, _ = lastCtrl(t, sm)
	if op != LLStartEncRsp {
		t.Fatalf("queued opcode %#x, want echoed LL_START_ENC_RSP", op)
	}
	if !sm.Encrypted() {
		t.Fatal("link not encrypted after the start handshake")
	}
	e = rec.last()
	if e == nil || e[0] != 0x08 || e[2] != 0x00 || e[5] != 0x01 {
		t.Fatalf("no encryption change event: %x", e)
	}
}

func TestLTKRequestNegReply(t *testing.T) {
	c, sm, _, _ := newSlaveConn(t)

	if st := c.LTKRequestNegReply(sm.handle); st != llc.ErrCommandDisallowed {
		t.Fatalf("neg reply with no request pending: %v", st)
	}

	req := make([]byte, 23)
	req[0] = LLEncReq
	onTask(c, func() { sm.rxCtrl(req, 2000) })

	if st := c.LTKRequestNegReply(sm.handle); !st.Ok() {
		t.Fatalf("neg reply: %v", st)
	}
	op, pay := lastCtrl(t, sm)
	if op != LLRejectExtInd {
		t.Fatalf("queued opcode %#x, want LL_REJECT_EXT_IND", op)
	}
	if pay[0] != LLEncReq || llc.Status(pay[1]) != llc.ErrPinKeyMissing {
		t.Fatalf("reject payload %x", pay)
	}
	if sm.Encrypted() {
		t.Fatal("link encrypted after a negative key reply")
	}
}
