package llc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr represents a Bluetooth device address.
type Addr interface {
	String() string
	Bytes() []byte
}

// NewAddr creates an Addr from string
func NewAddr(s string) Addr {
	return addr(strings.ToLower(s))
}

// AddrFromBytes creates an Addr from a 6-byte little-endian wire address.
func AddrFromBytes(b [6]byte) Addr {
	return NewAddr(fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		b[5], b[4], b[3], b[2], b[1], b[0]))
}

// RandomAddress marks an address as a Random Device Address.
type RandomAddress struct {
	Addr
}

type addr string

func (a addr) String() string {
	return string(a)
}

func (a addr) Bytes() []byte {
	hexStr := strings.Replace(a.String(), ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		fmt.Println("error decoding address:", err, a.String())
	}

	return out
}
