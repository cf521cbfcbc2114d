// Package cmd defines the HCI command packets the controller accepts.
// Commands are fixed-layout structs marshalled little endian; the
// return parameters of a Command Complete unmarshal the same way.
package cmd

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Command is one HCI command: a 16-bit opcode and a fixed-length
// parameter block.
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// CommandRP is the return parameter block of a Command Complete.
type CommandRP interface {
	Unmarshal(b []byte) error
}

// Sender sends an HCI command and fills in the return parameters.
type Sender interface {
	Send(Command, CommandRP) error
}

func marshal(c Command, b []byte) error {
	buf := bytes.NewBuffer(b)
	buf.Reset()
	if buf.Cap() < c.Len() {
		return io.ErrShortBuffer
	}
	return binary.Write(buf, binary.LittleEndian, c)
}

func unmarshal(c CommandRP, b []byte) error {
	buf := bytes.NewBuffer(b)
	return binary.Read(buf, binary.LittleEndian, c)
}

// Opcode splits: 6-bit OGF, 10-bit OCF.
func Opcode(ogf, ocf int) int { return ogf<<10 | ocf }

// OGF extracts the opcode group field.
func OGF(opcode uint16) uint8 { return uint8(opcode >> 10) }

// OCF extracts the opcode command field.
func OCF(opcode uint16) uint16 { return opcode & 0x03ff }
