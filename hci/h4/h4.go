// Package h4 carries HCI over a serial port using the UART transport
// layer framing: one packet-type byte in front of every command, ACL
// data or event packet.
package h4

import (
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"

	"github.com/edgeble/llc"
	"github.com/edgeble/llc/hci"
)

const (
	cmdPacket byte = 0x01
	aclPacket byte = 0x02
	evtPacket byte = 0x04
)

// Server reads host packets off a serial line, feeds them into the
// command processor and writes events back.
type Server struct {
	logger llc.Logger

	rwc  io.ReadWriteCloser
	proc *hci.Processor

	wmu  sync.Mutex
	fr   *frame
	done chan struct{}
	cmu  sync.Mutex
}

// New opens a serial port and serves the processor on it.
func New(opts serial.OpenOptions, proc *hci.Processor) (*Server, error) {
	// frame assembly needs reads to return on idle gaps
	opts.MinimumReadSize = 0
	opts.InterCharacterTimeout = 100

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "h4: open serial port")
	}
	return NewWithConn(sp, proc), nil
}

// NewWithConn serves the processor on an existing transport, e.g. a
// pty or a test pipe.
func NewWithConn(rwc io.ReadWriteCloser, proc *hci.Processor) *Server {
	s := &Server{
		logger: llc.GetLogger().ChildLogger(map[string]interface{}{"layer": "h4"}),
		rwc:    rwc,
		proc:   proc,
		done:   make(chan struct{}),
	}
	s.fr = newFrame(s.dispatch)
	proc.SetSink(s.sendEvent)
	go s.rxLoop()
	return s
}

func (s *Server) rxLoop() {
	tmp := make([]byte, 512)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := s.rwc.Read(tmp)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debugf("h4: read: %v", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		s.fr.Assemble(tmp[:n])
	}
}

// dispatch receives one reassembled packet, with its type byte.
func (s *Server) dispatch(b []byte) {
	var err error
	switch b[0] {
	case cmdPacket:
		err = s.proc.Receive(b[1:])
	case aclPacket:
		err = s.proc.ReceiveACL(b[1:])
	}
	if err != nil {
		s.logger.Debugf("h4: dispatch: %v", err)
	}
}

// sendEvent frames an event packet onto the wire.
func (s *Server) sendEvent(b []byte) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	out := make([]byte, 0, 1+len(b))
	out = append(out, evtPacket)
	out = append(out, b...)
	if _, err := s.rwc.Write(out); err != nil {
		s.logger.Debugf("h4: write: %v", err)
	}
}

// Close stops the read loop and closes the transport.
func (s *Server) Close() error {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
		return errors.Wrap(s.rwc.Close(), "h4: close")
	}
}
