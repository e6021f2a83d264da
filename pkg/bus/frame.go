// Package bus is the canonical bus front-end: a framed TCP transport that
// emulators and test harnesses use to drive a Dispatcher.
//
// Request frame:
//
//	'N' 'B' version channel opcode aux1 aux2 reserved len(LE16) payload
//
// Reply frame:
//
//	'N' 'B' version channel opcode result code reserved len(LE16) payload
//
// result is 'C' (complete) or 'E' (error); code is the NetworkStatus error
// byte of the command.
package bus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// Wire constants.
const (
	Magic0  byte = 'N'
	Magic1  byte = 'B'
	Version byte = 1

	// HeaderSize is the fixed size of request and reply headers.
	HeaderSize = 10

	// MaxPayload is the largest payload the 16-bit length can describe.
	MaxPayload = 0xFFFF

	ResultComplete byte = 'C'
	ResultError    byte = 'E'
)

// Opcodes. Any other opcode is a special command: the server asks the
// dispatcher for its direction, then executes it.
const (
	OpOpen    byte = 'O'
	OpClose   byte = 'C'
	OpRead    byte = 'R'
	OpWrite   byte = 'W'
	OpStatus  byte = 'S'
	OpInquiry byte = 0xFF
)

var (
	// ErrBadMagic is returned when a frame does not start with "NB".
	ErrBadMagic = errors.New("bus: bad frame magic")

	// ErrBadVersion is returned for a frame version this server does not speak.
	ErrBadVersion = errors.New("bus: unsupported frame version")

	// ErrPayloadTooLarge is returned when a payload exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("bus: payload too large")

	// ErrBadResult is returned for a reply whose result byte is neither 'C' nor 'E'.
	ErrBadResult = errors.New("bus: bad reply result")
)

// Request is one command from the bus.
type Request struct {
	Channel uint8
	Opcode  byte
	Aux1    byte
	Aux2    byte
	Payload []byte
}

// Frame returns the command frame the dispatcher sees.
func (r *Request) Frame() protocol.CommandFrame {
	return protocol.CommandFrame{Command: r.Opcode, Aux1: r.Aux1, Aux2: r.Aux2}
}

// Length returns aux1|aux2<<8, the byte count of read requests.
func (r *Request) Length() int {
	return int(r.Aux1) | int(r.Aux2)<<8
}

// Reply answers one Request.
type Reply struct {
	Channel uint8
	Opcode  byte
	Code    netstatus.ErrorCode
	Err     bool
	Payload []byte
}

// Result returns the wire result byte.
func (r *Reply) Result() byte {
	if r.Err {
		return ResultError
	}
	return ResultComplete
}

// ReadRequest decodes one request. maxPayload <= 0 means MaxPayload.
func ReadRequest(r io.Reader, maxPayload int) (*Request, error) {
	var hdr [HeaderSize]byte
	if err := readHeader(r, hdr[:]); err != nil {
		return nil, err
	}
	payload, err := readPayload(r, hdr[:], maxPayload)
	if err != nil {
		return nil, err
	}
	return &Request{
		Channel: hdr[3],
		Opcode:  hdr[4],
		Aux1:    hdr[5],
		Aux2:    hdr[6],
		Payload: payload,
	}, nil
}

// WriteRequest encodes req.
func WriteRequest(w io.Writer, req *Request) error {
	return writeFrame(w, [5]byte{req.Channel, req.Opcode, req.Aux1, req.Aux2, 0}, req.Payload)
}

// ReadReply decodes one reply. maxPayload <= 0 means MaxPayload.
func ReadReply(r io.Reader, maxPayload int) (*Reply, error) {
	var hdr [HeaderSize]byte
	if err := readHeader(r, hdr[:]); err != nil {
		return nil, err
	}
	var failed bool
	switch hdr[5] {
	case ResultComplete:
	case ResultError:
		failed = true
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadResult, hdr[5])
	}
	payload, err := readPayload(r, hdr[:], maxPayload)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Channel: hdr[3],
		Opcode:  hdr[4],
		Err:     failed,
		Code:    netstatus.ErrorCode(hdr[6]),
		Payload: payload,
	}, nil
}

// WriteReply encodes rep.
func WriteReply(w io.Writer, rep *Reply) error {
	return writeFrame(w, [5]byte{rep.Channel, rep.Opcode, rep.Result(), byte(rep.Code), 0}, rep.Payload)
}

func readHeader(r io.Reader, hdr []byte) error {
	if _, err := io.ReadFull(r, hdr); err != nil {
		return err
	}
	if hdr[0] != Magic0 || hdr[1] != Magic1 {
		return fmt.Errorf("%w: % X", ErrBadMagic, hdr[:2])
	}
	if hdr[2] != Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, hdr[2])
	}
	return nil
}

func readPayload(r io.Reader, hdr []byte, maxPayload int) ([]byte, error) {
	if maxPayload <= 0 || maxPayload > MaxPayload {
		maxPayload = MaxPayload
	}
	n := int(binary.LittleEndian.Uint16(hdr[8:10]))
	if n > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, maxPayload)
	}
	if n == 0 {
		return nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// writeFrame writes header and payload with a single Write so a frame is
// never interleaved on a shared connection.
func writeFrame(w io.Writer, fields [5]byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(payload))
	}
	buf := getBuffer(HeaderSize + len(payload))
	defer putBuffer(buf)

	buf[0], buf[1], buf[2] = Magic0, Magic1, Version
	copy(buf[3:8], fields[:])
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)

	_, err := w.Write(buf)
	return err
}
