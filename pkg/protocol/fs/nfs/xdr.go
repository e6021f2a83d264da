package nfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// encoder appends XDR values to a buffer. The first failure sticks.
type encoder struct {
	buf bytes.Buffer
	err error
}

func (e *encoder) put(v any) *encoder {
	if e.err == nil {
		_, e.err = xdr.Marshal(&e.buf, v)
	}
	return e
}

func (e *encoder) Bytes() ([]byte, error) {
	return e.buf.Bytes(), e.err
}

// decoder reads XDR values. The first failure sticks and later reads
// return zero values.
type decoder struct {
	r   io.Reader
	err error
}

func newDecoder(b []byte) *decoder {
	return &decoder{r: bytes.NewReader(b)}
}

func (d *decoder) get(v any) {
	if d.err == nil {
		_, d.err = xdr.Unmarshal(d.r, v)
	}
}

func (d *decoder) u32() uint32 {
	var v uint32
	d.get(&v)
	return v
}

func (d *decoder) u64() uint64 {
	var v uint64
	d.get(&v)
	return v
}

func (d *decoder) boolean() bool {
	var v bool
	d.get(&v)
	return v
}

func (d *decoder) opaque() []byte {
	var v []byte
	d.get(&v)
	return v
}

func (d *decoder) str() string {
	var v string
	d.get(&v)
	return v
}

func (d *decoder) fixed8() [8]byte {
	var v [8]byte
	d.get(&v)
	return v
}

// rest returns the undecoded bytes.
func (d *decoder) rest() []byte {
	if d.err != nil {
		return nil
	}
	b, err := io.ReadAll(d.r)
	if err != nil {
		d.err = err
	}
	return b
}

// ============================================================================
// Record marking (RFC 5531 section 11)
// ============================================================================

const (
	lastFragment    = 0x80000000
	maxRecordSize   = 1 << 20
	fragmentLenMask = 0x7FFFFFFF
)

// writeRecord sends msg as a single last fragment.
func writeRecord(w io.Writer, msg []byte) error {
	out := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(msg))|lastFragment)
	copy(out[4:], msg)
	_, err := w.Write(out)
	return err
}

// readRecord reads fragments until the last one and returns the record.
func readRecord(r io.Reader) ([]byte, error) {
	var record []byte
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		mark := binary.BigEndian.Uint32(hdr[:])
		n := int(mark & fragmentLenMask)
		if len(record)+n > maxRecordSize {
			return nil, fmt.Errorf("rpc record exceeds %d bytes", maxRecordSize)
		}
		frag := make([]byte, n)
		if _, err := io.ReadFull(r, frag); err != nil {
			return nil, err
		}
		record = append(record, frag...)
		if mark&lastFragment != 0 {
			return record, nil
		}
	}
}
