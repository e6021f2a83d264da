package bus

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netbridge/pkg/netstatus"
)

// ============================================================================
// Frame codec
// ============================================================================

func TestRequestCodec(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		var buf bytes.Buffer
		in := &Request{Channel: 3, Opcode: OpOpen, Aux1: 4, Aux2: 0, Payload: []byte("N:TNFS://host/")}
		require.NoError(t, WriteRequest(&buf, in))

		raw := buf.Bytes()
		assert.Equal(t, []byte{'N', 'B', Version, 3, 'O', 4, 0, 0, 14, 0}, raw[:HeaderSize])

		out, err := ReadRequest(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.Equal(t, byte('O'), out.Frame().Command)
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteRequest(&buf, &Request{Opcode: OpStatus}))
		assert.Equal(t, HeaderSize, buf.Len())

		out, err := ReadRequest(&buf, 0)
		require.NoError(t, err)
		assert.Nil(t, out.Payload)
	})

	t.Run("ReadLength", func(t *testing.T) {
		r := &Request{Aux1: 0x34, Aux2: 0x12}
		assert.Equal(t, 0x1234, r.Length())
	})

	t.Run("BadMagic", func(t *testing.T) {
		_, err := ReadRequest(bytes.NewReader([]byte("XB\x01\x00O\x00\x00\x00\x00\x00")), 0)
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("BadVersion", func(t *testing.T) {
		_, err := ReadRequest(bytes.NewReader([]byte("NB\x09\x00O\x00\x00\x00\x00\x00")), 0)
		assert.ErrorIs(t, err, ErrBadVersion)
	})

	t.Run("PayloadLimit", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteRequest(&buf, &Request{Opcode: OpWrite, Payload: make([]byte, 100)}))
		_, err := ReadRequest(&buf, 64)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})

	t.Run("TruncatedPayload", func(t *testing.T) {
		hdr := []byte{'N', 'B', Version, 0, 'W', 0, 0, 0, 0, 0}
		binary.LittleEndian.PutUint16(hdr[8:], 10)
		_, err := ReadRequest(bytes.NewReader(append(hdr, "abc"...)), 0)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("CleanEOF", func(t *testing.T) {
		_, err := ReadRequest(bytes.NewReader(nil), 0)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("OversizedWrite", func(t *testing.T) {
		err := WriteRequest(io.Discard, &Request{Payload: make([]byte, MaxPayload+1)})
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})
}

func TestReplyCodec(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		var buf bytes.Buffer
		in := &Reply{Channel: 1, Opcode: OpRead, Err: true, Code: netstatus.EndOfFile, Payload: []byte("tail\x00\x00")}
		require.NoError(t, WriteReply(&buf, in))

		raw := buf.Bytes()
		assert.Equal(t, ResultError, raw[5])
		assert.Equal(t, byte(netstatus.EndOfFile), raw[6])

		out, err := ReadReply(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("Complete", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteReply(&buf, &Reply{Opcode: OpClose, Code: netstatus.Success}))
		out, err := ReadReply(&buf, 0)
		require.NoError(t, err)
		assert.False(t, out.Err)
		assert.Equal(t, ResultComplete, out.Result())
	})

	t.Run("BadResult", func(t *testing.T) {
		_, err := ReadReply(bytes.NewReader([]byte("NB\x01\x00C?\x01\x00\x00\x00")), 0)
		assert.ErrorIs(t, err, ErrBadResult)
	})
}

func TestBufferPool(t *testing.T) {
	small := getBuffer(10)
	assert.Len(t, small, 10)
	assert.Equal(t, smallBufferSize, cap(small))
	putBuffer(small)

	large := getBuffer(smallBufferSize + 1)
	assert.Equal(t, largeBufferSize, cap(large))
	putBuffer(large)

	huge := getBuffer(largeBufferSize + 1)
	assert.Equal(t, len(huge), cap(huge))
	putBuffer(huge)
}
