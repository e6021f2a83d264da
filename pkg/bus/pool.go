package bus

import "sync"

// Frame buffers come in two size classes: small for control frames
// (status, devicespecs, short reads) and large for a maximum-size frame.
// Oversized buffers are allocated directly and not pooled.
const (
	smallBufferSize = 512
	largeBufferSize = HeaderSize + MaxPayload
)

var (
	smallPool = sync.Pool{New: func() any {
		buf := make([]byte, smallBufferSize)
		return &buf
	}}
	largePool = sync.Pool{New: func() any {
		buf := make([]byte, largeBufferSize)
		return &buf
	}}
)

// getBuffer returns a slice of exactly size bytes. Pair with putBuffer.
func getBuffer(size int) []byte {
	var bufPtr *[]byte
	switch {
	case size <= smallBufferSize:
		bufPtr = smallPool.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = largePool.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// putBuffer returns buf to its pool. Buffers not obtained from getBuffer
// are left to the GC.
func putBuffer(buf []byte) {
	switch cap(buf) {
	case smallBufferSize:
		full := buf[:smallBufferSize]
		smallPool.Put(&full)
	case largeBufferSize:
		full := buf[:largeBufferSize]
		largePool.Put(&full)
	}
}
