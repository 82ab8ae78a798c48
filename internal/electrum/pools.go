package electrum

import (
	"bytes"
	"sync"
)

// maxPooledBufferSize caps the buffers returned to the pool. Oversized
// buffers from large history responses are dropped instead of retained.
const maxPooledBufferSize = 64 * 1024

// bufferPool reuses byte buffers for request line serialization.
var bufferPool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

func getBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBufferSize {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// requestPool reuses request structs across calls on a connection.
var requestPool = sync.Pool{
	New: func() any {
		return &Request{}
	},
}

func getRequest() *Request {
	return requestPool.Get().(*Request)
}

func putRequest(req *Request) {
	req.ID = 0
	req.Method = ""
	req.Params = nil
	requestPool.Put(req)
}
