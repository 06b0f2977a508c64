// Package rpc implements the newline-delimited JSON-RPC protocol spoken
// between miners and gatewayd. It provides session management, message
// parsing and the request and response shapes of the ledger.* methods.
package rpc

import (
	"bytes"
	"sync"
)

var (
	// messagePool reuses Message structs on the read path
	messagePool = sync.Pool{
		New: func() any {
			return &Message{}
		},
	}

	// bufferPool reuses scanner buffers, sized for a hex-encoded maximal
	// transaction plus the JSON envelope
	bufferPool = sync.Pool{
		New: func() any {
			b := make([]byte, MaxLineBytes)
			return &b
		},
	}

	// framePool reuses outbound frame builders
	framePool = sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	}
)

// GetMessage gets a reset Message from the pool
func GetMessage() *Message {
	msg := messagePool.Get().(*Message)
	*msg = Message{}
	return msg
}

// PutMessage returns a Message to the pool
func PutMessage(msg *Message) {
	if msg != nil {
		messagePool.Put(msg)
	}
}

// GetBuffer gets a line buffer from the pool
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a line buffer to the pool
func PutBuffer(buf *[]byte) {
	if buf != nil && cap(*buf) >= MaxLineBytes {
		bufferPool.Put(buf)
	}
}

func getFrame() *bytes.Buffer {
	b := framePool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func putFrame(b *bytes.Buffer) {
	// don't pin the occasional large frame
	if b.Cap() <= 64<<10 {
		framePool.Put(b)
	}
}
