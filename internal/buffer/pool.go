// Package buffer pools the scratch memory used to encode disk cache files.
package buffer

import (
	"bytes"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
)

// DefaultMaxRetained is the largest buffer capacity returned to the pool.
// A 256x256 icon encodes to well under this.
const DefaultMaxRetained = 1 << 20

// Pool hands out reusable byte buffers and PNG encoder state. It is safe
// for concurrent use.
type Pool struct {
	buffers     sync.Pool
	encoders    encoderPool
	encoder     *png.Encoder
	maxRetained int

	gets    atomic.Uint64
	puts    atomic.Uint64
	dropped atomic.Uint64
}

// Stats describes pool usage.
type Stats struct {
	Gets    uint64 `json:"gets"`
	Puts    uint64 `json:"puts"`
	Dropped uint64 `json:"dropped"`
}

// NewPool creates a pool that keeps buffers up to maxRetained bytes.
func NewPool(maxRetained int) *Pool {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	p := &Pool{
		buffers: sync.Pool{
			New: func() interface{} { return new(bytes.Buffer) },
		},
		maxRetained: maxRetained,
	}
	p.encoder = &png.Encoder{BufferPool: &p.encoders}
	return p
}

// Get returns an empty buffer.
func (p *Pool) Get() *bytes.Buffer {
	p.gets.Add(1)
	buf := p.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. Oversized buffers are left to the GC.
func (p *Pool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > p.maxRetained {
		p.dropped.Add(1)
		return
	}
	p.puts.Add(1)
	buf.Reset()
	p.buffers.Put(buf)
}

// EncodePNG encodes img into a pooled buffer. On success the caller owns
// the buffer and must Put it back once its bytes are no longer needed.
func (p *Pool) EncodePNG(img image.Image) (*bytes.Buffer, error) {
	buf := p.Get()
	if err := p.encoder.Encode(buf, img); err != nil {
		p.Put(buf)
		return nil, err
	}
	return buf, nil
}

// Stats returns usage counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Gets:    p.gets.Load(),
		Puts:    p.puts.Load(),
		Dropped: p.dropped.Load(),
	}
}

// encoderPool implements png.EncoderBufferPool.
type encoderPool struct {
	pool sync.Pool
}

func (e *encoderPool) Get() *png.EncoderBuffer {
	b, _ := e.pool.Get().(*png.EncoderBuffer)
	return b
}

func (e *encoderPool) Put(b *png.EncoderBuffer) {
	e.pool.Put(b)
}
