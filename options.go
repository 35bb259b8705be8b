package bson

import (
	"io"

	"github.com/sirupsen/logrus"
)

// config holds the settings shared by Encoder and Decoder. Each side ignores
// the options that do not concern it.
type config struct {
	// streaming writes every document length as 0 and never backpatches it,
	// so that Flush can hand completed chunks to the sink while documents are
	// still open. The output is only readable by decoders that ignore lengths.
	streaming bool
	// honorLength makes the decoder check each document's header against the
	// number of bytes it actually spans.
	honorLength bool
	// autoClose makes Encoder.Close close every document that is still open.
	autoClose bool
	// reuseBuffers takes scratch and chunk buffers from a Pool.
	reuseBuffers bool

	pool       *Pool
	chunkSize  int
	readerSize int
	logger     logrus.FieldLogger
}

// Option configures an Encoder or a Decoder.
type Option func(*config)

// WithStreaming enables the non-conformant unsized mode of the encoder.
func WithStreaming(enabled bool) Option {
	return func(c *config) { c.streaming = enabled }
}

// WithHonorDocumentLength makes the decoder validate document length headers.
// By default they are read and ignored.
func WithHonorDocumentLength(enabled bool) Option {
	return func(c *config) { c.honorLength = enabled }
}

// WithAutoClose makes Encoder.Close close documents left open instead of failing.
func WithAutoClose(enabled bool) Option {
	return func(c *config) { c.autoClose = enabled }
}

// WithReuseBuffers enables buffer reuse. Without WithPool, a Pool is checked
// out with AcquirePool and returned on Close.
func WithReuseBuffers(enabled bool) Option {
	return func(c *config) { c.reuseBuffers = enabled }
}

// WithPool supplies the Pool to reuse buffers from and implies WithReuseBuffers(true).
// The pool must not be used by another operation at the same time.
func WithPool(p *Pool) Option {
	return func(c *config) {
		c.pool = p
		c.reuseBuffers = p != nil
	}
}

// WithChunkSize sets the chunk size of the encoder's output Buffer.
func WithChunkSize(n int) Option {
	return func(c *config) { c.chunkSize = n }
}

// WithReaderSize sets the bufio size the decoder wraps unbuffered sources with.
func WithReaderSize(n int) Option {
	return func(c *config) { c.readerSize = n }
}

// WithLogger sets the logger for debug events. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) { c.logger = l }
}

var discardLogger = newDiscardLogger()

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newConfig(opts []Option) *config {
	c := &config{chunkSize: DefaultChunkSize, readerSize: DefaultReaderSize, logger: discardLogger}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = discardLogger
	}
	return c
}

// acquirePool resolves the pool to use. owned reports whether the caller must
// hand it back with ReleasePool.
func (c *config) acquirePool() (p *Pool, owned bool) {
	if !c.reuseBuffers {
		return nil, false
	}
	if c.pool != nil {
		return c.pool, false
	}
	return AcquirePool(), true
}
