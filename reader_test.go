package bson

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ReaderTestSuite struct {
	suite.Suite
}

func (s *ReaderTestSuite) TestConstructors() {
	s.T().Run("NilReader", func(t *testing.T) {
		_, err := NewReader(nil)
		assert.ErrorIs(t, err, ErrNilIO)
	})
}

func (s *ReaderTestSuite) TestSuccessfulReads() {
	data := []byte{
		0xAA,       // uint8
		0xCC, 0xBB, // uint16
		0x00, 0xFF, 0xEE, 0xDD, // uint32
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01, // uint64
		0x11, 0x22, 0x33, // raw bytes
	}
	r, _ := NewReader(bytes.NewReader(data))

	var v8 uint8
	var v16 uint16
	var v32 uint32
	var v64 uint64
	r.ReadUint8(&v8)
	r.ReadUint16(&v16)
	r.ReadUint32(&v32)
	r.ReadUint64(&v64)
	read := r.ReadBytes(3)

	s.Require().NoError(r.Err())
	s.Assert().Equal(uint8(0xAA), v8)
	s.Assert().Equal(uint16(0xBBCC), v16)
	s.Assert().Equal(uint32(0xDDEEFF00), v32)
	s.Assert().Equal(uint64(0x0102030405060708), v64)
	s.Assert().Equal([]byte{0x11, 0x22, 0x33}, read)
	s.Assert().EqualValues(len(data), r.Count())

	r.Read(make([]byte, 1))
	s.Assert().ErrorIs(r.Err(), io.EOF)
	s.Assert().True(r.IsEOF())
}

func (s *ReaderTestSuite) TestSignedAndFloat() {
	data := []byte{
		0xFE, 0xFF, 0xFF, 0xFF, // int32 -2
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF8, 0x3F, // float64 1.5
		0x01, // bool
	}
	r, _ := NewReader(bytes.NewReader(data))

	var i32 int32
	var f64 float64
	var b bool
	r.ReadInt32(&i32)
	r.ReadFloat64(&f64)
	r.ReadBool(&b)

	s.Require().NoError(r.Err())
	s.Equal(int32(-2), i32)
	s.Equal(1.5, f64)
	s.True(b)
}

func (s *ReaderTestSuite) TestErrorHandling() {
	s.T().Run("ReadPastEOF", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte{0x01, 0x02, 0x03}))
		var v32 uint32
		r.ReadUint32(&v32)

		require.Error(t, r.Err())
		assert.ErrorIs(t, r.Err(), ErrTruncatedData)
		assert.False(t, r.IsEOF(), "truncation is not a clean EOF")

		var se *SyntaxError
		require.ErrorAs(t, r.Err(), &se)
	})

	s.T().Run("ReadAfterErrorIsNoOp", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte{0x01, 0x02, 0x03}))
		var v32 uint32
		var v8 uint8

		r.ReadUint32(&v32)
		firstErr := r.Err()
		require.Error(t, firstErr)

		r.ReadUint8(&v8)
		assert.Equal(t, firstErr, r.Err(), "the latched error should not change")
		assert.Equal(t, uint8(0), v8, "destination should be unchanged after an error")
	})

	s.T().Run("NegativeByteCount", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte{0x01}))
		assert.Nil(t, r.ReadBytes(-1))
		assert.ErrorIs(t, r.Err(), ErrInvalidLength)
	})
}

func (s *ReaderTestSuite) TestCString() {
	s.T().Run("Simple", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte("name\x00rest")))
		assert.Equal(t, "name", r.ReadCString())
		require.NoError(t, r.Err())
		assert.EqualValues(t, 5, r.Count())
	})

	s.T().Run("LongerThanScratch", func(t *testing.T) {
		long := strings.Repeat("k", 3*MinBufferSize+7)
		r, _ := NewReader(bytes.NewReader([]byte(long + "\x00")))
		assert.Equal(t, long, r.ReadCString())
		require.NoError(t, r.Err())
	})

	s.T().Run("InvalidUTF8", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte("ab\xff\x00")))
		assert.Empty(t, r.ReadCString())
		assert.ErrorIs(t, r.Err(), ErrInvalidUTF8)
	})

	s.T().Run("Unterminated", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte("abc")))
		r.ReadCString()
		assert.ErrorIs(t, r.Err(), ErrTruncatedData)
	})
}

func (s *ReaderTestSuite) TestString() {
	s.T().Run("LengthPrefixed", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte("\x06\x00\x00\x00Hello\x00")))
		assert.Equal(t, "Hello", r.ReadLengthPrefixedString(-1))
		require.NoError(t, r.Err())
	})

	s.T().Run("Empty", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte("\x01\x00\x00\x00\x00")))
		assert.Equal(t, "", r.ReadLengthPrefixedString(-1))
		require.NoError(t, r.Err())
	})

	s.T().Run("OverLimit", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte("\x06\x00\x00\x00Hello\x00")))
		assert.Empty(t, r.ReadLengthPrefixedString(5))
		assert.ErrorIs(t, r.Err(), ErrInvalidLength)
		assert.EqualValues(t, 4, r.Count(), "the payload is not read")
	})

	s.T().Run("NonPositiveLength", func(t *testing.T) {
		for _, n := range []int32{0, -3} {
			r, _ := NewReader(bytes.NewReader([]byte("abc\x00")))
			r.ReadString(n)
			assert.ErrorIs(t, r.Err(), ErrInvalidLength)
		}
	})

	s.T().Run("MissingTerminator", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte("abcd")))
		r.ReadString(4)
		assert.ErrorIs(t, r.Err(), ErrMissingTerminator)

		var se *SyntaxError
		require.ErrorAs(t, r.Err(), &se)
		assert.EqualValues(t, 3, se.Offset)
	})

	s.T().Run("InvalidUTF8", func(t *testing.T) {
		r, _ := NewReader(bytes.NewReader([]byte("\xc3\x28\x00")))
		r.ReadString(3)
		assert.ErrorIs(t, r.Err(), ErrInvalidUTF8)
	})
}

func (s *ReaderTestSuite) TestPooledScratch() {
	pool := NewPool()
	r, err := NewReaderSize(bytes.NewReader([]byte("abc\x00")), 0, pool)
	s.Require().NoError(err)
	s.Equal("abc", r.ReadCString())

	r.Release()
	s.Equal(1, pool.Len(KeyDecodeBuffer))
}

func (s *ReaderTestSuite) TestDiscard() {
	r, _ := NewReader(bytes.NewReader(make([]byte, 10)))
	r.Discard(8)
	s.Require().NoError(r.Err())
	s.EqualValues(8, r.Count())

	r.Discard(5)
	s.ErrorIs(r.Err(), ErrTruncatedData)
}

func (s *ReaderTestSuite) TestLargeReads() {
	payload := bytes.Repeat([]byte("0123456789abcdef"), maxPrealloc/8)

	r, _ := NewReader(bytes.NewReader(payload))
	s.Equal(payload, r.ReadBytes(len(payload)))
	s.Require().NoError(r.Err())

	r, _ = NewReader(bytes.NewReader(payload))
	s.Nil(r.ReadBytes(len(payload) + 1))
	s.ErrorIs(r.Err(), ErrTruncatedData)
	s.EqualValues(len(payload), r.Count())

	text := append(bytes.Clone(payload), 0)
	r, _ = NewReader(bytes.NewReader(text))
	s.Equal(string(payload), r.ReadString(int32(len(text))))
	s.Require().NoError(r.Err())
}

func TestReader(t *testing.T) {
	suite.Run(t, new(ReaderTestSuite))
}
