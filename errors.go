package bson

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNilIO indicates that NewReader/NewEncoder/NewDecoder was called with a nil io.Reader/io.Writer.
	ErrNilIO = errors.New("bson: called with a nil io.Reader/io.Writer")

	// ErrTruncatedData indicates that the source ended before a complete value was read.
	ErrTruncatedData = errors.New("bson: truncated data")

	// ErrInvalidUTF8 indicates a string or field name whose bytes are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("bson: invalid UTF-8")

	// ErrInvalidLength indicates a length prefix that cannot describe a valid payload.
	ErrInvalidLength = errors.New("bson: invalid length")

	// ErrMissingTerminator indicates a string or document whose trailing zero byte is absent.
	ErrMissingTerminator = errors.New("bson: missing terminator")

	// ErrUnknownType indicates an element type tag this codec does not understand.
	ErrUnknownType = errors.New("bson: unknown element type")

	// ErrLengthMismatch indicates that a document header disagrees with the bytes consumed.
	// It is only reported when the decoder honors document lengths.
	ErrLengthMismatch = errors.New("bson: document length mismatch")

	// ErrTrailingData is returned by Unmarshal when bytes follow the decoded document.
	ErrTrailingData = errors.New("bson: trailing data found after decoding")

	// ErrUnexpectedValue indicates a value write while a field name was expected.
	ErrUnexpectedValue = errors.New("bson: value written while a field name is expected")

	// ErrUnexpectedFieldName indicates a field name write while a value was expected.
	ErrUnexpectedFieldName = errors.New("bson: field name written while a value is expected")

	// ErrNoOpenDocument indicates a write or end token with no open document.
	ErrNoOpenDocument = errors.New("bson: no open document")

	// ErrMismatchedEnd indicates an end-object closing an array or vice versa.
	ErrMismatchedEnd = errors.New("bson: end token does not match the open context")

	// ErrUnclosedDocument is returned by Close when documents are still open and auto-close is off.
	ErrUnclosedDocument = errors.New("bson: documents still open at close")

	// ErrInvalidFieldName indicates a field name containing a zero byte.
	ErrInvalidFieldName = errors.New("bson: field name contains a zero byte")

	// ErrMissingValue indicates an end token right after a field name.
	ErrMissingValue = errors.New("bson: document closed while a value is expected")

	// ErrInvalidCString indicates a regular expression pattern or option string containing a zero byte.
	ErrInvalidCString = errors.New("bson: cstring contains a zero byte")

	// ErrDocumentTooLarge indicates a document or value whose size does not fit in an int32.
	ErrDocumentTooLarge = errors.New("bson: document too large")

	// ErrUnsupportedType indicates a Go value WriteValue has no encoding for.
	ErrUnsupportedType = errors.New("bson: unsupported value type")

	// ErrClosed indicates use of an encoder or decoder after Close.
	ErrClosed = errors.New("bson: use of closed encoder or decoder")

	// ErrOutOfRange indicates a buffer write into an already flushed region.
	ErrOutOfRange = errors.New("bson: position out of range")

	// ErrDiscardNegative indicates a Discard operation was attempted with a negative byte count.
	ErrDiscardNegative = errors.New("bson: cannot discard negative number of bytes")
)

// SyntaxError reports malformed input together with the byte offset at which it was detected.
type SyntaxError struct {
	Offset int64
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v (at offset %d)", e.Err, e.Offset)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// UsageError reports a call that violates the encoder's token contract.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UsageError) Unwrap() error { return e.Err }

// RangeError reports a buffer write outside the writable region: below the
// flushed position or past the current size.
type RangeError struct {
	Pos     int
	Len     int
	Flushed int
	Size    int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%v: write of %d bytes at %d, writable range [%d, %d)", ErrOutOfRange, e.Len, e.Pos, e.Flushed, e.Size)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

func syntaxError(offset int64, err error) error {
	var se *SyntaxError
	if errors.As(err, &se) {
		return err
	}
	return &SyntaxError{Offset: offset, Err: err}
}

func usageError(op string, err error) error {
	return &UsageError{Op: op, Err: err}
}
