package bson

import (
	"io"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/constraints"
)

// encContext is the bookkeeping of one open document or array.
type encContext struct {
	header int // buffer offset of the reserved length
	array  bool
	index  int // next array ordinal
}

type ctxState uint8

const (
	stateTop   ctxState = iota // no open document
	stateName                  // expecting a field name (or any element in an array) or an end
	stateValue                 // a field name was written; expecting its value
)

// Encoder turns a sequence of start/field-name/value/end calls into framed
// BSON. Document lengths are reserved when a document starts and backpatched
// when it ends, unless streaming mode is on.
//
// Output accumulates in a Buffer and reaches the sink on Flush and Close.
// An Encoder serves one operation and is not safe for concurrent use.
type Encoder struct {
	w        io.Writer
	buf      *Buffer
	stack    []encContext
	state    ctxState
	typePos  int // reserved type marker of the pending value
	cfg      *config
	pool     *Pool
	ownsPool bool
	closed   bool
	err      error // first buffer or sink error; fatal to the operation
	log      logrus.FieldLogger
	key      [20]byte
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer, opts ...Option) (*Encoder, error) {
	if w == nil {
		return nil, ErrNilIO
	}
	cfg := newConfig(opts)
	pool, owned := cfg.acquirePool()
	return &Encoder{
		w:        w,
		buf:      NewBuffer(cfg.chunkSize, pool),
		stack:    make([]encContext, 0, 8),
		cfg:      cfg,
		pool:     pool,
		ownsPool: owned,
		log:      cfg.logger,
	}, nil
}

// Depth returns the number of open documents and arrays.
func (e *Encoder) Depth() int { return len(e.stack) }

// Size returns the number of bytes produced so far, flushed or not.
func (e *Encoder) Size() int { return e.buf.Size() }

// Err returns the first buffer or sink error.
func (e *Encoder) Err() error { return e.err }

// fail records the first non-nil error.
func (e *Encoder) fail(err error) error {
	if e.err == nil && err != nil {
		e.err = err
	}
	return err
}

func (e *Encoder) check(op string) error {
	if e.closed {
		return usageError(op, ErrClosed)
	}
	return e.err
}

func (e *Encoder) top() *encContext {
	if len(e.stack) == 0 {
		return nil
	}
	return &e.stack[len(e.stack)-1]
}

// beginValue fills the type marker of the value about to be written. Inside
// an array it first writes the element's ordinal as its name.
func (e *Encoder) beginValue(op string, t Type) error {
	if err := e.check(op); err != nil {
		return err
	}
	ctx := e.top()
	switch {
	case ctx == nil:
		return usageError(op, ErrNoOpenDocument)
	case ctx.array:
		if err := e.putKey(strconv.AppendInt(e.key[:0], int64(ctx.index), 10)); err != nil {
			return err
		}
		ctx.index++
	case e.state != stateValue:
		return usageError(op, ErrUnexpectedValue)
	}
	if err := e.buf.PutByteAt(e.typePos, byte(t)); err != nil {
		return e.fail(err)
	}
	e.state = stateName
	return nil
}

// putKey reserves the type marker and writes name as a cstring.
func (e *Encoder) putKey(name []byte) error {
	e.typePos = e.buf.Position()
	if err := e.buf.PutByte(0); err != nil {
		return e.fail(err)
	}
	if err := e.buf.PutBytes(name); err != nil {
		return e.fail(err)
	}
	return e.fail(e.buf.PutByte(0))
}

// WriteFieldName writes the name of the next element of the current document.
func (e *Encoder) WriteFieldName(name string) error {
	const op = "WriteFieldName"
	if err := e.check(op); err != nil {
		return err
	}
	ctx := e.top()
	switch {
	case ctx == nil:
		return usageError(op, ErrNoOpenDocument)
	case ctx.array, e.state != stateName:
		return usageError(op, ErrUnexpectedFieldName)
	case !validCString(name):
		return usageError(op, ErrInvalidFieldName)
	}
	e.typePos = e.buf.Position()
	if err := e.buf.PutByte(0); err != nil {
		return e.fail(err)
	}
	if _, err := e.buf.PutUTF8(name); err != nil {
		return e.fail(err)
	}
	if err := e.buf.PutByte(0); err != nil {
		return e.fail(err)
	}
	e.state = stateValue
	return nil
}

func (e *Encoder) WriteStartObject() error { return e.writeStart("WriteStartObject", false) }
func (e *Encoder) WriteStartArray() error  { return e.writeStart("WriteStartArray", true) }
func (e *Encoder) WriteEndObject() error   { return e.writeEnd("WriteEndObject", false) }
func (e *Encoder) WriteEndArray() error    { return e.writeEnd("WriteEndArray", true) }

// writeStart opens a document. At the top level it starts a root document,
// which has no type marker or name; a root array is framed the same way.
func (e *Encoder) writeStart(op string, array bool) error {
	if len(e.stack) > 0 {
		t := TypeDocument
		if array {
			t = TypeArray
		}
		if err := e.beginValue(op, t); err != nil {
			return err
		}
	} else if err := e.check(op); err != nil {
		return err
	}
	e.openContext(array)
	return e.err
}

func (e *Encoder) openContext(array bool) {
	header := e.buf.Position()
	e.fail(e.buf.PutInt32(0))
	e.stack = append(e.stack, encContext{header: header, array: array})
	e.state = stateName
}

func (e *Encoder) writeEnd(op string, array bool) error {
	if err := e.check(op); err != nil {
		return err
	}
	ctx := e.top()
	switch {
	case ctx == nil:
		return usageError(op, ErrNoOpenDocument)
	case ctx.array != array:
		return usageError(op, ErrMismatchedEnd)
	case e.state == stateValue:
		return usageError(op, ErrMissingValue)
	}
	return e.closeContext()
}

// closeContext writes the terminator of the innermost document and, unless
// streaming, backpatches its length.
func (e *Encoder) closeContext() error {
	ctx := e.stack[len(e.stack)-1]
	if err := e.buf.PutByte(0); err != nil {
		return e.fail(err)
	}
	if !e.cfg.streaming {
		length := e.buf.Position() - ctx.header
		if length > math.MaxInt32 {
			return e.fail(errors.Wrapf(ErrDocumentTooLarge, "%d bytes", length))
		}
		if err := e.buf.PutInt32At(ctx.header, int32(length)); err != nil {
			return e.fail(err)
		}
	}
	e.stack = e.stack[:len(e.stack)-1]
	if len(e.stack) == 0 {
		e.state = stateTop
	} else {
		e.state = stateName
	}
	return nil
}

// --- Scalar values ---

func (e *Encoder) WriteInt32(v int32) error {
	if err := e.beginValue("WriteInt32", TypeInt32); err != nil {
		return err
	}
	return e.fail(e.buf.PutInt32(v))
}

func (e *Encoder) WriteInt64(v int64) error {
	if err := e.beginValue("WriteInt64", TypeInt64); err != nil {
		return err
	}
	return e.fail(e.buf.PutInt64(v))
}

func (e *Encoder) WriteDouble(v float64) error {
	if err := e.beginValue("WriteDouble", TypeDouble); err != nil {
		return err
	}
	return e.fail(e.buf.PutFloat64(v))
}

func (e *Encoder) WriteBool(v bool) error {
	if err := e.beginValue("WriteBool", TypeBoolean); err != nil {
		return err
	}
	var b byte
	if v {
		b = 1
	}
	return e.fail(e.buf.PutByte(b))
}

func (e *Encoder) WriteNull() error {
	return e.beginValue("WriteNull", TypeNull)
}

func (e *Encoder) WriteString(s string) error {
	if err := e.beginValue("WriteString", TypeString); err != nil {
		return err
	}
	return e.putString(s)
}

// putString writes an int32 byte count, s as UTF-8 and a zero byte. The count
// is only known after encoding, so it is backpatched.
func (e *Encoder) putString(s string) error {
	lenPos := e.buf.Position()
	if err := e.buf.PutInt32(0); err != nil {
		return e.fail(err)
	}
	n, err := e.buf.PutUTF8(s)
	if err != nil {
		return e.fail(err)
	}
	if n+1 > math.MaxInt32 {
		return e.fail(errors.Wrapf(ErrDocumentTooLarge, "string of %d bytes", n))
	}
	if err := e.buf.PutByte(0); err != nil {
		return e.fail(err)
	}
	return e.fail(e.buf.PutInt32At(lenPos, int32(n+1)))
}

func (e *Encoder) putCString(op, s string) error {
	if !validCString(s) {
		return usageError(op, ErrInvalidCString)
	}
	if _, err := e.buf.PutUTF8(s); err != nil {
		return e.fail(err)
	}
	return e.fail(e.buf.PutByte(0))
}

// WriteBinary writes data with the given subtype. The old binary subtype
// carries a second, inner length.
func (e *Encoder) WriteBinary(subtype byte, data []byte) error {
	n := len(data)
	if subtype == BinaryOld {
		n += 4
	}
	if n > math.MaxInt32 {
		return usageError("WriteBinary", errors.Wrapf(ErrDocumentTooLarge, "binary of %d bytes", len(data)))
	}
	if err := e.beginValue("WriteBinary", TypeBinary); err != nil {
		return err
	}
	if err := e.buf.PutInt32(int32(n)); err != nil {
		return e.fail(err)
	}
	if err := e.buf.PutByte(subtype); err != nil {
		return e.fail(err)
	}
	if subtype == BinaryOld {
		if err := e.buf.PutInt32(int32(len(data))); err != nil {
			return e.fail(err)
		}
	}
	return e.fail(e.buf.PutBytes(data))
}

// WriteDateTime writes milliseconds since the Unix epoch.
func (e *Encoder) WriteDateTime(ms int64) error {
	if err := e.beginValue("WriteDateTime", TypeDateTime); err != nil {
		return err
	}
	return e.fail(e.buf.PutInt64(ms))
}

// WriteTime writes t truncated to milliseconds.
func (e *Encoder) WriteTime(t time.Time) error {
	return e.WriteDateTime(t.UnixMilli())
}

func (e *Encoder) WriteObjectID(id ObjectID) error {
	if err := e.beginValue("WriteObjectID", TypeObjectID); err != nil {
		return err
	}
	return e.fail(e.buf.PutBytes(id[:]))
}

func (e *Encoder) WriteRegex(pattern, options string) error {
	const op = "WriteRegex"
	if !validCString(pattern) || !validCString(options) {
		return usageError(op, ErrInvalidCString)
	}
	if err := e.beginValue(op, TypeRegex); err != nil {
		return err
	}
	if err := e.putCString(op, pattern); err != nil {
		return err
	}
	return e.putCString(op, options)
}

func (e *Encoder) WriteSymbol(s string) error {
	if err := e.beginValue("WriteSymbol", TypeSymbol); err != nil {
		return err
	}
	return e.putString(s)
}

// WriteTimestamp writes the increment followed by the seconds.
func (e *Encoder) WriteTimestamp(ts Timestamp) error {
	if err := e.beginValue("WriteTimestamp", TypeTimestamp); err != nil {
		return err
	}
	if err := e.buf.PutInt32(ts.Inc); err != nil {
		return e.fail(err)
	}
	return e.fail(e.buf.PutInt32(ts.Time))
}

func (e *Encoder) WriteJavaScript(code string) error {
	if err := e.beginValue("WriteJavaScript", TypeJavaScript); err != nil {
		return err
	}
	return e.putString(code)
}

// WriteCodeWithScope writes code bound to scope. Without a scope the value is
// written as plain JavaScript.
func (e *Encoder) WriteCodeWithScope(code string, scope D) error {
	if scope == nil {
		return e.WriteJavaScript(code)
	}
	if err := e.beginValue("WriteCodeWithScope", TypeCodeWithScope); err != nil {
		return err
	}
	start := e.buf.Position()
	if err := e.buf.PutInt32(0); err != nil {
		return e.fail(err)
	}
	if err := e.putString(code); err != nil {
		return err
	}
	depth := len(e.stack)
	e.openContext(false)
	if err := e.writeElements(scope); err != nil {
		return err
	}
	if err := e.closeContext(); err != nil {
		return err
	}
	if len(e.stack) != depth {
		return errors.AssertionFailedf("scope left %d open documents", len(e.stack)-depth)
	}
	length := e.buf.Position() - start
	if length > math.MaxInt32 {
		return e.fail(errors.Wrapf(ErrDocumentTooLarge, "code with scope of %d bytes", length))
	}
	return e.fail(e.buf.PutInt32At(start, int32(length)))
}

func (e *Encoder) WriteDBPointer(namespace string, id ObjectID) error {
	if err := e.beginValue("WriteDBPointer", TypeDBPointer); err != nil {
		return err
	}
	if err := e.putString(namespace); err != nil {
		return err
	}
	return e.fail(e.buf.PutBytes(id[:]))
}

func (e *Encoder) WriteMinKey() error { return e.beginValue("WriteMinKey", TypeMinKey) }
func (e *Encoder) WriteMaxKey() error { return e.beginValue("WriteMaxKey", TypeMaxKey) }

// WriteBigInt writes v as an int32 or int64 when it fits and as its decimal
// string otherwise.
func (e *Encoder) WriteBigInt(v *big.Int) error {
	switch {
	case v == nil:
		return e.WriteNull()
	case v.IsInt64():
		return WriteInteger(e, v.Int64())
	default:
		return e.WriteString(v.String())
	}
}

// WriteInteger writes v in the narrowest of int32 and int64 that holds it.
// Values beyond the int64 range are written as their decimal string.
func WriteInteger[T constraints.Integer](e *Encoder, v T) error {
	i, ok := toInt64(v)
	switch {
	case !ok:
		return e.WriteString(strconv.FormatUint(uint64(v), 10))
	case fitsInt32(i):
		return e.WriteInt32(int32(i))
	default:
		return e.WriteInt64(i)
	}
}

// WriteValue writes any supported Go value, including whole documents and
// arrays. Types registered with RegisterEncoder are converted first.
func (e *Encoder) WriteValue(v any) error {
	switch x := v.(type) {
	case nil:
		return e.WriteNull()
	case int:
		return WriteInteger(e, x)
	case int8:
		return e.WriteInt32(int32(x))
	case int16:
		return e.WriteInt32(int32(x))
	case int32:
		return e.WriteInt32(x)
	case int64:
		return e.WriteInt64(x)
	case uint:
		return WriteInteger(e, x)
	case uint8:
		return e.WriteInt32(int32(x))
	case uint16:
		return e.WriteInt32(int32(x))
	case uint32:
		return WriteInteger(e, x)
	case uint64:
		return WriteInteger(e, x)
	case float32:
		return e.WriteDouble(float64(x))
	case float64:
		return e.WriteDouble(x)
	case bool:
		return e.WriteBool(x)
	case string:
		return e.WriteString(x)
	case []byte:
		return e.WriteBinary(BinaryGeneric, x)
	case Binary:
		return e.WriteBinary(x.Subtype, x.Data)
	case DateTime:
		return e.WriteDateTime(int64(x))
	case time.Time:
		return e.WriteTime(x)
	case ObjectID:
		return e.WriteObjectID(x)
	case Regex:
		return e.WriteRegex(x.Pattern, x.Options)
	case *regexp.Regexp:
		return e.WriteRegex(x.String(), "")
	case Symbol:
		return e.WriteSymbol(string(x))
	case Timestamp:
		return e.WriteTimestamp(x)
	case JavaScript:
		return e.WriteJavaScript(string(x))
	case CodeWithScope:
		return e.WriteCodeWithScope(x.Code, x.Scope)
	case DBPointer:
		return e.WriteDBPointer(x.Namespace, x.ID)
	case MinKey:
		return e.WriteMinKey()
	case MaxKey:
		return e.WriteMaxKey()
	case *big.Int:
		return e.WriteBigInt(x)
	case D:
		return e.WriteDocument(x)
	case A:
		return e.writeArray(x)
	case []any:
		return e.writeArray(x)
	case map[string]any:
		return e.writeMap(x)
	}

	if fn, ok := lookupEncoder(v); ok {
		converted, err := fn(v)
		if err != nil {
			return errors.Wrapf(err, "bson: converting %T", v)
		}
		if reflect.TypeOf(converted) == reflect.TypeOf(v) {
			return usageError("WriteValue", errors.Wrapf(ErrUnsupportedType, "%T converts to itself", v))
		}
		return e.WriteValue(converted)
	}
	return usageError("WriteValue", errors.Wrapf(ErrUnsupportedType, "%T", v))
}

// WriteDocument writes d as a document: a root document at the top level,
// an embedded one otherwise.
func (e *Encoder) WriteDocument(d D) error {
	if err := e.WriteStartObject(); err != nil {
		return err
	}
	if err := e.writeElements(d); err != nil {
		return err
	}
	return e.WriteEndObject()
}

func (e *Encoder) writeElements(d D) error {
	for _, el := range d {
		if err := e.WriteFieldName(el.Key); err != nil {
			return err
		}
		if err := e.WriteValue(el.Value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeArray(a []any) error {
	if err := e.WriteStartArray(); err != nil {
		return err
	}
	for _, v := range a {
		if err := e.WriteValue(v); err != nil {
			return err
		}
	}
	return e.WriteEndArray()
}

// writeMap writes m with its keys sorted so that output is deterministic.
func (e *Encoder) writeMap(m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	if err := e.WriteStartObject(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := e.WriteFieldName(k); err != nil {
			return err
		}
		if err := e.WriteValue(m[k]); err != nil {
			return err
		}
	}
	return e.WriteEndObject()
}

// --- Output ---

// Flush hands finished output to the sink. With no open document the whole
// buffer is written. Inside a document only streaming mode can release
// anything: every completed chunk is written and freed. Without streaming the
// pending length headers pin the buffer and Flush does nothing.
func (e *Encoder) Flush() error {
	if err := e.check("Flush"); err != nil {
		return err
	}
	switch {
	case len(e.stack) == 0:
		if _, err := e.buf.WriteTo(e.w); err != nil {
			return e.fail(err)
		}
	case e.cfg.streaming:
		// The type marker of a pending value is still to be filled in.
		keep := e.buf.Position()
		if e.state == stateValue {
			keep = e.typePos
		}
		n, err := e.buf.flushBelow(e.w, keep)
		if err != nil {
			return e.fail(err)
		}
		e.log.WithFields(logrus.Fields{
			"bytes":   n,
			"flushed": e.buf.Flushed(),
			"depth":   len(e.stack),
		}).Debug("bson: flushed completed chunks")
	default:
		return nil
	}
	if f, ok := e.w.(interface{ Flush() error }); ok {
		return e.fail(f.Flush())
	}
	return nil
}

// Close finishes the operation. Documents still open are closed when
// auto-close is enabled and reported with ErrUnclosedDocument otherwise;
// a field name still waiting for its value gets a null. Remaining output is
// written to the sink and pooled buffers are released. Close does not close
// the sink.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	var err error
	if len(e.stack) > 0 && e.err == nil {
		if e.cfg.autoClose {
			e.log.WithFields(logrus.Fields{"depth": len(e.stack)}).Debug("bson: auto-closing open documents")
			err = e.closeAll()
		} else {
			err = usageError("Close", errors.Wrapf(ErrUnclosedDocument, "%d still open", len(e.stack)))
		}
	}
	if err == nil {
		err = e.Flush()
	}
	e.release()
	return err
}

// release drops the output without writing it and returns pooled buffers.
func (e *Encoder) release() {
	e.closed = true
	e.buf.Release()
	if e.ownsPool {
		ReleasePool(e.pool)
	}
	e.pool = nil
}

func (e *Encoder) closeAll() error {
	for len(e.stack) > 0 {
		if e.state == stateValue {
			if err := e.WriteNull(); err != nil {
				return err
			}
		}
		if err := e.closeContext(); err != nil {
			return err
		}
	}
	return nil
}
