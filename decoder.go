package bson

import (
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// decContext is the bookkeeping of one open document or array.
type decContext struct {
	start  int64 // offset of the length header
	length int32 // declared length, only checked when honoring lengths
	array  bool
	index  int // next array ordinal
}

// Decoder reads BSON from a byte stream and yields one token per NextToken
// call. The source may hold several root documents back to back; NextToken
// returns io.EOF when it ends cleanly between two of them.
//
// The accessors describe the element of the last token and are only valid
// until the next call that advances the stream. A Decoder serves one
// operation and is not safe for concurrent use.
type Decoder struct {
	r        *Reader
	stack    []decContext
	state    ctxState
	cfg      *config
	pool     *Pool
	ownsPool bool
	closed   bool
	err      error
	log      logrus.FieldLogger

	token Token
	typ   Type
	name  string
	i64   int64
	f64   float64
	b     bool
	str   string
	bin   Binary
	ext   any
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) (*Decoder, error) {
	if r == nil {
		return nil, ErrNilIO
	}
	cfg := newConfig(opts)
	pool, owned := cfg.acquirePool()
	reader, err := NewReaderSize(r, cfg.readerSize, pool)
	if err != nil {
		if owned {
			ReleasePool(pool)
		}
		return nil, err
	}
	return &Decoder{
		r:        reader,
		stack:    make([]decContext, 0, 8),
		cfg:      cfg,
		pool:     pool,
		ownsPool: owned,
		log:      cfg.logger,
	}, nil
}

// NextToken advances to the next token.
func (d *Decoder) NextToken() (Token, error) {
	if d.closed {
		return TokenNone, usageError("NextToken", ErrClosed)
	}
	if d.err != nil {
		return TokenNone, d.err
	}
	tok, err := d.next()
	if err != nil {
		d.err = err
		d.token = TokenNone
		return TokenNone, err
	}
	d.token = tok
	return tok, nil
}

func (d *Decoder) next() (Token, error) {
	switch d.state {
	case stateTop:
		return d.readRoot()
	case stateValue:
		return d.readValue()
	default:
		return d.readElement()
	}
}

// readRoot opens the next root document, or reports io.EOF if the source
// ends cleanly first.
func (d *Decoder) readRoot() (Token, error) {
	start := d.r.Count()
	b0, err := d.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return TokenNone, io.EOF
		}
		return TokenNone, err
	}
	var rest [3]byte
	d.r.ReadBytesTo(rest[:])
	if err := d.r.Err(); err != nil {
		return TokenNone, err
	}
	length := int32(uint32(b0) | uint32(rest[0])<<8 | uint32(rest[1])<<16 | uint32(rest[2])<<24)
	if err := d.push(start, length, false); err != nil {
		return TokenNone, err
	}
	d.typ, d.name = TypeDocument, ""
	return TokenStartObject, nil
}

func (d *Decoder) push(start int64, length int32, array bool) error {
	if d.cfg.honorLength && length < 5 {
		return syntaxError(start, errors.Wrapf(ErrInvalidLength, "document length %d", length))
	}
	if d.cfg.honorLength && len(d.stack) > 0 {
		if left := d.left(start); int64(length) > left {
			return syntaxError(start, errors.Wrapf(ErrInvalidLength, "document length %d, %d left in parent", length, left))
		}
	}
	d.stack = append(d.stack, decContext{start: start, length: length, array: array})
	d.state = stateName
	return nil
}

// left returns how many bytes from pos on belong to the open document,
// terminator excluded. It is only meaningful when lengths are honored.
func (d *Decoder) left(pos int64) int64 {
	ctx := d.stack[len(d.stack)-1]
	return max(ctx.start+int64(ctx.length)-1-pos, 0)
}

// payloadLimit bounds a payload that starts header bytes past the read
// position. It is negative, meaning no bound, unless lengths are honored.
func (d *Decoder) payloadLimit(header int) int64 {
	if !d.cfg.honorLength || len(d.stack) == 0 {
		return -1
	}
	return max(d.left(d.r.Count())-int64(header), 0)
}

func (d *Decoder) pop() (Token, error) {
	ctx := d.stack[len(d.stack)-1]
	if d.cfg.honorLength {
		if spanned := d.r.Count() - ctx.start; spanned != int64(ctx.length) {
			return TokenNone, syntaxError(ctx.start,
				errors.Wrapf(ErrLengthMismatch, "header says %d, document spans %d", ctx.length, spanned))
		}
	}
	d.stack = d.stack[:len(d.stack)-1]
	if len(d.stack) == 0 {
		d.state = stateTop
	} else {
		d.state = stateName
	}
	d.typ, d.name = TypeEnd, ""
	if ctx.array {
		return TokenEndArray, nil
	}
	return TokenEndObject, nil
}

// readElement reads a type tag and a name. Inside an array the name is not a
// token of its own and the value is read right away.
func (d *Decoder) readElement() (Token, error) {
	for {
		at := d.r.Count()
		t := Type(d.r.readByte())
		if err := d.r.Err(); err != nil {
			return TokenNone, err
		}
		if t == TypeEnd {
			return d.pop()
		}
		if !knownType(t) {
			return TokenNone, syntaxError(at, errors.Wrapf(ErrUnknownType, "tag 0x%02x", byte(t)))
		}
		name := d.r.ReadCString()
		if err := d.r.Err(); err != nil {
			return TokenNone, err
		}

		ctx := &d.stack[len(d.stack)-1]
		if ctx.array {
			name = strconv.Itoa(ctx.index)
			ctx.index++
		}
		if t == TypeUndefined {
			d.log.WithFields(logrus.Fields{"field": name, "offset": at}).Debug("bson: skipping deprecated undefined element")
			continue
		}

		d.typ, d.name = t, name
		d.state = stateValue
		if ctx.array {
			return d.readValue()
		}
		return TokenFieldName, nil
	}
}

// readValue reads the payload of the element whose header was read last.
func (d *Decoder) readValue() (Token, error) {
	r := d.r
	d.state = stateName
	d.ext = nil

	switch d.typ {
	case TypeDouble:
		r.ReadFloat64(&d.f64)
		return d.result(TokenDouble)

	case TypeString:
		d.str = r.ReadLengthPrefixedString(d.payloadLimit(4))
		return d.result(TokenString)

	case TypeDocument, TypeArray:
		start := r.Count()
		var length int32
		r.ReadInt32(&length)
		if err := r.Err(); err != nil {
			return TokenNone, err
		}
		array := d.typ == TypeArray
		if err := d.push(start, length, array); err != nil {
			return TokenNone, err
		}
		if array {
			return TokenStartArray, nil
		}
		return TokenStartObject, nil

	case TypeBinary:
		d.bin = d.readBinary()
		return d.result(TokenBinary)

	case TypeObjectID:
		var id ObjectID
		r.ReadBytesTo(id[:])
		d.ext = id
		return d.result(TokenEmbedded)

	case TypeBoolean:
		r.ReadBool(&d.b)
		return d.result(TokenBoolean)

	case TypeDateTime:
		r.ReadInt64(&d.i64)
		d.ext = DateTime(d.i64)
		return d.result(TokenEmbedded)

	case TypeNull:
		return TokenNull, nil

	case TypeRegex:
		pattern := r.ReadCString()
		options := r.ReadCString()
		d.ext = Regex{Pattern: pattern, Options: options}
		return d.result(TokenEmbedded)

	case TypeDBPointer:
		ns := r.ReadLengthPrefixedString(d.payloadLimit(4))
		var id ObjectID
		r.ReadBytesTo(id[:])
		d.ext = DBPointer{Namespace: ns, ID: id}
		return d.result(TokenEmbedded)

	case TypeJavaScript:
		d.str = r.ReadLengthPrefixedString(d.payloadLimit(4))
		d.ext = JavaScript(d.str)
		return d.result(TokenEmbedded)

	case TypeSymbol:
		d.str = r.ReadLengthPrefixedString(d.payloadLimit(4))
		d.ext = Symbol(d.str)
		return d.result(TokenEmbedded)

	case TypeCodeWithScope:
		return d.readCodeWithScope()

	case TypeInt32:
		var v int32
		r.ReadInt32(&v)
		d.i64 = int64(v)
		return d.result(TokenInt32)

	case TypeTimestamp:
		var ts Timestamp
		r.ReadInt32(&ts.Inc)
		r.ReadInt32(&ts.Time)
		d.ext = ts
		return d.result(TokenEmbedded)

	case TypeInt64:
		r.ReadInt64(&d.i64)
		return d.result(TokenInt64)

	case TypeMinKey:
		d.ext = MinKey{}
		return TokenEmbedded, nil

	case TypeMaxKey:
		d.ext = MaxKey{}
		return TokenEmbedded, nil
	}
	return TokenNone, errors.AssertionFailedf("bson: no value reader for %s", d.typ)
}

func (d *Decoder) result(tok Token) (Token, error) {
	if err := d.r.Err(); err != nil {
		return TokenNone, err
	}
	return tok, nil
}

func (d *Decoder) readBinary() Binary {
	r := d.r
	at := r.Count()
	var n int32
	r.ReadInt32(&n)
	var subtype byte
	r.ReadUint8(&subtype)
	if r.Err() != nil {
		return Binary{}
	}
	if limit := d.payloadLimit(0); n < 0 || (limit >= 0 && int64(n) > limit) {
		r.err = syntaxError(at, errors.Wrapf(ErrInvalidLength, "binary length %d", n))
		return Binary{}
	}
	if subtype == BinaryOld {
		var inner int32
		r.ReadInt32(&inner)
		if r.Err() != nil {
			return Binary{}
		}
		if inner < 0 || inner != n-4 {
			r.err = syntaxError(at, errors.Wrapf(ErrInvalidLength, "old binary lengths %d/%d", n, inner))
			return Binary{}
		}
		n = inner
	}
	return Binary{Subtype: subtype, Data: r.ReadBytes(int(n))}
}

// readCodeWithScope reads the code string and materializes the scope document.
func (d *Decoder) readCodeWithScope() (Token, error) {
	start := d.r.Count()
	var total int32
	d.r.ReadInt32(&total)
	if limit := d.payloadLimit(0); d.r.Err() == nil && limit >= 0 && int64(total)-4 > limit {
		return TokenNone, syntaxError(start, errors.Wrapf(ErrInvalidLength, "code with scope length %d", total))
	}
	code := d.r.ReadLengthPrefixedString(d.payloadLimit(4))
	if err := d.r.Err(); err != nil {
		return TokenNone, err
	}

	name := d.name
	scopeStart := d.r.Count()
	var scopeLength int32
	d.r.ReadInt32(&scopeLength)
	if err := d.r.Err(); err != nil {
		return TokenNone, err
	}
	if err := d.push(scopeStart, scopeLength, false); err != nil {
		return TokenNone, err
	}
	scope, err := d.readElements()
	if err != nil {
		return TokenNone, err
	}
	if d.cfg.honorLength {
		if spanned := d.r.Count() - start; spanned != int64(total) {
			return TokenNone, syntaxError(start,
				errors.Wrapf(ErrLengthMismatch, "code with scope header says %d, value spans %d", total, spanned))
		}
	}
	d.typ, d.name = TypeCodeWithScope, name
	d.state = stateName
	d.str = code
	d.ext = CodeWithScope{Code: code, Scope: scope}
	return TokenEmbedded, nil
}

// --- Materialization ---

// readElements collects the elements of the document whose start token was
// just returned, up to and including its end token.
func (d *Decoder) readElements() (D, error) {
	doc := D{}
	for {
		tok, err := d.next()
		if err != nil {
			return nil, err
		}
		switch tok {
		case TokenEndObject:
			return doc, nil
		case TokenFieldName:
			name := d.name
			tok, err = d.next()
			if err != nil {
				return nil, err
			}
			v, err := d.readTree(tok)
			if err != nil {
				return nil, err
			}
			doc = append(doc, E{Key: name, Value: v})
		default:
			return nil, errors.AssertionFailedf("bson: unexpected %s inside a document", tok)
		}
	}
}

func (d *Decoder) readArray() (A, error) {
	arr := A{}
	for {
		tok, err := d.next()
		if err != nil {
			return nil, err
		}
		if tok == TokenEndArray {
			return arr, nil
		}
		v, err := d.readTree(tok)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
}

// readTree returns the value that begins with tok.
func (d *Decoder) readTree(tok Token) (any, error) {
	d.token = tok
	switch tok {
	case TokenStartObject:
		return d.readElements()
	case TokenStartArray:
		return d.readArray()
	}
	return applyDecoder(d.typ, d.Value())
}

// ReadDocument reads the next document in full. At the top level this is
// the next root document and io.EOF reports a clean end of the source.
// Inside a document it is the embedded document or array value that follows,
// after its field name if that was not read yet; an array comes back keyed
// by ordinal. Any other value is consumed and reported as a usage error.
// Values are converted by decoders registered with RegisterDecoder.
func (d *Decoder) ReadDocument() (D, error) {
	tok, err := d.NextToken()
	if err != nil {
		return nil, err
	}
	if tok == TokenFieldName {
		if tok, err = d.NextToken(); err != nil {
			return nil, err
		}
	}

	var doc D
	switch tok {
	case TokenStartObject:
		doc, err = d.readElements()
		tok = TokenEndObject
	case TokenStartArray:
		var arr A
		arr, err = d.readArray()
		doc = ordinalDocument(arr)
		tok = TokenEndArray
	default:
		return nil, usageError("ReadDocument", errors.Newf("bson: next token is %s, not a document", tok))
	}
	if err != nil {
		d.err = err
		d.token = TokenNone
		return nil, err
	}
	d.token = tok
	return doc, nil
}

// ordinalDocument keys the elements of arr by their position.
func ordinalDocument(arr A) D {
	doc := make(D, len(arr))
	for i, v := range arr {
		doc[i] = E{Key: strconv.Itoa(i), Value: v}
	}
	return doc
}

// Skip consumes the rest of the document or array whose start token was
// returned last. For any other token it does nothing. When lengths are
// honored the contents are dropped unread and only the terminator is checked.
func (d *Decoder) Skip() error {
	if d.token != TokenStartObject && d.token != TokenStartArray {
		return nil
	}
	if d.cfg.honorLength && !d.closed && d.err == nil {
		return d.skipDeclared()
	}
	depth := len(d.stack)
	for len(d.stack) >= depth {
		if _, err := d.NextToken(); err != nil {
			return err
		}
	}
	return nil
}

// skipDeclared drops the open document by its declared length.
func (d *Decoder) skipDeclared() error {
	d.r.Discard(d.left(d.r.Count()))
	at := d.r.Count()
	if b := d.r.readByte(); d.r.Err() == nil && b != 0 {
		d.r.err = syntaxError(at, errors.Wrapf(ErrMissingTerminator, "found 0x%02x", b))
	}
	if err := d.r.Err(); err != nil {
		d.err = err
		d.token = TokenNone
		return err
	}
	d.log.WithFields(logrus.Fields{"offset": at, "depth": len(d.stack)}).Debug("bson: skipped document by declared length")
	tok, err := d.pop()
	if err != nil {
		d.err = err
		d.token = TokenNone
		return err
	}
	d.token = tok
	return nil
}

// --- Current element ---

// Token returns the last token.
func (d *Decoder) Token() Token { return d.token }

// Type returns the element type of the last value or field name.
func (d *Decoder) Type() Type { return d.typ }

// FieldName returns the name of the current element. Inside an array it is
// the element's ordinal.
func (d *Decoder) FieldName() string { return d.name }

// Int32 returns the value of a TokenInt32.
func (d *Decoder) Int32() int32 { return int32(d.i64) }

// Int64 returns the value of a TokenInt32 or TokenInt64, or the milliseconds of a datetime.
func (d *Decoder) Int64() int64 { return d.i64 }

// Double returns the value of a TokenDouble.
func (d *Decoder) Double() float64 { return d.f64 }

// Bool returns the value of a TokenBoolean.
func (d *Decoder) Bool() bool { return d.b }

// Text returns the name of a TokenFieldName, or the text of a string, symbol
// or JavaScript value.
func (d *Decoder) Text() string {
	switch {
	case d.token == TokenFieldName:
		return d.name
	case d.typ == TypeString, d.typ == TypeSymbol, d.typ == TypeJavaScript, d.typ == TypeCodeWithScope:
		return d.str
	}
	return ""
}

// Binary returns the value of a TokenBinary.
func (d *Decoder) Binary() Binary { return d.bin }

// Embedded returns the extension value of a TokenEmbedded: ObjectID,
// DateTime, Regex, DBPointer, JavaScript, Symbol, CodeWithScope, Timestamp,
// MinKey or MaxKey.
func (d *Decoder) Embedded() any { return d.ext }

// Value returns the current scalar as a Go value.
func (d *Decoder) Value() any {
	switch d.token {
	case TokenInt32:
		return d.Int32()
	case TokenInt64:
		return d.i64
	case TokenDouble:
		return d.f64
	case TokenBoolean:
		return d.b
	case TokenString:
		return d.str
	case TokenBinary:
		return d.bin
	case TokenEmbedded:
		return d.ext
	case TokenFieldName:
		return d.name
	}
	return nil
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int64 { return d.r.Count() }

// Depth returns the number of open documents and arrays.
func (d *Decoder) Depth() int { return len(d.stack) }

// Close releases pooled buffers. It does not close the source.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.r.Release()
	if d.ownsPool {
		ReleasePool(d.pool)
	}
	d.pool = nil
	return nil
}

func knownType(t Type) bool {
	switch t {
	case TypeDouble, TypeString, TypeDocument, TypeArray, TypeBinary, TypeUndefined,
		TypeObjectID, TypeBoolean, TypeDateTime, TypeNull, TypeRegex, TypeDBPointer,
		TypeJavaScript, TypeSymbol, TypeCodeWithScope, TypeInt32, TypeTimestamp,
		TypeInt64, TypeMaxKey, TypeMinKey:
		return true
	}
	return false
}
