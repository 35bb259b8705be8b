package bson

// TokenReader is the pull side of the token contract: the host advances it
// one token at a time and inspects the current element.
type TokenReader interface {
	// NextToken advances to the next token. io.EOF reports a clean end of
	// input between two root documents.
	NextToken() (Token, error)
	// FieldName returns the name of the current element.
	FieldName() string
	// Type returns the element type of the current value.
	Type() Type
	// Value returns the current scalar or extension value.
	Value() any
}

// TokenWriter is the push side of the token contract.
type TokenWriter interface {
	WriteStartObject() error
	WriteEndObject() error
	WriteStartArray() error
	WriteEndArray() error
	WriteFieldName(name string) error
	// WriteValue writes any scalar or extension value.
	WriteValue(v any) error
}

var (
	_ TokenReader = (*Decoder)(nil)
	_ TokenWriter = (*Encoder)(nil)
)

// Copy moves one complete value from src to dst: the next root document at
// the top level, or the next element value inside a document. Scalar types
// are preserved, so decoding and re-encoding reproduces the input bytes.
func Copy(dst TokenWriter, src TokenReader) error {
	depth := 0
	for {
		tok, err := src.NextToken()
		if err != nil {
			return err
		}
		switch tok {
		case TokenStartObject:
			err = dst.WriteStartObject()
			depth++
		case TokenStartArray:
			err = dst.WriteStartArray()
			depth++
		case TokenEndObject:
			err = dst.WriteEndObject()
			depth--
		case TokenEndArray:
			err = dst.WriteEndArray()
			depth--
		case TokenFieldName:
			err = dst.WriteFieldName(src.FieldName())
		default:
			err = dst.WriteValue(src.Value())
		}
		if err != nil {
			return err
		}
		if depth <= 0 && tok != TokenFieldName {
			return nil
		}
	}
}
