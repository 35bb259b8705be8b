package bson

import (
	"fmt"
	"time"
)

// Type is the one-byte element type tag.
type Type byte

const (
	TypeEnd           Type = 0x00
	TypeDouble        Type = 0x01
	TypeString        Type = 0x02
	TypeDocument      Type = 0x03
	TypeArray         Type = 0x04
	TypeBinary        Type = 0x05
	TypeUndefined     Type = 0x06 // deprecated, skipped by the decoder
	TypeObjectID      Type = 0x07
	TypeBoolean       Type = 0x08
	TypeDateTime      Type = 0x09
	TypeNull          Type = 0x0A
	TypeRegex         Type = 0x0B
	TypeDBPointer     Type = 0x0C
	TypeJavaScript    Type = 0x0D
	TypeSymbol        Type = 0x0E
	TypeCodeWithScope Type = 0x0F
	TypeInt32         Type = 0x10
	TypeTimestamp     Type = 0x11
	TypeInt64         Type = 0x12
	TypeMaxKey        Type = 0x7F
	TypeMinKey        Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case TypeEnd:
		return "end"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeDocument:
		return "document"
	case TypeArray:
		return "array"
	case TypeBinary:
		return "binary"
	case TypeUndefined:
		return "undefined"
	case TypeObjectID:
		return "objectid"
	case TypeBoolean:
		return "boolean"
	case TypeDateTime:
		return "datetime"
	case TypeNull:
		return "null"
	case TypeRegex:
		return "regex"
	case TypeDBPointer:
		return "dbpointer"
	case TypeJavaScript:
		return "javascript"
	case TypeSymbol:
		return "symbol"
	case TypeCodeWithScope:
		return "javascript with scope"
	case TypeInt32:
		return "int32"
	case TypeTimestamp:
		return "timestamp"
	case TypeInt64:
		return "int64"
	case TypeMaxKey:
		return "maxkey"
	case TypeMinKey:
		return "minkey"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// Token is one event of the pull-parser/push-generator contract.
type Token int

const (
	TokenNone Token = iota
	TokenStartObject
	TokenEndObject
	TokenStartArray
	TokenEndArray
	TokenFieldName
	TokenInt32
	TokenInt64
	TokenDouble
	TokenBoolean
	TokenNull
	TokenString
	TokenBinary
	// TokenEmbedded carries every extension value; see Decoder.Value.
	TokenEmbedded
)

var tokenNames = [...]string{
	TokenNone:        "none",
	TokenStartObject: "start_object",
	TokenEndObject:   "end_object",
	TokenStartArray:  "start_array",
	TokenEndArray:    "end_array",
	TokenFieldName:   "field_name",
	TokenInt32:       "int32",
	TokenInt64:       "int64",
	TokenDouble:      "double",
	TokenBoolean:     "boolean",
	TokenNull:        "null",
	TokenString:      "string",
	TokenBinary:      "binary",
	TokenEmbedded:    "embedded_object",
}

func (t Token) String() string {
	if t >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// IsScalar reports whether t is a value event other than a structural one.
func (t Token) IsScalar() bool { return t >= TokenInt32 }

// Binary subtypes.
const (
	BinaryGeneric     byte = 0x00
	BinaryFunction    byte = 0x01
	BinaryOld         byte = 0x02
	BinaryUUIDOld     byte = 0x03
	BinaryUUID        byte = 0x04
	BinaryMD5         byte = 0x05
	BinaryUserDefined byte = 0x80
)

// Binary is a binary payload with its subtype.
type Binary struct {
	Subtype byte
	Data    []byte
}

// DateTime is a UTC instant in milliseconds since the Unix epoch.
type DateTime int64

// NewDateTime converts t to millisecond precision.
func NewDateTime(t time.Time) DateTime { return DateTime(t.UnixMilli()) }

// Time returns the instant as a UTC time.Time.
func (d DateTime) Time() time.Time { return time.UnixMilli(int64(d)).UTC() }

// Timestamp is the replication timestamp: an increment and a seconds value.
// On the wire the increment comes first.
type Timestamp struct {
	Inc  int32
	Time int32
}

// Regex is a regular expression pattern with its option flags.
type Regex struct {
	Pattern string
	Options string
}

// Symbol is a string stored under the symbol tag.
type Symbol string

// JavaScript is code without scope.
type JavaScript string

// CodeWithScope is code bound to a scope document. A nil Scope is written as plain JavaScript.
type CodeWithScope struct {
	Code  string
	Scope D
}

// DBPointer is the deprecated namespace + id reference.
type DBPointer struct {
	Namespace string
	ID        ObjectID
}

// MinKey compares lower than every other value.
type MinKey struct{}

// MaxKey compares higher than every other value.
type MaxKey struct{}

// Undefined is the deprecated undefined value. It is never produced by the decoder.
type Undefined struct{}
