package bson

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
)

// Marshal encodes v, which must be a document (D, map[string]any or a type
// registered with RegisterEncoder that converts to one) or an array.
func Marshal(v any, opts ...Option) ([]byte, error) {
	var buf bytes.Buffer
	if err := MarshalTo(&buf, v, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalAppend appends the encoding of v to dst.
func MarshalAppend(dst []byte, v any, opts ...Option) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	if err := MarshalTo(buf, v, opts...); err != nil {
		return dst, err
	}
	return buf.Bytes(), nil
}

// MarshalTo encodes v as one root document and writes it to w.
func MarshalTo(w io.Writer, v any, opts ...Option) error {
	enc, err := NewEncoder(w, opts...)
	if err != nil {
		return err
	}
	if err := enc.WriteValue(v); err != nil {
		enc.release()
		return err
	}
	return enc.Close()
}

// Unmarshal decodes exactly one root document from data. Bytes left after
// the document are reported with ErrTrailingData.
func Unmarshal(data []byte, opts ...Option) (D, error) {
	r := bytes.NewReader(data)
	dec, err := NewDecoder(r, opts...)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	doc, err := dec.ReadDocument()
	if err != nil {
		if err == io.EOF {
			return nil, syntaxError(0, ErrTruncatedData)
		}
		return nil, err
	}
	if r.Len() > 0 {
		return nil, syntaxError(dec.Offset(), errors.Wrapf(ErrTrailingData, "%d bytes", r.Len()))
	}
	return doc, nil
}

// UnmarshalAll decodes every root document in r until it ends cleanly.
func UnmarshalAll(r io.Reader, opts ...Option) ([]D, error) {
	dec, err := NewDecoder(r, opts...)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var docs []D
	for {
		doc, err := dec.ReadDocument()
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
}
