package bson

// E is one named element of a document.
type E struct {
	Key   string
	Value any
}

// D is an ordered document. It is what the decoder materializes for embedded
// documents and what Marshal accepts as a root.
type D []E

// A is an array value.
type A []any

// Lookup returns the value of the first element named key.
func (d D) Lookup(key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Keys returns the element names in order.
func (d D) Keys() []string {
	keys := make([]string, len(d))
	for i, e := range d {
		keys[i] = e.Key
	}
	return keys
}
