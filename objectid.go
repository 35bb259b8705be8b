package bson

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// ObjectID is the 12-byte unique id: a 4-byte big-endian timestamp in seconds,
// a 5-byte process-unique random value and a 3-byte big-endian counter.
type ObjectID [12]byte

// NilObjectID is the zero ObjectID.
var NilObjectID ObjectID

var (
	processUnique   = newProcessUnique()
	objectIDCounter = newCounter()
)

func newProcessUnique() [5]byte {
	var b [5]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		panic(errors.Wrap(err, "bson: cannot initialize objectid process value"))
	}
	return b
}

func newCounter() *atomic.Uint32 {
	var b [4]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		panic(errors.Wrap(err, "bson: cannot initialize objectid counter"))
	}
	var c atomic.Uint32
	c.Store(binary.BigEndian.Uint32(b[:]))
	return &c
}

// NewObjectID generates an id for the current time.
func NewObjectID() ObjectID {
	return NewObjectIDFromTime(time.Now())
}

// NewObjectIDFromTime generates an id whose timestamp part is t.
func NewObjectIDFromTime(t time.Time) ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(t.Unix()))
	copy(id[4:9], processUnique[:])
	c := objectIDCounter.Add(1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// NewLegacyObjectID builds an id from the legacy time/machine/increment layout,
// each part a big-endian int32.
//
// Deprecated: only kept so that ids produced by old writers can be rebuilt.
// Use NewObjectID for new ids.
func NewLegacyObjectID(t, machine, inc int32) ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(t))
	binary.BigEndian.PutUint32(id[4:8], uint32(machine))
	binary.BigEndian.PutUint32(id[8:12], uint32(inc))
	return id
}

// Legacy splits the id using the legacy time/machine/increment layout.
func (id ObjectID) Legacy() (t, machine, inc int32) {
	return int32(binary.BigEndian.Uint32(id[0:4])),
		int32(binary.BigEndian.Uint32(id[4:8])),
		int32(binary.BigEndian.Uint32(id[8:12]))
}

// Timestamp returns the creation time encoded in the id.
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// Counter returns the 3-byte counter part.
func (id ObjectID) Counter() uint32 {
	return uint32(id[9])<<16 | uint32(id[10])<<8 | uint32(id[11])
}

// IsZero reports whether id is NilObjectID.
func (id ObjectID) IsZero() bool { return id == NilObjectID }

// Hex returns the 24 character hex form.
func (id ObjectID) Hex() string { return hex.EncodeToString(id[:]) }

func (id ObjectID) String() string { return `ObjectID("` + id.Hex() + `")` }

// ObjectIDFromHex parses the 24 character hex form.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, errors.Newf("bson: invalid objectid hex length %d", len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, errors.Wrap(err, "bson: invalid objectid hex")
	}
	return id, nil
}
