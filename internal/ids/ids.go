// Package ids issues lexicographically sortable identifiers used to order
// asynchronous responses by the moment their request was issued.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Stamp is a strictly increasing request identifier. The zero Stamp sorts
// before every issued stamp.
type Stamp = ulid.ULID

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
	last      ulid.ULID
)

// Next returns a stamp greater than every stamp previously returned by this
// process, even when the wall clock steps backwards.
func Next() Stamp {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	ms := ulid.Timestamp(time.Now())
	if ms < last.Time() {
		ms = last.Time()
	}
	id, err := ulid.New(ms, entropy)
	if err != nil || id.Compare(last) <= 0 {
		// Monotonic entropy overflowed within the millisecond; move to the next one.
		id = ulid.MustNew(last.Time()+1, entropy)
	}
	last = id
	return id
}

// New returns a sortable identifier suitable for attempt IDs and storage keys.
func New() string {
	return Next().String()
}

// Newer reports whether a was issued after b.
func Newer(a, b Stamp) bool {
	return a.Compare(b) > 0
}
