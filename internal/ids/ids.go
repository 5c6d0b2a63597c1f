// Package ids produces the identifier styles used across the system:
// human-readable prefixed sequence ids for sheet rows and opaque sortable
// tokens for session credentials.
package ids

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// Token returns a lexicographically sortable opaque identifier, used as the
// stored session auth token and for request correlation.
func Token() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Format renders a sequence value as a prefixed fixed-width id,
// e.g. Format("USR", 1) == "USR_00001".
func Format(prefix string, seq uint64) string {
	return fmt.Sprintf("%s_%05d", prefix, seq)
}
