// Package idgen generates opaque task identifiers: a monotonic
// millisecond timestamp component followed by random bits, so ids sort
// roughly by creation order while remaining collision-resistant across
// concurrent creators.
package idgen

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var counter uint32

// NewTaskID returns a new opaque task id of the form
// "t_<unixmilli>_<seq>_<rand8>".
func NewTaskID() string {
	ms := time.Now().UnixMilli()
	seq := atomic.AddUint32(&counter, 1)
	rnd := uuid.New().String()[:8]
	return fmt.Sprintf("t_%d_%d_%s", ms, seq, rnd)
}

// NewAuditID returns a new opaque audit event id.
func NewAuditID() string {
	return "a_" + uuid.New().String()
}

// NewSessionID returns a new opaque monitoring/agent session id.
func NewSessionID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}
