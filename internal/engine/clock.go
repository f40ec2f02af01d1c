package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies the wall time stamped on registry rows.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock reads the host's wall clock in UTC.
var SystemClock Clock = systemClock{}

// sequence numbers queue units in dequeue order.
type sequence struct {
	n atomic.Int64
}

func (s *sequence) next() int64 {
	return s.n.Add(1)
}
