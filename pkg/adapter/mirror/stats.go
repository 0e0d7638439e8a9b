package mirror

import (
	"math"
	"sync"
)

// Stats are the transfer totals of one session.
type Stats struct {
	Files int64
	Bytes int64
}

// Mean is the integer average file size, 0 when nothing was transferred.
func (s Stats) Mean() int64 {
	if s.Files == 0 {
		return 0
	}
	return s.Bytes / s.Files
}

// Dispersion is floor(sqrt(Mean())). It is what the control protocol
// reports as the deviation figure.
func (s Stats) Dispersion() int64 {
	m := s.Mean()
	if m <= 0 {
		return 0
	}
	r := int64(math.Sqrt(float64(m)))
	for r*r > m {
		r--
	}
	for (r+1)*(r+1) <= m {
		r++
	}
	return r
}

// sessionStats accumulates the totals of the running session.
type sessionStats struct {
	mu sync.Mutex
	s  Stats
}

func (st *sessionStats) add(bytes int64) {
	st.mu.Lock()
	st.s.Files++
	st.s.Bytes += bytes
	st.mu.Unlock()
}

func (st *sessionStats) snapshot() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

func (st *sessionStats) reset() {
	st.mu.Lock()
	st.s = Stats{}
	st.mu.Unlock()
}
