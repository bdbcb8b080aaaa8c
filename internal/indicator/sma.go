package indicator

// SMA is a simple moving average over a rolling window.
// Before the window fills it averages whatever values it has seen, so it
// yields a value from the first update onwards.
// Uses a preallocated circular buffer.
type SMA struct {
	period int
	buf    []float64
	idx    int // next write position
	count  int // total values received
	sum    float64
}

// NewSMA creates a new SMA with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

// Update feeds the next value.
func (s *SMA) Update(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++
}

// Value returns the mean of the last min(count, period) values, or 0 before
// the first update.
func (s *SMA) Value() float64 {
	n := s.count
	if n == 0 {
		return 0
	}
	if n > s.period {
		n = s.period
	}
	return s.sum / float64(n)
}

// Ready returns true once a full window has been observed.
func (s *SMA) Ready() bool { return s.count >= s.period }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}
