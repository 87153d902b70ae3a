package indicator

// SMA calculates a Simple Moving Average over a rolling window, using a
// preallocated circular buffer for a zero-allocation hot path. Before the
// window fills, Value averages the values seen so far.
type SMA struct {
	period int
	buf    []float64
	idx    int
	count  int
	sum    float64
}

// NewSMA creates a new SMA smoother with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

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

func (s *SMA) Value() float64 {
	if s.count == 0 {
		return 0
	}
	n := s.count
	if n > s.period {
		n = s.period
	}
	return s.sum / float64(n)
}

func (s *SMA) Ready() bool { return s.count >= s.period }
