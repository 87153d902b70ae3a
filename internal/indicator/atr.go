package indicator

// ATR smooths true-range values with Wilder's method (RMA): the first value
// is the SMA of the first period TRs, after which
//
//	atr = (prev*(period-1) + tr) / period
//
// Wilder smoothing is what the NovaV2 reference strategy uses; a plain SMA
// here would materially change band width.
type ATR struct {
	period  int
	current float64
	count   int
	sum     float64
}

// NewATR creates a Wilder ATR smoother with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Update(tr float64) {
	a.count++

	if a.count <= a.period {
		a.sum += tr
		a.current = a.sum / float64(a.count)
		return
	}

	n := float64(a.period)
	a.current = (a.current*(n-1) + tr) / n
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count >= a.period }
