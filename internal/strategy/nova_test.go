package strategy

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"novatrading/internal/indicator"
	"novatrading/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

func ts(i int) time.Time {
	return t0.Add(time.Duration(i) * 15 * time.Minute)
}

// frame builds a defined indicator frame with symmetric bands around trend.
func frame(i int, trend, atrSMA, width float64) indicator.Frame {
	return indicator.Frame{
		TS:      ts(i),
		Trend:   trend,
		ATR:     atrSMA,
		ATRSMA:  atrSMA,
		Upper:   trend + width,
		Lower:   trend - width,
		Defined: true,
	}
}

func haClose(i int, close float64) model.HeikinAshiBar {
	return model.HeikinAshiBar{
		Symbol:    "SBIN",
		Timeframe: "15m",
		TS:        ts(i),
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
	}
}

func testParams() model.StrategyParams {
	p := model.DefaultParams()
	p.TrendLength = 2
	p.ATRPeriod = 2
	p.ATRSMAPeriod = 2
	p.ATRMultiplier = 1.0
	p.TargetOffset = 0
	return p
}

func assertClose(t *testing.T, label string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: got %.6f, want %.6f", label, got, want)
	}
}

// ────────────────────────────────────────────────────────────
// Detector
// ────────────────────────────────────────────────────────────

func TestDetect_BuyOnCrossingBar(t *testing.T) {
	// Close crosses above the trend line between bars 0 and 1. With
	// ATR-SMA=2 and multiplier=1, targets step 2 points from entry=100:
	// tp1=102, tp2=104, tp3=106. SL = lower band at the signal bar.
	det, err := NewDetector(testParams(), false)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	frames := []indicator.Frame{
		frame(0, 99.5, 2, 3), // prev close 99 <= trend 99.5
		frame(1, 99.8, 2, 3), // cur close 100 > trend 99.8
	}
	bars := []model.HeikinAshiBar{haClose(0, 99), haClose(1, 100)}

	signals, state, err := det.Detect(frames, bars, nil, DirectionState{Symbol: "SBIN"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}

	sig := signals[0]
	if sig.Type != model.SignalBuy {
		t.Fatalf("expected BUY, got %s", sig.Type)
	}
	if !sig.TS.Equal(ts(1)) {
		t.Errorf("signal not on the crossing bar: %v", sig.TS)
	}
	assertClose(t, "entry", sig.Entry, 100)
	assertClose(t, "sl", sig.SL, 99.8-3) // lower band
	assertClose(t, "atr", sig.ATR, 2)
	assertClose(t, "tp1", sig.TP1, 102)
	assertClose(t, "tp2", sig.TP2, 104)
	assertClose(t, "tp3", sig.TP3, 106)
	if sig.Status != model.StatusNew {
		t.Errorf("expected NEW status, got %s", sig.Status)
	}
	if sig.MTFA != model.MTFAUnknown {
		t.Errorf("expected MTFA unknown without higher-TF data, got %s", sig.MTFA)
	}
	if state.LastDirection != model.SignalBuy {
		t.Errorf("state not advanced: %s", state.LastDirection)
	}
}

func TestDetect_SellUsesUpperBandAndNegativeTargets(t *testing.T) {
	det, _ := NewDetector(testParams(), false)

	frames := []indicator.Frame{
		frame(0, 100.5, 2, 3), // prev close 101 >= trend 100.5
		frame(1, 100.2, 2, 3), // cur close 100 < trend 100.2
	}
	bars := []model.HeikinAshiBar{haClose(0, 101), haClose(1, 100)}

	signals, _, err := det.Detect(frames, bars, nil, DirectionState{Symbol: "SBIN"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(signals) != 1 || signals[0].Type != model.SignalSell {
		t.Fatalf("expected one SELL, got %+v", signals)
	}
	sig := signals[0]
	assertClose(t, "sell sl", sig.SL, 100.2+3) // upper band
	assertClose(t, "sell tp1", sig.TP1, 98)
	assertClose(t, "sell tp3", sig.TP3, 94)
}

func TestDetect_TargetOffset(t *testing.T) {
	p := testParams()
	p.TargetOffset = 1 // each target steps 2x the ATR value
	det, _ := NewDetector(p, false)

	frames := []indicator.Frame{frame(0, 99.5, 2, 3), frame(1, 99.8, 2, 3)}
	bars := []model.HeikinAshiBar{haClose(0, 99), haClose(1, 100)}

	signals, _, err := det.Detect(frames, bars, nil, DirectionState{Symbol: "SBIN"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	assertClose(t, "offset tp1", signals[0].TP1, 104)
	assertClose(t, "offset tp2", signals[0].TP2, 108)
	assertClose(t, "offset tp3", signals[0].TP3, 112)
}

func TestDetect_EdgeTriggered(t *testing.T) {
	// Up-cross, dip back under without a signal-worthy cross being allowed
	// to re-fire in the same direction, up-cross again, then a down-cross.
	// Only the first BUY and the final SELL may emit.
	det, _ := NewDetector(testParams(), false)

	seq := []struct {
		close float64
	}{
		{99},    // below trend
		{101},   // up-cross → BUY
		{100.5}, // above trend, no cross
		{99},    // down-cross → SELL (direction change)
		{101},   // up-cross → BUY again (direction change)
		{100.5}, // no cross
		{99},    // down-cross → SELL
		{101},   // up-cross → BUY
	}
	var fr []indicator.Frame
	var bars []model.HeikinAshiBar
	for i, s := range seq {
		fr = append(fr, frame(i, 100, 2, 3))
		bars = append(bars, haClose(i, s.close))
	}

	signals, _, err := det.Detect(fr, bars, nil, DirectionState{Symbol: "SBIN"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	want := []model.SignalType{model.SignalBuy, model.SignalSell, model.SignalBuy, model.SignalSell, model.SignalBuy}
	if len(signals) != len(want) {
		t.Fatalf("expected %d signals, got %d: %+v", len(want), len(signals), signals)
	}
	for i, w := range want {
		if signals[i].Type != w {
			t.Errorf("signal %d: got %s, want %s", i, signals[i].Type, w)
		}
	}
}

func TestDetect_SameDirectionCrossSuppressed(t *testing.T) {
	// Resumed state says the last signal was a BUY; the first up-cross in
	// this batch must not re-emit.
	det, _ := NewDetector(testParams(), false)

	fr := []indicator.Frame{frame(0, 100, 2, 3), frame(1, 100, 2, 3)}
	bars := []model.HeikinAshiBar{haClose(0, 99), haClose(1, 101)}

	state := DirectionState{Symbol: "SBIN", LastDirection: model.SignalBuy}
	signals, _, err := det.Detect(fr, bars, nil, state)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected resumed BUY state to suppress up-cross, got %+v", signals)
	}
}

func TestDetect_UndefinedFrameFails(t *testing.T) {
	det, _ := NewDetector(testParams(), false)

	fr := []indicator.Frame{frame(0, 100, 2, 3), {TS: ts(1)}} // second frame undefined
	bars := []model.HeikinAshiBar{haClose(0, 99), haClose(1, 101)}

	_, _, err := det.Detect(fr, bars, nil, DirectionState{Symbol: "SBIN"})
	if err != ErrInsufficientIndicatorData {
		t.Fatalf("expected ErrInsufficientIndicatorData, got %v", err)
	}
}

func TestDetect_HoldEmission(t *testing.T) {
	det, _ := NewDetector(testParams(), true)

	fr := []indicator.Frame{frame(0, 100, 2, 3), frame(1, 100, 2, 3), frame(2, 100, 2, 3)}
	bars := []model.HeikinAshiBar{haClose(0, 99), haClose(1, 98.5), haClose(2, 101)}

	signals, _, err := det.Detect(fr, bars, nil, DirectionState{Symbol: "SBIN"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	// Bar 1 has no cross → HOLD; bar 2 crosses up → BUY.
	if len(signals) != 2 {
		t.Fatalf("expected HOLD+BUY, got %+v", signals)
	}
	if signals[0].Type != model.SignalHold {
		t.Errorf("expected HOLD first, got %s", signals[0].Type)
	}
	if signals[0].Directional() {
		t.Error("HOLD must not be tradable")
	}
	if signals[1].Type != model.SignalBuy {
		t.Errorf("expected BUY second, got %s", signals[1].Type)
	}
}

// ────────────────────────────────────────────────────────────
// MTFA annotation
// ────────────────────────────────────────────────────────────

func TestDetect_MTFA(t *testing.T) {
	det, _ := NewDetector(testParams(), false)

	fr := []indicator.Frame{frame(0, 100, 2, 3), frame(1, 100, 2, 3)}
	bars := []model.HeikinAshiBar{haClose(0, 99), haClose(1, 101)}

	cases := []struct {
		name string
		mtfa []indicator.Frame
		want model.MTFAResult
	}{
		{
			name: "rising higher trend confirms BUY",
			mtfa: []indicator.Frame{frame(0, 98, 2, 3), frame(1, 99, 2, 3)},
			want: model.MTFAConfirmed,
		},
		{
			name: "falling higher trend rejects BUY",
			mtfa: []indicator.Frame{frame(0, 102, 2, 3), frame(1, 101, 2, 3)},
			want: model.MTFARejected,
		},
		{
			name: "no higher data in window",
			mtfa: []indicator.Frame{frame(5, 98, 2, 3), frame(6, 99, 2, 3)}, // all after signal TS
			want: model.MTFAUnknown,
		},
		{
			name: "nil higher series",
			mtfa: nil,
			want: model.MTFAUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signals, _, err := det.Detect(fr, bars, tc.mtfa, DirectionState{Symbol: "SBIN"})
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if len(signals) != 1 {
				t.Fatalf("expected 1 signal, got %d", len(signals))
			}
			if signals[0].MTFA != tc.want {
				t.Errorf("MTFA: got %s, want %s", signals[0].MTFA, tc.want)
			}
		})
	}
}

// ────────────────────────────────────────────────────────────
// Streaming engine
// ────────────────────────────────────────────────────────────

func rawBar(i int, px float64) model.Bar {
	return model.Bar{
		Symbol:    "SBIN",
		Timeframe: "15m",
		TS:        ts(i),
		Open:      px,
		High:      px,
		Low:       px,
		Close:     px,
		Volume:    1000,
	}
}

func TestEngine_EmitsOnCross(t *testing.T) {
	eng, err := NewEngine(testParams(), false, nil, 16)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	prices := []float64{100, 100, 100, 110, 110, 90}
	var got []model.SignalType
	for i, px := range prices {
		sig, err := eng.OnBar(rawBar(i, px))
		if err != nil {
			t.Fatalf("OnBar %d: %v", i, err)
		}
		if sig != nil {
			got = append(got, sig.Type)
		}
	}

	want := []model.SignalType{model.SignalBuy, model.SignalSell}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signal %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if eng.State("SBIN").LastDirection != model.SignalSell {
		t.Errorf("engine state not updated: %+v", eng.State("SBIN"))
	}
}

// Edge-trigger invariant under an arbitrary random walk: the engine never
// emits two consecutive same-direction tradable signals for one symbol.
func TestEngine_AlternationInvariant(t *testing.T) {
	eng, err := NewEngine(testParams(), false, nil, 1024)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	px := 100.0
	var last model.SignalType
	for i := 0; i < 500; i++ {
		px += rng.Float64()*4 - 2
		sig, err := eng.OnBar(rawBar(i, px))
		if err != nil {
			t.Fatalf("OnBar %d: %v", i, err)
		}
		if sig == nil || !sig.Directional() {
			continue
		}
		if sig.Type == last {
			t.Fatalf("bar %d: consecutive %s signals without opposite cross", i, sig.Type)
		}
		last = sig.Type
	}
}

// ────────────────────────────────────────────────────────────
// Direction state restore
// ────────────────────────────────────────────────────────────

type stubSignalStore struct {
	last *model.SignalRecord
}

func (s *stubSignalStore) SaveSignal(context.Context, *model.SignalRecord) error { return nil }
func (s *stubSignalStore) UpdateSignalStatus(context.Context, int64, model.SignalStatus) error {
	return nil
}
func (s *stubSignalStore) Signals(context.Context, string, int) ([]model.SignalRecord, error) {
	return nil, nil
}
func (s *stubSignalStore) LastDirectional(context.Context, string) (*model.SignalRecord, error) {
	return s.last, nil
}

func TestRestoreDirection(t *testing.T) {
	store := &stubSignalStore{
		last: &model.SignalRecord{Symbol: "SBIN", Type: model.SignalSell, TS: ts(9)},
	}

	state, err := RestoreDirection(context.Background(), store, "SBIN")
	if err != nil {
		t.Fatalf("RestoreDirection: %v", err)
	}
	if state.LastDirection != model.SignalSell {
		t.Errorf("got %s, want SELL", state.LastDirection)
	}
	if !state.LastSignalTS.Equal(ts(9)) {
		t.Errorf("timestamp not restored: %v", state.LastSignalTS)
	}

	state, err = RestoreDirection(context.Background(), &stubSignalStore{}, "FRESH")
	if err != nil {
		t.Fatalf("RestoreDirection fresh: %v", err)
	}
	if state.LastDirection != "" {
		t.Errorf("fresh symbol should start flat, got %s", state.LastDirection)
	}
}
