package detect

import (
	"math"
	"testing"
)

func TestDesignBandpass_ProducesFourthOrderFilter(t *testing.T) {
	f := designBandpass(0.1, 1.0, 25.0)
	// A 4th-order bandpass filter (prototypeOrder=2, doubled by lp2bp) has
	// 5 numerator and 5 denominator coefficients.
	if len(f.b) != 5 {
		t.Errorf("got %d numerator coefficients, want 5", len(f.b))
	}
	if len(f.a) != 5 {
		t.Errorf("got %d denominator coefficients, want 5", len(f.a))
	}
}

func TestDesignBandpass_NormalizedDenominator(t *testing.T) {
	f := designBandpass(0.1, 1.0, 25.0)
	if math.Abs(f.a[0]-1) > 1e-9 {
		t.Errorf("a[0] = %v, want 1 (normalized)", f.a[0])
	}
}

func TestDesignBandpass_RejectsDC(t *testing.T) {
	// A bandpass filter should strongly attenuate DC (constant input).
	f := designBandpass(0.1, 1.0, 25.0)
	const n = 200
	x := make([]float64, n)
	for i := range x {
		x[i] = 1.0
	}
	y := lfilter(f.b, f.a, x)
	tail := y[n-20:]
	var maxAbs float64
	for _, v := range tail {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs > 0.05 {
		t.Errorf("expected near-zero steady-state response to DC input, got max |y|=%v", maxAbs)
	}
}

func TestFiltfilt_PreservesLength(t *testing.T) {
	f := designBandpass(0.1, 1.0, 25.0)
	x := make([]float64, 300)
	for i := range x {
		x[i] = float64(i % 7)
	}
	y := filtfilt(f, x)
	if len(y) != len(x) {
		t.Fatalf("got length %d, want %d", len(y), len(x))
	}
}

func TestOddExtend_PreservesInterior(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	padded := oddExtend(x, 2)
	if len(padded) != len(x)+4 {
		t.Fatalf("got length %d, want %d", len(padded), len(x)+4)
	}
	for i, v := range x {
		if padded[i+2] != v {
			t.Errorf("interior[%d] = %v, want %v", i, padded[i+2], v)
		}
	}
}
