package detect

import (
	"math"
	"math/cmplx"
)

// prototypeOrder is the analog lowpass Butterworth prototype order passed
// to the bandpass transform. A bandpass design doubles the prototype order,
// so prototypeOrder=2 yields the 4th-order bandpass filter spec.md §4.3.1
// calls for — the same parameter original_source's preprocessFieldsums()
// passes to scipy.signal.butter(2, ..., btype='band').
const prototypeOrder = 2

// bandpassFilter holds digital filter coefficients for a direct-form II
// transposed implementation, both normalized so a[0] == 1.
type bandpassFilter struct {
	b []float64
	a []float64
}

// designBandpass builds a digital Butterworth bandpass filter with cutoffs
// low and high Hz at sample rate fps Hz. This follows the same zpk pipeline
// scipy.signal.butter uses internally: an analog lowpass prototype (buttap),
// an analog lowpass-to-bandpass transform (lp2bp_zpk), then the bilinear
// transform to the digital domain (bilinear_zpk), followed by expanding the
// zero/pole/gain form into transfer-function coefficients (zpk2tf).
func designBandpass(low, high, fps float64) bandpassFilter {
	fs2 := 2 * fps
	warp := func(freqHz float64) float64 {
		return fs2 * math.Tan(math.Pi*freqHz/fps)
	}
	wl := warp(low)
	wh := warp(high)
	bw := wh - wl
	w0 := math.Sqrt(wl * wh)

	protoZeros, protoPoles := buttap(prototypeOrder)
	bpZeros, bpPoles, bpGain := lp2bp(protoZeros, protoPoles, w0, bw)
	digZeros, digPoles, digGain := bilinear(bpZeros, bpPoles, bpGain, fs2)

	b := realPoly(polyFromRoots(digZeros))
	a := realPoly(polyFromRoots(digPoles))
	for i := range b {
		b[i] *= digGain
	}

	return bandpassFilter{b: b, a: a}
}

// buttap returns the zeros and poles of the analog Butterworth lowpass
// prototype of order n, normalized to unit cutoff frequency and unit DC
// gain. There are no finite zeros; all n zeros lie at infinity.
func buttap(n int) (zeros, poles []complex128) {
	poles = make([]complex128, n)
	for k := 0; k < n; k++ {
		m := float64(-n + 1 + 2*k)
		theta := math.Pi * m / (2 * float64(n))
		poles[k] = -complex(math.Cos(theta), math.Sin(theta))
	}
	return nil, poles
}

// lp2bp applies the analog lowpass-to-bandpass transform with center
// frequency w0 and bandwidth bw (both rad/s), matching scipy's
// lp2bp_zpk: s_lp = (s^2 + w0^2) / (s * bw).
func lp2bp(zeros, poles []complex128, w0, bw float64) (bpZeros, bpPoles []complex128, gain float64) {
	degree := len(poles) - len(zeros)

	transform := func(roots []complex128) []complex128 {
		out := make([]complex128, 0, 2*len(roots))
		for _, r := range roots {
			scaled := r * complex(bw/2, 0)
			disc := cmplx.Sqrt(scaled*scaled - complex(w0*w0, 0))
			out = append(out, scaled+disc, scaled-disc)
		}
		return out
	}

	bpPoles = transform(poles)
	bpZeros = transform(zeros)
	for i := 0; i < degree; i++ {
		bpZeros = append(bpZeros, 0)
	}

	gain = math.Pow(bw, float64(degree))
	return bpZeros, bpPoles, gain
}

// bilinear applies the bilinear transform (with pre-warped fs2 = 2*fs) to
// carry analog zeros/poles/gain into the digital domain, matching scipy's
// bilinear_zpk.
func bilinear(zeros, poles []complex128, gain float64, fs2 float64) (digZeros, digPoles []complex128, digGain float64) {
	degree := len(poles) - len(zeros)

	transform := func(roots []complex128) []complex128 {
		out := make([]complex128, len(roots))
		for i, r := range roots {
			out[i] = (complex(fs2, 0) + r) / (complex(fs2, 0) - r)
		}
		return out
	}

	digPoles = transform(poles)
	digZeros = transform(zeros)
	for i := 0; i < degree; i++ {
		digZeros = append(digZeros, -1)
	}

	numProd := complex(1, 0)
	for _, z := range zeros {
		numProd *= complex(fs2, 0) - z
	}
	denProd := complex(1, 0)
	for _, p := range poles {
		denProd *= complex(fs2, 0) - p
	}
	digGain = gain * real(numProd/denProd)

	return digZeros, digPoles, digGain
}

// polyFromRoots expands prod(x - r) for r in roots into monic polynomial
// coefficients, highest degree first.
func polyFromRoots(roots []complex128) []complex128 {
	coeffs := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}
	return coeffs
}

// realPoly drops the (numerically negligible) imaginary part left over from
// complex arithmetic on a polynomial whose roots come in conjugate pairs.
func realPoly(coeffs []complex128) []float64 {
	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = real(c)
	}
	return out
}
