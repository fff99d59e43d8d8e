package entropy

import "math"

// Pass type constants, mirrored from internal/tcd so callers need not
// import tcd just to interpret PassInfo.Type.
const (
	PassTypeSignificance = iota
	PassTypeRefinement
	PassTypeCleanup
)

// Distortion-decrease weights per newly-coded/refined sample at a given
// bit-plane, grounded on the nmsedec sig/ref constants used by
// t1_encode.h's getnmsedec_sig/getnmsedec_ref (declared but not defined
// in the retrieved grok source; the 1/2 and 3/8 constants are the
// well-known values used by the reference JPEG 2000 encoders for the
// MSE reduction a newly-significant or newly-refined sample contributes
// at bit-plane bp, scaled by 2^(2*bp) and the subband quantization step
// squared).
const (
	sigDistoWeight = 0.5
	refDistoWeight = 0.375
)

// PassInfo records one coding pass' cumulative rate and distortion
// decrease, the inputs PCRD layer formation (internal/ratecontrol)
// needs to pick a rate-distortion slope threshold per layer.
type PassInfo struct {
	Type       int
	Rate       int     // cumulative bytes through this pass
	Distortion float64 // cumulative distortion decrease through this pass
	Terminated bool
}

// EncodeWithPasses encodes a code-block exactly like Encode, but also
// returns a per-pass rate/distortion record suitable for PCRD layer
// formation. It is slower than Encode (it rescans the significance
// flags after every pass) and is meant for the rate-controlled encode
// path, not the hot single-layer path.
//
// stepSize is the subband's quantization step size (spec.md invariant
// I5); it scales the distortion-decrease estimate. Pass 1 (rev 5/3)
// callers should pass 1.0.
func (t *T1) EncodeWithPasses(bandType int, stepSize float64) ([]byte, []PassInfo) {
	t.bandType = bandType
	t.resetMQInlined()

	maxVal := int32(0)
	for _, v := range t.data {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal == 0 {
		return nil, nil
	}
	t.numBPS = int(math.Ceil(math.Log2(float64(maxVal + 1))))

	passes := make([]PassInfo, 0, t.numBPS*3)
	cumDisto := 0.0
	step2 := stepSize * stepSize

	for bp := t.numBPS - 1; bp >= 0; bp-- {
		weight := step2 * math.Pow(2, float64(2*bp))

		sigBefore := t.countSignificant()
		t.encodeSignificancePassInlined(bp)
		sigAfterSig := t.countSignificant()
		cumDisto += float64(sigAfterSig-sigBefore) * sigDistoWeight * weight
		passes = append(passes, PassInfo{Type: PassTypeSignificance, Rate: t.mqBp, Distortion: cumDisto})

		t.encodeMagnitudeRefinementPassInlined(bp)
		cumDisto += float64(sigBefore) * refDistoWeight * weight
		passes = append(passes, PassInfo{Type: PassTypeRefinement, Rate: t.mqBp, Distortion: cumDisto})

		t.encodeCleanupPassInlined(bp)
		sigAfterCleanup := t.countSignificant()
		cumDisto += float64(sigAfterCleanup-sigAfterSig) * sigDistoWeight * weight
		passes = append(passes, PassInfo{Type: PassTypeCleanup, Rate: t.mqBp, Distortion: cumDisto})
	}

	data := t.mqFlushInlined()
	if n := len(passes); n > 0 {
		passes[n-1].Terminated = true
		finalRate := len(data)
		if finalRate < passes[n-1].Rate {
			finalRate = passes[n-1].Rate
		}
		passes[n-1].Rate = finalRate
	}
	return data, passes
}

// countSignificant returns the number of coefficients currently marked
// significant. It only scans the interior (non-border) region.
func (t *T1) countSignificant() int {
	n := 0
	width := t.width
	for y := 0; y < t.height; y++ {
		base := (y+1)*(width+2) + 1
		row := t.flags[base : base+width]
		for _, f := range row {
			if f&T1Sig != 0 {
				n++
			}
		}
	}
	return n
}
