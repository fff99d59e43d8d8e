// Package ratecontrol implements PCRD-opt, the post-compression
// rate-distortion optimization that decides which Tier-1 coding passes
// enter which quality layer.
//
// The bisection driver and the two layer-formation strategies (simple
// and feasible) are grounded on TileProcessor::pcrd_bisect_simple,
// TileProcessor::pcrd_bisect_feasible, TileProcessor::make_layer_simple
// and TileProcessor::makelayer_feasible from the retrieved grok/openjp2
// TileProcessor.cpp source: the teacher module has no PCRD implementation
// of its own (it derives a QCD step size from a Quality option instead),
// so this package is authored fresh in the teacher's idiom (exported
// constructor, table-driven tests, Result-shaped errors are unnecessary
// here since the algorithm cannot fail).
package ratecontrol

import "math"

// Algorithm selects which PCRD layer-formation strategy is used.
type Algorithm int

const (
	// Simple bisects over every rate/distortion slope encountered in any
	// coding pass of any codeblock.
	Simple Algorithm = iota
	// Feasible restricts the bisection to the convex-hull truncation
	// points computed per codeblock, which lets layer formation break
	// out of a codeblock's pass loop as soon as the threshold is no
	// longer met (hull slopes are monotonically decreasing).
	Feasible
)

// Pass is one Tier-1 coding pass' cumulative rate and distortion, as
// produced for a single codeblock. Rate and Distortion must be
// cumulative (through this pass, from the start of the codeblock) and
// non-decreasing, per invariant I2.
type Pass struct {
	Rate       int     // cumulative bytes through this pass
	Distortion float64 // cumulative decoded distortion reduction through this pass
}

// Codeblock holds one codeblock's ordered passes plus the bookkeeping
// PCRD needs to track how many passes have already been committed to
// earlier layers.
type Codeblock struct {
	passes   []codeblockPass
	included int // num_passes_included_in_previous_layers
}

type codeblockPass struct {
	Pass
	slope float64
}

// NewCodeblock builds a Codeblock from a Tier-1 pass list and computes
// each pass' rate-distortion slope (the incremental distortion decrease
// per incremental byte spent), grounded on the dr/dd computation in
// pcrd_bisect_simple.
func NewCodeblock(passes []Pass) *Codeblock {
	cb := &Codeblock{passes: make([]codeblockPass, len(passes))}
	prevRate, prevDisto := 0, 0.0
	for i, p := range passes {
		dr := p.Rate - prevRate
		dd := p.Distortion - prevDisto
		slope := 0.0
		if dr > 0 {
			slope = dd / float64(dr)
		}
		cb.passes[i] = codeblockPass{Pass: p, slope: slope}
		prevRate, prevDisto = p.Rate, p.Distortion
	}
	return cb
}

// ConvexHull restricts the codeblock's passes to the upper rate-distortion
// convex hull: passes whose slope does not strictly decrease relative to
// the hull built so far are dropped (their slope reset to 0, mirroring
// RateControl::convexHull's "not a feasible truncation point" marking).
// Only meaningful for the Feasible algorithm.
func (cb *Codeblock) ConvexHull() {
	n := len(cb.passes)
	if n == 0 {
		return
	}
	rate := make([]float64, n+1)
	disto := make([]float64, n+1)
	for i, p := range cb.passes {
		rate[i+1] = float64(p.Rate)
		disto[i+1] = p.Distortion
	}
	slope := func(a, b int) float64 {
		dr := rate[b] - rate[a]
		if dr <= 0 {
			return math.Inf(-1)
		}
		return (disto[b] - disto[a]) / dr
	}

	hull := []int{0}
	for i := 1; i <= n; i++ {
		for len(hull) >= 2 {
			a, b := hull[len(hull)-2], hull[len(hull)-1]
			if slope(b, i) >= slope(a, b) {
				hull = hull[:len(hull)-1]
				continue
			}
			break
		}
		hull = append(hull, i)
	}

	onHull := make([]bool, n+1)
	for _, idx := range hull {
		onHull[idx] = true
	}
	for i := range cb.passes {
		cb.passes[i].slope = 0
	}
	for k := 1; k < len(hull); k++ {
		prev, cur := hull[k-1], hull[k]
		cb.passes[cur-1].slope = slope(prev, cur)
	}
}

func (cb *Codeblock) prepareForLayer(layno int) {
	if layno == 0 {
		cb.included = 0
	}
}

// stats is the rate/distortion contribution of one trial or final layer.
type stats struct {
	newPasses  int
	length     int
	distortion float64
}

func (cb *Codeblock) formLayerSimple(layno int, thresh float64, final bool) stats {
	cb.prepareForLayer(layno)
	n := len(cb.passes)
	upTo := cb.included
	if thresh == 0 {
		upTo = n
	} else {
		for passno := cb.included; passno < n; passno++ {
			var dr int
			var dd float64
			if upTo == 0 {
				dr = cb.passes[passno].Rate
				dd = cb.passes[passno].Distortion
			} else {
				dr = cb.passes[passno].Rate - cb.passes[upTo-1].Rate
				dd = cb.passes[passno].Distortion - cb.passes[upTo-1].Distortion
			}
			if dr == 0 {
				if dd != 0 {
					upTo = passno + 1
				}
				continue
			}
			slope := dd / float64(dr)
			if thresh <= slope {
				upTo = passno + 1
			}
		}
	}
	return cb.commit(upTo, final)
}

func (cb *Codeblock) formLayerFeasible(layno int, thresh float64, final bool) stats {
	cb.prepareForLayer(layno)
	n := len(cb.passes)
	upTo := cb.included
	for passno := cb.included; passno < n; passno++ {
		s := cb.passes[passno].slope
		if s == 0 {
			continue
		}
		if s <= thresh {
			break
		}
		upTo = passno + 1
	}
	return cb.commit(upTo, final)
}

func (cb *Codeblock) commit(upTo int, final bool) stats {
	numNew := upTo - cb.included
	var st stats
	if numNew > 0 {
		if cb.included == 0 {
			st.length = cb.passes[upTo-1].Rate
			st.distortion = cb.passes[upTo-1].Distortion
		} else {
			st.length = cb.passes[upTo-1].Rate - cb.passes[cb.included-1].Rate
			st.distortion = cb.passes[upTo-1].Distortion - cb.passes[cb.included-1].Distortion
		}
		st.newPasses = numNew
	}
	if final {
		cb.included = upTo
	}
	return st
}

func (cb *Codeblock) formLayer(alg Algorithm, layno int, thresh float64, final bool) stats {
	if alg == Feasible {
		return cb.formLayerFeasible(layno, thresh, final)
	}
	return cb.formLayerSimple(layno, thresh, final)
}

// LayerTarget describes one layer's rate or quality target, mirroring
// spec.md's rates[]/distoratio[] parameters.
type LayerTarget struct {
	// Rate is the layer's byte budget. 0 means "no rate target for this
	// layer" (include everything not yet included, per
	// layer_needs_rate_control).
	Rate float64
	// DistoRatio is the layer's target PSNR in dB. 0 means "no quality
	// target for this layer".
	DistoRatio float64
}

// Params bundles the tile-wide inputs the bisection needs beyond the
// per-codeblock pass lists.
type Params struct {
	Algorithm Algorithm
	// DistoAlloc selects fixed-rate layer targets (Rate fields are used).
	DistoAlloc bool
	// FixedQuality selects fixed-quality layer targets (DistoRatio fields
	// are used). DistoAlloc and FixedQuality are not mutually exclusive
	// in principle, but layer_needs_rate_control ORs them, so setting
	// only one is the common case.
	FixedQuality bool
	// MaxSE is the sum over components of (2^prec - 1)^2 * numpix, used
	// to convert a target PSNR into a target distortion.
	MaxSE float64
	// TotalDistortion is the tile's total achievable distortion (the sum
	// of every codeblock's final cumulative distortion).
	TotalDistortion float64
	// MaxBytes caps the byte length considered by the fixed-rate
	// feasibility check (e.g. max_cs_size/max_comp_size); 0 means
	// unlimited.
	MaxBytes int
}

func layerNeedsRateControl(p Params, t LayerTarget) bool {
	return (p.DistoAlloc && t.Rate > 0) || (p.FixedQuality && t.DistoRatio > 0)
}

// FormLayers runs PCRD bisection over every layer target and returns, for
// each layer and each codeblock (in the order cbs was given), the number
// of NEW coding passes that codeblock contributes to that layer.
// result[layer][codeblockIndex] sums over layer to len(cbs[i].passes).
//
// This mirrors TileProcessor::pcrd_bisect_simple / pcrd_bisect_feasible,
// including the "single lossless layer" special case (numlayers==1 with
// no rate or quality target: every pass of every codeblock is included
// unconditionally) and the "conservative" choice of always emitting the
// threshold guaranteed not to exceed the budget (the upper bisection
// bound), per spec.md's DESIGN NOTES resolution of the open question
// about upperBound==-1 handling: this implementation always tracks
// upperBound as a real (non-sentinel) float and emits it directly,
// unifying the "never hit" fallback the source's simple variant needs
// for its -1 sentinel.
//
// One simplification from the source: the fixed-rate feasibility check
// here sums codeblock pass-rate deltas directly rather than invoking a
// full Tier-2 packet-header simulation, so it ignores packet-header
// overhead (inclusion/IMSB tag-tree bits, pass-count and length fields).
// That overhead is a small, roughly constant-per-packet cost; see
// DESIGN.md for the full rationale.
func FormLayers(cbs []*Codeblock, targets []LayerTarget, p Params) [][]int {
	numLayers := len(targets)
	result := make([][]int, numLayers)
	for i := range result {
		result[i] = make([]int, len(cbs))
	}
	if numLayers == 0 {
		return result
	}

	singleLossless := numLayers == 1 && !layerNeedsRateControl(p, targets[0])
	if singleLossless {
		for ci, cb := range cbs {
			st := cb.formLayer(p.Algorithm, 0, 0, true)
			result[0][ci] = st.newPasses
		}
		return result
	}

	for _, cb := range cbs {
		if p.Algorithm == Feasible {
			cb.ConvexHull()
		}
	}

	minSlope, maxSlope := slopeBounds(cbs)

	var cumDisto float64
	upperBound := maxSlope
	for layno, target := range targets {
		if !layerNeedsRateControl(p, target) {
			for ci, cb := range cbs {
				st := cb.formLayer(p.Algorithm, layno, 0, true)
				result[layno][ci] = st.newPasses
			}
			continue
		}

		lowerBound := minSlope
		distoTarget := p.TotalDistortion - (maxSEScale(p.MaxSE) / math.Pow(10, target.DistoRatio/10))

		var thresh, prevThresh float64
		prevSet := false
		for i := 0; i < 128; i++ {
			thresh = (lowerBound + upperBound) / 2
			if prevSet && math.Abs(prevThresh-thresh) < 0.001 {
				break
			}
			prevThresh = thresh
			prevSet = true

			var layerDisto float64
			var totalLen int
			for _, cb := range cbs {
				st := cb.formLayer(p.Algorithm, layno, thresh, false)
				layerDisto += st.distortion
				totalLen += st.length
			}

			if p.FixedQuality {
				distoAchieved := cumDisto + layerDisto
				if distoAchieved < distoTarget {
					upperBound = thresh
					continue
				}
				lowerBound = thresh
			} else {
				maxLen := p.MaxBytes
				if target.Rate > 0 {
					rateCap := int(math.Ceil(target.Rate))
					if p.MaxBytes == 0 || rateCap < p.MaxBytes {
						maxLen = rateCap
					}
				}
				if maxLen > 0 && totalLen > maxLen {
					lowerBound = thresh
					continue
				}
				upperBound = thresh
			}
		}

		// Conservative: the upper bound is guaranteed not to exceed the
		// layer's rate budget.
		goodThresh := upperBound
		var layerDisto float64
		for ci, cb := range cbs {
			st := cb.formLayer(p.Algorithm, layno, goodThresh, true)
			result[layno][ci] = st.newPasses
			layerDisto += st.distortion
		}
		cumDisto += layerDisto
		upperBound = lowerBound - epsilon(minSlope, maxSlope)
	}
	return result
}

// epsilon picks a step small relative to the slope range so that the
// next layer's bisection starting upper bound stays strictly below
// lowerBound without collapsing the search interval for slope ranges
// much smaller than 1 (the source decrements an integer-quantized slope
// by exactly 1; this generalizes that to real-valued slopes).
func epsilon(minSlope, maxSlope float64) float64 {
	span := maxSlope - minSlope
	if span <= 0 {
		return 1e-9
	}
	return span * 1e-6
}

// maxSEScale exists purely to keep the K constant from the source
// (K=1 in both pcrd_bisect_simple and pcrd_bisect_feasible) visible at
// the call site without hardcoding a bare multiply.
func maxSEScale(maxSE float64) float64 {
	const k = 1.0
	return k * maxSE
}

func slopeBounds(cbs []*Codeblock) (min, max float64) {
	min, max = math.MaxFloat64, -1.0
	seen := false
	for _, cb := range cbs {
		for _, p := range cb.passes {
			if p.slope <= 0 {
				continue
			}
			if p.slope < min {
				min = p.slope
			}
			if p.slope > max {
				max = p.slope
			}
			seen = true
		}
	}
	if !seen {
		return 0, 0
	}
	return min, max
}
