package tcd

import "github.com/aswf/go-jpeg2000/internal/ratecontrol"

// LayerTarget mirrors ratecontrol.LayerTarget so callers outside this
// module don't need to import internal/ratecontrol directly.
type LayerTarget = ratecontrol.LayerTarget

// RateControlParams bundles the tile-wide PCRD inputs from spec.md's
// Parameters bundle (disto_alloc, fixed_quality, rateControlAlgorithm,
// max_cs_size/max_comp_size) that internal/ratecontrol needs beyond the
// per-codeblock pass tables.
type RateControlParams struct {
	Algorithm       ratecontrol.Algorithm
	DistoAlloc      bool
	FixedQuality    bool
	MaxSE           float64
	MaxBytes        int
	Targets         []LayerTarget
}

// allCodeBlocks walks every codeblock in a tile in a fixed, deterministic
// order (component, resolution, band, codeblock), matching the nesting
// TileProcessor.cpp's makelayer_feasible/make_layer_simple iterate in
// (compno/resno/bandno/precno/cblkno), flattened since PCRD operates
// tile-wide and does not need precinct boundaries.
func allCodeBlocks(tile *Tile) []*CodeBlock {
	var cbs []*CodeBlock
	for _, tc := range tile.Components {
		for _, res := range tc.Resolutions {
			if res == nil {
				continue
			}
			for _, band := range res.Bands {
				cbs = append(cbs, band.CodeBlocks...)
			}
		}
	}
	return cbs
}

// TileDistortion sums the final cumulative distortion decrease recorded
// for every codeblock in the tile, i.e. tcd_tile->distotile in the
// source: the total achievable distortion reduction if every encoded
// pass of every codeblock were included.
func TileDistortion(tile *Tile) float64 {
	total := 0.0
	for _, cb := range allCodeBlocks(tile) {
		if n := len(cb.Passes); n > 0 {
			total += cb.Passes[n-1].Distortion
		}
	}
	return total
}

// FormTileLayers runs PCRD bisection (internal/ratecontrol) over every
// codeblock in the tile that was encoded with EncodeCodeBlockWithPasses
// (i.e. has a non-empty Passes table with rate/distortion info), and
// records the result back onto each codeblock's LayerCumPasses.
//
// Codeblocks with no passes (e.g. all-zero blocks, or HTJ2K blocks which
// do not participate in PCRD) are left with a nil LayerCumPasses; Tier-2
// falls back to the all-or-nothing IncludedInLayers scheme for those.
func FormTileLayers(tile *Tile, params RateControlParams) {
	cbs := allCodeBlocks(tile)

	var rcBlocks []*ratecontrol.Codeblock
	var targets []*CodeBlock
	for _, cb := range cbs {
		if len(cb.Passes) == 0 {
			continue
		}
		passes := make([]ratecontrol.Pass, len(cb.Passes))
		for i, p := range cb.Passes {
			passes[i] = ratecontrol.Pass{Rate: p.CumulativeLength, Distortion: p.Distortion}
		}
		rcBlocks = append(rcBlocks, ratecontrol.NewCodeblock(passes))
		targets = append(targets, cb)
	}
	if len(rcBlocks) == 0 {
		return
	}

	result := ratecontrol.FormLayers(rcBlocks, params.Targets, ratecontrol.Params{
		Algorithm:       params.Algorithm,
		DistoAlloc:      params.DistoAlloc,
		FixedQuality:    params.FixedQuality,
		MaxSE:           params.MaxSE,
		TotalDistortion: TileDistortion(tile),
		MaxBytes:        params.MaxBytes,
	})

	numLayers := len(params.Targets)
	for ci, cb := range targets {
		cb.LayerCumPasses = make([]int, numLayers)
		cum := 0
		for l := 0; l < numLayers; l++ {
			cum += result[l][ci]
			cb.LayerCumPasses[l] = cum
		}
	}
}
