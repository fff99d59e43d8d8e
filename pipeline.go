package jpeg2000

import (
	"github.com/aswf/go-jpeg2000/internal/codestream"
	"github.com/aswf/go-jpeg2000/internal/geometry"
	"github.com/aswf/go-jpeg2000/internal/tcd"
)

// buildTileTree builds a tile's geometry (internal/geometry) and the
// pointer-linked tree internal/tcd's Tier-2 packet coder walks, for one
// tile index. The two trees share the same TileComponent.Data slice, so
// running the forward or inverse DWT against the geometry tree's
// component data is immediately visible through the tcd tree used for
// packetization.
//
// internal/geometry's own coordinates are tile-component-local (see
// buildResolution), matching the buffer layout internal/dwt's
// multi-level transform actually produces, so no further coordinate
// translation is needed when bridging the two trees.
func buildTileTree(h *codestream.Header, tileIndex int) (*geometry.Tile, *tcd.Tile) {
	gt := geometry.Build(h, tileIndex)

	tt := &tcd.Tile{
		Index:      gt.Index,
		X0:         gt.Bounds.X0,
		Y0:         gt.Bounds.Y0,
		X1:         gt.Bounds.X1,
		Y1:         gt.Bounds.Y1,
		Components: make([]*tcd.TileComponent, len(gt.Components)),
	}

	for ci := range gt.Components {
		gc := &gt.Components[ci]
		tc := &tcd.TileComponent{
			Index: gc.Index,
			X0:    gc.Bounds.X0,
			Y0:    gc.Bounds.Y0,
			X1:    gc.Bounds.X1,
			Y1:    gc.Bounds.Y1,
			Data:  gc.Data,
		}
		tc.Resolutions = make([]*tcd.Resolution, len(gc.Resolutions))

		for ri := range gc.Resolutions {
			gr := &gc.Resolutions[ri]
			tr := &tcd.Resolution{
				Level:      gr.Level,
				X0:         gr.Bounds.X0,
				Y0:         gr.Bounds.Y0,
				X1:         gr.Bounds.X1,
				Y1:         gr.Bounds.Y1,
				NumBands:   gr.SubbandCount,
				PrecinctsX: gr.PrecinctsX,
				PrecinctsY: gr.PrecinctsY,
			}
			tr.Bands = make([]*tcd.Band, gr.SubbandCount)

			for bi := 0; bi < gr.SubbandCount; bi++ {
				gs := &gc.Subbands[gr.SubbandStart+bi]
				band := &tcd.Band{
					Type:        gs.Type,
					X0:          gs.Bounds.X0,
					Y0:          gs.Bounds.Y0,
					X1:          gs.Bounds.X1,
					Y1:          gs.Bounds.Y1,
					StepSize:    gs.StepSize,
					CodeBlocksX: gs.CodeblocksX,
					CodeBlocksY: gs.CodeblocksY,
				}
				band.CodeBlocks = make([]*tcd.CodeBlock, len(gs.Codeblocks))
				for cbi := range gs.Codeblocks {
					gcb := &gs.Codeblocks[cbi]
					band.CodeBlocks[cbi] = &tcd.CodeBlock{
						Index: cbi,
						X0:    gcb.Bounds.X0,
						Y0:    gcb.Bounds.Y0,
						X1:    gcb.Bounds.X1,
						Y1:    gcb.Bounds.Y1,
					}
				}
				tr.Bands[bi] = band
			}

			tr.Precincts = make([]*tcd.Precinct, len(gr.Precincts))
			for pi := range gr.Precincts {
				gp := &gr.Precincts[pi]
				prec := &tcd.Precinct{
					Index: pi,
					X0:    gp.Bounds.X0,
					Y0:    gp.Bounds.Y0,
					X1:    gp.Bounds.X1,
					Y1:    gp.Bounds.Y1,
				}
				prec.CodeBlocks = make([][]*tcd.CodeBlock, gr.SubbandCount)
				for bi := 0; bi < gr.SubbandCount; bi++ {
					start := gp.CodeblockStart[bi]
					count := gp.CodeblockCount[bi]
					prec.CodeBlocks[bi] = tr.Bands[bi].CodeBlocks[start : start+count]
				}
				// internal/tcd's packet coder (t2.go) encodes/decodes tag
				// tree values as a plain linear-unary code and never
				// dereferences the tree's node structure; only a non-zero
				// width/height is needed so the (x,y) it derives from a
				// code-block index doesn't divide by zero.
				gw := maxInt(1, gp.CodeblockGridW[0])
				gh := maxInt(1, gp.CodeblockGridH[0])
				prec.InclusionTree = tcd.NewTagTree(gw, gh)
				prec.IMSBTree = tcd.NewTagTree(gw, gh)
				tr.Precincts[pi] = prec
			}

			tc.Resolutions[ri] = tr
		}

		tt.Components[ci] = tc
	}

	return gt, tt
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// maxBitPlanes is the fixed per-codeblock bit-plane budget both the
// encode and decode side derive cb.ZeroBitPlanes/TotalBitPlanes from.
// The standard ties this to each subband's guard bits and quantization
// exponent (Annex E); we use one constant, comfortably above any int32
// magnitude a DWT coefficient can reach, so the wire-signaled
// ZeroBitPlanes value (maxBitPlanes - actual bit-planes used) is always
// non-negative without per-subband bookkeeping the decoder would have
// to reconstruct identically. The cost is a few extra unary bits per
// codeblock in the IMSB tag tree; round-trip correctness, not
// bitstream compactness, is what's being optimized for here.
const maxBitPlanes = 32

// bitPlanes returns ceil(log2(maxAbs(data)+1)), the number of bit-planes
// entropy.T1.EncodeWithPasses will actually code for this codeblock.
func bitPlanes(data []int32) int {
	maxVal := int32(0)
	for _, v := range data {
		av := v
		if av < 0 {
			av = -av
		}
		if av > maxVal {
			maxVal = av
		}
	}
	if maxVal == 0 {
		return 0
	}
	n := 0
	for int32(1)<<uint(n) <= maxVal {
		n++
	}
	return n
}

// extractWindow copies the [x0,x1)x[y0,y1) window of a stride-addressed
// plane into a freshly allocated compact buffer.
func extractWindow(data []int32, stride, x0, y0, x1, y1 int) []int32 {
	w, h := x1-x0, y1-y0
	out := make([]int32, w*h)
	for y := 0; y < h; y++ {
		srcStart := (y0+y)*stride + x0
		copy(out[y*w:(y+1)*w], data[srcStart:srcStart+w])
	}
	return out
}

// scatterWindow writes a compact w*h buffer back into the
// [x0,x1)x[y0,y1) window of a stride-addressed plane.
func scatterWindow(dst []int32, stride, x0, y0, x1, y1 int, src []int32) {
	w := x1 - x0
	for y := 0; y < y1-y0; y++ {
		dstStart := (y0+y)*stride + x0
		copy(dst[dstStart:dstStart+w], src[y*w:(y+1)*w])
	}
}

// copyImageWindow copies one tile-component's samples out of the
// full-image raster img (row stride imgWidth) into a freshly allocated
// tile-local buffer, using the tile-component's absolute bounds.
func copyImageWindow(img []int32, imgWidth, x0, y0, x1, y1 int) []int32 {
	w, h := x1-x0, y1-y0
	out := make([]int32, w*h)
	for y := 0; y < h; y++ {
		srcStart := (y0+y)*imgWidth + x0
		copy(out[y*w:(y+1)*w], img[srcStart:srcStart+w])
	}
	return out
}

// scatterImageWindow is copyImageWindow's inverse, used when reassembling
// decoded tiles into the full-image raster.
func scatterImageWindow(img []int32, imgWidth, x0, y0, x1, y1 int, src []int32) {
	w := x1 - x0
	for y := 0; y < y1-y0; y++ {
		dstStart := (y0+y)*imgWidth + x0
		copy(img[dstStart:dstStart+w], src[y*w:(y+1)*w])
	}
}

// encodeTileCodeBlocks runs the forward DWT on every component of tt
// (whose TileComponent.Data must already hold DC-shifted/MCT'd samples)
// and Tier-1 encodes every codeblock, filling its cb.Passes table, ready for
// internal/tcd.FormTileLayers.
func encodeTileCodeBlocks(h *codestream.Header, tt *tcd.Tile) {
	enc := tcd.NewTileEncoder(h)
	for _, tc := range tt.Components {
		enc.ApplyForwardDWT(tc)
		stride := tc.X1 - tc.X0
		for _, res := range tc.Resolutions {
			for _, band := range res.Bands {
				for _, cb := range band.CodeBlocks {
					window := extractWindow(tc.Data, stride, cb.X0, cb.Y0, cb.X1, cb.Y1)
					enc.EncodeCodeBlockWithPasses(cb, window, band.Type, band.StepSize)
					numBPS := bitPlanes(window)
					cb.TotalBitPlanes = numBPS
					cb.ZeroBitPlanes = maxInt(0, maxBitPlanes-numBPS)
				}
			}
		}
	}
}

// decodeTileCodeBlocks Tier-1 decodes every codeblock that received
// packet data (cb.Data non-empty) and scatters the reconstructed
// coefficients back into each component's coefficient plane, then
// applies the inverse DWT to recover samples.
func decodeTileCodeBlocks(h *codestream.Header, tt *tcd.Tile) {
	dec := tcd.NewTileDecoder(h)
	for _, tc := range tt.Components {
		stride := tc.X1 - tc.X0
		for _, res := range tc.Resolutions {
			for _, band := range res.Bands {
				for _, cb := range band.CodeBlocks {
					if len(cb.Data) == 0 {
						continue
					}
					cb.TotalBitPlanes = maxBitPlanes - cb.ZeroBitPlanes
					dec.DecodeCodeBlock(cb, band.Type)
					scatterWindow(tc.Data, stride, cb.X0, cb.Y0, cb.X1, cb.Y1, cb.Coefficients)
				}
			}
		}
	}
	for _, tc := range tt.Components {
		dec.ApplyInverseDWT(tc)
	}
}

// precinctCounts builds the [component][resolution]{count} shape
// tcd.NewPacketIterator needs to know each resolution's precinct grid
// size while iterating packets in progression order.
func precinctCounts(tt *tcd.Tile) [][][]int {
	out := make([][][]int, len(tt.Components))
	for ci, tc := range tt.Components {
		out[ci] = make([][]int, len(tc.Resolutions))
		for ri, res := range tc.Resolutions {
			out[ci][ri] = []int{len(res.Precincts)}
		}
	}
	return out
}
